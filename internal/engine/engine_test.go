package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	out   map[string][]byte
	err   error
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, f.err
	}
	if out, ok := f.out[name]; ok {
		return out, nil
	}
	return nil, nil
}

const probeJSON = `{
  "streams": [
    {"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
    {"codec_type": "audio", "codec_name": "aac"}
  ],
  "format": {"format_name": "mov,mp4,m4a", "duration": "120.500000", "bit_rate": "4800000"}
}`

func TestProbeParsesMetadata(t *testing.T) {
	runner := &fakeRunner{out: map[string][]byte{"ffprobe": []byte(probeJSON)}}
	eng := NewFFmpeg(FFmpegConfig{}, runner)

	result, err := eng.Probe(context.Background(), "/tmp/in.mp4")
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if result.DurationSeconds != 120.5 {
		t.Errorf("duration = %v", result.DurationSeconds)
	}
	if result.Width != 1920 || result.Height != 1080 {
		t.Errorf("dimensions = %dx%d", result.Width, result.Height)
	}
	if result.VideoCodec != "h264" || result.AudioCodec != "aac" {
		t.Errorf("codecs = %s/%s", result.VideoCodec, result.AudioCodec)
	}
	if result.BitrateKbps != 4800 {
		t.Errorf("bitrate = %d", result.BitrateKbps)
	}
}

func TestProbeRejectsAudioOnly(t *testing.T) {
	audioOnly := `{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"30"}}`
	runner := &fakeRunner{out: map[string][]byte{"ffprobe": []byte(audioOnly)}}
	eng := NewFFmpeg(FFmpegConfig{}, runner)

	if _, err := eng.Probe(context.Background(), "/tmp/in.mp3"); !errors.Is(err, ErrNoVideoStream) {
		t.Fatalf("err = %v, want ErrNoVideoStream", err)
	}
}

func TestProbeRejectsZeroDuration(t *testing.T) {
	noDuration := `{"streams":[{"codec_type":"video","codec_name":"h264","width":640,"height":360}],"format":{}}`
	runner := &fakeRunner{out: map[string][]byte{"ffprobe": []byte(noDuration)}}
	eng := NewFFmpeg(FFmpegConfig{}, runner)

	if _, err := eng.Probe(context.Background(), "/tmp/in.mp4"); err == nil {
		t.Fatal("expected error for missing duration")
	}
}

func TestEncodeRenditionArgs(t *testing.T) {
	runner := &fakeRunner{}
	eng := NewFFmpeg(FFmpegConfig{SegmentSeconds: 10}, runner)
	tier, _ := LookupTier("720p")

	if err := eng.EncodeRendition(context.Background(), "/tmp/in.mp4", "/tmp/out", tier); err != nil {
		t.Fatalf("EncodeRendition: %v", err)
	}
	if len(runner.calls) != 1 {
		t.Fatalf("calls = %d", len(runner.calls))
	}
	joined := strings.Join(runner.calls[0], " ")
	for _, want := range []string{
		"ffmpeg",
		"-hls_time 10",
		"-hls_playlist_type vod",
		"720p_%05d.ts",
		"720p.m3u8",
		"-b:v 2500k",
		"-c:v libx264",
		"-c:a aac",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q in %q", want, joined)
		}
	}
}

func TestExtractFrameClampsOffset(t *testing.T) {
	runner := &fakeRunner{}
	eng := NewFFmpeg(FFmpegConfig{}, runner)

	if err := eng.ExtractFrame(context.Background(), "/tmp/in.mp4", -3, "/tmp/thumb.jpg"); err != nil {
		t.Fatalf("ExtractFrame: %v", err)
	}
	joined := strings.Join(runner.calls[0], " ")
	if !strings.Contains(joined, "-ss 0.00") {
		t.Errorf("offset not clamped: %q", joined)
	}
	if !strings.Contains(joined, "-vframes 1") {
		t.Errorf("expected single frame extraction: %q", joined)
	}
}

func TestRunSurfacesToolFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	eng := NewFFmpeg(FFmpegConfig{}, runner)
	tier, _ := LookupTier("480p")

	err := eng.EncodeRendition(context.Background(), "/tmp/in.mp4", "/tmp/out", tier)
	if err == nil || !strings.Contains(err.Error(), "encode 480p") {
		t.Fatalf("err = %v", err)
	}
}

func TestLookupTierFallback(t *testing.T) {
	tier, ok := LookupTier("540p")
	if ok {
		t.Fatal("540p should be unknown")
	}
	if tier.Width != 854 || tier.Height != 480 {
		t.Errorf("fallback dimensions = %dx%d", tier.Width, tier.Height)
	}
	if tier.Name != "540p" {
		t.Errorf("fallback keeps requested name, got %q", tier.Name)
	}

	known, ok := LookupTier(" 1080P ")
	if !ok || known.Name != "1080p" {
		t.Errorf("lookup should normalise case and spacing, got %+v ok=%v", known, ok)
	}
}

func TestResolveTiersDeduplicates(t *testing.T) {
	tiers := ResolveTiers([]string{"720p", "360p", "720p"})
	if len(tiers) != 2 {
		t.Fatalf("tiers = %d", len(tiers))
	}
	if tiers[0].Name != "720p" || tiers[1].Name != "360p" {
		t.Errorf("order not preserved: %v", tiers)
	}
}

func TestSortByBandwidthAscending(t *testing.T) {
	tiers := ResolveTiers([]string{"1080p", "360p", "720p"})
	sorted := SortByBandwidth(tiers)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Bandwidth() > sorted[i].Bandwidth() {
			t.Fatalf("not ascending: %v", sorted)
		}
	}
	if sorted[0].Name != "360p" || sorted[len(sorted)-1].Name != "1080p" {
		t.Errorf("order = %v", sorted)
	}
	// Input must stay untouched.
	if tiers[0].Name != "1080p" {
		t.Error("SortByBandwidth mutated its input")
	}
}
