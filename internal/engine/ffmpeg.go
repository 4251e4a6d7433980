package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/semaphore"
)

// FFmpegConfig controls the external tool invocations.
type FFmpegConfig struct {
	// FFmpegPath and FFprobePath default to binaries on PATH.
	FFmpegPath  string
	FFprobePath string
	// MaxProcesses caps concurrently running tool processes across all
	// callers. Zero means twice the worker default.
	MaxProcesses int64
	// SegmentSeconds is the target HLS segment duration.
	SegmentSeconds int
	// Preset selects the x264 speed/quality trade-off.
	Preset string
}

func (c *FFmpegConfig) applyDefaults() {
	if strings.TrimSpace(c.FFmpegPath) == "" {
		c.FFmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(c.FFprobePath) == "" {
		c.FFprobePath = "ffprobe"
	}
	if c.MaxProcesses <= 0 {
		c.MaxProcesses = 4
	}
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = 10
	}
	if strings.TrimSpace(c.Preset) == "" {
		c.Preset = "veryfast"
	}
}

// FFmpeg drives ffmpeg/ffprobe processes. A weighted semaphore bounds the
// number of simultaneously running processes so a burst of jobs cannot fork
// an unbounded number of encoders.
type FFmpeg struct {
	cfg    FFmpegConfig
	runner Runner
	sem    *semaphore.Weighted
}

// NewFFmpeg builds an engine around the given runner. A nil runner uses
// CommandRunner.
func NewFFmpeg(cfg FFmpegConfig, runner Runner) *FFmpeg {
	cfg.applyDefaults()
	if runner == nil {
		runner = NewCommandRunner()
	}
	return &FFmpeg{cfg: cfg, runner: runner, sem: semaphore.NewWeighted(cfg.MaxProcesses)}
}

func (f *FFmpeg) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)
	return f.runner.Run(ctx, name, args...)
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// ErrNoVideoStream reports a source asset without a decodable video track.
var ErrNoVideoStream = errors.New("source has no video stream")

func (f *FFmpeg) Probe(ctx context.Context, sourcePath string) (ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		sourcePath,
	}
	output, err := f.run(ctx, f.cfg.FFprobePath, args...)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("probe source: %w", err)
	}
	var probed ffprobeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return ProbeResult{}, fmt.Errorf("parse probe output: %w", err)
	}

	result := ProbeResult{Container: probed.Format.FormatName}
	if probed.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
			result.DurationSeconds = duration
		}
	}
	if probed.Format.BitRate != "" {
		if bitrate, err := strconv.Atoi(probed.Format.BitRate); err == nil {
			result.BitrateKbps = bitrate / 1000
		}
	}
	for _, stream := range probed.Streams {
		switch stream.CodecType {
		case "video":
			if result.Width == 0 {
				result.Width = stream.Width
				result.Height = stream.Height
				result.VideoCodec = stream.CodecName
				if result.DurationSeconds == 0 && stream.Duration != "" {
					if duration, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
						result.DurationSeconds = duration
					}
				}
			}
		case "audio":
			if result.AudioCodec == "" {
				result.AudioCodec = stream.CodecName
			}
		}
	}
	if result.Width == 0 || result.Height == 0 {
		return ProbeResult{}, ErrNoVideoStream
	}
	if result.DurationSeconds <= 0 {
		return ProbeResult{}, errors.New("source reports no duration")
	}
	return result, nil
}

func (f *FFmpeg) ExtractFrame(ctx context.Context, sourcePath string, offsetSeconds float64, destPath string) error {
	if offsetSeconds < 0 {
		offsetSeconds = 0
	}
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(offsetSeconds, 'f', 2, 64),
		"-i", sourcePath,
		"-vframes", "1",
		"-vf", "scale=640:-2",
		"-q:v", "2",
		destPath,
	}
	if _, err := f.run(ctx, f.cfg.FFmpegPath, args...); err != nil {
		return fmt.Errorf("extract frame at %.2fs: %w", offsetSeconds, err)
	}
	return nil
}

func (f *FFmpeg) EncodeRendition(ctx context.Context, sourcePath, outputDir string, tier Tier) error {
	playlist := filepath.Join(outputDir, tier.Name+".m3u8")
	segments := filepath.Join(outputDir, tier.Name+"_%05d.ts")
	args := []string{
		"-y",
		"-i", sourcePath,
		"-vf", fmt.Sprintf("scale=w=%d:h=%d:force_original_aspect_ratio=decrease", tier.Width, tier.Height),
		"-c:v", "libx264",
		"-preset", f.cfg.Preset,
		"-profile:v", "main",
		"-b:v", fmt.Sprintf("%dk", tier.VideoKbps),
		"-maxrate", fmt.Sprintf("%dk", tier.MaxRateKbps),
		"-bufsize", fmt.Sprintf("%dk", tier.BufSizeKbps),
		"-g", "48",
		"-keyint_min", "48",
		"-sc_threshold", "0",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", tier.AudioKbps),
		"-f", "hls",
		"-hls_time", strconv.Itoa(f.cfg.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segments,
		playlist,
	}
	if _, err := f.run(ctx, f.cfg.FFmpegPath, args...); err != nil {
		return fmt.Errorf("encode %s: %w", tier.Name, err)
	}
	return nil
}

var _ Engine = (*FFmpeg)(nil)
