package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"reelworks/internal/assets"
	"reelworks/internal/engine"
	"reelworks/internal/events"
	"reelworks/internal/models"
	"reelworks/internal/storage"
)

type fakeEngine struct {
	mu         sync.Mutex
	probeErr   error
	frameErr   error
	encodeErr  error
	encodeWait time.Duration
	active     int
	peak       int
	probes     int
	encodes    []string
}

func (f *fakeEngine) Probe(ctx context.Context, sourcePath string) (engine.ProbeResult, error) {
	f.mu.Lock()
	f.probes++
	err := f.probeErr
	f.mu.Unlock()
	if err != nil {
		return engine.ProbeResult{}, err
	}
	return engine.ProbeResult{DurationSeconds: 60, Width: 1920, Height: 1080, VideoCodec: "h264", AudioCodec: "aac"}, nil
}

func (f *fakeEngine) ExtractFrame(ctx context.Context, sourcePath string, offsetSeconds float64, destPath string) error {
	return f.frameErr
}

func (f *fakeEngine) EncodeRendition(ctx context.Context, sourcePath, outputDir string, tier engine.Tier) error {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	wait := f.encodeWait
	err := f.encodeErr
	f.encodes = append(f.encodes, tier.Name)
	f.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return err
}

type testEnv struct {
	registry  *storage.Storage
	store     *assets.FSStore
	engine    *fakeEngine
	queue     events.Queue
	processor *Processor
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	registry := storage.NewMemory()
	store, err := assets.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	eng := &fakeEngine{}
	queue := events.NewMemoryQueue(16)

	cfg.Registry = registry
	cfg.Assets = store
	cfg.Engine = eng
	cfg.Events = queue
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = engine.ResolveTiers([]string{"360p", "720p"})
	}
	processor := NewProcessor(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = processor.Shutdown(ctx)
	})
	return &testEnv{registry: registry, store: store, engine: eng, queue: queue, processor: processor}
}

func (env *testEnv) createVideo(t *testing.T, id string) models.Video {
	t.Helper()
	sourceRef := assets.OriginalPath(id, ".mp4")
	if _, err := env.store.Save(sourceRef, strings.NewReader("source-bytes")); err != nil {
		t.Fatalf("save source: %v", err)
	}
	video, err := env.registry.CreateVideo(storage.CreateVideoParams{
		ID:             id,
		Title:          "clip " + id,
		OwnerID:        "owner-1",
		SourceFilename: "clip.mp4",
		SourceRef:      sourceRef,
		SizeBytes:      12,
	})
	if err != nil {
		t.Fatalf("CreateVideo: %v", err)
	}
	return video
}

func waitForStatus(t *testing.T, registry storage.Registry, id string, want models.Status) models.Video {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if video, ok := registry.GetVideo(id); ok && video.Status == want {
			return video
		}
		time.Sleep(10 * time.Millisecond)
	}
	video, _ := registry.GetVideo(id)
	t.Fatalf("video %s stuck in %s, want %s (error: %q)", id, video.Status, want, video.Error)
	return models.Video{}
}

func TestProcessorSuccess(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 1})
	sub := env.queue.Subscribe()
	defer sub.Close()

	env.createVideo(t, "vid-1")
	env.processor.Start()
	env.processor.Enqueue("vid-1")

	video := waitForStatus(t, env.registry, "vid-1", models.StatusReady)
	if video.DurationSeconds != 60 {
		t.Errorf("duration = %v", video.DurationSeconds)
	}
	if video.ManifestRef != assets.MasterManifestPath("vid-1") {
		t.Errorf("manifestRef = %q", video.ManifestRef)
	}
	if video.ThumbnailRef != assets.ThumbnailPath("vid-1") {
		t.Errorf("thumbnailRef = %q", video.ThumbnailRef)
	}
	if len(video.Renditions) != 2 {
		t.Fatalf("renditions = %+v", video.Renditions)
	}
	if video.Renditions[0].PlaylistRef != assets.RenditionPlaylistPath("vid-1", "360p") {
		t.Errorf("rendition playlist = %q", video.Renditions[0].PlaylistRef)
	}
	if !env.store.Exists(video.ManifestRef) {
		t.Error("master manifest not written")
	}

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 2 {
		select {
		case event := <-sub.Events():
			types = append(types, event.Type)
		case <-timeout:
			t.Fatalf("events = %v", types)
		}
	}
	if types[0] != events.TypeVideoProcessing || types[1] != events.TypeVideoReady {
		t.Errorf("event order = %v", types)
	}
}

func TestProcessorProbeFailure(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 1})
	env.engine.probeErr = errors.New("moov atom not found")

	env.createVideo(t, "vid-1")
	env.processor.Start()
	env.processor.Enqueue("vid-1")

	video := waitForStatus(t, env.registry, "vid-1", models.StatusError)
	if !strings.Contains(video.Error, "probe") || !strings.Contains(video.Error, "moov atom") {
		t.Errorf("error = %q", video.Error)
	}
	if video.ManifestRef != "" {
		t.Errorf("manifestRef should be empty, got %q", video.ManifestRef)
	}
}

func TestProcessorEncodeFailureCleansOutput(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 1})
	env.engine.encodeErr = errors.New("encoder crashed")

	env.createVideo(t, "vid-1")
	env.processor.Start()
	env.processor.Enqueue("vid-1")

	video := waitForStatus(t, env.registry, "vid-1", models.StatusError)
	if !strings.Contains(video.Error, "encode") {
		t.Errorf("error = %q", video.Error)
	}
	if env.store.Exists(assets.MasterManifestPath("vid-1")) {
		t.Error("partial output should be removed")
	}
}

func TestProcessorThumbnailFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 1})
	env.engine.frameErr = errors.New("no keyframe")

	env.createVideo(t, "vid-1")
	env.processor.Start()
	env.processor.Enqueue("vid-1")

	video := waitForStatus(t, env.registry, "vid-1", models.StatusReady)
	if video.ThumbnailRef != "" {
		t.Errorf("thumbnailRef = %q, want empty", video.ThumbnailRef)
	}
}

func TestProcessorBoundsConcurrency(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 2, Tiers: engine.ResolveTiers([]string{"360p"})})
	env.engine.encodeWait = 50 * time.Millisecond

	for _, id := range []string{"a", "b", "c", "d"} {
		env.createVideo(t, id)
	}
	env.processor.Start()
	for _, id := range []string{"a", "b", "c", "d"} {
		env.processor.Enqueue(id)
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		waitForStatus(t, env.registry, id, models.StatusReady)
	}

	env.engine.mu.Lock()
	peak := env.engine.peak
	env.engine.mu.Unlock()
	if peak > 2 {
		t.Errorf("peak concurrent encodes = %d, want <= 2", peak)
	}
}

func TestProcessorSkipsTerminalRecords(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 1})
	env.createVideo(t, "vid-1")

	processing := models.StatusProcessing
	failed := models.StatusError
	reason := "boom"
	if _, err := env.registry.UpdateVideo("vid-1", storage.VideoUpdate{Status: &processing}); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if _, err := env.registry.UpdateVideo("vid-1", storage.VideoUpdate{Status: &failed, Error: &reason}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	env.processor.Start()
	env.processor.Enqueue("vid-1")
	time.Sleep(100 * time.Millisecond)

	env.engine.mu.Lock()
	probes := env.engine.probes
	env.engine.mu.Unlock()
	if probes != 0 {
		t.Errorf("terminal record was probed %d times", probes)
	}
}

func TestProcessorRecoversPending(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 1})
	env.createVideo(t, "vid-1")
	processing := models.StatusProcessing
	if _, err := env.registry.UpdateVideo("vid-1", storage.VideoUpdate{Status: &processing}); err != nil {
		t.Fatalf("mark processing: %v", err)
	}

	// No explicit Enqueue: the startup scan must find the stranded record.
	env.processor.Start()
	waitForStatus(t, env.registry, "vid-1", models.StatusReady)
}

func TestProcessorShutdownStopsIntake(t *testing.T) {
	env := newTestEnv(t, Config{Workers: 1})
	env.processor.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.processor.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	// Enqueue after shutdown must not block.
	done := make(chan struct{})
	go func() {
		env.processor.Enqueue("late")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked after shutdown")
	}
}
