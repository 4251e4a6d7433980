// Package pipeline turns uploaded originals into streamable renditions. A
// bounded worker pool drains a queue of video ids, and each job walks the
// probe, thumbnail, encode, and manifest stages before flipping the record
// to its terminal state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reelworks/internal/assets"
	"reelworks/internal/engine"
	"reelworks/internal/events"
	"reelworks/internal/models"
	"reelworks/internal/storage"
)

// Observer receives job lifecycle callbacks, typically to feed metrics.
type Observer interface {
	JobEnqueued()
	JobStarted()
	JobFinished(outcome string, duration time.Duration)
}

// Config wires the processor's collaborators.
type Config struct {
	Registry storage.Registry
	Assets   assets.Store
	Engine   engine.Engine
	Events   events.Queue
	Observer Observer
	// Tiers is the encode ladder. Empty means the default ladder.
	Tiers     []engine.Tier
	Workers   int
	QueueSize int
	// Timeout bounds a single video's end-to-end processing.
	Timeout time.Duration
	Logger  *slog.Logger
}

const (
	defaultWorkers   = 2
	defaultQueueSize = 64
	defaultTimeout   = 30 * time.Minute
)

// Processor owns the transcoding worker pool.
type Processor struct {
	registry storage.Registry
	assets   assets.Store
	engine   engine.Engine
	events   events.Queue
	observer Observer
	tiers    []engine.Tier
	workers  int
	timeout  time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue chan string
	wg    sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	started  bool
}

func NewProcessor(cfg Config) *Processor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = engine.ResolveTiers(nil)
	}
	queue := cfg.Events
	if queue == nil {
		queue = events.NopQueue{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		registry: cfg.Registry,
		assets:   cfg.Assets,
		engine:   cfg.Engine,
		events:   queue,
		observer: cfg.Observer,
		tiers:    tiers,
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan string, queueSize),
		inFlight: make(map[string]struct{}),
	}
}

// Start launches the worker pool and a background scan that re-enqueues
// records interrupted by a previous shutdown.
func (p *Processor) Start() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	go p.recoverPending()
}

// Shutdown stops accepting work and waits for in-flight jobs to finish or
// the context to expire. Interrupted jobs are picked up by recoverPending on
// the next start.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue schedules a video for processing. It never blocks past shutdown.
func (p *Processor) Enqueue(id string) {
	if p == nil || strings.TrimSpace(id) == "" {
		return
	}
	select {
	case <-p.ctx.Done():
		return
	default:
	}
	select {
	case p.queue <- id:
		if p.observer != nil {
			p.observer.JobEnqueued()
		}
	case <-p.ctx.Done():
	}
}

// QueueDepth reports the number of ids waiting for a worker.
func (p *Processor) QueueDepth() int {
	if p == nil {
		return 0
	}
	return len(p.queue)
}

// ActiveJobs reports the number of jobs currently being processed.
func (p *Processor) ActiveJobs() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case id := <-p.queue:
			if strings.TrimSpace(id) == "" {
				continue
			}
			if !p.beginWork(id) {
				continue
			}
			p.processVideo(id)
			p.finishWork(id)
		}
	}
}

func (p *Processor) beginWork(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.inFlight[id]; exists {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Processor) finishWork(id string) {
	p.mu.Lock()
	delete(p.inFlight, id)
	p.mu.Unlock()
}

// recoverPending re-enqueues records that were mid-flight when the previous
// process stopped: anything still uploading or processing with a stored
// source.
func (p *Processor) recoverPending() {
	if p.registry == nil {
		return
	}
	for _, status := range []models.Status{models.StatusUploading, models.StatusProcessing} {
		page := 1
		for {
			select {
			case <-p.ctx.Done():
				return
			default:
			}
			videos, total, err := p.registry.ListVideos(storage.VideoFilter{
				Status:   status,
				Page:     page,
				PageSize: storage.MaxPageSize,
			})
			if err != nil {
				p.logger.Error("failed to list pending videos", "status", status, "error", err)
				return
			}
			for _, video := range videos {
				if strings.TrimSpace(video.SourceRef) == "" {
					continue
				}
				p.Enqueue(video.ID)
			}
			if page*storage.MaxPageSize >= total {
				break
			}
			page++
		}
	}
}

func (p *Processor) processVideo(id string) {
	video, ok := p.registry.GetVideo(id)
	if !ok {
		return
	}
	if video.Status.Terminal() {
		return
	}

	start := time.Now()
	if p.observer != nil {
		p.observer.JobStarted()
	}

	if video.Status != models.StatusProcessing {
		processing := models.StatusProcessing
		updated, err := p.registry.UpdateVideo(id, storage.VideoUpdate{Status: &processing})
		if err != nil {
			p.logger.Error("failed to mark video processing", "video_id", id, "error", err)
			p.finish("error", start)
			return
		}
		video = updated
	}
	p.publish(events.Event{
		Type:       events.TypeVideoProcessing,
		VideoID:    video.ID,
		OwnerID:    video.OwnerID,
		Status:     string(models.StatusProcessing),
		OccurredAt: time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	result, err := p.runStages(ctx, video)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			err = fmt.Errorf("%w after %s", err, p.timeout)
		}
		p.failVideo(video, err)
		p.finish("error", start)
		return
	}

	ready := models.StatusReady
	update := storage.VideoUpdate{
		Status:          &ready,
		DurationSeconds: &result.duration,
		ManifestRef:     &result.manifestRef,
		Renditions:      &result.renditions,
	}
	if result.thumbnailRef != "" {
		update.ThumbnailRef = &result.thumbnailRef
	}
	if _, err := p.registry.UpdateVideo(id, update); err != nil {
		p.logger.Error("failed to mark video ready", "video_id", id, "error", err)
		p.finish("error", start)
		return
	}
	p.publish(events.Event{
		Type:       events.TypeVideoReady,
		VideoID:    video.ID,
		OwnerID:    video.OwnerID,
		Status:     string(models.StatusReady),
		OccurredAt: time.Now().UTC(),
	})
	p.logger.Info("video processed",
		"video_id", video.ID,
		"duration_seconds", result.duration,
		"renditions", len(result.renditions),
		"elapsed", time.Since(start).Round(time.Millisecond))
	p.finish("ready", start)
}

type stageResult struct {
	duration     float64
	manifestRef  string
	thumbnailRef string
	renditions   []models.RenditionInfo
}

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func (p *Processor) runStages(ctx context.Context, video models.Video) (stageResult, error) {
	sourcePath, err := p.assets.AbsPath(video.SourceRef)
	if err != nil {
		return stageResult{}, &stageError{stage: "probe", err: err}
	}

	probed, err := p.engine.Probe(ctx, sourcePath)
	if err != nil {
		return stageResult{}, &stageError{stage: "probe", err: err}
	}

	result := stageResult{duration: probed.DurationSeconds}

	// The thumbnail is best effort: a missing still never fails the job.
	result.thumbnailRef = p.extractThumbnail(ctx, video.ID, sourcePath, probed.DurationSeconds)

	outputDir := assets.OutputDir(video.ID)
	if err := p.assets.EnsureDir(outputDir); err != nil {
		return stageResult{}, &stageError{stage: "encode", err: err}
	}
	outputPath, err := p.assets.AbsPath(outputDir)
	if err != nil {
		return stageResult{}, &stageError{stage: "encode", err: err}
	}
	for _, tier := range p.tiers {
		if err := p.engine.EncodeRendition(ctx, sourcePath, outputPath, tier); err != nil {
			return stageResult{}, &stageError{stage: "encode", err: err}
		}
		result.renditions = append(result.renditions, models.RenditionInfo{
			Name:        tier.Name,
			Width:       tier.Width,
			Height:      tier.Height,
			Bandwidth:   tier.Bandwidth(),
			PlaylistRef: assets.RenditionPlaylistPath(video.ID, tier.Name),
		})
	}

	manifestRef := assets.MasterManifestPath(video.ID)
	manifest := BuildMasterManifest(p.tiers)
	if _, err := p.assets.Save(manifestRef, strings.NewReader(manifest)); err != nil {
		return stageResult{}, &stageError{stage: "manifest", err: err}
	}
	result.manifestRef = manifestRef
	return result, nil
}

func (p *Processor) extractThumbnail(ctx context.Context, videoID, sourcePath string, duration float64) string {
	ref := assets.ThumbnailPath(videoID)
	destPath, err := p.assets.AbsPath(ref)
	if err != nil {
		p.logger.Warn("thumbnail path rejected", "video_id", videoID, "error", err)
		return ""
	}
	if err := p.assets.EnsureDir("thumbnails"); err != nil {
		p.logger.Warn("thumbnail dir unavailable", "video_id", videoID, "error", err)
		return ""
	}
	offset := duration * 0.1
	if err := p.engine.ExtractFrame(ctx, sourcePath, offset, destPath); err != nil {
		p.logger.Warn("thumbnail extraction failed", "video_id", videoID, "error", err)
		return ""
	}
	return ref
}

// failVideo records the failure, publishes it, and clears any partial output
// so the delivery path never serves fragments of an aborted encode.
func (p *Processor) failVideo(video models.Video, err error) {
	message := strings.TrimSpace(err.Error())
	var stage string
	var staged *stageError
	if errors.As(err, &staged) {
		stage = staged.stage
	}
	failed := models.StatusError
	if _, updateErr := p.registry.UpdateVideo(video.ID, storage.VideoUpdate{
		Status: &failed,
		Error:  &message,
	}); updateErr != nil {
		p.logger.Error("failed to record video failure", "video_id", video.ID, "error", updateErr, "failure", err)
	}
	if cleanupErr := p.assets.RemoveAll(assets.OutputDir(video.ID)); cleanupErr != nil {
		p.logger.Warn("failed to clean partial output", "video_id", video.ID, "error", cleanupErr)
	}
	p.publish(events.Event{
		Type:       events.TypeVideoFailed,
		VideoID:    video.ID,
		OwnerID:    video.OwnerID,
		Status:     string(models.StatusError),
		Stage:      stage,
		Error:      message,
		OccurredAt: time.Now().UTC(),
	})
	p.logger.Error("video processing failed", "video_id", video.ID, "stage", stage, "error", err)
}

func (p *Processor) publish(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.events.Publish(ctx, event); err != nil {
		p.logger.Warn("event publish failed", "type", event.Type, "video_id", event.VideoID, "error", err)
	}
}

func (p *Processor) finish(outcome string, start time.Time) {
	if p.observer != nil {
		p.observer.JobFinished(outcome, time.Since(start))
	}
}
