package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"reelworks/internal/models"
)

type dataset struct {
	Videos map[string]models.Video `json:"videos"`
}

func newDataset() dataset {
	return dataset{Videos: make(map[string]models.Video)}
}

// Storage is the JSON-file registry driver. With an empty path it runs purely
// in memory, which is the default for tests and single-process deployments.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(dataset) error
	now             func() time.Time
}

// NewStorage opens (or initialises) a registry persisted at path. An empty
// path disables persistence entirely.
func NewStorage(path string) (*Storage, error) {
	store := &Storage{
		filePath: strings.TrimSpace(path),
		data:     newDataset(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns a registry that never touches disk.
func NewMemory() *Storage {
	store, _ := NewStorage("")
	return store
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}

func (s *Storage) load() error {
	if s.filePath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			s.data = newDataset()
			return nil
		}
		return fmt.Errorf("decode store file: %w", err)
	}
	if s.data.Videos == nil {
		s.data.Videos = make(map[string]models.Video)
	}
	return nil
}

func (s *Storage) persist() error {
	if s.persistOverride != nil {
		return s.persistOverride(s.data)
	}
	if s.filePath == "" {
		return nil
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// GenerateID produces an opaque 32-character hex identifier.
func GenerateID() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func cloneVideo(video models.Video) models.Video {
	cloned := video
	if video.Renditions != nil {
		cloned.Renditions = append([]models.RenditionInfo(nil), video.Renditions...)
	}
	return cloned
}

func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := GenerateID()
		if err != nil {
			return models.Video{}, err
		}
		id = generated
	}
	if _, exists := s.data.Videos[id]; exists {
		return models.Video{}, ErrDuplicateID
	}
	if strings.TrimSpace(params.SourceRef) == "" {
		return models.Video{}, errors.New("sourceRef is required")
	}

	now := s.now()
	video := models.Video{
		ID:             id,
		Title:          strings.TrimSpace(params.Title),
		Description:    strings.TrimSpace(params.Description),
		OwnerID:        strings.TrimSpace(params.OwnerID),
		SourceFilename: strings.TrimSpace(params.SourceFilename),
		SourceRef:      strings.TrimSpace(params.SourceRef),
		SizeBytes:      params.SizeBytes,
		Checksum:       params.Checksum,
		Status:         models.StatusUploading,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if video.Title == "" {
		video.Title = video.SourceFilename
	}

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, id)
		return models.Video{}, err
	}
	return cloneVideo(video), nil
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, false
	}
	return cloneVideo(video), true
}

func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	original := video

	updated, err := applyVideoUpdate(video, update, s.now())
	if err != nil {
		return models.Video{}, err
	}

	s.data.Videos[id] = updated
	if err := s.persist(); err != nil {
		s.data.Videos[id] = original
		return models.Video{}, err
	}
	return cloneVideo(updated), nil
}

// applyVideoUpdate enforces the lifecycle invariants shared by every registry
// driver: monotonic status transitions and ManifestRef set iff ready.
func applyVideoUpdate(video models.Video, update VideoUpdate, now time.Time) (models.Video, error) {
	if update.Status != nil && *update.Status != video.Status {
		if !models.CanTransition(video.Status, *update.Status) {
			return models.Video{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, video.Status, *update.Status)
		}
		video.Status = *update.Status
	}
	if update.DurationSeconds != nil {
		video.DurationSeconds = *update.DurationSeconds
	}
	if update.ManifestRef != nil {
		ref := strings.TrimSpace(*update.ManifestRef)
		if ref != "" && video.Status != models.StatusReady {
			return models.Video{}, fmt.Errorf("%w: manifest requires ready status", ErrInvalidTransition)
		}
		video.ManifestRef = ref
	}
	if video.Status != models.StatusReady && video.ManifestRef != "" {
		// Clearing keeps the manifest-iff-ready invariant when a record fails.
		video.ManifestRef = ""
	}
	if update.ThumbnailRef != nil {
		video.ThumbnailRef = strings.TrimSpace(*update.ThumbnailRef)
	}
	if update.Renditions != nil {
		video.Renditions = append([]models.RenditionInfo(nil), (*update.Renditions)...)
	}
	if update.Error != nil {
		video.Error = strings.TrimSpace(*update.Error)
	}
	video.UpdatedAt = now
	return video, nil
}

func (s *Storage) ListVideos(filter VideoFilter) ([]models.Video, int, error) {
	filter = filter.normalize()

	s.mu.RLock()
	matched := make([]models.Video, 0, len(s.data.Videos))
	for _, video := range s.data.Videos {
		if filter.OwnerID != "" && video.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && video.Status != filter.Status {
			continue
		}
		if !matchesQuery(video, filter.Query) {
			continue
		}
		matched = append(matched, cloneVideo(video))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []models.Video{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Storage) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	video, ok := s.data.Videos[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.data.Videos, id)
	if err := s.persist(); err != nil {
		s.data.Videos[id] = video
		return err
	}
	return nil
}
