package storage

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"

	"reelworks/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for the requested id.
	ErrNotFound = errors.New("video not found")
	// ErrDuplicateID is returned when a create collides with an existing id.
	ErrDuplicateID = errors.New("video id already exists")
	// ErrInvalidTransition is returned when an update would move a record
	// backwards through the lifecycle or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	// DefaultPageSize applies when a list request omits pageSize.
	DefaultPageSize = 20
	// MaxPageSize bounds response size regardless of the requested pageSize.
	MaxPageSize = 100
)

// CreateVideoParams captures the attributes fixed at ingestion time.
type CreateVideoParams struct {
	ID             string
	Title          string
	Description    string
	OwnerID        string
	SourceFilename string
	SourceRef      string
	SizeBytes      int64
	Checksum       string
}

// VideoUpdate describes a partial mutation of a video record. Nil fields are
// left untouched. Status changes are validated against the lifecycle state
// machine, and setting ManifestRef requires a transition to ready.
type VideoUpdate struct {
	Status          *models.Status
	DurationSeconds *float64
	ManifestRef     *string
	ThumbnailRef    *string
	Renditions      *[]models.RenditionInfo
	Error           *string
}

// VideoFilter selects and pages a listing. Zero values mean "no constraint".
type VideoFilter struct {
	OwnerID  string
	Status   models.Status
	Query    string
	Page     int
	PageSize int
}

func (f VideoFilter) normalize() VideoFilter {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	f.Query = strings.TrimSpace(f.Query)
	return f
}

func matchesQuery(video models.Video, query string) bool {
	if query == "" {
		return true
	}
	// A Caser is stateful, so build one per call rather than sharing.
	folder := cases.Fold()
	folded := folder.String(query)
	return strings.Contains(folder.String(video.Title), folded) ||
		strings.Contains(folder.String(video.Description), folded)
}

// Registry is the authoritative catalog of video records. Implementations
// must apply UpdateVideo atomically per record: concurrent readers observe
// either the pre- or post-update state, never a partial write.
type Registry interface {
	Ping(ctx context.Context) error

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)
	ListVideos(filter VideoFilter) ([]models.Video, int, error)
	DeleteVideo(id string) error
}

var (
	_ Registry = (*Storage)(nil)
	_ Registry = (*postgresRegistry)(nil)
)
