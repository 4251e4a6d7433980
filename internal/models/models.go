package models

import (
	"strings"
	"time"
)

// Status tracks a video through its processing lifecycle. Transitions are
// monotonic: once a record leaves a state it never returns to it, and the
// ready/error states are terminal.
type Status string

const (
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
)

// ParseStatus normalizes a raw status string. The second return value reports
// whether the input named a known status.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusUploading:
		return StatusUploading, true
	case StatusProcessing:
		return StatusProcessing, true
	case StatusReady:
		return StatusReady, true
	case StatusError:
		return StatusError, true
	default:
		return "", false
	}
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusError
}

// CanTransition reports whether the lifecycle permits moving from one status
// to another. Uploading and processing advance forward only; either may fail
// into error.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusUploading:
		return to == StatusProcessing || to == StatusError
	case StatusProcessing:
		return to == StatusReady || to == StatusError
	default:
		return false
	}
}

// RenditionInfo describes one encoded output of a video at a fixed
// resolution and bitrate tier.
type RenditionInfo struct {
	Name        string `json:"name"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Bandwidth   int    `json:"bandwidth"`
	PlaylistRef string `json:"playlistRef"`
}

// Video is the registry record for a single uploaded asset. ID, OwnerID,
// SourceFilename, SourceRef, SizeBytes, and Checksum are immutable once set;
// the orchestrator owns every mutation after creation.
type Video struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	OwnerID         string          `json:"ownerId,omitempty"`
	SourceFilename  string          `json:"sourceFilename"`
	SourceRef       string          `json:"sourceRef"`
	SizeBytes       int64           `json:"sizeBytes"`
	Checksum        string          `json:"checksum,omitempty"`
	DurationSeconds float64         `json:"durationSeconds,omitempty"`
	Status          Status          `json:"status"`
	ManifestRef     string          `json:"manifestRef,omitempty"`
	ThumbnailRef    string          `json:"thumbnailRef,omitempty"`
	Renditions      []RenditionInfo `json:"renditions,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}
