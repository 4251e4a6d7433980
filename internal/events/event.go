// Package events distributes video lifecycle notifications to interested
// consumers, either in-process or through Redis Streams.
package events

import "time"

// Event types emitted across a video's lifecycle.
const (
	TypeVideoCreated    = "video.created"
	TypeVideoProcessing = "video.processing"
	TypeVideoReady      = "video.ready"
	TypeVideoFailed     = "video.failed"
	TypeVideoDeleted    = "video.deleted"
)

// Event records one lifecycle transition for a video.
type Event struct {
	Type       string    `json:"type"`
	VideoID    string    `json:"videoId"`
	OwnerID    string    `json:"ownerId,omitempty"`
	Status     string    `json:"status,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}
