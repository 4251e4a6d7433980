// Package api implements the HTTP surface: video ingestion, catalog access,
// and streaming artifact delivery.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reelworks/internal/assets"
	"reelworks/internal/events"
	"reelworks/internal/models"
	"reelworks/internal/observability/metrics"
	"reelworks/internal/pipeline"
	"reelworks/internal/storage"
)

// Handler carries the collaborators shared by all endpoints.
type Handler struct {
	Registry  storage.Registry
	Assets    assets.Store
	Processor *pipeline.Processor
	Events    events.Queue
	Metrics   *metrics.Recorder
	Logger    *slog.Logger

	// MaxUploadBytes bounds a single original upload. Zero means the
	// default of 500 MiB.
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 500 << 20

func NewHandler(registry storage.Registry, store assets.Store) *Handler {
	return &Handler{Registry: registry, Assets: store}
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) publish(r *http.Request, event events.Event) {
	if h.Events == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := h.Events.Publish(r.Context(), event); err != nil {
		h.logger().Warn("event publish failed", "type", event.Type, "video_id", event.VideoID, "error", err)
	}
}

func (h *Handler) observeVideoEvent(event string) {
	if h.Metrics != nil {
		h.Metrics.ObserveVideoEvent(event)
	}
}

// Videos handles the collection endpoint: listing and multipart ingestion.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listVideos(w, r)
	case http.MethodPost:
		contentType := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
		if !strings.HasPrefix(contentType, "multipart/form-data") {
			writeError(w, http.StatusUnsupportedMediaType, fmt.Errorf("multipart/form-data is required"))
			return
		}
		h.createVideo(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// VideoByID dispatches /api/videos/{id} and its sub-resources.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	if path == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}
	parts := strings.Split(path, "/")
	videoID := strings.TrimSpace(parts[0])
	if videoID == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("video id missing"))
		return
	}

	if len(parts) > 1 {
		switch strings.TrimSpace(parts[1]) {
		case "manifest":
			h.serveManifest(w, r, videoID)
		case "thumbnail":
			h.serveThumbnail(w, r, videoID)
		case "segments":
			if len(parts) != 3 {
				writeError(w, http.StatusNotFound, fmt.Errorf("segment name missing"))
				return
			}
			h.serveSegment(w, r, videoID, parts[2])
		default:
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown resource"))
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getVideo(w, r, videoID)
	case http.MethodDelete:
		h.deleteVideo(w, r, videoID)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

// Healthz reports process liveness and registry reachability.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	status := "ok"
	code := http.StatusOK
	if err := h.Registry.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	payload := map[string]any{"status": status}
	if h.Processor != nil {
		payload["queueDepth"] = h.Processor.QueueDepth()
		payload["activeJobs"] = h.Processor.ActiveJobs()
	}
	writeJSON(w, code, payload)
}

type videoResponse struct {
	ID              string              `json:"id"`
	Title           string              `json:"title"`
	Description     string              `json:"description,omitempty"`
	OwnerID         string              `json:"ownerId,omitempty"`
	SourceFilename  string              `json:"sourceFilename"`
	SizeBytes       int64               `json:"sizeBytes"`
	Checksum        string              `json:"checksum,omitempty"`
	DurationSeconds float64             `json:"durationSeconds,omitempty"`
	Status          string              `json:"status"`
	Renditions      []renditionResponse `json:"renditions,omitempty"`
	Error           string              `json:"error,omitempty"`
	CreatedAt       string              `json:"createdAt"`
	UpdatedAt       string              `json:"updatedAt"`
}

type renditionResponse struct {
	Name      string `json:"name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bandwidth int    `json:"bandwidth"`
	Playlist  string `json:"playlist"`
}

func newVideoResponse(video models.Video) videoResponse {
	resp := videoResponse{
		ID:              video.ID,
		Title:           video.Title,
		Description:     video.Description,
		OwnerID:         video.OwnerID,
		SourceFilename:  video.SourceFilename,
		SizeBytes:       video.SizeBytes,
		Checksum:        video.Checksum,
		DurationSeconds: video.DurationSeconds,
		Status:          string(video.Status),
		Error:           video.Error,
		CreatedAt:       video.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:       video.UpdatedAt.Format(time.RFC3339Nano),
	}
	for _, rendition := range video.Renditions {
		resp.Renditions = append(resp.Renditions, renditionResponse{
			Name:      rendition.Name,
			Width:     rendition.Width,
			Height:    rendition.Height,
			Bandwidth: rendition.Bandwidth,
			Playlist:  rendition.PlaylistRef,
		})
	}
	return resp
}
