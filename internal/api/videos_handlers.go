package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"reelworks/internal/assets"
	"reelworks/internal/events"
	"reelworks/internal/models"
	"reelworks/internal/storage"
)

type videoListResponse struct {
	Items      []videoResponse `json:"items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"pageSize"`
	Total      int             `json:"total"`
	TotalPages int             `json:"totalPages"`
}

func (h *Handler) listVideos(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.VideoFilter{
		OwnerID: strings.TrimSpace(query.Get("ownerId")),
		Query:   strings.TrimSpace(query.Get("q")),
	}
	if status := strings.TrimSpace(query.Get("status")); status != "" {
		parsed, ok := models.ParseStatus(status)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", status))
			return
		}
		filter.Status = parsed
	}
	var err error
	if filter.Page, err = parsePositiveInt(query.Get("page"), 1); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid page: %w", err))
		return
	}
	if filter.PageSize, err = parsePositiveInt(query.Get("pageSize"), storage.DefaultPageSize); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pageSize: %w", err))
		return
	}

	videos, total, err := h.Registry.ListVideos(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	pageSize := filter.PageSize
	if pageSize > storage.MaxPageSize {
		pageSize = storage.MaxPageSize
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	response := videoListResponse{
		Items:      make([]videoResponse, 0, len(videos)),
		Page:       filter.Page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
	for _, video := range videos {
		response.Items = append(response.Items, newVideoResponse(video))
	}
	writeJSON(w, http.StatusOK, response)
}

func parsePositiveInt(raw string, fallback int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%d must be positive", value)
	}
	return value, nil
}

func (h *Handler) getVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	video, ok := h.Registry.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}
	writeJSON(w, http.StatusOK, newVideoResponse(video))
}

// deleteVideo removes the record first, then cleans storage best effort so a
// crashed cleanup never leaves a catalog entry pointing at missing bytes.
func (h *Handler) deleteVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	video, ok := h.Registry.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}
	if err := h.Registry.DeleteVideo(videoID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if video.SourceRef != "" {
		if err := h.Assets.Remove(video.SourceRef); err != nil {
			h.logger().Warn("failed to remove original", "video_id", videoID, "error", err)
		}
	}
	if err := h.Assets.RemoveAll(assets.OutputDir(videoID)); err != nil {
		h.logger().Warn("failed to remove outputs", "video_id", videoID, "error", err)
	}
	if err := h.Assets.Remove(assets.ThumbnailPath(videoID)); err != nil {
		h.logger().Warn("failed to remove thumbnail", "video_id", videoID, "error", err)
	}

	h.observeVideoEvent("deleted")
	h.publish(r, events.Event{
		Type:    events.TypeVideoDeleted,
		VideoID: videoID,
		OwnerID: video.OwnerID,
	})
	w.WriteHeader(http.StatusNoContent)
}
