package api

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"reelworks/internal/assets"
	"reelworks/internal/models"
)

const (
	contentTypeHLS     = "application/vnd.apple.mpegurl"
	contentTypeSegment = "video/mp2t"
	contentTypeJPEG    = "image/jpeg"
)

// segmentNamePattern accepts only single-component artifact names produced by
// the encoder: rendition playlists and numbered transport-stream segments.
var segmentNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*\.(ts|m3u8)$`)

func (h *Handler) serveManifest(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	video, ok := h.Registry.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}
	if video.Status != models.StatusReady {
		writeError(w, http.StatusConflict, fmt.Errorf("video %s is %s, not ready", videoID, video.Status))
		return
	}
	manifestRef := video.ManifestRef
	if manifestRef == "" {
		manifestRef = assets.MasterManifestPath(videoID)
	}
	h.serveAsset(w, r, manifestRef, "master.m3u8", contentTypeHLS, "no-cache")
}

func (h *Handler) serveSegment(w http.ResponseWriter, r *http.Request, videoID, name string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	name = strings.TrimSpace(name)
	if !segmentNamePattern.MatchString(name) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid segment name"))
		return
	}
	video, ok := h.Registry.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}
	if video.Status != models.StatusReady {
		writeError(w, http.StatusNotFound, fmt.Errorf("segment not found"))
		return
	}
	contentType := contentTypeSegment
	cacheControl := "public, max-age=31536000, immutable"
	if strings.HasSuffix(name, ".m3u8") {
		contentType = contentTypeHLS
		cacheControl = "no-cache"
	}
	h.serveAsset(w, r, assets.SegmentPath(videoID, name), name, contentType, cacheControl)
}

func (h *Handler) serveThumbnail(w http.ResponseWriter, r *http.Request, videoID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}
	video, ok := h.Registry.GetVideo(videoID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		return
	}
	if video.ThumbnailRef == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("thumbnail not available"))
		return
	}
	h.serveAsset(w, r, video.ThumbnailRef, "thumbnail.jpg", contentTypeJPEG, "public, max-age=3600")
}

func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request, ref, downloadName, contentType, cacheControl string) {
	file, err := h.Assets.Open(ref)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("asset not found"))
		return
	}
	defer file.Close()
	w.Header().Set("Content-Type", contentType)
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}
	// ServeContent handles Range requests, which players rely on when
	// seeking inside segments.
	http.ServeContent(w, r, downloadName, time.Time{}, file)
}
