package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"

	"reelworks/internal/assets"
	"reelworks/internal/events"
	"reelworks/internal/models"
	"reelworks/internal/storage"
)

// allowedVideoTypes is the ingest content-type allow-list. Browsers that
// send application/octet-stream fall through to the extension check.
var allowedVideoTypes = map[string]struct{}{
	"video/mp4":        {},
	"video/quicktime":  {},
	"video/webm":       {},
	"video/x-matroska": {},
	"video/mpeg":       {},
}

var allowedVideoExtensions = map[string]struct{}{
	".mp4":  {},
	".m4v":  {},
	".mov":  {},
	".webm": {},
	".mkv":  {},
	".mpg":  {},
	".mpeg": {},
}

func acceptableUpload(contentType, filename string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	if _, ok := allowedVideoTypes[normalized]; ok {
		return true
	}
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := allowedVideoExtensions[ext]
	return ok
}

type savedOriginal struct {
	ref      string
	size     int64
	checksum string
	filename string
}

func (h *Handler) createVideo(w http.ResponseWriter, r *http.Request) {
	// A little slack on top of the media cap covers multipart framing and
	// the text fields.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes()+(1<<20))
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}

	videoID, err := storage.GenerateID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("generate id: %w", err))
		return
	}

	var title, description string
	var original *savedOriginal
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.discardOriginal(original)
			if isBodyTooLarge(err) {
				writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.maxUploadBytes()))
				return
			}
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		name := part.FormName()
		if name == "" {
			_ = part.Close()
			continue
		}
		if name == "file" {
			if original != nil {
				_ = part.Close()
				continue
			}
			saved, status, saveErr := h.saveOriginal(videoID, part)
			if saveErr != nil {
				writeError(w, status, saveErr)
				return
			}
			original = saved
			continue
		}
		payload, readErr := io.ReadAll(part)
		_ = part.Close()
		if readErr != nil {
			h.discardOriginal(original)
			writeError(w, http.StatusBadRequest, fmt.Errorf("read form field: %w", readErr))
			return
		}
		value := strings.TrimSpace(string(payload))
		switch name {
		case "title":
			title = value
		case "description":
			description = value
		}
	}

	if original == nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file is required"))
		return
	}
	if title == "" {
		title = strings.TrimSuffix(original.filename, filepath.Ext(original.filename))
	}

	video, err := h.Registry.CreateVideo(storage.CreateVideoParams{
		ID:             videoID,
		Title:          title,
		Description:    description,
		OwnerID:        strings.TrimSpace(r.Header.Get("X-Owner-ID")),
		SourceFilename: original.filename,
		SourceRef:      original.ref,
		SizeBytes:      original.size,
		Checksum:       original.checksum,
	})
	if err != nil {
		h.discardOriginal(original)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if h.Metrics != nil {
		h.Metrics.ObserveUploadBytes(original.size)
	}
	h.observeVideoEvent("created")
	h.publish(r, events.Event{
		Type:    events.TypeVideoCreated,
		VideoID: video.ID,
		OwnerID: video.OwnerID,
		Status:  string(models.StatusUploading),
	})
	if h.Processor != nil {
		h.Processor.Enqueue(video.ID)
	}
	h.logger().Info("video ingested", "video_id", video.ID, "size_bytes", original.size, "filename", original.filename)
	writeJSON(w, http.StatusCreated, newVideoResponse(video))
}

// saveOriginal streams the media part into the asset store while hashing it.
// The returned int is the HTTP status to use when err is non-nil.
func (h *Handler) saveOriginal(videoID string, part *multipart.Part) (*savedOriginal, int, error) {
	defer part.Close()

	filename := strings.TrimSpace(part.FileName())
	if filename == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("file is required")
	}
	contentType := part.Header.Get("Content-Type")
	if !acceptableUpload(contentType, filename) {
		return nil, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported media type %q", contentType)
	}

	ext := strings.ToLower(filepath.Ext(filename))
	ref := assets.OriginalPath(videoID, ext)

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, http.StatusInternalServerError, fmt.Errorf("init checksum: %w", err)
	}
	limited := &limitedReader{r: io.TeeReader(part, hasher), remaining: h.maxUploadBytes()}
	written, err := h.Assets.Save(ref, limited)
	if err != nil {
		if limited.exceeded || isBodyTooLarge(err) {
			return nil, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.maxUploadBytes())
		}
		return nil, http.StatusInternalServerError, fmt.Errorf("store upload: %w", err)
	}
	if written == 0 {
		_ = h.Assets.Remove(ref)
		return nil, http.StatusBadRequest, fmt.Errorf("file is empty")
	}
	return &savedOriginal{
		ref:      ref,
		size:     written,
		checksum: hex.EncodeToString(hasher.Sum(nil)),
		filename: filename,
	}, 0, nil
}

func (h *Handler) discardOriginal(original *savedOriginal) {
	if original == nil {
		return
	}
	_ = h.Assets.Remove(original.ref)
}

// limitedReader errors once the media cap is crossed so the asset store
// aborts the temp-file write instead of persisting a truncated original.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

var errUploadTooLarge = errors.New("upload too large")

func (l *limitedReader) Read(p []byte) (int, error) {
	// Read one byte past the cap so an exactly-at-cap upload still sees
	// its EOF, while anything longer trips the limit.
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	if len(p) == 0 {
		p = make([]byte, 1)
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, errUploadTooLarge
	}
	return n, err
}

func isBodyTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return true
	}
	return errors.Is(err, errUploadTooLarge) ||
		strings.Contains(err.Error(), "http: request body too large")
}
