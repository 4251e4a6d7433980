package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reelworks/internal/assets"
	"reelworks/internal/events"
	"reelworks/internal/models"
	"reelworks/internal/storage"
)

func newTestHandler(t *testing.T) (*Handler, *storage.Storage, *assets.FSStore) {
	t.Helper()
	registry := storage.NewMemory()
	store, err := assets.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	handler := NewHandler(registry, store)
	handler.Events = events.NewMemoryQueue(8)
	return handler, registry, store
}

func multipartUpload(t *testing.T, filename, contentType, payload string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if filename != "" {
		header := make(map[string][]string)
		header["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="file"; filename=%q`, filename)}
		header["Content-Type"] = []string{contentType}
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		if _, err := io.WriteString(part, payload); err != nil {
			t.Fatalf("write payload: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func decodeVideo(t *testing.T, rec *httptest.ResponseRecorder) videoResponse {
	t.Helper()
	var resp videoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
	return resp
}

func TestCreateVideoMultipart(t *testing.T) {
	handler, registry, store := newTestHandler(t)

	body, contentType := multipartUpload(t, "holiday clip.mp4", "video/mp4", "fake-mp4-bytes", map[string]string{
		"description": "two weeks in the alps",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-ID", "user-7")
	rec := httptest.NewRecorder()

	handler.Videos(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeVideo(t, rec)
	if resp.Status != string(models.StatusUploading) {
		t.Errorf("status = %q", resp.Status)
	}
	if resp.Title != "holiday clip" {
		t.Errorf("title = %q", resp.Title)
	}
	if resp.OwnerID != "user-7" {
		t.Errorf("ownerId = %q", resp.OwnerID)
	}
	if resp.SizeBytes != int64(len("fake-mp4-bytes")) {
		t.Errorf("sizeBytes = %d", resp.SizeBytes)
	}
	if resp.Checksum == "" {
		t.Error("checksum missing")
	}

	video, ok := registry.GetVideo(resp.ID)
	if !ok {
		t.Fatal("record missing")
	}
	if !store.Exists(video.SourceRef) {
		t.Errorf("original %q not stored", video.SourceRef)
	}
	if video.Description != "two weeks in the alps" {
		t.Errorf("description = %q", video.Description)
	}
}

func TestCreateVideoRequiresFile(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	body, contentType := multipartUpload(t, "", "", "", map[string]string{"title": "no file"})
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.Videos(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "file is required") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestCreateVideoRejectsContentType(t *testing.T) {
	handler, _, store := newTestHandler(t)

	body, contentType := multipartUpload(t, "notes.txt", "text/plain", "hello", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.Videos(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.Exists(assets.OriginalPath("any", ".txt")) {
		t.Error("rejected upload must not be stored")
	}
}

func TestCreateVideoEnforcesSizeLimit(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	handler.MaxUploadBytes = 16

	body, contentType := multipartUpload(t, "big.mp4", "video/mp4", strings.Repeat("x", 64), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/videos", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.Videos(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestCreateVideoRequiresMultipart(t *testing.T) {
	handler, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/videos", strings.NewReader(`{"title":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.Videos(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
}

func seedVideo(t *testing.T, registry storage.Registry, id, owner, title string) models.Video {
	t.Helper()
	video, err := registry.CreateVideo(storage.CreateVideoParams{
		ID:             id,
		Title:          title,
		OwnerID:        owner,
		SourceFilename: id + ".mp4",
		SourceRef:      assets.OriginalPath(id, ".mp4"),
		SizeBytes:      100,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return video
}

func markReady(t *testing.T, registry storage.Registry, id string) models.Video {
	t.Helper()
	processing := models.StatusProcessing
	if _, err := registry.UpdateVideo(id, storage.VideoUpdate{Status: &processing}); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	ready := models.StatusReady
	manifestRef := assets.MasterManifestPath(id)
	duration := 42.0
	video, err := registry.UpdateVideo(id, storage.VideoUpdate{
		Status:          &ready,
		ManifestRef:     &manifestRef,
		DurationSeconds: &duration,
	})
	if err != nil {
		t.Fatalf("mark ready: %v", err)
	}
	return video
}

func TestListVideosPagination(t *testing.T) {
	handler, registry, _ := newTestHandler(t)
	for i := 0; i < 5; i++ {
		seedVideo(t, registry, fmt.Sprintf("vid-%d", i), "owner-1", fmt.Sprintf("clip %d", i))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos?page=2&pageSize=2", nil)
	rec := httptest.NewRecorder()
	handler.Videos(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp videoListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 5 || resp.TotalPages != 3 || resp.Page != 2 || resp.PageSize != 2 {
		t.Fatalf("pagination = %+v", resp)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("items = %d", len(resp.Items))
	}
}

func TestListVideosRejectsBadStatus(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/videos?status=bogus", nil)
	rec := httptest.NewRecorder()
	handler.Videos(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetVideoNotFound(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/videos/missing", nil)
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestManifestConflictWhenNotReady(t *testing.T) {
	handler, registry, _ := newTestHandler(t)
	seedVideo(t, registry, "vid-1", "owner-1", "clip")

	req := httptest.NewRequest(http.MethodGet, "/api/videos/vid-1/manifest", nil)
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestManifestServedWhenReady(t *testing.T) {
	handler, registry, store := newTestHandler(t)
	seedVideo(t, registry, "vid-1", "owner-1", "clip")
	video := markReady(t, registry, "vid-1")

	manifest := "#EXTM3U\n#EXT-X-VERSION:3\n"
	if _, err := store.Save(video.ManifestRef, strings.NewReader(manifest)); err != nil {
		t.Fatalf("save manifest: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos/vid-1/manifest", nil)
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != contentTypeHLS {
		t.Errorf("content type = %q", got)
	}
	if rec.Body.String() != manifest {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestSegmentNameValidation(t *testing.T) {
	handler, registry, store := newTestHandler(t)
	seedVideo(t, registry, "vid-1", "owner-1", "clip")
	markReady(t, registry, "vid-1")
	if _, err := store.Save(assets.SegmentPath("vid-1", "480p_00001.ts"), strings.NewReader("segment")); err != nil {
		t.Fatalf("save segment: %v", err)
	}

	tests := []struct {
		name string
		want int
	}{
		{"480p_00001.ts", http.StatusOK},
		{"480p.m3u8", http.StatusNotFound}, // valid name, no asset
		{".hidden.ts", http.StatusBadRequest},
		{"segment.bin", http.StatusBadRequest},
		{"-dash.ts", http.StatusBadRequest},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/videos/vid-1/segments/"+tc.name, nil)
		rec := httptest.NewRecorder()
		handler.VideoByID(rec, req)
		if rec.Code != tc.want {
			t.Errorf("segment %q status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestSegmentsHiddenUntilReady(t *testing.T) {
	handler, registry, store := newTestHandler(t)
	seedVideo(t, registry, "vid-1", "owner-1", "clip")
	if _, err := store.Save(assets.SegmentPath("vid-1", "480p_00001.ts"), strings.NewReader("segment")); err != nil {
		t.Fatalf("save segment: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/videos/vid-1/segments/480p_00001.ts", nil)
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteVideoIsIdempotentFromClientView(t *testing.T) {
	handler, registry, store := newTestHandler(t)
	video := seedVideo(t, registry, "vid-1", "owner-1", "clip")
	if _, err := store.Save(video.SourceRef, strings.NewReader("bytes")); err != nil {
		t.Fatalf("save original: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/videos/vid-1", nil)
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("first delete status = %d, body %s", rec.Code, rec.Body.String())
	}
	if store.Exists(video.SourceRef) {
		t.Error("original should be removed")
	}

	rec = httptest.NewRecorder()
	handler.VideoByID(rec, httptest.NewRequest(http.MethodDelete, "/api/videos/vid-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestThumbnailNotFoundWithoutStill(t *testing.T) {
	handler, registry, _ := newTestHandler(t)
	seedVideo(t, registry, "vid-1", "owner-1", "clip")

	req := httptest.NewRequest(http.MethodGet, "/api/videos/vid-1/thumbnail", nil)
	rec := httptest.NewRecorder()
	handler.VideoByID(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.Healthz(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}
