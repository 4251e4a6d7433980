package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestObserveRequestAggregates(t *testing.T) {
	rec := New()
	rec.ObserveRequest("get", "/api/videos", 200, 20*time.Millisecond)
	rec.ObserveRequest("GET", "/api/videos", 200, 30*time.Millisecond)

	var out strings.Builder
	rec.Write(&out)
	body := out.String()

	if !strings.Contains(body, `reelworks_http_requests_total{method="GET",path="/api/videos",status="200"} 2`) {
		t.Fatalf("request count missing:\n%s", body)
	}
	if !strings.Contains(body, `reelworks_http_request_duration_seconds_sum{method="GET",path="/api/videos",status="200"} 0.05`) {
		t.Fatalf("duration sum missing:\n%s", body)
	}
}

func TestNormalizePathCollapsesIdentifiers(t *testing.T) {
	cases := map[string]string{
		"/":                              "/",
		"/api/videos":                    "/api/videos",
		"/api/videos/9f8e7d6c5b4a39281706": "/api/videos/:id",
		"/api/videos/9f8e7d6c5b4a39281706/manifest": "/api/videos/:id/manifest",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestJobGauges(t *testing.T) {
	rec := New()
	rec.JobEnqueued()
	rec.JobEnqueued()
	if rec.QueuedJobs() != 2 {
		t.Fatalf("queued = %d", rec.QueuedJobs())
	}

	rec.JobStarted()
	if rec.QueuedJobs() != 1 || rec.ActiveJobs() != 1 {
		t.Fatalf("queued = %d active = %d", rec.QueuedJobs(), rec.ActiveJobs())
	}

	rec.JobFinished("ready", 100*time.Millisecond)
	if rec.ActiveJobs() != 0 {
		t.Fatalf("active = %d", rec.ActiveJobs())
	}

	// Finishing a job that never started must not drive the gauge negative.
	rec.JobFinished("error", time.Millisecond)
	if rec.ActiveJobs() != 0 {
		t.Fatalf("active went negative: %d", rec.ActiveJobs())
	}

	var out strings.Builder
	rec.Write(&out)
	body := out.String()
	if !strings.Contains(body, `reelworks_transcode_jobs_total{outcome="ready"} 1`) {
		t.Fatalf("ready outcome missing:\n%s", body)
	}
	if !strings.Contains(body, `reelworks_transcode_jobs_total{outcome="error"} 1`) {
		t.Fatalf("error outcome missing:\n%s", body)
	}
}

func TestVideoEventsAndUploadBytes(t *testing.T) {
	rec := New()
	rec.ObserveVideoEvent("created")
	rec.ObserveVideoEvent("Created")
	rec.ObserveVideoEvent("")
	rec.ObserveUploadBytes(1024)
	rec.ObserveUploadBytes(-5)

	var out strings.Builder
	rec.Write(&out)
	body := out.String()
	if !strings.Contains(body, `reelworks_video_events_total{event="created"} 2`) {
		t.Fatalf("created count missing:\n%s", body)
	}
	if !strings.Contains(body, `reelworks_video_events_total{event="unknown"} 1`) {
		t.Fatalf("unknown count missing:\n%s", body)
	}
	if !strings.Contains(body, "reelworks_upload_bytes_total 1024") {
		t.Fatalf("upload bytes missing:\n%s", body)
	}
}

func TestResetClearsState(t *testing.T) {
	rec := New()
	rec.ObserveRequest("GET", "/healthz", 200, time.Millisecond)
	rec.JobEnqueued()
	rec.Reset()

	if rec.QueuedJobs() != 0 {
		t.Fatalf("queued = %d after reset", rec.QueuedJobs())
	}
	var out strings.Builder
	rec.Write(&out)
	if strings.Contains(out.String(), "/healthz") {
		t.Fatal("request labels survived reset")
	}
}
