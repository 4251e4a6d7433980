// Package metrics aggregates in-memory counters and gauges for HTTP traffic
// and transcoding jobs and renders them in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

type jobLabel struct {
	outcome string
}

// Recorder aggregates request and pipeline metrics. All methods are safe for
// concurrent use.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	videoEvents     map[string]uint64
	jobCount        map[jobLabel]uint64
	jobDuration     map[jobLabel]time.Duration
	uploadBytes     uint64
	queuedJobs      atomic.Int64
	activeJobs      atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can record immediately.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		videoEvents:     make(map[string]uint64),
		jobCount:        make(map[jobLabel]uint64),
		jobDuration:     make(map[jobLabel]time.Duration),
	}
}

// Default returns the singleton Recorder shared by packages that do not carry
// their own instrumentation.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest accumulates request count and cumulative duration by HTTP
// method, normalized path, and status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// ObserveVideoEvent counts a lifecycle event (created, ready, failed, deleted).
func (r *Recorder) ObserveVideoEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.videoEvents[normalized]++
	r.mu.Unlock()
}

// ObserveUploadBytes accumulates the total number of original bytes accepted.
func (r *Recorder) ObserveUploadBytes(n int64) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.uploadBytes += uint64(n)
	r.mu.Unlock()
}

// JobEnqueued increments the queued job gauge.
func (r *Recorder) JobEnqueued() {
	r.queuedJobs.Add(1)
}

// JobStarted moves a job from queued to active.
func (r *Recorder) JobStarted() {
	decrementGauge(&r.queuedJobs)
	r.activeJobs.Add(1)
}

// JobFinished records a completed job by outcome and releases the active
// gauge. Outcome is normally "ready" or "error".
func (r *Recorder) JobFinished(outcome string, duration time.Duration) {
	label := jobLabel{outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.jobCount[label]++
	r.jobDuration[label] += duration
	r.mu.Unlock()
	decrementGauge(&r.activeJobs)
}

// ActiveJobs exposes the current number of in-flight transcoding jobs.
func (r *Recorder) ActiveJobs() int64 {
	return r.activeJobs.Load()
}

// QueuedJobs exposes the current number of jobs waiting for a worker.
func (r *Recorder) QueuedJobs() int64 {
	return r.queuedJobs.Load()
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.videoEvents = make(map[string]uint64)
	r.jobCount = make(map[jobLabel]uint64)
	r.jobDuration = make(map[jobLabel]time.Duration)
	r.uploadBytes = 0
	r.mu.Unlock()
	r.queuedJobs.Store(0)
	r.activeJobs.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing Prometheus text
// exposition data.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics with sorted label sets so scrapes and tests see
// stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	videoEvents := sortedKeys(r.videoEvents)
	jobLabels := r.sortedJobLabels()

	fmt.Fprintln(w, "# HELP reelworks_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE reelworks_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "reelworks_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP reelworks_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE reelworks_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "reelworks_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP reelworks_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE reelworks_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "reelworks_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP reelworks_video_events_total Video lifecycle events by type")
	fmt.Fprintln(w, "# TYPE reelworks_video_events_total counter")
	for _, event := range videoEvents {
		fmt.Fprintf(w, "reelworks_video_events_total{event=\"%s\"} %d\n", event, r.videoEvents[event])
	}

	fmt.Fprintln(w, "# HELP reelworks_upload_bytes_total Total original bytes accepted by the ingest endpoint")
	fmt.Fprintln(w, "# TYPE reelworks_upload_bytes_total counter")
	fmt.Fprintf(w, "reelworks_upload_bytes_total %d\n", r.uploadBytes)

	fmt.Fprintln(w, "# HELP reelworks_transcode_jobs_total Completed transcoding jobs by outcome")
	fmt.Fprintln(w, "# TYPE reelworks_transcode_jobs_total counter")
	for _, label := range jobLabels {
		fmt.Fprintf(w, "reelworks_transcode_jobs_total{outcome=\"%s\"} %d\n", label.outcome, r.jobCount[label])
	}

	fmt.Fprintln(w, "# HELP reelworks_transcode_job_duration_seconds_sum Cumulative transcoding job duration in seconds by outcome")
	fmt.Fprintln(w, "# TYPE reelworks_transcode_job_duration_seconds_sum counter")
	for _, label := range jobLabels {
		fmt.Fprintf(w, "reelworks_transcode_job_duration_seconds_sum{outcome=\"%s\"} %f\n", label.outcome, r.jobDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP reelworks_transcode_queue_depth Current number of jobs waiting for a worker")
	fmt.Fprintln(w, "# TYPE reelworks_transcode_queue_depth gauge")
	fmt.Fprintf(w, "reelworks_transcode_queue_depth %d\n", r.queuedJobs.Load())

	fmt.Fprintln(w, "# HELP reelworks_transcode_active_jobs Current number of jobs being processed")
	fmt.Fprintln(w, "# TYPE reelworks_transcode_active_jobs gauge")
	fmt.Fprintf(w, "reelworks_transcode_active_jobs %d\n", r.activeJobs.Load())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func (r *Recorder) sortedJobLabels() []jobLabel {
	labels := make([]jobLabel, 0, len(r.jobCount))
	for label := range r.jobCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i].outcome < labels[j].outcome })
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 4
}

func decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest records on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveVideoEvent counts a lifecycle event on the default recorder.
func ObserveVideoEvent(event string) {
	defaultRecorder.ObserveVideoEvent(event)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
