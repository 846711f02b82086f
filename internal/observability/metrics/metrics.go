// Package metrics provides a dependency-free Prometheus-style recorder for
// HTTP traffic and the upload pipeline.
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
	Method string
	Path   string
	Status int
}

type requestStats struct {
	count         uint64
	totalDuration time.Duration
}

// Recorder aggregates counters exposed on the /metrics endpoint.
type Recorder struct {
	mu               sync.Mutex
	requests         map[requestLabel]*requestStats
	pipelineFailures map[string]uint64
	uploadsStarted   atomic.Uint64
	uploadsCompleted atomic.Uint64
	activeTranscodes atomic.Int64
}

func New() *Recorder {
	return &Recorder{
		requests:         make(map[requestLabel]*requestStats),
		pipelineFailures: make(map[string]uint64),
	}
}

var defaultRecorder = New()

// Default returns the process-wide recorder instance.
func Default() *Recorder {
	return defaultRecorder
}

func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{Method: method, Path: normalizePath(path), Status: status}
	r.mu.Lock()
	stats, ok := r.requests[label]
	if !ok {
		stats = &requestStats{}
		r.requests[label] = stats
	}
	stats.count++
	stats.totalDuration += duration
	r.mu.Unlock()
}

// UploadStarted records a pipeline run entering validation.
func (r *Recorder) UploadStarted() {
	r.uploadsStarted.Add(1)
}

// UploadCompleted records a pipeline run finishing cleanup.
func (r *Recorder) UploadCompleted() {
	r.uploadsCompleted.Add(1)
}

// UploadFailed records a pipeline failure labelled with the stage it died in.
func (r *Recorder) UploadFailed(stage string) {
	if stage == "" {
		stage = "unknown"
	}
	r.mu.Lock()
	r.pipelineFailures[stage]++
	r.mu.Unlock()
}

// TranscodeStarted increments the gauge of in-flight external tool runs.
func (r *Recorder) TranscodeStarted() {
	r.activeTranscodes.Add(1)
}

// TranscodeFinished decrements the in-flight gauge, clamping at zero.
func (r *Recorder) TranscodeFinished() {
	for {
		current := r.activeTranscodes.Load()
		next := current - 1
		if next < 0 {
			next = 0
		}
		if r.activeTranscodes.CompareAndSwap(current, next) {
			return
		}
	}
}

// ActiveTranscodes reports the current in-flight external tool runs.
func (r *Recorder) ActiveTranscodes() int64 {
	return r.activeTranscodes.Load()
}

// UploadCounts returns started/completed totals and per-stage failures.
func (r *Recorder) UploadCounts() (started, completed uint64, failures map[string]uint64) {
	r.mu.Lock()
	failures = make(map[string]uint64, len(r.pipelineFailures))
	for stage, count := range r.pipelineFailures {
		failures[stage] = count
	}
	r.mu.Unlock()
	return r.uploadsStarted.Load(), r.uploadsCompleted.Load(), failures
}

// Reset clears all recorded values. Intended for tests.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requests = make(map[requestLabel]*requestStats)
	r.pipelineFailures = make(map[string]uint64)
	r.mu.Unlock()
	r.uploadsStarted.Store(0)
	r.uploadsCompleted.Store(0)
	r.activeTranscodes.Store(0)
}

// Handler exposes the recorder in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

func (r *Recorder) Write(w io.Writer) {
	fmt.Fprintln(w, "# HELP lumeroo_http_requests_total Total HTTP requests processed.")
	fmt.Fprintln(w, "# TYPE lumeroo_http_requests_total counter")
	for _, label := range r.sortedRequestLabels() {
		r.mu.Lock()
		stats, ok := r.requests[label]
		var count uint64
		var total time.Duration
		if ok {
			count = stats.count
			total = stats.totalDuration
		}
		r.mu.Unlock()
		fmt.Fprintf(w, "lumeroo_http_requests_total{method=%q,path=%q,status=\"%d\"} %d\n",
			label.Method, label.Path, label.Status, count)
		fmt.Fprintf(w, "lumeroo_http_request_duration_ms_sum{method=%q,path=%q,status=\"%d\"} %d\n",
			label.Method, label.Path, label.Status, total.Milliseconds())
	}

	started, completed, failures := r.UploadCounts()
	fmt.Fprintln(w, "# HELP lumeroo_uploads_total Upload pipeline runs by outcome.")
	fmt.Fprintln(w, "# TYPE lumeroo_uploads_total counter")
	fmt.Fprintf(w, "lumeroo_uploads_total{outcome=\"started\"} %d\n", started)
	fmt.Fprintf(w, "lumeroo_uploads_total{outcome=\"completed\"} %d\n", completed)
	stages := make([]string, 0, len(failures))
	for stage := range failures {
		stages = append(stages, stage)
	}
	sort.Strings(stages)
	for _, stage := range stages {
		fmt.Fprintf(w, "lumeroo_upload_failures_total{stage=%q} %d\n", stage, failures[stage])
	}

	fmt.Fprintln(w, "# HELP lumeroo_active_transcodes In-flight external tool invocations.")
	fmt.Fprintln(w, "# TYPE lumeroo_active_transcodes gauge")
	fmt.Fprintf(w, "lumeroo_active_transcodes %d\n", r.ActiveTranscodes())
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	r.mu.Lock()
	labels := make([]requestLabel, 0, len(r.requests))
	for label := range r.requests {
		labels = append(labels, label)
	}
	r.mu.Unlock()
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Path != labels[j].Path {
			return labels[i].Path < labels[j].Path
		}
		if labels[i].Method != labels[j].Method {
			return labels[i].Method < labels[j].Method
		}
		return labels[i].Status < labels[j].Status
	})
	return labels
}

// normalizePath collapses per-resource segments so the label cardinality stays
// bounded. Slugs and IDs become ":id".
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if i <= 1 || segment == "" {
			continue
		}
		if looksLikeIdentifier(segment) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	hasDigit := false
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			hasDigit = true
		}
	}
	return hasDigit && strings.Contains(segment, "-")
}

// ObserveRequest records a request on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
