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

// ContentOpLabel identifies a content catalogue operation and its outcome.
type ContentOpLabel struct {
	Operation string
	Outcome   string
}

// Recorder aggregates in-memory metrics counters and gauges for HTTP requests,
// login outcomes, session lifecycle events, content catalogue operations, and
// backing store health. It coordinates concurrent writers via a RWMutex while
// exposing a thread-safe gauge for active session tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	loginOutcomes    map[string]uint64
	sessionEvents    map[string]uint64
	contentOps       map[ContentOpLabel]uint64
	storeHealthValue map[string]float64
	storeHealthState map[string]string
	activeSessions   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers can
// immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		loginOutcomes:    make(map[string]uint64),
		sessionEvents:    make(map[string]uint64),
		contentOps:       make(map[ContentOpLabel]uint64),
		storeHealthValue: make(map[string]float64),
		storeHealthState: make(map[string]string),
	}
}

// Default returns the singleton Recorder instance shared across helper
// functions for packages that do not require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
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

// ObserveLogin records a login attempt keyed by its outcome (e.g. "success",
// "invalid_credentials", "malformed_header", "throttled", "error").
func (r *Recorder) ObserveLogin(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.loginOutcomes[normalized]++
	r.mu.Unlock()
}

// SessionCreated records a session issue event and increments the active
// session gauge atomically so concurrent logins remain consistent.
func (r *Recorder) SessionCreated() {
	r.incrementSessionEvent("created")
	r.activeSessions.Add(1)
}

// SessionEnded records a session teardown event of the provided kind
// ("revoked" for logout, "expired" for idle expiry) and decrements the active
// session gauge, guarding against negative counts when updates race.
func (r *Recorder) SessionEnded(kind string) {
	r.incrementSessionEvent(kind)
	r.decrementGauge(&r.activeSessions)
}

func (r *Recorder) incrementSessionEvent(event string) {
	normalized := normalizeName(event)
	r.mu.Lock()
	r.sessionEvents[normalized]++
	r.mu.Unlock()
}

// ObserveContentOperation records a content catalogue operation (e.g. "create",
// "update", "read") together with its outcome ("ok", "not_found", "invalid",
// "error").
func (r *Recorder) ObserveContentOperation(operation, outcome string) {
	label := ContentOpLabel{
		Operation: normalizeName(operation),
		Outcome:   normalizeName(outcome),
	}
	r.mu.Lock()
	r.contentOps[label]++
	r.mu.Unlock()
}

// ActiveSessions exposes the current gauge of live sessions.
func (r *Recorder) ActiveSessions() int64 {
	return r.activeSessions.Load()
}

// SetStoreHealth normalizes backing store identifiers, maps status strings to
// numeric health values, and stores both representations for export.
func (r *Recorder) SetStoreHealth(store, status string) {
	normalizedStore := normalizeName(store)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.storeHealthValue[normalizedStore] = value
	r.storeHealthState[normalizedStore] = normalizedStatus
	r.mu.Unlock()
}

// LoginCounts returns a copy of the login outcome counters for testing and
// reporting purposes.
func (r *Recorder) LoginCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.loginOutcomes))
	for k, v := range r.loginOutcomes {
		counts[k] = v
	}
	return counts
}

// ContentOperationCounts returns a copy of the content operation counters.
func (r *Recorder) ContentOperationCounts() map[ContentOpLabel]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[ContentOpLabel]uint64, len(r.contentOps))
	for k, v := range r.contentOps {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.loginOutcomes = make(map[string]uint64)
	r.sessionEvents = make(map[string]uint64)
	r.contentOps = make(map[ContentOpLabel]uint64)
	r.storeHealthValue = make(map[string]float64)
	r.storeHealthState = make(map[string]string)
	r.activeSessions.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting label
// sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	loginOutcomes := r.sortedKeys(r.loginOutcomes)
	sessionEvents := r.sortedKeys(r.sessionEvents)
	contentOps := r.sortedContentOpLabels()
	stores := r.sortedStores()

	fmt.Fprintln(w, "# HELP mediavault_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE mediavault_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediavault_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediavault_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediavault_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "mediavault_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP mediavault_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE mediavault_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediavault_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediavault_login_attempts_total Login attempts by outcome")
	fmt.Fprintln(w, "# TYPE mediavault_login_attempts_total counter")
	for _, outcome := range loginOutcomes {
		count := r.loginOutcomes[outcome]
		fmt.Fprintf(w, "mediavault_login_attempts_total{outcome=\"%s\"} %d\n", outcome, count)
	}

	fmt.Fprintln(w, "# HELP mediavault_session_events_total Session lifecycle events by type")
	fmt.Fprintln(w, "# TYPE mediavault_session_events_total counter")
	for _, event := range sessionEvents {
		count := r.sessionEvents[event]
		fmt.Fprintf(w, "mediavault_session_events_total{event=\"%s\"} %d\n", event, count)
	}

	fmt.Fprintln(w, "# HELP mediavault_active_sessions Current number of live sessions issued by this instance")
	fmt.Fprintln(w, "# TYPE mediavault_active_sessions gauge")
	fmt.Fprintf(w, "mediavault_active_sessions %d\n", r.activeSessions.Load())

	fmt.Fprintln(w, "# HELP mediavault_content_operations_total Content catalogue operations by action and outcome")
	fmt.Fprintln(w, "# TYPE mediavault_content_operations_total counter")
	for _, label := range contentOps {
		count := r.contentOps[label]
		fmt.Fprintf(w, "mediavault_content_operations_total{operation=\"%s\",outcome=\"%s\"} %d\n", label.Operation, label.Outcome, count)
	}

	fmt.Fprintln(w, "# HELP mediavault_store_health Health status reported by backing stores (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE mediavault_store_health gauge")
	for _, store := range stores {
		value := r.storeHealthValue[store]
		status := r.storeHealthState[store]
		fmt.Fprintf(w, "mediavault_store_health{store=\"%s\",status=\"%s\"} %f\n", store, status, value)
	}
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

func (r *Recorder) sortedKeys(counts map[string]uint64) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (r *Recorder) sortedContentOpLabels() []ContentOpLabel {
	labels := make([]ContentOpLabel, 0, len(r.contentOps))
	for label := range r.contentOps {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].Operation != labels[j].Operation {
			return labels[i].Operation < labels[j].Operation
		}
		return labels[i].Outcome < labels[j].Outcome
	})
	return labels
}

func (r *Recorder) sortedStores() []string {
	stores := make([]string, 0, len(r.storeHealthValue))
	for store := range r.storeHealthValue {
		stores = append(stores, store)
	}
	sort.Strings(stores)
	return stores
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
			continue
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
	if len(segment) >= 24 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
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

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// ObserveLogin records a login outcome on the default recorder.
func ObserveLogin(outcome string) {
	defaultRecorder.ObserveLogin(outcome)
}

// SessionCreated increments session counters on the default recorder.
func SessionCreated() {
	defaultRecorder.SessionCreated()
}

// SessionEnded records a session teardown on the default recorder.
func SessionEnded(kind string) {
	defaultRecorder.SessionEnded(kind)
}

// ObserveContentOperation records a content operation on the default recorder.
func ObserveContentOperation(operation, outcome string) {
	defaultRecorder.ObserveContentOperation(operation, outcome)
}

// SetStoreHealth updates backing store health for the default recorder.
func SetStoreHealth(store, status string) {
	defaultRecorder.SetStoreHealth(store, status)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
