package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// Metrics stores application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	AnalysesTotal      uint64
	AnalysesRunning    uint64
	AnalysesFailed     uint64
	StartTime          time.Time

	mu          sync.Mutex
	failures    map[domain.Kind]uint64
	toolRuns    map[domain.ToolID]map[domain.ToolStatus]uint64
	toolMillis  map[domain.ToolID]int64
	analysisMax int64
}

var globalMetrics = newMetrics()

func newMetrics() *Metrics {
	return &Metrics{
		StartTime:  time.Now(),
		failures:   make(map[domain.Kind]uint64),
		toolRuns:   make(map[domain.ToolID]map[domain.ToolStatus]uint64),
		toolMillis: make(map[domain.ToolID]int64),
	}
}

// IncrementRequests increments total request counter
func IncrementRequests() {
	atomic.AddUint64(&globalMetrics.RequestsTotal, 1)
}

// IncrementInProgress increments in-progress request counter
func IncrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, 1)
}

// DecrementInProgress decrements in-progress request counter
func DecrementInProgress() {
	atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0))
}

// IncrementSuccess increments successful request counter
func IncrementSuccess() {
	atomic.AddUint64(&globalMetrics.RequestsSuccess, 1)
}

// IncrementFailed increments failed request counter
func IncrementFailed() {
	atomic.AddUint64(&globalMetrics.RequestsFailed, 1)
}

// AnalysisMetrics feeds orchestrator outcomes into the global counters.
type AnalysisMetrics struct{}

func (AnalysisMetrics) AnalysisStarted() {
	atomic.AddUint64(&globalMetrics.AnalysesTotal, 1)
	atomic.AddUint64(&globalMetrics.AnalysesRunning, 1)
}

func (AnalysisMetrics) AnalysisFinished(kind domain.Kind, d time.Duration) {
	atomic.AddUint64(&globalMetrics.AnalysesRunning, ^uint64(0))
	m := globalMetrics
	m.mu.Lock()
	defer m.mu.Unlock()
	if kind != "" {
		atomic.AddUint64(&m.AnalysesFailed, 1)
		m.failures[kind]++
	}
	if ms := d.Milliseconds(); ms > m.analysisMax {
		m.analysisMax = ms
	}
}

func (AnalysisMetrics) ToolFinished(id domain.ToolID, status domain.ToolStatus, d time.Duration) {
	m := globalMetrics
	m.mu.Lock()
	defer m.mu.Unlock()
	byStatus := m.toolRuns[id]
	if byStatus == nil {
		byStatus = make(map[domain.ToolStatus]uint64)
		m.toolRuns[id] = byStatus
	}
	byStatus[status]++
	m.toolMillis[id] += d.Milliseconds()
}

// GetMetrics returns current metrics
func GetMetrics() map[string]interface{} {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m := globalMetrics
	m.mu.Lock()
	failures := make(map[domain.Kind]uint64, len(m.failures))
	for k, v := range m.failures {
		failures[k] = v
	}
	tools := make(map[domain.ToolID]interface{}, len(m.toolRuns))
	for id, byStatus := range m.toolRuns {
		runs := make(map[domain.ToolStatus]uint64, len(byStatus))
		for s, n := range byStatus {
			runs[s] = n
		}
		tools[id] = map[string]interface{}{
			"runs":        runs,
			"duration_ms": m.toolMillis[id],
		}
	}
	slowest := m.analysisMax
	m.mu.Unlock()

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&m.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&m.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&m.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&m.RequestsFailed),
		"analyses_total":       atomic.LoadUint64(&m.AnalysesTotal),
		"analyses_running":     atomic.LoadUint64(&m.AnalysesRunning),
		"analyses_failed":      atomic.LoadUint64(&m.AnalysesFailed),
		"analysis_failures":    failures,
		"analysis_slowest_ms":  slowest,
		"tools":                tools,
		"uptime_seconds":       time.Since(m.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       mem.Alloc,
			"total_alloc_bytes": mem.TotalAlloc,
			"sys_bytes":         mem.Sys,
			"num_gc":            mem.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		IncrementRequests()
		IncrementInProgress()
		defer DecrementInProgress()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			IncrementSuccess()
		} else {
			IncrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON
func MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetMetrics())
}
