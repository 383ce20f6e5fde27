package api

import (
	"regexp"
	"sort"
	"sync"
	"time"
)

// RequestTrace records timing for a single request
type RequestTrace struct {
	RequestID string        `json:"requestId"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Status    int           `json:"status"`
	StartTime time.Time     `json:"startTime"`
	Duration  time.Duration `json:"duration"`
}

// RouteMetrics aggregates metrics for a specific route
type RouteMetrics struct {
	Method      string        `json:"method"`
	Path        string        `json:"path"`
	Count       int64         `json:"count"`
	ErrorCount  int64         `json:"errorCount"`
	TotalTime   time.Duration `json:"totalTime"`
	AvgTime     time.Duration `json:"avgTime"`
	MinTime     time.Duration `json:"minTime"`
	MaxTime     time.Duration `json:"maxTime"`
	P95Time     time.Duration `json:"p95Time"`
	LastRequest time.Time     `json:"lastRequest"`
}

// Summary is the collector-wide view
type Summary struct {
	TotalRequests int64     `json:"totalRequests"`
	TotalErrors   int64     `json:"totalErrors"`
	Routes        int       `json:"routes"`
	Since         time.Time `json:"since"`
}

// MetricsCollector collects and aggregates request metrics. Traces are queued on
// a buffered channel and dropped when it is full so recording never blocks a request.
type MetricsCollector struct {
	mu            sync.RWMutex
	traces        []RequestTrace
	maxTraces     int
	routeMetrics  map[string]*RouteMetrics
	since         time.Time
	totalRequests int64
	totalErrors   int64
	traceChan     chan RequestTrace
	stopChan      chan struct{}
	stopOnce      sync.Once
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// NewMetricsCollector starts a collector keeping the last maxTraces traces
func NewMetricsCollector(maxTraces int) *MetricsCollector {
	mc := &MetricsCollector{
		traces:       make([]RequestTrace, 0, maxTraces),
		maxTraces:    maxTraces,
		routeMetrics: make(map[string]*RouteMetrics),
		since:        time.Now(),
		traceChan:    make(chan RequestTrace, 1000),
		stopChan:     make(chan struct{}),
	}
	go mc.processTraces()
	return mc
}

// GetMetrics returns the process-wide collector
func GetMetrics() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector(5000)
	})
	return globalMetrics
}

// RecordTrace queues a trace without blocking
func (mc *MetricsCollector) RecordTrace(trace RequestTrace) {
	select {
	case mc.traceChan <- trace:
	default:
	}
}

// Stop ends background processing
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
}

func (mc *MetricsCollector) processTraces() {
	for {
		select {
		case trace := <-mc.traceChan:
			mc.processTrace(trace)
		case <-mc.stopChan:
			return
		}
	}
}

func (mc *MetricsCollector) processTrace(trace RequestTrace) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	trace.Path = normalizeRoutePath(trace.Path)
	if len(mc.traces) >= mc.maxTraces {
		mc.traces = mc.traces[1:]
	}
	mc.traces = append(mc.traces, trace)

	routeKey := trace.Method + " " + trace.Path
	metrics, exists := mc.routeMetrics[routeKey]
	if !exists {
		metrics = &RouteMetrics{Method: trace.Method, Path: trace.Path, MinTime: trace.Duration}
		mc.routeMetrics[routeKey] = metrics
	}

	metrics.Count++
	metrics.TotalTime += trace.Duration
	metrics.AvgTime = metrics.TotalTime / time.Duration(metrics.Count)
	metrics.LastRequest = trace.StartTime
	if trace.Duration < metrics.MinTime {
		metrics.MinTime = trace.Duration
	}
	if trace.Duration > metrics.MaxTime {
		metrics.MaxTime = trace.Duration
	}

	mc.totalRequests++
	if trace.Status >= 400 {
		metrics.ErrorCount++
		mc.totalErrors++
	}

	// percentiles are refreshed every 20 requests per route
	if metrics.Count%20 == 1 {
		metrics.P95Time = mc.percentile(routeKey, 0.95)
	}
}

func (mc *MetricsCollector) percentile(routeKey string, p float64) time.Duration {
	var durations []time.Duration
	for _, t := range mc.traces {
		if t.Method+" "+t.Path == routeKey {
			durations = append(durations, t.Duration)
		}
	}
	if len(durations) == 0 {
		return 0
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	idx := int(float64(len(durations)) * p)
	if idx >= len(durations) {
		idx = len(durations) - 1
	}
	return durations[idx]
}

// Summary returns totals across all routes
func (mc *MetricsCollector) Summary() Summary {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return Summary{
		TotalRequests: mc.totalRequests,
		TotalErrors:   mc.totalErrors,
		Routes:        len(mc.routeMetrics),
		Since:         mc.since,
	}
}

// GetSlowestRoutes returns routes by average time, slowest first
func (mc *MetricsCollector) GetSlowestRoutes(limit int) []RouteMetrics {
	return mc.topRoutes(limit, func(a, b RouteMetrics) bool { return a.AvgTime > b.AvgTime })
}

// GetMostFrequentRoutes returns routes by request count, busiest first
func (mc *MetricsCollector) GetMostFrequentRoutes(limit int) []RouteMetrics {
	return mc.topRoutes(limit, func(a, b RouteMetrics) bool { return a.Count > b.Count })
}

func (mc *MetricsCollector) topRoutes(limit int, less func(a, b RouteMetrics) bool) []RouteMetrics {
	mc.mu.RLock()
	routes := make([]RouteMetrics, 0, len(mc.routeMetrics))
	for _, m := range mc.routeMetrics {
		routes = append(routes, *m)
	}
	mc.mu.RUnlock()

	sort.Slice(routes, func(i, j int) bool {
		if less(routes[i], routes[j]) != less(routes[j], routes[i]) {
			return less(routes[i], routes[j])
		}
		return routes[i].Method+routes[i].Path < routes[j].Method+routes[j].Path
	})
	if limit > 0 && len(routes) > limit {
		routes = routes[:limit]
	}
	return routes
}

var (
	objectIDPattern  = regexp.MustCompile(`/[0-9a-fA-F]{24}(/|$)`)
	complaintPattern = regexp.MustCompile(`/CIV-[0-9]+-[0-9a-fA-F]+(/|$)`)
)

// normalizeRoutePath folds ids into placeholders so requests for different
// documents share one route entry
func normalizeRoutePath(path string) string {
	path = objectIDPattern.ReplaceAllString(path, "/{id}$1")
	path = complaintPattern.ReplaceAllString(path, "/{complaintId}$1")
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}
