package handlers

import (
	"net/http"
	"time"

	"github.com/civix/civix-api/api"
)

const (
	defaultMetricsLimit = 20
	maxMetricsLimit     = 100
)

// routeView is a route's timings in whole milliseconds
type routeView struct {
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	Count       int64     `json:"count"`
	ErrorCount  int64     `json:"errorCount"`
	ErrorRate   float64   `json:"errorRate"`
	AvgMs       int64     `json:"avgTime"`
	MinMs       int64     `json:"minTime"`
	MaxMs       int64     `json:"maxTime"`
	P95Ms       int64     `json:"p95Time"`
	LastRequest time.Time `json:"lastRequest"`
}

type metricsDashboard struct {
	Summary        api.Summary `json:"summary"`
	SlowestRoutes  []routeView `json:"slowestRoutes"`
	FrequentRoutes []routeView `json:"frequentRoutes"`
}

func toRouteViews(routes []api.RouteMetrics) []routeView {
	out := make([]routeView, 0, len(routes))
	for _, rm := range routes {
		v := routeView{
			Method:      rm.Method,
			Path:        rm.Path,
			Count:       rm.Count,
			ErrorCount:  rm.ErrorCount,
			AvgMs:       rm.AvgTime.Milliseconds(),
			MinMs:       rm.MinTime.Milliseconds(),
			MaxMs:       rm.MaxTime.Milliseconds(),
			P95Ms:       rm.P95Time.Milliseconds(),
			LastRequest: rm.LastRequest,
		}
		if rm.Count > 0 {
			v.ErrorRate = float64(rm.ErrorCount) / float64(rm.Count)
		}
		out = append(out, v)
	}
	return out
}

// MetricsHandler serves the admin request metrics dashboard
type MetricsHandler struct {
	Collector *api.MetricsCollector
}

// GetMetricsDashboard returns request totals plus the slowest and busiest routes. ?limit caps each list.
func (m MetricsHandler) GetMetricsDashboard(w http.ResponseWriter, r *http.Request) {
	collector := m.Collector
	if collector == nil {
		collector = api.GetMetrics()
	}
	limit := queryInt(r, "limit", defaultMetricsLimit)
	if limit > maxMetricsLimit {
		limit = maxMetricsLimit
	}
	writeJSON(w, http.StatusOK, metricsDashboard{
		Summary:        collector.Summary(),
		SlowestRoutes:  toRouteViews(collector.GetSlowestRoutes(limit)),
		FrequentRoutes: toRouteViews(collector.GetMostFrequentRoutes(limit)),
	})
}
