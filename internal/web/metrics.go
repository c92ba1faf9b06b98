package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"calgrid/internal/ics"
)

// Metrics owns a private Prometheus registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	layoutPacks     prometheus.Counter
	layoutColumns   prometheus.Histogram
	directives      *prometheus.CounterVec
	syncs           *prometheus.CounterVec
	syncDuration    prometheus.Histogram
	staleSources    prometheus.Counter
}

// NewMetrics registers the collectors. eventCount, if non-nil, is exported as
// a gauge.
func NewMetrics(eventCount func() int) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calgrid_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calgrid_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		layoutPacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calgrid_layout_packs_total",
			Help: "Day layouts computed by the column packer",
		}),
		layoutColumns: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calgrid_layout_columns",
			Help:    "Total columns per packed day",
			Buckets: []float64{0, 1, 2, 3, 4, 6, 8, 12},
		}),
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calgrid_split_directives_total",
			Help: "Directives applied after partial deletes",
		}, []string{"kind"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calgrid_ics_syncs_total",
			Help: "ICS import runs",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "calgrid_ics_sync_duration_seconds",
			Help:    "Duration of ICS import runs",
			Buckets: prometheus.DefBuckets,
		}),
		staleSources: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calgrid_ics_stale_sources_total",
			Help: "Sources imported from their cached feed after a failed download",
		}),
	}

	registry.MustRegister(
		m.requestDuration, m.requestTotal,
		m.layoutPacks, m.layoutColumns,
		m.directives, m.syncs, m.syncDuration, m.staleSources,
		collectors.NewGoCollector(),
	)
	if eventCount != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "calgrid_events",
			Help: "Events currently in the store",
		}, func() float64 { return float64(eventCount()) }))
	}

	m.handler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	return m
}

// Handler exposes the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	s := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, route, s).Observe(d.Seconds())
	m.requestTotal.WithLabelValues(method, route, s).Inc()
}

func (m *Metrics) ObserveLayout(totalColumns int) {
	if m == nil {
		return
	}
	m.layoutPacks.Inc()
	m.layoutColumns.Observe(float64(totalColumns))
}

func (m *Metrics) CountDirective(kind string) {
	if m == nil {
		return
	}
	m.directives.WithLabelValues(kind).Inc()
}

// ObserveSync matches ics.Importer.OnSync.
func (m *Metrics) ObserveSync(report ics.SyncReport, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case len(report.Stale) > 0:
		result = "stale"
	}
	m.syncs.WithLabelValues(result).Inc()
	m.syncDuration.Observe(report.Duration.Seconds())
	m.staleSources.Add(float64(len(report.Stale)))
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (m *Metrics) middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}
