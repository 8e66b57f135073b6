package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics regroupe les métriques Prometheus du moteur d'analyse
type Metrics struct {
	registry *prometheus.Registry

	ReportsComputed  prometheus.Counter
	ReportDuration   prometheus.Histogram
	SectionDuration  *prometheus.HistogramVec
	DatasetLoads     *prometheus.CounterVec
	DatasetRows      *prometheus.GaugeVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPRequestDelay *prometheus.HistogramVec
}

// New enregistre chaque métrique sur un registre dédié : plusieurs instances
// (tests, serveurs embarqués) ne se marchent pas dessus.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ReportsComputed: factory.NewCounter(prometheus.CounterOpts{
			Name: "analytics_reports_computed_total",
			Help: "Total number of dashboard reports computed",
		}),
		ReportDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "analytics_report_duration_seconds",
			Help:    "Duration of a full report computation in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		SectionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analytics_section_duration_seconds",
			Help:    "Duration of each report section in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"section"}),
		DatasetLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_dataset_loads_total",
			Help: "Total number of dataset loads by outcome",
		}, []string{"status"}),
		DatasetRows: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "analytics_dataset_rows",
			Help: "Rows loaded per source table",
		}, []string{"table"}),
		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_cache_hits_total",
			Help: "Cache hits by cache name",
		}, []string{"cache"}),
		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_cache_misses_total",
			Help: "Cache misses by cache name",
		}, []string{"cache"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "analytics_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDelay: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "analytics_http_request_duration_seconds",
			Help:    "HTTP request duration by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Handler expose le registre au format texte Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
