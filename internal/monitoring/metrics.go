package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	AcquisitionsTotal *prometheus.CounterVec
	ObservationsSaved prometheus.Counter
	OutliersFlagged   *prometheus.CounterVec
	ErrorsTotal       *prometheus.CounterVec
	SourceDuration    *prometheus.HistogramVec
	TasksTotal        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		AcquisitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medprice_acquisitions_total",
			Help: "The total number of acquisition runs, by method used",
		}, []string{"method"}),
		ObservationsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medprice_observations_saved_total",
			Help: "The total number of new price observations persisted",
		}),
		OutliersFlagged: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medprice_outliers_flagged_total",
			Help: "The total number of observations flagged as outliers",
		}, []string{"flag"}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medprice_errors_total",
			Help: "The total number of errors encountered",
		}, []string{"type"}), // e.g. 'fast_source', 'completeness_source', 'db_save_failed'
		SourceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medprice_source_duration_seconds",
			Help:    "Upstream source call latency",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"source"}),
		TasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medprice_tasks_total",
			Help: "The total number of acquisition tasks, by terminal status",
		}, []string{"status"}),
	}
}

func (m *Metrics) IncAcquisition(method string) {
	m.AcquisitionsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) IncErrorsTotal(errorType string) {
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) ObserveSource(source string, d time.Duration) {
	m.SourceDuration.WithLabelValues(source).Observe(d.Seconds())
}
