package monitoring

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cardiovision/ml"
)

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Metrics holds the Prometheus collectors of the service.
//
//   - cardio_predictions_total{label}
//   - cardio_prediction_batches_total{status}
//   - cardio_prediction_batch_size
//   - cardio_prediction_duration_seconds
//   - cardio_model_loads_total{status}
//   - cardio_model_loaded
//   - cardio_http_requests_total{method,status}
//   - cardio_http_request_duration_seconds{method}
type Metrics struct {
	PredictionsTotal     *prometheus.CounterVec
	BatchesTotal         *prometheus.CounterVec
	BatchSize            prometheus.Histogram
	PredictionDuration   prometheus.Histogram
	ModelLoadsTotal      *prometheus.CounterVec
	ModelLoaded          prometheus.Gauge
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	EventClientsGauge    prometheus.GaugeFunc
	eventClientsRegister sync.Once
	registerer           prometheus.Registerer
}

// DefaultMetrics registers the collectors on the default registry exactly
// once per process.
func DefaultMetrics() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics registers a fresh set of collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registerer: reg,
		PredictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardio_predictions_total",
				Help: "Total number of patients predicted, by label",
			},
			[]string{"label"}, // "high_risk" or "low_risk"
		),
		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardio_prediction_batches_total",
				Help: "Total number of prediction batches, by outcome",
			},
			[]string{"status"}, // "ok" or "error"
		),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardio_prediction_batch_size",
			Help:    "Number of patients per prediction batch",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		PredictionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cardio_prediction_duration_seconds",
			Help:    "Duration of prediction batches in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		ModelLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardio_model_loads_total",
				Help: "Total number of model load attempts, by outcome",
			},
			[]string{"status"},
		),
		ModelLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cardio_model_loaded",
			Help: "1 once the model artifact is loaded",
		}),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardio_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardio_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
	}
}

// ObserveBatch implements ml.BatchObserver.
func (m *Metrics) ObserveBatch(size int, duration time.Duration, predictions []ml.Prediction, err error) {
	if err != nil {
		m.BatchesTotal.WithLabelValues("error").Inc()
		return
	}
	m.BatchesTotal.WithLabelValues("ok").Inc()
	m.BatchSize.Observe(float64(size))
	m.PredictionDuration.Observe(duration.Seconds())
	for _, p := range predictions {
		if p.Label == ml.HighRisk {
			m.PredictionsTotal.WithLabelValues("high_risk").Inc()
		} else {
			m.PredictionsTotal.WithLabelValues("low_risk").Inc()
		}
	}
}

// ObserveModelLoad is installed as a ml.ModelHandle load hook.
func (m *Metrics) ObserveModelLoad(err error) {
	if err != nil {
		m.ModelLoadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.ModelLoadsTotal.WithLabelValues("ok").Inc()
	m.ModelLoaded.Set(1)
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// TrackEventClients exports the number of connected event clients.
func (m *Metrics) TrackEventClients(hub *EventHub) {
	m.eventClientsRegister.Do(func() {
		m.EventClientsGauge = promauto.With(m.registerer).NewGaugeFunc(prometheus.GaugeOpts{
			Name: "cardio_event_clients",
			Help: "Number of connected websocket event clients",
		}, func() float64 { return float64(hub.ClientCount()) })
	})
}

// Handler serves the registry the metrics were registered on.
func (m *Metrics) Handler() http.Handler {
	if g, ok := m.registerer.(prometheus.Gatherer); ok {
		return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
