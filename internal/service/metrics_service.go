package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the verification, ledger and alerting pipelines.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	verifications *prometheus.CounterVec
	qrConsumes    *prometheus.CounterVec
	feeSweeps     prometheus.Counter
	statusChanges prometheus.Counter
	alertsFired   *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	verifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_verifications_total",
		Help: "Attendance submissions by method and outcome",
	}, []string{"method", "outcome"})

	qrConsumes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "qr_consumes_total",
		Help: "QR token consumption attempts by outcome",
	}, []string{"outcome"})

	feeSweeps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_sweeps_total",
		Help: "Completed fee ledger sweeps",
	})

	statusChanges := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fee_status_changes_total",
		Help: "Fee records whose status changed during recomputation",
	})

	alertsFired := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_fired_total",
		Help: "Alert events emitted by rule",
	}, []string{"rule"})

	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Notification delivery attempts by channel and outcome",
	}, []string{"channel", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, verifications, qrConsumes,
		feeSweeps, statusChanges, alertsFired, deliveries, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		verifications:   verifications,
		qrConsumes:      qrConsumes,
		feeSweeps:       feeSweeps,
		statusChanges:   statusChanges,
		alertsFired:     alertsFired,
		deliveries:      deliveries,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := []string{method, path, fmt.Sprintf("%d", status)}
	m.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(labels...).Inc()
}

// ObserveVerification records one attendance submission outcome.
func (m *MetricsService) ObserveVerification(method, outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(method, outcome).Inc()
}

// ObserveQRConsume records one token consumption outcome.
func (m *MetricsService) ObserveQRConsume(outcome string) {
	if m == nil {
		return
	}
	m.qrConsumes.WithLabelValues(outcome).Inc()
}

// ObserveFeeSweep records one completed sweep and its status changes.
func (m *MetricsService) ObserveFeeSweep(changed int) {
	if m == nil {
		return
	}
	m.feeSweeps.Inc()
	m.statusChanges.Add(float64(changed))
}

// ObserveAlertFired records one emitted alert event.
func (m *MetricsService) ObserveAlertFired(rule string) {
	if m == nil {
		return
	}
	m.alertsFired.WithLabelValues(rule).Inc()
}

// ObserveDelivery records one notification delivery outcome.
func (m *MetricsService) ObserveDelivery(channel, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, outcome).Inc()
}
