// Package metrics exposes reservation engine counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "therapybooking"

// Recorder implements services.Recorder on Prometheus counters
type Recorder struct {
	ReservationsTotal   *prometheus.CounterVec
	CancellationsTotal  *prometheus.CounterVec
	CompensationsTotal  *prometheus.CounterVec
	DeliveriesTotal     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		ReservationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reservations_total",
				Help:      "Total number of reservation attempts by outcome",
			},
			[]string{"outcome"},
		),
		CancellationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "booking_cancellations_total",
				Help:      "Total number of booking cancellations by outcome",
			},
			[]string{"outcome"},
		),
		CompensationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Total number of compensation unwinds by outcome",
			},
			[]string{"outcome"},
		),
		DeliveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_deliveries_total",
				Help:      "Total number of notification deliveries",
			},
			[]string{"event_type", "handler", "outcome"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

func (r *Recorder) ObserveReservation(outcome string) {
	r.ReservationsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveCancellation(outcome string) {
	r.CancellationsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveCompensation(outcome string) {
	r.CompensationsTotal.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ObserveDelivery(eventType, handler, outcome string) {
	r.DeliveriesTotal.WithLabelValues(eventType, handler, outcome).Inc()
}

// ObserveHTTPRequest records one served request
func (r *Recorder) ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
