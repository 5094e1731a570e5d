package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the participant service.
type Metrics struct {
	StoreOps                *prometheus.CounterVec
	StoreLatency            *prometheus.HistogramVec
	ParticipantsCreated     prometheus.Counter
	ParticipantsUpdated     prometheus.Counter
	ParticipantsDeactivated prometheus.Counter
	WriteFailures           *prometheus.CounterVec
	HTTPRequests            *prometheus.CounterVec
	HTTPLatency             *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		StoreOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "participants_store_operations_total",
			Help: "Record store calls by backend, operation and outcome",
		}, []string{"backend", "op", "outcome"}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "participants_store_operation_duration_ms",
			Help:    "Latency of record store calls in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250},
		}, []string{"backend", "op"}),
		ParticipantsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "participants_created_total",
			Help: "Participants created",
		}),
		ParticipantsUpdated: factory.NewCounter(prometheus.CounterOpts{
			Name: "participants_updated_total",
			Help: "Participants overwritten through update",
		}),
		ParticipantsDeactivated: factory.NewCounter(prometheus.CounterOpts{
			Name: "participants_deactivated_total",
			Help: "Participants soft-deleted",
		}),
		WriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "participants_write_step_failures_total",
			Help: "Failed create/update write steps by step name",
		}, []string{"step"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "participants_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "participants_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
	}
}

// ObserveStore records one store call.
func (m *Metrics) ObserveStore(backend, op string, ms float64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.StoreOps.WithLabelValues(backend, op, outcome).Inc()
	m.StoreLatency.WithLabelValues(backend, op).Observe(ms)
}

// Middleware counts requests and records their latency. The route label is
// the matched route pattern, so /participants/details/:email stays one
// series regardless of the email.
func Middleware(m *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil {
			return c.Next()
		}
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		route := c.Route().Path
		m.HTTPRequests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.HTTPLatency.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
