package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Message directions.
const (
	Inbound  = "in"
	Outbound = "out"
)

// Call outcomes.
const (
	CallOK       = "ok"
	CallError    = "error"
	CallCanceled = "canceled"
	CallTimeout  = "timeout"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wampd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"realm", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wampd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"realm", "method", "path", "status"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wampd",
			Name:      "messages_total",
			Help:      "WAMP messages by direction and type.",
		},
		[]string{"direction", "type"},
	)
	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wampd",
			Name:      "calls_total",
			Help:      "Routed calls by outcome.",
		},
		[]string{"outcome"},
	)
	publications = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wampd",
		Name:      "publications_total",
		Help:      "Accepted publications.",
	})
	eventsDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wampd",
		Name:      "events_delivered_total",
		Help:      "Events handed to subscribers.",
	})
	sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wampd",
		Name:      "sessions_active",
		Help:      "Open router sessions.",
	})
	registrationsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wampd",
		Name:      "registrations_active",
		Help:      "Live procedure registrations.",
	})
	subscriptionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wampd",
		Name:      "subscriptions_active",
		Help:      "Live topic subscriptions.",
	})
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			messages, calls, publications, eventsDelivered,
			sessionsActive, registrationsActive, subscriptionsActive,
		)
	})
}

func RecordHTTPRequest(realm, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(realm, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(realm, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordMessage(direction, messageType string) {
	RegisterMetrics()
	messages.WithLabelValues(direction, messageType).Inc()
}

func RecordCall(outcome string) {
	RegisterMetrics()
	calls.WithLabelValues(outcome).Inc()
}

func RecordPublication(delivered int) {
	RegisterMetrics()
	publications.Inc()
	eventsDelivered.Add(float64(delivered))
}

func AddSessions(delta int) {
	RegisterMetrics()
	sessionsActive.Add(float64(delta))
}

func AddRegistrations(delta int) {
	RegisterMetrics()
	registrationsActive.Add(float64(delta))
}

func AddSubscriptions(delta int) {
	RegisterMetrics()
	subscriptionsActive.Add(float64(delta))
}
