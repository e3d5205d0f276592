package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_transitions_total", Help: "Committed job state transitions"},
		[]string{"to_state"},
	)
	TransitionRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "jobs_transition_rejects_total", Help: "Rejected transition attempts"},
		[]string{"kind"},
	)
	TriggerFailures     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_trigger_failures_total", Help: "Post-commit automation trigger failures"})
	EventsPublished     = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_events_published_total", Help: "Domain events published"})
	EventPublishErrors  = prometheus.NewCounter(prometheus.CounterOpts{Name: "jobs_event_publish_errors_total", Help: "Domain event publish failures"})
	InvoiceFallbacks    = prometheus.NewCounter(prometheus.CounterOpts{Name: "invoice_number_fallbacks_total", Help: "Invoice numbers issued via the timestamp fallback"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "api_rate_limit_rejects_total", Help: "Transition requests rejected by the rate limiter"})
	RemindersScheduled  = prometheus.NewCounter(prometheus.CounterOpts{Name: "reminders_scheduled_total", Help: "Payment reminders scheduled"})
	NotificationsQueued = prometheus.NewCounter(prometheus.CounterOpts{Name: "notifications_queued_total", Help: "Crew/client notifications queued"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsTotal,
			TransitionRejects,
			TriggerFailures,
			EventsPublished,
			EventPublishErrors,
			InvoiceFallbacks,
			RateLimitRejects,
			RemindersScheduled,
			NotificationsQueued,
		)
	})
	return promhttp.Handler()
}
