package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsStarted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "lease_jobs_started_total", Help: "Analysis jobs accepted"})
	JobsFinished     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lease_jobs_finished_total", Help: "Jobs reaching a terminal status"}, []string{"status"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "lease_rate_limit_rejects_total", Help: "Requests rejected by rate limiter"})

	PhaseInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lease_phase_invocations_total", Help: "Phases executed through the activity gateway"}, []string{"phase"})
	PhaseReplays     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lease_phase_replays_total", Help: "Phases satisfied from an existing checkpoint"}, []string{"phase"})

	ActivityAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "lease_activity_attempts_total", Help: "Activity attempts by outcome"}, []string{"phase", "outcome"})
	ActivityDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lease_activity_duration_seconds",
		Help:    "Wall time of a single activity attempt",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	}, []string{"phase"})

	DispatchRetries    = prometheus.NewCounter(prometheus.CounterOpts{Name: "lease_dispatch_retries_total", Help: "Resume attempts rescheduled after a process-level fault"})
	DispatchDeadLetter = prometheus.NewCounter(prometheus.CounterOpts{Name: "lease_dispatch_dead_letter_total", Help: "Jobs moved to DLQ after exhausting deliveries"})
	QueueDepthGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "lease_queue_depth", Help: "Jobs waiting in the ready queue"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "lease_jobs_inflight", Help: "Jobs currently being advanced by this process"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsStarted,
			JobsFinished,
			RateLimitRejects,
			PhaseInvocations,
			PhaseReplays,
			ActivityAttempts,
			ActivityDuration,
			DispatchRetries,
			DispatchDeadLetter,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
