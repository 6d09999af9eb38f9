package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_state_transitions_total",
		Help: "Session controller state transitions",
	}, []string{"from", "to"})

	metricSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_sessions_total",
		Help: "Finished sessions by outcome and reason",
	}, []string{"outcome", "reason"})

	metricSessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lane_session_duration_seconds",
		Help:    "Time from arrival to terminal state",
		Buckets: prometheus.ExponentialBuckets(5, 1.6, 10),
	})

	metricListenResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_listen_results_total",
		Help: "Listen outcomes as seen by the dialogue",
	}, []string{"result"})

	metricAnnounceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lane_announce_failures_total",
		Help: "Announcements that failed and were skipped",
	})

	metricArrivalsIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lane_arrivals_ignored_total",
		Help: "Arrival edges ignored because a session was active",
	})

	metricPushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lane_handoff_push_failures_total",
		Help: "Outcomes the controller could not hand off",
	})
)
