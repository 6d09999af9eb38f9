package voice

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAnnounceMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lane_voice_announce_ms",
		Help:    "Time spent in Announce",
		Buckets: prometheus.ExponentialBuckets(50, 1.8, 10),
	}, []string{"backend"})

	metricAnnounceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_voice_announce_failures_total",
		Help: "Announce calls that returned an error",
	}, []string{"backend"})

	metricListens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_voice_listens_total",
		Help: "ListenOnce results",
	}, []string{"backend", "result"})
)
