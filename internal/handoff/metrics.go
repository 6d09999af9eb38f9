package handoff

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lane_handoff_queue_depth",
		Help: "Outcomes waiting for the operator side",
	})

	metricPushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lane_handoff_pushed_total",
		Help: "Outcomes accepted by the hand-off queue",
	})

	metricDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lane_handoff_dropped_total",
		Help: "Outcomes evicted by the drop_oldest policy",
	})

	metricDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_handoff_delivered_total",
		Help: "Outcomes delivered per sink",
	}, []string{"sink"})

	metricSinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_handoff_sink_failures_total",
		Help: "Sink delivery failures",
	}, []string{"sink"})
)
