package presence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricEdges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_presence_edges_total",
		Help: "Debounced presence edges",
	}, []string{"kind"})

	metricDebounceRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lane_presence_debounce_rejected_total",
		Help: "Level changes that did not hold for the debounce window",
	})

	metricSensorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lane_presence_sensor_errors_total",
		Help: "Failed sensor reads",
	})

	metricEdgesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lane_presence_edges_dropped_total",
		Help: "Edges dropped because the consumer channel was full",
	})
)
