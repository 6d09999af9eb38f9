package workerws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricWorkerConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lane_worker_connected",
		Help: "1 while a voice worker is connected",
	})

	metricCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lane_worker_commands_total",
		Help: "Commands sent to the voice worker by reply type",
	}, []string{"type", "result"})
)
