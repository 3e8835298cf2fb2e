package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	writesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edusmart",
		Subsystem: "store",
		Name:      "writes_total",
		Help:      "Committed store writes by operation.",
	}, []string{"op"})

	writeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edusmart",
		Subsystem: "store",
		Name:      "write_errors_total",
		Help:      "Failed store writes by operation.",
	}, []string{"op"})

	openSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "edusmart",
		Subsystem: "store",
		Name:      "subscriptions",
		Help:      "Open path subscriptions.",
	})
)
