package dispatch

import "github.com/prometheus/client_golang/prometheus"

var (
	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "drawd",
		Subsystem: "dispatch",
		Name:      "queue_depth",
		Help:      "Requests waiting for a free slot",
	})

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drawd",
			Subsystem: "dispatch",
			Name:      "executions_total",
			Help:      "Engine executions by slot kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "drawd",
			Subsystem: "dispatch",
			Name:      "execution_duration_seconds",
			Help:      "Engine execution duration in seconds",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	admissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "drawd",
			Subsystem: "dispatch",
			Name:      "admission_rejections_total",
			Help:      "Requests refused at admission",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(queueDepth, executionsTotal, executionDuration, admissionRejections)
}
