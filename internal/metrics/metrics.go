package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	subsystem = "opportunity_monitor"

	collectorLabel = "collector"
	reasonLabel    = "reason"
	outcomeLabel   = "outcome"
	statusLabel    = "status"
	stageLabel     = "stage"
)

var collectorItemsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "collector_items_total",
		Help:      "number of opportunities returned by each collector",
	},
	[]string{collectorLabel},
)

var collectorFailuresMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "collector_failures_total",
		Help:      "number of collector runs that ended in an error or panic",
	},
	[]string{collectorLabel},
)

var httpRetriesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "http_retries_total",
		Help:      "number of retried outbound HTTP requests",
	},
	[]string{reasonLabel},
)

var classificationCallsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "classification_calls_total",
		Help:      "classification attempts by outcome (ok, error, cached)",
	},
	[]string{outcomeLabel},
)

var pipelineRunsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: subsystem,
		Name:      "pipeline_runs_total",
		Help:      "pipeline runs by terminal status",
	},
	[]string{statusLabel},
)

var stageDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: subsystem,
		Name:      "pipeline_stage_duration_seconds",
		Help:      "wall-clock duration of each pipeline stage",
		Buckets:   []float64{0.1, 1, 5, 15, 60, 300, 900, 1800},
	},
	[]string{stageLabel},
)

func AddCollectorItems(collector string, n int) {
	collectorItemsMetric.With(prometheus.Labels{collectorLabel: collector}).Add(float64(n))
}

func IncreaseCollectorFailures(collector string) {
	collectorFailuresMetric.With(prometheus.Labels{collectorLabel: collector}).Inc()
}

func IncreaseHTTPRetries(reason string) {
	httpRetriesMetric.With(prometheus.Labels{reasonLabel: reason}).Inc()
}

func IncreaseClassificationCalls(outcome string) {
	classificationCallsMetric.With(prometheus.Labels{outcomeLabel: outcome}).Inc()
}

func IncreasePipelineRuns(status string) {
	pipelineRunsMetric.With(prometheus.Labels{statusLabel: status}).Inc()
}

func ObserveStageDuration(stage string, seconds float64) {
	stageDurationMetric.With(prometheus.Labels{stageLabel: stage}).Observe(seconds)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(collectorItemsMetric)
	prometheus.MustRegister(collectorFailuresMetric)
	prometheus.MustRegister(httpRetriesMetric)
	prometheus.MustRegister(classificationCallsMetric)
	prometheus.MustRegister(pipelineRunsMetric)
	prometheus.MustRegister(stageDurationMetric)
}
