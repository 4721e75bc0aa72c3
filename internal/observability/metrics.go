package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "obsqc"

// Metrics holds the Prometheus counters, histograms, and gauges for QC runs.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec // labels: obs_type, outcome={success,error}
	RunDuration  *prometheus.HistogramVec
	RunInFlight  prometheus.Gauge
	LastSuccess  *prometheus.GaugeVec // labels: obs_type
	ModelEnabled prometheus.Gauge

	// QC stage counters.
	Observations *prometheus.CounterVec // labels: stage={physical,ml}, result={pass,fail}
	MLDegraded   prometheus.Counter

	// Encoding and distribution.
	MessagesEncoded   prometheus.Counter
	MessagesSkipped   prometheus.Counter
	MessagesPublished prometheus.Counter
	PublishErrors     prometheus.Counter
}

type metricOpts struct {
	name, help string
}

var (
	runsOpts          = metricOpts{"runs_total", "Completed runs by observation type and outcome."}
	runDurationOpts   = metricOpts{"run_duration_seconds", "Wall time of a complete extract-encode-publish run."}
	runInFlightOpts   = metricOpts{"run_in_flight", "1 while a run is executing."}
	lastSuccessOpts   = metricOpts{"last_success_timestamp_seconds", "Unix time of the last successful run."}
	modelEnabledOpts  = metricOpts{"ml_model_enabled", "1 when the anomaly model is loaded, 0 when ML QC passes everything."}
	observationsOpts  = metricOpts{"observations_total", "Observations evaluated per QC stage and result."}
	mlDegradedOpts    = metricOpts{"ml_degraded_total", "Observations passed by the anomaly stage without a classification."}
	encodedOpts       = metricOpts{"messages_encoded_total", "BUFR messages written."}
	skippedOpts       = metricOpts{"messages_skipped_total", "Observations that could not be encoded."}
	publishedOpts     = metricOpts{"messages_published_total", "BUFR messages published to Kafka."}
	publishErrorsOpts = metricOpts{"publish_errors_total", "Failed publish attempts."}
)

func build(help bool) *Metrics {
	h := func(o metricOpts) string {
		if help {
			return o.help
		}
		return ""
	}
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: runsOpts.name, Help: h(runsOpts),
		}, []string{"obs_type", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: runDurationOpts.name, Help: h(runDurationOpts),
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"obs_type"}),
		RunInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: runInFlightOpts.name, Help: h(runInFlightOpts),
		}),
		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: lastSuccessOpts.name, Help: h(lastSuccessOpts),
		}, []string{"obs_type"}),
		ModelEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: modelEnabledOpts.name, Help: h(modelEnabledOpts),
		}),
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: observationsOpts.name, Help: h(observationsOpts),
		}, []string{"stage", "result"}),
		MLDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: mlDegradedOpts.name, Help: h(mlDegradedOpts),
		}),
		MessagesEncoded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: encodedOpts.name, Help: h(encodedOpts),
		}),
		MessagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: skippedOpts.name, Help: h(skippedOpts),
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: publishedOpts.name, Help: h(publishedOpts),
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: publishErrorsOpts.name, Help: h(publishErrorsOpts),
		}),
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := build(true)
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunInFlight,
		m.LastSuccess,
		m.ModelEnabled,
		m.Observations,
		m.MLDegraded,
		m.MessagesEncoded,
		m.MessagesSkipped,
		m.MessagesPublished,
		m.PublishErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid "already
// registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return build(false)
}
