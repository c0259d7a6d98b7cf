// Package metrics records how a capacity run went as Prometheus series,
// exported as a text file next to the report.
package metrics

import (
	"bytes"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"

	"github.com/FairForge/capplanner/internal/capacity"
	"github.com/FairForge/capplanner/internal/loadtest"
)

// Recorder owns a private registry so that runs and tests do not share
// series. All methods are safe on a nil *Recorder.
type Recorder struct {
	registry *prometheus.Registry
	start    time.Time

	scenariosTotal        *prometheus.CounterVec
	scenarioDuration      *prometheus.HistogramVec
	scenarioResponseTime  *prometheus.GaugeVec
	scenarioErrorRate     *prometheus.GaugeVec
	scenarioThroughput    *prometheus.GaugeVec
	resourceQueryFailures prometheus.Counter
	estimatedMaxUsers     prometheus.Gauge
	maxTestedUsers        prometheus.Gauge
	bottlenecks           *prometheus.GaugeVec
	recommendations       prometheus.Gauge
	runDuration           prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		start:    time.Now(),

		scenariosTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capplanner_scenarios_total",
				Help: "Scenarios executed by outcome",
			},
			[]string{"status"},
		),

		scenarioDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capplanner_scenario_duration_seconds",
				Help:    "Wall-clock time spent per scenario",
				Buckets: prometheus.ExponentialBuckets(30, 2, 8),
			},
			[]string{"scenario"},
		),

		scenarioResponseTime: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capplanner_scenario_avg_response_time_ms",
				Help: "Average response time observed per scenario",
			},
			[]string{"scenario"},
		),

		scenarioErrorRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capplanner_scenario_error_rate_percent",
				Help: "Error rate observed per scenario",
			},
			[]string{"scenario"},
		),

		scenarioThroughput: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capplanner_scenario_throughput_rps",
				Help: "Requests per second observed per scenario",
			},
			[]string{"scenario"},
		),

		resourceQueryFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "capplanner_resource_query_failures_total",
				Help: "Resource monitoring queries that returned no data",
			},
		),

		estimatedMaxUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "capplanner_estimated_max_users",
				Help: "Projected concurrent users at a 5% error rate",
			},
		),

		maxTestedUsers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "capplanner_max_tested_users",
				Help: "Highest user level with a successful scenario",
			},
		),

		bottlenecks: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capplanner_bottlenecks",
				Help: "Detected bottlenecks by severity",
			},
			[]string{"severity"},
		),

		recommendations: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "capplanner_recommendations",
				Help: "Scaling recommendations produced",
			},
		),

		runDuration: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "capplanner_run_duration_seconds",
				Help: "Time from run start to the last recorded event",
			},
		),
	}
}

// RecordScenario records the outcome of one scenario.
func (r *Recorder) RecordScenario(res loadtest.ScenarioResult) {
	if r == nil {
		return
	}

	status := "failed"
	if res.Success {
		status = "succeeded"
	}
	r.scenariosTotal.WithLabelValues(status).Inc()

	if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
		r.scenarioDuration.WithLabelValues(res.Definition.ID).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}

	if res.Metrics != nil {
		r.scenarioResponseTime.WithLabelValues(res.Definition.ID).Set(res.Metrics.AvgResponseTimeMs)
		r.scenarioErrorRate.WithLabelValues(res.Definition.ID).Set(res.Metrics.ErrorRatePercent)
		r.scenarioThroughput.WithLabelValues(res.Definition.ID).Set(res.Metrics.ThroughputReqPerSec)
	}
	r.touch()
}

// RecordResourceQueryFailure counts a monitoring query that failed.
func (r *Recorder) RecordResourceQueryFailure() {
	if r == nil {
		return
	}
	r.resourceQueryFailures.Inc()
}

// RecordAnalysis records the headline analysis figures.
func (r *Recorder) RecordAnalysis(a *capacity.Analysis, bottlenecks []capacity.Bottleneck, recs []capacity.Recommendation) {
	if r == nil || a == nil {
		return
	}

	r.maxTestedUsers.Set(float64(a.MaxTestedUsers))
	if est := a.BreakingPoint.EstimatedMaxUsers; est != nil {
		r.estimatedMaxUsers.Set(float64(*est))
	}

	counts := capacity.CountBySeverity(bottlenecks)
	for _, sev := range []capacity.Severity{capacity.SeverityCritical, capacity.SeverityHigh, capacity.SeverityMedium} {
		r.bottlenecks.WithLabelValues(string(sev)).Set(float64(counts[sev]))
	}
	r.recommendations.Set(float64(len(recs)))
	r.touch()
}

func (r *Recorder) touch() {
	r.runDuration.Set(time.Since(r.start).Seconds())
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Textfile renders all series in the Prometheus text exposition format.
func (r *Recorder) Textfile() ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return nil, fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}
