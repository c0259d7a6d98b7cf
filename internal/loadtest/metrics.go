package loadtest

import (
	"math"
	"sort"
	"time"

	"github.com/FairForge/capplanner/internal/scenario"
)

// ScenarioMetrics aggregates the request samples of one scenario run.
type ScenarioMetrics struct {
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	FailedRequests      int64   `json:"failed_requests"`
	AvgResponseTimeMs   float64 `json:"avg_response_time_ms"`
	P95ResponseTimeMs   float64 `json:"p95_response_time_ms"`
	P99ResponseTimeMs   float64 `json:"p99_response_time_ms"`
	MinResponseTimeMs   float64 `json:"min_response_time_ms"`
	MaxResponseTimeMs   float64 `json:"max_response_time_ms"`
	ThroughputReqPerSec float64 `json:"throughput_req_per_sec"`
	ErrorRatePercent    float64 `json:"error_rate_percent"`
}

// ScenarioResult is the outcome of executing one scenario definition.
type ScenarioResult struct {
	Definition      scenario.Definition `json:"definition"`
	Success         bool                `json:"success"`
	Metrics         *ScenarioMetrics    `json:"metrics,omitempty"`
	ResourceMetrics map[string]float64  `json:"resource_metrics,omitempty"`
	Error           string              `json:"error,omitempty"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
	SkippedLines    int                 `json:"skipped_lines,omitempty"`
	Baseline        *BaselineComparison `json:"baseline_comparison,omitempty"`
}

// Users is the target concurrency of the scenario that produced the result.
func (r ScenarioResult) Users() int {
	return r.Definition.TargetUsers
}

// Failed builds a failed result for def.
func Failed(def scenario.Definition, started time.Time, err error) ScenarioResult {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ScenarioResult{
		Definition: def,
		Success:    false,
		Error:      msg,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
}

// sampleSet accumulates duration and outcome samples before summarizing.
type sampleSet struct {
	durations []float64
	success   int64
	failure   int64
	outcomes  bool
}

func (s *sampleSet) addDuration(ms float64) {
	s.durations = append(s.durations, ms)
}

func (s *sampleSet) addOutcome(ok bool) {
	s.outcomes = true
	if ok {
		s.success++
	} else {
		s.failure++
	}
}

// summarize converts the samples to metrics. Throughput divides by the
// configured hold duration, not wall-clock time.
func (s *sampleSet) summarize(durationSeconds int) ScenarioMetrics {
	var m ScenarioMetrics

	if s.outcomes {
		m.SuccessfulRequests = s.success
		m.FailedRequests = s.failure
	} else {
		// No outcome records: every timed request counts as served.
		m.SuccessfulRequests = int64(len(s.durations))
	}
	m.TotalRequests = m.SuccessfulRequests + m.FailedRequests

	if m.TotalRequests > 0 {
		m.ErrorRatePercent = float64(m.FailedRequests) / float64(m.TotalRequests) * 100
		if durationSeconds > 0 {
			m.ThroughputReqPerSec = float64(m.TotalRequests) / float64(durationSeconds)
		}
	}

	if len(s.durations) > 0 {
		m.MinResponseTimeMs, m.MaxResponseTimeMs, m.AvgResponseTimeMs,
			m.P95ResponseTimeMs, m.P99ResponseTimeMs = calculatePercentiles(s.durations)
	}

	return m
}

// percentileIndex is floor(n*p), clamped to the last element.
func percentileIndex(n int, p float64) int {
	idx := int(math.Floor(float64(n) * p))
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

// calculatePercentiles computes response time statistics over a copy of samples.
func calculatePercentiles(samples []float64) (min, max, avg, p95, p99 float64) {
	if len(samples) == 0 {
		return
	}

	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	min = sorted[0]
	max = sorted[len(sorted)-1]

	var total float64
	for _, v := range sorted {
		total += v
	}
	avg = total / float64(len(sorted))
	// Summation error must not push the mean outside the observed range.
	avg = math.Min(math.Max(avg, min), max)

	p95 = sorted[percentileIndex(len(sorted), 0.95)]
	p99 = sorted[percentileIndex(len(sorted), 0.99)]

	return
}
