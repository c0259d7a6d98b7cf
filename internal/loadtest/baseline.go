package loadtest

import "fmt"

// ComparisonStatus frames a scenario against the baseline run.
type ComparisonStatus string

const (
	StatusPass     ComparisonStatus = "pass"
	StatusDegraded ComparisonStatus = "degraded"
	StatusFail     ComparisonStatus = "fail"
)

// Absolute limits a scenario must stay within to pass.
const (
	failErrorRatePercent = 1.0
	failResponseTimeMs   = 2000.0
)

// Relative deviations from baseline that mark a scenario degraded.
const (
	degradedResponseTimeRatio = 1.5 // 50% slower than baseline
	degradedErrorRateDelta    = 0.5 // half a percentage point more errors
)

// BaselineComparison captures how a scenario moved relative to the baseline.
type BaselineComparison struct {
	ResponseTimeRatio float64          `json:"response_time_ratio"`
	ThroughputRatio   float64          `json:"throughput_ratio"`
	ErrorRateDelta    float64          `json:"error_rate_delta"`
	Status            ComparisonStatus `json:"status"`
	Reasons           []string         `json:"reasons,omitempty"`
}

// CompareToBaseline compares current with baseline. It returns nil when
// either side is missing. Ratios against a zero baseline are reported as 0.
func CompareToBaseline(baseline, current *ScenarioMetrics) *BaselineComparison {
	if baseline == nil || current == nil {
		return nil
	}

	c := &BaselineComparison{
		ErrorRateDelta: current.ErrorRatePercent - baseline.ErrorRatePercent,
		Status:         StatusPass,
	}
	if baseline.AvgResponseTimeMs > 0 {
		c.ResponseTimeRatio = current.AvgResponseTimeMs / baseline.AvgResponseTimeMs
	}
	if baseline.ThroughputReqPerSec > 0 {
		c.ThroughputRatio = current.ThroughputReqPerSec / baseline.ThroughputReqPerSec
	}

	if c.ResponseTimeRatio > degradedResponseTimeRatio {
		c.Status = StatusDegraded
		c.Reasons = append(c.Reasons,
			fmt.Sprintf("avg response time %.1fx baseline", c.ResponseTimeRatio))
	}
	if c.ErrorRateDelta > degradedErrorRateDelta {
		c.Status = StatusDegraded
		c.Reasons = append(c.Reasons,
			fmt.Sprintf("error rate up %.2f points over baseline", c.ErrorRateDelta))
	}

	if current.ErrorRatePercent > failErrorRatePercent {
		c.Status = StatusFail
		c.Reasons = append(c.Reasons,
			fmt.Sprintf("error rate %.2f%% above %.0f%%", current.ErrorRatePercent, failErrorRatePercent))
	}
	if current.AvgResponseTimeMs > failResponseTimeMs {
		c.Status = StatusFail
		c.Reasons = append(c.Reasons,
			fmt.Sprintf("avg response time %.0fms above %.0fms", current.AvgResponseTimeMs, failResponseTimeMs))
	}

	return c
}
