// Package capacity turns completed scenario runs into capacity limits,
// bottlenecks and scaling recommendations.
package capacity

import (
	"math"
	"sort"

	"github.com/FairForge/capplanner/internal/loadtest"
)

// Fixed analysis thresholds. They are not configurable so that reports stay
// comparable across runs.
const (
	reliabilityErrorRatePercent = 1.0    // capacity limit: error rate
	performanceResponseTimeMs   = 2000.0 // capacity limit: avg response time
	extrapolationErrorCeiling   = 10.0   // points at or above this are not extrapolated from
	breakingErrorRatePercent    = 5.0    // projected failure point
	efficiencyDropFactor        = 0.8    // 20% below the best efficiency so far
	fallbackHeadroomFactor      = 2      // ceiling when error rate is flat or improving
)

// CurvePoint is one user level on the performance curve.
type CurvePoint struct {
	ScenarioID        string  `json:"scenario_id"`
	Users             int     `json:"users"`
	ResponseTimeMs    float64 `json:"response_time_ms"`
	P95ResponseTimeMs float64 `json:"p95_response_time_ms"`
	Throughput        float64 `json:"throughput"`
	ErrorRatePercent  float64 `json:"error_rate_percent"`
	Efficiency        float64 `json:"efficiency"`
}

// Limits holds the first user levels crossing each threshold. Nil means the
// limit was not reached.
type Limits struct {
	ReliabilityUsers *int `json:"reliability_users,omitempty"`
	PerformanceUsers *int `json:"performance_users,omitempty"`
}

// BreakingPoint summarizes the worst observed values and the projected
// maximum safe user count.
type BreakingPoint struct {
	MaxObservedErrorRate    float64 `json:"max_observed_error_rate"`
	MaxObservedResponseTime float64 `json:"max_observed_response_time"`
	EstimatedMaxUsers       *int    `json:"estimated_max_users,omitempty"`
}

// EfficiencyAnalysis tracks throughput per user across the curve.
type EfficiencyAnalysis struct {
	PeakEfficiency *float64 `json:"peak_efficiency,omitempty"`
	MinEfficiency  *float64 `json:"min_efficiency,omitempty"`
	DropThreshold  *int     `json:"drop_threshold,omitempty"`
}

// Analysis is the complete capacity analysis of a run.
type Analysis struct {
	Curve               []CurvePoint       `json:"performance_curve"`
	Limits              Limits             `json:"capacity_limits"`
	BreakingPoint       BreakingPoint      `json:"breaking_point"`
	Efficiency          EfficiencyAnalysis `json:"efficiency"`
	MaxTestedUsers      int                `json:"max_tested_users"`
	SuccessfulScenarios int                `json:"successful_scenarios"`
	FailedScenarios     int                `json:"failed_scenarios"`
}

// Analyze builds the curve from results and derives limits, the breaking
// point and efficiency. The baseline reference run must not be included.
func Analyze(results []loadtest.ScenarioResult) *Analysis {
	a := &Analysis{
		Curve: BuildCurve(results),
	}

	for _, r := range results {
		if r.Success && r.Metrics != nil {
			a.SuccessfulScenarios++
		} else {
			a.FailedScenarios++
		}
	}

	if len(a.Curve) > 0 {
		a.MaxTestedUsers = a.Curve[len(a.Curve)-1].Users
	}

	a.Limits = DetectLimits(a.Curve)
	a.BreakingPoint = EstimateBreakingPoint(a.Curve)
	a.Efficiency = AnalyzeEfficiency(a.Curve)

	return a
}

// BuildCurve converts successful results into points sorted by users.
// Results sharing a user count merge into one point using the worst error
// rate and response time and the lowest throughput, so the curve is strictly
// ascending in users.
func BuildCurve(results []loadtest.ScenarioResult) []CurvePoint {
	points := make([]CurvePoint, 0, len(results))
	for _, r := range results {
		if !r.Success || r.Metrics == nil || r.Users() <= 0 {
			continue
		}
		points = append(points, CurvePoint{
			ScenarioID:        r.Definition.ID,
			Users:             r.Users(),
			ResponseTimeMs:    r.Metrics.AvgResponseTimeMs,
			P95ResponseTimeMs: r.Metrics.P95ResponseTimeMs,
			Throughput:        r.Metrics.ThroughputReqPerSec,
			ErrorRatePercent:  r.Metrics.ErrorRatePercent,
		})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Users < points[j].Users
	})

	curve := make([]CurvePoint, 0, len(points))
	for _, p := range points {
		if n := len(curve); n > 0 && curve[n-1].Users == p.Users {
			last := &curve[n-1]
			last.ErrorRatePercent = math.Max(last.ErrorRatePercent, p.ErrorRatePercent)
			last.ResponseTimeMs = math.Max(last.ResponseTimeMs, p.ResponseTimeMs)
			last.P95ResponseTimeMs = math.Max(last.P95ResponseTimeMs, p.P95ResponseTimeMs)
			last.Throughput = math.Min(last.Throughput, p.Throughput)
			continue
		}
		curve = append(curve, p)
	}

	for i := range curve {
		curve[i].Efficiency = curve[i].Throughput / float64(curve[i].Users)
	}
	return curve
}

// DetectLimits finds the first points exceeding the reliability and
// performance thresholds.
func DetectLimits(curve []CurvePoint) Limits {
	var limits Limits
	for _, p := range curve {
		if limits.ReliabilityUsers == nil && p.ErrorRatePercent > reliabilityErrorRatePercent {
			limits.ReliabilityUsers = intPtr(p.Users)
		}
		if limits.PerformanceUsers == nil && p.ResponseTimeMs > performanceResponseTimeMs {
			limits.PerformanceUsers = intPtr(p.Users)
		}
	}
	return limits
}

// EstimateBreakingPoint reports the worst observed values and extrapolates
// the user count at which the error rate reaches 5%.
func EstimateBreakingPoint(curve []CurvePoint) BreakingPoint {
	var bp BreakingPoint
	for _, p := range curve {
		bp.MaxObservedErrorRate = math.Max(bp.MaxObservedErrorRate, p.ErrorRatePercent)
		bp.MaxObservedResponseTime = math.Max(bp.MaxObservedResponseTime, p.ResponseTimeMs)
	}
	bp.EstimatedMaxUsers = estimateMaxUsers(curve)
	return bp
}

// estimateMaxUsers extrapolates linearly from the last two points below the
// extrapolation ceiling. A flat or improving trend, or too few usable points,
// yields twice the largest tested user count. The estimate never drops below
// the largest tested user count.
func estimateMaxUsers(curve []CurvePoint) *int {
	if len(curve) == 0 {
		return nil
	}
	maxTested := curve[len(curve)-1].Users
	fallback := fallbackHeadroomFactor * maxTested

	usable := make([]CurvePoint, 0, len(curve))
	for _, p := range curve {
		if p.ErrorRatePercent < extrapolationErrorCeiling {
			usable = append(usable, p)
		}
	}
	if len(usable) < 2 {
		return intPtr(fallback)
	}

	prev, last := usable[len(usable)-2], usable[len(usable)-1]
	slope := (last.ErrorRatePercent - prev.ErrorRatePercent) / float64(last.Users-prev.Users)
	if slope <= 0 {
		return intPtr(fallback)
	}

	projected := float64(last.Users) + (breakingErrorRatePercent-last.ErrorRatePercent)/slope
	estimate := int(math.Floor(projected + 1e-9))
	if estimate < maxTested {
		estimate = maxTested
	}
	return intPtr(estimate)
}

// AnalyzeEfficiency finds peak and minimum efficiency and the first point
// whose efficiency falls below 80% of the best efficiency seen before it.
func AnalyzeEfficiency(curve []CurvePoint) EfficiencyAnalysis {
	var e EfficiencyAnalysis
	if len(curve) == 0 {
		return e
	}

	peak, low := curve[0].Efficiency, curve[0].Efficiency
	runningMax := curve[0].Efficiency
	for _, p := range curve[1:] {
		if e.DropThreshold == nil && p.Efficiency < efficiencyDropFactor*runningMax {
			e.DropThreshold = intPtr(p.Users)
		}
		runningMax = math.Max(runningMax, p.Efficiency)
		peak = math.Max(peak, p.Efficiency)
		low = math.Min(low, p.Efficiency)
	}

	e.PeakEfficiency = &peak
	e.MinEfficiency = &low
	return e
}

func intPtr(v int) *int {
	return &v
}
