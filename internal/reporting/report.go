// internal/reporting/report.go
package reporting

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/FairForge/capplanner/internal/capacity"
	"github.com/FairForge/capplanner/internal/loadtest"
)

// Run modes
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
	ModeOffline    = "offline"
)

// Overall health in the executive summary
const (
	StatusHealthy  = "healthy"
	StatusAtRisk   = "at_risk"
	StatusCritical = "critical"
)

// Action plan timelines
const (
	TimelineImmediate  = "1-2 weeks"
	TimelineShortTerm  = "1-3 months"
	TimelineMediumTerm = "3-6 months"
)

// Action item sources
const (
	SourceBottleneck     = "bottleneck"
	SourceRecommendation = "recommendation"
)

// RunInfo is the metadata of the run a report describes. Generation never
// fills these in itself, so re-rendering the same input is byte-identical.
type RunInfo struct {
	RunID         string    `json:"run_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Mode          string    `json:"mode"`
	LoadGenerator string    `json:"load_generator"`
	BaseURL       string    `json:"base_url"`
	FrontendURL   string    `json:"frontend_url,omitempty"`
}

// ExecutiveSummary condenses the analysis for a human reader.
type ExecutiveSummary struct {
	Status                   string                      `json:"status"`
	Headline                 string                      `json:"headline"`
	ScenariosRun             int                         `json:"scenarios_run"`
	SuccessfulScenarios      int                         `json:"successful_scenarios"`
	FailedScenarios          int                         `json:"failed_scenarios"`
	MaxTestedUsers           int                         `json:"max_tested_users"`
	EstimatedMaxUsers        *int                        `json:"estimated_max_users,omitempty"`
	ReliabilityLimitUsers    *int                        `json:"reliability_limit_users,omitempty"`
	PerformanceLimitUsers    *int                        `json:"performance_limit_users,omitempty"`
	CriticalBottlenecks      int                         `json:"critical_bottlenecks"`
	HighBottlenecks          int                         `json:"high_bottlenecks"`
	TopRecommendation        capacity.RecommendationType `json:"top_recommendation,omitempty"`
	TotalImplementationCost  float64                     `json:"total_implementation_cost"`
	TotalMonthlyCostIncrease float64                     `json:"total_monthly_cost_increase"`
}

// ActionItem is one step of the action plan.
type ActionItem struct {
	Title    string `json:"title"`
	Source   string `json:"source"`
	Priority string `json:"priority"`
	Detail   string `json:"detail"`
}

// ActionPhase groups action items sharing a timeline.
type ActionPhase struct {
	Timeline string       `json:"timeline"`
	Items    []ActionItem `json:"items"`
}

// ActionPlan orders the work by urgency.
type ActionPlan struct {
	Immediate  ActionPhase `json:"immediate"`
	ShortTerm  ActionPhase `json:"short_term"`
	MediumTerm ActionPhase `json:"medium_term"`
}

// CapacityReport is the complete, write-once result of a run.
type CapacityReport struct {
	Run             RunInfo                     `json:"run"`
	Summary         ExecutiveSummary            `json:"executive_summary"`
	Baseline        *loadtest.ScenarioMetrics   `json:"baseline,omitempty"`
	Scenarios       []loadtest.ScenarioResult   `json:"scenarios"`
	Analysis        *capacity.Analysis          `json:"analysis"`
	Bottlenecks     []capacity.Bottleneck       `json:"bottlenecks"`
	Recommendations []capacity.Recommendation   `json:"recommendations"`
	ActionPlan      ActionPlan                  `json:"action_plan"`
	AutoScaling     *loadtest.AutoScalingResult `json:"auto_scaling,omitempty"`
}

// Input is everything Generate needs.
type Input struct {
	Run         RunInfo
	Baseline    *loadtest.ScenarioResult
	Results     []loadtest.ScenarioResult
	AutoScaling *loadtest.AutoScalingResult
}

// Generate runs analysis, bottleneck detection and recommendation over the
// results and assembles the report. It is a pure function of in.
func Generate(in Input) *CapacityReport {
	results := in.Results
	if results == nil {
		results = []loadtest.ScenarioResult{}
	}

	analysis := capacity.Analyze(results)
	bottlenecks := capacity.DetectBottlenecks(analysis, results)
	recs := capacity.Recommend(analysis, bottlenecks)

	report := &CapacityReport{
		Run:             in.Run,
		Scenarios:       results,
		Analysis:        analysis,
		Bottlenecks:     bottlenecks,
		Recommendations: recs,
		AutoScaling:     in.AutoScaling,
	}
	if in.Baseline != nil && in.Baseline.Success {
		report.Baseline = in.Baseline.Metrics
	}

	report.Summary = summarize(analysis, bottlenecks, recs, len(results))
	report.ActionPlan = buildActionPlan(bottlenecks, recs)
	return report
}

func summarize(a *capacity.Analysis, bottlenecks []capacity.Bottleneck, recs []capacity.Recommendation, scenarios int) ExecutiveSummary {
	counts := capacity.CountBySeverity(bottlenecks)

	s := ExecutiveSummary{
		ScenariosRun:          scenarios,
		SuccessfulScenarios:   a.SuccessfulScenarios,
		FailedScenarios:       a.FailedScenarios,
		MaxTestedUsers:        a.MaxTestedUsers,
		EstimatedMaxUsers:     a.BreakingPoint.EstimatedMaxUsers,
		ReliabilityLimitUsers: a.Limits.ReliabilityUsers,
		PerformanceLimitUsers: a.Limits.PerformanceUsers,
		CriticalBottlenecks:   counts[capacity.SeverityCritical],
		HighBottlenecks:       counts[capacity.SeverityHigh],
	}

	if top := capacity.TopRecommendation(recs); top != nil {
		s.TopRecommendation = top.Type
	}
	for _, r := range recs {
		s.TotalImplementationCost += r.Cost.ImplementationCost
		s.TotalMonthlyCostIncrease += r.Cost.MonthlyCostIncrease
	}

	switch {
	case a.SuccessfulScenarios == 0:
		s.Status = StatusCritical
		s.Headline = "No scenario completed; capacity could not be measured"
	case s.CriticalBottlenecks > 0:
		s.Status = StatusCritical
		s.Headline = fmt.Sprintf("Critical bottlenecks found; reliability degrades at %s users", usersOrUnknown(s.ReliabilityLimitUsers))
	case s.HighBottlenecks > 0:
		s.Status = StatusAtRisk
		s.Headline = fmt.Sprintf("Serves %d users with degraded performance; estimated ceiling %s users", s.MaxTestedUsers, usersOrUnknown(s.EstimatedMaxUsers))
	default:
		s.Status = StatusHealthy
		s.Headline = fmt.Sprintf("Healthy up to %d tested users; estimated ceiling %s users", s.MaxTestedUsers, usersOrUnknown(s.EstimatedMaxUsers))
	}
	return s
}

func usersOrUnknown(v *int) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *v)
}

// buildActionPlan places critical bottlenecks and critical recommendations
// in the immediate phase, high recommendations in the short term and
// medium recommendations in the medium term.
func buildActionPlan(bottlenecks []capacity.Bottleneck, recs []capacity.Recommendation) ActionPlan {
	plan := ActionPlan{
		Immediate:  ActionPhase{Timeline: TimelineImmediate, Items: []ActionItem{}},
		ShortTerm:  ActionPhase{Timeline: TimelineShortTerm, Items: []ActionItem{}},
		MediumTerm: ActionPhase{Timeline: TimelineMediumTerm, Items: []ActionItem{}},
	}

	for _, b := range bottlenecks {
		if b.Severity != capacity.SeverityCritical {
			continue
		}
		plan.Immediate.Items = append(plan.Immediate.Items, ActionItem{
			Title:    fmt.Sprintf("Resolve %s bottleneck (%s)", b.Type, b.Component),
			Source:   SourceBottleneck,
			Priority: string(b.Severity),
			Detail:   b.Recommendation,
		})
	}

	for _, r := range recs {
		item := ActionItem{
			Title:    recommendationTitle(r.Type),
			Source:   SourceRecommendation,
			Priority: string(r.Priority),
			Detail:   r.Implementation,
		}
		switch r.Priority {
		case capacity.PriorityCritical:
			plan.Immediate.Items = append(plan.Immediate.Items, item)
		case capacity.PriorityHigh:
			plan.ShortTerm.Items = append(plan.ShortTerm.Items, item)
		default:
			plan.MediumTerm.Items = append(plan.MediumTerm.Items, item)
		}
	}

	return plan
}

func recommendationTitle(t capacity.RecommendationType) string {
	switch t {
	case capacity.RecommendationHorizontalScaling:
		return "Scale out horizontally"
	case capacity.RecommendationVerticalScaling:
		return "Scale up instance size"
	case capacity.RecommendationCachingOptimization:
		return "Introduce caching"
	case capacity.RecommendationDatabaseOptimization:
		return "Optimize the database tier"
	case capacity.RecommendationAutoScaling:
		return "Enable auto-scaling"
	default:
		return string(t)
	}
}

// JSON renders the report as indented JSON with a trailing newline.
func (r *CapacityReport) JSON() ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("report: marshal: %w", err)
	}
	return append(data, '\n'), nil
}
