package reporting

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/FairForge/capplanner/internal/loadtest"
)

// Markdown renders the report as a narrative document.
func (r *CapacityReport) Markdown() []byte {
	var b strings.Builder

	b.WriteString("# Capacity Planning Report\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", r.Run.RunID)
	fmt.Fprintf(&b, "- Generated: %s\n", formatTime(r.Run.GeneratedAt))
	fmt.Fprintf(&b, "- Target: %s\n", r.Run.BaseURL)
	if r.Run.FrontendURL != "" {
		fmt.Fprintf(&b, "- Frontend: %s\n", r.Run.FrontendURL)
	}
	fmt.Fprintf(&b, "- Mode: %s (%s)\n\n", r.Run.Mode, r.Run.LoadGenerator)
	if r.Run.Mode == ModeParallel {
		b.WriteString("> Scenarios ran in parallel. Their load overlapped, so the figures below overstate per-scenario pressure and are not suitable for capacity sign-off.\n\n")
	}

	writeSummary(&b, r.Summary)
	writeCurve(&b, r)
	writeBottlenecks(&b, r)
	writeRecommendations(&b, r)
	writeActionPlan(&b, r.ActionPlan)
	writeScenarios(&b, r)
	writeAutoScaling(&b, r.AutoScaling)

	return []byte(b.String())
}

func writeSummary(b *strings.Builder, s ExecutiveSummary) {
	b.WriteString("## Executive Summary\n\n")
	fmt.Fprintf(b, "**Status: %s.** %s.\n\n", s.Status, s.Headline)
	fmt.Fprintf(b, "| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(b, "| Scenarios | %d run, %d succeeded, %d failed |\n", s.ScenariosRun, s.SuccessfulScenarios, s.FailedScenarios)
	fmt.Fprintf(b, "| Max tested users | %d |\n", s.MaxTestedUsers)
	fmt.Fprintf(b, "| Estimated max users | %s |\n", usersOrUnknown(s.EstimatedMaxUsers))
	fmt.Fprintf(b, "| Reliability limit | %s |\n", limitText(s.ReliabilityLimitUsers))
	fmt.Fprintf(b, "| Performance limit | %s |\n", limitText(s.PerformanceLimitUsers))
	fmt.Fprintf(b, "| Bottlenecks | %d critical, %d high |\n", s.CriticalBottlenecks, s.HighBottlenecks)
	if s.TopRecommendation != "" {
		fmt.Fprintf(b, "| Top recommendation | %s |\n", recommendationTitle(s.TopRecommendation))
	}
	fmt.Fprintf(b, "| Implementation cost | $%.0f |\n", s.TotalImplementationCost)
	fmt.Fprintf(b, "| Monthly cost increase | $%.0f |\n\n", s.TotalMonthlyCostIncrease)
}

func limitText(v *int) string {
	if v == nil {
		return "not reached"
	}
	return fmt.Sprintf("%d users", *v)
}

func writeCurve(b *strings.Builder, r *CapacityReport) {
	b.WriteString("## Performance Curve\n\n")
	if r.Analysis == nil || len(r.Analysis.Curve) == 0 {
		b.WriteString("No successful scenarios; no curve available.\n\n")
		return
	}

	b.WriteString("| Users | Scenario | Avg (ms) | P95 (ms) | Throughput (req/s) | Error rate | Efficiency |\n")
	b.WriteString("|---:|---|---:|---:|---:|---:|---:|\n")
	for _, p := range r.Analysis.Curve {
		fmt.Fprintf(b, "| %d | %s | %.1f | %.1f | %.2f | %.2f%% | %.3f |\n",
			p.Users, p.ScenarioID, p.ResponseTimeMs, p.P95ResponseTimeMs, p.Throughput, p.ErrorRatePercent, p.Efficiency)
	}
	b.WriteString("\n")

	bp := r.Analysis.BreakingPoint
	fmt.Fprintf(b, "Worst observed error rate was %.2f%% and worst average response time %.0fms. ",
		bp.MaxObservedErrorRate, bp.MaxObservedResponseTime)
	if bp.EstimatedMaxUsers != nil {
		fmt.Fprintf(b, "Extrapolating the error rate trend puts the breaking point near **%d users**.\n\n", *bp.EstimatedMaxUsers)
	} else {
		b.WriteString("No breaking point estimate is available.\n\n")
	}

	if r.Baseline != nil {
		fmt.Fprintf(b, "Baseline reference: %.1fms average, %.2f req/s, %.2f%% errors.\n\n",
			r.Baseline.AvgResponseTimeMs, r.Baseline.ThroughputReqPerSec, r.Baseline.ErrorRatePercent)
	}
}

func writeBottlenecks(b *strings.Builder, r *CapacityReport) {
	b.WriteString("## Bottlenecks\n\n")
	if len(r.Bottlenecks) == 0 {
		b.WriteString("None detected.\n\n")
		return
	}
	for _, bn := range r.Bottlenecks {
		fmt.Fprintf(b, "- **[%s] %s / %s** at %d users: %s. %s.\n",
			bn.Severity, bn.Type, bn.Component, bn.ThresholdUsers, bn.Description, bn.Recommendation)
	}
	b.WriteString("\n")
}

func writeRecommendations(b *strings.Builder, r *CapacityReport) {
	b.WriteString("## Recommendations\n\n")
	for i, rec := range r.Recommendations {
		fmt.Fprintf(b, "### %d. %s (%s priority)\n\n", i+1, recommendationTitle(rec.Type), rec.Priority)
		fmt.Fprintf(b, "- Target: %s\n", rec.TargetImprovement)
		fmt.Fprintf(b, "- Implementation: %s\n", rec.Implementation)
		fmt.Fprintf(b, "- Complexity: %s\n", rec.Complexity)
		fmt.Fprintf(b, "- Cost: +%s (about $%.0f/month), $%.0f to implement, ROI in %d months, $%.2f per added user\n\n",
			rec.EstimatedCostIncrease, rec.Cost.MonthlyCostIncrease, rec.Cost.ImplementationCost, rec.Cost.ROIMonths, rec.Cost.CostPerUser)
	}
}

func writeActionPlan(b *strings.Builder, plan ActionPlan) {
	b.WriteString("## Action Plan\n\n")
	phases := []struct {
		title string
		phase ActionPhase
	}{
		{"Immediate", plan.Immediate},
		{"Short term", plan.ShortTerm},
		{"Medium term", plan.MediumTerm},
	}
	for _, p := range phases {
		fmt.Fprintf(b, "### %s (%s)\n\n", p.title, p.phase.Timeline)
		if len(p.phase.Items) == 0 {
			b.WriteString("Nothing scheduled.\n\n")
			continue
		}
		for _, item := range p.phase.Items {
			fmt.Fprintf(b, "- %s: %s\n", item.Title, item.Detail)
		}
		b.WriteString("\n")
	}
}

func writeScenarios(b *strings.Builder, r *CapacityReport) {
	b.WriteString("## Scenario Results\n\n")
	b.WriteString("| Scenario | Users | Result | Requests | Avg (ms) | Error rate | vs baseline |\n")
	b.WriteString("|---|---:|---|---:|---:|---:|---|\n")
	for _, s := range r.Scenarios {
		if !s.Success || s.Metrics == nil {
			fmt.Fprintf(b, "| %s | %d | failed: %s | - | - | - | - |\n", s.Definition.ID, s.Users(), escapeCell(s.Error))
			continue
		}
		fmt.Fprintf(b, "| %s | %d | ok | %d | %.1f | %.2f%% | %s |\n",
			s.Definition.ID, s.Users(), s.Metrics.TotalRequests, s.Metrics.AvgResponseTimeMs, s.Metrics.ErrorRatePercent,
			comparisonText(s.Baseline))
	}
	b.WriteString("\n")

	for _, s := range r.Scenarios {
		if len(s.ResourceMetrics) == 0 {
			continue
		}
		keys := make([]string, 0, len(s.ResourceMetrics))
		for k := range s.ResourceMetrics {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s %.1f", k, s.ResourceMetrics[k])
		}
		fmt.Fprintf(b, "- %s resources: %s\n", s.Definition.ID, strings.Join(parts, ", "))
	}
}

func comparisonText(c *loadtest.BaselineComparison) string {
	if c == nil {
		return "-"
	}
	return fmt.Sprintf("%s (%.1fx latency)", c.Status, c.ResponseTimeRatio)
}

func writeAutoScaling(b *strings.Builder, a *loadtest.AutoScalingResult) {
	if a == nil {
		return
	}
	b.WriteString("\n## Auto-scaling\n\n")
	fmt.Fprintf(b, "Status: **%s**", a.Status)
	if a.ScenarioID != "" {
		fmt.Fprintf(b, " using %s", a.ScenarioID)
	}
	b.WriteString(".")
	if a.InitialReplicas != nil && a.PeakReplicas != nil {
		fmt.Fprintf(b, " Replicas went from %.0f to %.0f.", *a.InitialReplicas, *a.PeakReplicas)
	}
	if a.Note != "" {
		fmt.Fprintf(b, " %s.", a.Note)
	}
	b.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
