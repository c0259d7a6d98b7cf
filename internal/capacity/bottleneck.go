package capacity

import (
	"fmt"
	"sort"

	"github.com/FairForge/capplanner/internal/loadtest"
)

// BottleneckType identifies the category of bottleneck.
type BottleneckType string

const (
	BottleneckPerformance BottleneckType = "performance"
	BottleneckReliability BottleneckType = "reliability"
	BottleneckEfficiency  BottleneckType = "efficiency"
	BottleneckResource    BottleneckType = "resource"
)

// Severity indicates how critical a bottleneck is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Resource metric keys and their saturation thresholds (percent).
const (
	ResourceCPU    = "cpu_usage"
	ResourceMemory = "memory_usage"

	cpuSaturationPercent    = 80.0
	memorySaturationPercent = 85.0
)

// Bottleneck is a diagnosis of what constrains capacity.
type Bottleneck struct {
	Type           BottleneckType `json:"type"`
	Component      string         `json:"component"`
	ThresholdUsers int            `json:"threshold_users"`
	Description    string         `json:"description"`
	Severity       Severity       `json:"severity"`
	Recommendation string         `json:"recommendation"`
}

// DetectBottlenecks derives bottlenecks from an analysis and the per-scenario
// resource samples. Order is fixed: performance, reliability, efficiency,
// then resource findings in scenario order, CPU before memory.
func DetectBottlenecks(a *Analysis, results []loadtest.ScenarioResult) []Bottleneck {
	bottlenecks := make([]Bottleneck, 0)
	if a == nil {
		return bottlenecks
	}

	if users := a.Limits.PerformanceUsers; users != nil {
		bottlenecks = append(bottlenecks, Bottleneck{
			Type:           BottleneckPerformance,
			Component:      "response_time",
			ThresholdUsers: *users,
			Description: fmt.Sprintf("Average response time exceeds %.0fms at %d concurrent users",
				performanceResponseTimeMs, *users),
			Severity:       SeverityHigh,
			Recommendation: "Profile slow endpoints, add caching for hot reads, and optimize database queries",
		})
	}

	if users := a.Limits.ReliabilityUsers; users != nil {
		bottlenecks = append(bottlenecks, Bottleneck{
			Type:           BottleneckReliability,
			Component:      "error_rate",
			ThresholdUsers: *users,
			Description: fmt.Sprintf("Error rate exceeds %.0f%% at %d concurrent users",
				reliabilityErrorRatePercent, *users),
			Severity:       SeverityCritical,
			Recommendation: "Review error logs, add circuit breakers and retries, and increase instance capacity",
		})
	}

	if users := a.Efficiency.DropThreshold; users != nil {
		bottlenecks = append(bottlenecks, Bottleneck{
			Type:           BottleneckEfficiency,
			Component:      "throughput_scaling",
			ThresholdUsers: *users,
			Description: fmt.Sprintf("Throughput per user drops more than %.0f%% below its peak at %d concurrent users",
				(1-efficiencyDropFactor)*100, *users),
			Severity:       SeverityMedium,
			Recommendation: "Check for lock contention, connection pool limits and other serialization points",
		})
	}

	for _, r := range results {
		if len(r.ResourceMetrics) == 0 {
			continue
		}
		if cpu, ok := r.ResourceMetrics[ResourceCPU]; ok && cpu > cpuSaturationPercent {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:           BottleneckResource,
				Component:      "cpu",
				ThresholdUsers: r.Users(),
				Description: fmt.Sprintf("CPU usage %.1f%% during %s (%d users)",
					cpu, r.Definition.ID, r.Users()),
				Severity:       SeverityHigh,
				Recommendation: "Scale out compute or move to larger instance types; profile CPU hot paths",
			})
		}
		if mem, ok := r.ResourceMetrics[ResourceMemory]; ok && mem > memorySaturationPercent {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:           BottleneckResource,
				Component:      "memory",
				ThresholdUsers: r.Users(),
				Description: fmt.Sprintf("Memory usage %.1f%% during %s (%d users)",
					mem, r.Definition.ID, r.Users()),
				Severity:       SeverityHigh,
				Recommendation: "Increase memory limits and profile allocations for leaks",
			})
		}
	}

	return bottlenecks
}

// CountBySeverity tallies bottlenecks per severity.
func CountBySeverity(bottlenecks []Bottleneck) map[Severity]int {
	counts := make(map[Severity]int)
	for _, b := range bottlenecks {
		counts[b.Severity]++
	}
	return counts
}

// HasSeverity reports whether any bottleneck has severity s.
func HasSeverity(bottlenecks []Bottleneck, s Severity) bool {
	for _, b := range bottlenecks {
		if b.Severity == s {
			return true
		}
	}
	return false
}

// HasType reports whether any bottleneck has type t.
func HasType(bottlenecks []Bottleneck, t BottleneckType) bool {
	for _, b := range bottlenecks {
		if b.Type == t {
			return true
		}
	}
	return false
}

// TopBottleneck returns the most severe bottleneck, the earliest on ties.
func TopBottleneck(bottlenecks []Bottleneck) *Bottleneck {
	if len(bottlenecks) == 0 {
		return nil
	}
	sorted := make([]Bottleneck, len(bottlenecks))
	copy(sorted, bottlenecks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return severityRank(sorted[i].Severity) > severityRank(sorted[j].Severity)
	})
	return &sorted[0]
}

// severityRank returns numeric rank for sorting.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
