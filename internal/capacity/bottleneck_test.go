package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/capplanner/internal/loadtest"
	"github.com/FairForge/capplanner/internal/scenario"
)

func TestDetectBottlenecks_Order(t *testing.T) {
	a := &Analysis{
		Limits: Limits{
			ReliabilityUsers: intPtr(100),
			PerformanceUsers: intPtr(200),
		},
		Efficiency: EfficiencyAnalysis{DropThreshold: intPtr(50)},
	}
	results := []loadtest.ScenarioResult{
		{
			Definition:      scenario.Definition{ID: "target_load", TargetUsers: 50},
			ResourceMetrics: map[string]float64{ResourceCPU: 91, ResourceMemory: 90},
		},
		{
			Definition:      scenario.Definition{ID: "stress_test", TargetUsers: 100},
			ResourceMetrics: map[string]float64{ResourceCPU: 40, ResourceMemory: 86},
		},
		{Definition: scenario.Definition{ID: "baseline", TargetUsers: 10}},
	}

	got := DetectBottlenecks(a, results)

	require.Len(t, got, 6)
	assert.Equal(t, BottleneckPerformance, got[0].Type)
	assert.Equal(t, SeverityHigh, got[0].Severity)
	assert.Equal(t, 200, got[0].ThresholdUsers)

	assert.Equal(t, BottleneckReliability, got[1].Type)
	assert.Equal(t, SeverityCritical, got[1].Severity)
	assert.Equal(t, 100, got[1].ThresholdUsers)

	assert.Equal(t, BottleneckEfficiency, got[2].Type)
	assert.Equal(t, SeverityMedium, got[2].Severity)

	assert.Equal(t, "cpu", got[3].Component)
	assert.Equal(t, 50, got[3].ThresholdUsers)
	assert.Equal(t, "memory", got[4].Component)
	assert.Equal(t, 50, got[4].ThresholdUsers)
	assert.Equal(t, "memory", got[5].Component)
	assert.Equal(t, 100, got[5].ThresholdUsers)
	for _, b := range got[3:] {
		assert.Equal(t, BottleneckResource, b.Type)
		assert.Equal(t, SeverityHigh, b.Severity)
	}
}

func TestDetectBottlenecks_ThresholdsAreExclusive(t *testing.T) {
	results := []loadtest.ScenarioResult{{
		Definition:      scenario.Definition{ID: "x", TargetUsers: 10},
		ResourceMetrics: map[string]float64{ResourceCPU: 80, ResourceMemory: 85},
	}}

	assert.Empty(t, DetectBottlenecks(&Analysis{}, results))
}

func TestDetectBottlenecks_NilAnalysis(t *testing.T) {
	got := DetectBottlenecks(nil, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestBottleneckHelpers(t *testing.T) {
	bs := []Bottleneck{
		{Type: BottleneckEfficiency, Severity: SeverityMedium, Component: "throughput_scaling"},
		{Type: BottleneckResource, Severity: SeverityHigh, Component: "cpu"},
		{Type: BottleneckReliability, Severity: SeverityCritical, Component: "error_rate"},
		{Type: BottleneckResource, Severity: SeverityHigh, Component: "memory"},
	}

	counts := CountBySeverity(bs)
	assert.Equal(t, 1, counts[SeverityCritical])
	assert.Equal(t, 2, counts[SeverityHigh])
	assert.Equal(t, 1, counts[SeverityMedium])

	assert.True(t, HasSeverity(bs, SeverityCritical))
	assert.True(t, HasType(bs, BottleneckResource))
	assert.False(t, HasType(bs, BottleneckPerformance))

	top := TopBottleneck(bs)
	require.NotNil(t, top)
	assert.Equal(t, "error_rate", top.Component)

	assert.Nil(t, TopBottleneck(nil))
}
