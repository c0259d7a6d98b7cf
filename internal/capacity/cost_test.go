package capacity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCostRange(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"25-40%", 0.325},
		{"50-100%", 0.75},
		{"0-20%", 0.10},
		{"10 - 20 %", 0.15},
		{"2.5-7.5%", 0.05},
		{"", 0.30},
		{"about a third", 0.30},
		{"25-40", 0.30},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseCostRange(tt.input), 1e-9)
		})
	}
}

func TestEstimateCost(t *testing.T) {
	tests := []struct {
		name        string
		rec         Recommendation
		monthly     float64
		impl        float64
		roi         int
		costPerUser float64
	}{
		{
			name:        "vertical low complexity",
			rec:         Recommendation{Type: RecommendationVerticalScaling, EstimatedCostIncrease: "25-40%", Complexity: ComplexityLow},
			monthly:     325,
			impl:        2000,
			roi:         2, // ceil(6 * 1 * 0.325)
			costPerUser: 6.5,
		},
		{
			name:        "horizontal medium complexity",
			rec:         Recommendation{Type: RecommendationHorizontalScaling, EstimatedCostIncrease: "50-100%", Complexity: ComplexityMedium},
			monthly:     750,
			impl:        5000,
			roi:         7, // ceil(6 * 1.5 * 0.75)
			costPerUser: 15,
		},
		{
			name:        "database high complexity",
			rec:         Recommendation{Type: RecommendationDatabaseOptimization, EstimatedCostIncrease: "15-30%", Complexity: ComplexityHigh},
			monthly:     225,
			impl:        12000,
			roi:         3, // ceil(6 * 2 * 0.225)
			costPerUser: 4.5,
		},
		{
			name:        "unparsable range falls back",
			rec:         Recommendation{Type: "unknown", EstimatedCostIncrease: "n/a", Complexity: ComplexityLow},
			monthly:     300,
			impl:        5000,
			roi:         2, // ceil(6 * 1 * 0.3)
			costPerUser: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateCost(tt.rec)
			assert.InDelta(t, tt.monthly, got.MonthlyCostIncrease, 1e-6)
			assert.Equal(t, tt.impl, got.ImplementationCost)
			assert.Equal(t, tt.roi, got.ROIMonths)
			assert.InDelta(t, tt.costPerUser, got.CostPerUser, 1e-6)
		})
	}
}
