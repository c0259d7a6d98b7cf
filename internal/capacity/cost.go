package capacity

import (
	"math"
	"regexp"
	"strconv"
)

// Cost model constants.
const (
	baseMonthlyCost     = 1000.0 // reference monthly infrastructure spend
	assumedUserIncrease = 50.0   // users gained per recommendation, for cost per user
	defaultCostFraction = 0.30   // used when a cost range cannot be parsed
	roiBaseMonths       = 6.0
	defaultImplCost     = 5000.0
)

var costRangePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*-\s*(\d+(?:\.\d+)?)\s*%`)

// implementationCosts is the one-off engineering cost per recommendation type.
var implementationCosts = map[RecommendationType]float64{
	RecommendationHorizontalScaling:    5000,
	RecommendationVerticalScaling:      2000,
	RecommendationCachingOptimization:  8000,
	RecommendationDatabaseOptimization: 12000,
	RecommendationAutoScaling:          3000,
}

// CostEstimate is the projected cost of adopting a recommendation.
type CostEstimate struct {
	MonthlyCostIncrease float64 `json:"monthly_cost_increase"`
	ImplementationCost  float64 `json:"implementation_cost"`
	ROIMonths           int     `json:"roi_months"`
	CostPerUser         float64 `json:"cost_per_user"`
}

// ParseCostRange turns "N-M%" into the average as a fraction, so "25-40%"
// is 0.325. Unparsable input yields 0.30.
func ParseCostRange(s string) float64 {
	m := costRangePattern.FindStringSubmatch(s)
	if m == nil {
		return defaultCostFraction
	}
	low, err1 := strconv.ParseFloat(m[1], 64)
	high, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return defaultCostFraction
	}
	return (low + high) / 2 / 100
}

// complexityMultiplier scales the payback period.
func complexityMultiplier(c Complexity) float64 {
	switch c {
	case ComplexityLow:
		return 1
	case ComplexityHigh:
		return 2
	default:
		return 1.5
	}
}

// EstimateCost prices a recommendation.
func EstimateCost(rec Recommendation) CostEstimate {
	fraction := ParseCostRange(rec.EstimatedCostIncrease)
	monthly := baseMonthlyCost * fraction

	impl, ok := implementationCosts[rec.Type]
	if !ok {
		impl = defaultImplCost
	}

	return CostEstimate{
		MonthlyCostIncrease: monthly,
		ImplementationCost:  impl,
		ROIMonths:           int(math.Ceil(roiBaseMonths * complexityMultiplier(rec.Complexity) * fraction)),
		CostPerUser:         monthly / assumedUserIncrease,
	}
}
