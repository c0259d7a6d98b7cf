package capacity

import "fmt"

// RecommendationType names a scaling strategy.
type RecommendationType string

const (
	RecommendationHorizontalScaling    RecommendationType = "horizontal_scaling"
	RecommendationVerticalScaling      RecommendationType = "vertical_scaling"
	RecommendationCachingOptimization  RecommendationType = "caching_optimization"
	RecommendationDatabaseOptimization RecommendationType = "database_optimization"
	RecommendationAutoScaling          RecommendationType = "auto_scaling"
)

// Priority orders recommendations for the action plan.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
)

// Complexity is the implementation effort of a recommendation.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Performance limit below which the database is the suspected constraint.
const databaseSuspectUsers = 100

// horizontalHeadroomFactor is how far the estimate must exceed tested load
// before adding instances is worthwhile.
const horizontalHeadroomFactor = 1.5

// Recommendation is one scaling action with its cost estimate.
type Recommendation struct {
	Type                  RecommendationType `json:"type"`
	Priority              Priority           `json:"priority"`
	TargetImprovement     string             `json:"target_improvement"`
	Implementation        string             `json:"implementation"`
	EstimatedCostIncrease string             `json:"estimated_cost_increase"`
	Complexity            Complexity         `json:"complexity"`
	Cost                  CostEstimate       `json:"cost"`
}

// Recommend applies the recommendation rules in fixed order and prices each
// result. Rules are independent; auto scaling is always suggested.
func Recommend(a *Analysis, bottlenecks []Bottleneck) []Recommendation {
	recs := make([]Recommendation, 0, 5)
	if a == nil {
		a = &Analysis{}
	}

	if est := a.BreakingPoint.EstimatedMaxUsers; est != nil &&
		float64(*est) > horizontalHeadroomFactor*float64(a.MaxTestedUsers) {
		recs = append(recs, Recommendation{
			Type:     RecommendationHorizontalScaling,
			Priority: PriorityHigh,
			TargetImprovement: fmt.Sprintf("Serve up to %d concurrent users (%d tested)",
				*est, a.MaxTestedUsers),
			Implementation:        "Add application instances behind the load balancer and keep services stateless",
			EstimatedCostIncrease: "50-100%",
			Complexity:            ComplexityMedium,
		})
	}

	if HasSeverity(bottlenecks, SeverityCritical) {
		recs = append(recs, Recommendation{
			Type:                  RecommendationVerticalScaling,
			Priority:              PriorityCritical,
			TargetImprovement:     "Remove critical reliability failures under current peak load",
			Implementation:        "Move to larger instance sizes with more CPU and memory",
			EstimatedCostIncrease: "25-40%",
			Complexity:            ComplexityLow,
		})
	}

	if HasType(bottlenecks, BottleneckPerformance) {
		recs = append(recs, Recommendation{
			Type:                  RecommendationCachingOptimization,
			Priority:              PriorityHigh,
			TargetImprovement:     "Cut average response time by 40-60% on cacheable endpoints",
			Implementation:        "Add a shared cache for hot reads and HTTP caching headers for static responses",
			EstimatedCostIncrease: "10-20%",
			Complexity:            ComplexityMedium,
		})
	}

	if users := a.Limits.PerformanceUsers; users != nil && *users < databaseSuspectUsers {
		recs = append(recs, Recommendation{
			Type:     RecommendationDatabaseOptimization,
			Priority: PriorityMedium,
			TargetImprovement: fmt.Sprintf("Push the response time limit beyond %d concurrent users",
				*users),
			Implementation:        "Index slow queries, add read replicas and tune connection pooling",
			EstimatedCostIncrease: "15-30%",
			Complexity:            ComplexityHigh,
		})
	}

	recs = append(recs, Recommendation{
		Type:                  RecommendationAutoScaling,
		Priority:              PriorityMedium,
		TargetImprovement:     "Absorb traffic spikes without manual intervention",
		Implementation:        "Configure autoscaling on CPU and request rate with sensible minimum replicas",
		EstimatedCostIncrease: "0-20%",
		Complexity:            ComplexityMedium,
	})

	for i := range recs {
		recs[i].Cost = EstimateCost(recs[i])
	}
	return recs
}

// PriorityRank returns numeric rank for sorting.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// TopRecommendation returns the highest priority recommendation, the
// earliest in rule order on ties.
func TopRecommendation(recs []Recommendation) *Recommendation {
	var top *Recommendation
	for i := range recs {
		if top == nil || PriorityRank(recs[i].Priority) > PriorityRank(top.Priority) {
			top = &recs[i]
		}
	}
	return top
}
