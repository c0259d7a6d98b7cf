// Package monitoring queries resource utilization for the window in which a
// scenario ran. It is best effort: callers treat errors as "no data".
package monitoring

import (
	"context"
	"errors"
	"time"
)

// Resource metric names reported per scenario.
const (
	MetricCPUUsage     = "cpu_usage"
	MetricMemoryUsage  = "memory_usage"
	MetricResponseTime = "response_time"
	MetricErrorRate    = "error_rate"
)

var (
	// ErrMonitorUnavailable means no backend is configured or it is refusing
	// queries.
	ErrMonitorUnavailable = errors.New("resource monitor unavailable")

	// ErrNoData means the backend answered without a sample.
	ErrNoData = errors.New("query returned no data")
)

// ResourceMonitor is the narrow query interface onto a metrics backend.
type ResourceMonitor interface {
	// ResourceMetrics returns scalar utilization values over [start, end].
	// A partial map may accompany a non-nil error.
	ResourceMetrics(ctx context.Context, start, end time.Time) (map[string]float64, error)

	// Replicas returns the serving replica count at the given instant.
	Replicas(ctx context.Context, at time.Time) (float64, error)

	// PeakReplicas returns the highest replica count over [start, end].
	PeakReplicas(ctx context.Context, start, end time.Time) (float64, error)

	// Enabled reports whether queries can return data at all.
	Enabled() bool
}

// Noop is used when no backend is configured.
type Noop struct{}

func (Noop) ResourceMetrics(context.Context, time.Time, time.Time) (map[string]float64, error) {
	return map[string]float64{}, nil
}

func (Noop) Replicas(context.Context, time.Time) (float64, error) {
	return 0, ErrMonitorUnavailable
}

func (Noop) PeakReplicas(context.Context, time.Time, time.Time) (float64, error) {
	return 0, ErrMonitorUnavailable
}

func (Noop) Enabled() bool { return false }
