package monitoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// windowPlaceholder is replaced by the scenario window, e.g. "300s".
const windowPlaceholder = "$window"

// DefaultQueries are PromQL templates for the standard resource metrics.
func DefaultQueries() map[string]string {
	return map[string]string{
		MetricCPUUsage:     `100 * (1 - avg(rate(node_cpu_seconds_total{mode="idle"}[$window])))`,
		MetricMemoryUsage:  `100 * (1 - avg(avg_over_time(node_memory_MemAvailable_bytes[$window])) / avg(avg_over_time(node_memory_MemTotal_bytes[$window])))`,
		MetricResponseTime: `1000 * sum(rate(http_request_duration_seconds_sum[$window])) / sum(rate(http_request_duration_seconds_count[$window]))`,
		MetricErrorRate:    `100 * sum(rate(http_requests_total{status=~"5.."}[$window])) / sum(rate(http_requests_total[$window]))`,
	}
}

// DefaultReplicaQuery counts ready serving instances.
const DefaultReplicaQuery = `count(up{job="api"} == 1)`

// PrometheusConfig configures a PrometheusMonitor.
type PrometheusConfig struct {
	URL              string
	Queries          map[string]string
	ReplicaQuery     string
	Timeout          time.Duration // per query
	QueriesPerSecond float64
	FailureThreshold uint32        // consecutive failures before the breaker opens
	OpenTimeout      time.Duration // how long the breaker stays open
}

// PrometheusMonitor answers resource queries from the Prometheus HTTP API.
type PrometheusMonitor struct {
	api          v1.API
	queries      map[string]string
	replicaQuery string
	timeout      time.Duration
	limiter      *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	logger       *zap.Logger
}

// NewPrometheusMonitor creates a monitor for the server at config.URL.
func NewPrometheusMonitor(config PrometheusConfig, logger *zap.Logger) (*PrometheusMonitor, error) {
	if config.URL == "" {
		return nil, errors.New("monitoring: prometheus url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.Queries) == 0 {
		config.Queries = DefaultQueries()
	}
	if config.ReplicaQuery == "" {
		config.ReplicaQuery = DefaultReplicaQuery
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.QueriesPerSecond <= 0 {
		config.QueriesPerSecond = 5
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 3
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = time.Minute
	}

	client, err := api.NewClient(api.Config{Address: config.URL})
	if err != nil {
		return nil, fmt.Errorf("monitoring: create prometheus client: %w", err)
	}

	log := logger.Named("monitoring")
	threshold := config.FailureThreshold

	return &PrometheusMonitor{
		api:          v1.NewAPI(client),
		queries:      config.Queries,
		replicaQuery: config.ReplicaQuery,
		timeout:      config.Timeout,
		limiter:      rate.NewLimiter(rate.Limit(config.QueriesPerSecond), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "prometheus",
			MaxRequests: 1,
			Timeout:     config.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("resource query breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		logger: log,
	}, nil
}

// Enabled is always true for a configured backend.
func (m *PrometheusMonitor) Enabled() bool { return true }

// ResourceMetrics evaluates every configured query at end over the window
// [start, end]. Failed queries are left out of the map and joined into the
// returned error.
func (m *PrometheusMonitor) ResourceMetrics(ctx context.Context, start, end time.Time) (map[string]float64, error) {
	window := promDuration(end.Sub(start))

	names := make([]string, 0, len(m.queries))
	for name := range m.queries {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make(map[string]float64, len(names))
	var errs []error
	for _, name := range names {
		query := strings.ReplaceAll(m.queries[name], windowPlaceholder, window)
		v, err := m.instant(ctx, query, end)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		values[name] = v
	}

	return values, errors.Join(errs...)
}

// Replicas evaluates the replica query at the given instant.
func (m *PrometheusMonitor) Replicas(ctx context.Context, at time.Time) (float64, error) {
	return m.instant(ctx, m.replicaQuery, at)
}

// PeakReplicas takes the maximum of the replica query over [start, end].
func (m *PrometheusMonitor) PeakReplicas(ctx context.Context, start, end time.Time) (float64, error) {
	query := fmt.Sprintf("max_over_time((%s)[%s:15s])", m.replicaQuery, promDuration(end.Sub(start)))
	return m.instant(ctx, query, end)
}

type queryOutcome struct {
	value float64
	found bool
}

func (m *PrometheusMonitor) instant(ctx context.Context, query string, at time.Time) (float64, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("wait for query slot: %w", err)
	}

	out, err := m.breaker.Execute(func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		val, warnings, err := m.api.Query(qctx, query, at)
		if err != nil {
			return nil, err
		}
		if len(warnings) > 0 {
			m.logger.Debug("prometheus warnings", zap.String("query", query), zap.Strings("warnings", warnings))
		}
		v, found, err := scalarValue(val)
		if err != nil {
			return nil, err
		}
		return queryOutcome{value: v, found: found}, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, fmt.Errorf("%w: %v", ErrMonitorUnavailable, err)
	}
	if err != nil {
		return 0, err
	}

	res := out.(queryOutcome)
	if !res.found {
		return 0, ErrNoData
	}
	return res.value, nil
}

// scalarValue extracts one number from a query result. Empty results and
// NaN are reported as not found rather than as errors, so they do not count
// against the breaker.
func scalarValue(v model.Value) (float64, bool, error) {
	var f float64
	switch val := v.(type) {
	case *model.Scalar:
		f = float64(val.Value)
	case model.Vector:
		if len(val) == 0 {
			return 0, false, nil
		}
		f = float64(val[0].Value)
	case model.Matrix:
		if len(val) == 0 || len(val[0].Values) == 0 {
			return 0, false, nil
		}
		f = float64(val[0].Values[len(val[0].Values)-1].Value)
	default:
		return 0, false, fmt.Errorf("unsupported result type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, nil
	}
	return f, true, nil
}

// promDuration renders d in whole seconds, at least one.
func promDuration(d time.Duration) string {
	secs := int64(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%ds", secs)
}
