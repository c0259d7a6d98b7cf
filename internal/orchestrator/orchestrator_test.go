package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/FairForge/capplanner/internal/loadtest"
	"github.com/FairForge/capplanner/internal/metrics"
	"github.com/FairForge/capplanner/internal/monitoring"
	"github.com/FairForge/capplanner/internal/reporting"
	"github.com/FairForge/capplanner/internal/scenario"
)

type fakeDriver struct{}

func (fakeDriver) Name() string            { return "k6" }
func (fakeDriver) Binary() string          { return "k6" }
func (fakeDriver) Format() loadtest.Format { return loadtest.FormatK6 }
func (fakeDriver) Prepare(scenario.Definition, string, string, loadtest.Target) (loadtest.Command, error) {
	return loadtest.Command{}, nil
}

type fakeExecutor struct {
	missing bool
}

func (fakeExecutor) Execute(context.Context, loadtest.Command) (*loadtest.ExecResult, error) {
	return nil, errors.New("not used")
}

func (e fakeExecutor) LookPath(name string) (string, error) {
	if e.missing {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/bin/" + name, nil
}

// fakeRunner succeeds for every scenario except those listed in fail or
// panic. Response time grows with users.
type fakeRunner struct {
	fail    map[string]bool
	panics  map[string]bool
	delay   time.Duration
	missing bool

	mu          sync.Mutex
	calls       []string
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeRunner) result(ctx context.Context, def scenario.Definition, kind string) loadtest.ScenarioResult {
	f.mu.Lock()
	f.calls = append(f.calls, kind+":"+def.ID)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if f.panics[def.ID] {
		panic("generator exploded")
	}

	start := time.Now()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if kind == "run" && f.fail[def.ID] {
		return loadtest.Failed(def, start, errors.New("k6 exited with code 1"))
	}

	return loadtest.ScenarioResult{
		Definition: def,
		Success:    true,
		Metrics: &loadtest.ScenarioMetrics{
			TotalRequests:       int64(def.TargetUsers * 10),
			SuccessfulRequests:  int64(def.TargetUsers * 10),
			AvgResponseTimeMs:   float64(def.TargetUsers) * 2,
			ThroughputReqPerSec: float64(def.TargetUsers) / 2,
		},
		StartedAt:  start,
		FinishedAt: start.Add(time.Second),
	}
}

func (f *fakeRunner) Run(ctx context.Context, def scenario.Definition) loadtest.ScenarioResult {
	return f.result(ctx, def, "run")
}

func (f *fakeRunner) RunBaseline(ctx context.Context, def scenario.Definition) loadtest.ScenarioResult {
	return f.result(ctx, def, "baseline")
}

func (f *fakeRunner) RunAutoScaling(ctx context.Context, def scenario.Definition) loadtest.ScenarioResult {
	return f.result(ctx, def, "autoscaling")
}

func (f *fakeRunner) Driver() loadtest.Driver     { return fakeDriver{} }
func (f *fakeRunner) Executor() loadtest.Executor { return fakeExecutor{missing: f.missing} }

type fakeMonitor struct {
	values      map[string]float64
	err         error
	initial     float64
	peak        float64
	replicasErr error
	queries     atomic.Int32
}

func (m *fakeMonitor) ResourceMetrics(context.Context, time.Time, time.Time) (map[string]float64, error) {
	m.queries.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]float64, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *fakeMonitor) Replicas(context.Context, time.Time) (float64, error) {
	return m.initial, m.replicasErr
}

func (m *fakeMonitor) PeakReplicas(context.Context, time.Time, time.Time) (float64, error) {
	return m.peak, m.replicasErr
}

func (m *fakeMonitor) Enabled() bool { return true }

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestOrchestrator(t *testing.T, cfg Config, runner ScenarioRunner, opts ...Option) (*Orchestrator, *sleepRecorder) {
	t.Helper()
	if cfg.Scenarios == nil {
		cfg.Scenarios = scenario.Defaults()
	}
	o, err := New(cfg, runner, zap.NewNop(), opts...)
	require.NoError(t, err)
	s := &sleepRecorder{}
	o.sleep = s.sleep
	return o, s
}

func scenarioIDs(results []loadtest.ScenarioResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Definition.ID
	}
	return ids
}

var defaultIDs = []string{"baseline", "target_load", "stress_test", "spike_test", "break_point", "sustained_load"}

func TestOrchestrator_RunSequential(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"stress_test": true}}
	recorder := metrics.NewRecorder()
	o, sleeps := newTestOrchestrator(t, Config{CoolDown: 30 * time.Second}, runner, WithRecorder(recorder))

	out, err := o.Run(context.Background())
	require.NoError(t, err)

	_, err = uuid.Parse(out.RunID)
	assert.NoError(t, err)
	assert.Equal(t, reporting.ModeSequential, out.Mode)
	assert.False(t, out.FinishedAt.Before(out.StartedAt))

	require.NotNil(t, out.Baseline)
	assert.True(t, out.Baseline.Success)
	assert.Equal(t, "baseline", out.Baseline.Definition.ID)
	assert.Equal(t, "baseline:baseline", runner.calls[0])

	assert.Equal(t, defaultIDs, scenarioIDs(out.Results))
	succeeded := 0
	for _, r := range out.Results {
		if r.Success {
			succeeded++
			assert.NotNil(t, r.Baseline, r.Definition.ID)
		} else {
			assert.Equal(t, "stress_test", r.Definition.ID)
			assert.Equal(t, "k6 exited with code 1", r.Error)
			assert.Nil(t, r.Baseline)
		}
	}
	assert.Equal(t, 5, succeeded)

	// no cool-down after the last scenario
	assert.Equal(t, []time.Duration{
		30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second, 30 * time.Second,
	}, sleeps.sleeps)
	assert.Equal(t, int32(1), runner.maxInFlight.Load())
	assert.Nil(t, out.AutoScaling)

	expected := `
# HELP capplanner_scenarios_total Scenarios executed by outcome
# TYPE capplanner_scenarios_total counter
capplanner_scenarios_total{status="failed"} 1
capplanner_scenarios_total{status="succeeded"} 5
`
	assert.NoError(t, testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected), "capplanner_scenarios_total"))
}

func TestOrchestrator_BaselineFailureDisablesComparison(t *testing.T) {
	table := scenario.Table{
		{ID: "small", Name: "small", TargetUsers: 5, DurationSeconds: 60, RampSeconds: 10},
		{ID: "large", Name: "large", TargetUsers: 50, DurationSeconds: 60, RampSeconds: 10},
	}
	runner := &fakeRunner{panics: map[string]bool{}}
	o, _ := newTestOrchestrator(t, Config{Scenarios: table}, &baselineFailingRunner{fakeRunner: runner})

	out, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.False(t, out.Baseline.Success)
	for _, r := range out.Results {
		assert.True(t, r.Success)
		assert.Nil(t, r.Baseline)
	}
}

type baselineFailingRunner struct {
	*fakeRunner
}

func (b *baselineFailingRunner) RunBaseline(_ context.Context, def scenario.Definition) loadtest.ScenarioResult {
	return loadtest.Failed(def, time.Now(), errors.New("k6 exited with code 99"))
}

func TestOrchestrator_RecoversPanics(t *testing.T) {
	runner := &fakeRunner{panics: map[string]bool{"spike_test": true}}
	o, _ := newTestOrchestrator(t, Config{}, runner)

	out, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, out.Results, 6)
	spike := out.Results[3]
	assert.Equal(t, "spike_test", spike.Definition.ID)
	assert.False(t, spike.Success)
	assert.Contains(t, spike.Error, "generator exploded")
	assert.True(t, out.Results[4].Success)
}

func TestOrchestrator_RunParallel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	runner := &fakeRunner{
		fail:  map[string]bool{"break_point": true},
		delay: 50 * time.Millisecond,
	}
	o, err := New(Config{Scenarios: scenario.Defaults(), Parallel: true, CoolDown: time.Minute}, runner, zap.New(core))
	require.NoError(t, err)
	sleeps := &sleepRecorder{}
	o.sleep = sleeps.sleep

	out, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, reporting.ModeParallel, out.Mode)
	assert.Equal(t, defaultIDs, scenarioIDs(out.Results))
	for _, r := range out.Results {
		assert.Equal(t, r.Definition.ID != "break_point", r.Success, r.Definition.ID)
	}
	assert.Greater(t, runner.maxInFlight.Load(), int32(1))
	assert.Empty(t, sleeps.sleeps)
	assert.Equal(t, 1, logs.FilterMessageSnippet("in parallel").Len())
}

func TestOrchestrator_RunParallelLimit(t *testing.T) {
	runner := &fakeRunner{delay: 20 * time.Millisecond}
	o, _ := newTestOrchestrator(t, Config{Parallel: true, MaxParallel: 2}, runner)

	out, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, out.Results, 6)
	// the baseline runs alone before the fan-out
	assert.LessOrEqual(t, runner.maxInFlight.Load(), int32(2))
}

func TestOrchestrator_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &cancellingRunner{fakeRunner: &fakeRunner{}, cancelAfter: "target_load", cancel: cancel}
	o, _ := newTestOrchestrator(t, Config{CoolDown: time.Second}, runner)

	out, err := o.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, out)
	require.Len(t, out.Results, 6)
	assert.True(t, out.Results[0].Success)
	assert.True(t, out.Results[1].Success)
	for _, r := range out.Results[2:] {
		assert.False(t, r.Success)
		assert.Contains(t, r.Error, "not started")
	}
}

type cancellingRunner struct {
	*fakeRunner
	cancelAfter string
	cancel      context.CancelFunc
}

func (c *cancellingRunner) Run(ctx context.Context, def scenario.Definition) loadtest.ScenarioResult {
	res := c.fakeRunner.Run(ctx, def)
	if def.ID == c.cancelAfter {
		c.cancel()
	}
	return res
}

func TestOrchestrator_ResourceMetrics(t *testing.T) {
	t.Run("attached per scenario", func(t *testing.T) {
		mon := &fakeMonitor{values: map[string]float64{monitoring.MetricCPUUsage: 91, monitoring.MetricMemoryUsage: 40}}
		o, _ := newTestOrchestrator(t, Config{}, &fakeRunner{}, WithMonitor(mon))

		out, err := o.Run(context.Background())
		require.NoError(t, err)

		for _, r := range out.Results {
			assert.Equal(t, 91.0, r.ResourceMetrics[monitoring.MetricCPUUsage], r.Definition.ID)
		}
		assert.Equal(t, int32(6), mon.queries.Load())
	})

	t.Run("failure is a warning and an empty map", func(t *testing.T) {
		core, logs := observer.New(zapcore.WarnLevel)
		mon := &fakeMonitor{err: monitoring.ErrMonitorUnavailable}
		recorder := metrics.NewRecorder()
		o, err := New(Config{Scenarios: scenario.Defaults()[:2]}, &fakeRunner{}, zap.New(core),
			WithMonitor(mon), WithRecorder(recorder))
		require.NoError(t, err)
		o.sleep = (&sleepRecorder{}).sleep

		out, err := o.Run(context.Background())
		require.NoError(t, err)

		for _, r := range out.Results {
			assert.True(t, r.Success)
			assert.NotNil(t, r.ResourceMetrics)
			assert.Empty(t, r.ResourceMetrics)
		}
		assert.Equal(t, 2, logs.FilterMessage("resource metrics unavailable").Len())

		expected := `
# HELP capplanner_resource_query_failures_total Resource monitoring queries that returned no data
# TYPE capplanner_resource_query_failures_total counter
capplanner_resource_query_failures_total 2
`
		assert.NoError(t, testutil.GatherAndCompare(recorder.Registry(), strings.NewReader(expected),
			"capplanner_resource_query_failures_total"))
	})

	t.Run("disabled monitor is not queried", func(t *testing.T) {
		o, _ := newTestOrchestrator(t, Config{}, &fakeRunner{})

		out, err := o.Run(context.Background())
		require.NoError(t, err)

		for _, r := range out.Results {
			assert.Nil(t, r.ResourceMetrics)
		}
	})
}

func TestOrchestrator_AutoScaling(t *testing.T) {
	tests := []struct {
		name    string
		monitor monitoring.ResourceMonitor
		status  loadtest.AutoScalingStatus
		ran     bool
	}{
		{"triggered", &fakeMonitor{initial: 2, peak: 5}, loadtest.AutoScalingTriggered, true},
		{"not triggered", &fakeMonitor{initial: 3, peak: 3}, loadtest.AutoScalingNotTriggered, true},
		{"replica query fails", &fakeMonitor{replicasErr: monitoring.ErrNoData}, loadtest.AutoScalingFailed, false},
		{"no monitor", nil, loadtest.AutoScalingSkipped, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			o, _ := newTestOrchestrator(t, Config{AutoScalingTest: true}, runner, WithMonitor(tt.monitor))

			out, err := o.Run(context.Background())
			require.NoError(t, err)

			require.NotNil(t, out.AutoScaling)
			assert.Equal(t, tt.status, out.AutoScaling.Status)
			assert.Equal(t, "spike_test", out.AutoScaling.ScenarioID)
			assert.Equal(t, tt.ran, out.AutoScaling.Scenario != nil)
			assert.Equal(t, tt.ran, runner.calls[len(runner.calls)-1] == "autoscaling:spike_test")
			if tt.status == loadtest.AutoScalingTriggered {
				assert.Equal(t, 2.0, *out.AutoScaling.InitialReplicas)
				assert.Equal(t, 5.0, *out.AutoScaling.PeakReplicas)
			}
		})
	}
}

func TestValidatePrerequisites(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	tests := []struct {
		name    string
		url     string
		missing bool
		checks  []string
	}{
		{"all good", healthy.URL, false, nil},
		{"target answers 5xx", broken.URL, false, []string{CheckTarget}},
		{"target unreachable", "http://127.0.0.1:1", false, []string{CheckTarget}},
		{"no target", "", false, []string{CheckTarget}},
		{"generator missing", healthy.URL, true, []string{CheckLoadGenerator}},
		{"both", broken.URL, true, []string{CheckLoadGenerator, CheckTarget}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := newTestOrchestrator(t, Config{HealthURL: tt.url, HealthTimeout: 2 * time.Second},
				&fakeRunner{missing: tt.missing}, WithHTTPClient(healthy.Client()))

			err := o.ValidatePrerequisites(context.Background())
			if tt.checks == nil {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var setupErr *SetupError
			require.ErrorAs(t, err, &setupErr)
			assert.Equal(t, tt.checks[0], setupErr.Check)
			for _, check := range tt.checks {
				assert.Contains(t, err.Error(), "setup check "+check+" failed")
			}
		})
	}
}

func TestNew(t *testing.T) {
	_, err := New(Config{Scenarios: scenario.Defaults()}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{}, &fakeRunner{}, nil)
	assert.Error(t, err)

	o, err := New(Config{Scenarios: scenario.Defaults()}, &fakeRunner{}, nil, WithMonitor(nil))
	require.NoError(t, err)
	assert.False(t, o.monitor.Enabled())
	assert.Equal(t, 30*time.Second, o.config.ResourceQueryTimeout)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
