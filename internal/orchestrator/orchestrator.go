// Package orchestrator sequences the baseline, the scenario table and the
// auto-scaling check against one target and collects their results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/FairForge/capplanner/internal/loadtest"
	"github.com/FairForge/capplanner/internal/metrics"
	"github.com/FairForge/capplanner/internal/monitoring"
	"github.com/FairForge/capplanner/internal/reporting"
	"github.com/FairForge/capplanner/internal/scenario"
)

// ScenarioRunner executes single scenarios. *loadtest.Runner implements it.
type ScenarioRunner interface {
	Run(ctx context.Context, def scenario.Definition) loadtest.ScenarioResult
	RunBaseline(ctx context.Context, def scenario.Definition) loadtest.ScenarioResult
	RunAutoScaling(ctx context.Context, def scenario.Definition) loadtest.ScenarioResult
	Driver() loadtest.Driver
	Executor() loadtest.Executor
}

// Config controls how a run is sequenced.
type Config struct {
	Scenarios scenario.Table

	// Parallel runs every scenario at once. Load overlaps, so results are
	// diagnostic only.
	Parallel    bool
	MaxParallel int

	// CoolDown separates sequential scenarios.
	CoolDown time.Duration

	AutoScalingTest bool

	// HealthURL is probed by ValidatePrerequisites.
	HealthURL     string
	HealthTimeout time.Duration

	ResourceQueryTimeout time.Duration
}

// RunOutcome is everything a run produced, ready for reporting.
type RunOutcome struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Mode        string
	Baseline    *loadtest.ScenarioResult
	Results     []loadtest.ScenarioResult
	AutoScaling *loadtest.AutoScalingResult
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMonitor sets the resource monitor. Without one, resource metrics are
// not collected and the auto-scaling check is skipped.
func WithMonitor(m monitoring.ResourceMonitor) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.monitor = m
		}
	}
}

// WithRecorder records every scenario outcome on r.
func WithRecorder(r *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithHTTPClient sets the client used for the target reachability check.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.client = c
		}
	}
}

// Orchestrator drives a ScenarioRunner through a scenario table.
type Orchestrator struct {
	config   Config
	runner   ScenarioRunner
	monitor  monitoring.ResourceMonitor
	recorder *metrics.Recorder
	client   *http.Client
	logger   *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New validates the scenario table and builds an orchestrator.
func New(config Config, runner ScenarioRunner, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if runner == nil {
		return nil, errors.New("orchestrator: runner is required")
	}
	if err := config.Scenarios.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.HealthTimeout <= 0 {
		config.HealthTimeout = 10 * time.Second
	}
	if config.ResourceQueryTimeout <= 0 {
		config.ResourceQueryTimeout = 30 * time.Second
	}
	if config.CoolDown < 0 {
		config.CoolDown = 0
	}

	o := &Orchestrator{
		config:  config,
		runner:  runner,
		monitor: monitoring.Noop{},
		client:  &http.Client{},
		logger:  logger.Named("orchestrator"),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run executes the baseline, then every scenario, then the optional
// auto-scaling check. Scenario failures are recorded in the results and
// never abort the run. If ctx is cancelled the remaining scenarios are
// recorded as failed and the cancellation is returned with the outcome.
func (o *Orchestrator) Run(ctx context.Context) (*RunOutcome, error) {
	out := &RunOutcome{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Mode:      reporting.ModeSequential,
	}
	if o.config.Parallel {
		out.Mode = reporting.ModeParallel
	}
	log := o.logger.With(zap.String("run_id", out.RunID))
	log.Info("starting capacity run",
		zap.String("mode", out.Mode),
		zap.Int("scenarios", len(o.config.Scenarios)),
		zap.String("driver", o.runner.Driver().Name()),
	)

	def, _ := o.config.Scenarios.Smallest()
	baseline := o.execute(ctx, def, o.runner.RunBaseline)
	out.Baseline = &baseline
	var reference *loadtest.ScenarioMetrics
	if baseline.Success {
		reference = baseline.Metrics
		log.Info("baseline complete",
			zap.String("scenario", def.ID),
			zap.Float64("avg_ms", baseline.Metrics.AvgResponseTimeMs),
			zap.Float64("error_rate_pct", baseline.Metrics.ErrorRatePercent),
		)
	} else {
		log.Warn("baseline failed; scenarios will not be compared", zap.String("error", baseline.Error))
	}

	if o.config.Parallel {
		out.Results = o.runParallel(ctx, reference)
	} else {
		out.Results = o.runSequential(ctx, reference)
	}

	if o.config.AutoScalingTest && ctx.Err() == nil {
		out.AutoScaling = o.autoScalingTest(ctx)
	}

	out.FinishedAt = time.Now().UTC()

	failed := 0
	for _, r := range out.Results {
		if !r.Success {
			failed++
		}
	}
	log.Info("capacity run finished",
		zap.Int("succeeded", len(out.Results)-failed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", out.FinishedAt.Sub(out.StartedAt)),
	)

	if err := ctx.Err(); err != nil {
		return out, fmt.Errorf("capacity run interrupted: %w", err)
	}
	return out, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, reference *loadtest.ScenarioMetrics) []loadtest.ScenarioResult {
	table := o.config.Scenarios
	results := make([]loadtest.ScenarioResult, 0, len(table))

	for i, def := range table {
		results = append(results, o.runScenario(ctx, def, reference))

		if i == len(table)-1 || ctx.Err() != nil {
			continue
		}
		if o.config.CoolDown > 0 {
			o.logger.Debug("cooling down", zap.Duration("cool_down", o.config.CoolDown))
		}
		if err := o.sleep(ctx, o.config.CoolDown); err != nil {
			o.logger.Warn("cool-down interrupted", zap.Error(err))
		}
	}
	return results
}

func (o *Orchestrator) runParallel(ctx context.Context, reference *loadtest.ScenarioMetrics) []loadtest.ScenarioResult {
	o.logger.Warn("running scenarios in parallel; overlapping load makes results unsuitable for capacity measurement",
		zap.Int("max_parallel", o.config.MaxParallel))

	table := o.config.Scenarios
	results := make([]loadtest.ScenarioResult, len(table))

	var g errgroup.Group
	if o.config.MaxParallel > 0 {
		g.SetLimit(o.config.MaxParallel)
	}
	for i, def := range table {
		i, def := i, def
		g.Go(func() error {
			results[i] = o.runScenario(ctx, def, reference)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runScenario executes one table entry, then attaches resource metrics and
// the baseline comparison and records the outcome.
func (o *Orchestrator) runScenario(ctx context.Context, def scenario.Definition, reference *loadtest.ScenarioMetrics) loadtest.ScenarioResult {
	res := o.execute(ctx, def, o.runner.Run)

	o.attachResources(ctx, &res)
	if res.Success {
		res.Baseline = loadtest.CompareToBaseline(reference, res.Metrics)
		if res.Baseline != nil && res.Baseline.Status != loadtest.StatusPass {
			o.logger.Info("scenario deviates from baseline",
				zap.String("scenario", def.ID),
				zap.String("status", string(res.Baseline.Status)),
				zap.Strings("reasons", res.Baseline.Reasons),
			)
		}
	}

	o.recorder.RecordScenario(res)
	return res
}

// execute calls run and turns a cancelled context or a panic into a failed
// result.
func (o *Orchestrator) execute(ctx context.Context, def scenario.Definition,
	run func(context.Context, scenario.Definition) loadtest.ScenarioResult) (res loadtest.ScenarioResult) {
	started := time.Now()

	if err := ctx.Err(); err != nil {
		return loadtest.Failed(def, started, fmt.Errorf("not started: %w", err))
	}

	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("scenario panicked", zap.String("scenario", def.ID), zap.Any("panic", p))
			res = loadtest.Failed(def, started, fmt.Errorf("panic: %v", p))
		}
	}()

	res = run(ctx, def)
	if res.StartedAt.IsZero() {
		res.StartedAt = started
	}
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	return res
}

// attachResources queries resource usage for the scenario window. Failures
// are logged and leave an empty map.
func (o *Orchestrator) attachResources(ctx context.Context, res *loadtest.ScenarioResult) {
	if !o.monitor.Enabled() || ctx.Err() != nil ||
		res.StartedAt.IsZero() || !res.FinishedAt.After(res.StartedAt) {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, o.config.ResourceQueryTimeout)
	defer cancel()

	values, err := o.monitor.ResourceMetrics(qctx, res.StartedAt, res.FinishedAt)
	if err != nil {
		o.logger.Warn("resource metrics unavailable",
			zap.String("scenario", res.Definition.ID), zap.Error(err))
		o.recorder.RecordResourceQueryFailure()
	}
	if values == nil {
		values = map[string]float64{}
	}
	res.ResourceMetrics = values
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
