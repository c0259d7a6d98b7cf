package loadtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/capplanner/internal/scenario"
)

// Environment variables handed to every load-generator process.
const (
	EnvAPIBase      = "API_BASE"
	EnvFrontendBase = "FRONTEND_BASE"
	EnvAPIToken     = "API_TOKEN"
	EnvScenarioID   = "SCENARIO_ID"
)

// SCENARIO_ID values of the runs outside the scenario table.
const (
	BaselineRunID    = "baseline-reference"
	AutoScalingRunID = "autoscaling-check"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Target Target

	// TimeoutGrace is added to the scenario's ramp, hold and ramp-down time
	// to form the per-scenario deadline.
	TimeoutGrace time.Duration

	// ArchiveDir receives zstd copies of raw results; empty disables archiving.
	ArchiveDir string

	// WorkDir holds scripts and raw output; empty uses a temporary directory
	// removed by Close.
	WorkDir string
}

// Runner executes one scenario at a time against the external generator.
type Runner struct {
	driver   Driver
	executor Executor
	config   RunnerConfig
	logger   *zap.Logger

	workDir     string
	ownsWorkDir bool
}

// NewRunner creates a runner. It does not check that the generator exists;
// see Driver.Binary and Executor.LookPath.
func NewRunner(driver Driver, executor Executor, config RunnerConfig, logger *zap.Logger) (*Runner, error) {
	if driver == nil {
		return nil, errors.New("loadtest: driver is required")
	}
	if executor == nil {
		executor = NewExecutor()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TimeoutGrace <= 0 {
		config.TimeoutGrace = 2 * time.Minute
	}

	r := &Runner{
		driver:   driver,
		executor: executor,
		config:   config,
		logger:   logger.Named("runner"),
		workDir:  config.WorkDir,
	}

	if r.workDir == "" {
		dir, err := os.MkdirTemp("", "capplanner-")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		r.workDir = dir
		r.ownsWorkDir = true
	} else if err := os.MkdirAll(r.workDir, 0750); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	return r, nil
}

// Driver returns the configured driver.
func (r *Runner) Driver() Driver {
	return r.driver
}

// Executor returns the configured executor.
func (r *Runner) Executor() Executor {
	return r.executor
}

// Timeout is the deadline applied to def.
func (r *Runner) Timeout(def scenario.Definition) time.Duration {
	return def.TotalDuration() + r.config.TimeoutGrace
}

// Run executes def and blocks until the generator exits or times out.
func (r *Runner) Run(ctx context.Context, def scenario.Definition) ScenarioResult {
	return r.run(ctx, def, def.ID)
}

// RunBaseline executes def as the reference run.
func (r *Runner) RunBaseline(ctx context.Context, def scenario.Definition) ScenarioResult {
	return r.run(ctx, def, BaselineRunID)
}

// RunAutoScaling executes def as the auto-scaling check so its raw output
// does not overwrite the scenario's own archive.
func (r *Runner) RunAutoScaling(ctx context.Context, def scenario.Definition) ScenarioResult {
	return r.run(ctx, def, AutoScalingRunID)
}

func (r *Runner) run(ctx context.Context, def scenario.Definition, runID string) ScenarioResult {
	started := time.Now()
	log := r.logger.With(zap.String("scenario", def.ID), zap.String("run_id", runID))

	cmd, err := r.driver.Prepare(def, runID, r.workDir, r.config.Target)
	if err != nil {
		log.Error("prepare load generator", zap.Error(err))
		return Failed(def, started, fmt.Errorf("prepare %s: %w", r.driver.Name(), err))
	}

	cmd.Env = map[string]string{
		EnvAPIBase:      r.config.Target.BaseURL,
		EnvFrontendBase: r.config.Target.FrontendURL,
		EnvAPIToken:     r.config.Target.APIToken,
		EnvScenarioID:   runID,
	}
	genLog := r.logger.Named(r.driver.Name()).With(zap.String("scenario", def.ID))
	cmd.Stdout = func(line string) { genLog.Debug(line, zap.String("stream", "stdout")) }
	cmd.Stderr = func(line string) { genLog.Debug(line, zap.String("stream", "stderr")) }

	// Stale output from an earlier run must not be parsed as this one's.
	_ = os.Remove(cmd.ResultFile)

	timeout := r.Timeout(def)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("starting scenario",
		zap.Int("users", def.TargetUsers),
		zap.Int("duration_s", def.DurationSeconds),
		zap.Int("ramp_s", def.RampSeconds),
		zap.Duration("timeout", timeout),
	)

	res, err := r.executor.Execute(runCtx, cmd)
	if err != nil {
		log.Error("load generator failed", zap.Error(err))
		return Failed(def, started, err)
	}
	if res.ExitCode != 0 {
		err := fmt.Errorf("%s exited with code %d", r.driver.Name(), res.ExitCode)
		log.Error("load generator failed", zap.Int("exit_code", res.ExitCode))
		return Failed(def, started, err)
	}

	metrics, stats, err := ParseResultFile(cmd.ResultFile, r.driver.Format(), def.DurationSeconds)
	if err != nil {
		log.Error("parse results", zap.Error(err))
		return Failed(def, started, err)
	}
	if stats.Skipped > 0 {
		log.Warn("skipped malformed result lines", zap.Int("skipped", stats.Skipped), zap.Int("lines", stats.Lines))
	}

	if r.config.ArchiveDir != "" {
		if dst, err := archiveResultFile(cmd.ResultFile, r.config.ArchiveDir, ArchiveName(runID)); err != nil {
			log.Warn("archive raw results", zap.Error(err))
		} else {
			log.Debug("archived raw results", zap.String("path", dst))
		}
	}

	log.Info("scenario complete",
		zap.Int64("requests", metrics.TotalRequests),
		zap.Float64("avg_ms", metrics.AvgResponseTimeMs),
		zap.Float64("p95_ms", metrics.P95ResponseTimeMs),
		zap.Float64("error_rate_pct", metrics.ErrorRatePercent),
		zap.Float64("rps", metrics.ThroughputReqPerSec),
		zap.Duration("elapsed", res.Duration),
	)

	return ScenarioResult{
		Definition:   def,
		Success:      true,
		Metrics:      &metrics,
		StartedAt:    started,
		FinishedAt:   time.Now(),
		SkippedLines: stats.Skipped,
	}
}

// Close removes the temporary work directory if the runner created it.
func (r *Runner) Close() error {
	if !r.ownsWorkDir {
		return nil
	}
	return os.RemoveAll(r.workDir)
}
