// Package planner runs the full capacity-planning pipeline: prerequisites,
// scenario execution, analysis and artifact output.
package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/FairForge/capplanner/internal/loadtest"
	"github.com/FairForge/capplanner/internal/metrics"
	"github.com/FairForge/capplanner/internal/orchestrator"
	"github.com/FairForge/capplanner/internal/reporting"
	"github.com/FairForge/capplanner/internal/scenario"
)

// RunOrchestrator is the part of *orchestrator.Orchestrator the planner
// drives.
type RunOrchestrator interface {
	ValidatePrerequisites(ctx context.Context) error
	Run(ctx context.Context) (*orchestrator.RunOutcome, error)
}

// Config describes the run for report metadata and offline analysis.
type Config struct {
	Scenarios     scenario.Table
	Format        loadtest.Format
	LoadGenerator string
	BaseURL       string
	FrontendURL   string

	// ReportDir is the local artifact directory. Raw archives live under
	// ReportDir/raw.
	ReportDir string
}

// Planner ties the orchestrator, the report generator and the artifact
// writer together.
type Planner struct {
	config   Config
	orch     RunOrchestrator
	writer   *reporting.Writer
	recorder *metrics.Recorder
	logger   *zap.Logger
}

// New creates a planner. orch may be nil when only Analyze is used.
func New(config Config, orch RunOrchestrator, writer *reporting.Writer, recorder *metrics.Recorder, logger *zap.Logger) (*Planner, error) {
	if writer == nil {
		return nil, errors.New("planner: writer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		config:   config,
		orch:     orch,
		writer:   writer,
		recorder: recorder,
		logger:   logger.Named("planner"),
	}, nil
}

// Execute validates prerequisites, runs every scenario and writes the
// report. A *orchestrator.SetupError means nothing ran and nothing was
// written. An interrupted run still writes a report of what completed and
// returns the interruption.
func (p *Planner) Execute(ctx context.Context) (*reporting.CapacityReport, error) {
	if p.orch == nil {
		return nil, errors.New("planner: no orchestrator configured")
	}
	if err := p.orch.ValidatePrerequisites(ctx); err != nil {
		return nil, err
	}

	outcome, runErr := p.orch.Run(ctx)
	if outcome == nil {
		return nil, runErr
	}

	report := reporting.Generate(reporting.Input{
		Run: reporting.RunInfo{
			RunID:         outcome.RunID,
			GeneratedAt:   outcome.FinishedAt,
			StartedAt:     outcome.StartedAt,
			FinishedAt:    outcome.FinishedAt,
			Mode:          outcome.Mode,
			LoadGenerator: p.config.LoadGenerator,
			BaseURL:       p.config.BaseURL,
			FrontendURL:   p.config.FrontendURL,
		},
		Baseline:    outcome.Baseline,
		Results:     outcome.Results,
		AutoScaling: outcome.AutoScaling,
	})

	// Artifacts are written even when the run was interrupted.
	if err := p.publish(context.WithoutCancel(ctx), report); err != nil {
		return report, errors.Join(runErr, err)
	}
	return report, runErr
}

// publish records the analysis and writes every artifact.
func (p *Planner) publish(ctx context.Context, report *reporting.CapacityReport) error {
	p.recorder.RecordAnalysis(report.Analysis, report.Bottlenecks, report.Recommendations)

	if _, err := p.writer.WriteReport(ctx, report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if p.recorder != nil {
		data, err := p.recorder.Textfile()
		if err != nil {
			return fmt.Errorf("render metrics: %w", err)
		}
		if _, err := p.writer.Put(ctx, reporting.MetricsName, data, reporting.ContentTypeMetrics); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	p.mirrorArchives(ctx)

	s := report.Summary
	p.logger.Info("capacity report written",
		zap.String("run_id", report.Run.RunID),
		zap.String("status", s.Status),
		zap.Int("max_tested_users", s.MaxTestedUsers),
		zap.Int("critical_bottlenecks", s.CriticalBottlenecks),
		zap.Int("high_bottlenecks", s.HighBottlenecks),
		zap.String("top_recommendation", string(s.TopRecommendation)),
	)
	return nil
}

// mirrorArchives uploads the raw archives the runner left in ReportDir/raw.
func (p *Planner) mirrorArchives(ctx context.Context) {
	if p.config.ReportDir == "" {
		return
	}
	files, err := filepath.Glob(filepath.Join(p.config.ReportDir, reporting.RawDir, "*"+archiveSuffix))
	if err != nil {
		return
	}
	for _, f := range files {
		name := path.Join(reporting.RawDir, filepath.Base(f))
		if err := p.writer.MirrorFile(ctx, name, f, reporting.ContentTypeZstd); err != nil {
			p.logger.Warn("mirror raw archive", zap.String("path", f), zap.Error(err))
		}
	}
}

// RawDir is where the runner should archive raw results for this planner.
func RawDir(reportDir string) string {
	return filepath.Join(reportDir, reporting.RawDir)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
