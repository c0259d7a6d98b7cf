package planner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/capplanner/internal/loadtest"
	"github.com/FairForge/capplanner/internal/reporting"
	"github.com/FairForge/capplanner/internal/scenario"
)

// ErrNoResults means a results directory held no raw output for any
// scenario.
var ErrNoResults = errors.New("no raw results found")

var archiveSuffix = loadtest.ArchiveName("")

// Analyze rebuilds a report from raw results an earlier run left behind,
// without generating load.
func (p *Planner) Analyze(ctx context.Context, resultsDir string) (*reporting.CapacityReport, error) {
	in, err := LoadResults(resultsDir, p.config.Scenarios, p.config.Format, p.logger)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	in.Run = reporting.RunInfo{
		RunID:         uuid.NewString(),
		GeneratedAt:   now,
		StartedAt:     now,
		FinishedAt:    now,
		Mode:          reporting.ModeOffline,
		LoadGenerator: p.config.LoadGenerator,
		BaseURL:       p.config.BaseURL,
		FrontendURL:   p.config.FrontendURL,
	}
	for _, r := range in.Results {
		p.recorder.RecordScenario(r)
	}

	report := reporting.Generate(in)
	if err := p.publish(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

// LoadResults parses the raw result file of the baseline and every table
// entry found in dir (or dir/raw). Entries without a file, or whose file
// fails to parse, become failed results.
func LoadResults(dir string, table scenario.Table, format loadtest.Format, logger *zap.Logger) (reporting.Input, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := table.Validate(); err != nil {
		return reporting.Input{}, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return reporting.Input{}, fmt.Errorf("results dir: %w", err)
	}
	if !info.IsDir() {
		return reporting.Input{}, fmt.Errorf("results dir %s is not a directory", dir)
	}

	search := []string{dir}
	if raw := filepath.Join(dir, reporting.RawDir); isDir(raw) {
		search = []string{raw, dir}
	}

	var in reporting.Input
	found := 0

	if def, ok := table.Smallest(); ok {
		if file := findResultFile(search, loadtest.BaselineRunID); file != "" {
			res := loadResult(def, file, format)
			in.Baseline = &res
			found++
		}
	}
	var reference *loadtest.ScenarioMetrics
	if in.Baseline != nil && in.Baseline.Success {
		reference = in.Baseline.Metrics
	}

	in.Results = make([]loadtest.ScenarioResult, 0, len(table))
	for _, def := range table {
		file := findResultFile(search, def.ID)
		if file == "" {
			logger.Warn("no raw results for scenario", zap.String("scenario", def.ID))
			in.Results = append(in.Results, loadtest.ScenarioResult{
				Definition: def,
				Error:      fmt.Sprintf("no raw results for %s in %s", def.ID, dir),
			})
			continue
		}
		found++

		res := loadResult(def, file, format)
		if res.Success {
			res.Baseline = loadtest.CompareToBaseline(reference, res.Metrics)
		} else {
			logger.Warn("unreadable raw results", zap.String("scenario", def.ID), zap.String("error", res.Error))
		}
		in.Results = append(in.Results, res)
	}

	if found == 0 {
		return reporting.Input{}, fmt.Errorf("%w in %s", ErrNoResults, dir)
	}
	return in, nil
}

func loadResult(def scenario.Definition, file string, format loadtest.Format) loadtest.ScenarioResult {
	m, stats, err := loadtest.ParseResultFile(file, format, def.DurationSeconds)
	if err != nil {
		return loadtest.ScenarioResult{Definition: def, Error: err.Error()}
	}
	return loadtest.ScenarioResult{
		Definition:   def,
		Success:      true,
		Metrics:      &m,
		SkippedLines: stats.Skipped,
	}
}

// findResultFile prefers the zstd archive over plain output.
func findResultFile(dirs []string, runID string) string {
	for _, dir := range dirs {
		for _, name := range []string{runID + archiveSuffix, runID + ".ndjson", runID + ".json"} {
			if p := filepath.Join(dir, name); fileExists(p) {
				return p
			}
		}
	}
	return ""
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
