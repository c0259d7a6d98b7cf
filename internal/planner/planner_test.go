package planner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/capplanner/internal/loadtest"
	"github.com/FairForge/capplanner/internal/metrics"
	"github.com/FairForge/capplanner/internal/orchestrator"
	"github.com/FairForge/capplanner/internal/reporting"
	"github.com/FairForge/capplanner/internal/scenario"
)

// playbackExecutor writes synthetic k6 output whose latency and error rate
// grow with the scenario's user count.
type playbackExecutor struct {
	table     scenario.Table
	exitCodes map[string]int
	missing   bool
}

func (e *playbackExecutor) Execute(_ context.Context, cmd loadtest.Command) (*loadtest.ExecResult, error) {
	id := cmd.Env[loadtest.EnvScenarioID]
	if code := e.exitCodes[id]; code != 0 {
		return &loadtest.ExecResult{ExitCode: code}, nil
	}

	users := 10
	if def, ok := e.table.Get(id); ok {
		users = def.TargetUsers
	}
	if err := os.WriteFile(cmd.ResultFile, []byte(k6Output(users)), 0600); err != nil {
		return nil, err
	}
	return &loadtest.ExecResult{Duration: time.Millisecond}, nil
}

func (e *playbackExecutor) LookPath(name string) (string, error) {
	if e.missing {
		return "", errors.New("executable file not found in $PATH")
	}
	return "/usr/local/bin/" + name, nil
}

func k6Output(users int) string {
	var b strings.Builder
	b.WriteString(`{"type":"Metric","data":{"name":"http_req_duration","type":"trend"},"metric":"http_req_duration"}` + "\n")
	failures := users / 100
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, `{"type":"Point","data":{"value":%d,"tags":{"status":"200"}},"metric":"http_req_duration"}`+"\n", users*3+i)
		failed := 0
		if i < failures {
			failed = 1
		}
		fmt.Fprintf(&b, `{"type":"Point","data":{"value":%d,"tags":{}},"metric":"http_req_failed"}`+"\n", failed)
	}
	return b.String()
}

type memorySink struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memorySink) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[name] = append([]byte(nil), data...)
	return "mem://" + name, nil
}

func (m *memorySink) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

type pipeline struct {
	planner  *Planner
	mirror   *memorySink
	recorder *metrics.Recorder
	dir      string
}

func newPipeline(t *testing.T, exec *playbackExecutor) pipeline {
	t.Helper()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.Close)

	dir := t.TempDir()
	table := scenario.Defaults()
	exec.table = table

	runner, err := loadtest.NewRunner(loadtest.NewK6Driver(""), exec, loadtest.RunnerConfig{
		Target:     loadtest.Target{BaseURL: target.URL, APIPaths: []string{"/health"}},
		ArchiveDir: RawDir(dir),
		WorkDir:    t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)

	recorder := metrics.NewRecorder()
	orch, err := orchestrator.New(orchestrator.Config{
		Scenarios: table,
		HealthURL: target.URL,
	}, runner, zap.NewNop(), orchestrator.WithRecorder(recorder))
	require.NoError(t, err)

	files, err := reporting.NewFileSink(dir)
	require.NoError(t, err)
	mirror := &memorySink{}

	p, err := New(Config{
		Scenarios:     table,
		Format:        loadtest.FormatK6,
		LoadGenerator: "k6",
		BaseURL:       target.URL,
		ReportDir:     dir,
	}, orch, reporting.NewWriter(files, zap.NewNop(), mirror), recorder, zap.NewNop())
	require.NoError(t, err)

	return pipeline{planner: p, mirror: mirror, recorder: recorder, dir: dir}
}

func TestPlanner_ExecuteWithFailingScenario(t *testing.T) {
	pl := newPipeline(t, &playbackExecutor{exitCodes: map[string]int{"stress_test": 1}})

	report, err := pl.planner.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, report.Summary.ScenariosRun)
	assert.Equal(t, 5, report.Summary.SuccessfulScenarios)
	assert.Equal(t, 1, report.Summary.FailedScenarios)
	assert.Equal(t, 500, report.Summary.MaxTestedUsers)
	require.NotNil(t, report.Baseline)
	assert.Equal(t, reporting.ModeSequential, report.Run.Mode)

	stress := report.Scenarios[2]
	assert.Equal(t, "stress_test", stress.Definition.ID)
	assert.False(t, stress.Success)
	assert.Contains(t, stress.Error, "exited with code 1")
	assert.Len(t, report.Analysis.Curve, 5)

	data, err := os.ReadFile(filepath.Join(pl.dir, reporting.JSONReportName))
	require.NoError(t, err)
	assert.NoError(t, reporting.Validate(data))
	assert.FileExists(t, filepath.Join(pl.dir, reporting.MarkdownReportName))

	prom, err := os.ReadFile(filepath.Join(pl.dir, reporting.MetricsName))
	require.NoError(t, err)
	assert.Contains(t, string(prom), `capplanner_scenarios_total{status="failed"} 1`)
	assert.Contains(t, string(prom), `capplanner_scenarios_total{status="succeeded"} 5`)

	archives, err := filepath.Glob(filepath.Join(RawDir(pl.dir), "*"+archiveSuffix))
	require.NoError(t, err)
	assert.Len(t, archives, 6)
	assert.NoFileExists(t, filepath.Join(RawDir(pl.dir), loadtest.ArchiveName("stress_test")))

	mirrored := pl.mirror.names()
	assert.Contains(t, mirrored, reporting.JSONReportName)
	assert.Contains(t, mirrored, reporting.MarkdownReportName)
	assert.Contains(t, mirrored, reporting.MetricsName)
	assert.Contains(t, mirrored, "raw/"+loadtest.ArchiveName(loadtest.BaselineRunID))
	assert.Len(t, mirrored, 9)
}

func TestPlanner_SetupFailureWritesNothing(t *testing.T) {
	pl := newPipeline(t, &playbackExecutor{missing: true})

	report, err := pl.planner.Execute(context.Background())

	assert.Nil(t, report)
	var setupErr *orchestrator.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, orchestrator.CheckLoadGenerator, setupErr.Check)

	entries, err := os.ReadDir(pl.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, pl.mirror.names())
}

func TestPlanner_AnalyzeReproducesRun(t *testing.T) {
	pl := newPipeline(t, &playbackExecutor{exitCodes: map[string]int{"stress_test": 1}})
	live, err := pl.planner.Execute(context.Background())
	require.NoError(t, err)

	out := t.TempDir()
	files, err := reporting.NewFileSink(out)
	require.NoError(t, err)
	offline, err := New(Config{Scenarios: scenario.Defaults(), Format: loadtest.FormatK6, ReportDir: out},
		nil, reporting.NewWriter(files, nil), metrics.NewRecorder(), nil)
	require.NoError(t, err)

	report, err := offline.Analyze(context.Background(), pl.dir)
	require.NoError(t, err)

	assert.Equal(t, reporting.ModeOffline, report.Run.Mode)
	assert.Equal(t, live.Analysis.Curve, report.Analysis.Curve)
	assert.Equal(t, live.Analysis.BreakingPoint, report.Analysis.BreakingPoint)
	assert.Equal(t, live.Baseline, report.Baseline)
	assert.Equal(t, 5, report.Summary.SuccessfulScenarios)
	assert.Contains(t, report.Scenarios[2].Error, "no raw results for stress_test")
	assert.FileExists(t, filepath.Join(out, reporting.JSONReportName))
}

func TestLoadResults(t *testing.T) {
	t.Run("plain files in the directory", func(t *testing.T) {
		dir := t.TempDir()
		table := scenario.Table{
			{ID: "small", Name: "small", TargetUsers: 10, DurationSeconds: 10, RampSeconds: 1},
			{ID: "large", Name: "large", TargetUsers: 100, DurationSeconds: 10, RampSeconds: 1},
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, "small.ndjson"), []byte(k6Output(10)), 0600))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "large.json"), []byte("not json\n"), 0600))

		in, err := LoadResults(dir, table, loadtest.FormatK6, nil)
		require.NoError(t, err)

		assert.Nil(t, in.Baseline)
		require.Len(t, in.Results, 2)
		assert.True(t, in.Results[0].Success)
		assert.Equal(t, int64(20), in.Results[0].Metrics.TotalRequests)
		assert.False(t, in.Results[1].Success)
		assert.Contains(t, in.Results[1].Error, "parse")
	})

	t.Run("empty directory", func(t *testing.T) {
		_, err := LoadResults(t.TempDir(), scenario.Defaults(), loadtest.FormatK6, nil)
		assert.ErrorIs(t, err, ErrNoResults)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := LoadResults(filepath.Join(t.TempDir(), "nope"), scenario.Defaults(), loadtest.FormatK6, nil)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

type interruptedOrchestrator struct {
	outcome *orchestrator.RunOutcome
}

func (i interruptedOrchestrator) ValidatePrerequisites(context.Context) error { return nil }

func (i interruptedOrchestrator) Run(context.Context) (*orchestrator.RunOutcome, error) {
	return i.outcome, fmt.Errorf("capacity run interrupted: %w", context.Canceled)
}

func TestPlanner_InterruptedRunStillWritesReport(t *testing.T) {
	dir := t.TempDir()
	files, err := reporting.NewFileSink(dir)
	require.NoError(t, err)

	def := scenario.Defaults()[0]
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	outcome := &orchestrator.RunOutcome{
		RunID:      "run-1",
		StartedAt:  now,
		FinishedAt: now.Add(time.Minute),
		Mode:       reporting.ModeSequential,
		Results: []loadtest.ScenarioResult{
			{Definition: def, Error: "not started: context canceled"},
		},
	}
	p, err := New(Config{ReportDir: dir}, interruptedOrchestrator{outcome: outcome},
		reporting.NewWriter(files, nil), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := p.Execute(ctx)

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, "run-1", report.Run.RunID)
	assert.Equal(t, outcome.FinishedAt, report.Run.GeneratedAt)
	assert.FileExists(t, filepath.Join(dir, reporting.JSONReportName))
	assert.NoFileExists(t, filepath.Join(dir, reporting.MetricsName))
}

func TestNew_RequiresWriter(t *testing.T) {
	_, err := New(Config{}, nil, nil, nil, nil)
	assert.Error(t, err)
}
