package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FairForge/capplanner/internal/config"
	"github.com/FairForge/capplanner/internal/loadtest"
	"github.com/FairForge/capplanner/internal/metrics"
	"github.com/FairForge/capplanner/internal/monitoring"
	"github.com/FairForge/capplanner/internal/orchestrator"
	"github.com/FairForge/capplanner/internal/planner"
	"github.com/FairForge/capplanner/internal/reporting"
)

// runFlags are the command-line overrides for a live run. Only flags the
// user set are applied on top of the loaded configuration.
type runFlags struct {
	baseURL       string
	frontendURL   string
	reportDir     string
	loadGenerator string
	prometheusURL string
	parallel      bool
	autoScaling   bool
	coolDown      time.Duration
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the scenario table against the target and write the capacity report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(func(c *config.Config) { f.apply(cmd, c) })
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p, cleanup, err := buildPlanner(ctx, cfg, a.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := p.Execute(ctx)
			if report != nil {
				printSummary(cmd.OutOrStdout(), report, cfg.Report.Dir)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "API base URL of the target")
	cmd.Flags().StringVar(&f.frontendURL, "frontend-url", "", "Frontend base URL of the target")
	cmd.Flags().StringVar(&f.reportDir, "report-dir", "", "Directory for report artifacts")
	cmd.Flags().StringVar(&f.loadGenerator, "load-generator", "", "Load generator: k6 or vegeta")
	cmd.Flags().StringVar(&f.prometheusURL, "prometheus-url", "", "Prometheus server for resource metrics (enables monitoring)")
	cmd.Flags().BoolVar(&f.parallel, "parallel-scenarios", false, "Run all scenarios at once (diagnostic only)")
	cmd.Flags().BoolVar(&f.autoScaling, "auto-scaling-test", false, "Check that a load spike raises the replica count")
	cmd.Flags().DurationVar(&f.coolDown, "cool-down", 0, "Pause between sequential scenarios")
	return cmd
}

func (f *runFlags) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		c.Target.BaseURL = f.baseURL
	}
	if flags.Changed("frontend-url") {
		c.Target.FrontendURL = f.frontendURL
	}
	if flags.Changed("report-dir") {
		c.Report.Dir = f.reportDir
	}
	if flags.Changed("load-generator") {
		c.LoadGenerator.Driver = f.loadGenerator
	}
	if flags.Changed("prometheus-url") {
		c.Monitoring.PrometheusURL = f.prometheusURL
		c.Monitoring.Enabled = f.prometheusURL != ""
	}
	if flags.Changed("parallel-scenarios") {
		c.Run.ParallelScenarios = f.parallel
	}
	if flags.Changed("auto-scaling-test") {
		c.Run.AutoScalingTest = f.autoScaling
	}
	if flags.Changed("cool-down") {
		c.Run.CoolDown = f.coolDown
	}
}

// loadConfig layers defaults, the config file, env files, the environment
// and finally override. Any problem is a config setup failure.
func (a *app) loadConfig(override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(a.configFile, a.envFiles)
	if err != nil {
		return nil, orchestrator.NewSetupError(orchestrator.CheckConfig, err)
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, orchestrator.NewSetupError(orchestrator.CheckConfig, err)
	}
	a.applyConfigLevel(cfg.LogLevel)
	a.logger.Debug("configuration loaded",
		zap.String("config_file", a.configFile),
		zap.String("base_url", cfg.Target.BaseURL),
		zap.String("load_generator", cfg.LoadGenerator.Driver),
		zap.Int("scenarios", len(cfg.Scenarios)),
		zap.Bool("monitoring", cfg.Monitoring.Enabled),
	)
	return cfg, nil
}

// buildWriter opens the report directory and the optional S3 mirror.
func buildWriter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*reporting.Writer, error) {
	files, err := reporting.NewFileSink(cfg.Report.Dir)
	if err != nil {
		return nil, orchestrator.NewSetupError(orchestrator.CheckReportDir, err)
	}

	var mirrors []reporting.Sink
	if s3cfg := cfg.Report.S3; s3cfg.Bucket != "" {
		bucket, err := reporting.NewS3Sink(ctx, reporting.S3Config{
			Bucket:    s3cfg.Bucket,
			Prefix:    s3cfg.Prefix,
			Region:    s3cfg.Region,
			Endpoint:  s3cfg.Endpoint,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
		})
		if err != nil {
			return nil, orchestrator.NewSetupError(orchestrator.CheckConfig, err)
		}
		mirrors = append(mirrors, bucket)
	}
	return reporting.NewWriter(files, logger, mirrors...), nil
}

// buildPlanner wires the live pipeline. cleanup releases the runner's work
// directory.
func buildPlanner(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*planner.Planner, func(), error) {
	writer, err := buildWriter(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	archiveDir := ""
	if cfg.Report.ArchiveRaw {
		archiveDir = planner.RawDir(cfg.Report.Dir)
	}
	runner, err := loadtest.NewRunner(cfg.Driver(), loadtest.NewExecutor(), loadtest.RunnerConfig{
		Target:       cfg.LoadTarget(),
		TimeoutGrace: cfg.Run.TimeoutGrace,
		ArchiveDir:   archiveDir,
		WorkDir:      cfg.Run.WorkDir,
	}, logger)
	if err != nil {
		return nil, nil, orchestrator.NewSetupError(orchestrator.CheckLoadGenerator, err)
	}
	cleanup := func() {
		if err := runner.Close(); err != nil {
			logger.Warn("remove work dir", zap.Error(err))
		}
	}

	recorder := metrics.NewRecorder()
	opts := []orchestrator.Option{orchestrator.WithRecorder(recorder)}
	if cfg.Monitoring.Enabled {
		mon, err := monitoring.NewPrometheusMonitor(monitoring.PrometheusConfig{
			URL:              cfg.Monitoring.PrometheusURL,
			Queries:          cfg.Monitoring.Queries,
			ReplicaQuery:     cfg.Monitoring.ReplicaQuery,
			Timeout:          cfg.Monitoring.QueryTimeout,
			QueriesPerSecond: cfg.Monitoring.QueriesPerSecond,
			FailureThreshold: cfg.Monitoring.FailureThreshold,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, orchestrator.NewSetupError(orchestrator.CheckConfig, err)
		}
		opts = append(opts, orchestrator.WithMonitor(mon))
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Scenarios:            cfg.Scenarios,
		Parallel:             cfg.Run.ParallelScenarios,
		MaxParallel:          cfg.Run.MaxParallel,
		CoolDown:             cfg.Run.CoolDown,
		AutoScalingTest:      cfg.Run.AutoScalingTest,
		HealthURL:            cfg.HealthURL(),
		ResourceQueryTimeout: 3 * cfg.Monitoring.QueryTimeout,
	}, runner, logger, opts...)
	if err != nil {
		cleanup()
		return nil, nil, orchestrator.NewSetupError(orchestrator.CheckConfig, err)
	}

	p, err := planner.New(plannerConfig(cfg), orch, writer, recorder, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}

func plannerConfig(cfg *config.Config) planner.Config {
	return planner.Config{
		Scenarios:     cfg.Scenarios,
		Format:        cfg.Format(),
		LoadGenerator: cfg.LoadGenerator.Driver,
		BaseURL:       cfg.Target.BaseURL,
		FrontendURL:   cfg.Target.FrontendURL,
		ReportDir:     cfg.Report.Dir,
	}
}

func printSummary(w io.Writer, r *reporting.CapacityReport, dir string) {
	s := r.Summary
	fmt.Fprintf(w, "Capacity status: %s\n", s.Status)
	fmt.Fprintf(w, "%s\n", s.Headline)
	fmt.Fprintf(w, "Scenarios: %d run, %d succeeded, %d failed\n", s.ScenariosRun, s.SuccessfulScenarios, s.FailedScenarios)
	if s.EstimatedMaxUsers != nil {
		fmt.Fprintf(w, "Estimated max users: %d\n", *s.EstimatedMaxUsers)
	}
	fmt.Fprintf(w, "Bottlenecks: %d critical, %d high\n", s.CriticalBottlenecks, s.HighBottlenecks)
	fmt.Fprintf(w, "Report written to %s\n", dir)
}
