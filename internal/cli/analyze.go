package cli

import (
	"github.com/spf13/cobra"

	"github.com/FairForge/capplanner/internal/config"
	"github.com/FairForge/capplanner/internal/metrics"
	"github.com/FairForge/capplanner/internal/planner"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		resultsDir    string
		reportDir     string
		loadGenerator string
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Rebuild the capacity report from raw results of an earlier run",
		Long: "Reads <results>/raw/*.ndjson.zst archives (or plain <scenario>.ndjson files) " +
			"for the configured scenario table and writes a fresh report without generating load.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(func(c *config.Config) {
				if cmd.Flags().Changed("report-dir") {
					c.Report.Dir = reportDir
				}
				if cmd.Flags().Changed("load-generator") {
					c.LoadGenerator.Driver = loadGenerator
				}
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			writer, err := buildWriter(ctx, cfg, a.logger)
			if err != nil {
				return err
			}
			p, err := planner.New(plannerConfig(cfg), nil, writer, metrics.NewRecorder(), a.logger)
			if err != nil {
				return err
			}

			report, err := p.Analyze(ctx, resultsDir)
			if report != nil {
				printSummary(cmd.OutOrStdout(), report, cfg.Report.Dir)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&resultsDir, "results", "", "Directory holding raw results (required)")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "Directory for the rebuilt report")
	cmd.Flags().StringVar(&loadGenerator, "load-generator", "", "Format of the raw results: k6 or vegeta")
	_ = cmd.MarkFlagRequired("results")
	return cmd
}
