// Package cli implements the capplanner command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FairForge/capplanner/internal/config"
	"github.com/FairForge/capplanner/internal/logging"
	"github.com/FairForge/capplanner/internal/orchestrator"
)

// Exit codes
const (
	ExitOK          = 0
	ExitSetup       = 1
	ExitFailure     = 2
	ExitInterrupted = 130
)

// app carries state shared by the subcommands.
type app struct {
	configFile string
	envFiles   []string
	verbose    bool
	logLevel   string

	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{envFiles: config.DefaultEnvFiles}

	cmd := &cobra.Command{
		Use:           "capplanner",
		Short:         "Run load scenarios against a service and produce a capacity plan",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupLogger(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Human-readable debug logging")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")

	cmd.AddCommand(newRunCmd(a), newAnalyzeCmd(a), newScenariosCmd(a))
	return cmd
}

func (a *app) setupLogger(out io.Writer) error {
	cfg := logging.LoggerConfig{Level: a.logLevel, Format: logging.FormatJSON, Output: out}
	if a.verbose {
		cfg.Format = logging.FormatConsole
		if cfg.Level == "" {
			cfg.Level = logging.LevelDebug
		}
	}
	logger, level, err := logging.New(cfg)
	if err != nil {
		return orchestrator.NewSetupError(orchestrator.CheckConfig, err)
	}
	a.logger, a.level = logger, level
	return nil
}

// applyConfigLevel lets the config file's log level take effect unless a
// flag already chose one.
func (a *app) applyConfigLevel(level string) {
	if a.logLevel != "" || a.verbose {
		return
	}
	if lvl, err := logging.ParseLevel(level); err == nil {
		a.level.SetLevel(lvl)
	}
}

// Execute runs the command line with args and returns the process exit
// code. SIGINT and SIGTERM cancel the run; completed scenarios are still
// reported.
func Execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "Error:", err)
	}
	return ExitCode(err)
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	var setupErr *orchestrator.SetupError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &setupErr):
		return ExitSetup
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}
