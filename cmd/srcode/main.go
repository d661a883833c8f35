// Command srcode assigns requirement codes to specimen requirement tables,
// optionally exporting them from the remote API first.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"srcode/internal/config"
	"srcode/internal/logging"
)

const serviceName = "srcode"

var exitFunc = os.Exit

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	exitFunc(code)
}

func cli(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "srcode: %v\n", err)
		return 1
	}
	return 0
}

// app carries state shared by all subcommands once the root pre-run has
// loaded configuration.
type app struct {
	stdout, stderr io.Writer

	envFile   string
	logLevel  string
	logFormat string

	cfg    *config.Config
	logger *zap.Logger
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "srcode",
		Short:         "Generate specimen requirement codes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.envFile, "env-file", "", "load settings from this .env file (default: ./.env when present)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides SRCODE_LOG_LEVEL)")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: json or console (overrides SRCODE_LOG_FORMAT)")

	root.AddCommand(
		a.extractCmd(),
		a.generateCmd(),
		a.mergeCmd(),
		a.runCmd(),
		a.historyCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.envFile)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Logging.Format = a.logFormat
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, serviceName)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))
	return nil
}
