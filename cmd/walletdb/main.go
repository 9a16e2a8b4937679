package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/wallet-store/internal/bootstrap"
	"github.com/example/wallet-store/internal/config"
	"github.com/example/wallet-store/internal/hostpath"
	"github.com/example/wallet-store/internal/logging"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitFailure      = 1
	exitCommandError = 2
)

var validFormats = []string{"text", "json"}

// rootOptions holds global flags and the state built from them before any
// subcommand runs.
type rootOptions struct {
	ConfigPath string
	Format     string
	LogLevel   string

	cfg      config.Config
	logger   *slog.Logger
	resolver *hostpath.Resolver
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCommand(os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func newRootCommand(logOutput io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "walletdb",
		Short:         "Manage the wallet's local SQLite store",
		Long:          "Resolve the wallet data directory and evolve the schema of the local SQLite store.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return usageErrorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return opts.init(logOutput)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $WALLETDB_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(newPathCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))

	return cmd
}

func (o *rootOptions) init(logOutput io.Writer) error {
	var (
		cfg config.Config
		err error
	)
	if o.ConfigPath != "" {
		cfg, err = config.LoadFile(o.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return usageErrorf("failed to load configuration: %v", err)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}

	logger, err := logging.New(logOutput, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return usageErrorf("failed to configure logging: %v", err)
	}

	resolver, err := bootstrap.NewResolver(cfg, logger)
	if err != nil {
		return usageErrorf("failed to configure host: %v", err)
	}

	o.cfg = cfg
	o.logger = logger
	o.resolver = resolver
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

// usageError marks failures caused by how the command was invoked.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		return exitCommandError
	}
	return exitFailure
}
