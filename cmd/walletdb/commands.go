package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/wallet-store/internal/bootstrap"
	"github.com/example/wallet-store/internal/logging"
	"github.com/example/wallet-store/internal/persistence/sqlite"
	"github.com/example/wallet-store/internal/persistence/sqlite/migration"
	"github.com/example/wallet-store/internal/persistence/sqlite/schema"
)

func newPathCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the resolved data directory and database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			location, err := opts.resolver.Resolve(cmd.Context())
			if err != nil {
				return err
			}
			out := pathOutput{
				Location: location.String(),
				Database: location.Join(opts.cfg.DatabaseFile),
			}
			return opts.write(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "data directory: %s\n", out.Location)
				fmt.Fprintf(w, "database:       %s\n", out.Database)
			})
		},
	}
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.AddCommand(newMigrateUpCommand(opts))
	cmd.AddCommand(newMigrateDownCommand(opts))
	return cmd
}

func newMigrateUpCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := opts.context(cmd)
			storage, applied, err := bootstrap.Start(ctx, opts.cfg, opts.resolver, opts.logger)
			if err != nil {
				return err
			}
			defer opts.close(storage)

			return opts.write(cmd.OutOrStdout(), changeOutput{Applied: applied}, func(w io.Writer) {
				if len(applied) == 0 {
					fmt.Fprintln(w, "schema is up to date")
					return
				}
				for _, id := range applied {
					fmt.Fprintf(w, "applied  %s\n", id)
				}
			})
		},
	}
}

func newMigrateDownCommand(opts *rootOptions) *cobra.Command {
	var (
		target string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations newer than a target",
		Long: `Roll back, newest first, every applied migration whose identifier sorts
after --target. Use --all to roll back everything. Nothing is rolled back
when any affected migration is irreversible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (target == "") == !all {
				return usageErrorf("exactly one of --target or --all is required")
			}

			ctx := opts.context(cmd)
			storage, err := bootstrap.Open(ctx, opts.cfg, opts.resolver, opts.logger)
			if err != nil {
				return err
			}
			defer opts.close(storage)

			engine, err := storage.Engine(schema.Units())
			if err != nil {
				return err
			}
			reverted, err := engine.MigrateDown(ctx, target)
			if err != nil {
				return err
			}

			return opts.write(cmd.OutOrStdout(), changeOutput{Reverted: reverted}, func(w io.Writer) {
				if len(reverted) == 0 {
					fmt.Fprintln(w, "nothing to roll back")
					return
				}
				for _, id := range reverted {
					fmt.Fprintf(w, "reverted %s\n", id)
				}
			})
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "keep this migration and everything before it")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := opts.context(cmd)
			storage, err := bootstrap.Open(ctx, opts.cfg, opts.resolver, opts.logger)
			if err != nil {
				return err
			}
			defer opts.close(storage)

			engine, err := storage.Engine(schema.Units())
			if err != nil {
				return err
			}
			status, err := engine.Status(ctx)
			if err != nil {
				return err
			}

			out := newStatusOutput(storage.Path(), status)
			return opts.write(cmd.OutOrStdout(), out, func(w io.Writer) {
				current := out.CurrentVersion
				if current == "" {
					current = "(none)"
				}
				fmt.Fprintf(w, "database: %s\n", out.Database)
				fmt.Fprintf(w, "current:  %s\n", current)
				for _, row := range out.Applied {
					fmt.Fprintf(w, "  applied  %s  %s  %dms\n", row.Version, row.AppliedAt, row.ExecutionTimeMs)
				}
				for _, id := range out.Pending {
					fmt.Fprintf(w, "  pending  %s\n", id)
				}
			})
		},
	}
}

type pathOutput struct {
	Location string `json:"location"`
	Database string `json:"database"`
}

type changeOutput struct {
	Applied  []string `json:"applied,omitempty"`
	Reverted []string `json:"reverted,omitempty"`
}

type appliedRow struct {
	Version         string `json:"version"`
	AppliedAt       string `json:"applied_at"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	RunID           string `json:"run_id,omitempty"`
}

type statusOutput struct {
	Database       string       `json:"database"`
	CurrentVersion string       `json:"current_version"`
	Applied        []appliedRow `json:"applied"`
	Pending        []string     `json:"pending"`
}

func newStatusOutput(path string, status *migration.Status) statusOutput {
	out := statusOutput{
		Database:       path,
		CurrentVersion: status.CurrentVersion,
		Applied:        make([]appliedRow, 0, len(status.AppliedMigrations)),
		Pending:        make([]string, 0, len(status.PendingMigrations)),
	}
	for _, row := range status.AppliedMigrations {
		out.Applied = append(out.Applied, appliedRow{
			Version:         row.Version,
			AppliedAt:       row.AppliedAt.Format(time.RFC3339),
			ExecutionTimeMs: row.ExecutionTime.Milliseconds(),
			RunID:           row.RunID,
		})
	}
	for _, unit := range status.PendingMigrations {
		out.Pending = append(out.Pending, unit.ID)
	}
	return out
}

func (o *rootOptions) context(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.ContextWithLogger(ctx, o.logger)
}

func (o *rootOptions) close(storage *sqlite.Storage) {
	if err := storage.Close(); err != nil {
		o.logger.Error("failed to close storage", "error", err)
	}
}

func (o *rootOptions) write(w io.Writer, data any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(w)
	return nil
}
