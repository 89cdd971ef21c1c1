package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	catalogpostgres "github.com/duckmesh/askdb/internal/catalog/postgres"
	"github.com/duckmesh/askdb/internal/config"
	"github.com/duckmesh/askdb/internal/migrations"
)

func main() {
	var steps int
	var timeout time.Duration

	root := &cobra.Command{
		Use:          "askdb-migrate",
		Short:        "Apply or roll back the askdb history schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), timeout, func(ctx context.Context, runner *migrations.Runner, db *sql.DB) error {
				applied, err := runner.Up(ctx, db, steps)
				if err != nil {
					return fmt.Errorf("migration up failed: %w", err)
				}
				cmd.Printf("applied %d migration(s)\n", applied)
				return nil
			})
		},
	}
	up.Flags().IntVar(&steps, "steps", 0, "number of migrations to apply; 0 applies all")

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), timeout, func(ctx context.Context, runner *migrations.Runner, db *sql.DB) error {
				rolledBack, err := runner.Down(ctx, db, steps)
				if err != nil {
					return fmt.Errorf("migration down failed: %w", err)
				}
				cmd.Printf("rolled back %d migration(s)\n", rolledBack)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	status := &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRunner(cmd.Context(), timeout, func(ctx context.Context, runner *migrations.Runner, db *sql.DB) error {
				items, err := runner.Status(ctx, db)
				for _, item := range items {
					state := "pending"
					switch {
					case item.Drifted:
						state = "applied, script changed since"
					case item.Applied:
						state = "applied"
					}
					cmd.Printf("%06d %-24s %s\n", item.Version, item.Name, state)
				}
				return err
			})
		},
	}

	root.AddCommand(up, down, status)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func withRunner(parent context.Context, timeout time.Duration, fn func(context.Context, *migrations.Runner, *sql.DB) error) error {
	cfg, err := config.LoadFromEnv("askdb-migrate")
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if !cfg.HistoryEnabled() {
		return errors.New("ASKDB_CATALOG_DSN is required")
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	db, err := catalogpostgres.Open(ctx, cfg.Catalog, catalogpostgres.WithMaxOpenConns(1))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return fn(ctx, migrations.NewRunner(), db)
}
