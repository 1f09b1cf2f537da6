package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocs-portal/portal-auth/internal/bootstrap"
	"github.com/ocs-portal/portal-auth/internal/data"
	"github.com/ocs-portal/portal-auth/internal/migrate"
	"github.com/ocs-portal/portal-auth/internal/service"
)

func newMigrateCmd(app *adminApp) *cobra.Command {
	var (
		timeout time.Duration
		status  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if timeout <= 0 {
				return errors.New("--timeout must be greater than zero")
			}
			return app.withDatabase(cmd.Context(), timeout, func(ctx context.Context, db *sql.DB) error {
				if status {
					return printMigrationStatus(ctx, cmd.OutOrStdout(), db)
				}
				app.logger.Info("running database migrations")
				if err := bootstrap.RunMigrations(ctx, db, app.logger); err != nil {
					return fmt.Errorf("run migrations: %w", err)
				}
				app.logger.Info("migrations completed successfully")
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultMigrationTimeout,
		"Maximum duration to wait for migrations to complete")
	cmd.Flags().BoolVar(&status, "status", false, "List embedded migrations and whether each is applied")
	return cmd
}

func printMigrationStatus(ctx context.Context, out io.Writer, db *sql.DB) error {
	migrations, err := migrate.Status(ctx, db)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "VERSION\tAPPLIED"); err != nil {
		return err
	}
	for _, m := range migrations {
		if err := writef(tw, "%s\t%t\n", m.Version, m.Applied); err != nil {
			return err
		}
	}
	return tw.Flush()
}

type dbResetOptions struct {
	Timeout     time.Duration
	Yes         bool
	SeedRules   bool
	AllowRemote bool
}

func newDBResetCmd(app *adminApp) *cobra.Command {
	var opts dbResetOptions
	cmd := &cobra.Command{
		Use:   "db-reset",
		Short: "Drop the database schema, run migrations, and optionally seed the default rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runDBReset(cmd, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration for the reset")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "Skip the confirmation prompt")
	cmd.Flags().BoolVar(&opts.SeedRules, "seed-rules", true, "Seed the default permission rules after migrating")
	cmd.Flags().BoolVar(&opts.AllowRemote, "allow-remote", false, "Allow running against a non-local database host")
	return cmd
}

func (a *adminApp) runDBReset(cmd *cobra.Command, opts dbResetOptions) error {
	if opts.Timeout <= 0 {
		return errors.New("--timeout must be greater than zero")
	}
	out := cmd.OutOrStdout()
	pg := a.cfg.Postgres

	remote, err := a.guardRemoteHost(out, opts.AllowRemote, "drop and recreate the public schema")
	if err != nil {
		return err
	}
	// The remote check already asked for the host name.
	if !remote {
		target := fmt.Sprintf("database %q on %s:%d", pg.Name, pg.Host, pg.Port)
		if err := confirmAction(a.in, out, opts.Yes, "reset database schema", target); err != nil {
			return err
		}
	}

	return a.withDatabase(cmd.Context(), opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		a.logger.Info("dropping public schema", "database", pg.Name)
		if err := a.resetDatabase(ctx, db); err != nil {
			return err
		}

		a.logger.Info("re-running database migrations")
		if err := bootstrap.RunMigrations(ctx, db, a.logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		if opts.SeedRules {
			rules, err := service.NewRuleService(service.RuleServiceOptions{Repo: data.NewRuleRepo(db), Logger: a.logger})
			if err != nil {
				return err
			}
			n, err := rules.SeedDefaults(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("seeded default permission rules", "count", n)
		}

		a.logger.Info("database reset completed successfully")
		return nil
	})
}

func (a *adminApp) resetDatabase(ctx context.Context, db *sql.DB) error {
	statements := []string{
		"DROP SCHEMA public CASCADE",
		"CREATE SCHEMA public",
		"GRANT ALL ON SCHEMA public TO public",
	}
	if user := strings.TrimSpace(a.cfg.Postgres.User); user != "" && !strings.EqualFold(user, "public") {
		statements = append(statements, "GRANT ALL ON SCHEMA public TO "+quoteIdentifier(user))
	}

	for _, stmt := range statements {
		a.logger.DebugContext(ctx, "executing reset statement", "sql", stmt)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
