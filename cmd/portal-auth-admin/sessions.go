package main

import (
	"context"
	"errors"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocs-portal/portal-auth/internal/bootstrap"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
)

func newSessionsCmd(app *adminApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect, revoke and sweep login sessions",
	}
	cmd.AddCommand(newSessionsListCmd(app), newSessionsRevokeCmd(app), newSessionsSweepCmd(app))
	return cmd
}

func newSessionsListCmd(app *adminApp) *cobra.Command {
	var (
		opts   model.SessionListOptions
		userID string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID != "" {
				opts.UserID = &userID
			}
			return app.withSessions(cmd.Context(), func(ctx context.Context, infra sessionInfra) error {
				sessions, err := infra.Sessions.List(ctx, opts)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), sessions)
				}
				return printSessions(cmd.OutOrStdout(), sessions, time.Now())
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Only list sessions of this user ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "Maximum number of sessions to list")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Number of sessions to skip")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print sessions as JSON")
	return cmd
}

func printSessions(out io.Writer, sessions []domainauth.Session, now time.Time) error {
	if len(sessions) == 0 {
		return writeln(out, "(no sessions)")
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "ID\tUSER\tEMAIL\tROLE\tLAST ACTIVITY\tEXPIRES IN"); err != nil {
		return err
	}
	for _, s := range sessions {
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.UserID, s.Email, s.Permissions.Role,
			s.LastActivity.UTC().Format(time.RFC3339),
			formatRemaining(s.ExpiresAt.Sub(now)),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	return d.Round(time.Second).String()
}

func newSessionsRevokeCmd(app *adminApp) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "revoke [session-id...]",
		Short: "Revoke sessions by ID, or every session of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && userID == "" {
				return errors.New("pass at least one session ID or --user")
			}
			return app.withSessions(cmd.Context(), func(ctx context.Context, infra sessionInfra) error {
				ids := args
				if userID != "" {
					owned, err := infra.Sessions.ListByUser(ctx, userID)
					if err != nil {
						return err
					}
					for _, s := range owned {
						ids = append(ids, s.ID)
					}
				}

				revoked := 0
				for _, id := range ids {
					sess, err := infra.Sessions.RevokeByID(ctx, id)
					if err != nil {
						return err
					}
					if sess == nil {
						app.logger.Warn("session not found", "session_id", id)
						continue
					}
					revoked++
					app.logger.Info("session revoked", "session_id", id, "user_id", sess.UserID)
				}
				return writef(cmd.OutOrStdout(), "revoked %d session(s)\n", revoked)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Revoke every session of this user ID")
	return cmd
}

func newSessionsSweepCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions and prune the audit log once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withSessions(cmd.Context(), func(ctx context.Context, infra sessionInfra) error {
				runner, err := bootstrap.NewSweeperRunner(bootstrap.SweeperConfig{
					Store:  infra.Store,
					DB:     infra.DB,
					Config: app.cfg,
					Logger: app.logger,
				})
				if err != nil {
					return err
				}
				res, err := runner.RunOnce(ctx)
				if err != nil {
					return err
				}
				return writef(cmd.OutOrStdout(), "deleted %d expired session(s) and %d audit entr(ies) in %s\n",
					res.Sessions, res.AuditEntries, res.Elapsed.Round(time.Millisecond))
			})
		},
	}
}
