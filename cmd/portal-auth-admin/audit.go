package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocs-portal/portal-auth/internal/data"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	"github.com/ocs-portal/portal-auth/internal/service"
)

type auditListFlags struct {
	UserID string
	Action string
	Since  time.Duration
	Limit  int
	JSON   bool
}

func (f auditListFlags) options(now time.Time) (model.AuditListOptions, error) {
	opts := model.AuditListOptions{Limit: f.Limit}
	if f.UserID != "" {
		opts.UserID = &f.UserID
	}
	if f.Action != "" {
		action := model.AuditAction(strings.ToLower(strings.TrimSpace(f.Action)))
		if !action.Valid() {
			return opts, fmt.Errorf("unknown audit action %q", f.Action)
		}
		opts.Action = &action
	}
	if f.Since > 0 {
		since := now.Add(-f.Since)
		opts.Since = &since
	}
	return opts, nil
}

func newAuditCmd(app *adminApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the authentication audit log",
	}

	var flags auditListFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := flags.options(time.Now())
			if err != nil {
				return err
			}
			return app.withDatabase(cmd.Context(), defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
				audit, err := service.NewAuditService(service.AuditServiceOptions{
					Repo:   data.NewAuditRepo(db),
					Config: app.cfg.Audit,
					Logger: app.logger,
				})
				if err != nil {
					return err
				}
				entries, err := audit.List(ctx, opts)
				if err != nil {
					return err
				}
				if flags.JSON {
					return writeJSON(cmd.OutOrStdout(), entries)
				}
				return printAuditEntries(cmd.OutOrStdout(), entries)
			})
		},
	}
	list.Flags().StringVar(&flags.UserID, "user", "", "Only entries for this user ID")
	list.Flags().StringVar(&flags.Action, "action", "", "Only entries with this action (login, login_failed, logout, ...)")
	list.Flags().DurationVar(&flags.Since, "since", 0, "Only entries newer than this duration, e.g. 24h")
	list.Flags().IntVar(&flags.Limit, "limit", 100, "Maximum number of entries")
	list.Flags().BoolVar(&flags.JSON, "json", false, "Print entries as JSON")

	cmd.AddCommand(list)
	return cmd
}

func printAuditEntries(out io.Writer, entries []*model.AuditEntry) error {
	if len(entries) == 0 {
		return writeln(out, "(no audit entries)")
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "TIME\tACTION\tUSER\tIP\tDETAILS"); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.Action, e.UserID, e.IPAddress, formatDetails(e.Details),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+details[k])
	}
	return strings.Join(parts, " ")
}
