package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocs-portal/portal-auth/internal/bootstrap"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/trusttoken"
)

func newTokenCmd(app *adminApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and verify service trust tokens",
	}
	cmd.AddCommand(newTokenIssueCmd(app), newTokenVerifyCmd(app))
	return cmd
}

func (a *adminApp) signer() (*trusttoken.Signer, error) {
	signer, err := bootstrap.BuildTrustSigner(a.cfg.TrustToken, nil)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, errors.New("trust tokens are disabled; set TRUST_TOKEN_SECRET")
	}
	return signer, nil
}

type issueOptions struct {
	Subject     string
	Email       string
	Role        string
	Levels      map[domainauth.Category]*string
	Departments []string
	TTL         time.Duration
}

func (o issueOptions) bundle() (domainauth.PermissionBundle, error) {
	var b domainauth.PermissionBundle
	role, err := domainauth.ParseRole(o.Role)
	if err != nil {
		return b, err
	}
	b.Role = role

	levels := make(map[domainauth.Category]domainauth.AccessLevel, len(o.Levels))
	for c, raw := range o.Levels {
		lvl, err := domainauth.ParseAccessLevel(*raw)
		if err != nil {
			return b, fmt.Errorf("--%s: %w", c, err)
		}
		levels[c] = lvl
	}
	b.Tickets = levels[domainauth.CategoryTickets]
	b.Inventory = levels[domainauth.CategoryInventory]
	b.Purchasing = levels[domainauth.CategoryPurchasing]
	b.Forms = levels[domainauth.CategoryForms]
	b.Departments = o.Departments
	return b, nil
}

func newTokenIssueCmd(app *adminApp) *cobra.Command {
	opts := issueOptions{Levels: make(map[domainauth.Category]*string)}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a trust token for a service or user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bundle, err := opts.bundle()
			if err != nil {
				return err
			}
			signer, err := app.signer()
			if err != nil {
				return err
			}
			token, exp, err := signer.Issue(opts.Subject, opts.Email, bundle, opts.TTL)
			if err != nil {
				return err
			}
			app.logger.Info("issued trust token",
				"subject", opts.Subject,
				"expires_at", exp.UTC().Format(time.RFC3339),
				"permissions", describeBundle(bundle))
			return writeln(cmd.OutOrStdout(), token)
		},
	}
	cmd.Flags().StringVarP(&opts.Subject, "subject", "u", "", "Token subject (user or service ID)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "Email claim")
	cmd.Flags().StringVar(&opts.Role, "role", "staff", "Portal role: none, student, staff, admin, super_admin")
	for _, c := range domainauth.Categories() {
		v := "none"
		opts.Levels[c] = &v
		cmd.Flags().StringVar(opts.Levels[c], string(c), "none",
			fmt.Sprintf("Access level for %s: none, read, write, admin", c))
	}
	cmd.Flags().StringSliceVar(&opts.Departments, "department", nil, "Allowed department (repeatable; All for unrestricted)")
	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "Token lifetime (defaults to TRUST_TOKEN_TTL)")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newTokenVerifyCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token|->",
		Short: "Verify a trust token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			if raw == "-" {
				line, err := bufio.NewReader(app.in).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read token: %w", err)
				}
				raw = line
			}
			signer, err := app.signer()
			if err != nil {
				return err
			}
			claims, err := signer.Verify(strings.TrimSpace(raw))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), claims)
		},
	}
}
