package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/service"
)

func newRulesCmd(app *adminApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and seed permission rules",
	}
	cmd.AddCommand(newRulesListCmd(app), newRulesSeedCmd(app), newRulesExplainCmd(app))
	return cmd
}

func newRulesListCmd(app *adminApp) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List permission rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRules(cmd.Context(), func(ctx context.Context, rules *service.RuleService) error {
				list, err := rules.List(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				return printRules(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print rules as JSON")
	return cmd
}

func newRulesSeedCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the default rules when the rule table is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRules(cmd.Context(), func(ctx context.Context, rules *service.RuleService) error {
				n, err := rules.SeedDefaults(ctx)
				if err != nil {
					return err
				}
				if n == 0 {
					return writeln(cmd.OutOrStdout(), "rule table already populated; nothing seeded")
				}
				return writef(cmd.OutOrStdout(), "seeded %d default rules\n", n)
			})
		},
	}
}

type explainOptions struct {
	Groups     []string
	Attributes map[string]string
	Department string
	JSON       bool
}

func newRulesExplainCmd(app *adminApp) *cobra.Command {
	var opts explainOptions
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Resolve the permissions a user with the given groups and attributes would receive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.withRules(cmd.Context(), func(ctx context.Context, rules *service.RuleService) error {
				res, err := rules.Explain(ctx, opts.subject(), opts.Department)
				if err != nil {
					return err
				}
				if opts.JSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				return printResolution(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringSliceVarP(&opts.Groups, "group", "g", nil, "Group display name (repeatable)")
	cmd.Flags().StringToStringVarP(&opts.Attributes, "attr", "a", nil, "Directory attribute as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Department, "department", "", "Check access for a specific department")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the resolution as JSON")
	return cmd
}

func (o explainOptions) subject() domainauth.Subject {
	s := domainauth.Subject{Attributes: make(map[string]any, len(o.Attributes))}
	for _, g := range o.Groups {
		if g = strings.TrimSpace(g); g != "" {
			s.Groups = append(s.Groups, domainauth.Group{Name: g})
		}
	}
	for k, v := range o.Attributes {
		s.Attributes[k] = v
	}
	return s
}

func printRules(out io.Writer, rules []domainauth.PermissionRule) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "PRIORITY\tNAME\tMATCH\tGRANTS\tID"); err != nil {
		return err
	}
	for _, r := range rules {
		if err := writef(tw, "%d\t%s\t%s\t%s\t%s\n",
			r.Priority, r.Name, describeMatch(r.Match), describeBundle(r.Grants), r.ID); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printResolution(out io.Writer, res domainauth.Resolution) error {
	if err := writef(out, "Permissions: %s\n", describeBundle(res.Bundle)); err != nil {
		return err
	}
	if len(res.MatchedRules) == 0 {
		return writeln(out, "Matched rules: (none)")
	}
	return writef(out, "Matched rules: %s\n", strings.Join(res.MatchedRules, ", "))
}

func describeMatch(m domainauth.RuleMatch) string {
	if m.Kind == domainauth.MatchAttribute {
		return fmt.Sprintf("attribute %s=%q", m.AttributeKey, m.AttributeValue)
	}
	if m.GroupName != "" {
		return fmt.Sprintf("group %q", m.GroupName)
	}
	return "group id " + m.GroupID
}

func describeBundle(b domainauth.PermissionBundle) string {
	parts := []string{"role=" + b.Role.String()}
	for _, c := range domainauth.Categories() {
		parts = append(parts, fmt.Sprintf("%s=%s", c, b.Level(c)))
	}
	if len(b.Departments) > 0 {
		parts = append(parts, "departments="+strings.Join(b.Departments, ","))
	}
	return strings.Join(parts, " ")
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
