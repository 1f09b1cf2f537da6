// Command portal-auth-admin is the operator CLI for the portal authentication service.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ocs-portal/portal-auth/config"
	"github.com/ocs-portal/portal-auth/internal/bootstrap"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 30 * time.Second
)

// adminApp carries state shared by every subcommand.
type adminApp struct {
	cfg    *config.AppConfig
	logger *slog.Logger
	in     io.Reader
	debug  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(&adminApp{in: os.Stdin}).ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func newRootCmd(app *adminApp) *cobra.Command {
	root := &cobra.Command{
		Use:          "portal-auth-admin",
		Short:        "Operator tooling for the portal authentication service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init(cmd)
		},
	}
	root.PersistentFlags().BoolVarP(&app.debug, "debug", "d", false, "Enable debug logging")

	root.AddCommand(
		newMigrateCmd(app),
		newDBResetCmd(app),
		newRulesCmd(app),
		newSessionsCmd(app),
		newTokenCmd(app),
		newAuditCmd(app),
	)
	return root
}

// init loads configuration and the console logger unless they were injected.
func (a *adminApp) init(cmd *cobra.Command) error {
	if a.cfg == nil {
		cfg, err := bootstrap.LoadConfig()
		if err != nil {
			return err
		}
		a.cfg = &cfg
	}
	if a.logger == nil {
		level := "info"
		if a.debug {
			level = "debug"
		}
		a.logger = bootstrap.NewLogger(cmd.ErrOrStderr(), config.LogConfig{Level: level, Format: config.LogFormatText})
	}
	if a.in == nil {
		a.in = cmd.InOrStdin()
	}
	return nil
}
