package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ocs-portal/portal-auth/config"
	httpx "github.com/ocs-portal/portal-auth/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// StartHTTPServer builds the HTTP server. The caller runs it with serveHTTP
// and stops it with ShutdownHTTPServer.
func StartHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil || cfg.Services == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	return newServer(appCfg.HTTP, buildHTTPHandler(routerServices(appCfg, cfg.Services, logger)))
}

func routerServices(cfg *config.AppConfig, svc *ServiceContainer, logger *slog.Logger) httpx.RouterServices {
	services := httpx.RouterServices{
		Auth:     svc.Auth,
		Rules:    svc.Rules,
		Sessions: svc.Sessions,
		Audit:    svc.Audit,
		Cookies: httpx.CookieSettings{
			SessionName: cfg.Session.CookieName,
			Domain:      cfg.HTTP.CookieDomain,
			Secure:      cfg.Session.CookieSecure && !cfg.IsDev,
		},
		Logger: logger,
	}
	// A nil *Signer must not become a non-nil interface.
	if svc.Trust != nil {
		services.Trust = svc.Trust
	}
	return services
}

func buildHTTPHandler(services httpx.RouterServices) http.Handler {
	return httpx.NewRouter(services)
}

func newServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func serveHTTP(server *http.Server, logger *slog.Logger) error {
	logger.Info("starting HTTP server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	if err := cfg.Server.Shutdown(cfg.Context); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}
	return nil
}
