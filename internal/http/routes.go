package httpx

import (
	"log/slog"
	"net/http"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Auth AuthService // Required

	// Optional: admin API routes are registered only when all three are set.
	Rules    RuleAdmin
	Sessions SessionLister
	Audit    AuditLister

	// Optional: /internal/v1 routes are registered only when set.
	Trust TrustVerifier

	Cookies CookieSettings
	Logger  *slog.Logger
}

// NewRouter creates the portal HTTP handler. Every route sits behind
// SessionAuth in browser mode; /internal routes authenticate with trust
// tokens instead.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cookies := services.Cookies.withDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", landingHandler)
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	registerAuthRoutes(mux, &AuthHandlers{Svc: services.Auth, Cookies: cookies, Logger: logger})

	if services.Rules != nil && services.Sessions != nil && services.Audit != nil {
		registerAdminRoutes(mux, &AdminHandlers{
			Rules:    services.Rules,
			Sessions: services.Sessions,
			Revoker:  services.Auth,
			Audit:    services.Audit,
			Logger:   logger,
		}, cookies)
	}
	if services.Trust != nil {
		registerInternalRoutes(mux, TrustAuth(services.Trust, logger))
	}

	var handler http.Handler = mux
	handler = SessionAuth(SessionAuthConfig{
		Auth:    services.Auth,
		Mode:    ModeBrowser,
		Cookies: cookies,
		Logger:  logger,
	})(handler)
	handler = Logging(logger)(handler)
	return Recover(logger)(handler)
}

func registerAuthRoutes(mux *http.ServeMux, h *AuthHandlers) {
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("GET /auth/logout", h.Logout)
	mux.HandleFunc("POST /auth/logout", h.Logout)
	mux.HandleFunc("GET /auth/status", h.Status)
	mux.HandleFunc("GET /auth/user", h.User)
	mux.HandleFunc("POST /auth/trust-token", h.TrustToken)
}

func registerAdminRoutes(mux *http.ServeMux, h *AdminHandlers, cookies CookieSettings) {
	adminOnly := RequireRole(domainauth.RoleAdmin)
	csrf := CSRFProtection(CSRFConfig{CookieDomain: cookies.Domain})
	wrap := func(hf http.HandlerFunc) http.Handler {
		return adminOnly(csrf(hf))
	}

	mux.Handle("GET /api/admin/rules", wrap(h.ListRules))
	mux.Handle("POST /api/admin/rules", wrap(h.CreateRule))
	mux.Handle("GET /api/admin/rules/{id}", wrap(h.GetRule))
	mux.Handle("PUT /api/admin/rules/{id}", wrap(h.UpdateRule))
	mux.Handle("GET /api/admin/sessions", wrap(h.ListSessions))
	mux.Handle("DELETE /api/admin/sessions/{id}", wrap(h.RevokeSession))
	mux.Handle("GET /api/admin/audit", wrap(h.ListAudit))
}

func registerInternalRoutes(mux *http.ServeMux, trust func(http.Handler) http.Handler) {
	mux.Handle("GET /internal/v1/whoami", trust(http.HandlerFunc(Whoami)))
	mux.Handle("GET /internal/v1/check", trust(http.HandlerFunc(CheckPermission)))
}
