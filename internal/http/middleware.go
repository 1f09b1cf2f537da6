package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/service"
	"github.com/ocs-portal/portal-auth/internal/trusttoken"
)

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("ip", clientIP(r)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler { //nolint:errorlint,err113 // sentinel re-panic per net/http contract
						panic(err)
					}
					logger.ErrorContext(r.Context(), "panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					WriteError(w, ErrorParams{
						Code:    http.StatusInternalServerError,
						ErrCode: "internal",
						Err:     errors.New("internal server error"),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CredentialCarrier extracts a presented session token from a request.
type CredentialCarrier interface {
	Extract(r *http.Request) (string, bool)
}

// CookieCarrier reads the session token from a named cookie.
type CookieCarrier struct {
	Name string
}

func (c CookieCarrier) Extract(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(c.Name)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

// BearerCarrier reads the session token from an Authorization: Bearer header.
type BearerCarrier struct{}

func (BearerCarrier) Extract(r *http.Request) (string, bool) {
	return bearerToken(r)
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// AuthMode selects how unauthenticated requests are answered.
type AuthMode int

const (
	// ModeBrowser redirects navigations to the login page and answers API
	// requests with 401.
	ModeBrowser AuthMode = iota
	// ModeAPI always answers with 401.
	ModeAPI
)

// DefaultLoginPath is where browser requests without a session are sent.
const DefaultLoginPath = "/auth/login"

// DefaultExemptPaths lists the routes reachable without a session. "/" is
// matched exactly; the rest match whole path segments.
func DefaultExemptPaths() []string {
	return []string{
		"/",
		"/auth/login",
		"/auth/callback",
		"/auth/logout",
		"/auth/status",
		"/static",
		"/healthz",
		"/internal/",
	}
}

// TokenValidator resolves a session token.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (domainauth.Session, error)
}

// SessionAuthConfig configures SessionAuth.
type SessionAuthConfig struct {
	Auth    TokenValidator    // Required
	Carrier CredentialCarrier // Default: CookieCarrier{Name: Cookies.SessionName}
	Mode    AuthMode
	Exempt  []string // Default: DefaultExemptPaths()
	Cookies CookieSettings
	// LoginPath receives browser redirects. Default: DefaultLoginPath.
	LoginPath string
	Logger    *slog.Logger
}

// SessionAuth authenticates every request against the session store and
// attaches the principal to the request context. Exempt paths are served
// without a session but still see the principal when a valid one is presented.
// A store failure answers 503 and is never treated as authenticated.
func SessionAuth(cfg SessionAuthConfig) func(http.Handler) http.Handler {
	if cfg.Auth == nil {
		panic("httpx.SessionAuth: Auth is required") //nolint:forbidigo // Fail fast during server setup.
	}
	cfg.Cookies = cfg.Cookies.withDefaults()
	if cfg.Carrier == nil {
		cfg.Carrier = CookieCarrier{Name: cfg.Cookies.SessionName}
	}
	if cfg.Exempt == nil {
		cfg.Exempt = DefaultExemptPaths()
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = DefaultLoginPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	_, usesCookie := cfg.Carrier.(CookieCarrier)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			exempt := isExempt(r.URL.Path, cfg.Exempt)

			token, ok := cfg.Carrier.Extract(r)
			if !ok {
				if exempt {
					next.ServeHTTP(w, r)
					return
				}
				cfg.unauthenticated(w, r)
				return
			}

			sess, err := cfg.Auth.ValidateToken(r.Context(), token)
			switch {
			case err == nil:
				ctx := WithPrincipal(r.Context(), domainauth.PrincipalFromSession(sess))
				next.ServeHTTP(w, r.WithContext(ctx))
			case errors.Is(err, service.ErrInvalidToken):
				if usesCookie {
					cfg.Cookies.clear(w, r, cfg.Cookies.SessionName)
				}
				if exempt {
					next.ServeHTTP(w, r)
					return
				}
				cfg.unauthenticated(w, r)
			default:
				if exempt {
					next.ServeHTTP(w, r)
					return
				}
				cfg.Logger.ErrorContext(r.Context(), "session validation unavailable",
					"path", r.URL.Path,
					"error", err,
				)
				WriteError(w, ErrorParams{
					Code:    http.StatusServiceUnavailable,
					ErrCode: "auth_unavailable",
					Err:     errors.New("authentication is temporarily unavailable"),
				})
			}
		})
	}
}

func (cfg SessionAuthConfig) unauthenticated(w http.ResponseWriter, r *http.Request) {
	if cfg.Mode == ModeAPI || isAPIRequest(r) {
		writeAuthRequired(w)
		return
	}
	target := cfg.LoginPath + "?next=" + url.QueryEscape(safeRedirectPath(r.URL.RequestURI()))
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func writeAuthRequired(w http.ResponseWriter) {
	WriteError(w, ErrorParams{
		Code:    http.StatusUnauthorized,
		ErrCode: "authentication_required",
		Err:     errors.New("authentication required"),
	})
}

// isAPIRequest reports whether a request expects a machine-readable answer.
func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") || wantsJSON(r)
}

func isExempt(path string, exempt []string) bool {
	for _, p := range exempt {
		if p == "/" {
			if path == "/" {
				return true
			}
			continue
		}
		base := strings.TrimSuffix(p, "/")
		if path == base || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}

// RequirePermission allows the request when the principal's permissions
// grant at least level in category. Portal admins pass every check.
func RequirePermission(category domainauth.Category, level domainauth.AccessLevel) func(http.Handler) http.Handler {
	return requirePrincipal(func(p domainauth.Principal) bool {
		return domainauth.Grants(p.Permissions, category, level)
	})
}

// RequireRole allows the request when the principal's role is at least role.
func RequireRole(role domainauth.Role) func(http.Handler) http.Handler {
	return requirePrincipal(func(p domainauth.Principal) bool {
		return p.Permissions.Role >= role
	})
}

func requirePrincipal(allowed func(domainauth.Principal) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeAuthRequired(w)
				return
			}
			if !allowed(p) {
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "insufficient_permissions",
					Err:     errors.New("insufficient permissions"),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TrustVerifier validates inter-service trust tokens.
type TrustVerifier interface {
	Verify(token string) (*trusttoken.Claims, error)
}

// TrustAuth authenticates service-to-service calls carrying a trust token.
// Every failure answers the same 401 so callers cannot probe why.
func TrustAuth(verifier TrustVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeInvalidTrustToken(w)
				return
			}
			claims, err := verifier.Verify(token)
			if err != nil {
				logger.DebugContext(r.Context(), "trust token rejected", "error", err, "ip", clientIP(r))
				writeInvalidTrustToken(w)
				return
			}

			p := domainauth.Principal{
				UserID:      claims.Subject,
				Email:       claims.Email,
				Permissions: claims.Permissions,
				Source:      domainauth.SourceTrust,
			}
			if claims.ExpiresAt != nil {
				p.ExpiresAt = claims.ExpiresAt.Time
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func writeInvalidTrustToken(w http.ResponseWriter) {
	WriteError(w, ErrorParams{
		Code:    http.StatusUnauthorized,
		ErrCode: "invalid_trust_token",
		Err:     errors.New("invalid or expired trust token"),
	})
}
