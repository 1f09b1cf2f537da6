package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/service"
	"github.com/ocs-portal/portal-auth/internal/trusttoken"
)

// AuthService defines the auth operations the HTTP layer depends on.
type AuthService interface {
	TokenValidator
	BeginLogin(ctx context.Context) (*service.BeginLoginResult, error)
	CompleteLogin(ctx context.Context, input service.CompleteLoginInput) (*service.LoginResult, error)
	Logout(ctx context.Context, token string, actor service.Actor)
	RevokeSession(ctx context.Context, id string, actor service.Actor) error
	TrustEnabled() bool
	IssueTrustToken(ctx context.Context, sess domainauth.Session) (string, time.Time, error)
}

// AuthHandlers provides HTTP handlers for authentication operations.
type AuthHandlers struct {
	Svc     AuthService
	Cookies CookieSettings
	Logger  *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *AuthHandlers) cookies() CookieSettings { return h.Cookies.withDefaults() }

// Login handles the login initiation endpoint.
// GET /auth/login?next=<optional_redirect>.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	next := safeRedirectPath(r.URL.Query().Get("next"))

	result, err := h.Svc.BeginLogin(r.Context())
	if err != nil {
		h.logger().ErrorContext(r.Context(), "begin login failed", "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "login_failed",
			Err:     errors.New("unable to start login"),
		})
		return
	}

	c := h.cookies()
	c.set(w, r, oauthStateCookie, result.State, oauthCookieLifetime)
	c.set(w, r, oauthNonceCookie, result.Nonce, oauthCookieLifetime)
	c.set(w, r, postLoginCookie, next, oauthCookieLifetime)

	http.Redirect(w, r, result.AuthURL, http.StatusFound)
}

// Callback handles the OAuth callback endpoint.
// GET /auth/callback?code=<code>&state=<state>.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := h.cookies()

	expectedState := cookieValue(r, oauthStateCookie)
	nonce := cookieValue(r, oauthNonceCookie)
	next := safeRedirectPath(cookieValue(r, postLoginCookie))
	for _, name := range []string{oauthStateCookie, oauthNonceCookie, postLoginCookie} {
		c.clear(w, r, name)
	}

	if idpErr := q.Get("error"); idpErr != "" {
		h.logger().WarnContext(r.Context(), "identity provider returned an error",
			"error", idpErr,
			"description", q.Get("error_description"),
			"ip", clientIP(r),
		)
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "login_failed",
			Err:     errors.New("sign-in was not completed"),
		})
		return
	}

	result, err := h.Svc.CompleteLogin(r.Context(), service.CompleteLoginInput{
		Code:          q.Get("code"),
		State:         q.Get("state"),
		ExpectedState: expectedState,
		Nonce:         nonce,
		IPAddress:     clientIP(r),
		UserAgent:     r.UserAgent(),
	})
	if err != nil {
		h.writeLoginError(w, r, err)
		return
	}

	c.set(w, r, c.SessionName, result.Token, time.Until(result.Session.ExpiresAt))
	http.Redirect(w, r, next, http.StatusFound)
}

func (h *AuthHandlers) writeLoginError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrStateMismatch):
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_state",
			Err:     errors.New("invalid or missing state parameter"),
		})
	case errors.Is(err, service.ErrExchange):
		WriteError(w, ErrorParams{
			Code:    http.StatusUnauthorized,
			ErrCode: "login_failed",
			Err:     errors.New("authentication failed"),
		})
	case errors.Is(err, service.ErrStoreUnavailable):
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: "auth_unavailable",
			Err:     errors.New("authentication is temporarily unavailable"),
		})
	default:
		h.logger().ErrorContext(r.Context(), "login completion failed", "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "login_failed",
			Err:     errors.New("unable to complete login"),
		})
	}
}

// Logout revokes the current session. It always reports success.
// GET|POST /auth/logout.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	c := h.cookies()
	if token := cookieValue(r, c.SessionName); token != "" {
		h.Svc.Logout(r.Context(), token, actorFromRequest(r))
	}
	c.clear(w, r, c.SessionName)

	if isAJAX(r) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "success", "redirect_to": "/"})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type statusUser struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

type statusResponse struct {
	Authenticated bool                         `json:"authenticated"`
	User          *statusUser                  `json:"user,omitempty"`
	Permissions   *domainauth.PermissionBundle `json:"permissions,omitempty"`
	ExpiresAt     *time.Time                   `json:"expires_at,omitempty"`
}

// Status returns the current authentication status.
// GET /auth/status.
func (h *AuthHandlers) Status(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		WriteJSON(w, http.StatusOK, statusResponse{})
		return
	}
	WriteJSON(w, http.StatusOK, statusResponse{
		Authenticated: true,
		User:          &statusUser{ID: p.UserID, Email: p.Email, DisplayName: p.DisplayName},
		Permissions:   &p.Permissions,
		ExpiresAt:     &p.ExpiresAt,
	})
}

// User returns the authenticated principal.
// GET /auth/user.
func (h *AuthHandlers) User(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeAuthRequired(w)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

type trustTokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

// TrustToken mints a short-lived trust token for the caller's session.
// POST /auth/trust-token.
func (h *AuthHandlers) TrustToken(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok || p.Source != domainauth.SourceSession {
		writeAuthRequired(w)
		return
	}
	if !h.Svc.TrustEnabled() {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "trust_tokens_disabled",
			Err:     trusttoken.ErrDisabled,
		})
		return
	}

	token, exp, err := h.Svc.IssueTrustToken(r.Context(), domainauth.Session{
		ID:          p.SessionID,
		UserID:      p.UserID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Permissions: p.Permissions,
		ExpiresAt:   p.ExpiresAt,
	})
	if err != nil {
		h.logger().ErrorContext(r.Context(), "issue trust token failed", "user_id", p.UserID, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "internal",
			Err:     errors.New("unable to issue trust token"),
		})
		return
	}

	WriteJSON(w, http.StatusOK, trustTokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: exp,
		ExpiresIn: int64(time.Until(exp).Seconds()),
	})
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
