package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/service"
)

func TestAuthHandlers_LoginSetsFlowCookies(t *testing.T) {
	tests := []struct {
		name     string
		next     string
		wantNext string
	}{
		{name: "relative path", next: "/tickets?id=4", wantNext: "/tickets?id=4"},
		{name: "empty", next: "", wantNext: "/"},
		{name: "absolute url", next: "https://evil.example.com/", wantNext: "/"},
		{name: "protocol relative", next: "//evil.example.com", wantNext: "/"},
		{name: "backslash", next: "/\\evil.example.com", wantNext: "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &AuthHandlers{Svc: newFakeAuthService()}
			req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
			q := req.URL.Query()
			q.Set("next", tt.next)
			req.URL.RawQuery = q.Encode()
			rec := httptest.NewRecorder()

			h.Login(rec, req)

			assert.Equal(t, http.StatusFound, rec.Code)
			assert.Equal(t, "https://login.example.org/authorize?state=st-1&nonce=nc-1", rec.Header().Get("Location"))

			state := findCookie(rec, oauthStateCookie)
			require.NotNil(t, state)
			assert.Equal(t, "st-1", state.Value)
			assert.True(t, state.HttpOnly)
			assert.Equal(t, http.SameSiteLaxMode, state.SameSite)
			assert.Equal(t, int(oauthCookieLifetime.Seconds()), state.MaxAge)

			nonce := findCookie(rec, oauthNonceCookie)
			require.NotNil(t, nonce)
			assert.Equal(t, "nc-1", nonce.Value)

			next := findCookie(rec, postLoginCookie)
			require.NotNil(t, next)
			assert.Equal(t, tt.wantNext, next.Value)
		})
	}
}

func TestAuthHandlers_LoginSecureCookies(t *testing.T) {
	h := &AuthHandlers{Svc: newFakeAuthService()}

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.Header.Set("X-Forwarded-Proto", "http, https")
	rec := httptest.NewRecorder()
	h.Login(rec, req)
	require.NotNil(t, findCookie(rec, oauthStateCookie))
	assert.True(t, findCookie(rec, oauthStateCookie).Secure)

	h.Cookies.Secure = true
	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
	assert.True(t, findCookie(rec, oauthStateCookie).Secure)
}

func TestAuthHandlers_LoginBeginFailure(t *testing.T) {
	svc := newFakeAuthService()
	svc.beginErr = errors.New("discovery failed")
	h := &AuthHandlers{Svc: svc}
	rec := httptest.NewRecorder()

	h.Login(rec, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "login_failed", decodeBody(t, rec)["error"])
	assert.Nil(t, findCookie(rec, oauthStateCookie))
}

func callbackRequest(query string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+query, nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "st-1"})
	req.AddCookie(&http.Cookie{Name: oauthNonceCookie, Value: "nc-1"})
	req.AddCookie(&http.Cookie{Name: postLoginCookie, Value: "/tickets"})
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	return req
}

func TestAuthHandlers_CallbackSuccess(t *testing.T) {
	svc := newFakeAuthService()
	h := &AuthHandlers{Svc: svc}
	rec := httptest.NewRecorder()

	h.Callback(rec, callbackRequest("code=abc&state=st-1"))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/tickets", rec.Header().Get("Location"))

	require.Len(t, svc.completeIn, 1)
	in := svc.completeIn[0]
	assert.Equal(t, "abc", in.Code)
	assert.Equal(t, "st-1", in.State)
	assert.Equal(t, "st-1", in.ExpectedState)
	assert.Equal(t, "nc-1", in.Nonce)
	assert.Equal(t, "203.0.113.9", in.IPAddress)
	assert.Equal(t, "test-agent", in.UserAgent)

	session := findCookie(rec, DefaultSessionCookieName)
	require.NotNil(t, session)
	assert.Equal(t, "tok-new", session.Value)
	assert.True(t, session.HttpOnly)
	assert.InDelta(t, (8 * time.Hour).Seconds(), float64(session.MaxAge), 5)

	for _, name := range []string{oauthStateCookie, oauthNonceCookie, postLoginCookie} {
		c := findCookie(rec, name)
		require.NotNil(t, c, name)
		assert.Less(t, c.MaxAge, 0, name)
	}
}

func TestAuthHandlers_CallbackWithoutStateCookie(t *testing.T) {
	svc := newFakeAuthService()
	svc.completeFunc = func(in service.CompleteLoginInput) (*service.LoginResult, error) {
		if in.ExpectedState == "" {
			return nil, service.ErrStateMismatch
		}
		return nil, errors.New("unexpected")
	}
	h := &AuthHandlers{Svc: svc}
	rec := httptest.NewRecorder()

	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/auth/callback?code=abc&state=st-1", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody(t, rec)["error"])
}

func TestAuthHandlers_CallbackErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"state mismatch", service.ErrStateMismatch, http.StatusBadRequest, "invalid_state"},
		{"exchange", fmt.Errorf("%w: bad code", service.ErrExchange), http.StatusUnauthorized, "login_failed"},
		{"store", fmt.Errorf("%w: redis down", service.ErrStoreUnavailable), http.StatusServiceUnavailable, "auth_unavailable"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "login_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeAuthService()
			svc.completeFunc = func(service.CompleteLoginInput) (*service.LoginResult, error) { return nil, tt.err }
			h := &AuthHandlers{Svc: svc}
			rec := httptest.NewRecorder()

			h.Callback(rec, callbackRequest("code=abc&state=st-1"))

			assert.Equal(t, tt.wantCode, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.wantErr, body["error"])
			assert.NotContains(t, rec.Body.String(), "redis down")
			assert.Nil(t, findCookie(rec, DefaultSessionCookieName))
		})
	}
}

func TestAuthHandlers_CallbackProviderError(t *testing.T) {
	svc := newFakeAuthService()
	h := &AuthHandlers{Svc: svc}
	rec := httptest.NewRecorder()

	h.Callback(rec, callbackRequest("error=access_denied&error_description=user+cancelled&state=st-1"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "login_failed", decodeBody(t, rec)["error"])
	assert.Empty(t, svc.completeIn)
	c := findCookie(rec, oauthStateCookie)
	require.NotNil(t, c)
	assert.Less(t, c.MaxAge, 0)
}

func TestAuthHandlers_LogoutRedirect(t *testing.T) {
	svc := newFakeAuthService()
	svc.addSession("tok", staffBundle)
	h := &AuthHandlers{Svc: svc}
	req := withSessionCookie(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), "tok")
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, []string{"tok"}, svc.logouts)
	c := findCookie(rec, DefaultSessionCookieName)
	require.NotNil(t, c)
	assert.Less(t, c.MaxAge, 0)
}

func TestAuthHandlers_LogoutAJAXWithoutSession(t *testing.T) {
	svc := newFakeAuthService()
	h := &AuthHandlers{Svc: svc}
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	rec := httptest.NewRecorder()

	h.Logout(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "/", body["redirect_to"])
	assert.Empty(t, svc.logouts)
}

func TestAuthHandlers_Status(t *testing.T) {
	h := &AuthHandlers{Svc: newFakeAuthService()}

	t.Run("anonymous", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.Status(rec, httptest.NewRequest(http.MethodGet, "/auth/status", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["authenticated"])
		assert.NotContains(t, body, "user")
		assert.NotContains(t, body, "permissions")
	})

	t.Run("authenticated", func(t *testing.T) {
		exp := time.Date(2026, time.October, 16, 17, 0, 0, 0, time.UTC)
		p := domainauth.Principal{
			UserID:      "u1",
			Email:       "u1@example.org",
			DisplayName: "Una",
			Permissions: staffBundle,
			ExpiresAt:   exp,
			Source:      domainauth.SourceSession,
		}
		req := httptest.NewRequest(http.MethodGet, "/auth/status", nil)
		req = req.WithContext(WithPrincipal(req.Context(), p))
		rec := httptest.NewRecorder()
		h.Status(rec, req)

		body := decodeBody(t, rec)
		assert.Equal(t, true, body["authenticated"])
		assert.Equal(t, map[string]any{"id": "u1", "email": "u1@example.org", "display_name": "Una"}, body["user"])
		perms, ok := body["permissions"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "staff", perms["access_level"])
		assert.Equal(t, "write", perms["tickets_access"])
		assert.Equal(t, "read", perms["inventory_access"])
		assert.Equal(t, "2026-10-16T17:00:00Z", body["expires_at"])
	})
}

func TestAuthHandlers_User(t *testing.T) {
	h := &AuthHandlers{Svc: newFakeAuthService()}

	rec := httptest.NewRecorder()
	h.User(rec, httptest.NewRequest(http.MethodGet, "/auth/user", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/user", nil)
	req = req.WithContext(WithPrincipal(req.Context(), domainauth.Principal{UserID: "u1", Email: "u1@example.org"}))
	rec = httptest.NewRecorder()
	h.User(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"u1@example.org"`)
}

func TestAuthHandlers_TrustToken(t *testing.T) {
	sessionPrincipal := domainauth.Principal{
		SessionID:   "sid",
		UserID:      "u1",
		Email:       "u1@example.org",
		Permissions: staffBundle,
		ExpiresAt:   time.Now().Add(time.Hour),
		Source:      domainauth.SourceSession,
	}
	newReq := func(p *domainauth.Principal) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/auth/trust-token", nil)
		if p != nil {
			req = req.WithContext(WithPrincipal(req.Context(), *p))
		}
		return req
	}

	t.Run("no principal", func(t *testing.T) {
		svc := newFakeAuthService()
		svc.trustEnabled = true
		rec := httptest.NewRecorder()
		(&AuthHandlers{Svc: svc}).TrustToken(rec, newReq(nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("trust principal cannot mint", func(t *testing.T) {
		svc := newFakeAuthService()
		svc.trustEnabled = true
		p := sessionPrincipal
		p.Source = domainauth.SourceTrust
		rec := httptest.NewRecorder()
		(&AuthHandlers{Svc: svc}).TrustToken(rec, newReq(&p))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		rec := httptest.NewRecorder()
		(&AuthHandlers{Svc: newFakeAuthService()}).TrustToken(rec, newReq(&sessionPrincipal))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "trust_tokens_disabled", decodeBody(t, rec)["error"])
	})

	t.Run("issue failure", func(t *testing.T) {
		svc := newFakeAuthService()
		svc.trustEnabled = true
		svc.issueErr = errors.New("sign failed")
		rec := httptest.NewRecorder()
		(&AuthHandlers{Svc: svc}).TrustToken(rec, newReq(&sessionPrincipal))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "sign failed")
	})

	t.Run("issued", func(t *testing.T) {
		svc := newFakeAuthService()
		svc.trustEnabled = true
		rec := httptest.NewRecorder()
		(&AuthHandlers{Svc: svc}).TrustToken(rec, newReq(&sessionPrincipal))

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "trust-for-u1", body["token"])
		assert.Equal(t, "Bearer", body["token_type"])
		assert.InDelta(t, 300, body["expires_in"], 2)
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	})
}
