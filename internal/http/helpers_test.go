package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/service"
	"github.com/ocs-portal/portal-auth/internal/trusttoken"
)

// fakeAuthService is a test double for AuthService keyed by raw token.
type fakeAuthService struct {
	mu           sync.Mutex
	sessions     map[string]domainauth.Session
	validateErr  error
	beginErr     error
	completeFunc func(in service.CompleteLoginInput) (*service.LoginResult, error)
	completeIn   []service.CompleteLoginInput
	trustEnabled bool
	issueErr     error
	logouts      []string
	revoked      []string
	revokeErr    error
	actors       []service.Actor
}

func newFakeAuthService() *fakeAuthService {
	return &fakeAuthService{sessions: make(map[string]domainauth.Session)}
}

func (f *fakeAuthService) addSession(token string, perms domainauth.PermissionBundle) domainauth.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	sess := domainauth.Session{
		ID:           service.SessionID(token),
		UserID:       "user-" + token,
		Email:        token + "@example.org",
		DisplayName:  "User " + token,
		Permissions:  perms,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(time.Hour),
	}
	f.sessions[token] = sess
	return sess
}

func (f *fakeAuthService) ValidateToken(_ context.Context, token string) (domainauth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.validateErr != nil {
		return domainauth.Session{}, f.validateErr
	}
	sess, ok := f.sessions[token]
	if !ok {
		return domainauth.Session{}, service.ErrInvalidToken
	}
	return sess, nil
}

func (f *fakeAuthService) BeginLogin(context.Context) (*service.BeginLoginResult, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &service.BeginLoginResult{
		AuthURL: "https://login.example.org/authorize?state=st-1&nonce=nc-1",
		State:   "st-1",
		Nonce:   "nc-1",
	}, nil
}

func (f *fakeAuthService) CompleteLogin(_ context.Context, in service.CompleteLoginInput) (*service.LoginResult, error) {
	f.mu.Lock()
	f.completeIn = append(f.completeIn, in)
	fn := f.completeFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return &service.LoginResult{
		Token:   "tok-new",
		Session: domainauth.Session{ID: service.SessionID("tok-new"), UserID: "u1", ExpiresAt: time.Now().Add(8 * time.Hour)},
	}, nil
}

func (f *fakeAuthService) Logout(_ context.Context, token string, actor service.Actor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts = append(f.logouts, token)
	f.actors = append(f.actors, actor)
	delete(f.sessions, token)
}

func (f *fakeAuthService) RevokeSession(_ context.Context, id string, actor service.Actor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokeErr != nil {
		return f.revokeErr
	}
	f.revoked = append(f.revoked, id)
	f.actors = append(f.actors, actor)
	return nil
}

func (f *fakeAuthService) TrustEnabled() bool { return f.trustEnabled }

func (f *fakeAuthService) IssueTrustToken(_ context.Context, sess domainauth.Session) (string, time.Time, error) {
	if !f.trustEnabled {
		return "", time.Time{}, trusttoken.ErrDisabled
	}
	if f.issueErr != nil {
		return "", time.Time{}, f.issueErr
	}
	return "trust-for-" + sess.UserID, time.Now().Add(5 * time.Minute), nil
}

var (
	staffBundle = domainauth.PermissionBundle{
		Role:       domainauth.RoleStaff,
		Tickets:    domainauth.AccessWrite,
		Inventory:  domainauth.AccessRead,
		Purchasing: domainauth.AccessWrite,
		Forms:      domainauth.AccessWrite,
	}
	adminBundle = domainauth.PermissionBundle{
		Role:        domainauth.RoleSuperAdmin,
		Tickets:     domainauth.AccessAdmin,
		Inventory:   domainauth.AccessAdmin,
		Purchasing:  domainauth.AccessAdmin,
		Forms:       domainauth.AccessAdmin,
		Departments: []string{"All"},
	}
)

// okHandler records the principal it saw.
type okHandler struct {
	called    bool
	principal *domainauth.Principal
}

func (h *okHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.called = true
	if p, ok := PrincipalFromContext(r.Context()); ok {
		h.principal = &p
	}
	w.WriteHeader(http.StatusOK)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	resp := rec.Result()
	defer resp.Body.Close()
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
