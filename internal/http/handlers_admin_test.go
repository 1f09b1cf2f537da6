package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocs-portal/portal-auth/internal/adapters/authroles"
	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	"github.com/ocs-portal/portal-auth/internal/service"
)

type fakeSessionLister struct {
	got      model.SessionListOptions
	sessions []domainauth.Session
	err      error
}

func (f *fakeSessionLister) List(_ context.Context, opts model.SessionListOptions) ([]domainauth.Session, error) {
	f.got = opts
	return f.sessions, f.err
}

type fakeAuditLister struct {
	got     model.AuditListOptions
	entries []*model.AuditEntry
}

func (f *fakeAuditLister) List(_ context.Context, opts model.AuditListOptions) ([]*model.AuditEntry, error) {
	f.got = opts
	return f.entries, nil
}

func newAdminHandlers(t *testing.T) *AdminHandlers {
	t.Helper()
	rules, err := service.NewRuleService(service.RuleServiceOptions{Repo: authroles.NewDefaultRuleRepository()})
	require.NoError(t, err)
	return &AdminHandlers{
		Rules:    rules,
		Sessions: &fakeSessionLister{},
		Revoker:  newFakeAuthService(),
		Audit:    &fakeAuditLister{},
	}
}

func adminRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req.WithContext(WithPrincipal(req.Context(), domainauth.Principal{
		UserID: "admin-1", Email: "admin@example.org", Permissions: adminBundle,
	}))
}

func ruleIDByName(t *testing.T, h *AdminHandlers, name string) string {
	t.Helper()
	rules, err := h.Rules.List(context.Background())
	require.NoError(t, err)
	for _, r := range rules {
		if r.Name == name {
			return r.ID
		}
	}
	t.Fatalf("rule %q not found", name)
	return ""
}

func TestAdminHandlers_ListRules(t *testing.T) {
	h := newAdminHandlers(t)
	rec := httptest.NewRecorder()

	h.ListRules(rec, adminRequest(http.MethodGet, "/api/admin/rules", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	rules, ok := decodeBody(t, rec)["rules"].([]any)
	require.True(t, ok)
	require.Len(t, rules, len(domainauth.DefaultRules()))
	first, ok := rules[0].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 10, first["priority"], 0)
}

func TestAdminHandlers_CreateRule(t *testing.T) {
	const nurses = `{
		"name": "Nurses",
		"match": {"kind": "group", "group_name": "Nurses"},
		"priority": 50,
		"grants": {"access_level": "staff", "tickets_access": "write", "forms_access": "read"}
	}`

	t.Run("created", func(t *testing.T) {
		h := newAdminHandlers(t)
		rec := httptest.NewRecorder()
		h.CreateRule(rec, adminRequest(http.MethodPost, "/api/admin/rules", nurses))

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		body := decodeBody(t, rec)
		assert.Equal(t, "Nurses", body["name"])
		assert.NotEmpty(t, body["id"])
		grants, ok := body["grants"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "write", grants["tickets_access"])
	})

	t.Run("duplicate name conflicts", func(t *testing.T) {
		h := newAdminHandlers(t)
		dup := strings.Replace(nurses, `"Nurses",`, `"finance",`, 1)
		rec := httptest.NewRecorder()
		h.CreateRule(rec, adminRequest(http.MethodPost, "/api/admin/rules", dup))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "conflict", decodeBody(t, rec)["error"])
	})

	tests := []struct {
		name string
		body string
	}{
		{"group without target", `{"name":"x","match":{"kind":"group"},"grants":{"access_level":"staff"}}`},
		{"unknown kind", `{"name":"x","match":{"kind":"role","group_name":"x"},"grants":{"access_level":"staff"}}`},
		{"blank name", `{"name":"  ","match":{"kind":"group","group_name":"x"},"grants":{"access_level":"staff"}}`},
		{"unknown level", `{"name":"x","match":{"kind":"group","group_name":"x"},"grants":{"tickets_access":"owner"}}`},
		{"unknown field", `{"name":"x","colour":"blue"}`},
		{"malformed", `{"name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAdminHandlers(t)
			rec := httptest.NewRecorder()
			h.CreateRule(rec, adminRequest(http.MethodPost, "/api/admin/rules", tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestAdminHandlers_GetRule(t *testing.T) {
	h := newAdminHandlers(t)

	req := adminRequest(http.MethodGet, "/api/admin/rules/missing", "")
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.GetRule(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])

	id := ruleIDByName(t, h, "Finance")
	req = adminRequest(http.MethodGet, "/api/admin/rules/"+id, "")
	req.SetPathValue("id", id)
	rec = httptest.NewRecorder()
	h.GetRule(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Finance", decodeBody(t, rec)["name"])
}

func TestAdminHandlers_UpdateRule(t *testing.T) {
	h := newAdminHandlers(t)
	id := ruleIDByName(t, h, "All_Staff")

	put := func(id, body string) *httptest.ResponseRecorder {
		req := adminRequest(http.MethodPut, "/api/admin/rules/"+id, body)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()
		h.UpdateRule(rec, req)
		return rec
	}

	rec := put(id, `{"priority": 150}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.InDelta(t, 150, decodeBody(t, rec)["priority"], 0)

	rule, err := h.Rules.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 150, rule.Priority)

	rec = put(id, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = put(id, `{"name": "Finance"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = put("missing", `{"priority": 1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminHandlers_ListSessions(t *testing.T) {
	h := newAdminHandlers(t)
	lister := &fakeSessionLister{sessions: []domainauth.Session{{ID: "s1", UserID: "u1"}}}
	h.Sessions = lister

	rec := httptest.NewRecorder()
	h.ListSessions(rec, adminRequest(http.MethodGet, "/api/admin/sessions?user_id=u1&limit=9999&offset=5", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, lister.got.UserID)
	assert.Equal(t, "u1", *lister.got.UserID)
	assert.Equal(t, maxAdminListLimit, lister.got.Limit)
	assert.Equal(t, 5, lister.got.Offset)
	body := decodeBody(t, rec)
	assert.Len(t, body["sessions"], 1)
	assert.InDelta(t, maxAdminListLimit, body["limit"], 0)
}

func TestAdminHandlers_ListSessionsStoreUnavailable(t *testing.T) {
	h := newAdminHandlers(t)
	h.Sessions = &fakeSessionLister{err: fmt.Errorf("list sessions: %w: %w", service.ErrStoreUnavailable, errors.New("i/o timeout"))}

	rec := httptest.NewRecorder()
	h.ListSessions(rec, adminRequest(http.MethodGet, "/api/admin/sessions", ""))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unavailable", decodeBody(t, rec)["error"])
	assert.NotContains(t, rec.Body.String(), "i/o timeout")
}

func TestAdminHandlers_RevokeSession(t *testing.T) {
	h := newAdminHandlers(t)
	revoker := newFakeAuthService()
	h.Revoker = revoker

	revoke := func(id string) *httptest.ResponseRecorder {
		req := adminRequest(http.MethodDelete, "/api/admin/sessions/"+id, "")
		req.SetPathValue("id", id)
		req.Header.Set("X-Real-Ip", "198.51.100.7")
		rec := httptest.NewRecorder()
		h.RevokeSession(rec, req)
		return rec
	}

	rec := revoke("not-a-session-id")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "id", decodeBody(t, rec)["field"])
	assert.Empty(t, revoker.revoked)

	id := service.SessionID("victim-token")
	rec = revoke(id)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{id}, revoker.revoked)
	require.Len(t, revoker.actors, 1)
	assert.Equal(t, "admin-1", revoker.actors[0].UserID)
	assert.Equal(t, "198.51.100.7", revoker.actors[0].IPAddress)

	revoker.revokeErr = service.ErrStoreUnavailable
	rec = revoke(id)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminHandlers_ListAudit(t *testing.T) {
	h := newAdminHandlers(t)
	audit := &fakeAuditLister{entries: []*model.AuditEntry{{ID: "a1", Action: model.AuditActionLogin}}}
	h.Audit = audit

	rec := httptest.NewRecorder()
	h.ListAudit(rec, adminRequest(http.MethodGet,
		"/api/admin/audit?user_id=u1&action=logout&since=2026-10-01T00:00:00Z&limit=20", ""))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, audit.got.UserID)
	assert.Equal(t, "u1", *audit.got.UserID)
	require.NotNil(t, audit.got.Action)
	assert.Equal(t, model.AuditActionLogout, *audit.got.Action)
	require.NotNil(t, audit.got.Since)
	assert.True(t, audit.got.Since.Equal(time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 20, audit.got.Limit)
	assert.Len(t, decodeBody(t, rec)["entries"], 1)
}

func TestAdminHandlers_ListAuditRejectsBadFilters(t *testing.T) {
	tests := []struct {
		query string
		field string
	}{
		{"action=deleted_everything", "action"},
		{"since=yesterday", "since"},
		{"since=2026-10-01", "since"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			h := newAdminHandlers(t)
			rec := httptest.NewRecorder()
			h.ListAudit(rec, adminRequest(http.MethodGet, "/api/admin/audit?"+tt.query, ""))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.field, decodeBody(t, rec)["field"])
		})
	}
}
