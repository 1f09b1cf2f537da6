package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/domain/model"
	apperrors "github.com/ocs-portal/portal-auth/internal/errors"
	"github.com/ocs-portal/portal-auth/internal/service"
	"github.com/ocs-portal/portal-auth/internal/validation"
)

const (
	defaultAdminListLimit = 50
	maxAdminListLimit     = 500
)

// RuleAdmin manages permission rules.
type RuleAdmin interface {
	List(ctx context.Context) ([]domainauth.PermissionRule, error)
	Get(ctx context.Context, id string) (domainauth.PermissionRule, error)
	Create(ctx context.Context, req model.CreatePermissionRuleRequest, actor service.Actor) (domainauth.PermissionRule, error)
	Update(
		ctx context.Context,
		id string,
		req model.UpdatePermissionRuleRequest,
		actor service.Actor,
	) (domainauth.PermissionRule, error)
}

// SessionLister lists live sessions.
type SessionLister interface {
	List(ctx context.Context, opts model.SessionListOptions) ([]domainauth.Session, error)
}

// SessionRevoker revokes a session by ID with auditing.
type SessionRevoker interface {
	RevokeSession(ctx context.Context, id string, actor service.Actor) error
}

// AuditLister reads the audit log.
type AuditLister interface {
	List(ctx context.Context, opts model.AuditListOptions) ([]*model.AuditEntry, error)
}

// AdminHandlers serves the administrative API.
type AdminHandlers struct {
	Rules    RuleAdmin
	Sessions SessionLister
	Revoker  SessionRevoker
	Audit    AuditLister
	Logger   *slog.Logger
}

func (h *AdminHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// writeErr logs unexpected failures and writes the mapped response.
func (h *AdminHandlers) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrStoreUnavailable) {
		h.logger().ErrorContext(r.Context(), "session store unavailable", "path", r.URL.Path, "error", err)
		WriteError(w, ErrorParams{
			Code:    http.StatusServiceUnavailable,
			ErrCode: string(apperrors.ErrCodeUnavailable),
			Err:     errors.New("session store unavailable"),
		})
		return
	}
	if apperrors.GetCode(err) == "" || apperrors.GetCode(err) == apperrors.ErrCodeInternal {
		h.logger().ErrorContext(r.Context(), "admin request failed", "path", r.URL.Path, "error", err)
	}
	WriteAppError(w, err)
}

// ListRules handles GET /api/admin/rules.
func (h *AdminHandlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.Rules.List(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

// GetRule handles GET /api/admin/rules/{id}.
func (h *AdminHandlers) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.Rules.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

// CreateRule handles POST /api/admin/rules.
func (h *AdminHandlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePermissionRuleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	rule, err := h.Rules.Create(r.Context(), req, actorFromRequest(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /api/admin/rules/{id}.
func (h *AdminHandlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req model.UpdatePermissionRuleRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	rule, err := h.Rules.Update(r.Context(), r.PathValue("id"), req, actorFromRequest(r))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, rule)
}

// ListSessions handles GET /api/admin/sessions?user_id=&limit=&offset=.
func (h *AdminHandlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultAdminListLimit, maxAdminListLimit)
	opts := model.SessionListOptions{Limit: limit, Offset: offset}
	if uid := strings.TrimSpace(r.URL.Query().Get("user_id")); uid != "" {
		opts.UserID = &uid
	}

	sessions, err := h.Sessions.List(r.Context(), opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "limit": limit, "offset": offset})
}

// RevokeSession handles DELETE /api/admin/sessions/{id}.
func (h *AdminHandlers) RevokeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if msg, ok := validation.Var(id, "required,hexadecimal,len=64"); !ok {
		WriteAppError(w, apperrors.ValidationField("id", msg))
		return
	}
	if err := h.Revoker.RevokeSession(r.Context(), id, actorFromRequest(r)); err != nil {
		h.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListAudit handles GET /api/admin/audit?user_id=&action=&since=&limit=&offset=.
func (h *AdminHandlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	opts, err := parseAuditQuery(r)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	entries, err := h.Audit.List(r.Context(), opts)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries, "limit": opts.Limit, "offset": opts.Offset})
}

func parseAuditQuery(r *http.Request) (model.AuditListOptions, error) {
	q := r.URL.Query()
	limit, offset := ParseLimitOffset(r, defaultAdminListLimit, maxAdminListLimit)
	opts := model.AuditListOptions{Limit: limit, Offset: offset}

	if uid := strings.TrimSpace(q.Get("user_id")); uid != "" {
		opts.UserID = &uid
	}
	if raw := strings.TrimSpace(q.Get("action")); raw != "" {
		action := model.AuditAction(raw)
		if !action.Valid() {
			return opts, apperrors.ValidationField("action", "unknown audit action")
		}
		opts.Action = &action
	}
	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		if msg, ok := validation.Var(raw, "datetime="+time.RFC3339); !ok {
			return opts, apperrors.ValidationField("since", msg)
		}
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, apperrors.ValidationField("since", "since must be an RFC 3339 timestamp")
		}
		opts.Since = &since
	}
	return opts, nil
}
