package httpx

import (
	"net/http"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	apperrors "github.com/ocs-portal/portal-auth/internal/errors"
)

// Whoami returns the principal carried by the caller's trust token.
// GET /internal/v1/whoami.
func Whoami(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeInvalidTrustToken(w)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// CheckPermission reports whether the trust token grants a category level.
// The check is strict: the portal-wide admin override does not apply.
// GET /internal/v1/check?category=&level=.
func CheckPermission(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		writeInvalidTrustToken(w)
		return
	}

	q := r.URL.Query()
	category, ok := domainauth.ParseCategory(q.Get("category"))
	if !ok {
		WriteAppError(w, apperrors.ValidationField("category", "unknown permission category"))
		return
	}
	level, err := domainauth.ParseAccessLevel(q.Get("level"))
	if err != nil {
		WriteAppError(w, apperrors.ValidationField("level", err.Error()))
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":  p.UserID,
		"category": category,
		"level":    level,
		"allowed":  domainauth.HasPermission(p.Permissions, category, level),
	})
}
