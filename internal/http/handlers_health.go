package httpx

import (
	"io"
	"net/http"
)

const healthResponse = `{"status":"ok"}`

// healthHandler returns a simple 200 OK status for readiness/liveness checks.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.WriteString(w, healthResponse); err != nil {
		// Nothing more to do if the client connection is gone.
		return
	}
}

// landingHandler describes the service and the caller's authentication state.
func landingHandler(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"service":       "portal-auth",
		"authenticated": false,
		"login_url":     DefaultLoginPath,
	}
	if p, ok := PrincipalFromContext(r.Context()); ok {
		body["authenticated"] = true
		body["user"] = statusUser{ID: p.UserID, Email: p.Email, DisplayName: p.DisplayName}
	}
	WriteJSON(w, http.StatusOK, body)
}
