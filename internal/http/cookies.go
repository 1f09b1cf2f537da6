package httpx

import (
	"net/http"
	"time"
)

const (
	// DefaultSessionCookieName is the session cookie used when none is configured.
	DefaultSessionCookieName = "session_token"

	oauthStateCookie    = "oauth_state"
	oauthNonceCookie    = "oauth_nonce"
	postLoginCookie     = "post_login_redirect"
	oauthCookieLifetime = 10 * time.Minute
)

// CookieSettings holds the attributes applied to every cookie the service sets.
type CookieSettings struct {
	SessionName string
	Domain      string
	// Secure forces the Secure attribute. Requests arriving over TLS (or
	// forwarded as https) always get it.
	Secure bool
}

func (c CookieSettings) withDefaults() CookieSettings {
	if c.SessionName == "" {
		c.SessionName = DefaultSessionCookieName
	}
	return c
}

func (c CookieSettings) set(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure || isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(maxAge.Seconds()),
	})
}

// clear expires a cookie, mirroring the attributes used when setting it so
// browsers match and delete it.
func (c CookieSettings) clear(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure || isHTTPS(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
	})
}
