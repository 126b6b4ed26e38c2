package auth

import (
	"net/http"
	"time"

	"github.com/medtracker/medtracker/serverutil"
)

// Refresh cookie settings. The cookie is only sent to the auth endpoints.
const (
	RefreshCookieName = "refresh_token"
	RefreshCookiePath = "/api/auth"
)

// Lifetimes of the refresh cookie.
const (
	DefaultRefreshTTL    = 24 * time.Hour
	RememberMeRefreshTTL = 30 * 24 * time.Hour
	RotatedRefreshTTL    = 30 * 24 * time.Hour
)

// RefreshCookie describes the refresh cookie a response should carry. A
// non-positive TTL clears it.
type RefreshCookie struct {
	Value string
	TTL   time.Duration
}

// HTTPCookie renders the cookie for a response to r. Secure is set whenever
// the request arrived over HTTPS, directly or through a proxy.
func (c RefreshCookie) HTTPCookie(r *http.Request, now time.Time) *http.Cookie {
	hc := &http.Cookie{
		Name:     RefreshCookieName,
		Value:    c.Value,
		Path:     RefreshCookiePath,
		HttpOnly: true,
		Secure:   serverutil.IsSecure(r),
		SameSite: http.SameSiteLaxMode,
	}
	if c.TTL <= 0 {
		hc.Value = ""
		hc.MaxAge = -1
		hc.Expires = time.Unix(0, 0)
		return hc
	}
	hc.MaxAge = int(c.TTL / time.Second)
	hc.Expires = now.Add(c.TTL)
	return hc
}

func refreshTokenFromRequest(r *http.Request) string {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}
