package serverutil

import (
	"net/http"
	"strings"
)

// IsSecure reports whether the client reached us over HTTPS, either directly
// or through a proxy that sets X-Forwarded-Proto.
func IsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(firstValue(r.Header.Get("X-Forwarded-Proto")), "https")
}

// AddressFromRequest derives the externally visible scheme and host of the
// server from an incoming request.
func AddressFromRequest(r *http.Request) string {
	scheme := "http"
	if IsSecure(r) {
		scheme = "https"
	}
	host := firstValue(r.Header.Get("X-Forwarded-Host"))
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host
}

// AddressMiddleware stores the server address on the request context. A fixed
// public address wins over one derived from the request.
func AddressMiddleware(publicAddress string, next http.Handler) http.Handler {
	publicAddress = strings.TrimSuffix(publicAddress, "/")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := publicAddress
		if addr == "" {
			addr = AddressFromRequest(r)
		}
		next.ServeHTTP(w, r.WithContext(WithAddress(r.Context(), addr)))
	})
}

// BearerToken extracts the credential from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func firstValue(h string) string {
	v, _, _ := strings.Cut(h, ",")
	return strings.TrimSpace(v)
}
