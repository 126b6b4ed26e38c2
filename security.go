package medtracker

import (
	"fmt"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
	"google.golang.org/grpc/codes"
)

type XFramesOptions string

const (
	XFramesOptionsNone       XFramesOptions = ""
	XFramesOptionsDeny       XFramesOptions = "DENY"
	XFramesOptionsSameOrigin XFramesOptions = "SAMEORIGIN"
)

// ErrBadHSTSExpiration is returned when preload is requested with less than
// a year of HSTS.
var ErrBadHSTSExpiration = errors.NewC("medtracker: HSTS preload requires expiration of at least 1 year", codes.FailedPrecondition)

// SecurityHeaders contains the security headers that should be set on HTTP
// responses.
type SecurityHeaders struct {
	// X-Frame-Options controls whether the browser should allow the page to be
	// rendered in a frame or iframe.
	XFramesOptions XFramesOptions

	// Strict-Transport-Security (HSTS) tells the browser to always use HTTPS
	// when connecting to the site.
	HSTSExpiration        time.Duration
	HSTSIncludeSubdomains bool
	HSTSPreload           bool

	// Access-Control headers define which origins are allowed to access the
	// resource and what methods are allowed. The frontend runs on its own
	// origin and sends the refresh cookie, so credentials must be allowed for
	// it.
	CORSOrigins          []string
	CORSAllowMethods     []string
	CORSAllowHeaders     []string
	CORSExposeHeaders    []string
	CORSAllowCredentials bool
	CORSMaxAge           time.Duration

	// Precomputed fields.
	staticHeaders    map[string]string
	preflightHeaders map[string]string
	allowedOrigins   map[string]bool
	mu               sync.Mutex // Protects precomputed fields.
}

// Apply the security headers to the given response.
func (s *SecurityHeaders) Apply(w http.ResponseWriter, r *http.Request) error {
	if err := s.compute(); err != nil {
		return err
	}
	for k, v := range s.staticHeaders {
		w.Header().Set(k, v)
	}

	if len(s.CORSOrigins) > 0 {
		origin := r.Header.Get("Origin")
		if s.allowedOrigins[origin] {
			if isPreflight(r) {
				for k, v := range s.preflightHeaders {
					w.Header().Set(k, v)
				}
			} else {
				if len(s.CORSExposeHeaders) > 0 {
					w.Header().Set("Access-Control-Expose-Headers", strings.Join(s.CORSExposeHeaders, ", "))
				}
				if s.CORSAllowCredentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
	}

	return nil
}

func (s *SecurityHeaders) compute() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.staticHeaders != nil {
		return nil
	}
	s.normalizeHeaders(s.CORSAllowHeaders)
	s.normalizeHeaders(s.CORSExposeHeaders)

	static := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	if s.XFramesOptions != XFramesOptionsNone {
		static["X-Frame-Options"] = string(s.XFramesOptions)
	}

	if s.HSTSExpiration > 0 {
		h := fmt.Sprintf("max-age=%.0f", s.HSTSExpiration.Seconds())
		if s.HSTSIncludeSubdomains {
			h += "; includeSubDomains"
		}
		if s.HSTSPreload {
			if s.HSTSExpiration < time.Hour*24*365 {
				return ErrBadHSTSExpiration
			}
			h += "; preload"
		}
		static["Strict-Transport-Security"] = h
	}

	if len(s.CORSOrigins) > 0 {
		static["Vary"] = "Origin"

		preflight := map[string]string{
			"Access-Control-Allow-Methods": "GET, POST, PUT, DELETE, PATCH",
		}
		if len(s.CORSAllowMethods) > 0 {
			preflight["Access-Control-Allow-Methods"] = strings.Join(s.CORSAllowMethods, ", ")
		}
		if len(s.CORSAllowHeaders) > 0 {
			preflight["Access-Control-Allow-Headers"] = strings.Join(s.CORSAllowHeaders, ", ")
		}
		if s.CORSAllowCredentials {
			preflight["Access-Control-Allow-Credentials"] = "true"
		}
		if s.CORSMaxAge > 0 {
			preflight["Access-Control-Max-Age"] = fmt.Sprintf("%.0f", s.CORSMaxAge.Seconds())
		}

		s.allowedOrigins = map[string]bool{}
		for _, origin := range s.CORSOrigins {
			s.allowedOrigins[origin] = true
		}
		s.preflightHeaders = preflight
	}
	s.staticHeaders = static
	return nil
}

func (s *SecurityHeaders) normalizeHeaders(h []string) {
	for i, v := range h {
		h[i] = textproto.CanonicalMIMEHeaderKey(v)
	}
}

func isPreflight(r *http.Request) bool {
	return r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
}

// securityMiddleware applies the security headers and answers CORS preflight
// requests without reaching the wrapped handler.
func securityMiddleware(h http.Handler, s *SecurityHeaders) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.Apply(w, r); err != nil {
			WriteJSONError(w, r, err)
			return
		}
		if isPreflight(r) && r.Header.Get("Origin") != "" {
			logging.Track(r.Context(), "http.preflight", true)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}
