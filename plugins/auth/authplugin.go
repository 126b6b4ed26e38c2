package auth

import (
	"context"
	"time"

	"github.com/medtracker/medtracker"
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
	"github.com/medtracker/medtracker/plugins/auth/google"
	"github.com/medtracker/medtracker/plugins/eventbus"
)

// Constant name for identifying the auth plugin.
const PluginName = "auth"

// Name of the audit plugin, looked up for the activity endpoint.
const auditPluginName = "audit"

// AuthOption configures the auth plugin.
type AuthOption func(*AuthPlugin)

// WithProvider overrides the identity provider. Defaults to a Google client
// built from config.
func WithProvider(p Provider) AuthOption {
	return func(ap *AuthPlugin) {
		ap.provider = p
	}
}

// WithSigningKey sets the secret that session credentials and login state are
// signed with.
//
// Config key: `auth.signingKey`.
func WithSigningKey(key string) AuthOption {
	return func(ap *AuthPlugin) {
		ap.signingKey = key
	}
}

// WithSessionTTL sets how long session credentials are valid.
//
// Config key: `auth.sessionTtl`.
func WithSessionTTL(d time.Duration) AuthOption {
	return func(ap *AuthPlugin) {
		ap.sessionTTL = d
	}
}

// WithFrontendURL sets the base URL the browser is sent back to.
//
// Config key: `frontendUrl`.
func WithFrontendURL(u string) AuthOption {
	return func(ap *AuthPlugin) {
		ap.frontendURL = u
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) AuthOption {
	return func(ap *AuthPlugin) {
		ap.now = now
	}
}

// Plugin returns a new AuthPlugin.
func Plugin(opts ...AuthOption) *AuthPlugin {
	ap := &AuthPlugin{
		signingKey:  medtracker.ConfigString("auth.signingKey"),
		sessionTTL:  medtracker.ConfigDuration("auth.sessionTtl"),
		frontendURL: medtracker.ConfigString("frontendUrl"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(ap)
	}
	if ap.provider == nil {
		ap.provider = google.New()
	}
	if ap.signingKey == "" {
		ap.signingKey = randomSigningKey()
		ap.ephemeralKey = true
	}
	ap.service = NewService(ap.provider, ap.signingKey, ap.sessionTTL, ap.frontendURL, ap.now)
	return ap
}

// AuthPlugin exposes the login, callback, refresh, logout and identity
// endpoints under /api/auth.
type AuthPlugin struct {
	provider     Provider
	signingKey   string
	ephemeralKey bool
	sessionTTL   time.Duration
	frontendURL  string
	now          func() time.Time

	service *Service
}

// From medtracker.Plugin.
func (ap *AuthPlugin) Name() string {
	return PluginName
}

// From medtracker.OptionalDependentPlugin.
func (ap *AuthPlugin) OptDeps() []string {
	return []string{eventbus.PluginName, auditPluginName}
}

// From medtracker.OptionProvider.
func (ap *AuthPlugin) ServerOptions() []medtracker.ServerOption {
	return []medtracker.ServerOption{
		medtracker.WithHTTPHandlerFunc("GET /api/auth/login", ap.loginHandler),
		medtracker.WithHTTPHandlerFunc("GET "+CallbackPath, ap.callbackHandler),
		medtracker.WithHTTPHandlerFunc("POST /api/auth/refresh", ap.refreshHandler),
		medtracker.WithHTTPHandlerFunc("POST /api/auth/logout", ap.logoutHandler),
		medtracker.WithJSONHandler("GET /api/auth/me", ap.meHandler),
		medtracker.WithJSONHandler("GET /api/auth/activity", ap.activityHandler),
	}
}

// From medtracker.InitializablePlugin.
func (ap *AuthPlugin) Init(ctx context.Context, r *medtracker.Registry) error {
	if ap.ephemeralKey {
		logging.Warnw(ctx, "auth: no signing key configured, sessions will not survive a restart")
	}
	if !ap.provider.Configured() {
		logging.Warnw(ctx, "auth: google client id or secret is not configured, login is disabled")
	}
	if p, ok := r.Get(eventbus.PluginName).(*eventbus.EventBusPlugin); ok {
		ap.service.bus = p
	}
	if p := r.Get(auditPluginName); p != nil {
		log, ok := p.(ActivityLog)
		if !ok {
			return errors.Errorf("auth: %s plugin does not provide an activity log", auditPluginName)
		}
		ap.service.activity = log
	}
	return nil
}

// Service returns the service behind the endpoints.
func (ap *AuthPlugin) Service() *Service {
	return ap.service
}
