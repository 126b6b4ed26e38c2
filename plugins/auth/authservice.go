package auth

import (
	"context"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
	"github.com/medtracker/medtracker/plugins/auth/google"
	"github.com/medtracker/medtracker/plugins/auth/session"
	"github.com/medtracker/medtracker/plugins/eventbus"
	"github.com/medtracker/medtracker/serverutil"
)

// DefaultReturnURL is where the frontend lands after login when no usable
// return URL was supplied.
const DefaultReturnURL = "/dashboard"

// CallbackPath is the route Google redirects back to.
const CallbackPath = "/api/auth/callback"

// Longest error code kept from a failed callback.
const maxReasonLength = 64

// Provider is the identity provider the service signs users in with.
// *google.Client satisfies it.
type Provider interface {
	Configured() bool
	AuthCodeURL(redirectURI, state string) string
	Exchange(ctx context.Context, code, redirectURI string) (*google.Token, error)
	RefreshToken(ctx context.Context, refreshToken string) (*google.Token, error)
	FetchProfile(ctx context.Context, accessToken string) (Identity, error)
}

// CallbackParams are the query parameters of the provider redirect.
type CallbackParams struct {
	Code  string
	Error string
	State string
}

// CallbackResult says where to send the browser after the callback. Cookie and
// Identity are only set on success; Err is only set on failure.
type CallbackResult struct {
	RedirectURL string
	Cookie      *RefreshCookie
	Identity    *Identity
	Err         error
}

// RefreshResult carries a freshly minted session credential.
type RefreshResult struct {
	AccessToken string
	Identity    Identity
	Cookie      RefreshCookie
}

// Service implements the login, callback, refresh and logout operations.
// It holds no per-user state.
type Service struct {
	provider    Provider
	codec       *session.Codec
	states      *stateSigner
	sessionTTL  time.Duration
	frontendURL string
	now         func() time.Time

	bus      eventbus.EventBus
	activity ActivityLog
}

// NewService returns a service that signs credentials and login state with
// keys derived from signingKey.
func NewService(provider Provider, signingKey string, sessionTTL time.Duration, frontendURL string, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Service{
		provider:    provider,
		codec:       session.NewCodec(deriveKey([]byte(signingKey), sessionKeyInfo), session.WithClock(now)),
		states:      &stateSigner{key: deriveKey([]byte(signingKey), stateKeyInfo), now: now},
		sessionTTL:  sessionTTL,
		frontendURL: strings.TrimSuffix(frontendURL, "/"),
		now:         now,
	}
}

// InitiateLogin returns the provider consent URL. The redirect URI is built
// from the server address carried by ctx.
func (s *Service) InitiateLogin(ctx context.Context, returnURL string, rememberMe bool) (string, error) {
	if !s.provider.Configured() {
		logging.Error(ctx, "auth: google client id or secret is not configured")
		return "", errors.Mark(ErrConfiguration, 0)
	}
	state := s.states.sign(loginIntent{
		ReturnURL:  s.sanitizeReturnURL(returnURL),
		RememberMe: rememberMe,
	})
	return s.provider.AuthCodeURL(redirectURI(ctx), state), nil
}

// HandleCallback completes a login. It always produces a redirect: to the
// return URL with the new credential, or to the frontend's login page with a
// short error code.
func (s *Service) HandleCallback(ctx context.Context, p CallbackParams) CallbackResult {
	if p.Error != "" {
		// The provider already said no, so it is not called again.
		reason := truncateReason(p.Error)
		return s.callbackFailure(ctx, reason, errors.Mark(ErrOAuthDenied, 0).Append(reason))
	}
	if p.Code == "" {
		return s.callbackFailure(ctx, CallbackErrorNoCode, errors.Mark(ErrMissingCode, 0))
	}
	intent, err := s.states.parse(p.State)
	if err != nil {
		return s.callbackFailure(ctx, CallbackErrorInvalidState, err)
	}
	if !s.provider.Configured() {
		return s.callbackFailure(ctx, CallbackErrorGeneric, errors.Mark(ErrConfiguration, 0))
	}

	tok, err := s.provider.Exchange(ctx, p.Code, redirectURI(ctx))
	if err != nil {
		return s.callbackFailure(ctx, CallbackErrorGeneric, err)
	}
	if tok.RefreshToken == "" {
		return s.callbackFailure(ctx, CallbackErrorGeneric,
			errors.New("auth: provider did not return a refresh token"))
	}
	id, err := s.provider.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		return s.callbackFailure(ctx, CallbackErrorGeneric, err)
	}
	credential, err := s.codec.Encode(id, s.sessionTTL)
	if err != nil {
		return s.callbackFailure(ctx, CallbackErrorGeneric, err)
	}

	ttl := DefaultRefreshTTL
	if intent.RememberMe {
		ttl = RememberMeRefreshTTL
	}
	logging.Track(ctx, "auth.subject", id.ID)
	logging.Infow(ctx, "auth: user signed in", "rememberMe", intent.RememberMe)
	s.publish(LoginEvent, Event{Subject: id.ID, Email: id.Email, RememberMe: intent.RememberMe})

	return CallbackResult{
		RedirectURL: s.frontendRedirect(intent.ReturnURL, url.Values{"token": {credential}}),
		Cookie:      &RefreshCookie{Value: tok.RefreshToken, TTL: ttl},
		Identity:    &id,
	}
}

func (s *Service) callbackFailure(ctx context.Context, code string, err error) CallbackResult {
	logging.Warnw(ctx, "auth: login failed", "reason", code, "error", err)
	s.publish(LoginFailedEvent, Event{Reason: code})
	return CallbackResult{
		RedirectURL: s.frontendRedirect("/login", url.Values{"error": {code}}),
		Err:         err,
	}
}

// truncateReason bounds an error code taken from the callback query, which
// ends up in redirects, logs and the audit table. Multi-byte runes are not
// split.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	cut := maxReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// Refresh redeems a refresh token for a new session credential. Every failure
// is reported as ErrUnauthenticated; the cause is logged.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, errors.Mark(ErrUnauthenticated, 0).Append("no refresh token")
	}
	if !s.provider.Configured() {
		logging.Error(ctx, "auth: google client id or secret is not configured")
		return nil, errors.Mark(ErrUnauthenticated, 0).Append("provider not configured")
	}
	tok, err := s.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		logging.Warnw(ctx, "auth: refresh rejected", "error", err)
		return nil, errors.Mark(ErrUnauthenticated, 0).Append("refresh token rejected")
	}
	id, err := s.provider.FetchProfile(ctx, tok.AccessToken)
	if err != nil {
		logging.Warnw(ctx, "auth: profile lookup failed during refresh", "error", err)
		return nil, errors.Mark(ErrUnauthenticated, 0).Append("profile unavailable")
	}
	credential, err := s.codec.Encode(id, s.sessionTTL)
	if err != nil {
		return nil, errors.Mark(ErrUnauthenticated, 0).Append(err.Error())
	}

	next := tok.RefreshToken
	if next == "" {
		next = refreshToken
	}
	logging.Track(ctx, "auth.subject", id.ID)
	s.publish(RefreshEvent, Event{Subject: id.ID, Email: id.Email})

	return &RefreshResult{
		AccessToken: credential,
		Identity:    id,
		Cookie:      RefreshCookie{Value: next, TTL: RotatedRefreshTTL},
	}, nil
}

// Validate checks a session credential and returns the identity it carries.
func (s *Service) Validate(credential string) (Identity, error) {
	c, err := s.codec.Decode(credential)
	if err != nil {
		return Identity{}, err
	}
	return c.Identity, nil
}

// Logout returns the cookie that clears the refresh token. The credential is
// optional and only used to attribute the event.
func (s *Service) Logout(ctx context.Context, credential string) RefreshCookie {
	e := Event{}
	if id, err := s.Validate(credential); err == nil {
		e.Subject = id.ID
		e.Email = id.Email
		logging.Track(ctx, "auth.subject", id.ID)
	}
	s.publish(LogoutEvent, e)
	return RefreshCookie{}
}

// Activity returns the user's recent auth events. Without an activity log the
// list is empty.
func (s *Service) Activity(ctx context.Context, subject string, limit int) ([]Event, error) {
	if s.activity == nil {
		return []Event{}, nil
	}
	return s.activity.Recent(ctx, subject, limit)
}

func (s *Service) publish(topic string, e Event) {
	if s.bus == nil {
		return
	}
	e.ID = uuid.NewString()
	e.Type = topic
	e.OccurredAt = s.now()
	s.bus.Publish(topic, e)
}

// sanitizeReturnURL only accepts paths on the frontend. Absolute URLs are
// accepted when they point at the frontend itself.
func (s *Service) sanitizeReturnURL(raw string) string {
	if raw == "" || strings.Contains(raw, `\`) {
		return DefaultReturnURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return DefaultReturnURL
	}
	if u.Scheme != "" || u.Host != "" {
		front, err := url.Parse(s.frontendURL)
		if err != nil || !strings.EqualFold(u.Scheme, front.Scheme) || !strings.EqualFold(u.Host, front.Host) {
			return DefaultReturnURL
		}
		raw = u.RequestURI()
		if u.Fragment != "" {
			raw += "#" + u.Fragment
		}
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return DefaultReturnURL
	}
	return raw
}

// frontendRedirect joins path onto the frontend URL and merges query into any
// query the path already has.
func (s *Service) frontendRedirect(path string, query url.Values) string {
	u, err := url.Parse(s.frontendURL + path)
	if err != nil {
		u, _ = url.Parse(s.frontendURL + DefaultReturnURL)
	}
	q := u.Query()
	for k, vs := range query {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func redirectURI(ctx context.Context) string {
	return serverutil.AddressFromContext(ctx) + CallbackPath
}
