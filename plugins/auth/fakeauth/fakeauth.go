// Package fakeauth provides an identity provider that signs everyone in as a
// fixed user, for local development and integration tests.
//
// The consent step is skipped: the authorization URL points straight back at
// the callback with a one-time code, so the full login, refresh and logout
// flow runs without Google credentials.
//
//	auth.Plugin(auth.WithProvider(fakeauth.New()))
package fakeauth

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/plugins/auth"
	"github.com/medtracker/medtracker/plugins/auth/google"
	"google.golang.org/grpc/codes"
)

// Default identity values.
const (
	defaultID    = "fake-user-123"
	defaultEmail = "fake-user@example.com"
	defaultName  = "Fake User"
)

// How long fake access tokens claim to be valid.
const accessTokenLifetime = time.Hour

// Option configures a Provider.
type Option func(*Provider)

// WithIdentity sets the user everyone signs in as.
func WithIdentity(id auth.Identity) Option {
	return func(p *Provider) {
		p.identity = id
	}
}

// WithIdentityValidator rejects code exchanges for which validator returns an
// error, which surfaces as a failed callback.
func WithIdentityValidator(validator IdentityValidator) Option {
	return func(p *Provider) {
		p.validator = validator
	}
}

// WithDeniedConsent makes the authorization URL return access_denied, as when
// the user cancels on the consent screen.
func WithDeniedConsent() Option {
	return func(p *Provider) {
		p.deny = true
	}
}

// IdentityValidator inspects the identity about to be signed in.
type IdentityValidator func(ctx context.Context, id auth.Identity) error

// New returns a fake provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		identity: auth.Identity{ID: defaultID, Email: defaultEmail, Name: defaultName},
		codes:    map[string]bool{},
		access:   map[string]bool{},
		refresh:  map[string]bool{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Provider implements auth.Provider in memory.
type Provider struct {
	identity  auth.Identity
	validator IdentityValidator
	deny      bool
	now       func() time.Time

	mu      sync.Mutex
	codes   map[string]bool
	access  map[string]bool
	refresh map[string]bool
}

var _ auth.Provider = (*Provider)(nil)

func (p *Provider) Configured() bool { return true }

// AuthCodeURL returns the callback itself, carrying a fresh code and state.
func (p *Provider) AuthCodeURL(redirectURI, state string) string {
	q := url.Values{"state": {state}}
	if p.deny {
		q.Set("error", "access_denied")
	} else {
		code := uuid.NewString()
		p.mu.Lock()
		p.codes[code] = true
		p.mu.Unlock()
		q.Set("code", code)
	}
	return redirectURI + "?" + q.Encode()
}

// Exchange redeems a code issued by AuthCodeURL. Codes work once.
func (p *Provider) Exchange(ctx context.Context, code, _ string) (*google.Token, error) {
	p.mu.Lock()
	ok := p.codes[code]
	delete(p.codes, code)
	p.mu.Unlock()
	if !ok {
		return nil, errors.Codef(codes.InvalidArgument, "fakeauth: unknown authorization code")
	}
	if p.validator != nil {
		if err := p.validator(ctx, p.identity); err != nil {
			return nil, err
		}
	}
	return p.issue(uuid.NewString()), nil
}

// RefreshToken issues a new access token. The refresh token is rotated, the
// way Google sometimes does.
func (p *Provider) RefreshToken(_ context.Context, refreshToken string) (*google.Token, error) {
	p.mu.Lock()
	ok := p.refresh[refreshToken]
	delete(p.refresh, refreshToken)
	p.mu.Unlock()
	if !ok {
		return nil, errors.Codef(codes.Unauthenticated, "fakeauth: unknown refresh token")
	}
	return p.issue(uuid.NewString()), nil
}

func (p *Provider) FetchProfile(_ context.Context, accessToken string) (auth.Identity, error) {
	p.mu.Lock()
	ok := p.access[accessToken]
	p.mu.Unlock()
	if !ok {
		return auth.Identity{}, errors.Codef(codes.Unauthenticated, "fakeauth: unknown access token")
	}
	return p.identity, nil
}

func (p *Provider) issue(refreshToken string) *google.Token {
	t := &google.Token{
		AccessToken:  uuid.NewString(),
		RefreshToken: refreshToken,
		Expiry:       p.now().Add(accessTokenLifetime),
	}
	p.mu.Lock()
	p.access[t.AccessToken] = true
	p.refresh[t.RefreshToken] = true
	p.mu.Unlock()
	return t
}
