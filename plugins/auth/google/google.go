// Package google talks to Google's OAuth2 endpoints on behalf of the auth
// plugin: it builds the consent URL, exchanges authorization codes, redeems
// refresh tokens and fetches the user's profile.
//
// Calls are never retried. Each call is bounded by a timeout, and a timeout is
// reported like any other provider failure.
//
// ## Configuring Google OAuth App
//
// Follow the official steps here: https://support.google.com/cloud/answer/6158849
//
// For development the Authorized redirect URIs should be set to:
// http://localhost:8000/api/auth/callback
//
// In production switch out the protocol, host, and port with your domain, or
// set `server.publicAddress`.
package google

import (
	"context"
	"net/http"
	"time"

	"github.com/medtracker/medtracker"
	"github.com/medtracker/medtracker/internal/config"
	"github.com/medtracker/medtracker/logging"
	"github.com/medtracker/medtracker/plugins/auth/session"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// DefaultTimeout bounds each call to Google when `auth.google.timeout` is not
// set.
const DefaultTimeout = 10 * time.Second

// Scopes requested at login.
var Scopes = []string{"openid", "email", "profile"}

func init() {
	medtracker.RegisterConfigKeys(
		medtracker.ConfigKeyInfo{
			Key:         "auth.google.clientId",
			Description: "Google OAuth2 client ID",
			Type:        "string",
		},
		medtracker.ConfigKeyInfo{
			Key:         "auth.google.clientSecret",
			Description: "Google OAuth2 client secret",
			Type:        "string",
			Secret:      true,
		},
		medtracker.ConfigKeyInfo{
			Key:         "auth.google.timeout",
			Description: "Timeout applied to each call to Google",
			Type:        "duration",
			Default:     DefaultTimeout.String(),
		},
	)
}

// Token is the part of Google's token response the auth service needs.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithCredentials sets the OAuth client id and secret.
//
// Config keys: `auth.google.clientId`, `auth.google.clientSecret`.
func WithCredentials(id, secret string) Option {
	return func(c *Client) {
		c.clientID = id
		c.clientSecret = secret
	}
}

// WithEndpoint points the client at a different authorization server.
func WithEndpoint(authURL, tokenURL string) Option {
	return func(c *Client) {
		c.endpoint = oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}
}

// WithUserInfoEndpoint sets the base URL of the userinfo API. The request path
// "oauth2/v2/userinfo" is resolved against it.
func WithUserInfoEndpoint(baseURL string) Option {
	return func(c *Client) {
		c.userInfoEndpoint = baseURL
	}
}

// WithTimeout bounds each call to Google.
//
// Config key: `auth.google.timeout`.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient replaces the HTTP client used for outbound calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New returns a client configured from `auth.google.*` config keys, overridden
// by opts.
func New(opts ...Option) *Client {
	c := &Client{
		clientID:     medtracker.Config.String("auth.google.clientId"),
		clientSecret: medtracker.Config.String("auth.google.clientSecret"),
		timeout:      medtracker.Config.Duration("auth.google.timeout"),
		endpoint:     google.Endpoint,
		httpClient:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Client calls Google's OAuth2 and userinfo endpoints. It holds no per-user
// state and is safe for concurrent use.
type Client struct {
	clientID         string
	clientSecret     string
	endpoint         oauth2.Endpoint
	userInfoEndpoint string
	timeout          time.Duration
	httpClient       *http.Client
}

// Configured reports whether real client credentials are present, as opposed
// to empty or placeholder values such as YOUR_GOOGLE_CLIENT_ID.
func (c *Client) Configured() bool {
	return !config.IsPlaceholder(c.clientID) && !config.IsPlaceholder(c.clientSecret)
}

// AuthCodeURL returns the consent page URL. Offline access and a forced consent
// prompt make Google issue a refresh token on every login.
func (c *Client) AuthCodeURL(redirectURI, state string) string {
	return c.oauthConfig(redirectURI).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code, redirectURI string) (*Token, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	logging.Infow(ctx, "google: starting token exchange", "redirect_uri", redirectURI)
	tok, err := c.oauthConfig(redirectURI).Exchange(ctx, code)
	if err != nil {
		return nil, c.tokenError(ctx, "exchange", err)
	}
	logging.Info(ctx, "google: token exchange completed")
	return fromOAuth2(tok), nil
}

// RefreshToken redeems a refresh token for a new access token. Google usually
// omits the refresh token from the response, in which case the one passed in
// is returned.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	src := c.oauthConfig("").TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, c.tokenError(ctx, "refresh", err)
	}
	logging.Info(ctx, "google: token refresh completed")
	return fromOAuth2(tok), nil
}

// FetchProfile loads the user's identity with an access token.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (session.Identity, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	opts := []option.ClientOption{
		option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
		}))),
	}
	if c.userInfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(c.userInfoEndpoint))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return session.Identity{}, &ProfileFetchError{Err: err}
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return session.Identity{}, c.profileError(ctx, err)
	}
	if info.Id == "" || info.Email == "" {
		logging.Warnw(ctx, "google: profile missing id or email", "id", info.Id)
		return session.Identity{}, &ProfileFetchError{StatusCode: info.HTTPStatusCode, Err: errIncompleteProfile}
	}
	return session.Identity{
		ID:      info.Id,
		Email:   info.Email,
		Name:    info.Name,
		Picture: info.Picture,
	}, nil
}

func (c *Client) oauthConfig(redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     c.endpoint,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
	}
}

// callContext applies the timeout and routes oauth2's requests through our
// HTTP client.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return context.WithTimeout(ctx, c.timeout)
}

func fromOAuth2(t *oauth2.Token) *Token {
	return &Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}
