package auth

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/plugins/auth/google"
	"github.com/medtracker/medtracker/plugins/eventbus"
	"github.com/medtracker/medtracker/serverutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFrontend = "http://localhost:55555"

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeProvider struct {
	mu         sync.Mutex
	configured bool
	calls      []string

	token       *google.Token
	exchangeErr error
	refreshed   *google.Token
	refreshErr  error
	profile     Identity
	profileErr  error

	redirectURI string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		configured: true,
		token:      &google.Token{AccessToken: "at-1", RefreshToken: "rt-1"},
		refreshed:  &google.Token{AccessToken: "at-2", RefreshToken: "rt-2"},
		profile:    Identity{ID: "42", Email: "a@b.com", Name: "Ada"},
	}
}

func (p *fakeProvider) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) Configured() bool { return p.configured }

func (p *fakeProvider) AuthCodeURL(redirectURI, state string) string {
	return "https://accounts.example/auth?" + url.Values{
		"redirect_uri": {redirectURI},
		"state":        {state},
	}.Encode()
}

func (p *fakeProvider) Exchange(ctx context.Context, code, redirectURI string) (*google.Token, error) {
	p.record("exchange")
	p.redirectURI = redirectURI
	return p.token, p.exchangeErr
}

func (p *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*google.Token, error) {
	p.record("refresh")
	return p.refreshed, p.refreshErr
}

func (p *fakeProvider) FetchProfile(ctx context.Context, accessToken string) (Identity, error) {
	p.record("profile")
	return p.profile, p.profileErr
}

func newTestService(p Provider) (*Service, *clock) {
	clk := newClock()
	return NewService(p, "test-signing-key", time.Hour, testFrontend, clk.Now), clk
}

func testContext() context.Context {
	return serverutil.WithAddress(context.Background(), "http://localhost:8000")
}

// stateFrom extracts the state parameter from a consent URL.
func stateFrom(t *testing.T, consentURL string) string {
	u, err := url.Parse(consentURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func login(t *testing.T, s *Service, returnURL string, rememberMe bool) string {
	dest, err := s.InitiateLogin(testContext(), returnURL, rememberMe)
	require.NoError(t, err)
	return stateFrom(t, dest)
}

func TestInitiateLogin(t *testing.T) {
	p := newFakeProvider()
	s, _ := newTestService(p)

	dest, err := s.InitiateLogin(testContext(), "/medications", true)
	require.NoError(t, err)

	u, err := url.Parse(dest)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/api/auth/callback", u.Query().Get("redirect_uri"))

	in, err := s.states.parse(u.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "/medications", in.ReturnURL)
	assert.True(t, in.RememberMe)
	assert.Empty(t, p.Calls(), "login should not call the provider")
}

func TestInitiateLogin_NotConfigured(t *testing.T) {
	p := newFakeProvider()
	p.configured = false
	s, _ := newTestService(p)

	_, err := s.InitiateLogin(testContext(), "/dashboard", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.Equal(t, 400, errors.HTTPStatusCode(err))
	assert.Equal(t, "oauth_not_configured", errors.PublicMessage(err))
}

func TestSanitizeReturnURL(t *testing.T) {
	s, _ := newTestService(newFakeProvider())

	tests := []struct {
		in   string
		want string
	}{
		{"", "/dashboard"},
		{"/medications", "/medications"},
		{"/medications?tab=2", "/medications?tab=2"},
		{"//evil.example/x", "/dashboard"},
		{"/\\evil.example", "/dashboard"},
		{"https://evil.example/dashboard", "/dashboard"},
		{"javascript:alert(1)", "/dashboard"},
		{"relative/path", "/dashboard"},
		{"http://localhost:55555/reports?week=3", "/reports?week=3"},
		{"http://localhost:55556/reports", "/dashboard"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, s.sanitizeReturnURL(tc.in))
		})
	}
}

func TestHandleCallback_Success(t *testing.T) {
	tests := []struct {
		name       string
		rememberMe bool
		wantTTL    time.Duration
	}{
		{"remember me", true, 30 * 24 * time.Hour},
		{"session only", false, 24 * time.Hour},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakeProvider()
			s, _ := newTestService(p)
			state := login(t, s, "/dashboard", tc.rememberMe)

			res := s.HandleCallback(testContext(), CallbackParams{Code: "abc", State: state})
			require.NoError(t, res.Err)
			assert.Equal(t, []string{"exchange", "profile"}, p.Calls())
			assert.Equal(t, "http://localhost:8000/api/auth/callback", p.redirectURI)

			u, err := url.Parse(res.RedirectURL)
			require.NoError(t, err)
			assert.Equal(t, "localhost:55555", u.Host)
			assert.Equal(t, "/dashboard", u.Path)

			id, err := s.Validate(u.Query().Get("token"))
			require.NoError(t, err)
			assert.Equal(t, "42", id.ID)
			assert.Equal(t, "a@b.com", id.Email)

			require.NotNil(t, res.Cookie)
			assert.Equal(t, "rt-1", res.Cookie.Value)
			assert.Equal(t, tc.wantTTL, res.Cookie.TTL)
			require.NotNil(t, res.Identity)
			assert.Equal(t, "42", res.Identity.ID)
		})
	}
}

func TestHandleCallback_KeepsReturnQuery(t *testing.T) {
	s, _ := newTestService(newFakeProvider())
	state := login(t, s, "/reports?week=3", false)

	res := s.HandleCallback(testContext(), CallbackParams{Code: "abc", State: state})
	require.NoError(t, res.Err)

	u, err := url.Parse(res.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/reports", u.Path)
	assert.Equal(t, "3", u.Query().Get("week"))
	assert.NotEmpty(t, u.Query().Get("token"))
}

func TestHandleCallback_Failures(t *testing.T) {
	tests := []struct {
		name      string
		params    func(state string) CallbackParams
		setup     func(p *fakeProvider)
		wantError string
		wantCalls []string
		wantErr   error
	}{
		{
			name:      "provider error",
			params:    func(state string) CallbackParams { return CallbackParams{Error: "access_denied", State: state} },
			wantError: "access_denied",
			wantErr:   ErrOAuthDenied,
		},
		{
			name: "provider error with code",
			params: func(state string) CallbackParams {
				return CallbackParams{Error: "server_error", Code: "abc", State: state}
			},
			wantError: "server_error",
			wantErr:   ErrOAuthDenied,
		},
		{
			name: "oversized provider error",
			params: func(state string) CallbackParams {
				return CallbackParams{Error: strings.Repeat("x", 10_000), State: state}
			},
			wantError: strings.Repeat("x", 64),
			wantErr:   ErrOAuthDenied,
		},
		{
			name:      "missing code",
			params:    func(state string) CallbackParams { return CallbackParams{State: state} },
			wantError: "no_code",
			wantErr:   ErrMissingCode,
		},
		{
			name:      "missing state",
			params:    func(string) CallbackParams { return CallbackParams{Code: "abc"} },
			wantError: "invalid_state",
			wantErr:   ErrInvalidState,
		},
		{
			name:      "forged state",
			params:    func(string) CallbackParams { return CallbackParams{Code: "abc", State: "eyJyIjoiLyJ9.AAAA"} },
			wantError: "invalid_state",
			wantErr:   ErrInvalidState,
		},
		{
			name:      "exchange fails",
			params:    func(state string) CallbackParams { return CallbackParams{Code: "abc", State: state} },
			setup:     func(p *fakeProvider) { p.exchangeErr = &google.TokenExchangeError{StatusCode: 400} },
			wantError: "callback_error",
			wantCalls: []string{"exchange"},
		},
		{
			name:      "no refresh token",
			params:    func(state string) CallbackParams { return CallbackParams{Code: "abc", State: state} },
			setup:     func(p *fakeProvider) { p.token = &google.Token{AccessToken: "at-1"} },
			wantError: "callback_error",
			wantCalls: []string{"exchange"},
		},
		{
			name:      "profile fails",
			params:    func(state string) CallbackParams { return CallbackParams{Code: "abc", State: state} },
			setup:     func(p *fakeProvider) { p.profileErr = &google.ProfileFetchError{StatusCode: 503} },
			wantError: "callback_error",
			wantCalls: []string{"exchange", "profile"},
		},
		{
			name:      "incomplete profile",
			params:    func(state string) CallbackParams { return CallbackParams{Code: "abc", State: state} },
			setup:     func(p *fakeProvider) { p.profile = Identity{ID: "42"} },
			wantError: "callback_error",
			wantCalls: []string{"exchange", "profile"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakeProvider()
			if tc.setup != nil {
				tc.setup(p)
			}
			s, _ := newTestService(p)
			state := login(t, s, "/dashboard", true)

			res := s.HandleCallback(testContext(), tc.params(state))
			require.Error(t, res.Err)
			if tc.wantErr != nil {
				assert.True(t, errors.Is(res.Err, tc.wantErr), "got %v", res.Err)
			}
			assert.Equal(t, testFrontend+"/login?error="+url.QueryEscape(tc.wantError), res.RedirectURL)
			assert.Nil(t, res.Cookie)
			assert.Nil(t, res.Identity)
			assert.Equal(t, tc.wantCalls, p.Calls())
		})
	}
}

func TestHandleCallback_ExpiredState(t *testing.T) {
	p := newFakeProvider()
	s, clk := newTestService(p)
	state := login(t, s, "/dashboard", false)

	clk.Advance(stateExpiration + time.Second)
	res := s.HandleCallback(testContext(), CallbackParams{Code: "abc", State: state})
	assert.Equal(t, testFrontend+"/login?error=invalid_state", res.RedirectURL)
	assert.Empty(t, p.Calls())
}

func TestRefresh(t *testing.T) {
	p := newFakeProvider()
	s, _ := newTestService(p)

	res, err := s.Refresh(testContext(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"refresh", "profile"}, p.Calls())
	assert.Equal(t, RefreshCookie{Value: "rt-2", TTL: 30 * 24 * time.Hour}, res.Cookie)
	assert.Equal(t, "42", res.Identity.ID)

	id, err := s.Validate(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", id.Email)
}

func TestRefresh_KeepsUnrotatedToken(t *testing.T) {
	p := newFakeProvider()
	p.refreshed = &google.Token{AccessToken: "at-2"}
	s, _ := newTestService(p)

	res, err := s.Refresh(testContext(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", res.Cookie.Value)
}

func TestTruncateReason(t *testing.T) {
	assert.Equal(t, "access_denied", truncateReason("access_denied"))
	assert.Equal(t, strings.Repeat("a", 64), truncateReason(strings.Repeat("a", 65)))

	// A two byte rune straddling the limit is dropped whole.
	got := truncateReason(strings.Repeat("a", 63) + "é" + "tail")
	assert.Equal(t, strings.Repeat("a", 63), got)
	assert.True(t, utf8.ValidString(got))
}

func TestRefresh_Failures(t *testing.T) {
	tests := []struct {
		name      string
		token     string
		setup     func(p *fakeProvider)
		wantCalls []string
	}{
		{name: "no cookie", token: ""},
		{
			name:  "not configured",
			token: "rt-1",
			setup: func(p *fakeProvider) { p.configured = false },
		},
		{
			name:      "revoked",
			token:     "rt-1",
			setup:     func(p *fakeProvider) { p.refreshErr = &google.TokenExchangeError{StatusCode: 400} },
			wantCalls: []string{"refresh"},
		},
		{
			name:      "profile unavailable",
			token:     "rt-1",
			setup:     func(p *fakeProvider) { p.profileErr = &google.ProfileFetchError{StatusCode: 401} },
			wantCalls: []string{"refresh", "profile"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakeProvider()
			if tc.setup != nil {
				tc.setup(p)
			}
			s, _ := newTestService(p)

			res, err := s.Refresh(testContext(), tc.token)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, errors.Is(err, ErrUnauthenticated))
			assert.Equal(t, 401, errors.HTTPStatusCode(err))
			assert.Equal(t, tc.wantCalls, p.Calls())
		})
	}
}

func TestValidate_Expiry(t *testing.T) {
	s, clk := newTestService(newFakeProvider())
	state := login(t, s, "/dashboard", false)
	res := s.HandleCallback(testContext(), CallbackParams{Code: "abc", State: state})
	require.NoError(t, res.Err)
	u, _ := url.Parse(res.RedirectURL)
	token := u.Query().Get("token")

	clk.Advance(time.Hour - time.Second)
	_, err := s.Validate(token)
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, err = s.Validate(token)
	assert.True(t, errors.Is(err, ErrExpiredSession))
}

func TestValidate_ForeignKey(t *testing.T) {
	s, _ := newTestService(newFakeProvider())
	other := NewService(newFakeProvider(), "another-key", time.Hour, testFrontend, s.now)

	state := login(t, other, "/dashboard", false)
	res := other.HandleCallback(testContext(), CallbackParams{Code: "abc", State: state})
	require.NoError(t, res.Err)
	u, _ := url.Parse(res.RedirectURL)

	_, err := s.Validate(u.Query().Get("token"))
	assert.True(t, errors.Is(err, ErrInvalidSession))

	// A login state must never pass as a session credential.
	_, err = s.Validate(login(t, s, "/dashboard", false))
	assert.True(t, errors.Is(err, ErrInvalidSession))
}

func TestLogout(t *testing.T) {
	s, _ := newTestService(newFakeProvider())
	assert.Equal(t, RefreshCookie{}, s.Logout(testContext(), ""))
	assert.Equal(t, RefreshCookie{}, s.Logout(testContext(), "not-a-token"))
}

func TestEventsArePublished(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.NewBus(ctx)
	t.Cleanup(func() { _ = bus.Shutdown(ctx) })

	var mu sync.Mutex
	var got []Event
	for _, topic := range []string{LoginEvent, LoginFailedEvent, RefreshEvent, LogoutEvent} {
		bus.Subscribe(topic, func(ctx context.Context, msg *eventbus.Message) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, msg.Data.(Event))
			return nil
		})
	}

	s, _ := newTestService(newFakeProvider())
	s.bus = bus

	state := login(t, s, "/dashboard", true)
	res := s.HandleCallback(testContext(), CallbackParams{Code: "abc", State: state})
	require.NoError(t, res.Err)
	_, err := s.Refresh(testContext(), "rt-1")
	require.NoError(t, err)
	u, _ := url.Parse(res.RedirectURL)
	s.Logout(testContext(), u.Query().Get("token"))
	s.HandleCallback(testContext(), CallbackParams{Error: "access_denied" + strings.Repeat("!", 500)})
	require.NoError(t, bus.Wait(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 4)
	byType := map[string]Event{}
	for _, e := range got {
		byType[e.Type] = e
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.OccurredAt.IsZero())
	}
	assert.Equal(t, "42", byType[LoginEvent].Subject)
	assert.True(t, byType[LoginEvent].RememberMe)
	assert.Equal(t, "42", byType[RefreshEvent].Subject)
	assert.Equal(t, "42", byType[LogoutEvent].Subject)
	assert.Equal(t, "access_denied"+strings.Repeat("!", 64-len("access_denied")), byType[LoginFailedEvent].Reason)
}
