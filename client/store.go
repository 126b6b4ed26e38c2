package client

import (
	"context"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
	"golang.org/x/sync/singleflight"
)

// DefaultTimeout bounds each request when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

// LoginPath is where the navigator is sent when the session cannot be
// recovered.
const LoginPath = "/login"

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersistence sets where the credential is kept between runs. Defaults to
// memory only.
func WithPersistence(p Persistence) StoreOption {
	return func(s *Store) {
		s.persistence = p
	}
}

// WithNavigator receives login redirects and URL clean-ups.
func WithNavigator(n Navigator) StoreOption {
	return func(s *Store) {
		s.navigator = n
	}
}

// WithRefreshTimeout bounds the shared session refresh. Defaults to
// DefaultTimeout.
func WithRefreshTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.refreshTimeout = d
	}
}

// WithHTTPClient sets the HTTP client. A cookie jar is added when the client
// has none, since the refresh token travels as a cookie.
func WithHTTPClient(hc *http.Client) StoreOption {
	return func(s *Store) {
		s.httpClient = hc
	}
}

// Store holds the caller's session: the credential, the signed in user and
// the session state.
type Store struct {
	baseURL     *url.URL
	persistence Persistence
	navigator   Navigator
	httpClient  *http.Client
	gateway     *Gateway

	refreshes      singleflight.Group
	refreshTimeout time.Duration

	mu         sync.RWMutex
	identity   *Identity
	credential string
	loading    bool
	state      State
	// version changes whenever the credential does, so a request can tell
	// whether a refresh happened after it was sent.
	version uint64
}

// NewStore returns a store for the API at baseURL.
func NewStore(baseURL string, opts ...StoreOption) (*Store, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("client: invalid base url %q", baseURL)
	}
	s := &Store{
		baseURL:        u,
		persistence:    NewMemoryPersistence(),
		navigator:      nopNavigator{},
		refreshTimeout: DefaultTimeout,
		loading:        true,
	}
	for _, opt := range opts {
		opt(s)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.Wrap(err, 0)
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: DefaultTimeout, Jar: jar}
	} else if s.httpClient.Jar == nil {
		hc := *s.httpClient
		hc.Jar = jar
		s.httpClient = &hc
	}
	s.gateway = &Gateway{store: s}
	return s, nil
}

// Gateway returns the request gateway bound to this session.
func (s *Store) Gateway() *Gateway {
	return s.gateway
}

// Init restores the session. Loading reports true until it returns. In order of preference it adopts a credential
// delivered in the `token` parameter of current, removing it from the URL, or
// a persisted credential, or one obtained by a silent refresh. Failing all of
// those the store settles unauthenticated, which is not an error.
func (s *Store) Init(ctx context.Context, current *url.URL) error {
	s.setLoading(true)
	defer s.setLoading(false)

	if current != nil {
		if token := current.Query().Get("token"); token != "" {
			s.navigator.Replace(stripToken(current))
			s.setCredential(ctx, token)
			logging.Debugw(ctx, "client: adopted credential from url")
			return s.loadIdentity(ctx)
		}
	}

	persisted, err := s.persistence.Load(ctx)
	if err != nil {
		logging.Warnw(ctx, "client: failed to load persisted credential", "error", err)
	}
	if persisted != "" {
		s.setCredential(ctx, persisted)
		logging.Debugw(ctx, "client: restored persisted credential")
		return s.loadIdentity(ctx)
	}

	if _, err := s.refresh(ctx, s.snapshot().version); err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			return err
		}
		logging.Debugw(ctx, "client: no session to restore", "error", err)
		s.clear(ctx)
		return nil
	}
	return s.loadIdentity(ctx)
}

// Login sends the navigator to the API's login endpoint.
func (s *Store) Login(returnURL string, rememberMe bool) {
	q := url.Values{}
	if returnURL != "" {
		q.Set("returnUrl", returnURL)
	}
	if rememberMe {
		q.Set("rememberMe", strconv.FormatBool(rememberMe))
	}
	dest := s.endpoint("/api/auth/login")
	dest.RawQuery = q.Encode()

	s.mu.Lock()
	s.state = PendingRedirect
	s.mu.Unlock()
	s.navigator.Navigate(dest.String())
}

// Logout ends the session on the server and locally, then sends the navigator
// to the login page. Local state is cleared even when the server call fails;
// that failure is returned.
func (s *Store) Logout(ctx context.Context) error {
	snap := s.snapshot()
	resp, err := s.gateway.send(ctx, http.MethodPost, "/api/auth/logout", nil, snap.credential)
	if err == nil {
		drain(resp)
		if resp.StatusCode >= 300 {
			err = &APIError{StatusCode: resp.StatusCode}
		}
	}
	if err != nil {
		logging.Warnw(ctx, "client: logout request failed", "error", err)
	}
	s.clear(ctx)
	s.navigator.Navigate(LoginPath)
	return err
}

// Identity returns the signed in user, or nil.
func (s *Store) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// Credential returns the current session credential, or "".
func (s *Store) Credential() string {
	return s.snapshot().credential
}

// Loading reports whether the session is still being restored. It is true
// from NewStore until Init returns.
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// State returns the session state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

type snapshot struct {
	credential string
	version    uint64
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshot{credential: s.credential, version: s.version}
}

// refresh returns a credential newer than version, calling the refresh
// endpoint at most once for any number of concurrent callers.
//
// The shared call is detached from the caller that started it and bounded by
// the refresh timeout, so one caller giving up does not fail the others. A
// caller whose ctx ends first gets ctx.Err() while the refresh carries on.
func (s *Store) refresh(ctx context.Context, version uint64) (string, error) {
	if c, ok := s.newerThan(version); ok {
		return c, nil
	}
	ch := s.refreshes.DoChan("refresh", func() (any, error) {
		// A refresh may have completed between the check above and joining.
		if c, ok := s.newerThan(version); ok {
			return c, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refreshTimeout)
		defer cancel()
		return s.doRefresh(rctx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (s *Store) newerThan(version uint64) (string, bool) {
	snap := s.snapshot()
	return snap.credential, snap.version != version && snap.credential != ""
}

func (s *Store) doRefresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	prev := s.state
	s.state = Refreshing
	s.mu.Unlock()

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	err := s.gateway.Do(ctx, http.MethodPost, refreshPath, nil, &resp)
	if err == nil && resp.AccessToken == "" {
		err = errors.New("client: refresh returned no credential")
	}
	if err != nil {
		s.mu.Lock()
		if s.state == Refreshing {
			s.state = prev
		}
		s.mu.Unlock()
		if interrupted(err) {
			// The session may still be good; let the next request try again.
			return "", errors.WrapPrefix(err, "client: refresh interrupted", 0)
		}
		return "", errors.Mark(ErrUnauthenticated, 0).Append(err.Error())
	}
	s.setCredential(ctx, resp.AccessToken)
	logging.Debugw(ctx, "client: session refreshed")
	return resp.AccessToken, nil
}

func (s *Store) loadIdentity(ctx context.Context) error {
	id, err := s.gateway.CurrentUser(ctx)
	if errors.Is(err, ErrUnauthenticated) {
		// The gateway has already cleared the session.
		return nil
	}
	if err != nil {
		if !interrupted(err) {
			s.clear(ctx)
		}
		return err
	}
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
	return nil
}

func (s *Store) setCredential(ctx context.Context, credential string) {
	s.mu.Lock()
	s.credential = credential
	s.version++
	s.state = Authenticated
	s.mu.Unlock()
	if err := s.persistence.Save(ctx, credential); err != nil {
		logging.Warnw(ctx, "client: failed to persist credential", "error", err)
	}
}

// clear forgets the session and returns the state it was in.
func (s *Store) clear(ctx context.Context) State {
	s.mu.Lock()
	prev := s.state
	s.credential = ""
	s.identity = nil
	s.version++
	s.state = Unauthenticated
	s.mu.Unlock()
	if err := s.persistence.Clear(ctx); err != nil {
		logging.Warnw(ctx, "client: failed to clear persisted credential", "error", err)
	}
	return prev
}

// expire ends a session that could not be refreshed. Only the caller that
// ends the session navigates, however many requests shared the refresh.
func (s *Store) expire(ctx context.Context) {
	if s.clear(ctx) != Unauthenticated {
		s.navigator.Navigate(LoginPath)
	}
}

// interrupted reports whether err is a cancellation or timeout rather than an
// answer from the server.
func interrupted(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *Store) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Store) endpoint(path string) *url.URL {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return &u
}

func stripToken(u *url.URL) string {
	c := *u
	q := c.Query()
	q.Del("token")
	c.RawQuery = q.Encode()
	return c.String()
}
