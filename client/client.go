// Package client is the caller side of the auth flow. It keeps the session
// credential and the signed in user, and sends API requests that transparently
// survive credential expiry.
//
//	store, err := client.NewStore("http://localhost:8000",
//		client.WithPersistence(client.NewFilePersistence(path)),
//		client.WithNavigator(nav),
//	)
//	if err := store.Init(ctx, currentURL); err != nil { ... }
//	var records []Record
//	err = store.Gateway().Do(ctx, http.MethodGet, "/api/records", nil, &records)
//
// The refresh token never passes through this package. It lives in the
// HttpOnly cookie held by the HTTP client's cookie jar.
package client

import (
	"fmt"

	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/plugins/auth/session"
	"google.golang.org/grpc/codes"
)

// Identity of the signed in user, as returned by /api/auth/me.
type Identity = session.Identity

// ErrUnauthenticated is returned when a request was rejected and the session
// could not be refreshed. The navigator has already been sent to the login
// page.
var ErrUnauthenticated = errors.NewC("client: session expired, login required", codes.Unauthenticated).
	WithPublicMessage("unauthenticated")

// APIError is returned for any non-2xx response other than a handled 401.
type APIError struct {
	StatusCode int
	// Code is the machine readable `error` field of a JSON error body, if any.
	Code string
	Body string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("client: request failed with status %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("client: request failed with status %d", e.StatusCode)
}

// State of the client session.
type State int

const (
	Unauthenticated State = iota
	PendingRedirect
	Authenticated
	Refreshing
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case PendingRedirect:
		return "pending_redirect"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Navigator moves the user agent to another page.
type Navigator interface {
	// Navigate loads a new page.
	Navigate(url string)

	// Replace swaps the current history entry without loading a page.
	Replace(url string)
}

type nopNavigator struct{}

func (nopNavigator) Navigate(string) {}
func (nopNavigator) Replace(string)  {}
