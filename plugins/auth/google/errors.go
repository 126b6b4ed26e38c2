package google

import (
	"context"
	"fmt"
	"net/http"

	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
)

var errIncompleteProfile = errors.New("google: profile is missing id or email")

// TokenExchangeError is returned when Google rejects or fails a code exchange
// or refresh. StatusCode is zero when no response was received, e.g. on
// timeout. Body is the raw provider response and is only ever logged.
type TokenExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TokenExchangeError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("google: token exchange failed: %v", e.Err)
	}
	return fmt.Sprintf("google: token exchange failed with status %d", e.StatusCode)
}

func (e *TokenExchangeError) Unwrap() error       { return e.Err }
func (e *TokenExchangeError) Code() codes.Code    { return codes.Unavailable }
func (e *TokenExchangeError) HTTPStatusCode() int { return http.StatusBadGateway }

// ProfileFetchError is returned when the userinfo call fails or returns an
// unusable profile.
type ProfileFetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ProfileFetchError) Error() string {
	if e.StatusCode == 0 || e.StatusCode == http.StatusOK {
		return fmt.Sprintf("google: profile fetch failed: %v", e.Err)
	}
	return fmt.Sprintf("google: profile fetch failed with status %d", e.StatusCode)
}

func (e *ProfileFetchError) Unwrap() error       { return e.Err }
func (e *ProfileFetchError) Code() codes.Code    { return codes.Unavailable }
func (e *ProfileFetchError) HTTPStatusCode() int { return http.StatusBadGateway }

func (c *Client) tokenError(ctx context.Context, op string, err error) error {
	te := &TokenExchangeError{Err: err}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		te.Body = string(re.Body)
		if re.Response != nil {
			te.StatusCode = re.Response.StatusCode
		}
	}
	logging.Errorw(ctx, "google: token request failed",
		"op", op, "status", te.StatusCode, "body", te.Body, "error", err)
	return te
}

func (c *Client) profileError(ctx context.Context, err error) error {
	pe := &ProfileFetchError{Err: err}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		pe.StatusCode = ge.Code
		pe.Body = ge.Body
	}
	logging.Errorw(ctx, "google: profile fetch failed",
		"status", pe.StatusCode, "body", pe.Body, "error", err)
	return pe
}
