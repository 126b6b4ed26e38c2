// Package auth implements Google sign-in for the API and the session
// credentials that follow from it.
//
// The flow is a plain OAuth2 authorization code exchange:
//
//  1. The browser is sent to GET /api/auth/login, which redirects to Google.
//     The return URL and "remember me" choice travel in a signed state
//     parameter, so the server keeps nothing between the two requests.
//  2. Google redirects back to GET /api/auth/callback with a code. The code is
//     exchanged for tokens, the profile is fetched, and a short lived session
//     credential is minted. The browser is redirected to the frontend with the
//     credential in a `token` query parameter, and Google's refresh token is
//     stored in an HttpOnly `refresh_token` cookie scoped to /api/auth.
//  3. API calls carry the credential as a bearer token. When it expires the
//     client calls POST /api/auth/refresh, which redeems the cookie for a new
//     credential and rotates the cookie.
//
// Failures that reach the browser through a redirect carry only a short error
// code. Provider responses are logged and never forwarded.
package auth

import (
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/plugins/auth/session"
	"google.golang.org/grpc/codes"
)

// Identity of a signed in user.
type Identity = session.Identity

var (
	// The provider client id or secret is missing or still a placeholder.
	ErrConfiguration = errors.NewC("auth: identity provider is not configured", codes.FailedPrecondition).
				WithPublicMessage("oauth_not_configured")

	// The provider redirected back with an `error` parameter, usually because
	// the user declined consent.
	ErrOAuthDenied = errors.NewC("auth: provider denied authorization", codes.InvalidArgument)

	// The callback carried neither a code nor an error.
	ErrMissingCode = errors.NewC("auth: callback is missing the authorization code", codes.InvalidArgument)

	// The state parameter was missing, tampered with or expired.
	ErrInvalidState = errors.NewC("auth: invalid login state", codes.InvalidArgument).
			WithPublicMessage("invalid_state")

	// No usable refresh credential, or the provider refused it.
	ErrUnauthenticated = errors.NewC("auth: not authenticated", codes.Unauthenticated).
				WithPublicMessage("unauthenticated")

	// Re-exported from the session package for callers of Validate.
	ErrInvalidSession = session.ErrInvalidSession
	ErrExpiredSession = session.ErrExpiredSession
)

// Redirect error codes passed to the frontend's /login page.
const (
	CallbackErrorNoCode       = "no_code"
	CallbackErrorInvalidState = "invalid_state"
	CallbackErrorGeneric      = "callback_error"
)
