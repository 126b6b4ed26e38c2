package auth

import (
	"net/http"
	"strconv"

	"github.com/medtracker/medtracker"
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
	"github.com/medtracker/medtracker/serverutil"
	"google.golang.org/grpc/codes"
)

const (
	defaultActivityLimit = 20
	maxActivityLimit     = 100
)

// RefreshResponse is the body of a successful refresh.
type RefreshResponse struct {
	AccessToken string `json:"accessToken"`
}

// ActivityResponse is the body of GET /api/auth/activity.
type ActivityResponse struct {
	Events []Event `json:"events"`
}

func (ap *AuthPlugin) loginHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rememberMe, _ := strconv.ParseBool(q.Get("rememberMe"))
	logging.Track(r.Context(), "auth.rememberMe", rememberMe)

	dest, err := ap.service.InitiateLogin(r.Context(), q.Get("returnUrl"), rememberMe)
	if err != nil {
		medtracker.WriteJSONError(w, r, err)
		return
	}
	noStore(w)
	http.Redirect(w, r, dest, http.StatusFound)
}

func (ap *AuthPlugin) callbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res := ap.service.HandleCallback(r.Context(), CallbackParams{
		Code:  q.Get("code"),
		Error: q.Get("error"),
		State: q.Get("state"),
	})
	if res.Cookie != nil {
		http.SetCookie(w, res.Cookie.HTTPCookie(r, ap.now()))
	}
	noStore(w)
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (ap *AuthPlugin) refreshHandler(w http.ResponseWriter, r *http.Request) {
	res, err := ap.service.Refresh(r.Context(), refreshTokenFromRequest(r))
	if err != nil {
		medtracker.WriteJSONError(w, r, err)
		return
	}
	http.SetCookie(w, res.Cookie.HTTPCookie(r, ap.now()))
	noStore(w)
	medtracker.WriteJSON(w, http.StatusOK, RefreshResponse{AccessToken: res.AccessToken})
}

func (ap *AuthPlugin) logoutHandler(w http.ResponseWriter, r *http.Request) {
	c := ap.service.Logout(r.Context(), serverutil.BearerToken(r))
	http.SetCookie(w, c.HTTPCookie(r, ap.now()))
	medtracker.WriteJSON(w, http.StatusOK, struct{}{})
}

func (ap *AuthPlugin) meHandler(r *http.Request) (any, error) {
	return ap.identityFromRequest(r)
}

func (ap *AuthPlugin) activityHandler(r *http.Request) (any, error) {
	id, err := ap.identityFromRequest(r)
	if err != nil {
		return nil, err
	}
	limit := defaultActivityLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, errors.Codef(codes.InvalidArgument, "auth: invalid limit %q", v).
				WithPublicMessage("invalid_limit")
		}
		limit = min(n, maxActivityLimit)
	}
	events, err := ap.service.Activity(r.Context(), id.ID, limit)
	if err != nil {
		return nil, err
	}
	return ActivityResponse{Events: events}, nil
}

func (ap *AuthPlugin) identityFromRequest(r *http.Request) (Identity, error) {
	token := serverutil.BearerToken(r)
	if token == "" {
		return Identity{}, errors.Mark(ErrUnauthenticated, 0).Append("missing bearer token")
	}
	id, err := ap.service.Validate(token)
	if err != nil {
		return Identity{}, err
	}
	logging.Track(r.Context(), "auth.subject", id.ID)
	return id, nil
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}
