package medtracker

import (
	"encoding/json"
	"net/http"

	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
)

// JSONHandler is a regular HTTP handler whose return value is encoded as JSON.
// Errors are rendered with ErrorResponse and the status code derived from the
// error.
type JSONHandler func(req *http.Request) (any, error)

// ErrorResponse is the body written for failed JSON requests. Message is the
// error's public message, never the underlying error text.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func wrapJSONHandler(fn JSONHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := fn(r)
		if err != nil {
			WriteJSONError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// WriteJSONError logs err against the request and writes an ErrorResponse.
func WriteJSONError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logging.TrackError(r.Context(), err)
	} else {
		logging.Warnw(r.Context(), "request rejected", "error", err, "http.status", status)
	}
	WriteJSON(w, status, &ErrorResponse{
		Error:   errors.CodeName(errors.Code(err)),
		Message: errors.PublicMessage(err),
	})
}
