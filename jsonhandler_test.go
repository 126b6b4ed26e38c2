package medtracker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/logging"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
)

func TestJSONHandler(t *testing.T) {
	customHandler := func(req *http.Request) (any, error) {
		return map[string]string{
			"method": req.Method,
			"url":    req.URL.String(),
		}, nil
	}

	httpHandler := wrapJSONHandler(customHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)

	rr := httptest.NewRecorder()
	httpHandler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"method":"GET","url":"/test"}`, rr.Body.String())
}

func TestJSONHandlerError(t *testing.T) {
	customHandler := func(req *http.Request) (any, error) {
		return nil, errors.NewC("database password is hunter2", codes.Internal)
	}

	httpHandler := wrapJSONHandler(customHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(logging.EnsureLogger(t.Context()))
	rr := httptest.NewRecorder()
	httpHandler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal","message":"internal"}`, rr.Body.String())
}

func TestJSONHandlerPublicMessage(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ctx := logging.With(t.Context(), logging.NewZapLogger(zap.New(core)))

	customHandler := func(req *http.Request) (any, error) {
		return nil, errors.NewC("bearer token expired", codes.Unauthenticated).
			WithPublicMessage("expired_session")
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	wrapJSONHandler(customHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.JSONEq(t, `{"error":"unauthenticated","message":"expired_session"}`, rr.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("request rejected").Len())
}
