package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestGrpcCode(t *testing.T) {
	assert.Equal(t, codes.OK, Code(nil), "code should be OK")

	err := fmt.Errorf("test error")
	assert.Equal(t, codes.Unknown, Code(err), "code should be unknown")

	err = WithCode(err, codes.InvalidArgument)
	assert.Equal(t, codes.InvalidArgument, Code(err), "code should be InvalidArgument")

	err = WithCode(err, codes.AlreadyExists)
	assert.Equal(t, codes.AlreadyExists, Code(err), "code should be AlreadyExists")

	err = WrapPrefix(err, "wrapped", 0)
	assert.Equal(t, codes.AlreadyExists, Code(err), "code should still be AlreadyExists")
}

func TestHttpStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, HTTPStatusCode(nil), "non errors should 200")

	err := fmt.Errorf("test error")
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(err), "should default to 500")

	err = WithCode(err, codes.Unauthenticated)
	assert.Equal(t, http.StatusUnauthorized, HTTPStatusCode(err))

	err = WithHTTPStatusCode(err, http.StatusConflict)
	assert.Equal(t, http.StatusConflict, HTTPStatusCode(err), "http status code should override grpc code")

	err = WrapPrefix(err, "wrapped", 0)
	assert.Equal(t, http.StatusConflict, HTTPStatusCode(err), "http status code should survive prefixing")
}

func TestPrefix(t *testing.T) {
	err := WrapPrefix(fmt.Errorf("test error"), "wrapped", 0)
	assert.Equal(t, "wrapped: test error", err.Error())

	err = WrapPrefix(err, "outer", 0)
	assert.Equal(t, "outer: wrapped: test error", err.Error())
}

func TestPublicMessage(t *testing.T) {
	err := New("test error")
	assert.Equal(t, "test error", err.GRPCStatus().Message())

	err = err.WithPublicMessage("public message")
	assert.Equal(t, "public message", err.GRPCStatus().Message())
	assert.Equal(t, "public message", PublicMessage(fmt.Errorf("ctx: %w", err)))
}

func TestPublicMessage_NeverLeaksForeignErrors(t *testing.T) {
	err := fmt.Errorf("provider said: {\"secret\": true}")
	assert.Equal(t, "unknown", PublicMessage(err))

	err = WithCode(err, codes.Unavailable)
	assert.Equal(t, "unavailable", PublicMessage(err))
}

func TestCodeName(t *testing.T) {
	assert.Equal(t, "ok", CodeName(codes.OK))
	assert.Equal(t, "invalid_argument", CodeName(codes.InvalidArgument))
	assert.Equal(t, "deadline_exceeded", CodeName(codes.DeadlineExceeded))
	assert.Equal(t, "unauthenticated", CodeName(codes.Unauthenticated))
}

func TestWrappedError(t *testing.T) {
	err := NewC("test error", codes.InvalidArgument)
	wrappedErr := fmt.Errorf("%w : wrapped error", err)

	assert.Equal(t, codes.InvalidArgument, Code(wrappedErr))
}

func TestMark(t *testing.T) {
	err := NewC("test error", codes.InvalidArgument)
	markedErr := Mark(err, 0)

	assert.True(t, Is(markedErr, err), "Marked error should still satisfy Is")
	assert.Equal(t, codes.InvalidArgument, Code(markedErr))
	assert.Contains(t, markedErr.MinimalStack(0, 1), "TestMark")
}

func TestAppend(t *testing.T) {
	sentinel := NewC("token is invalid", codes.Unauthenticated)
	err := Mark(sentinel, 0).Append("missing subject")

	assert.Equal(t, "token is invalid: missing subject", err.Error())
	assert.True(t, Is(err, sentinel))
	assert.Equal(t, codes.Unauthenticated, Code(err))
}

func TestIs(t *testing.T) {
	regularErr := fmt.Errorf("just a regular error")

	tests := []struct {
		name     string
		target   error
		original error
		want     bool
	}{
		{name: "regular error", target: regularErr, original: regularErr, want: true},
		{name: "regular error, wrapped", target: Wrap(regularErr, 0), original: regularErr, want: true},
		{name: "sentinel, wrapped", target: Wrap(io.EOF, 0), original: io.EOF, want: true},
		{name: "different errors", target: Wrap(io.EOF, 0), original: regularErr, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Is(tt.target, tt.original))
		})
	}
}

func TestFromPanic(t *testing.T) {
	err := FromPanic("boom", 0)
	assert.Equal(t, "panic: boom", err.Error())
	assert.Equal(t, "panic", err.TypeName())
	assert.Equal(t, codes.Internal, err.Code())
}
