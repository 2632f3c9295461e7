package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_HTTPStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{CodeBadRequest, http.StatusBadRequest},
		{CodeSubmissionInFlight, http.StatusConflict},
		{CodeRegistrationFailed, http.StatusBadGateway},
		{CodeUpstreamTimeout, http.StatusGatewayTimeout},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, NewAppError(tt.code, "msg", nil).HTTPStatus())
		})
	}
}

func TestAppError_UnwrapAndCodeOf(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := fmt.Errorf("register: %w", NewAppError(CodeUpstreamUnavailable, "backend unreachable", cause))

	code, ok := CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, CodeUpstreamUnavailable, code)
	assert.True(t, Is(err, cause))

	var appErr *AppError
	require.True(t, As(err, &appErr))
	assert.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus())
	assert.Contains(t, appErr.Error(), "caused by: connection refused")
}

func TestCodeOf_PlainError(t *testing.T) {
	_, ok := CodeOf(fmt.Errorf("boom"))
	assert.False(t, ok)
}

func TestToErrorResponse(t *testing.T) {
	resp := NewAppErrorf(CodeNotFound, nil, "session %s not found", "abc").ToErrorResponse("trace-1")
	assert.Equal(t, CodeNotFound, resp.Error.Code)
	assert.Equal(t, "session abc not found", resp.Error.Message)
	assert.Equal(t, "trace-1", resp.Error.TraceID)
}
