package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySentinels(t *testing.T) {
	tests := []struct {
		err      error
		status   int
		code     string
		errType  ErrorType
		hasTrace bool
	}{
		{ErrStoreUnavailable, http.StatusInternalServerError, "store_unavailable", TypeStoreUnavailable, false},
		{ErrSchemaMismatch, http.StatusInternalServerError, "store_unavailable", TypeStoreUnavailable, false},
		{ErrRepoNotIndexed, http.StatusBadRequest, "repo_not_indexed", TypeValueError, false},
		{ErrAuthExpired, http.StatusUnauthorized, "auth_expired", TypeAuthError, false},
		{ErrRateLimited, http.StatusBadGateway, "rate_limited", TypeRemoteService, false},
		{ErrNotFound, http.StatusNotFound, "not_found", TypeNotFound, false},
		{errors.New("anything else"), http.StatusInternalServerError, "internal_error", TypeServerError, true},
	}
	for _, tt := range tests {
		status, env := Classify(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, env.ErrorCode, tt.err.Error())
		assert.Equal(t, tt.errType, env.ErrorType, tt.err.Error())
		assert.Equal(t, tt.hasTrace, env.Traceback != "", tt.err.Error())
	}
}

func TestClassifyWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("repo /tmp/x: %w", ErrRepoNotIndexed)
	status, env := Classify(err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "repo_not_indexed", env.ErrorCode)
	assert.Contains(t, env.ErrorMessage, "/tmp/x")
}

func TestClassifyTypedError(t *testing.T) {
	appErr := &Error{
		Code:    "custom_code",
		Type:    TypeToolError,
		Subtype: "invoke",
		Message: "tool blew up",
		Cause:   errors.New("underlying"),
	}
	status, env := Classify(fmt.Errorf("calling tool: %w", appErr))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "custom_code", env.ErrorCode)
	assert.Equal(t, TypeToolError, env.ErrorType)
	require.NotNil(t, env.ErrorSubtype)
	assert.Equal(t, "invoke", *env.ErrorSubtype)
	assert.Contains(t, env.ErrorMessage, "underlying")
}

func TestClassifyBadRequest(t *testing.T) {
	status, env := Classify(BadRequest("missing repo_path"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", env.ErrorCode)
	assert.Equal(t, TypeBadRequest, env.ErrorType)
	assert.Nil(t, env.ErrorSubtype)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(TypeRemoteService, "remote_down", cause, "service call failed")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "root cause")
	assert.Contains(t, err.Error(), "service call failed")
}
