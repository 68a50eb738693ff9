package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCategorize_Wrapped(t *testing.T) {
	base := NewCircuitOpenError("transcript")
	wrapped := fmt.Errorf("transcript: %w", base)

	got := Categorize(wrapped)
	assert.Same(t, base, got)
	assert.True(t, IsCircuitOpen(wrapped))
	assert.False(t, IsUnauthorized(wrapped))
}

func TestCategorize_Plain(t *testing.T) {
	got := Categorize(stderrors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", got.Code)
	assert.Equal(t, http.StatusInternalServerError, got.StatusCode)
	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable transport", NewTransportError("timeout", true, nil), true},
		{"fatal transport", NewTransportError("bad url", false, nil), false},
		{"503", NewAPIError(503, "down"), true},
		{"504", NewAPIError(504, "slow"), true},
		{"500", NewAPIError(500, "bug"), false},
		{"401", NewUnauthorizedError("nope"), false},
		{"circuit", NewCircuitOpenError("health"), false},
		{"quota", NewQuotaExceededError("videos", time.Hour), false},
		{"plain", stderrors.New("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestAPIError_Status(t *testing.T) {
	err := NewAPIError(422, "invalid video")
	assert.Equal(t, 422, err.UpstreamStatus)
	assert.Equal(t, "API_ERROR: invalid video", err.Error())
}

func TestIsUserError(t *testing.T) {
	assert.True(t, IsUserError(NewInvalidParameterError("videoUrl", "empty")))
	assert.True(t, IsUserError(NewConflictError("ALREADY_IMPORTED", "exists")))
	assert.False(t, IsUserError(NewDatabaseError("insert", stderrors.New("x"))))
}

func TestToServiceError(t *testing.T) {
	svc := NewNotFoundError("video", "abc").ToServiceError()
	assert.Equal(t, "NOT_FOUND", svc.Code)
	assert.Equal(t, "abc", svc.Details["id"])
}

func TestQuotaExceededError(t *testing.T) {
	err := fmt.Errorf("metadata: %w", NewQuotaExceededError("playlistItems", 90*time.Minute))

	assert.True(t, IsQuotaExceeded(err))
	assert.Equal(t, http.StatusTooManyRequests, GetHTTPStatusCode(err))
	assert.Equal(t, 5400, Categorize(err).Details["retryAfterSeconds"])
}
