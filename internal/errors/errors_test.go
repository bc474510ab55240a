package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryAndSeverity(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		category Category
		severity Severity
		retry    bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{"detection", ErrCodeDetectionFailed, CategoryIngest, SeverityError, false},
		{"transient", ErrCodeProviderTransient, CategoryProvider, SeverityWarning, true},
		{"rate limited", ErrCodeProviderRateLimited, CategoryProvider, SeverityWarning, true},
		{"fatal provider", ErrCodeProviderFatal, CategoryProvider, SeverityFatal, false},
		{"store", ErrCodeStoreFailed, CategoryStore, SeverityError, false},
		{"corrupt index", ErrCodeCorruptIndex, CategoryStore, SeverityFatal, false},
		{"query", ErrCodeInvalidQuery, CategoryValidation, SeverityError, false},
		{"internal", ErrCodeInternal, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retry, err.Retryable)
		})
	}
}

func TestError_UnwrapChain(t *testing.T) {
	root := errors.New("disk full")
	wrapped := StoreError("persist chunks", root)

	require.ErrorIs(t, wrapped, root)
	assert.Equal(t, ErrCodeStoreFailed, GetCode(wrapped))
	assert.Equal(t, CategoryStore, GetCategory(fmt.Errorf("outer: %w", wrapped)))
}

func TestError_IsMatchesByCode(t *testing.T) {
	a := TransientProviderError("timeout", nil)
	b := TransientProviderError("other timeout", nil)
	assert.ErrorIs(t, a, b)

	c := FatalProviderError("bad model", nil)
	assert.NotErrorIs(t, a, c)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(TransientProviderError("t", nil)))
	assert.True(t, IsRetryable(RateLimitedError("r", nil)))
	assert.False(t, IsRetryable(FatalProviderError("f", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(FatalProviderError("f", nil)))
	assert.False(t, IsFatal(TransientProviderError("t", nil)))
	assert.False(t, IsFatal(nil))
}

func TestIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, IsCancelled(ctx.Err()))
	assert.True(t, IsCancelled(fmt.Errorf("job: %w", context.Canceled)))
	assert.False(t, IsCancelled(StoreError("s", nil)))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := ValidationError("bad filter", nil).
		WithDetail("filter", "scale=galaxy").
		WithSuggestion("valid scales: document, section, paragraph, sentence")

	assert.Equal(t, "scale=galaxy", err.Details["filter"])
	assert.NotEmpty(t, err.Suggestion)
}

func TestWrap_NilIsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}
