package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryBudget_WithinLimit(t *testing.T) {
	b := NewRetryBudget(3)

	for i := 0; i < 3; i++ {
		assert.NoError(t, b.Check("/counter"), "retry %d should be allowed", i+1)
	}
	assert.Equal(t, 3, b.Current())
	assert.Equal(t, 3, b.Limit())
}

func TestRetryBudget_ExceedsLimit(t *testing.T) {
	b := NewRetryBudget(2)
	require.NoError(t, b.Check("/counter"))
	require.NoError(t, b.Check("/counter"))

	err := b.Check("/counter")
	require.Error(t, err)

	var re *RetryExhaustedError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "/counter", re.Path)
	assert.Equal(t, 2, re.Retries)
	assert.Equal(t, 2, re.Limit)
	assert.Contains(t, err.Error(), "gave up after 2 retries")
}

func TestRetryBudget_ZeroAllowsNoRetry(t *testing.T) {
	b := NewRetryBudget(0)
	assert.True(t, IsRetryExhausted(b.Check("/x")))
}

func TestIsRetryExhausted_Wrapped(t *testing.T) {
	err := fmt.Errorf("transaction: %w", &RetryExhaustedError{Path: "/x", Retries: 1, Limit: 1})
	assert.True(t, IsRetryExhausted(err))
	assert.False(t, IsRetryExhausted(fmt.Errorf("other")))
}

func TestErrorHelpers(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := fmt.Errorf("wrapped: %w", &Error{Code: CodeOverriddenBySet, Message: "replaced", Path: "/a", Err: cause})

	assert.True(t, IsOverriddenBySet(err))
	assert.False(t, IsClientOffline(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "OVERRIDDEN_BY_SET: replaced (path=/a): boom")

	assert.True(t, IsEngineClosed(errClosed()))
}
