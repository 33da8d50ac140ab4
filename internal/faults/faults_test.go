package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Table(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected Category
	}{
		{"rate exceeded", "ProvisionedThroughputExceededException: Rate exceeded", RateLimited},
		{"throttling", "ThrottlingException: request throttled", RateLimited},
		{"rate limit", "rate limit reached for requests", RateLimited},
		{"http 429", "unexpected status 429 from upstream", RateLimited},
		{"access denied", "AccessDeniedException: Access Denied", Permanent},
		{"forbidden", "403 Forbidden", Permanent},
		{"invalid api key", "Invalid API key provided", Permanent},
		{"authentication", "authentication failed for request", Permanent},
		{"not found", "NoSuchKey: the object was not found", Permanent},
		{"does not exist", "bucket does not exist", Permanent},
		{"timeout", "context deadline exceeded: timeout waiting for response", Transient},
		{"connection reset", "read tcp: connection reset by peer", Transient},
		{"connection refused", "dial tcp: connection refused", Transient},
		{"network", "network is unreachable", Transient},
		{"invalid input", "invalid document format", Permanent},
		{"unsupported", "unsupported media type", Permanent},
		{"corrupt", "file appears to be corrupt", Permanent},
		{"default", "something completely different happened", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(errors.New(tt.message))
			require.NotNil(t, ce)
			assert.Equal(t, tt.expected, ce.Category)
			assert.Equal(t, tt.message, ce.Message)
		})
	}
}

// Precedence is deterministic: the rate rule is checked before the
// permanent rules, and timeouts before invalid-input.
func TestClassify_Precedence(t *testing.T) {
	ce := Classify(errors.New("rate exceeded: invalid request"))
	assert.Equal(t, RateLimited, ce.Category)

	ce = Classify(errors.New("access denied due to network policy"))
	assert.Equal(t, Permanent, ce.Category)

	ce = Classify(errors.New("invalid response: timeout"))
	assert.Equal(t, Transient, ce.Category)
}

func TestClassify_RateLimitedRetryAfter(t *testing.T) {
	ce := Classify(errors.New("rate exceeded"))
	require.NotNil(t, ce)
	assert.Equal(t, RateLimited, ce.Category)
	assert.GreaterOrEqual(t, ce.RetryAfter, time.Millisecond)
	assert.Equal(t, DefaultRetryAfter, ce.RetryAfter)
}

type retryAfterErr struct {
	delay time.Duration
}

func (e *retryAfterErr) Error() string             { return "throttled by provider" }
func (e *retryAfterErr) RetryAfter() time.Duration { return e.delay }

func TestClassify_RetryAfterHint(t *testing.T) {
	ce := Classify(fmt.Errorf("call failed: %w", &retryAfterErr{delay: 15 * time.Second}))
	require.NotNil(t, ce)
	assert.Equal(t, RateLimited, ce.Category)
	assert.Equal(t, 15*time.Second, ce.RetryAfter)
}

func TestClassify_PassThrough(t *testing.T) {
	orig := Permanentf("page range out of bounds")
	ce := Classify(fmt.Errorf("pdf transform: %w", orig))
	assert.Same(t, orig, ce)
}

func TestClassify_Nil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestRetryable(t *testing.T) {
	assert.False(t, Classify(errors.New("access denied")).Retryable())
	assert.True(t, Classify(errors.New("timeout")).Retryable())
	assert.True(t, Classify(errors.New("rate exceeded")).Retryable())
	assert.True(t, Classify(errors.New("mystery")).Retryable())
}
