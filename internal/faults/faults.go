// Package faults classifies raw processing failures into retry categories.
// It is a leaf package: pure functions, no dependencies on the rest of the
// pipeline.
package faults

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Category drives the retry decision for a failed job.
type Category string

const (
	// Permanent failures are never retried; the document surfaces as failed.
	Permanent Category = "permanent"
	// Transient failures are retried under the queue backend's backoff policy.
	Transient Category = "transient"
	// RateLimited failures are re-scheduled after RetryAfter without
	// consuming the give-up budget.
	RateLimited Category = "rate_limited"
	// Unknown failures are treated like transient ones.
	Unknown Category = "unknown"
)

// DefaultRetryAfter applies when a rate-limited failure carries no explicit
// retry-after hint.
const DefaultRetryAfter = 60 * time.Second

// CategorizedError wraps a raw failure with its retry category. It is
// ephemeral: persisted only as message text on the job record.
type CategorizedError struct {
	Category   Category
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *CategorizedError) Error() string {
	return string(e.Category) + ": " + e.Message
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be retried at all.
func (e *CategorizedError) Retryable() bool {
	return e.Category != Permanent
}

// RetryAfterHint lets an error source (an HTTP 429 handler, for instance)
// carry an explicit retry-after delay through to classification.
type RetryAfterHint interface {
	RetryAfter() time.Duration
}

// keyword rules, evaluated in order; the first match wins. The ordering is
// load-bearing: a message containing both "invalid" and "timeout" classifies
// by whichever rule comes first.
var rules = []struct {
	category Category
	keywords []string
}{
	{RateLimited, []string{"rate exceeded", "throttl", "rate limit", "429"}},
	{Permanent, []string{"access denied", "forbidden", "invalid api key", "authentication"}},
	{Permanent, []string{"not found", "does not exist"}},
	{Transient, []string{"timeout", "connection reset", "connection refused", "network"}},
	{Permanent, []string{"invalid", "unsupported", "corrupt"}},
}

// Classify maps a raw failure into a CategorizedError. A nil error yields nil.
// Already-classified errors pass through unchanged.
func Classify(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				out := &CategorizedError{
					Category: rule.category,
					Message:  msg,
					Err:      err,
				}
				if rule.category == RateLimited {
					out.RetryAfter = DefaultRetryAfter
					var hint RetryAfterHint
					if errors.As(err, &hint) && hint.RetryAfter() > 0 {
						out.RetryAfter = hint.RetryAfter()
					}
				}
				return out
			}
		}
	}

	return &CategorizedError{Category: Unknown, Message: msg, Err: err}
}

// Permanentf builds a pre-classified permanent failure. Processors use it
// for conditions keyword matching would miss.
func Permanentf(format string, args ...interface{}) *CategorizedError {
	err := fmt.Errorf(format, args...)
	return &CategorizedError{Category: Permanent, Message: err.Error(), Err: err}
}
