package providers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tauagent/tau/internal/backoff"
	"github.com/tauagent/tau/internal/models"
)

// Client is the sole public operation every provider adapter exposes.
type Client interface {
	Complete(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error)
}

// RetryConfig bounds a provider call's retry loop by whichever of attempts
// or wall-clock budget is tighter.
type RetryConfig struct {
	MaxRetries    int
	RetryBudgetMs int64
	Policy        backoff.BackoffPolicy
}

// DefaultRetryConfig mirrors spec.md's "sleep min(base*2^attempt, cap)" shape:
// initial 200ms, cap 10s, factor 2, 10% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		RetryBudgetMs: 30_000,
		Policy: backoff.BackoffPolicy{
			InitialMs: 200,
			MaxMs:     10_000,
			Factor:    2,
			Jitter:    0.1,
		},
	}
}

// Attempt carries the per-attempt headers every adapter must set on its HTTP
// request: a freshly generated request id and a 0-based retry-attempt
// ordinal, so providers and test doubles can assert on them.
type Attempt struct {
	RequestID string
	Ordinal   int
}

// SetHeaders stamps req with x-request-id and retry-attempt.
func (a Attempt) SetHeaders(req *http.Request) {
	req.Header.Set("x-request-id", a.RequestID)
	req.Header.Set("retry-attempt", strconv.Itoa(a.Ordinal))
}

// doWithRetry runs attemptFn once per retry-attempt ordinal starting at 0,
// retrying while the budget and attempt count allow and the returned error
// is retryable. It returns the first successful response, or the last error
// once the budget/attempt count is exhausted.
func doWithRetry(
	ctx context.Context,
	cfg RetryConfig,
	attemptFn func(ctx context.Context, attempt Attempt) (models.ChatResponse, error),
) (models.ChatResponse, error) {
	deadline := time.Now().Add(time.Duration(cfg.RetryBudgetMs) * time.Millisecond)
	var lastErr error

	for ordinal := 0; ordinal <= cfg.MaxRetries; ordinal++ {
		if err := ctx.Err(); err != nil {
			return models.ChatResponse{}, err
		}
		if ordinal > 0 && time.Now().After(deadline) {
			break
		}

		attempt := Attempt{RequestID: uuid.NewString(), Ordinal: ordinal}
		resp, err := attemptFn(ctx, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ordinal == cfg.MaxRetries || !IsRetryable(err) {
			break
		}
		if time.Now().After(deadline) {
			break
		}
		// backoff.ComputeBackoff is 1-indexed; ordinal 0's retry is the
		// first sleep, so pass ordinal+1.
		if sleepErr := backoff.SleepWithContext(ctx, backoff.ComputeBackoff(cfg.Policy, ordinal+1)); sleepErr != nil {
			return models.ChatResponse{}, sleepErr
		}
	}
	return models.ChatResponse{}, lastErr
}
