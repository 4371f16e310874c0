// Package retry runs an upstream fetch in a bounded loop: one initial attempt
// plus up to MaxRetries immediate retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/l0p7/planetcast/internal/expr"
)

// ErrNotFound classifies 404-equivalent upstream responses. It is an ordinary
// failure as far as the loop is concerned; a Retryable hook may treat it as
// terminal.
var ErrNotFound = errors.New("not found")

// DefaultMaxRetries is the retry budget used when none is configured.
const DefaultMaxRetries = 3

// Policy bounds and shapes one retry loop.
type Policy struct {
	MaxRetries int
	// Subject names what is being fetched in the exhaustion message.
	Subject string
	// Retryable reports whether the failure of attempt should be retried.
	// A nil hook retries every failure.
	Retryable func(attempt int, err error) bool
}

// ExhaustedError is returned once every attempt allowed by a Policy failed.
type ExhaustedError struct {
	Subject    string
	MaxRetries int
	Attempts   int
	Last       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("Failed to fetch %s after %d attempts: %s", e.Subject, e.MaxRetries, e.Last.Error())
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do calls fn until it succeeds, the policy gives up, or ctx is done.
// Attempts are numbered from 1.
func Do[T any](ctx context.Context, policy Policy, logger *slog.Logger, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var last error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return zero, fmt.Errorf("retry: %s interrupted after %d attempts: %w", policy.Subject, attempt-1, errors.Join(err, last))
			}
			return zero, err
		}

		value, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}
		last = err
		logger.Error("fetch attempt failed",
			slog.String("subject", policy.Subject),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)

		if attempt > maxRetries {
			break
		}
		if policy.Retryable != nil && !policy.Retryable(attempt, err) {
			logger.Info("failure not retryable",
				slog.String("subject", policy.Subject),
				slog.Int("attempt", attempt),
			)
			return zero, err
		}
		logger.Info("retrying fetch",
			slog.String("subject", policy.Subject),
			slog.Int("attempt", attempt+1),
			slog.Int("maxRetries", maxRetries),
		)
	}

	return zero, &ExhaustedError{
		Subject:    policy.Subject,
		MaxRetries: maxRetries,
		Attempts:   maxRetries + 1,
		Last:       last,
	}
}

// Condition adapts a compiled CEL retry condition into a Retryable hook.
// Evaluation failures are reported through onError and the failure is retried.
func Condition(program expr.Program, maxRetries int, onError func(error)) func(int, error) bool {
	return func(attempt int, err error) bool {
		retry, evalErr := program.EvalBool(expr.RetryVars(attempt, maxRetries, errors.Is(err, ErrNotFound), err))
		if evalErr != nil {
			if onError != nil {
				onError(evalErr)
			}
			return true
		}
		return retry
	}
}
