package retry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/l0p7/planetcast/internal/expr"
	"github.com/stretchr/testify/require"
)

type logRecord struct {
	Level      string `json:"level"`
	Msg        string `json:"msg"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"maxRetries"`
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func records(t *testing.T, buf *bytes.Buffer) []logRecord {
	t.Helper()
	var out []logRecord
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec logRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func TestDoExhaustsBudget(t *testing.T) {
	logger, buf := captureLogger()
	calls := 0
	_, err := Do(context.Background(), Policy{MaxRetries: 3, Subject: "weather data"}, logger, func(_ context.Context, attempt int) (string, error) {
		calls++
		require.Equal(t, calls, attempt)
		return "", fmt.Errorf("boom %d", attempt)
	})

	require.Equal(t, 4, calls)
	require.EqualError(t, err, "Failed to fetch weather data after 3 attempts: boom 4")
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 4, exhausted.Attempts)
	require.EqualError(t, errors.Unwrap(err), "boom 4")

	recs := records(t, buf)
	var failed, retried []logRecord
	for _, rec := range recs {
		switch rec.Msg {
		case "fetch attempt failed":
			require.Equal(t, "ERROR", rec.Level)
			failed = append(failed, rec)
		case "retrying fetch":
			require.Equal(t, "INFO", rec.Level)
			retried = append(retried, rec)
		}
	}
	require.Len(t, failed, 4)
	require.Len(t, retried, 3)
	for i, rec := range retried {
		require.Equal(t, i+2, rec.Attempt)
		require.Equal(t, 3, rec.MaxRetries)
	}
}

func TestDoRecovers(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), Policy{MaxRetries: 3, Subject: "weather data"}, nil, func(context.Context, int) (string, error) {
		calls++
		if calls <= 3 {
			return "", errors.New("flaky")
		}
		return "sunny", nil
	})
	require.NoError(t, err)
	require.Equal(t, "sunny", got)
	require.Equal(t, 4, calls)
}

func TestDoRetriesNotFoundByDefault(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{MaxRetries: 2, Subject: "weather data"}, nil, func(context.Context, int) (int, error) {
		calls++
		return 0, fmt.Errorf("Country Atlantis not found: %w", ErrNotFound)
	})
	require.Equal(t, 3, calls)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDoStopsWhenNotRetryable(t *testing.T) {
	calls := 0
	policy := Policy{
		MaxRetries: 3,
		Subject:    "weather data",
		Retryable:  func(_ int, err error) bool { return !errors.Is(err, ErrNotFound) },
	}
	_, err := Do(context.Background(), policy, nil, func(context.Context, int) (int, error) {
		calls++
		return 0, fmt.Errorf("Country Atlantis not found: %w", ErrNotFound)
	})
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, ErrNotFound)
	var exhausted *ExhaustedError
	require.False(t, errors.As(err, &exhausted))
}

func TestDoZeroRetries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), Policy{Subject: "planet data"}, nil, func(context.Context, int) (int, error) {
		calls++
		return 0, errors.New("down")
	})
	require.Equal(t, 1, calls)
	require.EqualError(t, err, "Failed to fetch planet data after 0 attempts: down")
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Do(ctx, Policy{MaxRetries: 3, Subject: "weather data"}, nil, func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, errors.New("down")
	})
	require.Equal(t, 1, calls)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCondition(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile("!notFound && attempt < 3")
	require.NoError(t, err)

	retryable := Condition(program, 3, nil)
	require.False(t, retryable(1, fmt.Errorf("x: %w", ErrNotFound)))
	require.True(t, retryable(1, errors.New("503")))
	require.False(t, retryable(3, errors.New("503")))
}
