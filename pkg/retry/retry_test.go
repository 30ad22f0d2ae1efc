package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errFlaky     = errors.New("flaky")
	errPermanent = errors.New("permanent")
)

func fastConfig(maxAttempts int) Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_MaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(2), func(context.Context) error {
		attempts++
		return errFlaky
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, attempts)
}

func TestDo_Disabled(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), Config{}, func(context.Context) error {
		attempts++
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, attempts)
}

func TestDo_PermanentErrorStops(t *testing.T) {
	cfg := fastConfig(5)
	cfg.Permanent = []error{errPermanent}

	attempts := 0
	err := Do(context.Background(), cfg, func(context.Context) error {
		attempts++
		return fmt.Errorf("wrapped: %w", errPermanent)
	})
	assert.ErrorIs(t, err, errPermanent)
	assert.Equal(t, 1, attempts)
}

func TestDo_ContextCancelledDuringWait(t *testing.T) {
	cfg := fastConfig(5)
	cfg.InitialDelay = time.Second
	cfg.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempts := 0
	start := time.Now()
	err := Do(ctx, cfg, func(context.Context) error {
		attempts++
		return errFlaky
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errFlaky
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)

	got, err = DoWithResult(context.Background(), fastConfig(1), func(context.Context) (string, error) {
		return "partial", errFlaky
	})
	assert.Error(t, err)
	assert.Empty(t, got)
}

func TestBackoff(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, Backoff(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, Backoff(cfg, 1))
	assert.Equal(t, 400*time.Millisecond, Backoff(cfg, 2))
	assert.Equal(t, time.Second, Backoff(cfg, 10))

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := Backoff(cfg, 1)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}
