package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/notevault/internal/pkg/errors"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return appErr.Unavailable(errors.New("connection reset"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), "test", func(ctx context.Context) error {
		calls++
		return appErr.Unavailable(errors.New("down"))
	})
	require.Error(t, err)
	require.True(t, appErr.IsRetryable(err))
	require.Equal(t, 3, calls)
}

func TestDoDoesNotRetryTerminalErrors(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), "test", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("deny: %w", appErr.ErrPermissionDenied)
	})
	require.ErrorIs(t, err, appErr.ErrPermissionDenied)
	require.Equal(t, 1, calls)
}

func TestDoValueReturnsValue(t *testing.T) {
	value, err := DoValue(context.Background(), fastConfig(), "test", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, value)
}

func TestDoValueIfUsesCallerClassification(t *testing.T) {
	calls := 0
	_, err := DoValueIf(context.Background(), fastConfig(), "test", appErr.IsNotApplied, func(ctx context.Context) (int, error) {
		calls++
		return 0, appErr.Unavailable(errors.New("connection lost after send"))
	})
	require.True(t, appErr.IsRetryable(err))
	require.Equal(t, 1, calls)

	calls = 0
	value, err := DoValueIf(context.Background(), fastConfig(), "test", appErr.IsNotApplied, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, appErr.NotApplied(appErr.Unavailable(errors.New("serialization failure")))
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, value)
	require.Equal(t, 2, calls)
}
