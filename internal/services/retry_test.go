// internal/services/retry_test.go
package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryLinearSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := retryLinear(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("暂时失败")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryLinearExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("持续失败")
	calls := 0
	err := retryLinear(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestRetryExponentialStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryExponential(ctx, 5, time.Hour, func() error {
		calls++
		cancel()
		return errors.New("失败后取消")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "取消后不应再重试")
}

func TestRetryExponentialFirstTrySucceeds(t *testing.T) {
	calls := 0
	start := time.Now()
	err := retryExponential(context.Background(), 3, time.Second, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "首次成功不应等待")
}

func TestSleepContextInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	err := sleepContext(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
