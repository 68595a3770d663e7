// internal/services/retry.go
package services

import (
	"context"
	"time"
)

// retryLinear 重试 fn 最多 attempts 次，失败后等待 base, 2*base, 3*base...
// 上下文取消时立即返回 ctx.Err()
func retryLinear(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i < attempts-1 {
			if err := sleepContext(ctx, time.Duration(i+1)*base); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// retryExponential 重试 fn 最多 attempts 次，失败后等待 base, 2*base, 4*base...
func retryExponential(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i < attempts-1 {
			if err := sleepContext(ctx, base<<uint(i)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// sleepContext 可被上下文打断的休眠
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
