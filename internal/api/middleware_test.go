// internal/api/middleware_test.go
package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()

	// 窗口内配额耗尽后拒绝
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("1.2.3.4", 3, time.Minute), "第%d次请求应放行", i+1)
	}
	assert.False(t, rl.Allow("1.2.3.4", 3, time.Minute))

	// 不同客户端互不影响
	assert.True(t, rl.Allow("5.6.7.8", 3, time.Minute))
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter()

	assert.True(t, rl.Allow("client", 1, 30*time.Millisecond))
	assert.False(t, rl.Allow("client", 1, 30*time.Millisecond))

	time.Sleep(40 * time.Millisecond)
	assert.True(t, rl.Allow("client", 1, 30*time.Millisecond), "窗口过期后应重新放行")
}
