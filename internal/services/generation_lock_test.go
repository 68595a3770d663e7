// internal/services/generation_lock_test.go
package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationLockMutualExclusion(t *testing.T) {
	m := NewGenerationLockManager()

	assert.False(t, m.IsBusy("novel-1"))
	assert.True(t, m.TryAcquire("novel-1"))
	assert.True(t, m.IsBusy("novel-1"))

	assert.False(t, m.TryAcquire("novel-1"), "占用中的小说拒绝重复获取")
	assert.True(t, m.TryAcquire("novel-2"), "不同小说互不影响")

	m.Release("novel-1")
	assert.False(t, m.IsBusy("novel-1"))
	assert.True(t, m.TryAcquire("novel-1"), "释放后可再次获取")
}

func TestGenerationLockReleaseUnknownIsNoop(t *testing.T) {
	m := NewGenerationLockManager()
	m.Release("从未出现过")
	assert.False(t, m.IsBusy("从未出现过"))
}

func TestGenerationLockSingleWinnerUnderContention(t *testing.T) {
	m := NewGenerationLockManager()

	const goroutines = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.TryAcquire("novel-1") {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won, "并发争抢只有一个赢家")
	assert.True(t, m.IsBusy("novel-1"))
}
