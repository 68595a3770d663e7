// internal/services/generation_lock.go
package services

import (
	"sync"
	"time"
)

// GenerationLockManager 按小说持有生成互斥状态：
// 同一部小说同一时刻只允许一条生成流水线，
// 重复请求直接拒绝而不是排队等待
type GenerationLockManager struct {
	mu    sync.Mutex
	locks map[string]*generationLock
}

// generationLock 单部小说的占用状态
type generationLock struct {
	busy     bool
	lastUsed time.Time
}

// 闲置锁条目的回收参数
const (
	generationLockMaxIdle = 200
	generationLockTimeout = 30 * time.Minute
)

// NewGenerationLockManager 创建生成锁管理器
func NewGenerationLockManager() *GenerationLockManager {
	return &GenerationLockManager{
		locks: make(map[string]*generationLock),
	}
}

// TryAcquire 尝试占用小说的生成锁，已被占用时返回 false
func (m *GenerationLockManager) TryAcquire(novelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupLocked()

	l, exists := m.locks[novelID]
	if !exists {
		l = &generationLock{}
		m.locks[novelID] = l
	}
	if l.busy {
		return false
	}
	l.busy = true
	l.lastUsed = time.Now()
	return true
}

// Release 释放小说的生成锁
func (m *GenerationLockManager) Release(novelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, exists := m.locks[novelID]; exists {
		l.busy = false
		l.lastUsed = time.Now()
	}
}

// IsBusy 查询小说当前是否有生成任务占用
func (m *GenerationLockManager) IsBusy(novelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, exists := m.locks[novelID]
	return exists && l.busy
}

// cleanupLocked 闲置条目过多时回收长期未用的锁，调用方须已持有 mu
func (m *GenerationLockManager) cleanupLocked() {
	if len(m.locks) <= generationLockMaxIdle {
		return
	}
	now := time.Now()
	for novelID, l := range m.locks {
		if !l.busy && now.Sub(l.lastUsed) > generationLockTimeout {
			delete(m.locks, novelID)
		}
	}
}
