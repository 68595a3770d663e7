// internal/services/progress_service.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/ChapterForge/internal/models"
)

// 任务状态
const (
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// ProgressUpdate 表示进度更新
type ProgressUpdate struct {
	Progress      int    `json:"progress"`       // 进度百分比 (0-100)
	Message       string `json:"message"`        // 描述性消息
	Status        string `json:"status"`         // running, completed, failed, cancelled
	ChapterNumber int    `json:"chapter_number"` // 当前章节号，无则为0
}

// ProgressTracker 跟踪一次生成任务的进度
type ProgressTracker struct {
	TaskID        string                       // 任务唯一标识符
	NovelID       string                       // 所属小说
	Progress      int                          // 进度百分比 (0-100)
	Message       string                       // 当前状态描述
	Status        string                       // running, completed, failed, cancelled
	ChapterNumber int                          // 正在生成的章节号
	StartTime     time.Time                    // 开始时间
	UpdateTime    time.Time                    // 最后更新时间
	Subscribers   map[chan ProgressUpdate]bool // 订阅进度更新的通道
	Done          chan struct{}                // 任务结束信号

	cancel context.CancelFunc // 任务取消入口，由生成方注册
	mutex  sync.Mutex
}

// ProgressService 管理所有进度跟踪器
type ProgressService struct {
	trackers map[string]*ProgressTracker
	mutex    sync.RWMutex
}

// NewProgressService 创建进度服务实例
func NewProgressService() *ProgressService {
	return &ProgressService{
		trackers: make(map[string]*ProgressTracker),
	}
}

// CreateTracker 创建新的进度跟踪器，taskID已存在时返回现有追踪器
func (s *ProgressService) CreateTracker(taskID, novelID string) *ProgressTracker {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if tracker, exists := s.trackers[taskID]; exists {
		return tracker
	}

	tracker := &ProgressTracker{
		TaskID:      taskID,
		NovelID:     novelID,
		Progress:    0,
		Message:     "任务初始化中...",
		Status:      TaskStatusRunning,
		StartTime:   time.Now(),
		UpdateTime:  time.Now(),
		Subscribers: make(map[chan ProgressUpdate]bool),
		Done:        make(chan struct{}),
	}

	s.trackers[taskID] = tracker
	return tracker
}

// GetTracker 获取进度跟踪器
func (s *ProgressService) GetTracker(taskID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tracker, exists := s.trackers[taskID]
	return tracker, exists
}

// ActiveTrackerForNovel 返回该小说正在运行的任务，用于拒绝并发生成
func (s *ProgressService) ActiveTrackerForNovel(novelID string) (*ProgressTracker, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, tracker := range s.trackers {
		tracker.mutex.Lock()
		active := tracker.NovelID == novelID && tracker.Status == TaskStatusRunning
		tracker.mutex.Unlock()
		if active {
			return tracker, true
		}
	}
	return nil, false
}

// Snapshot 导出任务当前状态的只读快照
func (t *ProgressTracker) Snapshot() models.GenerationTask {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return models.GenerationTask{
		TaskID:        t.TaskID,
		NovelID:       t.NovelID,
		Status:        t.Status,
		Progress:      t.Progress,
		Message:       t.Message,
		ChapterNumber: t.ChapterNumber,
		StartTime:     t.StartTime,
		UpdateTime:    t.UpdateTime,
	}
}

// SetCancel 注册任务的取消函数
func (t *ProgressTracker) SetCancel(cancel context.CancelFunc) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.cancel = cancel
}

// Cancel 请求取消任务，任务尚在运行时返回true
func (t *ProgressTracker) Cancel() bool {
	t.mutex.Lock()
	cancel := t.cancel
	running := t.Status == TaskStatusRunning
	t.mutex.Unlock()

	if !running || cancel == nil {
		return false
	}
	cancel()
	return true
}

// UpdateProgress 更新任务进度
func (t *ProgressTracker) UpdateProgress(progress int, chapterNumber int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != TaskStatusRunning {
		return
	}
	if progress > t.Progress {
		t.Progress = progress
	}
	if chapterNumber > 0 {
		t.ChapterNumber = chapterNumber
	}
	if message != "" {
		t.Message = message
	}
	t.UpdateTime = time.Now()

	t.notifyLocked()
}

// Complete 标记任务完成
func (t *ProgressTracker) Complete(message string) {
	t.finish(TaskStatusCompleted, 100, orDefault(message, "任务已完成"))
}

// Fail 标记任务失败
func (t *ProgressTracker) Fail(errorMsg string) {
	t.finish(TaskStatusFailed, -1, fmt.Sprintf("任务失败: %s", errorMsg))
}

// MarkCancelled 标记任务已被取消
func (t *ProgressTracker) MarkCancelled() {
	t.finish(TaskStatusCancelled, -1, "任务已取消")
}

// finish 进入终态并关闭Done，重复调用只有第一次生效
func (t *ProgressTracker) finish(status string, progress int, message string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.Status != TaskStatusRunning {
		return
	}
	t.Status = status
	if progress >= 0 {
		t.Progress = progress
	}
	t.Message = message
	t.UpdateTime = time.Now()

	t.notifyLocked()
	close(t.Done)
}

// notifyLocked 向所有订阅者非阻塞推送当前状态，调用方必须持有锁
func (t *ProgressTracker) notifyLocked() {
	update := ProgressUpdate{
		Progress:      t.Progress,
		Message:       t.Message,
		Status:        t.Status,
		ChapterNumber: t.ChapterNumber,
	}
	for subscriber := range t.Subscribers {
		select {
		case subscriber <- update:
		default:
		}
	}
}

// Subscribe 订阅进度更新，返回的通道会立即收到当前状态
func (t *ProgressTracker) Subscribe() chan ProgressUpdate {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	subscriber := make(chan ProgressUpdate, 10)
	t.Subscribers[subscriber] = true

	subscriber <- ProgressUpdate{
		Progress:      t.Progress,
		Message:       t.Message,
		Status:        t.Status,
		ChapterNumber: t.ChapterNumber,
	}

	return subscriber
}

// Unsubscribe 取消订阅
func (t *ProgressTracker) Unsubscribe(subscriber chan ProgressUpdate) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if _, ok := t.Subscribers[subscriber]; ok {
		delete(t.Subscribers, subscriber)
		close(subscriber)
	}
}

// CleanupCompletedTasks 清理早已结束的任务
func (s *ProgressService) CleanupCompletedTasks(maxAge time.Duration) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := time.Now()
	for id, tracker := range s.trackers {
		tracker.mutex.Lock()
		finished := tracker.Status != TaskStatusRunning
		old := now.Sub(tracker.UpdateTime) > maxAge
		tracker.mutex.Unlock()

		if finished && old {
			delete(s.trackers, id)
		}
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
