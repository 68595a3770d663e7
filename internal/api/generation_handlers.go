// internal/api/generation_handlers.go
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/services"
	"github.com/gin-gonic/gin"
)

// trackerSink 把生成流水线的事件桥接到三个出口：
// WebSocket广播、SSE事件总线、进度跟踪器。
// content事件只转发不计入进度，避免高频更新
type trackerSink struct {
	tracker *services.ProgressTracker
	novelID string
	target  int

	mu        sync.Mutex
	completed int // 本次任务已完成的章节数
	steps     int // 当前章节已走过的阶段数
}

func newTrackerSink(tracker *services.ProgressTracker, novelID string, target int) *trackerSink {
	return &trackerSink{
		tracker: tracker,
		novelID: novelID,
		target:  services.NormalizeTargetChapters(target),
	}
}

// Handle 实现 models.EventSink
func (ts *trackerSink) Handle(event models.GenerationEvent) {
	wsManager.BroadcastToNovel(ts.novelID, event)
	novelEvents.Publish(ts.novelID, event)

	switch event.Type {
	case models.EventStatus:
		ts.mu.Lock()
		ts.steps++
		progress := ts.progressLocked()
		ts.mu.Unlock()
		ts.tracker.UpdateProgress(progress, event.ChapterNumber, event.Message)

	case models.EventChapterEnd:
		ts.mu.Lock()
		ts.completed++
		ts.steps = 0
		progress := ts.progressLocked()
		ts.mu.Unlock()
		message := fmt.Sprintf("第%d章《%s》已完成", event.ChapterNumber, event.Title)
		ts.tracker.UpdateProgress(progress, event.ChapterNumber, message)
	}
}

// progressLocked 按完成章节数加当前章内阶段估算百分比，调用方必须持有锁。
// 每章含4个阶段事件，按五分之一章距推进
func (ts *trackerSink) progressLocked() int {
	span := 100 / ts.target
	steps := ts.steps
	if steps > 4 {
		steps = 4
	}
	return ts.completed*span + steps*span/5
}

// GenerateChapters 启动章节生成任务。
// 立即返回任务ID，进度经 /api/tasks/:taskID/progress 或小说的事件流获取
func (h *Handler) GenerateChapters(c *gin.Context) {
	novelID := c.Param("id")

	var req struct {
		UserInstruction string `json:"user_instruction"`
		TargetChapters  int    `json:"target_chapters"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	if _, err := h.NovelService.GetNovel(c.Request.Context(), novelID); err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	// 快速路径拒绝；真正的互斥由生成流水线的小说级锁保证，
	// 竞态下漏网的并发任务会以冲突错误失败
	if h.NovelService.IsGenerating(novelID) {
		h.Response.Error(c, http.StatusConflict, ErrorGenerationConflict, "该小说已有生成任务在进行中")
		return
	}
	if active, ok := h.ProgressService.ActiveTrackerForNovel(novelID); ok {
		h.Response.Error(c, http.StatusConflict, ErrorGenerationConflict, "该小说已有生成任务在进行中", "任务ID: "+active.TaskID)
		return
	}

	taskID := fmt.Sprintf("generate_%d", time.Now().UnixNano())
	tracker := h.ProgressService.CreateTracker(taskID, novelID)

	ctx, cancel := context.WithCancel(context.Background())
	tracker.SetCancel(cancel)

	opts := models.GenerateOptions{
		UserInstruction: req.UserInstruction,
		TargetChapters:  req.TargetChapters,
	}
	sink := newTrackerSink(tracker, novelID, req.TargetChapters)

	go func() {
		defer cancel()

		chapters, err := h.NovelService.GenerateChapters(ctx, novelID, opts, sink.Handle)
		if err != nil {
			if ctx.Err() != nil {
				tracker.MarkCancelled()
			} else {
				tracker.Fail(err.Error())
			}
			return
		}
		tracker.Complete(fmt.Sprintf("本次共生成%d个章节", len(chapters)))
	}()

	h.Response.Accepted(c, gin.H{
		"task_id":  taskID,
		"novel_id": novelID,
	}, "生成任务已启动，请订阅进度更新")
}

// GetGenerationTask 查询生成任务的当前状态
func (h *Handler) GetGenerationTask(c *gin.Context) {
	taskID := c.Param("taskID")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务", "任务ID: "+taskID)
		return
	}

	h.Response.Success(c, tracker.Snapshot(), "任务状态获取成功")
}

// CancelGenerationTask 请求取消正在运行的生成任务。
// 已生成完毕的章节保留，当前章节中止且不落库
func (h *Handler) CancelGenerationTask(c *gin.Context) {
	taskID := c.Param("taskID")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务", "任务ID: "+taskID)
		return
	}

	if !tracker.Cancel() {
		h.Response.Conflict(c, "任务已结束，无法取消")
		return
	}

	h.Response.Success(c, gin.H{"task_id": taskID}, "取消请求已发出")
}
