// internal/api/sse.go
package api

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/services"
	"github.com/gin-gonic/gin"
)

// eventHub 在进程内把生成事件分发给SSE订阅者，按小说分组。
// WebSocket走wsManager，不经过这里
type eventHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan models.GenerationEvent]struct{} // novelID -> channels
}

var novelEvents = &eventHub{
	subscribers: make(map[string]map[chan models.GenerationEvent]struct{}),
}

// Subscribe 订阅某本小说的生成事件
func (h *eventHub) Subscribe(novelID string) chan models.GenerationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan models.GenerationEvent, 64)
	if h.subscribers[novelID] == nil {
		h.subscribers[novelID] = make(map[chan models.GenerationEvent]struct{})
	}
	h.subscribers[novelID][ch] = struct{}{}
	return ch
}

// Unsubscribe 取消订阅并关闭通道
func (h *eventHub) Unsubscribe(novelID string, ch chan models.GenerationEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[novelID]; ok {
		if _, exists := subs[ch]; exists {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(h.subscribers, novelID)
		}
	}
}

// Publish 向所有订阅者非阻塞推送事件，慢消费者丢弃
func (h *eventHub) Publish(novelID string, event models.GenerationEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subscribers[novelID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// StreamNovelEvents 以SSE推送小说的生成事件，供不便使用WebSocket的客户端兜底。
// error事件终止流；chapter_end后若生成任务已结束也终止流
func (h *Handler) StreamNovelEvents(c *gin.Context) {
	novelID := c.Param("id")
	if _, err := h.NovelService.GetNovel(c.Request.Context(), novelID); err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")

	clientGone := c.Request.Context().Done()

	events := novelEvents.Subscribe(novelID)
	defer novelEvents.Unsubscribe(novelID, events)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"novel_id\":%q}\n\n", novelID)
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, _ := json.Marshal(event)
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, string(data))
			c.Writer.Flush()

			if event.Type == models.EventError {
				return
			}
			if event.Type == models.EventChapterEnd && !h.NovelService.IsGenerating(novelID) {
				fmt.Fprintf(c.Writer, "event: done\ndata: {\"novel_id\":%q}\n\n", novelID)
				c.Writer.Flush()
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}

// SubscribeTaskProgress 以SSE订阅生成任务的进度更新，任务终结后关闭流
func (h *Handler) SubscribeTaskProgress(c *gin.Context) {
	taskID := c.Param("taskID")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务", "任务ID: "+taskID)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")

	clientGone := c.Request.Context().Done()

	updates := tracker.Subscribe()
	defer tracker.Unsubscribe(updates)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"task_id\":%q}\n\n", taskID)
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			data, _ := json.Marshal(update)
			fmt.Fprintf(c.Writer, "event: progress\ndata: %s\n\n", string(data))
			c.Writer.Flush()

			if update.Status != services.TaskStatusRunning {
				return
			}
		case <-ticker.C:
			fmt.Fprintf(c.Writer, "event: heartbeat\ndata: {\"time\":%d}\n\n", time.Now().Unix())
			c.Writer.Flush()
		}
	}
}
