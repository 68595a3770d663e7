// internal/api/sse_test.go
package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/models"
)

func newTestHub() *eventHub {
	return &eventHub{
		subscribers: make(map[string]map[chan models.GenerationEvent]struct{}),
	}
}

func TestEventHubPublishDelivers(t *testing.T) {
	hub := newTestHub()
	ch := hub.Subscribe("novel_1")
	defer hub.Unsubscribe("novel_1", ch)

	hub.Publish("novel_1", models.NewStatusEvent("novel_1", 1, "正在分解章节"))

	select {
	case event := <-ch:
		assert.Equal(t, models.EventStatus, event.Type)
		assert.Equal(t, "正在分解章节", event.Message)
	default:
		t.Fatal("订阅者未收到事件")
	}
}

func TestEventHubIsolatesNovels(t *testing.T) {
	hub := newTestHub()
	ch1 := hub.Subscribe("novel_1")
	ch2 := hub.Subscribe("novel_2")
	defer hub.Unsubscribe("novel_1", ch1)
	defer hub.Unsubscribe("novel_2", ch2)

	hub.Publish("novel_1", models.NewStatusEvent("novel_1", 1, "事件"))

	assert.Len(t, ch1, 1)
	assert.Len(t, ch2, 0, "其他小说的订阅者不应收到事件")
}

func TestEventHubSlowConsumerDoesNotBlock(t *testing.T) {
	hub := newTestHub()
	ch := hub.Subscribe("novel_1")
	defer hub.Unsubscribe("novel_1", ch)

	// 超出缓冲容量的事件被丢弃而不是阻塞发布方
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Publish("novel_1", models.NewContentEvent("novel_1", 1, 1, "片段"))
		}
	}()
	<-done

	assert.Equal(t, cap(ch), len(ch))
}

func TestEventHubUnsubscribeClosesChannel(t *testing.T) {
	hub := newTestHub()
	ch := hub.Subscribe("novel_1")

	hub.Unsubscribe("novel_1", ch)

	_, open := <-ch
	require.False(t, open, "取消订阅后通道应关闭")

	// 重复取消订阅与向空组发布都应无害
	hub.Unsubscribe("novel_1", ch)
	hub.Publish("novel_1", models.NewStatusEvent("novel_1", 1, "无人订阅"))
}
