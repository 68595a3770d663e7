// internal/api/generation_handlers_test.go
package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/services"
)

func TestTrackerSinkProgressAccounting(t *testing.T) {
	ps := services.NewProgressService()
	tracker := ps.CreateTracker("task_progress", "novel_1")

	// 目标2章，每章跨度50个百分点
	sink := newTrackerSink(tracker, "novel_1", 2)

	sink.Handle(models.NewStatusEvent("novel_1", 1, "正在分解章节"))
	assert.Equal(t, 10, tracker.Snapshot().Progress)

	// content事件不推进进度
	sink.Handle(models.NewContentEvent("novel_1", 1, 1, "正文片段"))
	assert.Equal(t, 10, tracker.Snapshot().Progress)

	// 阶段数在章内封顶，进度不会越过本章跨度
	for i := 0; i < 6; i++ {
		sink.Handle(models.NewStatusEvent("novel_1", 1, "阶段推进"))
	}
	assert.Equal(t, 40, tracker.Snapshot().Progress)

	sink.Handle(models.NewChapterEndEvent("novel_1", &models.Chapter{
		ID: "ch_1", Number: 1, Title: "残卷现世", WordCount: 2100,
	}))
	snapshot := tracker.Snapshot()
	assert.Equal(t, 50, snapshot.Progress)
	assert.Contains(t, snapshot.Message, "第1章")
	assert.Contains(t, snapshot.Message, "残卷现世")

	// 第二章完成后到达100
	sink.Handle(models.NewChapterEndEvent("novel_1", &models.Chapter{
		ID: "ch_2", Number: 2, Title: "宗门选拔", WordCount: 2300,
	}))
	assert.Equal(t, 100, tracker.Snapshot().Progress)
}

func TestTrackerSinkNormalizesTarget(t *testing.T) {
	ps := services.NewProgressService()
	tracker := ps.CreateTracker("task_norm", "novel_1")

	// 非法目标收敛为1章，全跨度100
	sink := newTrackerSink(tracker, "novel_1", 0)
	sink.Handle(models.NewChapterEndEvent("novel_1", &models.Chapter{
		ID: "ch_1", Number: 1, Title: "开篇", WordCount: 1800,
	}))
	assert.Equal(t, 100, tracker.Snapshot().Progress)
}

func TestTrackerSinkErrorEventForwardsOnly(t *testing.T) {
	ps := services.NewProgressService()
	tracker := ps.CreateTracker("task_err", "novel_1")
	sink := newTrackerSink(tracker, "novel_1", 1)

	sink.Handle(models.NewStatusEvent("novel_1", 1, "正在生成"))
	before := tracker.Snapshot()

	// error事件只转发到事件流，任务终态由生成协程决定
	sink.Handle(models.NewErrorEvent("novel_1", 1, assert.AnError))
	after := tracker.Snapshot()

	require.Equal(t, before.Progress, after.Progress)
	assert.Equal(t, services.TaskStatusRunning, after.Status)
}
