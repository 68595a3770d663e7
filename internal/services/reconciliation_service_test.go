// internal/services/reconciliation_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/outline"
)

const reviseDriftJSON = `{"plot_twists":["江无涯提前现身，旧案线索提早浮出"]}`

// reviseProvider 按请求类型路由：JSON模式走漂移提取，普通请求走大纲修订
func reviseProvider(driftJSON, revision string) *MockProvider {
	return &MockProvider{
		CompleteTextFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			if req.JSONMode {
				return &llm.CompletionResponse{Text: driftJSON, ModelName: "mock-model"}, nil
			}
			return &llm.CompletionResponse{Text: revision, ModelName: "mock-model"}, nil
		},
	}
}

func reconcileFixture(entryTo int) (*models.Novel, *outline.Plan, string) {
	novel := &models.Novel{
		ID:       "novel-1",
		Title:    "烬刀行",
		Settings: models.NovelSettings{ReconcileCharLimit: 6000},
	}
	plan := outline.ParsePlan(buildTestPlan(1, 20, 1, entryTo))
	_, future := plan.SplitDetailAt(4)
	return novel, plan, future
}

func TestReviseReturnsOriginalOnEmptyDrift(t *testing.T) {
	provider := reviseProvider(`{}`, "不应被用到的修订")
	svc := NewReconciliationService(newMockLLMService(provider))
	novel, plan, future := reconcileFixture(8)

	result := svc.ReviseFutureOutline(context.Background(), novel, plan, 3, "本章正文。", future)
	assert.Equal(t, future, result)
	assert.Equal(t, 1, provider.CallCount(), "报告为空时不应发起修订调用")
}

func TestReviseAppliesRevision(t *testing.T) {
	revision := "第4章：变局\n概要：江无涯的到来改变了追查方向。\n关键事件：\n- 联手查案\n\n第5章：旧档\n概要：府衙档案里的缺页。\n关键事件：\n- 档案缺页"
	provider := reviseProvider(reviseDriftJSON, revision)
	svc := NewReconciliationService(newMockLLMService(provider))
	novel, plan, future := reconcileFixture(8)

	result := svc.ReviseFutureOutline(context.Background(), novel, plan, 3, "本章正文。", future)
	assert.Equal(t, revision, result)
	assert.Equal(t, 2, provider.CallCount())

	// 修订请求必须携带不可更改的宏观蓝图与漂移概述
	reviseReq := provider.Requests()[1]
	assert.False(t, reviseReq.JSONMode)
	assert.Contains(t, reviseReq.Prompt, "绝对不可更改")
	assert.Contains(t, reviseReq.Prompt, "江无涯提前现身")
	assert.NotContains(t, reviseReq.Prompt, outline.ElisionMarker, "预算内的大纲不应出现省略标记")
}

func TestReviseTruncatesAndReappendsTail(t *testing.T) {
	revision := "第4章：变局\n概要：追查方向改变。\n关键事件：\n- 联手查案"
	provider := reviseProvider(reviseDriftJSON, revision)
	svc := NewReconciliationService(newMockLLMService(provider))

	novel, plan, future := reconcileFixture(40)
	novel.Settings.ReconcileCharLimit = 300
	head, tail := outline.TruncateRunes(future, 300)
	require.NotEmpty(t, tail, "测试前提：未来大纲必须超出预算")

	result := svc.ReviseFutureOutline(context.Background(), novel, plan, 3, "本章正文。", future)
	assert.Equal(t, revision+"\n\n"+tail, result, "被省略的尾部原样拼回，不参与修订")

	reviseReq := provider.Requests()[1]
	assert.Contains(t, reviseReq.Prompt, outline.ElisionMarker)
	assert.Contains(t, reviseReq.Prompt, head)
	assert.NotContains(t, reviseReq.Prompt, tail, "超出预算的尾部不进入请求")
}

func TestReviseFallsBackWhenRevisionUnparseable(t *testing.T) {
	provider := reviseProvider(reviseDriftJSON, "好的，我会按要求修订大纲。")
	svc := NewReconciliationService(newMockLLMService(provider))
	novel, plan, future := reconcileFixture(8)

	result := svc.ReviseFutureOutline(context.Background(), novel, plan, 3, "本章正文。", future)
	assert.Equal(t, future, result, "修订结果没有规范条目时保留原大纲")
}

func TestReviseFallsBackWhenDriftExtractionFails(t *testing.T) {
	provider := jsonProvider("不是JSON")
	svc := NewReconciliationService(newMockLLMService(provider))
	novel, plan, future := reconcileFixture(8)

	result := svc.ReviseFutureOutline(context.Background(), novel, plan, 3, "本章正文。", future)
	assert.Equal(t, future, result)
	assert.Equal(t, 1, provider.CallCount(), "漂移分析失败后不应再发起修订调用")
}

func TestReviseSkipsEmptyFutureOutline(t *testing.T) {
	provider := &MockProvider{}
	svc := NewReconciliationService(newMockLLMService(provider))
	novel, plan, _ := reconcileFixture(3)

	result := svc.ReviseFutureOutline(context.Background(), novel, plan, 3, "本章正文。", "  ")
	assert.Equal(t, "  ", result)
	assert.Zero(t, provider.CallCount())
}
