// internal/services/plan_architect_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/outline"
)

func architectNovel() *models.Novel {
	return &models.Novel{
		ID:      "novel-1",
		Title:   "烬刀行",
		Premise: "捕快顾烬接手一桩旧案，牵出江湖隐秘",
	}
}

func TestBootstrapPlanComposesMacroAndDetail(t *testing.T) {
	provider := jsonProvider(pipelineBootstrapJSON)
	svc := NewPlanArchitectService(newMockLLMService(provider))

	planText, err := svc.BootstrapPlan(context.Background(), architectNovel())
	require.NoError(t, err)

	parsed := outline.ParsePlan(planText)
	assert.Equal(t, 3, parsed.EntryCount())
	assert.Len(t, parsed.Stages, 2)
	assert.Contains(t, planText, "【第一阶段】初入江湖")
	assert.Contains(t, planText, "第3章：风起临安")

	req := provider.Requests()[0]
	assert.True(t, req.JSONMode)
	assert.Contains(t, req.Prompt, "烬刀行")
	assert.Contains(t, req.Prompt, "捕快顾烬接手一桩旧案")
	assert.Contains(t, req.Prompt, "只写第1章到第10章", "首批条目数取设置的续写批量")
}

func TestBootstrapPlanValidation(t *testing.T) {
	provider := &MockProvider{}
	svc := NewPlanArchitectService(newMockLLMService(provider))

	_, err := svc.BootstrapPlan(context.Background(), nil)
	assert.True(t, apperrors.IsValidationError(err))

	_, err = svc.BootstrapPlan(context.Background(), &models.Novel{Title: "烬刀行"})
	assert.True(t, apperrors.IsValidationError(err))

	assert.Zero(t, provider.CallCount())
}

// 首次返回的计划可解析但没有条目时，失败结果不得留在缓存里：
// 用相同标题与前提重试必须重新请求模型，而不是复现上一次的失败
func TestBootstrapPlanRetryAfterUnusableResultRegenerates(t *testing.T) {
	unusable := `{"macro_outline": "全书走向的粗略描述", "detailed_outline": "这里没有任何规范的章节条目"}`
	bad := true
	provider := &MockProvider{
		CompleteTextFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			text := pipelineBootstrapJSON
			if bad {
				text = unusable
			}
			return &llm.CompletionResponse{Text: text, ModelName: "mock-model"}, nil
		},
	}
	svc := NewPlanArchitectService(newMockLLMService(provider))
	novel := architectNovel()

	_, err := svc.BootstrapPlan(context.Background(), novel)
	require.True(t, apperrors.IsLLMError(err))
	assert.Contains(t, err.Error(), "没有可识别的章节条目")

	bad = false
	planText, err := svc.BootstrapPlan(context.Background(), novel)
	require.NoError(t, err)
	assert.Equal(t, 3, outline.ParsePlan(planText).EntryCount())
	assert.Equal(t, 2, provider.CallCount(), "重试必须穿透缓存重新请求")
}

func TestExpandDetailedOutlineBuildsContinuationPrompt(t *testing.T) {
	provider := &MockProvider{
		CompleteTextFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Text: expansionText(6, 15), ModelName: "mock-model"}, nil
		},
	}
	svc := NewPlanArchitectService(newMockLLMService(provider))
	plan := outline.ParsePlan(buildTestPlan(1, 20, 1, 5))

	text, err := svc.ExpandDetailedOutline(context.Background(), architectNovel(), plan, 6, 0)
	require.NoError(t, err)
	assert.Equal(t, expansionText(6, 15), text)

	req := provider.Requests()[0]
	assert.False(t, req.JSONMode)
	assert.Contains(t, req.Prompt, "请续写第6章到第15章的大纲", "批量缺省时按设置的续写批量补齐")
	assert.Contains(t, req.Prompt, "【第一阶段】初入江湖")
	assert.Contains(t, req.Prompt, "临安风波（3）", "携带已有大纲的最后几章供衔接")
	assert.Contains(t, req.Prompt, "临安风波（5）")
	assert.NotContains(t, req.Prompt, "临安风波（2）", "更早的条目不进入提示")
}

func TestExpandDetailedOutlineRejectsStaleResult(t *testing.T) {
	provider := &MockProvider{
		CompleteTextFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Text: expansionText(1, 3), ModelName: "mock-model"}, nil
		},
	}
	svc := NewPlanArchitectService(newMockLLMService(provider))
	plan := outline.ParsePlan(buildTestPlan(1, 20, 1, 5))

	_, err := svc.ExpandDetailedOutline(context.Background(), architectNovel(), plan, 6, 10)
	require.True(t, apperrors.IsLLMError(err))
	assert.Contains(t, err.Error(), "没有第6章及之后")
}

func TestExpandDetailedOutlineRequiresPlan(t *testing.T) {
	svc := NewPlanArchitectService(newMockLLMService(&MockProvider{}))

	_, err := svc.ExpandDetailedOutline(context.Background(), architectNovel(), nil, 6, 10)
	assert.True(t, apperrors.IsValidationError(err))
}
