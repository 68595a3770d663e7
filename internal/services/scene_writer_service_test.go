// internal/services/scene_writer_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/models"
)

func sceneWriteTestInput(scenes ...SceneBrief) SceneWriteInput {
	return SceneWriteInput{
		Novel: &models.Novel{
			ID:       "novel-1",
			Title:    "烬刀行",
			Settings: models.NovelSettings{ScenesPerChapter: 4},
		},
		ChapterNumber: 7,
		Decomposition: &ChapterDecomposition{
			Title:          "夜访当铺",
			Scenes:         scenes,
			ProgressStatus: ProgressOnTrack,
		},
		StageGuidance: "当前叙事阶段：初入江湖",
	}
}

// collectEvents 返回收集事件的回调与事件切片指针
func collectEvents() (models.EventSink, *[]models.GenerationEvent) {
	events := &[]models.GenerationEvent{}
	return func(ev models.GenerationEvent) {
		*events = append(*events, ev)
	}, events
}

func TestWriteChapterStreamsScenesInOrder(t *testing.T) {
	streams := [][]string{
		{"雪夜入城，", "灯火阑珊。"},
		{"当铺的门虚掩着。"},
	}
	calls := 0
	provider := &MockProvider{
		StreamCompletionFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
			chunks := streams[calls]
			calls++
			return streamOf(chunks...), nil
		},
	}
	svc := NewSceneWriterService(newMockLLMService(provider), nil)
	sink, events := collectEvents()

	body, err := svc.WriteChapter(context.Background(), sceneWriteTestInput(
		SceneBrief{Goal: "入城", Setting: "临安西门", Conflict: "宵禁盘查", Outcome: "混入城中"},
		SceneBrief{Goal: "探当铺", Setting: "城南当铺", Conflict: "掌柜起疑", Outcome: "拿到当票"},
	), sink)
	require.NoError(t, err)
	assert.Equal(t, "雪夜入城，灯火阑珊。\n\n当铺的门虚掩着。", body, "场景正文以空行相接")

	// 每个片段一条content事件，场景序号从1开始且保持顺序
	require.Len(t, *events, 3)
	wantScenes := []int{1, 1, 2}
	wantTexts := []string{"雪夜入城，", "灯火阑珊。", "当铺的门虚掩着。"}
	for i, ev := range *events {
		assert.Equal(t, models.EventContent, ev.Type)
		assert.Equal(t, wantScenes[i], ev.SceneIndex)
		assert.Equal(t, wantTexts[i], ev.Content)
		assert.Equal(t, 7, ev.ChapterNumber)
	}
}

func TestWriteChapterSecondScenePromptCarriesWrittenText(t *testing.T) {
	provider := &MockProvider{}
	svc := NewSceneWriterService(newMockLLMService(provider), nil)

	_, err := svc.WriteChapter(context.Background(), sceneWriteTestInput(
		SceneBrief{Goal: "入城"},
		SceneBrief{Goal: "探当铺"},
	), nil)
	require.NoError(t, err)

	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	assert.NotContains(t, reqs[0].Prompt, "本章已写正文", "首个场景没有前文可续")
	assert.Contains(t, reqs[1].Prompt, "本章已写正文")
	assert.Contains(t, reqs[1].Prompt, "默认流式内容", "第二个场景应携带第一个场景的产出")
	assert.True(t, reqs[1].Stream)
}

func TestWriteChapterAbortsWhenSceneFails(t *testing.T) {
	calls := 0
	provider := &MockProvider{
		StreamCompletionFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
			calls++
			if calls == 1 {
				return streamOf("第一场顺利写完。"), nil
			}
			ch := make(chan llm.StreamResponse, 1)
			ch <- llm.StreamResponse{Done: true, FinishReason: "error"}
			close(ch)
			return ch, nil
		},
	}
	svc := NewSceneWriterService(newMockLLMService(provider), nil)
	sink, events := collectEvents()

	body, err := svc.WriteChapter(context.Background(), sceneWriteTestInput(
		SceneBrief{Goal: "场景一"},
		SceneBrief{Goal: "场景二"},
		SceneBrief{Goal: "场景三"},
	), sink)
	require.Error(t, err)
	assert.True(t, apperrors.IsLLMError(err))
	assert.Contains(t, err.Error(), "场景2")
	assert.Empty(t, body, "任何场景失败整章作废")
	assert.Equal(t, 2, calls, "失败后不再生成后续场景")

	// 失败前已转发的片段保持原样，失败场景没有内容事件
	require.Len(t, *events, 1)
	assert.Equal(t, 1, (*events)[0].SceneIndex)
}

func TestWriteChapterCancelTakesPriority(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	provider := &MockProvider{
		StreamCompletionFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
			// 模拟流被取消中断：发出部分文本后直接关闭，没有终止块
			cancel()
			ch := make(chan llm.StreamResponse, 1)
			ch <- llm.StreamResponse{Text: "残句"}
			close(ch)
			return ch, nil
		},
	}
	svc := NewSceneWriterService(newMockLLMService(provider), nil)

	_, err := svc.WriteChapter(ctx, sceneWriteTestInput(SceneBrief{Goal: "入城"}), nil)
	assert.ErrorIs(t, err, context.Canceled, "取消应优先于流中断错误上报")
}

func TestWriteChapterFailsOnTruncatedStream(t *testing.T) {
	provider := &MockProvider{
		StreamCompletionFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
			ch := make(chan llm.StreamResponse, 1)
			ch <- llm.StreamResponse{Text: "只有半句"}
			close(ch) // 未发送终止块
			return ch, nil
		},
	}
	svc := NewSceneWriterService(newMockLLMService(provider), nil)

	_, err := svc.WriteChapter(context.Background(), sceneWriteTestInput(SceneBrief{Goal: "入城"}), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsLLMError(err))
	assert.Contains(t, err.Error(), "意外中断")
}

func TestWriteChapterFailsOnEmptySceneText(t *testing.T) {
	provider := &MockProvider{
		StreamCompletionFunc: func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
			return streamOf(), nil // 只有终止块，没有文本
		},
	}
	svc := NewSceneWriterService(newMockLLMService(provider), nil)

	_, err := svc.WriteChapter(context.Background(), sceneWriteTestInput(SceneBrief{Goal: "入城"}), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsLLMError(err))
	assert.Contains(t, err.Error(), "生成结果为空")
}

func TestWriteChapterValidatesInput(t *testing.T) {
	svc := NewSceneWriterService(newMockLLMService(&MockProvider{}), nil)
	_, err := svc.WriteChapter(context.Background(), SceneWriteInput{}, nil)
	assert.True(t, apperrors.IsValidationError(err))
}
