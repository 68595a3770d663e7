// internal/services/scene_writer_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
)

// sceneContextBudgetRunes 注入提示词的本章已写正文上限，
// 超出时只保留结尾部分维持衔接
const sceneContextBudgetRunes = 3000

const sceneWriterSystemPrompt = "你是一位中文网文作家，文笔流畅自然，擅长场景化叙事与人物对话。只输出小说正文，不要任何标题、解说或标注。"

// SceneWriteInput 章节正文生成所需的上下文
type SceneWriteInput struct {
	Novel           *models.Novel
	ChapterNumber   int
	Decomposition   *ChapterDecomposition // 分解出的标题与场景序列
	PrevChapterTail string                // 上一章结尾文本
	StageGuidance   string                // 阶段引导
	UserInstruction string                // 用户对本章的自由指令
}

// SceneWriterService 逐场景流式生成章节正文。
// 场景严格按序生成，每个流式片段在写入缓冲的同时转发给事件回调；
// 任何一个场景失败或被取消，整章作废，不产生部分结果
type SceneWriterService struct {
	llm       *LLMService
	retrieval *RetrievalService
}

// NewSceneWriterService 创建正文生成服务
func NewSceneWriterService(llmService *LLMService, retrieval *RetrievalService) *SceneWriterService {
	return &SceneWriterService{llm: llmService, retrieval: retrieval}
}

// WriteChapter 依次生成全部场景并返回以空行相接的章节正文。
// content 事件的场景序号从1开始，事件在单个场景内保持有序
func (s *SceneWriterService) WriteChapter(ctx context.Context, input SceneWriteInput, sink models.EventSink) (string, error) {
	if input.Novel == nil || input.Decomposition == nil {
		return "", apperrors.NewValidationError("正文生成需要小说对象与章节分解结果", nil)
	}
	if sink == nil {
		sink = models.NopSink
	}

	settings := input.Novel.Settings
	settings.Normalize()

	sceneTexts := make([]string, 0, len(input.Decomposition.Scenes))
	for i, scene := range input.Decomposition.Scenes {
		sceneIndex := i + 1
		written := strings.Join(sceneTexts, "\n\n")

		text, err := s.writeScene(ctx, input, settings, scene, sceneIndex, written, sink)
		if err != nil {
			return "", err
		}
		sceneTexts = append(sceneTexts, text)
	}

	body := strings.Join(sceneTexts, "\n\n")
	if strings.TrimSpace(body) == "" {
		return "", apperrors.NewLLMError(fmt.Sprintf("第%d章正文生成结果为空", input.ChapterNumber), nil)
	}
	return body, nil
}

// writeScene 流式生成单个场景，片段实时转发给事件回调
func (s *SceneWriterService) writeScene(ctx context.Context, input SceneWriteInput, settings models.NovelSettings,
	scene SceneBrief, sceneIndex int, written string, sink models.EventSink) (string, error) {

	retrieved := s.gatherSceneContext(ctx, input.Novel.ID, scene, settings.RetrievalTopK)
	prompt := s.buildScenePrompt(input, scene, sceneIndex, written, retrieved)

	req := llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: sceneWriterSystemPrompt,
		MaxTokens:    settings.MaxTokens,
		Temperature:  settings.Temperature,
		Stream:       true,
	}
	stream, err := s.llm.CreateStreamCompletion(ctx, req)
	if err != nil {
		return "", apperrors.NewLLMError(
			fmt.Sprintf("第%d章场景%d流式生成启动失败", input.ChapterNumber, sceneIndex), err)
	}

	var buf strings.Builder
	finishReason := ""
	terminated := false
	for chunk := range stream {
		if chunk.Text != "" {
			buf.WriteString(chunk.Text)
			sink(models.NewContentEvent(input.Novel.ID, input.ChapterNumber, sceneIndex, chunk.Text))
		}
		if chunk.Done {
			finishReason = chunk.FinishReason
			terminated = true
			break
		}
	}

	// 取消优先于其他失败形态：调用方撤回后整章不得落库
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !terminated {
		return "", apperrors.NewLLMError(
			fmt.Sprintf("第%d章场景%d的响应流意外中断", input.ChapterNumber, sceneIndex), nil)
	}
	if finishReason == "error" {
		return "", apperrors.NewLLMError(
			fmt.Sprintf("第%d章场景%d流式生成失败", input.ChapterNumber, sceneIndex), nil)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", apperrors.NewLLMError(
			fmt.Sprintf("第%d章场景%d生成结果为空", input.ChapterNumber, sceneIndex), nil)
	}
	return text, nil
}

// gatherSceneContext 按场景要素做一次向量检索。
// 检索属于增强手段，失败只降级不阻断正文生成
func (s *SceneWriterService) gatherSceneContext(ctx context.Context, novelID string, scene SceneBrief, topK int) *RetrievedContext {
	if s.retrieval == nil {
		return nil
	}
	query := sceneQueryText(scene)
	if query == "" {
		return nil
	}
	retrieved, err := s.retrieval.GatherForChapter(ctx, novelID, query, topK)
	if err != nil {
		logger.GetLogger().Warn("场景级检索失败，降级为无世界观参考", map[string]interface{}{
			"novel_id": novelID,
			"error":    err.Error(),
		})
		return nil
	}
	return retrieved
}

// buildScenePrompt 组装单场景提示词
func (s *SceneWriterService) buildScenePrompt(input SceneWriteInput, scene SceneBrief,
	sceneIndex int, written string, retrieved *RetrievedContext) string {

	var sb strings.Builder
	fmt.Fprintf(&sb, "小说标题：%s\n", input.Novel.Title)
	if style := styleLine(input.Novel.Settings.Style); style != "" {
		sb.WriteString(style)
	}
	fmt.Fprintf(&sb, "当前章节：第%d章《%s》，本场景是第%d个场景（共%d个）。\n",
		input.ChapterNumber, input.Decomposition.Title, sceneIndex, len(input.Decomposition.Scenes))

	sb.WriteString("\n本场景要求：\n")
	writeSceneField(&sb, "目标", scene.Goal)
	writeSceneField(&sb, "地点与时间", scene.Setting)
	writeSceneField(&sb, "冲突", scene.Conflict)
	writeSceneField(&sb, "结局", scene.Outcome)
	if len(scene.Characters) > 0 {
		writeSceneField(&sb, "登场角色", strings.Join(scene.Characters, "、"))
	}

	if guidance := strings.TrimSpace(input.StageGuidance); guidance != "" {
		fmt.Fprintf(&sb, "\n阶段引导：\n%s\n", guidance)
	}
	fmt.Fprintf(&sb, "\n节奏指引：%s\n", pacingGuidance(input.Decomposition.ProgressStatus))

	if tail := strings.TrimSpace(input.PrevChapterTail); tail != "" {
		fmt.Fprintf(&sb, "\n上一章结尾：\n%s\n", tail)
	}
	if written != "" {
		fmt.Fprintf(&sb, "\n本章已写正文（直接续写，不要重复、不要总结前文）：\n%s\n",
			models.Tail(written, sceneContextBudgetRunes))
	}
	if facts := retrieved.FormatForPrompt(); facts != "" {
		fmt.Fprintf(&sb, "\n世界观参考（须与既有设定一致）：\n%s\n", facts)
	}
	if instruction := strings.TrimSpace(input.UserInstruction); instruction != "" {
		fmt.Fprintf(&sb, "\n用户对本章的指令：\n%s\n", instruction)
	}

	sb.WriteString("\n请写出这个场景的完整正文，600到1200字，直接开始叙述。")
	return sb.String()
}

// writeSceneField 写入非空的场景要素行
func writeSceneField(sb *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	fmt.Fprintf(sb, "- %s：%s\n", label, value)
}

// sceneQueryText 拼出场景检索查询文本
func sceneQueryText(scene SceneBrief) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{scene.Goal, scene.Setting, scene.Conflict, strings.Join(scene.Characters, " ")} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// pacingGuidance 把进度评估翻译为节奏指引
func pacingGuidance(status string) string {
	switch status {
	case ProgressSevereDeviation:
		return "前文剧情已严重偏离大纲，本章须主动把主线拉回大纲方向，优先推进关键事件，删减无关支线。"
	case ProgressMinorDeviation:
		return "前文剧情与大纲有轻微偏差，本章在自然衔接的前提下逐步向大纲靠拢。"
	default:
		return "剧情推进正常，按场景要求稳步展开即可。"
	}
}
