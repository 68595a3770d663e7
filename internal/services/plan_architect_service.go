// internal/services/plan_architect_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/outline"
)

// PlanArchitectService 负责小说计划文本的生成：
// 创建小说时一次性产出宏观蓝图与首批详细大纲，
// 后续按批次续写详细大纲条目
type PlanArchitectService struct {
	llm *LLMService
}

// NewPlanArchitectService 创建计划生成服务
func NewPlanArchitectService(llmService *LLMService) *PlanArchitectService {
	return &PlanArchitectService{llm: llmService}
}

// bootstrapPlanResult 初始计划的结构化输出
type bootstrapPlanResult struct {
	MacroOutline    string `json:"macro_outline"`    // 宏观蓝图，含阶段划分
	DetailedOutline string `json:"detailed_outline"` // 首批章节的详细大纲
}

const architectSystemPrompt = "你是一位资深网文总编辑，擅长规划长篇小说的整体结构、阶段节奏与章节大纲。你输出的大纲格式必须严格遵守要求，供程序解析。"

// BootstrapPlan 根据小说前提生成完整的初始计划文本：
// 宏观蓝图（阶段划分）加上首批详细大纲条目。
// 返回的文本已通过编解码器校验，可直接持久化
func (s *PlanArchitectService) BootstrapPlan(ctx context.Context, novel *models.Novel) (string, error) {
	if novel == nil || strings.TrimSpace(novel.Premise) == "" {
		return "", apperrors.NewValidationError("生成初始计划需要小说前提", nil)
	}

	settings := novel.Settings
	settings.Normalize()
	batch := settings.ExpansionBatch

	prompt := fmt.Sprintf(`请为下面这部长篇小说设计整体创作计划。

小说标题：%s
小说前提：
%s
%s
要求分两部分输出：

一、宏观蓝图（macro_outline 字段）
- 将全书划分为3到5个叙事阶段，每个阶段独立一行，格式严格为：
  【第一阶段】阶段名称（第1章-第N章）
- 每个阶段标题行之后，用2到4行描述该阶段的核心冲突、主线推进和阶段结尾的状态
- 各阶段章节范围首尾相接，不得重叠或留空

二、详细大纲（detailed_outline 字段）
- 只写第1章到第%d章，每章一个条目，格式严格为：
  第N章：章节标题
  概要：两三句话的剧情概要
  关键事件：
  - 事件1
  - 事件2
- 章节号必须连续，从第1章开始
- 关键事件按发生顺序排列，每章2到4条`,
		novel.Title, novel.Premise, styleLine(settings.Style), batch)

	var result bootstrapPlanResult
	if err := s.llm.CreateStructuredCompletion(ctx, prompt, architectSystemPrompt, &result); err != nil {
		return "", apperrors.NewLLMError("生成初始计划失败", err)
	}

	planText := outline.Join(strings.TrimSpace(result.MacroOutline), strings.TrimSpace(result.DetailedOutline))
	parsed := outline.ParsePlan(planText)
	if parsed.EntryCount() == 0 {
		// 可解析但无条目的计划不得留在缓存里，否则重建同名小说必然复现失败
		s.llm.InvalidateStructuredCache(prompt, architectSystemPrompt)
		return "", apperrors.NewLLMError(
			fmt.Sprintf("初始计划里没有可识别的章节条目，模型返回: %s", truncateText(result.DetailedOutline, 200)), nil)
	}
	if len(parsed.Stages) == 0 {
		logger.GetLogger().Warn("初始计划缺少可解析的阶段划分，阶段引导将退化为中性提示", map[string]interface{}{
			"novel_id": novel.ID,
		})
	}

	return planText, nil
}

// ExpandDetailedOutline 续写详细大纲，生成从 fromChapter 开始的 batch 个条目。
// 返回原始条目文本，由调用方追加进计划并持久化
func (s *PlanArchitectService) ExpandDetailedOutline(ctx context.Context, novel *models.Novel, plan *outline.Plan, fromChapter, batch int) (string, error) {
	if plan == nil {
		return "", apperrors.NewValidationError("续写大纲需要已解析的计划", nil)
	}
	if fromChapter < 1 {
		fromChapter = 1
	}
	if batch < 1 {
		settings := novel.Settings
		settings.Normalize()
		batch = settings.ExpansionBatch
	}
	toChapter := fromChapter + batch - 1

	var sb strings.Builder
	sb.WriteString("请为下面这部长篇小说续写详细大纲。\n\n")
	fmt.Fprintf(&sb, "小说标题：%s\n", novel.Title)
	if style := styleLine(novel.Settings.Style); style != "" {
		sb.WriteString(style)
	}
	sb.WriteString("\n宏观蓝图（不可偏离的全书走向）：\n")
	sb.WriteString(plan.MacroText)
	sb.WriteString("\n")

	if recent := recentEntriesText(plan, 3); recent != "" {
		sb.WriteString("\n已有大纲的最后几章（续写必须与之衔接）：\n")
		sb.WriteString(recent)
	}

	fmt.Fprintf(&sb, `
请续写第%d章到第%d章的大纲，每章一个条目，格式严格为：
第N章：章节标题
概要：两三句话的剧情概要
关键事件：
- 事件1
- 事件2

要求：
- 章节号从第%d章开始连续编号，共%d章，不要遗漏或跳号
- 剧情须承接已有大纲，并落在宏观蓝图对应阶段的范围内
- 只输出大纲条目本身，不要任何前言或解释`,
		fromChapter, toChapter, fromChapter, batch)

	req := llm.CompletionRequest{
		Prompt:       sb.String(),
		SystemPrompt: architectSystemPrompt,
		Temperature:  0.7,
		MaxTokens:    4000,
	}
	resp, err := s.llm.CreateTextCompletion(ctx, req)
	if err != nil {
		return "", apperrors.NewLLMError("续写详细大纲失败", err)
	}

	text := strings.TrimSpace(resp.Text)
	if outline.MaxChapterNumber(text) < fromChapter {
		return "", apperrors.NewLLMError(
			fmt.Sprintf("续写结果里没有第%d章及之后的规范条目，模型返回: %s", fromChapter, truncateText(text, 200)), nil)
	}
	return text, nil
}

// styleLine 风格提示行，未设置时为空
func styleLine(style string) string {
	if strings.TrimSpace(style) == "" {
		return ""
	}
	return fmt.Sprintf("写作风格：%s\n", style)
}

// recentEntriesText 取计划中最后 n 个条目的原文，供续写提示衔接
func recentEntriesText(plan *outline.Plan, n int) string {
	chapters := plan.PlannedChapters()
	if len(chapters) == 0 {
		return ""
	}
	if len(chapters) > n {
		chapters = chapters[len(chapters)-n:]
	}
	var parts []string
	for _, num := range chapters {
		if entry, ok := plan.Entry(num); ok {
			parts = append(parts, strings.TrimSpace(outline.FormatEntry(entry)))
		}
	}
	return strings.Join(parts, "\n\n")
}
