// internal/services/reconciliation_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/outline"
)

const reconcileSystemPrompt = "你是一位资深网文总编辑，负责在剧情发生偏移后修订未来章节的大纲。你输出的大纲格式必须严格遵守要求，供程序解析。"

// ReconciliationService 章节交付后的大纲修订闭环：
// 先分析正文相对计划的漂移，报告为空直接结束；
// 否则携带漂移概述、不可更改的宏观蓝图与未来大纲请求最小幅度修订。
// 修订属于尽力而为：任何失败都返回原始未来大纲，绝不向上抛错
type ReconciliationService struct {
	llm *LLMService
}

// NewReconciliationService 创建大纲修订服务
func NewReconciliationService(llmService *LLMService) *ReconciliationService {
	return &ReconciliationService{llm: llmService}
}

// ReviseFutureOutline 执行「分析→修订」闭环，返回修订后的未来大纲文本。
// 漂移报告为空时原样返回传入的未来大纲；
// 未来大纲超出字符预算时，请求里只带头部并以省略标记收尾，
// 被省略的尾部在响应之后原样拼回，不参与修订
func (s *ReconciliationService) ReviseFutureOutline(ctx context.Context, novel *models.Novel,
	plan *outline.Plan, chapterNumber int, chapterText, futureOutline string) string {

	if novel == nil || plan == nil || strings.TrimSpace(futureOutline) == "" {
		return futureOutline
	}

	report, err := extractDriftReport(ctx, s.llm, chapterText)
	if err != nil {
		logger.GetLogger().Warn("修订前的漂移分析失败，保留原大纲", map[string]interface{}{
			"novel_id": novel.ID,
			"chapter":  chapterNumber,
			"error":    err.Error(),
		})
		return futureOutline
	}
	if report.IsEmpty() {
		return futureOutline
	}

	settings := novel.Settings
	settings.Normalize()
	head, elided := outline.TruncateRunes(futureOutline, settings.ReconcileCharLimit)

	prompt := s.buildRevisePrompt(novel, plan, chapterNumber, report, head, elided != "")
	req := llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: reconcileSystemPrompt,
		Temperature:  0.6,
		MaxTokens:    settings.MaxTokens,
	}
	resp, err := s.llm.CreateTextCompletion(ctx, req)
	if err != nil {
		logger.GetLogger().Warn("大纲修订调用失败，保留原大纲", map[string]interface{}{
			"novel_id": novel.ID,
			"chapter":  chapterNumber,
			"error":    err.Error(),
		})
		return futureOutline
	}

	revised := strings.TrimSpace(resp.Text)
	if outline.MaxChapterNumber(revised) <= chapterNumber {
		logger.GetLogger().Warn("修订结果缺少规范章节条目，保留原大纲", map[string]interface{}{
			"novel_id": novel.ID,
			"chapter":  chapterNumber,
		})
		return futureOutline
	}

	// 被省略的尾部不参与修订，原样拼回
	if elided != "" {
		revised = revised + "\n\n" + elided
	}
	logger.GetLogger().Info("未来大纲已按漂移修订", map[string]interface{}{
		"novel_id": novel.ID,
		"chapter":  chapterNumber,
	})
	return revised
}

// buildRevisePrompt 组装修订提示词
func (s *ReconciliationService) buildRevisePrompt(novel *models.Novel, plan *outline.Plan,
	chapterNumber int, report *models.DriftReport, futureHead string, elided bool) string {

	var sb strings.Builder
	fmt.Fprintf(&sb, "第%d章已经定稿发布，剧情与原计划出现了下列偏移：\n\n", chapterNumber)
	sb.WriteString(report.Summary())
	sb.WriteString("\n\n宏观蓝图（全书走向，绝对不可更改）：\n")
	sb.WriteString(plan.MacroText)

	fmt.Fprintf(&sb, "\n\n第%d章起的未来大纲（待修订部分）：\n", chapterNumber+1)
	sb.WriteString(futureHead)
	if elided {
		sb.WriteString("\n")
		sb.WriteString(outline.ElisionMarker)
	}

	fmt.Fprintf(&sb, `

请在吸收上述既成剧情偏移的前提下修订未来大纲，要求：
- 保持最小修改：与偏移无关的条目原样保留，不要重写
- 章节号、条目格式与原大纲完全一致（第N章：标题 / 概要 / 关键事件）
- 修订后的剧情仍须收束到宏观蓝图的阶段走向上
- 只输出修订后的大纲条目本身，从第%d章开始，不要任何前言或解释`, chapterNumber+1)
	return sb.String()
}
