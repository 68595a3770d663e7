// internal/services/outline_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/outline"
	"github.com/Corphon/ChapterForge/internal/store"
)

// 阶段引导参数
const (
	// stageClosingThreshold 章节落入阶段末段的完成度阈值，超过后附加边界告诫
	stageClosingThreshold = 0.8

	// neutralStageGuidance 没有可用阶段信息时的中性引导
	neutralStageGuidance = "按详细大纲推进本章剧情，保持整体节奏稳定。"
)

// OutlineService 维护小说的演进式大纲：
// 计划文本在边界处一次性解析为结构化形态，
// 目标章节缺少条目时恰好触发一批续写并持久化
type OutlineService struct {
	store     *store.Store
	architect *PlanArchitectService
}

// NewOutlineService 创建大纲服务
func NewOutlineService(st *store.Store, architect *PlanArchitectService) *OutlineService {
	return &OutlineService{store: st, architect: architect}
}

// EnsureChapterPlanned 确保第 chapterNumber 章在详细大纲中有条目。
// 未命中时向计划服务请求一批续写（批量取自小说设置），
// 先持久化再重查一次；仍然缺失视为计划枯竭，生成必须中止。
// 返回解析后的计划供同一生成周期复用，不再反复解析
func (s *OutlineService) EnsureChapterPlanned(ctx context.Context, novel *models.Novel, chapterNumber int) (*outline.Plan, outline.ChapterOutlineEntry, error) {
	if novel == nil {
		return nil, outline.ChapterOutlineEntry{}, apperrors.NewValidationError("大纲查找需要小说对象", nil)
	}
	if chapterNumber < 1 {
		return nil, outline.ChapterOutlineEntry{}, apperrors.NewValidationError(
			fmt.Sprintf("非法章节号: %d", chapterNumber), nil)
	}

	plan := outline.ParsePlan(novel.Plan)
	if entry, ok := plan.Entry(chapterNumber); ok {
		return plan, entry, nil
	}

	settings := novel.Settings
	settings.Normalize()
	fromChapter := plan.MaxPlannedChapter() + 1

	logger.GetLogger().Info("章节尚无大纲条目，续写一批详细大纲", map[string]interface{}{
		"novel_id":     novel.ID,
		"chapter":      chapterNumber,
		"from_chapter": fromChapter,
		"batch":        settings.ExpansionBatch,
	})

	expansion, err := s.architect.ExpandDetailedOutline(ctx, novel, plan, fromChapter, settings.ExpansionBatch)
	if err != nil {
		return nil, outline.ChapterOutlineEntry{}, err
	}

	plan.AppendDetail(expansion)
	rendered := plan.Render()
	if err := s.store.UpdateNovelPlan(ctx, novel.ID, rendered); err != nil {
		return nil, outline.ChapterOutlineEntry{}, apperrors.NewProcessingError("持久化续写后的计划失败", err)
	}
	novel.Plan = rendered

	entry, ok := plan.Entry(chapterNumber)
	if !ok {
		return nil, outline.ChapterOutlineEntry{}, apperrors.NewPlanningExhaustedError(
			fmt.Sprintf("续写一批大纲后第%d章仍无条目，当前已规划至第%d章", chapterNumber, plan.MaxPlannedChapter()), nil)
	}
	return plan, entry, nil
}

// StageGuidance 生成目标章节的阶段引导文本，供分解与正文提示词注入。
// 章节未落入任何阶段时退化为中性提示；
// 进入阶段最后两成时附加边界告诫，防止提前引入下一阶段剧情
func (s *OutlineService) StageGuidance(plan *outline.Plan, chapterNumber int) string {
	if plan == nil {
		return neutralStageGuidance
	}
	stage, ok := plan.StageFor(chapterNumber)
	if !ok {
		return neutralStageGuidance
	}

	completion := stage.Completion(chapterNumber)
	var sb strings.Builder
	fmt.Fprintf(&sb, "当前叙事阶段：%s（第%d章-第%d章），本章位于该阶段约%d%%处。",
		stage.Name, stage.StartChapter, stage.EndChapter, int(completion*100+0.5))
	if summary := strings.TrimSpace(stage.Summary); summary != "" {
		sb.WriteString("\n阶段概要：")
		sb.WriteString(summary)
	}
	if completion >= stageClosingThreshold {
		sb.WriteString("\n注意：本章已接近当前阶段的尾声，应着力收束本阶段的冲突与悬念，不要提前引入下一阶段的剧情内容。")
	}
	return sb.String()
}
