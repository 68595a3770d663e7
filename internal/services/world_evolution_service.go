// internal/services/world_evolution_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/store"
)

// 漂移提取的重试参数：指数退避
const (
	evolveAttempts  = 3
	evolveRetryBase = 1 * time.Second
)

const driftSystemPrompt = "你是一位网文设定管理员，负责从章节正文中提取世界观的变化。严格按要求输出JSON对象，不要输出任何其他内容。"

// WorldEvolutionService 章节交付后的世界观演化：
// 从正文提取漂移报告，合并去重后写入世界观库并同步向量索引。
// 整个过程只增强后续章节的上下文，任何失败都不回溯已交付的章节
type WorldEvolutionService struct {
	llm       *LLMService
	store     *store.Store
	retrieval *RetrievalService
}

// NewWorldEvolutionService 创建世界观演化服务
func NewWorldEvolutionService(llmService *LLMService, st *store.Store, retrieval *RetrievalService) *WorldEvolutionService {
	return &WorldEvolutionService{llm: llmService, store: st, retrieval: retrieval}
}

// Evolve 对一章正文执行完整演化流程。
// 提取按指数退避重试，最终失败记日志后静默跳过；
// 报告为空时不产生任何写入
func (s *WorldEvolutionService) Evolve(ctx context.Context, novelID, chapterText string) {
	var report *models.DriftReport
	err := retryExponential(ctx, evolveAttempts, evolveRetryBase, func() error {
		extracted, extractErr := extractDriftReport(ctx, s.llm, chapterText)
		if extractErr != nil {
			return extractErr
		}
		report = extracted
		return nil
	})
	if err != nil {
		logger.GetLogger().Warn("漂移提取重试耗尽，本章世界观演化跳过", map[string]interface{}{
			"novel_id": novelID,
			"error":    err.Error(),
		})
		return
	}
	if report.IsEmpty() {
		logger.GetLogger().Debug("漂移报告为空，世界观无变化", map[string]interface{}{
			"novel_id": novelID,
		})
		return
	}
	s.ApplyReport(ctx, novelID, report)
}

// ApplyReport 把漂移报告落实到世界观库与向量索引。
// 每个类别先做名称级合并去重（更新描述覆盖新增描述），
// 保证每个名称恰好一次写入；存储事务完成后再更新索引，
// 索引失败只记日志，不回滚已提交的存储
func (s *WorldEvolutionService) ApplyReport(ctx context.Context, novelID string, report *models.DriftReport) {
	for _, kind := range models.AllEntityKinds() {
		added, updated := report.Deltas(kind)
		merged := models.MergeEntityDeltas(added, updated)
		if len(merged) == 0 {
			continue
		}

		entities := make([]models.WorldEntity, 0, len(merged))
		for _, delta := range merged {
			entities = append(entities, models.WorldEntity{
				NovelID: novelID,
				Kind:    kind,
				Name:    delta.Name,
				Content: delta.Description,
			})
		}

		canonical, err := s.store.UpsertWorldEntities(ctx, novelID, kind, entities)
		if err != nil {
			logger.GetLogger().Error("世界观实体写入失败", map[string]interface{}{
				"novel_id": novelID,
				"kind":     string(kind),
				"count":    len(entities),
				"error":    err.Error(),
			})
			continue
		}
		logger.GetLogger().Info("世界观实体已更新", map[string]interface{}{
			"novel_id": novelID,
			"kind":     string(kind),
			"count":    len(canonical),
		})

		if err := s.retrieval.IndexEntities(ctx, novelID, canonical); err != nil {
			logger.GetLogger().Warn("向量索引更新失败，已入库的实体保持有效", map[string]interface{}{
				"novel_id": novelID,
				"kind":     string(kind),
				"error":    err.Error(),
			})
		}
	}
}

// extractDriftReport 对章节正文做一次漂移提取，
// 世界观演化与大纲修订各自独立调用
func extractDriftReport(ctx context.Context, llmService *LLMService, chapterText string) (*models.DriftReport, error) {
	prompt := fmt.Sprintf(`请通读下面的章节正文，提取其中世界观层面的变化。

章节正文：
%s

输出JSON对象，字段如下，没有对应变化的字段输出空数组：
- new_characters: 本章新登场的角色，每项含 name（角色名）与 description（身份、特征、处境）
- updated_characters: 状态或处境发生变化的已有角色，description 写变化后的最新状态
- new_scenes: 本章新出现的场景或地点，每项含 name 与 description
- updated_scenes: 发生变化的已有场景
- new_clues: 本章新埋设的伏笔或线索，每项含 name 与 description
- updated_clues: 有推进或揭晓的已有伏笔
- plot_twists: 超出常规推进的情节转折，文字描述数组
- relationship_changes: 人物关系的变化，文字描述数组

只提取正文明确呈现的内容，不要推测。`, chapterText)

	var result driftExtraction
	if err := llmService.CreateStructuredCompletion(ctx, prompt, driftSystemPrompt, &result); err != nil {
		return nil, err
	}
	return result.toReport(), nil
}
