// internal/services/novel_service.go
package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/outline"
	"github.com/Corphon/ChapterForge/internal/store"
)

const (
	// prevTailRunes 注入提示词的上一章结尾长度
	prevTailRunes = 500

	// maxChaptersPerRun 单次任务允许连续生成的章节数上限
	maxChaptersPerRun = 10

	// enrichmentTimeout 章节交付后世界观演化与大纲修订的时限
	enrichmentTimeout = 5 * time.Minute
)

// NovelService 小说生命周期与章节生成流水线的编排者。
// 每本小说的生成严格串行：大纲保障、上下文检索、章节分解、
// 逐场景正文生成、原子落库，随后在独立协程里做世界观演化与大纲修订。
// 章节事件流必然以 chapter_end 或 error 收尾
type NovelService struct {
	store          *store.Store
	architect      *PlanArchitectService
	outline        *OutlineService
	decomposer     *DecomposerService
	sceneWriter    *SceneWriterService
	evolution      *WorldEvolutionService
	reconciliation *ReconciliationService
	retrieval      *RetrievalService
	locks          *GenerationLockManager

	enrichWG sync.WaitGroup // 跟踪交付后处理协程，供优雅退出排空
}

// NewNovelService 创建小说编排服务
func NewNovelService(st *store.Store, architect *PlanArchitectService, outlineSvc *OutlineService,
	decomposer *DecomposerService, sceneWriter *SceneWriterService, evolution *WorldEvolutionService,
	reconciliation *ReconciliationService, retrieval *RetrievalService) *NovelService {

	return &NovelService{
		store:          st,
		architect:      architect,
		outline:        outlineSvc,
		decomposer:     decomposer,
		sceneWriter:    sceneWriter,
		evolution:      evolution,
		reconciliation: reconciliation,
		retrieval:      retrieval,
		locks:          NewGenerationLockManager(),
	}
}

// CreateNovel 创建小说：根据前提一次性生成初始计划
// （宏观蓝图+首批详细大纲）后整体入库
func (s *NovelService) CreateNovel(ctx context.Context, title, premise string, settings models.NovelSettings) (*models.Novel, error) {
	title = strings.TrimSpace(title)
	premise = strings.TrimSpace(premise)
	if title == "" {
		return nil, apperrors.NewValidationError("小说标题不能为空", nil)
	}
	if premise == "" {
		return nil, apperrors.NewValidationError("小说前提不能为空", nil)
	}

	settings.Normalize()
	novel := &models.Novel{
		ID:       uuid.New().String(),
		Title:    title,
		Premise:  premise,
		Status:   models.NovelStatusActive,
		Settings: settings,
	}

	plan, err := s.architect.BootstrapPlan(ctx, novel)
	if err != nil {
		return nil, err
	}
	novel.Plan = plan

	if err := s.store.CreateNovel(ctx, novel); err != nil {
		return nil, err
	}
	logger.GetLogger().Info("小说已创建", map[string]interface{}{
		"novel_id": novel.ID,
		"title":    novel.Title,
		"planned":  outline.ParsePlan(plan).MaxPlannedChapter(),
	})
	return novel, nil
}

// GetNovel 读取单本小说
func (s *NovelService) GetNovel(ctx context.Context, novelID string) (*models.Novel, error) {
	return s.store.GetNovel(ctx, novelID)
}

// ListNovels 列出全部小说
func (s *NovelService) ListNovels(ctx context.Context) ([]*models.Novel, error) {
	return s.store.ListNovels(ctx)
}

// UpdateSettings 更新小说的生成参数
func (s *NovelService) UpdateSettings(ctx context.Context, novelID string, settings models.NovelSettings) (*models.Novel, error) {
	settings.Normalize()
	if err := s.store.UpdateNovelSettings(ctx, novelID, settings); err != nil {
		return nil, err
	}
	return s.store.GetNovel(ctx, novelID)
}

// DeleteNovel 删除小说及其章节、世界观实体与向量索引
func (s *NovelService) DeleteNovel(ctx context.Context, novelID string) error {
	if s.locks.IsBusy(novelID) {
		return apperrors.NewConflictError("小说正在生成章节，无法删除", nil)
	}
	if err := s.store.DeleteNovel(ctx, novelID); err != nil {
		return err
	}
	if err := s.retrieval.DeleteNovel(ctx, novelID); err != nil {
		logger.GetLogger().Warn("清理小说向量索引失败", map[string]interface{}{
			"novel_id": novelID,
			"error":    err.Error(),
		})
	}
	return nil
}

// ListChapters 按章节号升序返回全部章节
func (s *NovelService) ListChapters(ctx context.Context, novelID string) ([]*models.Chapter, error) {
	return s.store.ListChapters(ctx, novelID)
}

// GetChapterByNumber 按章节号读取章节
func (s *NovelService) GetChapterByNumber(ctx context.Context, novelID string, number int) (*models.Chapter, error) {
	return s.store.GetChapterByNumber(ctx, novelID, number)
}

// ListWorldEntities 按类别列出小说的世界观实体
func (s *NovelService) ListWorldEntities(ctx context.Context, novelID string, kind models.EntityKind) ([]models.WorldEntity, error) {
	return s.store.ListWorldEntities(ctx, novelID, kind)
}

// IsGenerating 查询小说当前是否有生成任务
func (s *NovelService) IsGenerating(novelID string) bool {
	return s.locks.IsBusy(novelID)
}

// GenerateChapters 为小说连续生成若干新章节。
// 同一小说同一时刻只允许一次生成，重复请求返回冲突错误；
// 每章依次产出 status/content 事件并以 chapter_end 或 error 收尾。
// 返回本次成功落库的章节，任何一章失败即停止后续生成
func (s *NovelService) GenerateChapters(ctx context.Context, novelID string, opts models.GenerateOptions, sink models.EventSink) ([]*models.Chapter, error) {
	if sink == nil {
		sink = models.NopSink
	}

	if !s.locks.TryAcquire(novelID) {
		return nil, apperrors.NewConflictError("该小说已有生成任务在进行中", nil)
	}
	defer s.locks.Release(novelID)

	target := NormalizeTargetChapters(opts.TargetChapters)

	generated := make([]*models.Chapter, 0, target)
	for i := 0; i < target; i++ {
		// 每章重读小说，拿到上一轮演化与修订后的最新计划
		novel, err := s.store.GetNovel(ctx, novelID)
		if err != nil {
			sink(models.NewErrorEvent(novelID, 0, err))
			return generated, err
		}
		if novel.Status == models.NovelStatusComplete {
			err := apperrors.NewConflictError("小说已完结，不能继续生成", nil)
			sink(models.NewErrorEvent(novelID, 0, err))
			return generated, err
		}

		chapter, err := s.generateOne(ctx, novel, opts, sink)
		if err != nil {
			sink(models.NewErrorEvent(novelID, nextChapterNumberOf(novel), err))
			return generated, err
		}

		sink(models.NewChapterEndEvent(novelID, chapter))
		generated = append(generated, chapter)
		s.spawnEnrichment(novelID, chapter)
	}
	return generated, nil
}

// NormalizeTargetChapters 把单次任务的目标章节数收敛到允许区间
func NormalizeTargetChapters(n int) int {
	if n <= 0 {
		return 1
	}
	if n > maxChaptersPerRun {
		return maxChaptersPerRun
	}
	return n
}

// nextChapterNumberOf 估算下一章章节号，仅用于错误事件标注
func nextChapterNumberOf(novel *models.Novel) int {
	if novel == nil {
		return 0
	}
	return novel.ChapterCount + 1
}

// generateOne 生成并落库一个章节。
// 任何一步失败都不落库，由调用方发出 error 事件
func (s *NovelService) generateOne(ctx context.Context, novel *models.Novel, opts models.GenerateOptions, sink models.EventSink) (*models.Chapter, error) {
	next, prevTail, err := s.nextChapterContext(ctx, novel.ID)
	if err != nil {
		return nil, err
	}

	sink(models.NewStatusEvent(novel.ID, next, fmt.Sprintf("正在确认第%d章的大纲", next)))
	plan, entry, err := s.outline.EnsureChapterPlanned(ctx, novel, next)
	if err != nil {
		return nil, err
	}
	stageGuidance := s.outline.StageGuidance(plan, next)

	var prevEntry, nextEntry *outline.ChapterOutlineEntry
	if e, ok := plan.Entry(next - 1); ok {
		prevEntry = &e
	}
	if e, ok := plan.Entry(next + 1); ok {
		nextEntry = &e
	}

	sink(models.NewStatusEvent(novel.ID, next, "正在检索世界观上下文"))
	settings := novel.Settings
	settings.Normalize()
	retrieved, err := s.retrieval.GatherForChapter(ctx, novel.ID, chapterQueryText(entry, opts.UserInstruction), settings.RetrievalTopK)
	if err != nil {
		// 检索只是增强，失败降级为无世界观参考
		logger.GetLogger().Warn("章节级检索失败，降级为无世界观参考", map[string]interface{}{
			"novel_id": novel.ID,
			"chapter":  next,
			"error":    err.Error(),
		})
		retrieved = nil
	}

	sink(models.NewStatusEvent(novel.ID, next, "正在分解章节场景"))
	decomposition, err := s.decomposer.Decompose(ctx, DecomposeInput{
		Novel:           novel,
		ChapterNumber:   next,
		Entry:           entry,
		PrevEntry:       prevEntry,
		NextEntry:       nextEntry,
		PrevChapterTail: prevTail,
		StageGuidance:   stageGuidance,
		Retrieved:       retrieved,
		UserInstruction: opts.UserInstruction,
	})
	if err != nil {
		return nil, err
	}

	sink(models.NewStatusEvent(novel.ID, next, fmt.Sprintf("正在生成正文，共%d个场景", len(decomposition.Scenes))))
	body, err := s.sceneWriter.WriteChapter(ctx, SceneWriteInput{
		Novel:           novel,
		ChapterNumber:   next,
		Decomposition:   decomposition,
		PrevChapterTail: prevTail,
		StageGuidance:   stageGuidance,
		UserInstruction: opts.UserInstruction,
	}, sink)
	if err != nil {
		return nil, err
	}

	chapter := &models.Chapter{
		ID:        uuid.New().String(),
		NovelID:   novel.ID,
		Number:    next,
		Title:     decomposition.Title,
		Body:      body,
		WordCount: models.CountWords(body),
		Status:    models.ChapterStatusDraft,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateChapter(ctx, chapter); err != nil {
		return nil, err
	}

	logger.GetLogger().Info("章节已生成", map[string]interface{}{
		"novel_id":   novel.ID,
		"chapter":    chapter.Number,
		"title":      chapter.Title,
		"word_count": chapter.WordCount,
		"scenes":     len(decomposition.Scenes),
	})
	return chapter, nil
}

// nextChapterContext 计算下一章章节号与上一章结尾
func (s *NovelService) nextChapterContext(ctx context.Context, novelID string) (int, string, error) {
	last, err := s.store.GetLastChapter(ctx, novelID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return 1, "", nil
		}
		return 0, "", err
	}
	return last.Number + 1, models.Tail(last.Body, prevTailRunes), nil
}

// chapterQueryText 拼出章节级检索查询文本
func chapterQueryText(entry outline.ChapterOutlineEntry, instruction string) string {
	parts := make([]string, 0, 4)
	if entry.Title != "" {
		parts = append(parts, entry.Title)
	}
	if entry.Summary != "" {
		parts = append(parts, entry.Summary)
	}
	if len(entry.KeyEvents) > 0 {
		parts = append(parts, strings.Join(entry.KeyEvents, " "))
	}
	if instruction = strings.TrimSpace(instruction); instruction != "" {
		parts = append(parts, instruction)
	}
	return strings.Join(parts, " ")
}

// spawnEnrichment 启动章节交付后的两项后处理：世界观演化、未来大纲修订。
// 后处理使用独立上下文，不被请求取消波及，也绝不影响已落库的章节；
// 生成调用方不等待它们完成，优雅退出时由 WaitEnrichment 排空
func (s *NovelService) spawnEnrichment(novelID string, chapter *models.Chapter) {
	chapterText := models.ComposeChapterText(chapter.Title, chapter.Body)

	s.enrichWG.Add(2)
	go s.runSupervised("world_evolution", novelID, chapter.Number, func(ctx context.Context) {
		s.evolution.Evolve(ctx, novelID, chapterText)
	})
	go s.runSupervised("reconciliation", novelID, chapter.Number, func(ctx context.Context) {
		s.reconcileAfter(ctx, novelID, chapter.Number, chapterText)
	})
}

// runSupervised 受监督地执行一项后处理：panic只记日志，不得外泄
func (s *NovelService) runSupervised(task, novelID string, chapterNumber int, fn func(ctx context.Context)) {
	defer s.enrichWG.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error("章节后处理发生panic，已恢复", map[string]interface{}{
				"task":     task,
				"novel_id": novelID,
				"chapter":  chapterNumber,
				"panic":    fmt.Sprintf("%v", r),
			})
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), enrichmentTimeout)
	defer cancel()
	fn(ctx)
}

// reconcileAfter 章节交付后的大纲修订：重读最新计划，
// 对未来部分做漂移修订，有实际变化时才回写
func (s *NovelService) reconcileAfter(ctx context.Context, novelID string, chapterNumber int, chapterText string) {
	novel, err := s.store.GetNovel(ctx, novelID)
	if err != nil {
		logger.GetLogger().Warn("修订前读取小说失败", map[string]interface{}{
			"novel_id": novelID,
			"chapter":  chapterNumber,
			"error":    err.Error(),
		})
		return
	}

	plan := outline.ParsePlan(novel.Plan)
	_, future := plan.SplitDetailAt(chapterNumber + 1)
	if strings.TrimSpace(future) == "" {
		return
	}

	revised := s.reconciliation.ReviseFutureOutline(ctx, novel, plan, chapterNumber, chapterText, future)
	if revised == future {
		return
	}

	plan.ReplaceFutureDetail(chapterNumber+1, revised)
	if err := s.store.UpdateNovelPlan(ctx, novelID, plan.Render()); err != nil {
		logger.GetLogger().Warn("回写修订后的计划失败", map[string]interface{}{
			"novel_id": novelID,
			"chapter":  chapterNumber,
			"error":    err.Error(),
		})
	}
}

// WaitEnrichment 等待所有交付后处理协程结束，供优雅退出调用
func (s *NovelService) WaitEnrichment() {
	s.enrichWG.Wait()
}
