// internal/services/retrieval_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/ChapterForge/internal/embedding"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/vectorstore"
)

// RetrievalService 负责世界观实体的向量化写入与语义召回
type RetrievalService struct {
	engine embedding.Engine
	index  *vectorstore.Index
}

// NewRetrievalService 创建检索服务
func NewRetrievalService(engine embedding.Engine, index *vectorstore.Index) *RetrievalService {
	return &RetrievalService{
		engine: engine,
		index:  index,
	}
}

// IndexEntities 将实体批量写入向量索引。
// 单个实体写入失败只记录日志并继续，返回最后一个错误供调用方记录
func (s *RetrievalService) IndexEntities(ctx context.Context, novelID string, entities []models.WorldEntity) error {
	if len(entities) == 0 {
		return nil
	}

	texts := make([]string, len(entities))
	for i, entity := range entities {
		texts[i] = entityEmbedText(entity)
	}

	vectors, err := s.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("生成实体向量失败: %w", err)
	}

	var lastErr error
	for i, entity := range entities {
		err := s.index.Upsert(ctx, novelID, string(entity.Kind), entity.ID, entity.Name, entity.Content, vectors[i])
		if err != nil {
			logger.GetLogger().Warn("实体向量写入失败", map[string]interface{}{
				"novel_id": novelID,
				"entity":   entity.Name,
				"err":      err.Error(),
			})
			lastErr = err
		}
	}
	return lastErr
}

// GatherForChapter 按查询文本并发召回角色、场景、伏笔三类实体。
// 嵌入或检索失败时降级为空结果，章节生成照常进行
func (s *RetrievalService) GatherForChapter(ctx context.Context, novelID, queryText string, topK int) (*RetrievedContext, error) {
	result := &RetrievedContext{}
	if strings.TrimSpace(queryText) == "" {
		return result, nil
	}
	if topK <= 0 {
		topK = 5
	}

	queryVec, err := s.engine.Embed(ctx, queryText)
	if err != nil {
		logger.GetLogger().Warn("查询向量生成失败，跳过本章检索", map[string]interface{}{
			"novel_id": novelID,
			"err":      err.Error(),
		})
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)

	searchKind := func(kind models.EntityKind, dest *[]RetrievedFact) func() error {
		return func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			matches, searchErr := s.index.Search(gctx, novelID, string(kind), queryVec, topK)
			if searchErr != nil {
				// 单类检索失败不终止整组
				logger.GetLogger().Warn("实体检索失败", map[string]interface{}{
					"novel_id": novelID,
					"kind":     string(kind),
					"err":      searchErr.Error(),
				})
				return nil
			}
			*dest = matchesToFacts(matches)
			return nil
		}
	}

	g.Go(searchKind(models.EntityKindCharacter, &result.Characters))
	g.Go(searchKind(models.EntityKindScene, &result.Scenes))
	g.Go(searchKind(models.EntityKindClue, &result.Clues))

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.GetLogger().Warn("本章检索部分失败", map[string]interface{}{"err": err.Error()})
	}
	return result, nil
}

// Search 按类别做单次语义检索，供查询接口使用
func (s *RetrievalService) Search(ctx context.Context, novelID string, kind models.EntityKind, query string, topK int) ([]vectorstore.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	queryVec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("生成查询向量失败: %w", err)
	}
	return s.index.Search(ctx, novelID, string(kind), queryVec, topK)
}

// DeleteNovel 清理一本小说的全部向量
func (s *RetrievalService) DeleteNovel(ctx context.Context, novelID string) error {
	return s.index.DeleteNovel(ctx, novelID)
}

// entityEmbedText 拼接名称与描述作为嵌入文本，名称可显著提升召回
func entityEmbedText(entity models.WorldEntity) string {
	if entity.Content == "" {
		return entity.Name
	}
	return entity.Name + "：" + entity.Content
}

func matchesToFacts(matches []vectorstore.Match) []RetrievedFact {
	if len(matches) == 0 {
		return nil
	}
	facts := make([]RetrievedFact, len(matches))
	for i, m := range matches {
		facts[i] = RetrievedFact{
			Name:       m.Name,
			Content:    m.Content,
			Similarity: m.Similarity,
		}
	}
	return facts
}
