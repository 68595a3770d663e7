// internal/services/retrieval_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/models"
)

func seedRetrievalEntities(t *testing.T, svc *RetrievalService, novelID string) {
	t.Helper()
	entities := []models.WorldEntity{
		{ID: "char-1", Kind: models.EntityKindCharacter, Name: "江无涯", Content: "独臂剑客，在城西废宅留下脚印"},
		{ID: "char-2", Kind: models.EntityKindCharacter, Name: "顾烬", Content: "年轻捕快，接手多年悬而未决的旧案"},
		{ID: "scene-1", Kind: models.EntityKindScene, Name: "城西废宅", Content: "旧案的案发地点，常年无人居住"},
		{ID: "clue-1", Kind: models.EntityKindClue, Name: "新鲜脚印", Content: "废宅雪地里的脚印，尺寸异常"},
	}
	require.NoError(t, svc.IndexEntities(context.Background(), novelID, entities))
}

func TestGatherForChapterRecallsAllKinds(t *testing.T) {
	svc := newTestRetrieval(t)
	seedRetrievalEntities(t, svc, "novel-1")

	result, err := svc.GatherForChapter(context.Background(),
		"novel-1", "江无涯：独臂剑客，在城西废宅留下脚印", 3)
	require.NoError(t, err)

	require.NotEmpty(t, result.Characters)
	assert.Equal(t, "江无涯", result.Characters[0].Name, "与查询几乎一致的实体排在最前")
	assert.NotEmpty(t, result.Scenes)
	assert.NotEmpty(t, result.Clues)

	// 结果按相似度非增排列
	for i := 1; i < len(result.Characters); i++ {
		assert.GreaterOrEqual(t, result.Characters[i-1].Similarity, result.Characters[i].Similarity)
	}
}

func TestGatherForChapterEmptyQueryOrIndex(t *testing.T) {
	svc := newTestRetrieval(t)

	result, err := svc.GatherForChapter(context.Background(), "novel-1", "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, result.Characters)
	assert.Empty(t, result.Scenes)
	assert.Empty(t, result.Clues)

	result, err = svc.GatherForChapter(context.Background(), "novel-1", "雪夜的旧案", 5)
	require.NoError(t, err, "空索引不报错，返回空结果")
	assert.Empty(t, result.Characters)
}

func TestSearchIsolatesNovels(t *testing.T) {
	svc := newTestRetrieval(t)
	seedRetrievalEntities(t, svc, "novel-1")

	matches, err := svc.Search(context.Background(), "novel-2", models.EntityKindCharacter, "独臂剑客", 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "不同小说的向量互不可见")
}

func TestDeleteNovelScrubsVectors(t *testing.T) {
	svc := newTestRetrieval(t)
	seedRetrievalEntities(t, svc, "novel-1")
	seedRetrievalEntities(t, svc, "novel-2")

	require.NoError(t, svc.DeleteNovel(context.Background(), "novel-1"))

	gone, err := svc.Search(context.Background(), "novel-1", models.EntityKindCharacter, "独臂剑客", 5)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := svc.Search(context.Background(), "novel-2", models.EntityKindCharacter, "独臂剑客", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, kept, "其他小说的向量不受影响")
}

func TestSearchEmptyQueryReturnsNothing(t *testing.T) {
	svc := newTestRetrieval(t)

	matches, err := svc.Search(context.Background(), "novel-1", models.EntityKindCharacter, "  ", 5)
	require.NoError(t, err)
	assert.Nil(t, matches)
}
