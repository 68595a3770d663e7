// internal/store/store_test.go
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "chapterforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestNovel(t *testing.T, s *Store) *models.Novel {
	t.Helper()
	novel := &models.Novel{
		Title:   "天阙长歌",
		Premise: "寒门学子卷入王朝秘辛",
		Plan:    "第一阶段：第1-10章 入京",
	}
	require.NoError(t, s.CreateNovel(context.Background(), novel))
	return novel
}

func TestCreateAndGetNovel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	novel := newTestNovel(t, s)
	require.NotEmpty(t, novel.ID)

	got, err := s.GetNovel(ctx, novel.ID)
	require.NoError(t, err)
	assert.Equal(t, "天阙长歌", got.Title)
	assert.Equal(t, models.NovelStatusActive, got.Status)
	assert.Equal(t, 4, got.Settings.ScenesPerChapter, "默认设置应被归一化")
	assert.Equal(t, 10, got.Settings.ExpansionBatch)
	assert.Equal(t, 0, got.ChapterCount)
}

func TestCreateNovelRequiresTitle(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateNovel(context.Background(), &models.Novel{})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestGetNovelNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetNovel(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestUpdateNovelPlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	novel := newTestNovel(t, s)

	require.NoError(t, s.UpdateNovelPlan(ctx, novel.ID, "新的大纲全文"))

	got, err := s.GetNovel(ctx, novel.ID)
	require.NoError(t, err)
	assert.Equal(t, "新的大纲全文", got.Plan)

	err = s.UpdateNovelPlan(ctx, "missing", "大纲")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestCreateChapterUpdatesNovelCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	novel := newTestNovel(t, s)

	chapter := &models.Chapter{
		NovelID: novel.ID,
		Number:  1,
		Title:   "第一章 夜入京城",
		Body:    "夜色沉沉，沈青崖背着书箧走进了京城的西门。",
	}
	require.NoError(t, s.CreateChapter(ctx, chapter))
	require.NotEmpty(t, chapter.ID)
	require.Greater(t, chapter.WordCount, 0)

	got, err := s.GetNovel(ctx, novel.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChapterCount)
	assert.Equal(t, chapter.WordCount, got.WordCount)

	byNumber, err := s.GetChapterByNumber(ctx, novel.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, chapter.ID, byNumber.ID)
	assert.Equal(t, "第一章 夜入京城", byNumber.Title)
}

func TestCreateChapterDuplicateNumberRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	novel := newTestNovel(t, s)

	first := &models.Chapter{NovelID: novel.ID, Number: 1, Body: "第一稿正文内容在此。"}
	require.NoError(t, s.CreateChapter(ctx, first))

	dup := &models.Chapter{NovelID: novel.ID, Number: 1, Body: "重复章节号的另一份正文。"}
	require.Error(t, s.CreateChapter(ctx, dup))

	// 事务回滚后统计不应变化
	got, err := s.GetNovel(ctx, novel.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ChapterCount)
	assert.Equal(t, first.WordCount, got.WordCount)
}

func TestGetLastChapter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	novel := newTestNovel(t, s)

	_, err := s.GetLastChapter(ctx, novel.ID)
	assert.True(t, apperrors.IsNotFoundError(err))

	for n := 1; n <= 3; n++ {
		require.NoError(t, s.CreateChapter(ctx, &models.Chapter{
			NovelID: novel.ID, Number: n, Body: "正文",
		}))
	}

	last, err := s.GetLastChapter(ctx, novel.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, last.Number)

	chapters, err := s.ListChapters(ctx, novel.ID)
	require.NoError(t, err)
	require.Len(t, chapters, 3)
	assert.Equal(t, 1, chapters[0].Number)

	exists, err := s.ChapterExists(ctx, novel.ID, 2)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.ChapterExists(ctx, novel.ID, 9)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUpsertWorldEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	novel := newTestNovel(t, s)

	stored, err := s.UpsertWorldEntities(ctx, novel.ID, models.EntityKindCharacter, []models.WorldEntity{
		{Name: "沈青崖", Content: "寒门学子，初入京城"},
		{Name: "柳如烟", Content: "茶楼老板娘，消息灵通"},
	})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	firstID := stored[0].ID
	firstCreated := stored[0].CreatedAt

	time.Sleep(10 * time.Millisecond)

	// 同名更新应整体替换内容且保留原ID
	stored, err = s.UpsertWorldEntities(ctx, novel.ID, models.EntityKindCharacter, []models.WorldEntity{
		{Name: "沈青崖", Content: "寒门学子，已拜入国子监"},
	})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, firstID, stored[0].ID)
	assert.Equal(t, "寒门学子，已拜入国子监", stored[0].Content)
	assert.Equal(t, firstCreated.Unix(), stored[0].CreatedAt.Unix())
	assert.True(t, stored[0].UpdatedAt.After(stored[0].CreatedAt))

	entities, err := s.ListWorldEntities(ctx, novel.ID, models.EntityKindCharacter)
	require.NoError(t, err)
	require.Len(t, entities, 2)

	count, err := s.CountWorldEntities(ctx, novel.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestUpsertWorldEntitiesSkipsEmptyNames(t *testing.T) {
	s := newTestStore(t)
	novel := newTestNovel(t, s)

	stored, err := s.UpsertWorldEntities(context.Background(), novel.ID, models.EntityKindClue, []models.WorldEntity{
		{Name: "", Content: "无名伏笔"},
		{Name: "青铜罗盘", Content: "第3章出现的异物"},
	})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "青铜罗盘", stored[0].Name)
}

func TestDeleteNovelCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	novel := newTestNovel(t, s)

	require.NoError(t, s.CreateChapter(ctx, &models.Chapter{NovelID: novel.ID, Number: 1, Body: "正文"}))
	_, err := s.UpsertWorldEntities(ctx, novel.ID, models.EntityKindScene, []models.WorldEntity{
		{Name: "西门茶楼", Content: "消息集散地"},
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteNovel(ctx, novel.ID))

	_, err = s.GetNovel(ctx, novel.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
	chapters, err := s.ListChapters(ctx, novel.ID)
	require.NoError(t, err)
	assert.Empty(t, chapters)
	count, err := s.CountWorldEntities(ctx, novel.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
