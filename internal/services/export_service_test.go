// internal/services/export_service_test.go
package services

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/store"
)

func newExportFixture(t *testing.T) (*ExportService, *store.Store, *models.Novel) {
	t.Helper()
	st := newServicesStore(t)

	novel := &models.Novel{
		Title:   "烬刀行",
		Premise: "捕快顾烬接手一桩旧案，牵出江湖隐秘",
		Plan:    buildTestPlan(1, 10, 1, 3),
		Status:  models.NovelStatusActive,
	}
	require.NoError(t, st.CreateNovel(context.Background(), novel))

	bodies := []struct {
		title, body string
	}{
		{"雪夜缉凶", "夜色如墨，顾烬推开了府衙的门。"},
		{"当铺疑云", "当铺的掌柜擦着柜台，眼神躲闪。"},
	}
	for i, b := range bodies {
		require.NoError(t, st.CreateChapter(context.Background(), &models.Chapter{
			ID:        uuid.New().String(),
			NovelID:   novel.ID,
			Number:    i + 1,
			Title:     b.title,
			Body:      b.body,
			WordCount: models.CountWords(b.body),
			Status:    models.ChapterStatusDraft,
			CreatedAt: time.Now(),
		}))
	}
	return NewExportService(st), st, novel
}

func TestExportNovelMarkdown(t *testing.T) {
	svc, _, novel := newExportFixture(t)

	result, err := svc.ExportNovel(context.Background(), novel.ID, models.ExportFormatMarkdown, false)
	require.NoError(t, err)

	assert.Equal(t, novel.ID, result.NovelID)
	assert.Equal(t, "烬刀行", result.Title)
	assert.Equal(t, models.ExportFormatMarkdown, result.Format)
	assert.Equal(t, 2, result.Stats.ChapterCount)
	assert.Positive(t, result.Stats.WordCount)
	assert.Empty(t, result.FilePath, "不落盘时不产生文件路径")

	assert.True(t, strings.HasPrefix(result.Content, "# 烬刀行\n"))
	assert.Contains(t, result.Content, "> 捕快顾烬接手一桩旧案")
	assert.Contains(t, result.Content, "## 全书蓝图")
	assert.Contains(t, result.Content, "【第一阶段】初入江湖")
	assert.Contains(t, result.Content, "## 第1章 雪夜缉凶")
	assert.Contains(t, result.Content, "## 第2章 当铺疑云")

	// 章节按编号升序排列
	first := strings.Index(result.Content, "## 第1章")
	second := strings.Index(result.Content, "## 第2章")
	assert.Less(t, first, second)
}

func TestExportNovelHTML(t *testing.T) {
	svc, _, novel := newExportFixture(t)

	result, err := svc.ExportNovel(context.Background(), novel.ID, models.ExportFormatHTML, false)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Content, "<!DOCTYPE html>"))
	assert.Contains(t, result.Content, "<title>烬刀行</title>")
	assert.Contains(t, result.Content, "<h1")
	assert.Contains(t, result.Content, "夜色如墨，顾烬推开了府衙的门。")
	assert.NotContains(t, result.Content, "## 第1章", "Markdown标记已被渲染")
}

func TestExportNovelTXT(t *testing.T) {
	svc, _, novel := newExportFixture(t)

	result, err := svc.ExportNovel(context.Background(), novel.ID, models.ExportFormatTXT, false)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Content, "烬刀行\n\n第1章 雪夜缉凶"))
	assert.NotContains(t, result.Content, "#")
	assert.NotContains(t, result.Content, "全书蓝图", "纯文本形态只含正文")
}

func TestExportNovelSavesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_DIR", dir)
	require.NoError(t, config.InitConfig(dir))

	svc, _, novel := newExportFixture(t)

	result, err := svc.ExportNovel(context.Background(), novel.ID, models.ExportFormatMarkdown, true)
	require.NoError(t, err)
	require.NotEmpty(t, result.FilePath)
	assert.Positive(t, result.FileSize)
	assert.True(t, strings.HasSuffix(result.FilePath, ".md"))
	assert.Contains(t, result.FilePath, "烬刀行_")

	data, err := os.ReadFile(result.FilePath)
	require.NoError(t, err)
	assert.Equal(t, result.Content, string(data))
}

func TestExportNovelRejectsUnknownFormat(t *testing.T) {
	svc, _, novel := newExportFixture(t)

	_, err := svc.ExportNovel(context.Background(), novel.ID, models.ExportFormat("epub"), false)
	require.True(t, apperrors.IsValidationError(err))
	assert.Contains(t, err.Error(), "不支持的导出格式")
}

func TestExportNovelRequiresChapters(t *testing.T) {
	st := newServicesStore(t)
	novel := &models.Novel{Title: "空壳", Premise: "还没写"}
	require.NoError(t, st.CreateNovel(context.Background(), novel))

	svc := NewExportService(st)
	_, err := svc.ExportNovel(context.Background(), novel.ID, models.ExportFormatMarkdown, false)
	require.True(t, apperrors.IsValidationError(err))
	assert.Contains(t, err.Error(), "无法导出")
}

func TestExportNovelUnknownNovel(t *testing.T) {
	svc := NewExportService(newServicesStore(t))

	_, err := svc.ExportNovel(context.Background(), "不存在", models.ExportFormatMarkdown, false)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "novel", sanitizeFileName("  "))
	assert.Equal(t, "烬刀行_上卷", sanitizeFileName("烬刀行/上卷"))
	assert.Equal(t, "a_b_c", sanitizeFileName(`a\b:c`))

	long := strings.Repeat("长", 80)
	assert.Equal(t, 60, len([]rune(sanitizeFileName(long))))
}
