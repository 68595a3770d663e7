// internal/services/export_service.go
package services

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/outline"
	"github.com/Corphon/ChapterForge/internal/store"
)

// ExportService 把整本小说组装为可下载的单文件：
// Markdown 为规范形态，HTML 由 Markdown 经 goldmark 渲染，TXT 为纯文本
type ExportService struct {
	store *store.Store
}

// NewExportService 创建导出服务
func NewExportService(st *store.Store) *ExportService {
	return &ExportService{store: st}
}

// ExportNovel 导出整本小说。
// saveToFile 为真时同时写入数据目录的 exports 子目录
func (s *ExportService) ExportNovel(ctx context.Context, novelID string, format models.ExportFormat, saveToFile bool) (*models.ExportResult, error) {
	switch format {
	case models.ExportFormatMarkdown, models.ExportFormatHTML, models.ExportFormatTXT:
	default:
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持 markdown、html、txt", format), nil)
	}

	novel, err := s.store.GetNovel(ctx, novelID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChapters(ctx, novelID)
	if err != nil {
		return nil, fmt.Errorf("读取章节列表失败: %w", err)
	}
	if len(chapters) == 0 {
		return nil, apperrors.NewValidationError("小说还没有生成任何章节，无法导出", nil)
	}
	entityCount, err := s.store.CountWorldEntities(ctx, novelID)
	if err != nil {
		return nil, fmt.Errorf("统计世界观实体失败: %w", err)
	}

	stats := buildExportStats(chapters, entityCount)
	markdown := buildNovelMarkdown(novel, chapters, stats)

	var content string
	switch format {
	case models.ExportFormatMarkdown:
		content = markdown
	case models.ExportFormatHTML:
		content, err = renderNovelHTML(novel.Title, markdown)
		if err != nil {
			return nil, apperrors.NewProcessingError("渲染HTML失败", err)
		}
	case models.ExportFormatTXT:
		content = buildNovelPlainText(novel, chapters)
	}

	result := &models.ExportResult{
		NovelID:     novelID,
		Title:       novel.Title,
		Format:      format,
		Content:     content,
		GeneratedAt: time.Now(),
		Stats:       stats,
	}

	if saveToFile {
		filePath, fileSize, err := s.saveExportFile(result)
		if err != nil {
			return nil, fmt.Errorf("保存导出文件失败: %w", err)
		}
		result.FilePath = filePath
		result.FileSize = fileSize
	}
	return result, nil
}

// buildExportStats 汇总导出统计
func buildExportStats(chapters []*models.Chapter, entityCount int) models.ExportStats {
	stats := models.ExportStats{
		ChapterCount: len(chapters),
		EntityCount:  entityCount,
	}
	for _, ch := range chapters {
		stats.WordCount += ch.WordCount
		if stats.FirstWritten.IsZero() || ch.CreatedAt.Before(stats.FirstWritten) {
			stats.FirstWritten = ch.CreatedAt
		}
		if ch.CreatedAt.After(stats.LastWritten) {
			stats.LastWritten = ch.CreatedAt
		}
	}
	return stats
}

// buildNovelMarkdown 组装小说的规范Markdown文本
func buildNovelMarkdown(novel *models.Novel, chapters []*models.Chapter, stats models.ExportStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", novel.Title)

	if premise := strings.TrimSpace(novel.Premise); premise != "" {
		sb.WriteString("> ")
		sb.WriteString(strings.ReplaceAll(premise, "\n", "\n> "))
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "共%d章，约%d字。\n\n", stats.ChapterCount, stats.WordCount)

	if macro := strings.TrimSpace(outline.ParsePlan(novel.Plan).MacroText); macro != "" {
		sb.WriteString("## 全书蓝图\n\n")
		sb.WriteString(macro)
		sb.WriteString("\n\n")
	}

	for _, ch := range chapters {
		fmt.Fprintf(&sb, "## 第%d章 %s\n\n", ch.Number, ch.Title)
		sb.WriteString(strings.TrimSpace(ch.Body))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// buildNovelPlainText 组装无标记的纯文本形态
func buildNovelPlainText(novel *models.Novel, chapters []*models.Chapter) string {
	var sb strings.Builder
	sb.WriteString(novel.Title)
	sb.WriteString("\n\n")
	for _, ch := range chapters {
		fmt.Fprintf(&sb, "第%d章 %s\n\n", ch.Number, ch.Title)
		sb.WriteString(strings.TrimSpace(ch.Body))
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// renderNovelHTML 把Markdown渲染为带最小样式外壳的HTML文档
func renderNovelHTML(title, markdown string) (string, error) {
	var body bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &body); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"zh-CN\">\n<head>\n<meta charset=\"UTF-8\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(title))
	sb.WriteString("<style>body{max-width:46em;margin:2em auto;padding:0 1em;font-family:serif;line-height:1.8;}h1,h2{font-family:sans-serif;}</style>\n")
	sb.WriteString("</head>\n<body>\n")
	sb.Write(body.Bytes())
	sb.WriteString("</body>\n</html>\n")
	return sb.String(), nil
}

// saveExportFile 把导出内容写入数据目录，返回路径与文件大小
func (s *ExportService) saveExportFile(result *models.ExportResult) (string, int64, error) {
	dataDir := "data"
	if cfg := config.GetCurrentConfig(); cfg != nil && cfg.DataDir != "" {
		dataDir = cfg.DataDir
	}
	exportDir := filepath.Join(dataDir, "exports")
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return "", 0, fmt.Errorf("创建导出目录失败: %w", err)
	}

	fileName := fmt.Sprintf("%s_%s.%s",
		sanitizeFileName(result.Title),
		result.GeneratedAt.Format("20060102_150405"),
		exportFileExt(result.Format))
	filePath := filepath.Join(exportDir, fileName)

	if err := os.WriteFile(filePath, []byte(result.Content), 0644); err != nil {
		return "", 0, fmt.Errorf("写入导出文件失败: %w", err)
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return "", 0, err
	}
	return filePath, info.Size(), nil
}

// exportFileExt 导出格式对应的文件扩展名
func exportFileExt(format models.ExportFormat) string {
	switch format {
	case models.ExportFormatHTML:
		return "html"
	case models.ExportFormatTXT:
		return "txt"
	default:
		return "md"
	}
}

// sanitizeFileName 清掉文件名中的路径分隔与特殊字符
func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "novel"
	}
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_",
		"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
	)
	cleaned := replacer.Replace(name)
	if len([]rune(cleaned)) > 60 {
		cleaned = string([]rune(cleaned)[:60])
	}
	return cleaned
}
