// internal/models/export.go
package models

import (
	"time"
)

// ExportFormat 导出格式
type ExportFormat string

const (
	ExportFormatMarkdown ExportFormat = "markdown"
	ExportFormatHTML     ExportFormat = "html"
	ExportFormatTXT      ExportFormat = "txt"
)

// ExportResult 导出结果
type ExportResult struct {
	NovelID     string       `json:"novel_id"`
	Title       string       `json:"title"`
	Format      ExportFormat `json:"format"`
	Content     string       `json:"content"`
	GeneratedAt time.Time    `json:"generated_at"`
	FilePath    string       `json:"file_path"` // 导出文件路径，仅落盘时填写
	FileSize    int64        `json:"file_size"` // 文件大小
	Stats       ExportStats  `json:"stats"`
}

// ExportStats 导出统计
type ExportStats struct {
	ChapterCount int       `json:"chapter_count"`
	WordCount    int       `json:"word_count"`
	EntityCount  int       `json:"entity_count"`
	FirstWritten time.Time `json:"first_written"`
	LastWritten  time.Time `json:"last_written"`
}
