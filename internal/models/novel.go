// internal/models/novel.go
package models

import (
	"time"
)

// NovelStatus 小说状态
type NovelStatus string

const (
	NovelStatusActive   NovelStatus = "active"   // 连载中
	NovelStatusComplete NovelStatus = "complete" // 已完结
)

// NovelSettings 单本小说的生成参数
type NovelSettings struct {
	ScenesPerChapter   int     `json:"scenes_per_chapter"`   // 每章场景数上限
	ExpansionBatch     int     `json:"expansion_batch"`      // 细纲批量扩展的章节数
	Temperature        float32 `json:"temperature"`          // 生成温度
	MaxTokens          int     `json:"max_tokens"`           // 单次生成的token上限
	Style              string  `json:"style"`                // 文风/叙事声音描述
	ReconcileCharLimit int     `json:"reconcile_char_limit"` // 大纲修订请求的字符预算
	RetrievalTopK      int     `json:"retrieval_top_k"`      // 检索片段数量
}

// Normalize 纠正非法的设置值
func (s *NovelSettings) Normalize() {
	if s.ScenesPerChapter <= 0 {
		s.ScenesPerChapter = 4
	}
	if s.ExpansionBatch <= 0 {
		s.ExpansionBatch = 10
	}
	if s.Temperature <= 0 {
		s.Temperature = 0.8
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 4096
	}
	if s.ReconcileCharLimit <= 0 {
		s.ReconcileCharLimit = 6000
	}
	if s.RetrievalTopK <= 0 {
		s.RetrievalTopK = 5
	}
}

// Novel 一本小说及其演进中的大纲
type Novel struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Premise      string        `json:"premise"`       // 故事前提/设定
	Plan         string        `json:"plan"`          // 蓝图+细纲的组合文本
	Status       NovelStatus   `json:"status"`        // 连载状态
	Settings     NovelSettings `json:"settings"`      // 生成参数
	ChapterCount int           `json:"chapter_count"` // 已生成章节数
	WordCount    int           `json:"word_count"`    // 累计字数
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// GenerateOptions 单次生成的覆盖参数
type GenerateOptions struct {
	UserInstruction string `json:"user_instruction,omitempty"` // 用户对本章的自由指令
	TargetChapters  int    `json:"target_chapters,omitempty"`  // 本次连续生成的章节数
}
