// internal/models/events.go
package models

import (
	"time"
)

// GenerationEventType 生成过程事件类型
type GenerationEventType string

const (
	EventStatus     GenerationEventType = "status"      // 阶段性状态说明
	EventContent    GenerationEventType = "content"     // 正文增量片段
	EventChapterEnd GenerationEventType = "chapter_end" // 单章生成完成
	EventError      GenerationEventType = "error"       // 生成失败，流终止
)

// GenerationEvent 章节生成过程中推送给调用方的事件。
// 每个章节的事件流必然以 chapter_end 或 error 收尾
type GenerationEvent struct {
	Type          GenerationEventType `json:"type"`
	NovelID       string              `json:"novel_id"`
	ChapterNumber int                 `json:"chapter_number"`
	SceneIndex    int                 `json:"scene_index,omitempty"` // 从 1 开始，仅 content 事件携带
	Message       string              `json:"message,omitempty"`     // status/error 的说明文本
	Content       string              `json:"content,omitempty"`     // content 事件的增量文本
	ChapterID     string              `json:"chapter_id,omitempty"`  // chapter_end 事件携带
	Title         string              `json:"title,omitempty"`       // chapter_end 事件携带
	WordCount     int                 `json:"word_count,omitempty"`  // chapter_end 事件携带
	Timestamp     time.Time           `json:"timestamp"`
}

// EventSink 事件消费回调。实现方不得长时间阻塞，
// 生成流水线在同一协程内依次调用
type EventSink func(event GenerationEvent)

// NopSink 丢弃所有事件的空回调
func NopSink(GenerationEvent) {}

// NewStatusEvent 构造状态事件
func NewStatusEvent(novelID string, chapterNumber int, message string) GenerationEvent {
	return GenerationEvent{
		Type:          EventStatus,
		NovelID:       novelID,
		ChapterNumber: chapterNumber,
		Message:       message,
		Timestamp:     time.Now(),
	}
}

// NewContentEvent 构造正文增量事件
func NewContentEvent(novelID string, chapterNumber, sceneIndex int, content string) GenerationEvent {
	return GenerationEvent{
		Type:          EventContent,
		NovelID:       novelID,
		ChapterNumber: chapterNumber,
		SceneIndex:    sceneIndex,
		Content:       content,
		Timestamp:     time.Now(),
	}
}

// NewChapterEndEvent 构造章节完成事件
func NewChapterEndEvent(novelID string, chapter *Chapter) GenerationEvent {
	return GenerationEvent{
		Type:          EventChapterEnd,
		NovelID:       novelID,
		ChapterNumber: chapter.Number,
		ChapterID:     chapter.ID,
		Title:         chapter.Title,
		WordCount:     chapter.WordCount,
		Timestamp:     time.Now(),
	}
}

// NewErrorEvent 构造错误事件
func NewErrorEvent(novelID string, chapterNumber int, err error) GenerationEvent {
	message := "生成失败"
	if err != nil {
		message = err.Error()
	}
	return GenerationEvent{
		Type:          EventError,
		NovelID:       novelID,
		ChapterNumber: chapterNumber,
		Message:       message,
		Timestamp:     time.Now(),
	}
}
