// internal/models/chapter.go
package models

import (
	"strings"
	"time"
	"unicode"
)

// ChapterTitleSeparator 章节标题与正文之间的字面分隔符，
// 使下游解析器能够确定性地还原 {标题, 正文}
const ChapterTitleSeparator = "【章节正文】"

// ChapterStatus 章节状态
type ChapterStatus string

const (
	ChapterStatusDraft ChapterStatus = "draft" // 草稿
)

// Chapter 一个已生成的章节，写入后不可变
type Chapter struct {
	ID        string        `json:"id"`
	NovelID   string        `json:"novel_id"`
	Number    int           `json:"number"` // 章节号，从1开始，只追加
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	WordCount int           `json:"word_count"`
	Status    ChapterStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

// ComposeChapterText 将标题与正文拼接为规范章节文本
func ComposeChapterText(title, body string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(title))
	sb.WriteString(ChapterTitleSeparator)
	sb.WriteString("\n")
	sb.WriteString(body)
	return sb.String()
}

// SplitChapterText 从规范章节文本中还原标题与正文
// 无分隔符时整段视为正文，标题为空
func SplitChapterText(text string) (title, body string) {
	idx := strings.Index(text, ChapterTitleSeparator)
	if idx < 0 {
		return "", text
	}
	title = strings.TrimSpace(text[:idx])
	body = strings.TrimPrefix(text[idx+len(ChapterTitleSeparator):], "\n")
	return title, body
}

// CountWords 统计正文字数：中日韩字符逐字计数，
// 拉丁字母等以空白分隔的序列按词计数
func CountWords(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			count++
			inWord = false
		case unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r):
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}

// Tail 返回文本结尾的最多 n 个字符（按rune截取），用于跨章衔接
func Tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}
