// internal/models/task.go
package models

import "time"

// GenerationTask 一次章节生成任务的对外快照。
// 仅用于进度观测，不参与生成流程的控制
type GenerationTask struct {
	TaskID        string    `json:"task_id"`                  // 任务唯一标识符
	NovelID       string    `json:"novel_id"`                 // 所属小说
	Status        string    `json:"status"`                   // running, completed, failed, cancelled
	Progress      int       `json:"progress"`                 // 进度百分比 (0-100)
	Message       string    `json:"message"`                  // 当前状态描述
	ChapterNumber int       `json:"chapter_number,omitempty"` // 正在生成的章节号
	StartTime     time.Time `json:"start_time"`               // 任务开始时间
	UpdateTime    time.Time `json:"update_time"`              // 最后更新时间
}
