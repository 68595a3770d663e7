// internal/services/structs.go
package services

import (
	"strings"

	"github.com/Corphon/ChapterForge/internal/models"
)

// 章节进度评估取值
const (
	ProgressOnTrack         = "on-track"
	ProgressMinorDeviation  = "minor-deviation"
	ProgressSevereDeviation = "severe-deviation"
)

// SceneBrief 分解出的单个场景梗概
type SceneBrief struct {
	Goal       string   `json:"goal"`                 // 本场景要达成的叙事目标
	Setting    string   `json:"setting"`              // 场景发生的地点与时间
	Conflict   string   `json:"conflict"`             // 核心冲突或张力
	Outcome    string   `json:"outcome"`              // 场景结束时的局面
	Characters []string `json:"characters,omitempty"` // 登场角色
}

// ChapterDecomposition 章节分解结果
type ChapterDecomposition struct {
	Title            string       `json:"title"`              // 章节标题
	Scenes           []SceneBrief `json:"scenes"`             // 有序场景列表
	BigOutlineEvents []string     `json:"big_outline_events"` // 呼应宏观蓝图的事件
	ProgressStatus   string       `json:"progress_status"`    // on-track / minor-deviation / severe-deviation
}

// NormalizeProgressStatus 把模型给出的进度评估归一到合法取值，
// 无法识别时按正常推进处理
func NormalizeProgressStatus(raw string) string {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	cleaned = strings.NewReplacer("_", "-", " ", "-", "（", "", "）", "").Replace(cleaned)
	switch {
	case strings.Contains(cleaned, "severe") || strings.Contains(cleaned, "严重"):
		return ProgressSevereDeviation
	case strings.Contains(cleaned, "minor") || strings.Contains(cleaned, "deviation") || strings.Contains(cleaned, "偏离") || strings.Contains(cleaned, "偏差"):
		return ProgressMinorDeviation
	default:
		return ProgressOnTrack
	}
}

// driftExtraction 漂移提取的模型响应结构，与 models.DriftReport 同形
type driftExtraction struct {
	NewCharacters     []models.EntityDelta `json:"new_characters"`
	UpdatedCharacters []models.EntityDelta `json:"updated_characters"`
	NewScenes         []models.EntityDelta `json:"new_scenes"`
	UpdatedScenes     []models.EntityDelta `json:"updated_scenes"`
	NewClues          []models.EntityDelta `json:"new_clues"`
	UpdatedClues      []models.EntityDelta `json:"updated_clues"`

	PlotTwists          []string `json:"plot_twists"`
	RelationshipChanges []string `json:"relationship_changes"`
}

// toReport 转换为领域漂移报告
func (d *driftExtraction) toReport() *models.DriftReport {
	return &models.DriftReport{
		NewCharacters:       d.NewCharacters,
		UpdatedCharacters:   d.UpdatedCharacters,
		NewScenes:           d.NewScenes,
		UpdatedScenes:       d.UpdatedScenes,
		NewClues:            d.NewClues,
		UpdatedClues:        d.UpdatedClues,
		PlotTwists:          d.PlotTwists,
		RelationshipChanges: d.RelationshipChanges,
	}
}

// RetrievedContext 三类世界事实检索结果的汇总
type RetrievedContext struct {
	Characters []RetrievedFact `json:"characters"`
	Scenes     []RetrievedFact `json:"scenes"`
	Clues      []RetrievedFact `json:"clues"`
}

// RetrievedFact 单条检索命中的世界事实
type RetrievedFact struct {
	Name       string  `json:"name"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// IsEmpty 判断检索结果是否为空
func (r *RetrievedContext) IsEmpty() bool {
	if r == nil {
		return true
	}
	return len(r.Characters) == 0 && len(r.Scenes) == 0 && len(r.Clues) == 0
}

// FormatForPrompt 把检索结果格式化为提示词注入文本
func (r *RetrievedContext) FormatForPrompt() string {
	if r.IsEmpty() {
		return ""
	}

	var sb strings.Builder
	writeFacts := func(label string, facts []RetrievedFact) {
		if len(facts) == 0 {
			return
		}
		sb.WriteString(label)
		sb.WriteString("\n")
		for _, f := range facts {
			sb.WriteString("- ")
			sb.WriteString(f.Name)
			sb.WriteString("：")
			sb.WriteString(f.Content)
			sb.WriteString("\n")
		}
	}

	writeFacts("【相关角色】", r.Characters)
	writeFacts("【相关场景】", r.Scenes)
	writeFacts("【相关伏笔】", r.Clues)
	return strings.TrimRight(sb.String(), "\n")
}
