// internal/models/drift.go
package models

import (
	"strings"
)

// EntityDelta 漂移报告中的单个实体变更
type EntityDelta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// DriftReport 一次章节生成周期产出的临时漂移报告，
// 被世界观演化与大纲修订消费后即丢弃，从不落库
type DriftReport struct {
	NewCharacters     []EntityDelta `json:"new_characters"`
	UpdatedCharacters []EntityDelta `json:"updated_characters"`
	NewScenes         []EntityDelta `json:"new_scenes"`
	UpdatedScenes     []EntityDelta `json:"updated_scenes"`
	NewClues          []EntityDelta `json:"new_clues"`
	UpdatedClues      []EntityDelta `json:"updated_clues"`

	PlotTwists          []string `json:"plot_twists"`          // 未规划的情节转折
	RelationshipChanges []string `json:"relationship_changes"` // 人物关系变化
}

// IsEmpty 判断报告是否完全为空
func (r *DriftReport) IsEmpty() bool {
	if r == nil {
		return true
	}
	return len(r.NewCharacters) == 0 &&
		len(r.UpdatedCharacters) == 0 &&
		len(r.NewScenes) == 0 &&
		len(r.UpdatedScenes) == 0 &&
		len(r.NewClues) == 0 &&
		len(r.UpdatedClues) == 0 &&
		len(r.PlotTwists) == 0 &&
		len(r.RelationshipChanges) == 0
}

// Deltas 返回指定类别的新增与更新实体列表
func (r *DriftReport) Deltas(kind EntityKind) (added, updated []EntityDelta) {
	switch kind {
	case EntityKindCharacter:
		return r.NewCharacters, r.UpdatedCharacters
	case EntityKindScene:
		return r.NewScenes, r.UpdatedScenes
	case EntityKindClue:
		return r.NewClues, r.UpdatedClues
	}
	return nil, nil
}

// Summary 将报告压缩为提示词可用的概述文本
func (r *DriftReport) Summary() string {
	if r.IsEmpty() {
		return ""
	}

	var sb strings.Builder
	writeDeltas := func(label string, deltas []EntityDelta) {
		if len(deltas) == 0 {
			return
		}
		sb.WriteString(label)
		sb.WriteString("\n")
		for _, d := range deltas {
			sb.WriteString("- ")
			sb.WriteString(d.Name)
			sb.WriteString("：")
			sb.WriteString(d.Description)
			sb.WriteString("\n")
		}
	}

	writeDeltas("新登场角色：", r.NewCharacters)
	writeDeltas("角色状态变化：", r.UpdatedCharacters)
	writeDeltas("新出现场景：", r.NewScenes)
	writeDeltas("场景变化：", r.UpdatedScenes)
	writeDeltas("新埋设伏笔：", r.NewClues)
	writeDeltas("伏笔进展：", r.UpdatedClues)

	if len(r.PlotTwists) > 0 {
		sb.WriteString("计划外情节转折：\n")
		for _, t := range r.PlotTwists {
			sb.WriteString("- ")
			sb.WriteString(t)
			sb.WriteString("\n")
		}
	}
	if len(r.RelationshipChanges) > 0 {
		sb.WriteString("人物关系变化：\n")
		for _, c := range r.RelationshipChanges {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// MergeEntityDeltas 将新增与更新列表按名称合并去重。
// 同名实体只保留一条，更新描述覆盖新增描述；
// 返回值保持首次出现的顺序，保证每个名称只产生一次写入
func MergeEntityDeltas(added, updated []EntityDelta) []EntityDelta {
	merged := make(map[string]string, len(added)+len(updated))
	order := make([]string, 0, len(added)+len(updated))

	for _, d := range added {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			continue
		}
		if _, exists := merged[name]; !exists {
			order = append(order, name)
		}
		merged[name] = d.Description
	}
	for _, d := range updated {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			continue
		}
		if _, exists := merged[name]; !exists {
			order = append(order, name)
		}
		// 更新项覆盖新增项
		merged[name] = d.Description
	}

	result := make([]EntityDelta, 0, len(order))
	for _, name := range order {
		result = append(result, EntityDelta{Name: name, Description: merged[name]})
	}
	return result
}
