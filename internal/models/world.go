// internal/models/world.go
package models

import (
	"time"
)

// EntityKind 世界观实体类别
type EntityKind string

const (
	EntityKindCharacter EntityKind = "character" // 角色
	EntityKindScene     EntityKind = "scene"     // 场景/地点
	EntityKindClue      EntityKind = "clue"      // 伏笔/线索
)

// AllEntityKinds 按固定顺序返回全部实体类别
func AllEntityKinds() []EntityKind {
	return []EntityKind{EntityKindCharacter, EntityKindScene, EntityKindClue}
}

// WorldEntity 小说世界观中的一个实体，名称在同一小说同一类别内唯一
type WorldEntity struct {
	ID        string     `json:"id"`
	NovelID   string     `json:"novel_id"`
	Kind      EntityKind `json:"kind"`
	Name      string     `json:"name"`
	Content   string     `json:"content"` // 描述性内容，漂移更新时整体替换
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
