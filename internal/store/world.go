// internal/store/world.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/models"
)

// UpsertWorldEntities 在单个事务内批量写入实体：
// 同一小说同一类别内按名称去重，已存在的实体整体替换描述内容。
// 返回带有规范ID的实体列表，供向量索引使用
func (s *Store) UpsertWorldEntities(ctx context.Context, novelID string, kind models.EntityKind, entities []models.WorldEntity) ([]models.WorldEntity, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	now := time.Now()
	result := make([]models.WorldEntity, 0, len(entities))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, entity := range entities {
			if entity.Name == "" {
				continue
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO world_entities (id, novel_id, kind, name, content, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (novel_id, kind, name)
				DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
				uuid.New().String(), novelID, string(kind), entity.Name, entity.Content, now, now)
			if err != nil {
				return fmt.Errorf("写入世界观实体失败 (%s): %w", entity.Name, err)
			}

			// 冲突更新保留原ID，写后回读拿到规范行
			stored := models.WorldEntity{NovelID: novelID, Kind: kind, Name: entity.Name, Content: entity.Content}
			err = tx.QueryRowContext(ctx, `
				SELECT id, created_at, updated_at FROM world_entities
				WHERE novel_id = ? AND kind = ? AND name = ?`,
				novelID, string(kind), entity.Name).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
			if err != nil {
				return fmt.Errorf("回读世界观实体失败 (%s): %w", entity.Name, err)
			}
			result = append(result, stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetWorldEntity 按名称读取单个实体
func (s *Store) GetWorldEntity(ctx context.Context, novelID string, kind models.EntityKind, name string) (*models.WorldEntity, error) {
	var entity models.WorldEntity
	var kindStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, novel_id, kind, name, content, created_at, updated_at
		FROM world_entities WHERE novel_id = ? AND kind = ? AND name = ?`,
		novelID, string(kind), name).Scan(&entity.ID, &entity.NovelID, &kindStr,
		&entity.Name, &entity.Content, &entity.CreatedAt, &entity.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("实体不存在: %s", name), err)
	}
	if err != nil {
		return nil, fmt.Errorf("读取世界观实体失败: %w", err)
	}
	entity.Kind = models.EntityKind(kindStr)
	return &entity, nil
}

// ListWorldEntities 按类别返回小说的实体，名称升序
func (s *Store) ListWorldEntities(ctx context.Context, novelID string, kind models.EntityKind) ([]models.WorldEntity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, novel_id, kind, name, content, created_at, updated_at
		FROM world_entities WHERE novel_id = ? AND kind = ? ORDER BY name ASC`,
		novelID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("查询世界观实体失败: %w", err)
	}
	defer rows.Close()

	var entities []models.WorldEntity
	for rows.Next() {
		var entity models.WorldEntity
		var kindStr string
		if err := rows.Scan(&entity.ID, &entity.NovelID, &kindStr, &entity.Name,
			&entity.Content, &entity.CreatedAt, &entity.UpdatedAt); err != nil {
			return nil, fmt.Errorf("读取世界观实体失败: %w", err)
		}
		entity.Kind = models.EntityKind(kindStr)
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// CountWorldEntities 统计小说的实体总数
func (s *Store) CountWorldEntities(ctx context.Context, novelID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM world_entities WHERE novel_id = ?`, novelID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("统计世界观实体失败: %w", err)
	}
	return count, nil
}
