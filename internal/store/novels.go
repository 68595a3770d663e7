// internal/store/novels.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/models"
)

// CreateNovel 持久化一本新小说，ID与时间戳由存储层填充
func (s *Store) CreateNovel(ctx context.Context, novel *models.Novel) error {
	if novel.Title == "" {
		return apperrors.NewValidationError("小说标题不能为空", nil)
	}
	if novel.ID == "" {
		novel.ID = uuid.New().String()
	}
	if novel.Status == "" {
		novel.Status = models.NovelStatusActive
	}
	novel.Settings.Normalize()

	now := time.Now()
	novel.CreatedAt = now
	novel.UpdatedAt = now

	settings, err := json.Marshal(novel.Settings)
	if err != nil {
		return fmt.Errorf("序列化小说设置失败: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO novels (id, title, premise, plan, status, settings, chapter_count, word_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		novel.ID, novel.Title, novel.Premise, novel.Plan, string(novel.Status),
		string(settings), novel.ChapterCount, novel.WordCount, novel.CreatedAt, novel.UpdatedAt)
	if err != nil {
		return fmt.Errorf("写入小说失败: %w", err)
	}
	return nil
}

// GetNovel 按ID读取小说
func (s *Store) GetNovel(ctx context.Context, novelID string) (*models.Novel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, premise, plan, status, settings, chapter_count, word_count, created_at, updated_at
		FROM novels WHERE id = ?`, novelID)
	return scanNovel(row)
}

// ListNovels 按更新时间倒序返回全部小说
func (s *Store) ListNovels(ctx context.Context) ([]*models.Novel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, premise, plan, status, settings, chapter_count, word_count, created_at, updated_at
		FROM novels ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("查询小说列表失败: %w", err)
	}
	defer rows.Close()

	var novels []*models.Novel
	for rows.Next() {
		novel, err := scanNovel(rows)
		if err != nil {
			return nil, err
		}
		novels = append(novels, novel)
	}
	return novels, rows.Err()
}

// UpdateNovelPlan 整体替换小说的大纲文本
func (s *Store) UpdateNovelPlan(ctx context.Context, novelID, plan string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE novels SET plan = ?, updated_at = ? WHERE id = ?`,
		plan, time.Now(), novelID)
	if err != nil {
		return fmt.Errorf("更新小说大纲失败: %w", err)
	}
	return requireAffected(res, novelID)
}

// UpdateNovelStatus 更新小说连载状态
func (s *Store) UpdateNovelStatus(ctx context.Context, novelID string, status models.NovelStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE novels SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now(), novelID)
	if err != nil {
		return fmt.Errorf("更新小说状态失败: %w", err)
	}
	return requireAffected(res, novelID)
}

// UpdateNovelSettings 整体替换小说的生成参数
func (s *Store) UpdateNovelSettings(ctx context.Context, novelID string, settings models.NovelSettings) error {
	settings.Normalize()
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("序列化小说设置失败: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE novels SET settings = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now(), novelID)
	if err != nil {
		return fmt.Errorf("更新小说设置失败: %w", err)
	}
	return requireAffected(res, novelID)
}

// DeleteNovel 删除小说及其全部章节与世界观实体
func (s *Store) DeleteNovel(ctx context.Context, novelID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM world_entities WHERE novel_id = ?`, novelID); err != nil {
			return fmt.Errorf("删除世界观实体失败: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE novel_id = ?`, novelID); err != nil {
			return fmt.Errorf("删除章节失败: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM novels WHERE id = ?`, novelID)
		if err != nil {
			return fmt.Errorf("删除小说失败: %w", err)
		}
		return requireAffected(res, novelID)
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNovel(row rowScanner) (*models.Novel, error) {
	var novel models.Novel
	var status, settings string
	err := row.Scan(&novel.ID, &novel.Title, &novel.Premise, &novel.Plan, &status,
		&settings, &novel.ChapterCount, &novel.WordCount, &novel.CreatedAt, &novel.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("小说不存在", err)
	}
	if err != nil {
		return nil, fmt.Errorf("读取小说失败: %w", err)
	}
	novel.Status = models.NovelStatus(status)
	if err := json.Unmarshal([]byte(settings), &novel.Settings); err != nil {
		return nil, fmt.Errorf("解析小说设置失败: %w", err)
	}
	novel.Settings.Normalize()
	return &novel, nil
}

func requireAffected(res sql.Result, novelID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取影响行数失败: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("小说不存在: %s", novelID), nil)
	}
	return nil
}
