// internal/store/chapters.go
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

// CreateChapter 在单个事务内写入章节并同步小说的章节数与字数，
// 任一步失败则整体回滚
func (s *Store) CreateChapter(ctx context.Context, chapter *models.Chapter) error {
	if chapter.NovelID == "" {
		return apperrors.NewValidationError("章节缺少所属小说ID", nil)
	}
	if chapter.Number <= 0 {
		return apperrors.NewValidationError("章节号必须为正数", nil)
	}
	if chapter.ID == "" {
		chapter.ID = uuid.New().String()
	}
	if chapter.Status == "" {
		chapter.Status = models.ChapterStatusDraft
	}
	if chapter.WordCount == 0 {
		chapter.WordCount = models.CountWords(chapter.Body)
	}
	chapter.CreatedAt = time.Now()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chapters (id, novel_id, number, title, body, word_count, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			chapter.ID, chapter.NovelID, chapter.Number, chapter.Title, chapter.Body,
			chapter.WordCount, string(chapter.Status), chapter.CreatedAt)
		if err != nil {
			return fmt.Errorf("写入章节失败: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE novels
			SET chapter_count = chapter_count + 1,
			    word_count    = word_count + ?,
			    updated_at    = ?
			WHERE id = ?`,
			chapter.WordCount, chapter.CreatedAt, chapter.NovelID)
		if err != nil {
			return fmt.Errorf("更新小说统计失败: %w", err)
		}
		return requireAffected(res, chapter.NovelID)
	})
}

// GetChapter 按章节ID读取
func (s *Store) GetChapter(ctx context.Context, chapterID string) (*models.Chapter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, novel_id, number, title, body, word_count, status, created_at
		FROM chapters WHERE id = ?`, chapterID)
	return scanChapter(row)
}

// GetChapterByNumber 按小说ID与章节号读取
func (s *Store) GetChapterByNumber(ctx context.Context, novelID string, number int) (*models.Chapter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, novel_id, number, title, body, word_count, status, created_at
		FROM chapters WHERE novel_id = ? AND number = ?`, novelID, number)
	return scanChapter(row)
}

// GetLastChapter 返回编号最大的章节，尚无章节时返回NotFound
func (s *Store) GetLastChapter(ctx context.Context, novelID string) (*models.Chapter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, novel_id, number, title, body, word_count, status, created_at
		FROM chapters WHERE novel_id = ? ORDER BY number DESC LIMIT 1`, novelID)
	return scanChapter(row)
}

// ListChapters 按章节号升序返回小说的全部章节
func (s *Store) ListChapters(ctx context.Context, novelID string) ([]*models.Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, novel_id, number, title, body, word_count, status, created_at
		FROM chapters WHERE novel_id = ? ORDER BY number ASC`, novelID)
	if err != nil {
		return nil, fmt.Errorf("查询章节列表失败: %w", err)
	}
	defer rows.Close()

	var chapters []*models.Chapter
	for rows.Next() {
		chapter, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, chapter)
	}
	return chapters, rows.Err()
}

// ChapterExists 判断指定章节号是否已生成
func (s *Store) ChapterExists(ctx context.Context, novelID string, number int) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chapters WHERE novel_id = ? AND number = ?`, novelID, number).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询章节是否存在失败: %w", err)
	}
	return true, nil
}

func scanChapter(row rowScanner) (*models.Chapter, error) {
	var chapter models.Chapter
	var status string
	err := row.Scan(&chapter.ID, &chapter.NovelID, &chapter.Number, &chapter.Title,
		&chapter.Body, &chapter.WordCount, &status, &chapter.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("章节不存在", err)
	}
	if err != nil {
		return nil, fmt.Errorf("读取章节失败: %w", err)
	}
	chapter.Status = models.ChapterStatus(status)
	return &chapter, nil
}
