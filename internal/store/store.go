// internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Corphon/ChapterForge/internal/logger"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS novels (
    id            TEXT PRIMARY KEY,
    title         TEXT NOT NULL,
    premise       TEXT NOT NULL DEFAULT '',
    plan          TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'active',
    settings      TEXT NOT NULL DEFAULT '{}',
    chapter_count INTEGER NOT NULL DEFAULT 0,
    word_count    INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS chapters (
    id         TEXT PRIMARY KEY,
    novel_id   TEXT NOT NULL,
    number     INTEGER NOT NULL,
    title      TEXT NOT NULL DEFAULT '',
    body       TEXT NOT NULL DEFAULT '',
    word_count INTEGER NOT NULL DEFAULT 0,
    status     TEXT NOT NULL DEFAULT 'draft',
    created_at DATETIME NOT NULL,
    UNIQUE (novel_id, number),
    FOREIGN KEY (novel_id) REFERENCES novels(id)
);
CREATE INDEX IF NOT EXISTS idx_chapters_novel ON chapters(novel_id, number);

CREATE TABLE IF NOT EXISTS world_entities (
    id         TEXT PRIMARY KEY,
    novel_id   TEXT NOT NULL,
    kind       TEXT NOT NULL,
    name       TEXT NOT NULL,
    content    TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE (novel_id, kind, name),
    FOREIGN KEY (novel_id) REFERENCES novels(id)
);
CREATE INDEX IF NOT EXISTS idx_world_novel_kind ON world_entities(novel_id, kind);
`

// Store 小说、章节与世界观实体的SQLite存储
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open 打开（或创建）数据库并应用建表语句
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	// 单写连接避免 SQLITE_BUSY，WAL 提升并发读
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.GetLogger().Warn("设置 busy_timeout 失败", map[string]interface{}{"err": err.Error()})
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.GetLogger().Warn("设置 journal_mode=WAL 失败", map[string]interface{}{"err": err.Error()})
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logger.GetLogger().Warn("启用外键约束失败", map[string]interface{}{"err": err.Error()})
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("应用数据库结构失败: %w", err)
	}

	return &Store{db: db, dbPath: path}, nil
}

// Close 关闭底层连接
func (s *Store) Close() error {
	return s.db.Close()
}

// Path 返回数据库文件路径
func (s *Store) Path() string {
	return s.dbPath
}

// withTx 在单个事务中执行 fn，出错时回滚
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启事务失败: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}
	return nil
}
