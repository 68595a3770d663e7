// internal/vectorstore/vectorstore.go
// Package vectorstore 维护世界观实体的向量索引。
// 默认构建使用纯Go驱动并以暴力余弦扫描检索；
// 以 sqlite_vec 标签构建时启用 sqlite-vec 扩展的 vec0 虚拟表加速
package vectorstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Corphon/ChapterForge/internal/embedding"
	"github.com/Corphon/ChapterForge/internal/logger"
)

// Match 语义检索的一条命中
type Match struct {
	EntityID   string  `json:"entity_id"`
	Name       string  `json:"name"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"` // 余弦相似度，[0,1]
	Rank       int     `json:"rank"`       // 从1开始
}

// Index 实体向量索引，embedding 随行存储以便无扩展时回退扫描
type Index struct {
	db        *sql.DB
	mu        sync.RWMutex
	dims      int
	vectorExt bool
}

// Open 打开（或创建）向量索引库，dims 为向量维度
func Open(path string, dims int) (*Index, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("非法的向量维度: %d", dims)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建向量库目录失败: %w", err)
	}

	db, err := sql.Open(vecDriverName, path)
	if err != nil {
		return nil, fmt.Errorf("打开向量库失败: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.GetLogger().Warn("向量库设置 busy_timeout 失败", map[string]interface{}{"err": err.Error()})
	}

	ix := &Index{db: db, dims: dims}
	if err := ix.initialize(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) initialize() error {
	parentTable := `
	CREATE TABLE IF NOT EXISTS entity_vectors (
		novel_id   TEXT NOT NULL,
		kind       TEXT NOT NULL,
		entity_id  TEXT NOT NULL,
		name       TEXT NOT NULL,
		content    TEXT NOT NULL,
		embedding  BLOB NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (novel_id, kind, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_entity_vectors_novel ON entity_vectors(novel_id, kind);
	`
	if _, err := ix.db.Exec(parentTable); err != nil {
		return fmt.Errorf("创建向量表失败: %w", err)
	}

	ix.detectVecExtension()
	if ix.vectorExt {
		vecTable := fmt.Sprintf(`
		CREATE VIRTUAL TABLE IF NOT EXISTS vec_entities USING vec0(
			embedding float[%d],
			entity_id TEXT,
			novel_id TEXT,
			kind TEXT
		);`, ix.dims)
		if _, err := ix.db.Exec(vecTable); err != nil {
			logger.GetLogger().Warn("创建 vec_entities 虚拟表失败，将使用暴力扫描",
				map[string]interface{}{"err": err.Error()})
			ix.vectorExt = false
		}
	}
	return nil
}

// detectVecExtension 通过试建 vec0 虚拟表探测扩展是否可用
func (ix *Index) detectVecExtension() {
	if _, err := ix.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		ix.vectorExt = true
		_, _ = ix.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	ix.vectorExt = false
}

// Close 关闭底层连接
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Upsert 写入或更新一个实体向量，同名实体整体替换
func (ix *Index) Upsert(ctx context.Context, novelID, kind, entityID, name, content string, vector []float32) error {
	if entityID == "" {
		return fmt.Errorf("实体ID不能为空")
	}
	if len(vector) != ix.dims {
		return fmt.Errorf("向量维度不符: 期望%d, 实际%d", ix.dims, len(vector))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	blob := encodeFloat32Slice(vector)
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO entity_vectors (novel_id, kind, entity_id, name, content, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (novel_id, kind, entity_id)
		DO UPDATE SET name = excluded.name, content = excluded.content,
		              embedding = excluded.embedding, updated_at = excluded.updated_at`,
		novelID, kind, entityID, name, content, blob, time.Now())
	if err != nil {
		return fmt.Errorf("写入实体向量失败: %w", err)
	}

	if ix.vectorExt {
		// 虚拟表无唯一键，先删后插保持一行一实体；失败不影响主表
		if _, err := ix.db.ExecContext(ctx,
			`DELETE FROM vec_entities WHERE entity_id = ? AND novel_id = ? AND kind = ?`,
			entityID, novelID, kind); err != nil {
			logger.GetLogger().Warn("清理 vec_entities 旧行失败", map[string]interface{}{"err": err.Error()})
		}
		if _, err := ix.db.ExecContext(ctx,
			`INSERT INTO vec_entities (embedding, entity_id, novel_id, kind) VALUES (?, ?, ?, ?)`,
			blob, entityID, novelID, kind); err != nil {
			logger.GetLogger().Warn("写入 vec_entities 失败，ANN检索可能缺少该实体",
				map[string]interface{}{"entity": name, "err": err.Error()})
		}
	}
	return nil
}

// Search 返回与查询向量最相近的 topK 个实体
func (ix *Index) Search(ctx context.Context, novelID, kind string, query []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	if len(query) != ix.dims {
		return nil, fmt.Errorf("查询向量维度不符: 期望%d, 实际%d", ix.dims, len(query))
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.vectorExt {
		matches, err := ix.searchVec(ctx, novelID, kind, query, topK)
		if err == nil {
			return matches, nil
		}
		logger.GetLogger().Debug("ANN检索失败，回退暴力扫描", map[string]interface{}{"err": err.Error()})
	}
	return ix.searchBruteForce(ctx, novelID, kind, query, topK)
}

func (ix *Index) searchVec(ctx context.Context, novelID, kind string, query []float32, topK int) ([]Match, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT v.entity_id, ev.name, ev.content, vec_distance_cosine(v.embedding, ?) AS distance
		FROM vec_entities v
		JOIN entity_vectors ev
		  ON ev.entity_id = v.entity_id AND ev.novel_id = v.novel_id AND ev.kind = v.kind
		WHERE v.novel_id = ? AND v.kind = ?
		ORDER BY distance ASC
		LIMIT ?`,
		encodeFloat32Slice(query), novelID, kind, topK)
	if err != nil {
		return nil, fmt.Errorf("ANN检索失败: %w", err)
	}
	defer rows.Close()

	var matches []Match
	rank := 1
	for rows.Next() {
		var m Match
		var distance sql.NullFloat64
		if err := rows.Scan(&m.EntityID, &m.Name, &m.Content, &distance); err != nil {
			continue
		}
		if distance.Valid {
			m.Similarity = clampScore(1 - distance.Float64)
		}
		m.Rank = rank
		rank++
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (ix *Index) searchBruteForce(ctx context.Context, novelID, kind string, query []float32, topK int) ([]Match, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT entity_id, name, content, embedding
		FROM entity_vectors
		WHERE novel_id = ? AND kind = ? AND length(embedding) > 0`,
		novelID, kind)
	if err != nil {
		return nil, fmt.Errorf("读取实体向量失败: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var blob []byte
		if err := rows.Scan(&m.EntityID, &m.Name, &m.Content, &blob); err != nil {
			continue
		}
		vec := decodeFloat32Slice(blob)
		if len(vec) != len(query) {
			continue
		}
		score, err := embedding.CosineSimilarity(query, vec)
		if err != nil {
			continue
		}
		m.Similarity = clampScore(score)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	for i := range matches {
		matches[i].Rank = i + 1
	}
	return matches, nil
}

// DeleteNovel 删除一本小说的全部向量
func (ix *Index) DeleteNovel(ctx context.Context, novelID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, err := ix.db.ExecContext(ctx, `DELETE FROM entity_vectors WHERE novel_id = ?`, novelID); err != nil {
		return fmt.Errorf("删除实体向量失败: %w", err)
	}
	if ix.vectorExt {
		if _, err := ix.db.ExecContext(ctx, `DELETE FROM vec_entities WHERE novel_id = ?`, novelID); err != nil {
			logger.GetLogger().Warn("清理 vec_entities 失败", map[string]interface{}{"err": err.Error()})
		}
	}
	return nil
}

// Count 统计一本小说已索引的实体数
func (ix *Index) Count(ctx context.Context, novelID string) (int, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var count int
	err := ix.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entity_vectors WHERE novel_id = ?`, novelID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("统计实体向量失败: %w", err)
	}
	return count, nil
}

// encodeFloat32Slice 将向量编码为小端字节序的BLOB，与 sqlite-vec 的格式一致
func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// decodeFloat32Slice 从BLOB还原向量，长度非法时返回nil
func decodeFloat32Slice(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
