// internal/vectorstore/vectorstore_test.go
package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/embedding"
)

func newTestIndex(t *testing.T, dims int) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "vectors.db"), dims)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func embedText(t *testing.T, engine embedding.Engine, text string) []float32 {
	t.Helper()
	vec, err := engine.Embed(context.Background(), text)
	require.NoError(t, err)
	return vec
}

func TestUpsertAndSearch(t *testing.T) {
	engine, err := embedding.NewLocalEngine(nil)
	require.NoError(t, err)
	ix := newTestIndex(t, engine.Dimensions())
	ctx := context.Background()

	entries := map[string]string{
		"e1": "沈青崖，寒门学子，在国子监求学",
		"e2": "柳如烟，西门茶楼的老板娘，消息灵通",
		"e3": "北境守将赵铁衣，麾下三万铁骑",
	}
	for id, content := range entries {
		require.NoError(t, ix.Upsert(ctx, "novel-1", "character", id, id, content, embedText(t, engine, content)))
	}

	matches, err := ix.Search(ctx, "novel-1", "character", embedText(t, engine, "国子监里的寒门学子"), 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "e1", matches[0].EntityID)
	assert.Equal(t, 1, matches[0].Rank)
	assert.GreaterOrEqual(t, matches[0].Similarity, matches[1].Similarity)
}

func TestUpsertReplacesExisting(t *testing.T) {
	engine, err := embedding.NewLocalEngine(nil)
	require.NoError(t, err)
	ix := newTestIndex(t, engine.Dimensions())
	ctx := context.Background()

	old := "柳如烟经营茶楼"
	require.NoError(t, ix.Upsert(ctx, "novel-1", "character", "e2", "柳如烟", old, embedText(t, engine, old)))
	updated := "柳如烟身份暴露，实为北镇抚司暗桩"
	require.NoError(t, ix.Upsert(ctx, "novel-1", "character", "e2", "柳如烟", updated, embedText(t, engine, updated)))

	count, err := ix.Count(ctx, "novel-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "同一实体重复写入不应产生新行")

	matches, err := ix.Search(ctx, "novel-1", "character", embedText(t, engine, "北镇抚司的暗桩"), 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, updated, matches[0].Content)
}

func TestSearchIsolatedByNovelAndKind(t *testing.T) {
	engine, err := embedding.NewLocalEngine(nil)
	require.NoError(t, err)
	ix := newTestIndex(t, engine.Dimensions())
	ctx := context.Background()

	text := "青铜罗盘，指向皇陵深处"
	vec := embedText(t, engine, text)
	require.NoError(t, ix.Upsert(ctx, "novel-1", "clue", "c1", "青铜罗盘", text, vec))

	matches, err := ix.Search(ctx, "novel-2", "clue", vec, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "不同小说之间不应互相命中")

	matches, err = ix.Search(ctx, "novel-1", "character", vec, 5)
	require.NoError(t, err)
	assert.Empty(t, matches, "不同类别之间不应互相命中")
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	ix := newTestIndex(t, 8)
	err := ix.Upsert(context.Background(), "novel-1", "scene", "s1", "乱葬岗", "城外乱葬岗", []float32{1, 2, 3})
	assert.Error(t, err)

	_, err = ix.Search(context.Background(), "novel-1", "scene", []float32{1, 2, 3}, 3)
	assert.Error(t, err)
}

func TestDeleteNovel(t *testing.T) {
	engine, err := embedding.NewLocalEngine(nil)
	require.NoError(t, err)
	ix := newTestIndex(t, engine.Dimensions())
	ctx := context.Background()

	text := "西门茶楼，江湖消息集散地"
	require.NoError(t, ix.Upsert(ctx, "novel-1", "scene", "s1", "西门茶楼", text, embedText(t, engine, text)))
	require.NoError(t, ix.DeleteNovel(ctx, "novel-1"))

	count, err := ix.Count(ctx, "novel-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestEncodeDecodeFloat32Slice(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.75}
	decoded := decodeFloat32Slice(encodeFloat32Slice(vec))
	assert.Equal(t, vec, decoded)

	assert.Nil(t, decodeFloat32Slice(nil))
	assert.Nil(t, decodeFloat32Slice([]byte{1, 2, 3}), "长度非4的倍数应返回nil")
}
