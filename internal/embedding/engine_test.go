// internal/embedding/engine_test.go
package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEngineDeterministic(t *testing.T) {
	engine, err := NewLocalEngine(nil)
	require.NoError(t, err)
	ctx := context.Background()

	a, err := engine.Embed(ctx, "沈青崖夜探尚书府，发现密信")
	require.NoError(t, err)
	b, err := engine.Embed(ctx, "沈青崖夜探尚书府，发现密信")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, engine.Dimensions())
}

func TestLocalEngineSimilarityOrdering(t *testing.T) {
	engine, err := NewLocalEngine(nil)
	require.NoError(t, err)
	ctx := context.Background()

	query, err := engine.Embed(ctx, "沈青崖在国子监读书")
	require.NoError(t, err)
	near, err := engine.Embed(ctx, "沈青崖进入国子监求学")
	require.NoError(t, err)
	far, err := engine.Embed(ctx, "北境军营爆发瘟疫")
	require.NoError(t, err)

	nearScore, err := CosineSimilarity(query, near)
	require.NoError(t, err)
	farScore, err := CosineSimilarity(query, far)
	require.NoError(t, err)
	assert.Greater(t, nearScore, farScore, "相近内容的相似度应更高")
}

func TestLocalEngineCustomDimensions(t *testing.T) {
	engine, err := NewLocalEngine(map[string]string{"dimensions": "64"})
	require.NoError(t, err)
	assert.Equal(t, 64, engine.Dimensions())

	_, err = NewLocalEngine(map[string]string{"dimensions": "abc"})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	same, err := CosineSimilarity([]float32{1, 0, 1}, []float32{1, 0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-6)

	orthogonal, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, orthogonal, 1e-6)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)

	zero, err := CosineSimilarity([]float32{0, 0}, []float32{1, 2})
	require.NoError(t, err)
	assert.Zero(t, zero)
}

func TestNewEngineFactory(t *testing.T) {
	engine, err := NewEngine("local", nil)
	require.NoError(t, err)
	assert.Contains(t, engine.Name(), "local:")

	_, err = NewEngine("openai", map[string]string{})
	assert.Error(t, err, "缺少api_key时应报错")

	_, err = NewEngine("unknown", nil)
	assert.Error(t, err)
}

func TestHashTokens(t *testing.T) {
	tokens := hashTokens("青崖abc 12")
	// 单字、双字与拉丁词混合
	assert.Contains(t, tokens, "青")
	assert.Contains(t, tokens, "崖")
	assert.Contains(t, tokens, "青崖")
	assert.Contains(t, tokens, "abc")
	assert.Contains(t, tokens, "12")
}
