// internal/embedding/engine.go
// Package embedding 提供文本向量化能力，供世界观实体的语义检索使用
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Engine 文本嵌入引擎
type Engine interface {
	// Embed 生成单条文本的向量
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 生成多条文本的向量
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions 返回向量维度
	Dimensions() int

	// Name 返回引擎名称
	Name() string
}

// NewEngine 按配置创建嵌入引擎
// provider 为 "openai" 或 "local"，config 键值与LLM提供商配置保持同一风格
func NewEngine(provider string, config map[string]string) (Engine, error) {
	switch provider {
	case "openai":
		return NewOpenAIEngine(config)
	case "local", "":
		return NewLocalEngine(config)
	default:
		return nil, fmt.Errorf("不支持的嵌入提供商: %s", provider)
	}
}

// CosineSimilarity 计算两个向量的余弦相似度，取值范围[-1, 1]
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("向量维度不一致: %d != %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
