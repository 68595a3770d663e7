// internal/embedding/local.go
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"unicode"
)

const defaultLocalDims = 256

// LocalEngine 基于特征哈希的本地嵌入引擎，无需外部服务。
// 同一文本始终产生同一向量，适合离线开发与测试环境；
// 中文按单字与相邻双字取特征，拉丁文本按小写单词取特征
type LocalEngine struct {
	dims int
}

// NewLocalEngine 创建本地嵌入引擎，config 支持 dimensions
func NewLocalEngine(config map[string]string) (*LocalEngine, error) {
	dims := defaultLocalDims
	if v := config["dimensions"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("非法的嵌入维度: %s", v)
		}
		dims = n
	}
	return &LocalEngine{dims: dims}, nil
}

// Embed 生成单条文本的向量
func (e *LocalEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, e.dims)
	for _, token := range hashTokens(text) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()

		idx := int(sum % uint32(e.dims))
		if sum&0x80000000 != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	normalize(vec)
	return vec, nil
}

// EmbedBatch 逐条生成向量
func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("生成第%d条向量失败: %w", i, err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

// Dimensions 返回向量维度
func (e *LocalEngine) Dimensions() int {
	return e.dims
}

// Name 返回引擎名称
func (e *LocalEngine) Name() string {
	return fmt.Sprintf("local:hash-%d", e.dims)
}

// hashTokens 提取哈希特征：汉字单字+相邻双字，其余文字按词切分
func hashTokens(text string) []string {
	var tokens []string
	var word []rune
	var prevHan rune

	flushWord := func() {
		if len(word) > 0 {
			tokens = append(tokens, string(word))
			word = word[:0]
		}
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushWord()
			tokens = append(tokens, string(r))
			if prevHan != 0 {
				tokens = append(tokens, string([]rune{prevHan, r}))
			}
			prevHan = r
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, unicode.ToLower(r))
			prevHan = 0
		default:
			flushWord()
			prevHan = 0
		}
	}
	flushWord()
	return tokens
}

func normalize(vec []float32) {
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		return
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
}
