// internal/embedding/openai.go
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// 常见嵌入模型的维度
var openaiModelDims = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIEngine 调用OpenAI兼容的 /embeddings 接口
type OpenAIEngine struct {
	baseURL string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
}

// NewOpenAIEngine 创建OpenAI嵌入引擎
// config 支持 api_key（必填）、model、base_url
func NewOpenAIEngine(config map[string]string) (*OpenAIEngine, error) {
	apiKey := config["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("openai嵌入引擎缺少api_key")
	}

	model := config["model"]
	if model == "" {
		model = "text-embedding-3-small"
	}
	baseURL := config["base_url"]
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	dims, ok := openaiModelDims[model]
	if !ok {
		dims = 1536
	}

	return &OpenAIEngine{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		dims:    dims,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

type openaiEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed 生成单条文本的向量
func (e *OpenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("嵌入接口返回了空结果")
	}
	return vectors[0], nil
}

// EmbedBatch 批量生成向量，一次请求携带全部文本
func (e *OpenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(openaiEmbedRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("序列化嵌入请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建嵌入请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("嵌入请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("嵌入接口返回状态码 %d: %s", resp.StatusCode, string(respBody))
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析嵌入响应失败: %w", err)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("嵌入结果数量不符: 期望%d, 实际%d", len(texts), len(result.Data))
	}

	// 按index还原顺序，接口不保证返回顺序
	vectors := make([][]float32, len(texts))
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("嵌入结果index越界: %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Dimensions 返回向量维度
func (e *OpenAIEngine) Dimensions() int {
	return e.dims
}

// Name 返回引擎名称
func (e *OpenAIEngine) Name() string {
	return fmt.Sprintf("openai:%s", e.model)
}
