// internal/services/mocks_test.go
package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/embedding"
	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/store"
	"github.com/Corphon/ChapterForge/internal/vectorstore"
)

// --- MockProvider ---

// MockProvider 以可编程函数字段实现 llm.Provider，
// 未设置函数时返回固定的占位响应
type MockProvider struct {
	CompleteTextFunc     func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	StreamCompletionFunc func(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error)

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

func (m *MockProvider) Initialize(config map[string]string) error { return nil }

func (m *MockProvider) GetName() string { return "mock" }

func (m *MockProvider) GetSupportedModels() []string { return []string{"mock-model"} }

func (m *MockProvider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.record(req)
	if m.CompleteTextFunc != nil {
		return m.CompleteTextFunc(ctx, req)
	}
	return &llm.CompletionResponse{Text: "好的", ModelName: "mock-model", ProviderName: "mock"}, nil
}

func (m *MockProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	m.record(req)
	if m.StreamCompletionFunc != nil {
		return m.StreamCompletionFunc(ctx, req)
	}
	return streamOf("默认流式内容"), nil
}

func (m *MockProvider) record(req llm.CompletionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

// Requests 返回按时间顺序记录的全部请求
func (m *MockProvider) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount 返回已收到的请求数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// streamOf 构造一条按块推送并以Done收尾的流式响应
func streamOf(chunks ...string) <-chan llm.StreamResponse {
	ch := make(chan llm.StreamResponse, len(chunks)+1)
	for _, chunk := range chunks {
		ch <- llm.StreamResponse{Text: chunk, ModelName: "mock-model"}
	}
	ch <- llm.StreamResponse{Done: true, FinishReason: "stop", ModelName: "mock-model"}
	close(ch)
	return ch
}

// newMockLLMService 将MockProvider包装为就绪的LLMService
func newMockLLMService(provider *MockProvider) *LLMService {
	return NewLLMServiceWithProvider(provider, "mock")
}

// jsonProvider 构造始终返回同一JSON文本的MockProvider
func jsonProvider(jsonText string) *MockProvider {
	return &MockProvider{
		CompleteTextFunc: func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Text: jsonText, ModelName: "mock-model", ProviderName: "mock"}, nil
		},
	}
}

// newServicesStore 打开临时目录里的测试存储
func newServicesStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "chapterforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// newTestRetrieval 构造本地嵌入引擎加临时向量库的检索服务
func newTestRetrieval(t *testing.T) *RetrievalService {
	t.Helper()
	engine, err := embedding.NewLocalEngine(nil)
	require.NoError(t, err)
	index, err := vectorstore.Open(filepath.Join(t.TempDir(), "vectors.db"), engine.Dimensions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return NewRetrievalService(engine, index)
}
