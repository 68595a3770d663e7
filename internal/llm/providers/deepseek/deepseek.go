// internal/llm/providers/deepseek/deepseek.go
package deepseek

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Corphon/ChapterForge/internal/llm"
)

func init() {
	llm.Register("deepseek", func() llm.Provider {
		return &Provider{
			baseURL: "https://api.deepseek.com/v1",
			supportedModels: []string{
				"deepseek-chat",
				"deepseek-reasoner",
			},
		}
	})
}

// Provider DeepSeek 提供者，走 OpenAI 兼容的 chat/completions 接口
type Provider struct {
	apiKey          string
	baseURL         string
	client          *http.Client
	defaultModel    string
	supportedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("DeepSeek API密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{Timeout: 300 * time.Second}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "deepseek-chat"
	}

	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}

	return nil
}

func (p *Provider) GetName() string {
	return "DeepSeek"
}

func (p *Provider) GetSupportedModels() []string {
	return p.supportedModels
}

// buildRequestBody 组装 OpenAI 兼容的请求体
func (p *Provider) buildRequestBody(req llm.CompletionRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]interface{}{
		"model":    model,
		"messages": messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		body["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}
	if len(req.StopWords) > 0 {
		body["stop"] = req.StopWords
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	if stream {
		body["stream"] = true
	}
	for k, v := range req.ExtraParams {
		body[k] = v
	}
	return body
}

func (p *Provider) newRequest(ctx context.Context, body map[string]interface{}, stream bool) (*http.Request, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		p.baseURL+"/chat/completions",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	return httpReq, nil
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	httpReq, err := p.newRequest(ctx, p.buildRequestBody(req, false), false)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("DeepSeek API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, errors.New("DeepSeek未返回任何结果")
	}

	return &llm.CompletionResponse{
		Text:         response.Choices[0].Message.Content,
		FinishReason: response.Choices[0].FinishReason,
		TokensUsed:   response.Usage.TotalTokens,
		PromptTokens: response.Usage.PromptTokens,
		OutputTokens: response.Usage.CompletionTokens,
		ModelName:    response.Model,
		ProviderName: p.GetName(),
	}, nil
}

// StreamCompletion 实现流式响应
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	httpReq, err := p.newRequest(ctx, p.buildRequestBody(req, true), true)
	if err != nil {
		return nil, err
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, fmt.Errorf("DeepSeek API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer httpResp.Body.Close()
		defer close(respChan)

		send := func(r llm.StreamResponse) bool {
			select {
			case respChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		reader := bufio.NewReader(httpResp.Body)
		var modelName string
		var completionSent bool

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					send(llm.StreamResponse{FinishReason: "error", ModelName: modelName, Done: true})
				} else if !completionSent {
					send(llm.StreamResponse{FinishReason: "stop", ModelName: modelName, Done: true})
				}
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, ":") {
				continue
			}
			line = strings.TrimPrefix(line, "data: ")

			if line == "[DONE]" {
				if !completionSent {
					send(llm.StreamResponse{FinishReason: "stop", ModelName: modelName, Done: true})
				}
				return
			}

			var streamResp struct {
				Model   string `json:"model"`
				Choices []struct {
					Delta struct {
						Content string `json:"content"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
			}
			if err := json.Unmarshal([]byte(line), &streamResp); err != nil {
				continue
			}

			if streamResp.Model != "" && modelName == "" {
				modelName = streamResp.Model
			}
			if len(streamResp.Choices) == 0 {
				continue
			}

			if content := streamResp.Choices[0].Delta.Content; content != "" {
				if !send(llm.StreamResponse{Text: content, ModelName: modelName}) {
					return
				}
			}
			if reason := streamResp.Choices[0].FinishReason; reason != nil && *reason != "" {
				if !send(llm.StreamResponse{FinishReason: *reason, ModelName: modelName, Done: true}) {
					return
				}
				completionSent = true
			}
		}
	}()

	return respChan, nil
}
