// internal/llm/providers/openai/openai.go
package openai

import (
	"context"
	"errors"
	"fmt"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/Corphon/ChapterForge/internal/llm"
)

func init() {
	llm.Register("openai", func() llm.Provider {
		return &Provider{
			supportedModels: []string{
				"gpt-4o",
				"gpt-4o-mini",
				"gpt-4.1",
				"gpt-4.1-mini",
				"o4-mini",
			},
		}
	})
}

// Provider 基于官方 openai-go SDK 的提供者实现
type Provider struct {
	opts            []option.RequestOption
	defaultModel    string
	supportedModels []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey, exists := config["api_key"]
	if !exists || apiKey == "" {
		return errors.New("OpenAI API密钥未提供")
	}

	p.opts = []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL, exists := config["base_url"]; exists && baseURL != "" {
		p.opts = append(p.opts, option.WithBaseURL(baseURL))
	}

	if model, exists := config["default_model"]; exists && model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gpt-4o-mini"
	}

	return nil
}

func (p *Provider) GetName() string {
	return "OpenAI"
}

func (p *Provider) GetSupportedModels() []string {
	return p.supportedModels
}

// buildParams 把标准化请求映射为 SDK 参数
func (p *Provider) buildParams(req llm.CompletionRequest) openaisdk.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	messages := []openaisdk.ChatCompletionMessageParamUnion{}
	if req.SystemPrompt != "" {
		messages = append(messages, openaisdk.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openaisdk.UserMessage(req.Prompt))

	params := openaisdk.ChatCompletionNewParams{
		Model:    openaisdk.ChatModel(model),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openaisdk.Float(float64(req.Temperature))
	}
	if req.TopP > 0 {
		params.TopP = openaisdk.Float(float64(req.TopP))
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(req.MaxTokens))
	}
	return params
}

// requestOpts 组装每次调用的请求选项，JSON 模式与
// 停止词通过原始请求体字段注入，避免逐版本追 SDK 类型
func (p *Provider) requestOpts(req llm.CompletionRequest) []option.RequestOption {
	opts := append([]option.RequestOption{}, p.opts...)
	if req.JSONMode {
		opts = append(opts, option.WithJSONSet("response_format", map[string]string{"type": "json_object"}))
	}
	if len(req.StopWords) > 0 {
		opts = append(opts, option.WithJSONSet("stop", req.StopWords))
	}
	for k, v := range req.ExtraParams {
		opts = append(opts, option.WithJSONSet(k, v))
	}
	return opts
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	client := openaisdk.NewClient(p.requestOpts(req)...)

	resp, err := client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("OpenAI请求失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("OpenAI未返回任何结果")
	}

	return &llm.CompletionResponse{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		TokensUsed:   int(resp.Usage.TotalTokens),
		PromptTokens: int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
		ModelName:    resp.Model,
		ProviderName: p.GetName(),
	}, nil
}

// StreamCompletion 实现流式响应
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	client := openaisdk.NewClient(p.requestOpts(req)...)
	stream := client.Chat.Completions.NewStreaming(ctx, p.buildParams(req))

	respChan := make(chan llm.StreamResponse)

	go func() {
		defer close(respChan)
		defer stream.Close()

		// 消费方取消后发送立即放弃，不留挂起协程
		send := func(r llm.StreamResponse) bool {
			select {
			case respChan <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var modelName string
		var completionSent bool

		for stream.Next() {
			chunk := stream.Current()
			if chunk.Model != "" && modelName == "" {
				modelName = chunk.Model
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			if content := chunk.Choices[0].Delta.Content; content != "" {
				if !send(llm.StreamResponse{Text: content, ModelName: modelName}) {
					return
				}
			}
			if reason := chunk.Choices[0].FinishReason; reason != "" {
				if !send(llm.StreamResponse{FinishReason: reason, ModelName: modelName, Done: true}) {
					return
				}
				completionSent = true
			}
		}

		if err := stream.Err(); err != nil {
			send(llm.StreamResponse{FinishReason: "error", ModelName: modelName, Done: true})
			return
		}
		if !completionSent {
			send(llm.StreamResponse{FinishReason: "stop", ModelName: modelName, Done: true})
		}
	}()

	return respChan, nil
}
