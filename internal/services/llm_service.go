// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/logger"

	// 注册生产环境支持的提供商
	_ "github.com/Corphon/ChapterForge/internal/llm/providers/deepseek"
	_ "github.com/Corphon/ChapterForge/internal/llm/providers/openai"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrLLMNotReady = errors.New("llm service not ready")

var providerDefaultModels = map[string]string{
	"openai":   "gpt-4o-mini",
	"deepseek": "deepseek-chat",
}

// LLMService 提供统一的大语言模型调用接口
type LLMService struct {
	providerMutex      sync.RWMutex
	provider           llm.Provider
	providerName       string
	cache              *LLMCache
	isReady            bool
	readyState         string
	activeDefaultModel string
	usageRecorder      func(tokens int)
}

type LLMCache struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	expiration time.Duration
}

type CacheEntry struct {
	Response  interface{}
	CreatedAt time.Time
}

// NewLLMService 创建一个新的LLM服务
func NewLLMService() (*LLMService, error) {
	service := createBaseLLMService()

	// 尝试从配置初始化
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		service.readyState = "无法读取配置"
		return service, nil
	}

	if cfg.LLMProvider == "" || (cfg.LLMConfig != nil && cfg.LLMConfig["api_key"] == "") {
		service.readyState = "API密钥未配置"
		return service, nil
	}

	// 尝试初始化提供商
	provider, err := llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
	if err != nil {
		service.readyState = fmt.Sprintf("初始化失败: %v", err)
		return service, nil // 返回未就绪服务而不是错误
	}

	// 初始化成功
	service.provider = provider
	service.providerName = cfg.LLMProvider
	service.activeDefaultModel = extractDefaultModel(cfg.LLMConfig)
	service.isReady = true
	service.readyState = "已就绪"

	return service, nil
}

// NewEmptyLLMService 创建一个空的LLM服务实例作为后备方案
func NewEmptyLLMService() *LLMService {
	service := createBaseLLMService()
	service.providerName = "empty"
	service.readyState = "待机模式——请在设置中配置API密钥"
	return service
}

// NewLLMServiceWithProvider 用现成的提供者构建服务，测试与演示场景使用
func NewLLMServiceWithProvider(provider llm.Provider, name string) *LLMService {
	service := createBaseLLMService()
	service.provider = provider
	service.providerName = name
	service.isReady = true
	service.readyState = "已就绪"
	return service
}

// createBaseLLMService 创建基础LLM服务实例
func createBaseLLMService() *LLMService {
	return &LLMService{
		provider:           nil,
		providerName:       "",
		isReady:            false,
		readyState:         "未初始化",
		activeDefaultModel: "",
		cache: &LLMCache{
			cache:      make(map[string]*CacheEntry),
			mutex:      sync.RWMutex{},
			expiration: 30 * time.Minute,
		},
	}
}

// IsReady 返回服务是否已就绪
func (s *LLMService) IsReady() bool {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider != nil && s.isReady
}

// GetReadyState 返回服务就绪状态描述
func (s *LLMService) GetReadyState() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()

	if s.provider != nil && s.isReady {
		return "已就绪"
	}

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return "无法读取配置"
	}
	if cfg.LLMProvider == "" {
		return "LLM提供商未配置"
	}
	if cfg.LLMConfig == nil || cfg.LLMConfig["api_key"] == "" {
		return "API密钥未配置"
	}
	return s.readyState
}

// GetProviderStatus 返回服务是否就绪以及可读描述
func (s *LLMService) GetProviderStatus() (bool, string) {
	if s == nil {
		return false, "LLM服务实例未初始化"
	}
	if s.IsReady() {
		return true, "已就绪"
	}
	return false, s.GetReadyState()
}

// UpdateProvider 更新LLM服务的提供商
func (s *LLMService) UpdateProvider(providerName string, config map[string]string) error {
	provider, err := llm.GetProvider(providerName, config)
	if err != nil {
		s.providerMutex.Lock()
		s.isReady = false
		s.readyState = fmt.Sprintf("配置失败: %v", err)
		s.providerMutex.Unlock()
		return err
	}

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	s.provider = provider
	s.providerName = providerName
	s.activeDefaultModel = extractDefaultModel(config)
	s.isReady = true
	s.readyState = "已就绪"

	// 切换提供商后旧缓存作废
	s.cache = &LLMCache{
		cache:      make(map[string]*CacheEntry),
		mutex:      sync.RWMutex{},
		expiration: 30 * time.Minute,
	}

	return nil
}

// SetUsageRecorder 注册用量回调，每次成功的模型调用上报一次
func (s *LLMService) SetUsageRecorder(recorder func(tokens int)) {
	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()
	s.usageRecorder = recorder
}

// recordUsage 上报一次调用用量
func (s *LLMService) recordUsage(tokens int) {
	s.providerMutex.RLock()
	recorder := s.usageRecorder
	s.providerMutex.RUnlock()
	if recorder != nil {
		recorder(tokens)
	}
}

// OnConfigChanged 实现配置变更订阅：LLM提供商配置变化时热切换
func (s *LLMService) OnConfigChanged(oldConfig, newConfig *config.AppConfig) {
	if newConfig == nil || newConfig.LLMProvider == "" {
		return
	}
	if err := s.UpdateProvider(newConfig.LLMProvider, newConfig.LLMConfig); err != nil {
		logger.GetLogger().Error("按新配置切换LLM提供商失败", map[string]interface{}{
			"provider": newConfig.LLMProvider,
			"error":    err.Error(),
		})
		return
	}
	logger.GetLogger().Info("LLM提供商已按新配置切换", map[string]interface{}{
		"provider": newConfig.LLMProvider,
	})
}

// readyProvider 取出当前提供者，未就绪时报错
func (s *LLMService) readyProvider() (llm.Provider, error) {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	if !s.isReady || s.provider == nil {
		return nil, fmt.Errorf("%w: %s", ErrLLMNotReady, s.readyState)
	}
	return s.provider, nil
}

// generateCacheKey 生成缓存键
func (s *LLMService) generateCacheKey(prompt, systemPrompt, model string) string {
	s.providerMutex.RLock()
	providerName := s.providerName
	s.providerMutex.RUnlock()

	hashInput := fmt.Sprintf("%s:::%s:::%s:::%s",
		prompt, systemPrompt, model, providerName)
	h := md5.New()
	h.Write([]byte(hashInput))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// getFromCache 从缓存中获取结果
func (c *LLMCache) getFromCache(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists {
		return nil, false
	}

	// 检查是否过期
	if time.Since(entry.CreatedAt) > c.expiration {
		return nil, false
	}

	return entry.Response, true
}

// invalidate 删除一条缓存
func (c *LLMCache) invalidate(key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
}

// saveToCache 保存结果到缓存
func (c *LLMCache) saveToCache(key string, response interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.cache[key] = &CacheEntry{
		Response:  response,
		CreatedAt: time.Now(),
	}

	if len(c.cache) > 1000 {
		c.cleanupOldest(100) // 清理100个最旧的条目
	}
}

// cleanupOldest 清理最旧的缓存条目
func (c *LLMCache) cleanupOldest(count int) {
	type keyAge struct {
		key string
		age time.Time
	}

	entries := make([]keyAge, 0, len(c.cache))
	for k, v := range c.cache {
		entries = append(entries, keyAge{k, v.CreatedAt})
	}

	// 按创建时间排序
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].age.Before(entries[j].age)
	})

	// 删除最旧的条目
	maxToDelete := min(count, len(entries))
	for i := 0; i < maxToDelete; i++ {
		delete(c.cache, entries[i].key)
	}
}

// CreateTextCompletion 普通文本生成，带结果缓存
func (s *LLMService) CreateTextCompletion(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	provider, err := s.readyProvider()
	if err != nil {
		return nil, err
	}

	req.Model = s.resolveModel(req.Model)

	cacheKey := s.generateCacheKey(req.Prompt, req.SystemPrompt, req.Model)
	if cached := s.CheckCache(cacheKey); cached != nil {
		logger.GetLogger().Debug("LLM文本缓存命中", map[string]interface{}{"cache_key_prefix": cacheKey[:8]})
		return cached, nil
	}

	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, errors.New("模型返回了空文本")
	}

	s.recordUsage(resp.TokensUsed)
	s.AddToCache(cacheKey, resp)
	return resp, nil
}

// CreateStreamCompletion 流式文本生成，不走缓存。
// 流式响应不带用量信息，按一次零token调用计数
func (s *LLMService) CreateStreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamResponse, error) {
	provider, err := s.readyProvider()
	if err != nil {
		return nil, err
	}

	req.Model = s.resolveModel(req.Model)
	req.Stream = true
	s.recordUsage(0)
	return provider.StreamCompletion(ctx, req)
}

// CreateStructuredCompletion 结构化输出生成：请求JSON模式，
// 清洗响应后反序列化到 outputSchema。相同请求命中缓存时
// 直接复用上次的解析结果
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, prompt string, systemPrompt string, outputSchema interface{}) error {
	provider, err := s.readyProvider()
	if err != nil {
		return err
	}

	model := s.resolveModel("")

	// 生成缓存键
	cacheKey := s.generateCacheKey(prompt, systemPrompt, model)

	// 检查缓存
	if s.checkAndUseCache(cacheKey, outputSchema) {
		return nil
	}

	// 修改系统提示以请求特定格式
	structuredSystemPrompt := systemPrompt
	if systemPrompt != "" {
		structuredSystemPrompt += "\n\n"
	}
	structuredSystemPrompt += "只输出符合要求结构的有效JSON，禁止添加解释、前言或Markdown代码块。"

	req := llm.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: structuredSystemPrompt,
		Temperature:  0.3,
		MaxTokens:    4000,
		Model:        model,
		JSONMode:     true,
	}

	// 调用实际Provider
	resp, err := provider.CompleteText(ctx, req)
	if err != nil {
		return err
	}
	s.recordUsage(resp.TokensUsed)

	// 尝试解析结构化输出
	text := cleanJSONString(resp.Text)

	// 解析JSON到提供的结构中
	err = json.Unmarshal([]byte(text), outputSchema)
	if err != nil {
		return fmt.Errorf("无法把模型响应解析为结构化数据: %w\n模型返回: %s", err, truncateText(text, 200))
	}

	// 保存到缓存
	s.saveToCache(cacheKey, outputSchema)

	return nil
}

// 清理JSON字符串，去除前后非JSON内容
var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```", "",
	"\uFEFF", "",
	" ", " ",
	" ", "\n",
	" ", "\n",
)

var structuralPunctuationMap = map[rune]rune{
	'：': ':',
	'﹕': ':',
	'，': ',',
	'﹐': ',',
	'；': ';',
	'﹔': ';',
	'【': '[',
	'】': ']',
	'［': '[',
	'］': ']',
	'｛': '{',
	'｝': '}',
	'（': '(',
	'）': ')',
}

var quotePairs = map[rune]rune{
	'"': '"',
	'“': '”',
	'”': '”',
	'„': '”',
	'‟': '”',
	'「': '」',
	'」': '」',
	'『': '』',
	'﹁': '﹂',
	'﹂': '﹂',
}

func normalizeJSONStructure(s string) string {
	if s == "" {
		return s
	}

	var builder strings.Builder
	builder.Grow(len(s))
	inString := false
	escaped := false
	currentClosing := '"'

	for _, r := range s {
		if inString {
			if !escaped && r == '\\' {
				escaped = true
				builder.WriteRune(r)
				continue
			}

			if escaped {
				escaped = false
				builder.WriteRune(r)
				continue
			}

			if r == currentClosing || r == '"' {
				inString = false
				currentClosing = '"'
				builder.WriteRune('"')
				continue
			}

			builder.WriteRune(r)
			continue
		}

		if replacement, ok := structuralPunctuationMap[r]; ok {
			r = replacement
		} else if closing, ok := quotePairs[r]; ok {
			inString = true
			currentClosing = closing
			builder.WriteRune('"')
			continue
		} else if r == '"' {
			inString = true
			currentClosing = '"'
			builder.WriteRune(r)
			continue
		} else if r > unicode.MaxASCII && !unicode.IsSpace(r) {
			// 丢弃出现在字符串外的异常Unicode字符（例如 æ、• 等）
			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

func cleanJSONString(s string) string {
	if s == "" {
		return s
	}

	// 统一替换常见的噪声、全角符号以及Markdown标记
	s = jsonNoiseReplacer.Replace(s)
	s = strings.TrimSpace(s)

	// 移除零宽字符及除换行/制表符外的控制字符
	s = strings.Map(func(r rune) rune {
		switch r {
		case '​', '‌', '‍', '⁠', '\uFEFF':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	// 查找第一个 { 或 [，将其之前的内容全部丢弃
	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}

	s = strings.TrimSpace(s[start:])
	if s == "" {
		return s
	}

	// 规范化JSON结构所需的标点符号，移除字符串外的异常字符
	s = normalizeJSONStructure(s)

	isArray := len(s) > 0 && s[0] == '['

	// 简单的括号计数匹配
	balance := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		char := s[i]

		if escaped {
			escaped = false
			continue
		}

		if char == '\\' {
			escaped = true
			continue
		}

		if char == '"' {
			inString = !inString
			continue
		}

		if !inString {
			if isArray {
				if char == '[' {
					balance++
				} else if char == ']' {
					balance--
				}
			} else {
				if char == '{' {
					balance++
				} else if char == '}' {
					balance--
				}
			}

			if balance == 0 {
				// 找到了匹配的结束符
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	// 如果没找到匹配的结束符，尝试回退到旧逻辑（找最后一个）
	end := -1
	if isArray {
		end = strings.LastIndex(s, "]")
	} else {
		end = strings.LastIndex(s, "}")
	}

	if end != -1 && end >= 0 {
		return strings.TrimSpace(s[:end+1])
	}

	return strings.TrimSpace(s)
}

// InvalidateStructuredCache 使一条结构化请求的缓存失效。
// 响应能解析但语义上不可用时，调用方在重试前清掉缓存，
// 否则重试只会反复命中同一份坏结果
func (s *LLMService) InvalidateStructuredCache(prompt, systemPrompt string) {
	if s.cache == nil {
		return
	}
	model := s.resolveModel("")
	s.cache.invalidate(s.generateCacheKey(prompt, systemPrompt, model))
}

// CleanLLMJSONResponse 提供给外部调用的JSON清洗助手
func CleanLLMJSONResponse(raw string) string {
	return cleanJSONString(raw)
}

// GetProvider 返回内部的Provider实例
func (s *LLMService) GetProvider() llm.Provider {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.provider
}

// GetProviderName 返回当前LLM提供商名称
func (s *LLMService) GetProviderName() string {
	s.providerMutex.RLock()
	defer s.providerMutex.RUnlock()
	return s.providerName
}

// GenerateCacheKey 为请求生成缓存键
func (s *LLMService) GenerateCacheKey(req llm.CompletionRequest) string {
	return s.generateCacheKey(req.Prompt, req.SystemPrompt, req.Model)
}

// CheckCache 检查并返回缓存的响应
func (s *LLMService) CheckCache(key string) *llm.CompletionResponse {
	if s.cache == nil {
		return nil
	}

	if entry, found := s.cache.getFromCache(key); found {
		if response, ok := entry.(*llm.CompletionResponse); ok {
			return response
		}
	}
	return nil
}

// AddToCache 添加响应到缓存
func (s *LLMService) AddToCache(key string, response *llm.CompletionResponse) {
	if s.cache != nil {
		s.cache.saveToCache(key, response)
	}
}

// GetDefaultModel 获取当前配置的默认模型
func (s *LLMService) GetDefaultModel() string {
	return s.resolveModel("")
}

// resolveModel 根据请求和配置确定应使用的模型
func (s *LLMService) resolveModel(requestedModel string) string {
	if trimmed := strings.TrimSpace(requestedModel); trimmed != "" {
		return trimmed
	}

	s.providerMutex.RLock()
	provider := s.provider
	providerName := s.providerName
	activeDefault := s.activeDefaultModel
	s.providerMutex.RUnlock()

	if activeDefault != "" {
		return activeDefault
	}

	if provider != nil {
		if models := provider.GetSupportedModels(); len(models) > 0 {
			if model := strings.TrimSpace(models[0]); model != "" {
				return model
			}
		}
	}

	if cfg := config.GetCurrentConfig(); cfg != nil && cfg.LLMProvider == providerName {
		if cfg.LLMConfig != nil {
			if model := strings.TrimSpace(cfg.LLMConfig["default_model"]); model != "" {
				return model
			}
			if model := strings.TrimSpace(cfg.LLMConfig["model"]); model != "" {
				return model
			}
		}
	}

	if model, exists := providerDefaultModels[providerName]; exists {
		if trimmed := strings.TrimSpace(model); trimmed != "" {
			return trimmed
		}
	}

	return "deepseek-chat"
}

func extractDefaultModel(cfg map[string]string) string {
	if cfg == nil {
		return ""
	}
	if model := strings.TrimSpace(cfg["default_model"]); model != "" {
		return model
	}
	if model := strings.TrimSpace(cfg["model"]); model != "" {
		return model
	}
	return ""
}

// 统一的缓存操作方法
func (s *LLMService) checkAndUseCache(cacheKey string, outputSchema interface{}) bool {
	if s.cache == nil {
		return false
	}

	if cachedResponse, found := s.cache.getFromCache(cacheKey); found {
		// 缓存响应统一存为JSON字节
		if responseBytes, ok := cachedResponse.([]byte); ok {
			if outputSchema != nil {
				err := json.Unmarshal(responseBytes, outputSchema)
				if err == nil {
					logger.GetLogger().Debug("LLM结构化缓存命中", map[string]interface{}{"cache_key_prefix": cacheKey[:8]})
					return true
				}
			}
		}

		// 旧类型缓存条目的兼容转换
		if resp, ok := cachedResponse.(*llm.CompletionResponse); ok {
			if outputSchema != nil {
				err := json.Unmarshal([]byte(cleanJSONString(resp.Text)), outputSchema)
				if err == nil {
					logger.GetLogger().Debug("LLM结构化缓存命中", map[string]interface{}{"cache_key_prefix": cacheKey[:8]})
					return true
				}
			}
		}
	}

	return false
}

// 统一的缓存保存方法
func (s *LLMService) saveToCache(cacheKey string, response interface{}) {
	if s.cache == nil {
		return
	}

	// 总是将响应序列化为JSON字节存储，以确保一致的类型处理
	responseBytes, err := json.Marshal(response)
	if err != nil {
		logger.GetLogger().Error("缓存响应序列化失败", map[string]interface{}{"err": err.Error()})
		s.cache.saveToCache(cacheKey, response)
		return
	}
	s.cache.saveToCache(cacheKey, responseBytes)
}

// 辅助函数，保持文本长度在限制范围内
func truncateText(text string, maxLength int) string {
	if maxLength <= 0 {
		return "..."
	}
	if len(text) == 0 {
		return ""
	}

	// 按符文截断，正确处理中文等多字节字符
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	return string(runes[:maxLength]) + "..."
}
