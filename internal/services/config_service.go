// internal/services/config_service.go
package services

import (
	"sync"
	"time"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/logger"
)

// ConfigService 配置管理门面：封装底层配置读写，
// 更新成功后广播给订阅者（LLM服务借此热切换提供商）
type ConfigService struct {
	subscribers   []ConfigChangeSubscriber
	changeHistory []ConfigChangeRecord

	mu sync.RWMutex
}

// ConfigChangeSubscriber 配置变更订阅者接口
type ConfigChangeSubscriber interface {
	OnConfigChanged(oldConfig, newConfig *config.AppConfig)
}

// ConfigChangeRecord 配置变更记录
type ConfigChangeRecord struct {
	Timestamp time.Time   `json:"timestamp"`
	ChangedBy string      `json:"changed_by"`
	Section   string      `json:"section"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
}

// 变更历史的保留上限
const configHistoryLimit = 1000

// NewConfigService 创建配置服务实例
func NewConfigService() *ConfigService {
	return &ConfigService{
		subscribers:   make([]ConfigChangeSubscriber, 0),
		changeHistory: make([]ConfigChangeRecord, 0, 100),
	}
}

// GetCurrentConfig 获取当前配置的副本
func (s *ConfigService) GetCurrentConfig() *config.AppConfig {
	return config.GetCurrentConfig()
}

// GetLLMProvider 获取当前LLM提供商名称
func (s *ConfigService) GetLLMProvider() string {
	return config.GetCurrentConfig().LLMProvider
}

// UpdateLLMConfig 更新LLM提供商与配置并持久化。
// 缺少 default_model 时按提供商补默认值；成功后通知订阅者
func (s *ConfigService) UpdateLLMConfig(provider string, configMap map[string]string, changedBy string) error {
	if provider == "" {
		return apperrors.NewValidationError("LLM提供商不能为空", nil)
	}
	if configMap == nil {
		configMap = make(map[string]string)
	}
	if configMap["api_key"] == "" && provider != "mock" {
		logger.GetLogger().Warn("LLM配置缺少api_key", map[string]interface{}{
			"provider": provider,
		})
	}
	if configMap["default_model"] == "" {
		if fallback, ok := providerDefaultModels[provider]; ok {
			configMap["default_model"] = fallback
		}
	}

	oldConfig := config.GetCurrentConfig()
	if err := config.UpdateLLMConfig(provider, configMap); err != nil {
		return err
	}
	newConfig := config.GetCurrentConfig()

	s.recordChange("LLM配置", oldConfig.LLMProvider, provider, changedBy)
	s.notifySubscribers(oldConfig, newConfig)
	return nil
}

// UpdateEmbeddingConfig 更新向量嵌入提供商与配置并持久化
func (s *ConfigService) UpdateEmbeddingConfig(provider string, configMap map[string]string, changedBy string) error {
	if provider == "" {
		return apperrors.NewValidationError("嵌入提供商不能为空", nil)
	}
	if configMap == nil {
		configMap = make(map[string]string)
	}

	oldConfig := config.GetCurrentConfig()
	if err := config.UpdateEmbeddingConfig(provider, configMap); err != nil {
		return err
	}
	newConfig := config.GetCurrentConfig()

	s.recordChange("嵌入配置", oldConfig.EmbeddingProvider, provider, changedBy)
	s.notifySubscribers(oldConfig, newConfig)
	return nil
}

// SetDebugMode 切换调试模式并保存
func (s *ConfigService) SetDebugMode(enabled bool) error {
	cfg := config.GetCurrentConfig()
	cfg.DebugMode = enabled
	return config.SaveConfig()
}

// SubscribeToChanges 订阅配置变更事件
func (s *ConfigService) SubscribeToChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, subscriber)
}

// UnsubscribeFromChanges 取消配置变更订阅
func (s *ConfigService) UnsubscribeFromChanges(subscriber ConfigChangeSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subscribers {
		if sub == subscriber {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
}

// notifySubscribers 异步通知所有订阅者配置已变更
func (s *ConfigService) notifySubscribers(oldConfig, newConfig *config.AppConfig) {
	s.mu.RLock()
	subscribers := make([]ConfigChangeSubscriber, len(s.subscribers))
	copy(subscribers, s.subscribers)
	s.mu.RUnlock()

	for _, subscriber := range subscribers {
		go subscriber.OnConfigChanged(oldConfig, newConfig)
	}
}

// GetChangeHistory 返回最近的配置变更记录
func (s *ConfigService) GetChangeHistory(limit int) []ConfigChangeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changeHistory) {
		limit = len(s.changeHistory)
	}
	history := make([]ConfigChangeRecord, limit)
	copy(history, s.changeHistory[len(s.changeHistory)-limit:])
	return history
}

// recordChange 追加一条变更记录，超出上限时淘汰最旧的
func (s *ConfigService) recordChange(section string, oldValue, newValue interface{}, changedBy string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.changeHistory) >= configHistoryLimit {
		s.changeHistory = s.changeHistory[1:]
	}
	s.changeHistory = append(s.changeHistory, ConfigChangeRecord{
		Timestamp: time.Now(),
		ChangedBy: changedBy,
		Section:   section,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
}
