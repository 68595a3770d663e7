// internal/services/config_service_test.go
package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/apperrors"
	"github.com/Corphon/ChapterForge/internal/config"
)

// initTestConfig 把配置系统指向临时目录，避免测试污染工作区
func initTestConfig(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("LOG_DIR", dir)
	require.NoError(t, config.InitConfig(dir))
}

type recordingSubscriber struct {
	ch chan string
}

func (r *recordingSubscriber) OnConfigChanged(oldConfig, newConfig *config.AppConfig) {
	r.ch <- newConfig.LLMProvider
}

func waitForNotification(t *testing.T, ch chan string) string {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("等待配置变更通知超时")
		return ""
	}
}

func TestUpdateLLMConfigPersistsAndNotifies(t *testing.T) {
	initTestConfig(t)
	svc := NewConfigService()

	sub := &recordingSubscriber{ch: make(chan string, 1)}
	svc.SubscribeToChanges(sub)

	err := svc.UpdateLLMConfig("deepseek", map[string]string{"api_key": "test-key"}, "单元测试")
	require.NoError(t, err)

	assert.Equal(t, "deepseek", waitForNotification(t, sub.ch))

	cfg := config.GetCurrentConfig()
	assert.Equal(t, "deepseek", cfg.LLMProvider)
	assert.Equal(t, "test-key", cfg.LLMConfig["api_key"])
	assert.Equal(t, "deepseek-chat", cfg.LLMConfig["default_model"], "缺省模型按提供商补齐")

	history := svc.GetChangeHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, "LLM配置", history[0].Section)
	assert.Equal(t, "单元测试", history[0].ChangedBy)
	assert.Equal(t, "deepseek", history[0].NewValue)
}

func TestUpdateLLMConfigValidation(t *testing.T) {
	svc := NewConfigService()

	err := svc.UpdateLLMConfig("", nil, "单元测试")
	assert.True(t, apperrors.IsValidationError(err))
	assert.Empty(t, svc.GetChangeHistory(0), "校验失败不留变更记录")
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	initTestConfig(t)
	svc := NewConfigService()

	stale := &recordingSubscriber{ch: make(chan string, 1)}
	active := &recordingSubscriber{ch: make(chan string, 1)}
	svc.SubscribeToChanges(stale)
	svc.SubscribeToChanges(active)
	svc.UnsubscribeFromChanges(stale)

	require.NoError(t, svc.UpdateLLMConfig("mock", map[string]string{}, "单元测试"))

	assert.Equal(t, "mock", waitForNotification(t, active.ch))
	assert.Empty(t, stale.ch, "退订后不再收到通知")
}

func TestUpdateEmbeddingConfig(t *testing.T) {
	initTestConfig(t)
	svc := NewConfigService()

	err := svc.UpdateEmbeddingConfig("local", map[string]string{"dimensions": "256"}, "单元测试")
	require.NoError(t, err)

	assert.Equal(t, "local", config.GetCurrentConfig().EmbeddingProvider)

	history := svc.GetChangeHistory(1)
	require.Len(t, history, 1)
	assert.Equal(t, "嵌入配置", history[0].Section)
}

func TestSetDebugMode(t *testing.T) {
	initTestConfig(t)
	svc := NewConfigService()

	require.NoError(t, svc.SetDebugMode(false))
	assert.False(t, config.GetCurrentConfig().DebugMode)

	require.NoError(t, svc.SetDebugMode(true))
	assert.True(t, config.GetCurrentConfig().DebugMode)
}

func TestGetChangeHistoryReturnsMostRecent(t *testing.T) {
	initTestConfig(t)
	svc := NewConfigService()

	for _, by := range []string{"第一次", "第二次", "第三次"} {
		require.NoError(t, svc.UpdateLLMConfig("mock", map[string]string{}, by))
	}

	history := svc.GetChangeHistory(2)
	require.Len(t, history, 2)
	assert.Equal(t, "第二次", history[0].ChangedBy)
	assert.Equal(t, "第三次", history[1].ChangedBy)
}
