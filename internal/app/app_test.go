// internal/app/app_test.go
package app

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/di"
	"github.com/Corphon/ChapterForge/internal/embedding"
	"github.com/Corphon/ChapterForge/internal/services"
	"github.com/Corphon/ChapterForge/internal/store"
	"github.com/Corphon/ChapterForge/internal/vectorstore"
)

// setupTest 重置单例并把数据目录指向临时目录
func setupTest(t *testing.T) {
	t.Helper()

	tmp := t.TempDir()
	dataDir := filepath.Join(tmp, "data")
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("LOG_DIR", filepath.Join(tmp, "logs"))
	t.Setenv("DEBUG_MODE", "true")

	instance = nil
	di.GetContainer().Clear()

	require.NoError(t, os.MkdirAll(dataDir, 0755))
	require.NoError(t, config.InitConfig(dataDir))
}

// cleanupTest 释放测试期间打开的存储资源
func cleanupTest(t *testing.T) {
	t.Helper()

	container := di.GetContainer()
	if st, ok := container.Get("store").(*store.Store); ok && st != nil {
		_ = st.Close()
	}
	if ix, ok := container.Get("vectorstore").(*vectorstore.Index); ok && ix != nil {
		_ = ix.Close()
	}
	container.Clear()
	instance = nil
}

// registerLocalEmbedding 预注册本地嵌入引擎，测试不依赖外部API
func registerLocalEmbedding(t *testing.T) embedding.Engine {
	t.Helper()

	engine, err := embedding.NewEngine("local", nil)
	require.NoError(t, err)
	di.GetContainer().Register("embedding", engine)
	return engine
}

// mockServer 可注入的服务器替身，记录调用并在Shutdown时解除阻塞
type mockServer struct {
	listenCalled   atomic.Bool
	shutdownCalled atomic.Bool
	blockCh        chan struct{}
}

func newMockServer() *mockServer {
	return &mockServer{blockCh: make(chan struct{})}
}

func (m *mockServer) ListenAndServe() error {
	m.listenCalled.Store(true)
	<-m.blockCh
	return nil
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdownCalled.Store(true)
	close(m.blockCh)
	return nil
}

func TestGetApp(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	app1 := GetApp()
	require.NotNil(t, app1)
	assert.NotNil(t, app1.stopChan)

	app2 := GetApp()
	assert.Same(t, app1, app2)
}

func TestIsDebugMode(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	// 未初始化时不认为处于调试模式
	instance = nil
	assert.False(t, IsDebugMode())

	app := GetApp()
	app.config = &config.AppConfig{DebugMode: true}
	assert.True(t, IsDebugMode())

	app.config.DebugMode = false
	assert.False(t, IsDebugMode())
}

func TestInitLogger(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	dir := filepath.Join(t.TempDir(), "logs")
	require.NoError(t, initLogger(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "初始化后应创建日志文件")
}

func TestInitServices(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	registerLocalEmbedding(t)
	require.NoError(t, InitServices())

	container := di.GetContainer()
	for _, name := range []string{
		"config", "stats", "llm", "store", "embedding",
		"vectorstore", "retrieval", "novel", "progress", "export",
	} {
		assert.True(t, container.Has(name), "服务未注册: %s", name)
	}

	// 二次初始化不重建已有服务
	llmBefore := container.Get("llm")
	novelBefore := container.Get("novel")
	require.NoError(t, InitServices())
	assert.Same(t, llmBefore, container.Get("llm"))
	assert.Same(t, novelBefore, container.Get("novel"))
}

func TestInitServicesRespectsPreRegistered(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	preLLM := services.NewEmptyLLMService()
	di.GetContainer().Register("llm", preLLM)
	engine := registerLocalEmbedding(t)

	require.NoError(t, InitServices())

	assert.Same(t, preLLM, di.GetContainer().Get("llm"))
	assert.Same(t, engine, di.GetContainer().Get("embedding"))
}

func TestInitServicesWithoutConfig(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	// InitServices 在配置系统就绪后才可调用；
	// GetCurrentConfig 在未初始化时会给出兜底配置，所以这里验证的是正常路径
	registerLocalEmbedding(t)
	require.NoError(t, InitServices())
	assert.True(t, di.GetContainer().Has("novel"))
}

func TestInitialize(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	require.NoError(t, Initialize())

	app := GetApp()
	require.NotNil(t, app.GetConfig())
	assert.NotNil(t, app.router)

	container := di.GetContainer()
	assert.True(t, container.Has("novel"))
	assert.True(t, container.Has("progress"))
	assert.True(t, container.Has("export"))
}

func TestRun(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	app := GetApp()
	app.config = &config.AppConfig{Port: "0"}
	srv := newMockServer()
	app.server = srv

	done := make(chan error, 1)
	go func() { done <- Run() }()

	require.Eventually(t, func() bool {
		return srv.listenCalled.Load()
	}, time.Second, 10*time.Millisecond, "服务器未进入监听状态")

	app.stopChan <- syscall.SIGTERM

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run未在限期内退出")
	}

	assert.True(t, srv.shutdownCalled.Load())
}

func TestCleanup(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	// 空容器下的清理不应崩溃
	app := GetApp()
	app.cleanup()

	// 完整初始化后的清理正常释放资源
	registerLocalEmbedding(t)
	require.NoError(t, InitServices())
	app.cleanup()
}

func TestGetConfigAndContainer(t *testing.T) {
	setupTest(t)
	defer cleanupTest(t)

	app := GetApp()
	assert.Nil(t, app.GetConfig())

	cfg := config.GetCurrentConfig()
	app.config = cfg
	assert.Equal(t, cfg, app.GetConfig())

	assert.Same(t, di.GetContainer(), GetDIContainer())
}
