// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Corphon/ChapterForge/internal/api"
	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/di"
	"github.com/Corphon/ChapterForge/internal/embedding"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/services"
	"github.com/Corphon/ChapterForge/internal/store"
	"github.com/Corphon/ChapterForge/internal/vectorstore"
)

// Server 抽象HTTP服务器，便于测试注入
type Server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用实例，聚合配置、路由与底层资源
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   Server
	stopChan chan os.Signal
}

// 全局应用实例
var instance *App

// GetApp 获取应用单例
func GetApp() *App {
	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// GetConfig 返回应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// GetDIContainer 获取依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 查询调试模式是否开启
func IsDebugMode() bool {
	if instance == nil || instance.config == nil {
		return false
	}
	return instance.config.DebugMode
}

// Initialize 完成应用启动前的全部准备：
// 加载配置、建立目录、初始化日志与服务、装配路由
func Initialize() error {
	baseConfig, err := config.Load()
	if err != nil {
		return fmt.Errorf("加载基础配置失败: %w", err)
	}

	if err := createDirectories(baseConfig); err != nil {
		return err
	}

	if err := config.InitConfig(baseConfig.DataDir); err != nil {
		return fmt.Errorf("初始化配置系统失败: %w", err)
	}

	app := GetApp()
	app.config = config.GetCurrentConfig()

	if err := initLogger(app.config.LogDir); err != nil {
		return fmt.Errorf("初始化日志系统失败: %w", err)
	}

	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("设置路由失败: %w", err)
	}
	app.router = router

	return nil
}

// initLogger 初始化日志系统
func initLogger(logDir string) error {
	return logger.InitLogger(logDir, IsDebugMode())
}

// createDirectories 创建应用所需的目录结构
func createDirectories(cfg *config.Config) error {
	dirs := []string{
		cfg.DataDir,
		filepath.Join(cfg.DataDir, "exports"),
		cfg.LogDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// InitServices 按依赖顺序初始化所有服务并注册到容器。
// 已注册的服务不会被重复创建，测试可以预先注入替身
func InitServices() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置系统尚未初始化")
	}

	container := di.GetContainer()

	// 配置与统计服务没有前置依赖
	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		configService = services.NewConfigService()
		container.Register("config", configService)
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		statsService = services.NewStatsService(cfg.DataDir)
		container.Register("stats", statsService)
	}

	// LLM服务：用量计入统计，并订阅配置变更实现热切换
	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		var err error
		llmService, err = services.NewLLMService()
		if err != nil {
			return fmt.Errorf("初始化LLM服务失败: %w", err)
		}
		container.Register("llm", llmService)
	}
	llmService.SetUsageRecorder(statsService.RecordRequest)
	configService.SubscribeToChanges(llmService)

	// 关系型存储
	st, ok := container.Get("store").(*store.Store)
	if !ok {
		var err error
		st, err = store.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("打开小说存储失败: %w", err)
		}
		container.Register("store", st)
	}

	// 向量检索：嵌入引擎 + 向量索引
	engine, ok := container.Get("embedding").(embedding.Engine)
	if !ok {
		var err error
		engine, err = embedding.NewEngine(cfg.EmbeddingProvider, cfg.EmbeddingConfig)
		if err != nil {
			// 缺少密钥时降级到本地引擎，服务必须能在无密钥状态下启动
			logger.GetLogger().Warn("嵌入引擎初始化失败，降级为本地引擎", map[string]interface{}{
				"provider": cfg.EmbeddingProvider,
				"error":    err.Error(),
			})
			engine, err = embedding.NewEngine("local", cfg.EmbeddingConfig)
			if err != nil {
				return fmt.Errorf("初始化嵌入引擎失败: %w", err)
			}
		}
		container.Register("embedding", engine)
	}

	index, ok := container.Get("vectorstore").(*vectorstore.Index)
	if !ok {
		var err error
		index, err = vectorstore.Open(cfg.VectorDBPath, engine.Dimensions())
		if err != nil {
			return fmt.Errorf("打开向量索引失败: %w", err)
		}
		container.Register("vectorstore", index)
	}

	retrievalService, ok := container.Get("retrieval").(*services.RetrievalService)
	if !ok {
		retrievalService = services.NewRetrievalService(engine, index)
		container.Register("retrieval", retrievalService)
	}

	// 生成流水线：蓝图架构、细纲维护、章节分解、场景写作、
	// 世界观演化、大纲修订，最终由小说服务编排
	if !container.Has("novel") {
		architect := services.NewPlanArchitectService(llmService)
		outlineService := services.NewOutlineService(st, architect)
		decomposer := services.NewDecomposerService(llmService)
		sceneWriter := services.NewSceneWriterService(llmService, retrievalService)
		evolution := services.NewWorldEvolutionService(llmService, st, retrievalService)
		reconciliation := services.NewReconciliationService(llmService)

		novelService := services.NewNovelService(st, architect, outlineService,
			decomposer, sceneWriter, evolution, reconciliation, retrievalService)
		container.Register("novel", novelService)
	}

	if !container.Has("progress") {
		container.Register("progress", services.NewProgressService())
	}

	if !container.Has("export") {
		container.Register("export", services.NewExportService(st))
	}

	return nil
}

// Run 启动HTTP服务器并阻塞等待退出信号，收到信号后优雅关闭
func Run() error {
	app := GetApp()

	if app.server == nil {
		port := "8080"
		if app.config != nil && app.config.Port != "" {
			port = app.config.Port
		}
		app.server = &http.Server{
			Addr:    ":" + port,
			Handler: app.router,
		}
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	signal.Notify(app.stopChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("启动服务器失败: %w", err)
	case sig := <-app.stopChan:
		logger.GetLogger().Info("收到退出信号，正在关闭服务器", map[string]interface{}{
			"signal": sig.String(),
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("服务器关闭失败: %w", err)
	}

	app.cleanup()
	return nil
}

// cleanup 依序释放资源：先排空章节交付后的处理协程，
// 再关闭统计与底层存储
func (a *App) cleanup() {
	container := di.GetContainer()

	if novelService, ok := container.Get("novel").(*services.NovelService); ok && novelService != nil {
		novelService.WaitEnrichment()
	}

	if statsService, ok := container.Get("stats").(*services.StatsService); ok && statsService != nil {
		if err := statsService.Close(); err != nil {
			logger.GetLogger().Warn("统计服务关闭失败", map[string]interface{}{"error": err.Error()})
		}
	}

	if st, ok := container.Get("store").(*store.Store); ok && st != nil {
		if err := st.Close(); err != nil {
			logger.GetLogger().Warn("小说存储关闭失败", map[string]interface{}{"error": err.Error()})
		}
	}

	if index, ok := container.Get("vectorstore").(*vectorstore.Index); ok && index != nil {
		if err := index.Close(); err != nil {
			logger.GetLogger().Warn("向量索引关闭失败", map[string]interface{}{"error": err.Error()})
		}
	}

	logger.GetLogger().Sync()
}
