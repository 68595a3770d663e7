// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/di"
	"github.com/Corphon/ChapterForge/internal/services"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由。
// 只从依赖注入容器获取服务，不创建新实例
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	container := di.GetContainer()

	novelService, ok := container.Get("novel").(*services.NovelService)
	if !ok {
		return nil, fmt.Errorf("小说服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	exportService, ok := container.Get("export").(*services.ExportService)
	if !ok {
		return nil, fmt.Errorf("导出服务未正确初始化")
	}

	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		return nil, fmt.Errorf("配置服务未正确初始化")
	}

	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok {
		return nil, fmt.Errorf("统计服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	handler := NewHandler(
		novelService,
		progressService,
		exportService,
		configService,
		statsService,
		llmService,
	)

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())

	// 健康检查
	r.GET("/health", handler.GetHealth)

	// WebSocket 事件流
	r.GET("/ws/novels/:id", handler.NovelWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// ===============================
		// 小说相关路由
		// ===============================
		novelsGroup := api.Group("/novels")
		{
			novelsGroup.GET("", handler.GetNovels)
			novelsGroup.POST("", handler.CreateNovel)
			novelsGroup.GET("/:id", handler.GetNovel)
			novelsGroup.DELETE("/:id", handler.DeleteNovel)
			novelsGroup.PUT("/:id/settings", handler.UpdateNovelSettings)

			// 章节
			novelsGroup.GET("/:id/chapters", handler.GetChapters)
			novelsGroup.GET("/:id/chapters/:number", handler.GetChapter)

			// 世界观实体
			novelsGroup.GET("/:id/world", handler.GetWorldEntities)

			// 导出
			novelsGroup.GET("/:id/export", handler.ExportNovel)

			// 章节生成与事件流
			novelsGroup.POST("/:id/generate", GenerateRateLimit(), handler.GenerateChapters)
			novelsGroup.GET("/:id/events", handler.StreamNovelEvents)
		}

		// ===============================
		// 生成任务路由
		// ===============================
		tasksGroup := api.Group("/tasks")
		{
			tasksGroup.GET("/:taskID", handler.GetGenerationTask)
			tasksGroup.GET("/:taskID/progress", handler.SubscribeTaskProgress)
			tasksGroup.POST("/:taskID/cancel", handler.CancelGenerationTask)
		}

		// ===============================
		// LLM配置相关路由
		// ===============================
		llmGroup := api.Group("/llm")
		{
			llmGroup.GET("/status", handler.GetLLMStatus)
			llmGroup.GET("/models", handler.GetLLMModels)
			llmGroup.PUT("/config", handler.UpdateLLMConfig)
		}

		// ===============================
		// 系统设置与统计
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("/debug", handler.SetDebugMode)
		}

		configGroup := api.Group("/config")
		{
			configGroup.GET("/history", handler.GetConfigHistory)
		}

		statsGroup := api.Group("/stats")
		{
			statsGroup.GET("", handler.GetStats)
			statsGroup.POST("/reset", handler.ResetStats)
		}

		// 调试路由
		api.GET("/ws/status", handler.GetWebSocketStatus)
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
