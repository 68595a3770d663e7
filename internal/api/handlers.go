// internal/api/handlers.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/services"
	"github.com/gin-gonic/gin"
)

// Handler 处理API请求
type Handler struct {
	NovelService    *services.NovelService    // 小说编排服务
	ProgressService *services.ProgressService // 进度跟踪服务
	ExportService   *services.ExportService   // 导出服务
	ConfigService   *services.ConfigService   // 配置服务
	StatsService    *services.StatsService    // 统计服务
	LLMService      *services.LLMService      // LLM服务
	Response        *ResponseHelper           // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	novelService *services.NovelService,
	progressService *services.ProgressService,
	exportService *services.ExportService,
	configService *services.ConfigService,
	statsService *services.StatsService,
	llmService *services.LLMService,
) *Handler {
	return &Handler{
		NovelService:    novelService,
		ProgressService: progressService,
		ExportService:   exportService,
		ConfigService:   configService,
		StatsService:    statsService,
		LLMService:      llmService,
		Response:        NewResponseHelper(),
	}
}

// ------------------------------------------------
// 小说
// ------------------------------------------------

// CreateNovel 创建小说。
// 同步完成初始计划的生成（宏观蓝图+首批细纲），耗时取决于模型响应
func (h *Handler) CreateNovel(c *gin.Context) {
	var req struct {
		Title    string               `json:"title" binding:"required"`
		Premise  string               `json:"premise" binding:"required"`
		Settings models.NovelSettings `json:"settings"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	novel, err := h.NovelService.CreateNovel(c.Request.Context(), req.Title, req.Premise, req.Settings)
	if err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	h.Response.Created(c, novel, "小说创建成功")
}

// GetNovels 获取全部小说列表
func (h *Handler) GetNovels(c *gin.Context) {
	novels, err := h.NovelService.ListNovels(c.Request.Context())
	if err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	h.Response.Success(c, novels, "小说列表获取成功")
}

// GetNovel 获取指定小说详情
func (h *Handler) GetNovel(c *gin.Context) {
	novelID := c.Param("id")
	novel, err := h.NovelService.GetNovel(c.Request.Context(), novelID)
	if err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	h.Response.Success(c, novel, "小说获取成功")
}

// UpdateNovelSettings 更新小说的生成参数
func (h *Handler) UpdateNovelSettings(c *gin.Context) {
	novelID := c.Param("id")

	var settings models.NovelSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	novel, err := h.NovelService.UpdateSettings(c.Request.Context(), novelID, settings)
	if err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	h.Response.Success(c, novel, "生成参数更新成功")
}

// DeleteNovel 删除小说及其全部章节、世界观与向量索引
func (h *Handler) DeleteNovel(c *gin.Context) {
	novelID := c.Param("id")

	if err := h.NovelService.DeleteNovel(c.Request.Context(), novelID); err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	h.Response.Success(c, gin.H{"novel_id": novelID}, "小说已删除")
}

// ------------------------------------------------
// 章节
// ------------------------------------------------

// GetChapters 按章节号升序返回小说的全部章节
func (h *Handler) GetChapters(c *gin.Context) {
	novelID := c.Param("id")

	if _, err := h.NovelService.GetNovel(c.Request.Context(), novelID); err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	chapters, err := h.NovelService.ListChapters(c.Request.Context(), novelID)
	if err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	h.Response.Success(c, chapters, "章节列表获取成功")
}

// GetChapter 按章节号读取单个章节
func (h *Handler) GetChapter(c *gin.Context) {
	novelID := c.Param("id")

	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number < 1 {
		h.Response.BadRequest(c, "章节号必须是正整数", c.Param("number"))
		return
	}

	chapter, err := h.NovelService.GetChapterByNumber(c.Request.Context(), novelID, number)
	if err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	h.Response.Success(c, chapter, "章节获取成功")
}

// ------------------------------------------------
// 世界观
// ------------------------------------------------

// GetWorldEntities 返回小说的世界观实体。
// kind 为 character/scene/clue 之一；缺省时按类别分组返回全部
func (h *Handler) GetWorldEntities(c *gin.Context) {
	novelID := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.NovelService.GetNovel(ctx, novelID); err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	kindParam := c.Query("kind")
	if kindParam != "" {
		kind := models.EntityKind(kindParam)
		switch kind {
		case models.EntityKindCharacter, models.EntityKindScene, models.EntityKindClue:
		default:
			h.Response.BadRequest(c, "未知的实体类别", kindParam)
			return
		}

		entities, err := h.NovelService.ListWorldEntities(ctx, novelID, kind)
		if err != nil {
			h.Response.FromAppError(c, err)
			return
		}
		h.Response.Success(c, entities, "世界观实体获取成功")
		return
	}

	grouped := make(map[string][]models.WorldEntity, 3)
	for _, kind := range models.AllEntityKinds() {
		entities, err := h.NovelService.ListWorldEntities(ctx, novelID, kind)
		if err != nil {
			h.Response.FromAppError(c, err)
			return
		}
		grouped[string(kind)] = entities
	}

	h.Response.Success(c, grouped, "世界观实体获取成功")
}

// ------------------------------------------------
// 导出
// ------------------------------------------------

// ExportNovel 导出小说全文。
// format 支持 markdown/html/txt；download=true 时直接返回文件；
// save=true 时在服务端数据目录留档
func (h *Handler) ExportNovel(c *gin.Context) {
	novelID := c.Param("id")
	format := models.ExportFormat(c.DefaultQuery("format", string(models.ExportFormatMarkdown)))
	saveToFile := c.Query("save") == "true"
	download := c.Query("download") == "true"

	result, err := h.ExportService.ExportNovel(c.Request.Context(), novelID, format, saveToFile)
	if err != nil {
		h.Response.FromAppError(c, err)
		return
	}

	h.Response.ExportResponse(c, result, download)
}

// ------------------------------------------------
// LLM配置与状态
// ------------------------------------------------

// GetLLMStatus 获取LLM服务就绪状态
func (h *Handler) GetLLMStatus(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()
	cfg := config.GetCurrentConfig()

	status := gin.H{
		"ready":    ready,
		"status":   state,
		"provider": h.LLMService.GetProviderName(),
		"model":    h.LLMService.GetDefaultModel(),
		"config": gin.H{
			"provider":    cfg.LLMProvider,
			"has_api_key": cfg.LLMConfig != nil && cfg.LLMConfig["api_key"] != "",
		},
	}

	c.JSON(http.StatusOK, status)
}

// GetLLMModels 获取指定LLM提供商支持的模型列表
func (h *Handler) GetLLMModels(c *gin.Context) {
	provider := c.Query("provider")
	if provider == "" {
		h.Response.BadRequest(c, "缺少提供商参数")
		return
	}

	supported := llm.GetSupportedModelsForProvider(provider)
	if len(supported) == 0 {
		registered := false
		for _, name := range llm.ListProviders() {
			if name == provider {
				registered = true
				break
			}
		}
		if !registered {
			h.Response.BadRequest(c, "不支持的LLM提供商: "+provider)
			return
		}
	}

	h.Response.Success(c, gin.H{
		"provider": provider,
		"models":   supported,
		"count":    len(supported),
	}, "模型列表获取成功")
}

// UpdateLLMConfig 更新LLM提供商配置。
// 先持久化配置，再同步切换当前provider；订阅了配置变更的
// 服务也会收到通知，重复切换是幂等的
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider" binding:"required"`
		Config   map[string]string `json:"config" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求格式", err.Error())
		return
	}

	if err := h.ConfigService.UpdateLLMConfig(req.Provider, req.Config, "web_api"); err != nil {
		h.Response.BadRequest(c, "配置验证失败", err.Error())
		return
	}

	if err := h.LLMService.UpdateProvider(req.Provider, req.Config); err != nil {
		h.Response.Error(c, http.StatusPartialContent, ErrorLLMConfigInvalid,
			"配置已保存，但LLM服务切换失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"provider": h.LLMService.GetProviderName(),
		"model":    h.LLMService.GetDefaultModel(),
	}, "LLM配置更新成功")
}

// ------------------------------------------------
// 系统设置与统计
// ------------------------------------------------

// GetSettings 获取当前系统设置概览，密钥只暴露有无
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := h.ConfigService.GetCurrentConfig()

	h.Response.Success(c, gin.H{
		"llm_provider":       cfg.LLMProvider,
		"llm_has_api_key":    cfg.LLMConfig != nil && cfg.LLMConfig["api_key"] != "",
		"llm_default_model":  cfg.LLMConfig["default_model"],
		"embedding_provider": cfg.EmbeddingProvider,
		"debug_mode":         cfg.DebugMode,
		"defaults":           cfg.Defaults,
	}, "系统设置获取成功")
}

// SetDebugMode 切换调试模式
func (h *Handler) SetDebugMode(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数错误", err.Error())
		return
	}

	if err := h.ConfigService.SetDebugMode(req.Enabled); err != nil {
		h.Response.InternalError(c, "调试模式切换失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{"debug_mode": req.Enabled}, "调试模式已更新")
}

// GetConfigHistory 获取配置变更历史，最多返回limit条最新记录
func (h *Handler) GetConfigHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		limit = 20
	}

	h.Response.Success(c, h.ConfigService.GetChangeHistory(limit), "配置变更历史获取成功")
}

// GetStats 获取LLM用量统计
func (h *Handler) GetStats(c *gin.Context) {
	h.Response.Success(c, h.StatsService.GetUsageStats(), "用量统计获取成功")
}

// ResetStats 清零用量统计
func (h *Handler) ResetStats(c *gin.Context) {
	if err := h.StatsService.ResetStats(); err != nil {
		h.Response.InternalError(c, "统计重置失败", err.Error())
		return
	}

	h.Response.Success(c, nil, "用量统计已重置")
}

// ------------------------------------------------
// 健康检查与调试
// ------------------------------------------------

// GetHealth 健康检查
func (h *Handler) GetHealth(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()

	status := "healthy"
	code := http.StatusOK
	if !ready {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"llm_ready": ready,
		"llm_state": state,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// GetWebSocketStatus 获取 WebSocket 连接状态（调试用）
func (h *Handler) GetWebSocketStatus(c *gin.Context) {
	status := wsManager.GetStatus()
	status["ping_timeout_seconds"] = int(wsManager.pingTimeout.Seconds())
	status["timestamp"] = time.Now().Format(time.RFC3339)

	c.JSON(http.StatusOK, status)
}
