// cmd/demo/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Corphon/ChapterForge/internal/app"
	"github.com/Corphon/ChapterForge/internal/config"
	"github.com/Corphon/ChapterForge/internal/di"
	"github.com/Corphon/ChapterForge/internal/llm"
	"github.com/Corphon/ChapterForge/internal/logger"
	"github.com/Corphon/ChapterForge/internal/models"
	"github.com/Corphon/ChapterForge/internal/services"

	// 演示程序内置Mock提供商，离线即可完整走通生成流程
	_ "github.com/Corphon/ChapterForge/internal/llm/providers/mock"
)

const cliBoxMaxWidth = 56

func main() {
	fmt.Println("🚀 ChapterForge 控制台")
	fmt.Println("=================================")
	fmt.Println("演示模式使用内置Mock模型，无需API密钥即可离线运行。")
	fmt.Println("可在菜单 1 中切换到 openai / deepseek 等真实提供商。")
	fmt.Println()

	baseConfig, err := config.Load()
	if err != nil {
		log.Printf("❌ 加载基础配置失败: %v", err)
		return
	}

	if !initializeEnvironment(baseConfig) {
		return
	}

	for {
		showMenu()
		choice := getUserInput("请输入选项: ")

		switch choice {
		case "1", "llm":
			configureLLM()
		case "2", "novels":
			manageNovels()
		case "3", "generate":
			generateChapters()
		case "4", "read":
			readChapters()
		case "5", "world":
			viewWorldEntities()
		case "6", "export":
			exportNovel()
		case "7", "config":
			viewConfig()
		case "8", "status", "stat":
			displayServiceStatus()
		case "0", "quit", "exit":
			fmt.Println("👋 再见！")
			return
		default:
			fmt.Println("⚠️ 无效的选项，请重新输入")
		}
		fmt.Println()
	}
}

// 显示菜单
func showMenu() {
	printBox("", "📚 ChapterForge 主菜单\n"+
		"  1. 配置LLM提供商\n"+
		"  2. 管理小说\n"+
		"  3. 生成章节\n"+
		"  4. 阅读章节\n"+
		"  5. 世界观词条\n"+
		"  6. 导出小说\n"+
		"  7. 查看配置\n"+
		"  8. 服务状态\n"+
		"  0. 退出")
}

// 获取用户输入
func getUserInput(prompt string) string {
	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text())
}

// 获取用户输入 (带默认值)
func getUserInputWithDefault(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [默认: %s]: ", prompt, defaultValue)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	input := strings.TrimSpace(scanner.Text())
	if input == "" {
		return defaultValue
	}
	return input
}

// initializeEnvironment 初始化项目环境：目录、配置、日志、服务。
// Mock模型服务在InitServices之前注入容器，后续服务全部复用它
func initializeEnvironment(cfg *config.Config) bool {
	fmt.Println("🔧 正在初始化项目环境...")

	dirs := []string{cfg.DataDir, cfg.LogDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Printf("❌ 创建目录失败 %s: %v\n", dir, err)
			return false
		}
	}

	if err := config.InitConfig(cfg.DataDir); err != nil {
		fmt.Printf("❌ 初始化配置系统失败: %v\n", err)
		return false
	}

	if err := logger.InitLogger(cfg.LogDir, cfg.DebugMode); err != nil {
		log.Printf("⚠️ 无法初始化结构化日志: %v", err)
	}

	container := di.GetContainer()
	if !container.Has("llm") {
		provider, err := llm.GetProvider("mock", map[string]string{})
		if err != nil {
			fmt.Printf("❌ 初始化Mock提供商失败: %v\n", err)
			return false
		}
		container.Register("llm", services.NewLLMServiceWithProvider(provider, "mock"))
	}

	if err := app.InitServices(); err != nil {
		fmt.Printf("❌ 初始化服务失败: %v\n", err)
		return false
	}

	fmt.Println("✅ 项目环境初始化成功！")
	logger.GetLogger().Info("控制台演示已启动", map[string]interface{}{
		"datadir": cfg.DataDir,
	})
	return true
}

// 1. 配置LLM提供商
func configureLLM() {
	fmt.Println("🤖 配置LLM提供商")

	container := di.GetContainer()
	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		fmt.Println("❌ LLM服务未初始化")
		return
	}
	configService, ok := container.Get("config").(*services.ConfigService)
	if !ok {
		fmt.Println("❌ 配置服务未初始化")
		return
	}

	ready, state := llmService.GetProviderStatus()
	statusIcon := "❌"
	if ready {
		statusIcon = "✅"
	}
	registered := llm.ListProviders()
	sort.Strings(registered)
	printBox("当前状态", fmt.Sprintf("%s %s\n已注册提供商: %s",
		statusIcon, state, strings.Join(registered, ", ")))

	if getUserInput("是否切换提供商？(y/N): ") != "y" {
		return
	}

	provider := getUserInputWithDefault("提供商名称", "mock")
	apiKey := getUserInput("API密钥（mock可留空）: ")
	model := getUserInput("默认模型（留空使用内置默认）: ")

	llmConfig := map[string]string{
		"api_key":       apiKey,
		"default_model": model,
	}

	if err := configService.UpdateLLMConfig(provider, llmConfig, "console"); err != nil {
		fmt.Printf("❌ 保存配置失败: %v\n", err)
		return
	}
	if err := llmService.UpdateProvider(provider, llmConfig); err != nil {
		fmt.Printf("⚠️ 配置已保存，但切换提供商失败: %v\n", err)
		return
	}

	fmt.Printf("✅ 已切换到提供商: %s\n", provider)
}

// 2. 管理小说
func manageNovels() {
	novelService := getNovelService()
	if novelService == nil {
		return
	}

	for {
		fmt.Println("\n📖 小说管理")
		fmt.Println("  1. 列出小说")
		fmt.Println("  2. 创建小说")
		fmt.Println("  3. 查看详情")
		fmt.Println("  4. 修改生成参数")
		fmt.Println("  5. 删除小说")
		fmt.Println("  0. 返回主菜单")

		switch getUserInput("请输入选项: ") {
		case "1":
			listNovels(novelService)
		case "2":
			createNovel(novelService)
		case "3":
			showNovelDetail(novelService)
		case "4":
			updateNovelSettings(novelService)
		case "5":
			deleteNovel(novelService)
		case "0":
			return
		default:
			fmt.Println("⚠️ 无效的选项")
		}
	}
}

func listNovels(novelService *services.NovelService) {
	novels, err := novelService.ListNovels(context.Background())
	if err != nil {
		fmt.Printf("❌ 获取小说列表失败: %v\n", err)
		return
	}
	if len(novels) == 0 {
		fmt.Println("（还没有小说，先创建一本吧）")
		return
	}

	var sb strings.Builder
	for i, novel := range novels {
		fmt.Fprintf(&sb, "%d. 《%s》 %s 章节:%d 字数:%d\n",
			i+1, novel.Title, statusLabel(novel.Status), novel.ChapterCount, novel.WordCount)
	}
	printBox(fmt.Sprintf("共 %d 本", len(novels)), strings.TrimRight(sb.String(), "\n"))
}

func createNovel(novelService *services.NovelService) {
	title := getUserInput("书名: ")
	if title == "" {
		fmt.Println("⚠️ 书名不能为空")
		return
	}
	premise := getUserInput("故事前提（一句话设定）: ")
	if premise == "" {
		fmt.Println("⚠️ 故事前提不能为空")
		return
	}
	style := getUserInputWithDefault("文风描述", "热血爽文，节奏明快")

	fmt.Println("⏳ 正在生成故事蓝图与开篇细纲...")
	start := time.Now()

	novel, err := novelService.CreateNovel(context.Background(), title, premise,
		models.NovelSettings{Style: style})
	if err != nil {
		fmt.Printf("❌ 创建失败: %v\n", err)
		return
	}

	fmt.Printf("✅ 《%s》创建成功（耗时 %.1fs）\n", novel.Title, time.Since(start).Seconds())
	printBox("故事蓝图预览", truncateForCLI(novel.Plan, 600))
}

func showNovelDetail(novelService *services.NovelService) {
	novel := pickNovel(novelService)
	if novel == nil {
		return
	}

	detail := fmt.Sprintf("ID: %s\n状态: %s\n章节数: %d\n总字数: %d\n前提: %s\n文风: %s\n创建时间: %s",
		novel.ID, statusLabel(novel.Status), novel.ChapterCount, novel.WordCount,
		novel.Premise, novel.Settings.Style, novel.CreatedAt.Format("2006-01-02 15:04"))
	printBox(fmt.Sprintf("《%s》", novel.Title), detail)

	if getUserInput("查看完整大纲？(y/N): ") == "y" {
		fmt.Println(novel.Plan)
	}
}

func updateNovelSettings(novelService *services.NovelService) {
	novel := pickNovel(novelService)
	if novel == nil {
		return
	}

	settings := novel.Settings
	settings.Style = getUserInputWithDefault("文风描述", settings.Style)
	if v := getUserInputWithDefault("每章场景数", strconv.Itoa(settings.ScenesPerChapter)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.ScenesPerChapter = n
		}
	}
	if v := getUserInputWithDefault("细纲批量扩展章数", strconv.Itoa(settings.ExpansionBatch)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.ExpansionBatch = n
		}
	}

	updated, err := novelService.UpdateSettings(context.Background(), novel.ID, settings)
	if err != nil {
		fmt.Printf("❌ 更新失败: %v\n", err)
		return
	}
	fmt.Printf("✅ 《%s》生成参数已更新\n", updated.Title)
}

func deleteNovel(novelService *services.NovelService) {
	novel := pickNovel(novelService)
	if novel == nil {
		return
	}
	if getUserInput(fmt.Sprintf("确认删除《%s》及其全部章节？(yes/N): ", novel.Title)) != "yes" {
		fmt.Println("已取消")
		return
	}
	if err := novelService.DeleteNovel(context.Background(), novel.ID); err != nil {
		fmt.Printf("❌ 删除失败: %v\n", err)
		return
	}
	fmt.Println("✅ 删除完成")
}

// 3. 生成章节：事件直接渲染到控制台，正文逐段流式打印
func generateChapters() {
	novelService := getNovelService()
	if novelService == nil {
		return
	}
	novel := pickNovel(novelService)
	if novel == nil {
		return
	}

	target := 1
	if v := getUserInputWithDefault("本次生成章节数", "1"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			target = n
		}
	}
	instruction := getUserInput("对剧情的指令（可留空）: ")

	fmt.Printf("\n⏳ 开始为《%s》生成 %d 章...\n", novel.Title, services.NormalizeTargetChapters(target))

	chapters, err := novelService.GenerateChapters(context.Background(), novel.ID,
		models.GenerateOptions{UserInstruction: instruction, TargetChapters: target},
		consoleSink)
	if err != nil {
		fmt.Printf("\n❌ 生成中断: %v\n", err)
		if len(chapters) > 0 {
			fmt.Printf("（中断前已完成 %d 章并入库）\n", len(chapters))
		}
		return
	}

	fmt.Printf("\n🎉 本次共生成 %d 章\n", len(chapters))
}

// consoleSink 把生成事件渲染为控制台输出
func consoleSink(event models.GenerationEvent) {
	switch event.Type {
	case models.EventStatus:
		fmt.Printf("\n⏳ [第%d章] %s\n", event.ChapterNumber, event.Message)
	case models.EventContent:
		fmt.Print(event.Content)
	case models.EventChapterEnd:
		fmt.Printf("\n✅ 第%d章《%s》完成，%d字\n", event.ChapterNumber, event.Title, event.WordCount)
	case models.EventError:
		fmt.Printf("\n❌ [第%d章] %s\n", event.ChapterNumber, event.Message)
	}
}

// 4. 阅读章节
func readChapters() {
	novelService := getNovelService()
	if novelService == nil {
		return
	}
	novel := pickNovel(novelService)
	if novel == nil {
		return
	}

	chapters, err := novelService.ListChapters(context.Background(), novel.ID)
	if err != nil {
		fmt.Printf("❌ 获取章节列表失败: %v\n", err)
		return
	}
	if len(chapters) == 0 {
		fmt.Println("（本书还没有章节，先去生成吧）")
		return
	}

	var sb strings.Builder
	for _, chapter := range chapters {
		fmt.Fprintf(&sb, "第%d章 %s（%d字）\n", chapter.Number, chapter.Title, chapter.WordCount)
	}
	printBox(fmt.Sprintf("《%s》目录", novel.Title), strings.TrimRight(sb.String(), "\n"))

	input := getUserInput("输入章节号阅读（回车返回）: ")
	if input == "" {
		return
	}
	number, err := strconv.Atoi(input)
	if err != nil || number < 1 {
		fmt.Println("⚠️ 章节号必须是正整数")
		return
	}

	chapter, err := novelService.GetChapterByNumber(context.Background(), novel.ID, number)
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}

	fmt.Printf("\n======== 第%d章 %s ========\n\n", chapter.Number, chapter.Title)
	fmt.Println(chapter.Body)
	fmt.Println("\n========================")
}

// 5. 世界观词条
func viewWorldEntities() {
	novelService := getNovelService()
	if novelService == nil {
		return
	}
	novel := pickNovel(novelService)
	if novel == nil {
		return
	}

	kindLabels := map[models.EntityKind]string{
		models.EntityKindCharacter: "👤 角色",
		models.EntityKindScene:     "🏞️ 场景",
		models.EntityKindClue:      "🧩 伏笔/线索",
	}

	total := 0
	for _, kind := range models.AllEntityKinds() {
		entities, err := novelService.ListWorldEntities(context.Background(), novel.ID, kind)
		if err != nil {
			fmt.Printf("❌ 获取%s失败: %v\n", kindLabels[kind], err)
			continue
		}
		if len(entities) == 0 {
			continue
		}
		total += len(entities)

		var sb strings.Builder
		for _, entity := range entities {
			fmt.Fprintf(&sb, "• %s：%s\n", entity.Name, truncateForCLI(entity.Content, 80))
		}
		printBox(fmt.Sprintf("%s（%d）", kindLabels[kind], len(entities)),
			strings.TrimRight(sb.String(), "\n"))
	}

	if total == 0 {
		fmt.Println("（世界观词条会在章节交付后由漂移分析自动沉淀）")
	}
}

// 6. 导出小说
func exportNovel() {
	container := di.GetContainer()
	exportService, ok := container.Get("export").(*services.ExportService)
	if !ok {
		fmt.Println("❌ 导出服务未初始化")
		return
	}
	novelService := getNovelService()
	if novelService == nil {
		return
	}
	novel := pickNovel(novelService)
	if novel == nil {
		return
	}

	format := models.ExportFormat(getUserInputWithDefault("导出格式 (markdown/html/txt)", "markdown"))
	saveToFile := getUserInput("保存到文件？(y/N): ") == "y"

	result, err := exportService.ExportNovel(context.Background(), novel.ID, format, saveToFile)
	if err != nil {
		fmt.Printf("❌ 导出失败: %v\n", err)
		return
	}

	if result.FilePath != "" {
		fmt.Printf("✅ 已导出到 %s（%d 字节）\n", result.FilePath, result.FileSize)
	} else {
		fmt.Printf("✅ 导出完成，内容预览：\n\n%s\n", truncateForCLI(result.Content, 800))
	}
}

// 7. 查看配置
func viewConfig() {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		fmt.Println("❌ 配置系统未初始化")
		return
	}

	hasKey := "否"
	if cfg.LLMConfig["api_key"] != "" {
		hasKey = "是"
	}
	content := fmt.Sprintf("端口: %s\n数据目录: %s\n日志目录: %s\n调试模式: %v\n"+
		"LLM提供商: %s\n已配置密钥: %s\n嵌入提供商: %s\n"+
		"默认每章场景数: %d\n默认扩展批量: %d",
		cfg.Port, cfg.DataDir, cfg.LogDir, cfg.DebugMode,
		cfg.LLMProvider, hasKey, cfg.EmbeddingProvider,
		cfg.Defaults.ScenesPerChapter, cfg.Defaults.ExpansionBatch)
	printBox("当前配置", content)
}

// 8. 服务状态
func displayServiceStatus() {
	container := di.GetContainer()

	names := container.GetNames()

	var sb strings.Builder
	fmt.Fprintf(&sb, "已注册服务（%d）: %s\n", len(names), strings.Join(names, ", "))

	if llmService, ok := container.Get("llm").(*services.LLMService); ok {
		ready, state := llmService.GetProviderStatus()
		icon := "❌"
		if ready {
			icon = "✅"
		}
		fmt.Fprintf(&sb, "LLM: %s %s\n", icon, state)
	}

	if statsService, ok := container.Get("stats").(*services.StatsService); ok {
		stats := statsService.GetUsageStats()
		fmt.Fprintf(&sb, "今日请求: %d  本月Token: %d", stats.TodayRequests, stats.MonthlyTokens)
	}

	printBox("服务状态", strings.TrimRight(sb.String(), "\n"))
}

// ========================================
// 公共辅助函数
// ========================================

func getNovelService() *services.NovelService {
	novelService, ok := di.GetContainer().Get("novel").(*services.NovelService)
	if !ok {
		fmt.Println("❌ 小说服务未初始化")
		return nil
	}
	return novelService
}

// pickNovel 列出全部小说并让用户按序号选择
func pickNovel(novelService *services.NovelService) *models.Novel {
	novels, err := novelService.ListNovels(context.Background())
	if err != nil {
		fmt.Printf("❌ 获取小说列表失败: %v\n", err)
		return nil
	}
	if len(novels) == 0 {
		fmt.Println("（还没有小说，先在小说管理里创建一本）")
		return nil
	}

	for i, novel := range novels {
		fmt.Printf("  %d. 《%s》 章节:%d\n", i+1, novel.Title, novel.ChapterCount)
	}
	input := getUserInput("选择序号: ")
	index, err := strconv.Atoi(input)
	if err != nil || index < 1 || index > len(novels) {
		fmt.Println("⚠️ 无效的序号")
		return nil
	}
	return novels[index-1]
}

func statusLabel(status models.NovelStatus) string {
	switch status {
	case models.NovelStatusActive:
		return "连载中"
	case models.NovelStatusComplete:
		return "已完结"
	default:
		return string(status)
	}
}

func printBox(title, content string) {
	wrappedLines := wrapContentForBox(content, cliBoxMaxWidth)
	maxWidth := utf8.RuneCountInString(title)
	for _, line := range wrappedLines {
		if w := utf8.RuneCountInString(line); w > maxWidth {
			maxWidth = w
		}
	}
	if maxWidth < 0 {
		maxWidth = 0
	}
	border := strings.Repeat("─", maxWidth+2)
	fmt.Println("┌" + border + "┐")
	if title != "" {
		fmt.Printf("│ %s │\n", padRight(title, maxWidth))
		fmt.Println("├" + border + "┤")
	}
	if len(wrappedLines) == 0 {
		wrappedLines = []string{""}
	}
	for _, line := range wrappedLines {
		fmt.Printf("│ %s │\n", padRight(line, maxWidth))
	}
	fmt.Println("└" + border + "┘")
}

func wrapContentForBox(content string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{content}
	}
	var result []string
	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimRight(rawLine, " ")
		runes := []rune(line)
		for len(runes) > maxWidth {
			result = append(result, string(runes[:maxWidth]))
			runes = runes[maxWidth:]
		}
		result = append(result, string(runes))
	}
	return result
}

func padRight(text string, width int) string {
	current := utf8.RuneCountInString(text)
	if current >= width {
		return text
	}
	return text + strings.Repeat(" ", width-current)
}

func truncateForCLI(text string, limit int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit]) + "……"
}
