// cmd/server/main.go
package main

import (
	"fmt"
	"log"

	"github.com/Corphon/ChapterForge/internal/app"
	"github.com/Corphon/ChapterForge/internal/di"
)

func main() {
	log.Println("🚀 启动 ChapterForge 服务器...")

	// 1. 加载配置、创建目录、初始化日志与全部服务、装配路由
	if err := app.Initialize(); err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	cfg := app.GetApp().GetConfig()
	log.Printf("✅ 初始化完成，数据目录: %s", cfg.DataDir)

	// 2. 启动前确认关键服务可用
	if err := performHealthCheck(); err != nil {
		log.Printf("⚠️ 服务健康检查警告: %v", err)
	}

	// 3. 启动服务器并等待退出信号
	log.Printf("🌐 服务器启动在端口 %s", cfg.Port)
	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)
	log.Printf("🔗 健康检查: http://localhost:%s/health", cfg.Port)

	if err := app.Run(); err != nil {
		log.Fatalf("❌ 服务器运行失败: %v", err)
	}

	log.Println("✅ 服务器优雅关闭完成")
}

// performHealthCheck 检查关键服务是否已注册
func performHealthCheck() error {
	container := di.GetContainer()

	criticalServices := []string{"llm", "novel", "config", "progress", "export"}

	for _, serviceName := range criticalServices {
		if service := container.Get(serviceName); service == nil {
			return fmt.Errorf("关键服务未注册: %s", serviceName)
		}
	}

	log.Println("✅ 服务健康检查通过")
	return nil
}
