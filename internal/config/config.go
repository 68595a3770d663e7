// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// NovelDefaults 新建小说的默认生成参数，可由 novel_defaults.yaml 覆盖
type NovelDefaults struct {
	ScenesPerChapter   int     `yaml:"scenes_per_chapter" json:"scenes_per_chapter"`
	ExpansionBatch     int     `yaml:"expansion_batch" json:"expansion_batch"`
	Temperature        float32 `yaml:"temperature" json:"temperature"`
	MaxTokens          int     `yaml:"max_tokens" json:"max_tokens"`
	Style              string  `yaml:"style" json:"style"`
	ReconcileCharLimit int     `yaml:"reconcile_char_limit" json:"reconcile_char_limit"`
	RetrievalTopK      int     `yaml:"retrieval_top_k" json:"retrieval_top_k"`
}

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// 存储配置
	SQLitePath   string `json:"sqlite_path"`
	VectorDBPath string `json:"vector_db_path"`

	// LLM相关配置
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	// 向量嵌入配置
	EmbeddingProvider string            `json:"embedding_provider"`
	EmbeddingConfig   map[string]string `json:"embedding_config"`

	// 小说生成默认参数
	Defaults NovelDefaults `json:"defaults"`
}

// Config 存储从环境变量读取的基础配置
type Config struct {
	Port           string
	APIKey         string
	DataDir        string
	LogDir         string
	DebugMode      bool
	LLMProvider    string
	LLMBaseURL     string
	EmbeddingModel string
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		APIKey:         getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
		DataDir:        getEnvPath("DATA_DIR", "data"),
		LogDir:         getEnvPath("LOG_DIR", "logs"),
		DebugMode:      getEnvBool("DEBUG_MODE", true),
		LLMProvider:    getEnv("LLM_PROVIDER", "deepseek"),
		LLMBaseURL:     getEnv("LLM_BASE_URL", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
	}

	if config.APIKey == "" {
		// 只记录警告，不返回错误
		log.Println("警告: 未设置LLM API密钥，将需要通过配置接口设置后才能生成章节")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// defaultNovelDefaults 返回内置的生成默认参数
func defaultNovelDefaults() NovelDefaults {
	return NovelDefaults{
		ScenesPerChapter:   4,
		ExpansionBatch:     10,
		Temperature:        0.8,
		MaxTokens:          4096,
		Style:              "网文白话，节奏明快，画面感强",
		ReconcileCharLimit: 6000,
		RetrievalTopK:      5,
	}
}

// loadNovelDefaults 从 novel_defaults.yaml 加载生成默认参数（可选文件）
func loadNovelDefaults(dataDir string) NovelDefaults {
	defaults := defaultNovelDefaults()

	path := filepath.Join(dataDir, "novel_defaults.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults
	}

	var fileDefaults NovelDefaults
	if err := yaml.Unmarshal(data, &fileDefaults); err != nil {
		log.Printf("警告: 解析 %s 失败，使用内置默认值: %v", path, err)
		return defaults
	}

	// 仅覆盖显式设置的字段
	if fileDefaults.ScenesPerChapter > 0 {
		defaults.ScenesPerChapter = fileDefaults.ScenesPerChapter
	}
	if fileDefaults.ExpansionBatch > 0 {
		defaults.ExpansionBatch = fileDefaults.ExpansionBatch
	}
	if fileDefaults.Temperature > 0 {
		defaults.Temperature = fileDefaults.Temperature
	}
	if fileDefaults.MaxTokens > 0 {
		defaults.MaxTokens = fileDefaults.MaxTokens
	}
	if fileDefaults.Style != "" {
		defaults.Style = fileDefaults.Style
	}
	if fileDefaults.ReconcileCharLimit > 0 {
		defaults.ReconcileCharLimit = fileDefaults.ReconcileCharLimit
	}
	if fileDefaults.RetrievalTopK > 0 {
		defaults.RetrievalTopK = fileDefaults.RetrievalTopK
	}

	return defaults
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	// 加载基础配置
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = &AppConfig{
		Port:         baseConfig.Port,
		DataDir:      baseConfig.DataDir,
		LogDir:       baseConfig.LogDir,
		DebugMode:    baseConfig.DebugMode,
		SQLitePath:   filepath.Join(baseConfig.DataDir, "chapterforge.db"),
		VectorDBPath: filepath.Join(baseConfig.DataDir, "worldfacts.db"),
		LLMProvider:  baseConfig.LLMProvider,
		LLMConfig: map[string]string{
			"api_key":       baseConfig.APIKey,
			"base_url":      baseConfig.LLMBaseURL,
			"default_model": "",
		},
		EmbeddingProvider: "openai",
		EmbeddingConfig: map[string]string{
			"api_key": baseConfig.APIKey,
			"model":   baseConfig.EmbeddingModel,
		},
		Defaults: loadNovelDefaults(baseConfig.DataDir),
	}

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 合并配置，保留文件中的LLM设置，但使用最新的基础配置
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode
				if savedConfig.SQLitePath == "" {
					savedConfig.SQLitePath = currentConfig.SQLitePath
				}
				if savedConfig.VectorDBPath == "" {
					savedConfig.VectorDBPath = currentConfig.VectorDBPath
				}

				// 如果文件中没有API密钥，使用环境变量的密钥
				if savedConfig.LLMConfig != nil && savedConfig.LLMConfig["api_key"] == "" {
					savedConfig.LLMConfig["api_key"] = baseConfig.APIKey
				}
				if savedConfig.EmbeddingConfig != nil && savedConfig.EmbeddingConfig["api_key"] == "" {
					savedConfig.EmbeddingConfig["api_key"] = baseConfig.APIKey
				}
				if savedConfig.Defaults.ScenesPerChapter == 0 {
					savedConfig.Defaults = currentConfig.Defaults
				}

				currentConfig = &savedConfig
			}
		}
	}

	// 保存初始配置到文件
	return saveConfigLocked()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return &AppConfig{
			Port:         baseConfig.Port,
			DataDir:      baseConfig.DataDir,
			LogDir:       baseConfig.LogDir,
			DebugMode:    baseConfig.DebugMode,
			SQLitePath:   filepath.Join(baseConfig.DataDir, "chapterforge.db"),
			VectorDBPath: filepath.Join(baseConfig.DataDir, "worldfacts.db"),
			LLMProvider:  baseConfig.LLMProvider,
			LLMConfig: map[string]string{
				"api_key": baseConfig.APIKey,
			},
			Defaults: defaultNovelDefaults(),
		}
	}

	// 返回配置的副本
	configCopy := *currentConfig
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return saveConfigLocked()
}

// UpdateEmbeddingConfig 更新向量嵌入配置
func UpdateEmbeddingConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.EmbeddingProvider = provider
	currentConfig.EmbeddingConfig = config

	return saveConfigLocked()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	configMutex.Lock()
	defer configMutex.Unlock()
	return saveConfigLocked()
}

func saveConfigLocked() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	// 序列化并保存
	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
