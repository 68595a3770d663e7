// internal/services/stats_service.go
package services

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Corphon/ChapterForge/internal/logger"
)

// UsageStats LLM调用用量统计。
// 章节与字数的累计值由存储层实时汇总，不在此重复记账
type UsageStats struct {
	TodayRequests int            `json:"today_requests"` // 今日LLM调用次数
	MonthlyTokens int            `json:"monthly_tokens"` // 本月消耗token数
	DailyRequests map[string]int `json:"daily_requests"` // 按日的调用次数
	MonthlyUsage  map[string]int `json:"monthly_usage"`  // 按月的token消耗
	LastUpdated   time.Time      `json:"last_updated"`
}

// StatsService 记录LLM调用用量并落盘。
// 写入合并批量保存，文件采用临时文件加改名的原子替换
type StatsService struct {
	statsFile   string
	cachedStats *UsageStats
	mutex       sync.Mutex

	isDirty      bool
	lastSaveTime time.Time
	saveInterval time.Duration
	stopSaver    chan struct{}
	saverOnce    sync.Once
}

// NewStatsService 创建用量统计服务，数据写入 basePath 目录
func NewStatsService(basePath string) *StatsService {
	if basePath == "" {
		basePath = filepath.Join("data", "stats")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		logger.GetLogger().Warn("创建统计目录失败", map[string]interface{}{
			"path":  basePath,
			"error": err.Error(),
		})
	}

	service := &StatsService{
		statsFile:    filepath.Join(basePath, "usage_stats.json"),
		saveInterval: 30 * time.Second,
		stopSaver:    make(chan struct{}),
	}
	service.startPeriodicSave()
	return service
}

// RecordRequest 记录一次LLM调用及其token消耗
func (s *StatsService) RecordRequest(tokens int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ensureStatsLocked()

	now := time.Now()
	today := now.Format("2006-01-02")
	month := now.Format("2006-01")

	s.cachedStats.TodayRequests++
	s.cachedStats.MonthlyTokens += tokens
	s.cachedStats.DailyRequests[today]++
	s.cachedStats.MonthlyUsage[month] += tokens
	s.cachedStats.LastUpdated = now
	s.isDirty = true

	if now.Sub(s.lastSaveTime) > s.saveInterval {
		if err := s.saveDirtyLocked(); err != nil {
			logger.GetLogger().Warn("保存用量统计失败", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// GetUsageStats 返回用量统计的副本
func (s *StatsService) GetUsageStats() *UsageStats {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ensureStatsLocked()
	s.rolloverLocked()

	return &UsageStats{
		TodayRequests: s.cachedStats.TodayRequests,
		MonthlyTokens: s.cachedStats.MonthlyTokens,
		DailyRequests: copyIntMap(s.cachedStats.DailyRequests),
		MonthlyUsage:  copyIntMap(s.cachedStats.MonthlyUsage),
		LastUpdated:   s.cachedStats.LastUpdated,
	}
}

// ResetStats 清空统计，测试与管理用途
func (s *StatsService) ResetStats() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.cachedStats = newEmptyStats()
	s.isDirty = true
	return s.saveDirtyLocked()
}

// Close 停止后台保存并落盘未保存的数据
func (s *StatsService) Close() error {
	s.saverOnce.Do(func() { close(s.stopSaver) })

	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.saveDirtyLocked()
}

// ensureStatsLocked 懒加载统计数据，调用方须已持有 mutex
func (s *StatsService) ensureStatsLocked() {
	if s.cachedStats != nil {
		return
	}
	if stats, err := s.loadStats(); err == nil {
		s.cachedStats = stats
		s.rolloverLocked()
		return
	}
	s.cachedStats = newEmptyStats()
}

// rolloverLocked 跨日清零当日计数，跨月清零月度token
func (s *StatsService) rolloverLocked() {
	now := time.Now()
	lastDate := s.cachedStats.LastUpdated.Format("2006-01-02")
	lastMonth := s.cachedStats.LastUpdated.Format("2006-01")

	if now.Format("2006-01-02") != lastDate {
		s.cachedStats.TodayRequests = 0
		s.isDirty = true
	}
	if now.Format("2006-01") != lastMonth {
		s.cachedStats.MonthlyTokens = 0
		s.isDirty = true
	}
	if s.isDirty {
		s.cachedStats.LastUpdated = now
	}
}

func newEmptyStats() *UsageStats {
	return &UsageStats{
		DailyRequests: make(map[string]int),
		MonthlyUsage:  make(map[string]int),
		LastUpdated:   time.Now(),
	}
}

// loadStats 从文件加载统计数据
func (s *StatsService) loadStats() (*UsageStats, error) {
	data, err := os.ReadFile(s.statsFile)
	if err != nil {
		return nil, fmt.Errorf("读取统计文件失败: %w", err)
	}

	var stats UsageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("解析统计数据失败: %w", err)
	}
	if stats.DailyRequests == nil {
		stats.DailyRequests = make(map[string]int)
	}
	if stats.MonthlyUsage == nil {
		stats.MonthlyUsage = make(map[string]int)
	}
	return &stats, nil
}

// saveDirtyLocked 有脏数据时原子落盘，调用方须已持有 mutex
func (s *StatsService) saveDirtyLocked() error {
	if !s.isDirty || s.cachedStats == nil {
		return nil
	}

	data, err := json.MarshalIndent(s.cachedStats, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化统计数据失败: %w", err)
	}

	tempFile := s.statsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("写入统计临时文件失败: %w", err)
	}
	if err := os.Rename(tempFile, s.statsFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("替换统计文件失败: %w", err)
	}

	s.isDirty = false
	s.lastSaveTime = time.Now()
	return nil
}

// startPeriodicSave 后台定时落盘，Close 时退出
func (s *StatsService) startPeriodicSave() {
	go func() {
		ticker := time.NewTicker(s.saveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.mutex.Lock()
				if err := s.saveDirtyLocked(); err != nil {
					logger.GetLogger().Warn("定时保存用量统计失败", map[string]interface{}{
						"error": err.Error(),
					})
				}
				s.mutex.Unlock()
			case <-s.stopSaver:
				return
			}
		}
	}()
}

// copyIntMap 复制计数映射
func copyIntMap(original map[string]int) map[string]int {
	copied := make(map[string]int, len(original))
	maps.Copy(copied, original)
	return copied
}
