// internal/services/stats_service_test.go
package services

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStatsService(t *testing.T, dir string) *StatsService {
	t.Helper()
	svc := NewStatsService(dir)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestStatsServiceAggregatesUsage(t *testing.T) {
	svc := newStatsService(t, t.TempDir())

	svc.RecordRequest(100)
	svc.RecordRequest(50)
	svc.RecordRequest(0)

	stats := svc.GetUsageStats()
	assert.Equal(t, 3, stats.TodayRequests)
	assert.Equal(t, 150, stats.MonthlyTokens)

	today := time.Now().Format("2006-01-02")
	month := time.Now().Format("2006-01")
	assert.Equal(t, 3, stats.DailyRequests[today])
	assert.Equal(t, 150, stats.MonthlyUsage[month])
	assert.False(t, stats.LastUpdated.IsZero())
}

func TestStatsServicePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	first := NewStatsService(dir)
	first.RecordRequest(42)
	first.RecordRequest(42)
	require.NoError(t, first.Close())

	_, err := os.Stat(filepath.Join(dir, "usage_stats.json"))
	require.NoError(t, err, "关闭时落盘统计文件")

	second := newStatsService(t, dir)
	stats := second.GetUsageStats()
	assert.Equal(t, 2, stats.TodayRequests)
	assert.Equal(t, 84, stats.MonthlyTokens)
}

func TestStatsServiceReset(t *testing.T) {
	svc := newStatsService(t, t.TempDir())

	svc.RecordRequest(100)
	require.NoError(t, svc.ResetStats())

	stats := svc.GetUsageStats()
	assert.Zero(t, stats.TodayRequests)
	assert.Zero(t, stats.MonthlyTokens)
	assert.Empty(t, stats.DailyRequests)
}

func TestStatsServiceReturnsCopies(t *testing.T) {
	svc := newStatsService(t, t.TempDir())

	svc.RecordRequest(10)
	leaked := svc.GetUsageStats()
	leaked.DailyRequests["2000-01-01"] = 999
	leaked.TodayRequests = 999

	stats := svc.GetUsageStats()
	assert.Equal(t, 1, stats.TodayRequests)
	assert.NotContains(t, stats.DailyRequests, "2000-01-01")
}

func TestStatsServiceCloseIsIdempotent(t *testing.T) {
	svc := NewStatsService(t.TempDir())
	svc.RecordRequest(5)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}
