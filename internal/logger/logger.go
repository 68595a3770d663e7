// internal/logger/logger.go
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 结构化日志器，封装zap
type Logger struct {
	mu    sync.RWMutex
	zl    *zap.Logger
	sugar *zap.SugaredLogger
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger 返回全局日志器实例
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = &Logger{}
		globalLogger.replace(newConsoleCore(zapcore.InfoLevel))
	})
	return globalLogger
}

// InitLogger 初始化日志系统，按天写入日志文件并同时输出到控制台
func InitLogger(logDir string, debugMode bool) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志目录失败: %w", err)
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("app_%s.log", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}

	level := zapcore.InfoLevel
	if debugMode {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), level)

	core := zapcore.NewTee(fileCore, newConsoleCore(level))
	GetLogger().replace(core)
	return nil
}

func newConsoleCore(level zapcore.Level) zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), level)
}

func (l *Logger) replace(core zapcore.Core) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// 跳过本包的封装层，让caller指向业务代码
	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	l.zl = zl
	l.sugar = zl.Sugar()
}

func (l *Logger) logger() *zap.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.zl
}

func (l *Logger) sugared() *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar
}

// fieldsToZap 将字段map转换为zap字段
func fieldsToZap(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	zfs := make([]zap.Field, 0, len(fields))
	for key, value := range fields {
		zfs = append(zfs, zap.Any(key, value))
	}
	return zfs
}

// Debug 记录调试级别日志
func (l *Logger) Debug(message string, fields map[string]interface{}) {
	l.logger().Debug(message, fieldsToZap(fields)...)
}

// Info 记录信息级别日志
func (l *Logger) Info(message string, fields map[string]interface{}) {
	l.logger().Info(message, fieldsToZap(fields)...)
}

// Warn 记录警告级别日志
func (l *Logger) Warn(message string, fields map[string]interface{}) {
	l.logger().Warn(message, fieldsToZap(fields)...)
}

// Error 记录错误级别日志
func (l *Logger) Error(message string, fields map[string]interface{}) {
	l.logger().Error(message, fieldsToZap(fields)...)
}

// Fatal 记录致命错误日志并退出
func (l *Logger) Fatal(message string, fields map[string]interface{}) {
	l.logger().Fatal(message, fieldsToZap(fields)...)
}

// Debugf 记录格式化调试日志
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugared().Debugf(format, args...)
}

// Infof 记录格式化信息日志
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugared().Infof(format, args...)
}

// Warnf 记录格式化警告日志
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugared().Warnf(format, args...)
}

// Errorf 记录格式化错误日志
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugared().Errorf(format, args...)
}

// Sync 刷新缓冲的日志
func (l *Logger) Sync() error {
	return l.logger().Sync()
}
