// Package logger 全局日志系统
// 基于标准库 slog 封装，支持按大小轮转的文件输出 (lumberjack)
// 各业务模块直接调用包级函数: logger.Info("msg", "key", value)
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志系统初始化选项
type Options struct {
	// 日志级别: debug, info, warn, error
	Level string
	// 日志文件路径，为空则仅输出到控制台
	FilePath string
	// 单个日志文件上限 (MB)
	MaxSize int
	// 保留的轮转文件个数
	MaxBackups int
	// 轮转文件保留天数
	MaxAge int
	// 是否压缩轮转文件
	Compress bool
	// 是否同时输出到控制台
	Stdout bool
}

var (
	defaultLogger *slog.Logger
	setupOnce     sync.Once
	mu            sync.RWMutex
)

// parseLevel 解析日志级别字符串
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup 初始化日志系统
// 多次调用只有第一次生效
func Setup(opts Options) error {
	var err error

	setupOnce.Do(func() {
		var writers []io.Writer

		// 1. 文件输出 (带轮转)
		if opts.FilePath != "" {
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.FilePath,
				MaxSize:    opts.MaxSize,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAge,
				Compress:   opts.Compress,
			})
		}

		// 2. 控制台输出
		if opts.Stdout || opts.FilePath == "" {
			writers = append(writers, os.Stdout)
		}

		handler := slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
			Level: parseLevel(opts.Level),
		})

		mu.Lock()
		defaultLogger = slog.New(handler)
		mu.Unlock()
	})

	return err
}

// get 获取底层 logger，未初始化时回退到 slog 默认输出
// 保证 debug 工具不调用 Setup 也能直接使用包级函数
func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if defaultLogger == nil {
		return slog.Default()
	}
	return defaultLogger
}

// Debug 输出调试日志
func Debug(msg string, args ...any) {
	get().Debug(msg, args...)
}

// Info 输出信息日志
func Info(msg string, args ...any) {
	get().Info(msg, args...)
}

// Warn 输出警告日志
func Warn(msg string, args ...any) {
	get().Warn(msg, args...)
}

// Error 输出错误日志
func Error(msg string, args ...any) {
	get().Error(msg, args...)
}
