package api

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel 日志级别
type LogLevel int

const (
	LogError LogLevel = iota
	LogWarn
	LogInfo
	LogDebug
)

// String 返回日志级别字符串
func (l LogLevel) String() string {
	switch l {
	case LogError:
		return "ERROR"
	case LogWarn:
		return "WARN"
	case LogInfo:
		return "INFO"
	case LogDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析配置中的日志级别, 无法识别时返回 LogInfo
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return LogError
	case "warn", "warning":
		return LogWarn
	case "debug", "trace":
		return LogDebug
	default:
		return LogInfo
	}
}

// Logger 日志接口
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	SetLevel(level LogLevel)
	GetLevel() LogLevel
}

// DefaultLogger 默认日志实现
type DefaultLogger struct {
	level  LogLevel
	mu     sync.Mutex
	output io.Writer
	now    func() time.Time
}

// NewDefaultLogger 创建默认日志, 输出到 stderr
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return NewDefaultLoggerWithOutput(level, os.Stderr)
}

// NewDefaultLoggerWithOutput 创建带输出的默认日志
func NewDefaultLoggerWithOutput(level LogLevel, output io.Writer) *DefaultLogger {
	return &DefaultLogger{
		level:  level,
		output: output,
		now:    time.Now,
	}
}

// SetLevel 设置日志级别
func (l *DefaultLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel 获取日志级别
func (l *DefaultLogger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

func (l *DefaultLogger) Debug(format string, args ...interface{}) { l.log(LogDebug, format, args...) }
func (l *DefaultLogger) Info(format string, args ...interface{})  { l.log(LogInfo, format, args...) }
func (l *DefaultLogger) Warn(format string, args ...interface{})  { l.log(LogWarn, format, args...) }
func (l *DefaultLogger) Error(format string, args ...interface{}) { l.log(LogError, format, args...) }

func (l *DefaultLogger) log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level > l.level {
		return
	}
	message := fmt.Sprintf(format, args...)
	fmt.Fprintf(l.output, "%s [%s] %s\n", l.now().Format(time.RFC3339), level.String(), message)
}

// NoOpLogger 空日志实现（用于禁用日志）
type NoOpLogger struct{}

// NewNoOpLogger 创建空日志
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(format string, args ...interface{}) {}
func (l *NoOpLogger) Info(format string, args ...interface{})  {}
func (l *NoOpLogger) Warn(format string, args ...interface{})  {}
func (l *NoOpLogger) Error(format string, args ...interface{}) {}
func (l *NoOpLogger) SetLevel(level LogLevel)                  {}
func (l *NoOpLogger) GetLevel() LogLevel                       { return LogInfo }
