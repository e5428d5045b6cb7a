package api

import (
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ZerologLogger adapts a zerolog.Logger to the Logger interface
type ZerologLogger struct {
	mu     sync.RWMutex
	logger zerolog.Logger
	level  LogLevel
}

// NewZerologLogger builds a structured logger. Text format uses zerolog's
// console writer, anything else writes JSON lines.
func NewZerologLogger(output io.Writer, level LogLevel, format string) *ZerologLogger {
	w := output
	if format == "" || format == "text" {
		w = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339, NoColor: true}
	}
	l := &ZerologLogger{
		logger: zerolog.New(w).With().Timestamp().Logger(),
	}
	l.SetLevel(level)
	return l
}

// With returns a child logger carrying an extra field
func (l *ZerologLogger) With(key, value string) *ZerologLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &ZerologLogger{
		logger: l.logger.With().Str(key, value).Logger(),
		level:  l.level,
	}
}

func (l *ZerologLogger) current() zerolog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.logger
}

func (l *ZerologLogger) Debug(format string, args ...interface{}) {
	lg := l.current()
	lg.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Info(format string, args ...interface{}) {
	lg := l.current()
	lg.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warn(format string, args ...interface{}) {
	lg := l.current()
	lg.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Error(format string, args ...interface{}) {
	lg := l.current()
	lg.Error().Msgf(format, args...)
}

// SetLevel 设置日志级别
func (l *ZerologLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.logger = l.logger.Level(toZerologLevel(level))
}

// GetLevel 获取日志级别
func (l *ZerologLogger) GetLevel() LogLevel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogError:
		return zerolog.ErrorLevel
	case LogWarn:
		return zerolog.WarnLevel
	case LogDebug:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}
