package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger instance. Messages are formatted printf style and
// handed to a logrus backend, which owns timestamps and output.
type Logger struct {
	level   LogLevel
	backend *logrus.Logger
	mu      sync.RWMutex
}

// New creates a new Logger instance with the specified level
func New(level string) *Logger {
	return &Logger{
		level:   ParseLogLevel(level),
		backend: newBackend(os.Stdout),
	}
}

func newBackend(out io.Writer) *logrus.Logger {
	backend := logrus.New()
	backend.SetOutput(out)
	backend.SetLevel(logrus.DebugLevel)
	backend.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		DisableQuote:     true,
		DisableSorting:   true,
		PadLevelText:     true,
		QuoteEmptyFields: false,
	})
	return backend
}

// getDefaultLogger returns the singleton default logger
func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
	})
	return defaultLogger
}

// ParseLogLevel converts string to LogLevel
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the global default log level (package-level)
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns current log level as string (package-level)
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetOutput redirects the default logger, mostly so tests can capture it.
func SetOutput(w io.Writer) {
	getDefaultLogger().SetOutput(w)
}

// SetLevel sets this logger instance's level
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

// SetOutput swaps the writer behind this logger instance.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backend.SetOutput(w)
}

// GetLevel returns this logger instance's level as string
func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch l.level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// shouldLog checks if message should be logged at current level
func (l *Logger) shouldLog(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

// logMessage formats the message and emits it on the logrus backend
func (l *Logger) logMessage(level logrus.Level, format string, v ...interface{}) {
	message := fmt.Sprintf(format, v...)
	l.mu.RLock()
	backend := l.backend
	l.mu.RUnlock()
	backend.Log(level, message)
}

// Instance methods (for use with struct fields like s.logger.Info())

// Debug logs debug level messages
func (l *Logger) Debug(format string, v ...interface{}) {
	if l.shouldLog(DEBUG) {
		l.logMessage(logrus.DebugLevel, format, v...)
	}
}

// Info logs info level messages
func (l *Logger) Info(format string, v ...interface{}) {
	if l.shouldLog(INFO) {
		l.logMessage(logrus.InfoLevel, format, v...)
	}
}

// Warn logs warning level messages
func (l *Logger) Warn(format string, v ...interface{}) {
	if l.shouldLog(WARN) {
		l.logMessage(logrus.WarnLevel, format, v...)
	}
}

// Error logs error level messages
func (l *Logger) Error(format string, v ...interface{}) {
	if l.shouldLog(ERROR) {
		l.logMessage(logrus.ErrorLevel, format, v...)
	}
}

// Package-level functions (for direct use like logger.Info())

// Debug logs debug level messages (package-level)
func Debug(format string, v ...interface{}) {
	getDefaultLogger().Debug(format, v...)
}

// Info logs info level messages (package-level)
func Info(format string, v ...interface{}) {
	getDefaultLogger().Info(format, v...)
}

// Warn logs warning level messages (package-level)
func Warn(format string, v ...interface{}) {
	getDefaultLogger().Warn(format, v...)
}

// Error logs error level messages (package-level)
func Error(format string, v ...interface{}) {
	getDefaultLogger().Error(format, v...)
}
