package logger

import (
	"fmt"
	"strings"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[Logger]

func init() {
	l, _ := New(DefaultConfig())
	defaultLogger.Store(l)
}

// Default returns the process-wide logger
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger and closes the previous one
func SetDefault(l *Logger) {
	if old := defaultLogger.Swap(l); old != nil && old != l {
		old.Close()
	}
}

// InitFromConfig replaces the default logger with one built from the config values
func InitFromConfig(level, filePath string, maxSize, maxBackups int, console bool) error {
	logLevel, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	l, err := New(Config{
		Level:      logLevel,
		FilePath:   filePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		Console:    console,
	})
	if err != nil {
		return err
	}

	SetDefault(l)
	return nil
}

// ParseLogLevel parses log level string
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown log level: %s", level)
	}
}

// Debug logs debug level messages
func Debug(format string, args ...interface{}) { Default().log(2, DEBUG, "", format, args...) }

// Info logs info level messages
func Info(format string, args ...interface{}) { Default().log(2, INFO, "", format, args...) }

// Warn logs warning level messages
func Warn(format string, args ...interface{}) { Default().log(2, WARN, "", format, args...) }

// Error logs error level messages
func Error(format string, args ...interface{}) { Default().log(2, ERROR, "", format, args...) }

// Close closes the default logger
func Close() error {
	return Default().Close()
}

// Component prefixes every message with a component name.
// It resolves the default logger on each call so SetDefault is honoured.
type Component struct {
	name   string
	target *Logger
}

// Named returns a component logger bound to the default logger
func Named(name string) *Component {
	return &Component{name: name}
}

// Named returns a component logger bound to l
func (l *Logger) Named(name string) *Component {
	return &Component{name: name, target: l}
}

func (c *Component) logger() *Logger {
	if c.target != nil {
		return c.target
	}
	return Default()
}

// Debug logs debug level messages
func (c *Component) Debug(format string, args ...interface{}) {
	c.logger().log(2, DEBUG, c.name, format, args...)
}

// Info logs info level messages
func (c *Component) Info(format string, args ...interface{}) {
	c.logger().log(2, INFO, c.name, format, args...)
}

// Warn logs warning level messages
func (c *Component) Warn(format string, args ...interface{}) {
	c.logger().log(2, WARN, c.name, format, args...)
}

// Error logs error level messages
func (c *Component) Error(format string, args ...interface{}) {
	c.logger().log(2, ERROR, c.name, format, args...)
}
