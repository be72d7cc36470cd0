package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the log level
type LogLevel int

const (
	// DEBUG level
	DEBUG LogLevel = iota
	// INFO level
	INFO
	// WARN level
	WARN
	// ERROR level
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var levelColors = map[LogLevel]string{
	DEBUG: "\033[90m",
	INFO:  "\033[32m",
	WARN:  "\033[33m",
	ERROR: "\033[31m",
}

const resetColor = "\033[0m"

// String returns the upper-case level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// Config represents the configuration for a Logger
type Config struct {
	Level LogLevel
	// FilePath is the log file; empty disables file output
	FilePath string
	// MaxSize in megabytes before the file is rotated
	MaxSize    int
	MaxBackups int
	Console    bool
}

// DefaultConfig logs INFO and above to the console only
func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		MaxSize:    10,
		MaxBackups: 5,
		Console:    true,
	}
}

// Logger writes levelled lines to the console and an optional rotating file
type Logger struct {
	mu          sync.Mutex
	level       LogLevel
	console     io.Writer
	file        *os.File
	filePath    string
	maxSize     int64
	maxBackups  int
	currentSize int64
}

// New creates a new logger
func New(cfg Config) (*Logger, error) {
	l := &Logger{
		level:      cfg.Level,
		filePath:   cfg.FilePath,
		maxSize:    int64(cfg.MaxSize) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
	}
	if cfg.Console {
		l.console = os.Stdout
	}

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if err := l.openFile(); err != nil {
			return nil, err
		}
	}

	return l, nil
}

// NewWriter creates a logger writing to w only, used by tests and tools
func NewWriter(w io.Writer, level LogLevel) *Logger {
	return &Logger{level: level, console: w}
}

func (l *Logger) openFile() error {
	file, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to get log file info: %w", err)
	}
	l.file = file
	l.currentSize = info.Size()
	return nil
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Enabled reports whether level would be written
func (l *Logger) Enabled(level LogLevel) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return level >= l.level
}

func (l *Logger) log(depth int, level LogLevel, component, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		file = "unknown"
		line = 0
	}
	file = filepath.Base(file)

	msg := fmt.Sprintf(format, args...)
	if component != "" {
		msg = "[" + component + "] " + msg
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")

	if l.console != nil {
		fmt.Fprintf(l.console, "%s [%s%s%s] %s:%d: %s\n", timestamp, levelColors[level], level, resetColor, file, line, msg)
	}

	if l.file == nil {
		return
	}
	n, err := fmt.Fprintf(l.file, "%s [%s] %s:%d: %s\n", timestamp, level, file, line, msg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to write log: %v\n", err)
		return
	}
	l.currentSize += int64(n)
	if l.maxSize > 0 && l.currentSize >= l.maxSize {
		l.rotate()
	}
}

// rotate renames the current file with a timestamp suffix and reopens it.
// Caller holds l.mu.
func (l *Logger) rotate() {
	l.file.Close()
	l.file = nil

	dir := filepath.Dir(l.filePath)
	base := filepath.Base(l.filePath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	backupPath := filepath.Join(dir, fmt.Sprintf("%s.%s%s", name, time.Now().Format("20060102-150405.000"), ext))

	if err := os.Rename(l.filePath, backupPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to rotate log file: %v\n", err)
	}
	l.pruneBackups(dir, name, ext)

	if err := l.openFile(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create new log file: %v\n", err)
	}
}

func (l *Logger) pruneBackups(dir, name, ext string) {
	matches, err := filepath.Glob(filepath.Join(dir, name+".*"+ext))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to find old log files: %v\n", err)
		return
	}
	if len(matches) <= l.maxBackups {
		return
	}

	type backup struct {
		path string
		mod  time.Time
	}
	backups := make([]backup, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			continue
		}
		backups = append(backups, backup{match, info.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].mod.Before(backups[j].mod) })

	for i := 0; i < len(backups)-l.maxBackups; i++ {
		os.Remove(backups[i].path)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, args ...interface{}) { l.log(2, DEBUG, "", format, args...) }

// Info logs info level messages
func (l *Logger) Info(format string, args ...interface{}) { l.log(2, INFO, "", format, args...) }

// Warn logs warning level messages
func (l *Logger) Warn(format string, args ...interface{}) { l.log(2, WARN, "", format, args...) }

// Error logs error level messages
func (l *Logger) Error(format string, args ...interface{}) { l.log(2, ERROR, "", format, args...) }

// Close closes the log file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
