package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    LogLevel
		wantErr bool
	}{
		{"debug", DEBUG, false},
		{"INFO", INFO, false},
		{"", INFO, false},
		{"warning", WARN, false},
		{"Error", ERROR, false},
		{"verbose", INFO, true},
	}

	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantErr, err != nil, tt.in)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, WARN)

	l.Info("hidden %d", 1)
	l.Warn("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "logger_test.go")
}

func TestComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, DEBUG)

	l.Named("ingest").Error("queue stalled")

	assert.Contains(t, buf.String(), "[ingest] queue stalled")
}

func TestFileRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "edge.log")

	l, err := New(Config{Level: DEBUG, FilePath: path, MaxSize: 1, MaxBackups: 1})
	require.NoError(t, err)
	defer l.Close()

	// force a rotation on the next write
	l.maxSize = 64
	for i := 0; i < 10; i++ {
		l.Info("line %d with some padding to grow the file", i)
	}

	backups, err := filepath.Glob(filepath.Join(dir, "edge.*.log"))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), 1)

	_, err = os.Stat(path)
	assert.NoError(t, err)
}
