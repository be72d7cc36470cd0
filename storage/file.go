package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/model"
)

// FileStorage archives readings as JSON lines, one file per node per day
type FileStorage struct {
	basePath string
	mu       sync.Mutex
}

// NewFileStorage creates the archive directory
func NewFileStorage(basePath string) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", basePath, err)
	}

	logger.Info("init file storage: %s", basePath)
	return &FileStorage{basePath: basePath}, nil
}

func (fs *FileStorage) Name() string { return "file" }

// Store appends the reading to <base>/<node_id>/<yyyymmdd>.jsonl
func (fs *FileStorage) Store(ctx context.Context, reading model.Reading) error {
	nodeDir := filepath.Join(fs.basePath, nodeDirName(reading.NodeID))
	if err := os.MkdirAll(nodeDir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", nodeDir, err)
	}
	filename := filepath.Join(nodeDir, reading.Timestamp.UTC().Format("20060102")+".jsonl")

	line, err := json.Marshal(archiveRecord{Reading: reading, Raw: json.RawMessage(reading.RawJSON)})
	if err != nil {
		return fmt.Errorf("serialize reading %d: %w", reading.ID, err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filename, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}

	logger.Debug("archived reading %d to %s", reading.ID, filename)
	return nil
}

func (fs *FileStorage) Close() error {
	return nil
}

// nodeDirName maps a node id to a single path element inside the archive.
// Node ids come from device payloads, so separators and dot names never
// reach the filesystem as such.
func nodeDirName(nodeID string) string {
	name := filepath.Base(filepath.Clean("/" + strings.TrimSpace(nodeID)))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return "_"
	}
	return name
}

type archiveRecord struct {
	model.Reading
	Raw json.RawMessage `json:"raw,omitempty"`
}
