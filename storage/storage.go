package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/model"
)

var (
	// ErrPersistence marks a failed write of a reading or action log
	ErrPersistence = errors.New("persistence failure")
	// ErrNotFound is returned when a rule id does not exist
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName is returned when a rule name is already taken
	ErrDuplicateName = errors.New("rule name already exists")
)

// Database is the primary store. It assigns identities and owns rules.
type Database interface {
	InsertReading(ctx context.Context, draft model.ReadingDraft) (model.Reading, error)
	InsertActionLog(ctx context.Context, draft model.ActionLogDraft) (model.ActionLog, error)
	EnabledRules(ctx context.Context) ([]model.Rule, error)

	ListReadings(ctx context.Context, q model.ReadingQuery) ([]model.Reading, error)
	Counts(ctx context.Context) (model.Counts, error)
	ListRules(ctx context.Context) ([]model.Rule, error)
	CreateRule(ctx context.Context, rule model.Rule) (model.Rule, error)
	UpdateRule(ctx context.Context, rule model.Rule) (model.Rule, error)
	DeleteRule(ctx context.Context, id int64) error

	Close() error
}

// Backend receives a copy of every persisted reading
type Backend interface {
	Name() string
	Store(ctx context.Context, reading model.Reading) error
	Close() error
}

// Manager is the persistence gateway: it writes to the primary database
// and mirrors readings to every secondary backend.
type Manager struct {
	Database

	backends []Backend
	mutex    sync.RWMutex
	log      *logger.Component
}

// NewManager creates a new storage manager
func NewManager(db Database, backends ...Backend) *Manager {
	return &Manager{
		Database: db,
		backends: backends,
		log:      logger.Named("storage"),
	}
}

// SaveReading inserts the draft and returns it with its generated id.
// Mirror failures are logged and never fail the save.
func (m *Manager) SaveReading(ctx context.Context, draft model.ReadingDraft) (model.Reading, error) {
	reading, err := m.Database.InsertReading(ctx, draft)
	if err != nil {
		return model.Reading{}, fmt.Errorf("%w: insert reading: %w", ErrPersistence, err)
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, backend := range m.backends {
		if err := backend.Store(ctx, reading); err != nil {
			m.log.Warn("mirror %s failed for reading %d: %v", backend.Name(), reading.ID, err)
		}
	}

	return reading, nil
}

// AppendActionLog records a triggered action
func (m *Manager) AppendActionLog(ctx context.Context, draft model.ActionLogDraft) (model.ActionLog, error) {
	entry, err := m.Database.InsertActionLog(ctx, draft)
	if err != nil {
		return model.ActionLog{}, fmt.Errorf("%w: insert action log: %w", ErrPersistence, err)
	}
	return entry, nil
}

// AddBackend adds a new mirror backend
func (m *Manager) AddBackend(backend Backend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backends = append(m.backends, backend)
}

// Close closes the mirrors and then the primary database
func (m *Manager) Close() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			m.log.Error("failed to close backend %s: %v", backend.Name(), err)
		}
	}
	return m.Database.Close()
}
