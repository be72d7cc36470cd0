package storage

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/eddielth/edge-ingest/model"
)

// MemoryStore is a Database kept entirely in process memory.
// It backs tests and the "memory" storage type.
type MemoryStore struct {
	mu         sync.RWMutex
	readings   []model.Reading
	rules      []model.Rule
	actionLogs []model.ActionLog
	nextID     map[string]int64
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: make(map[string]int64),
		now:    time.Now,
	}
}

func (s *MemoryStore) id(table string) int64 {
	s.nextID[table]++
	return s.nextID[table]
}

func (s *MemoryStore) InsertReading(ctx context.Context, draft model.ReadingDraft) (model.Reading, error) {
	if err := ctx.Err(); err != nil {
		return model.Reading{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := draft.Materialize(s.id("readings"))
	s.readings = append(s.readings, r)
	return r, nil
}

func (s *MemoryStore) InsertActionLog(ctx context.Context, draft model.ActionLogDraft) (model.ActionLog, error) {
	if err := ctx.Err(); err != nil {
		return model.ActionLog{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := model.ActionLog{
		ID:        s.id("action_logs"),
		RuleID:    draft.RuleID,
		ReadingID: draft.ReadingID,
		Action:    draft.Action,
		Payload:   maps.Clone(draft.Payload),
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	s.actionLogs = append(s.actionLogs, entry)
	return entry, nil
}

// ActionLogs returns a copy of every appended action log
func (s *MemoryStore) ActionLogs() []model.ActionLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.actionLogs)
}

func (s *MemoryStore) EnabledRules(ctx context.Context) ([]model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Rule
	for _, r := range s.rules {
		if r.Enabled {
			out = append(out, cloneRule(r))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListRules(ctx context.Context) ([]model.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, cloneRule(r))
	}
	return out, nil
}

func (s *MemoryStore) CreateRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTaken(rule.Name, 0) {
		return model.Rule{}, ErrDuplicateName
	}
	now := s.now().UTC().Truncate(time.Microsecond)
	rule.ID = s.id("rules")
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.ActionParams == nil {
		rule.ActionParams = map[string]any{}
	}
	s.rules = append(s.rules, cloneRule(rule))
	return rule, nil
}

func (s *MemoryStore) UpdateRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.rules, func(r model.Rule) bool { return r.ID == rule.ID })
	if i < 0 {
		return model.Rule{}, ErrNotFound
	}
	if s.nameTaken(rule.Name, rule.ID) {
		return model.Rule{}, ErrDuplicateName
	}
	rule.CreatedAt = s.rules[i].CreatedAt
	rule.UpdatedAt = s.now().UTC().Truncate(time.Microsecond)
	if rule.ActionParams == nil {
		rule.ActionParams = map[string]any{}
	}
	s.rules[i] = cloneRule(rule)
	return rule, nil
}

func (s *MemoryStore) DeleteRule(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := slices.IndexFunc(s.rules, func(r model.Rule) bool { return r.ID == id })
	if i < 0 {
		return ErrNotFound
	}
	s.rules = slices.Delete(s.rules, i, i+1)

	// same as ON DELETE SET NULL
	for j := range s.actionLogs {
		if ref := s.actionLogs[j].RuleID; ref != nil && *ref == id {
			s.actionLogs[j].RuleID = nil
		}
	}
	return nil
}

func (s *MemoryStore) nameTaken(name string, except int64) bool {
	return slices.ContainsFunc(s.rules, func(r model.Rule) bool {
		return r.Name == name && r.ID != except
	})
}

func (s *MemoryStore) ListReadings(ctx context.Context, q model.ReadingQuery) ([]model.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Reading
	for i := len(s.readings) - 1; i >= 0 && len(out) < q.Limit; i-- {
		r := s.readings[i]
		if q.NodeID != "" && r.NodeID != q.NodeID {
			continue
		}
		if q.Since != nil && r.Timestamp.Before(*q.Since) {
			continue
		}
		if q.Until != nil && r.Timestamp.After(*q.Until) {
			continue
		}
		out = append(out, r)
	}
	slices.Reverse(out)
	return out, nil
}

func (s *MemoryStore) Counts(ctx context.Context) (model.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nodes := make(map[string]struct{})
	for _, r := range s.readings {
		nodes[r.NodeID] = struct{}{}
	}
	return model.Counts{Readings: int64(len(s.readings)), Nodes: int64(len(nodes))}, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneRule(r model.Rule) model.Rule {
	r.ActionParams = maps.Clone(r.ActionParams)
	return r
}
