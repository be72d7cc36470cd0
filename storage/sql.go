package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/eddielth/edge-ingest/model"
)

const readingColumns = `id, node_id, temperature_c, humidity_pct, soil_moisture_pct, motion, timestamp, raw_json`

const ruleColumns = `id, name, enabled, metric, operator, value, action, action_params, created_at, updated_at`

// SQLStorage implements Database on top of database/sql for every SQL dialect
type SQLStorage struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func newSQLStorage(db *sql.DB, d dialect) *SQLStorage {
	return &SQLStorage{db: db, dialect: d, now: time.Now}
}

// InitDatabase creates the tables and indexes when they do not exist
func (s *SQLStorage) InitDatabase(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

// insert runs an INSERT and returns the generated id
func (s *SQLStorage) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.dialect.returning {
		var id int64
		err := s.db.QueryRowContext(ctx, s.dialect.bind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}

	result, err := s.db.ExecContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// InsertReading stores a normalized reading
func (s *SQLStorage) InsertReading(ctx context.Context, draft model.ReadingDraft) (model.Reading, error) {
	id, err := s.insert(ctx,
		`INSERT INTO readings (node_id, temperature_c, humidity_pct, soil_moisture_pct, motion, timestamp, raw_json) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		draft.NodeID, draft.TemperatureC, draft.HumidityPct, draft.SoilMoisturePct, draft.Motion, draft.Timestamp.UnixMicro(), draft.RawJSON)
	if err != nil {
		return model.Reading{}, err
	}
	return draft.Materialize(id), nil
}

// InsertActionLog appends a triggered action
func (s *SQLStorage) InsertActionLog(ctx context.Context, draft model.ActionLogDraft) (model.ActionLog, error) {
	payload, err := marshalJSON(draft.Payload)
	if err != nil {
		return model.ActionLog{}, fmt.Errorf("serialize payload: %w", err)
	}

	created := s.now().UTC()
	id, err := s.insert(ctx,
		`INSERT INTO action_logs (rule_id, reading_id, action, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		draft.RuleID, draft.ReadingID, draft.Action, payload, created.UnixMicro())
	if err != nil {
		return model.ActionLog{}, err
	}

	return model.ActionLog{
		ID:        id,
		RuleID:    draft.RuleID,
		ReadingID: draft.ReadingID,
		Action:    draft.Action,
		Payload:   draft.Payload,
		CreatedAt: time.UnixMicro(created.UnixMicro()).UTC(),
	}, nil
}

// EnabledRules reads the currently enabled rules, never cached
func (s *SQLStorage) EnabledRules(ctx context.Context) ([]model.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE enabled = ? ORDER BY id`, true)
}

// ListRules returns every rule ordered by id
func (s *SQLStorage) ListRules(ctx context.Context) ([]model.Rule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules ORDER BY id`)
}

func (s *SQLStorage) queryRules(ctx context.Context, query string, args ...any) ([]model.Rule, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Rule
	for rows.Next() {
		var (
			r                model.Rule
			params           sql.NullString
			created, updated int64
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Enabled, &r.Metric, &r.Operator, &r.Value, &r.Action, &params, &created, &updated); err != nil {
			return nil, err
		}
		if params.Valid && params.String != "" {
			if err := json.Unmarshal([]byte(params.String), &r.ActionParams); err != nil {
				return nil, fmt.Errorf("rule %d action_params: %w", r.ID, err)
			}
		}
		r.CreatedAt = time.UnixMicro(created).UTC()
		r.UpdatedAt = time.UnixMicro(updated).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRule inserts a new rule; the name must be unique
func (s *SQLStorage) CreateRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	params, err := marshalJSON(rule.ActionParams)
	if err != nil {
		return model.Rule{}, fmt.Errorf("serialize action_params: %w", err)
	}

	now := time.UnixMicro(s.now().UnixMicro()).UTC()
	id, err := s.insert(ctx,
		`INSERT INTO rules (name, enabled, metric, operator, value, action, action_params, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.Name, rule.Enabled, rule.Metric, rule.Operator, rule.Value, rule.Action, params, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return model.Rule{}, ErrDuplicateName
		}
		return model.Rule{}, err
	}

	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return rule, nil
}

// UpdateRule replaces every mutable field of an existing rule
func (s *SQLStorage) UpdateRule(ctx context.Context, rule model.Rule) (model.Rule, error) {
	params, err := marshalJSON(rule.ActionParams)
	if err != nil {
		return model.Rule{}, fmt.Errorf("serialize action_params: %w", err)
	}

	now := time.UnixMicro(s.now().UnixMicro()).UTC()
	result, err := s.db.ExecContext(ctx, s.dialect.bind(
		`UPDATE rules SET name = ?, enabled = ?, metric = ?, operator = ?, value = ?, action = ?, action_params = ?, updated_at = ? WHERE id = ?`),
		rule.Name, rule.Enabled, rule.Metric, rule.Operator, rule.Value, rule.Action, params, now.UnixMicro(), rule.ID)
	if err != nil {
		if s.dialect.isDuplicate(err) {
			return model.Rule{}, ErrDuplicateName
		}
		return model.Rule{}, err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return model.Rule{}, ErrNotFound
	}

	rules, err := s.queryRules(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = ?`, rule.ID)
	if err != nil {
		return model.Rule{}, err
	}
	if len(rules) == 0 {
		return model.Rule{}, ErrNotFound
	}
	return rules[0], nil
}

// DeleteRule removes a rule; its action logs keep a null rule id
func (s *SQLStorage) DeleteRule(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.dialect.bind(`DELETE FROM rules WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListReadings returns the newest q.Limit readings matching the filters, oldest first
func (s *SQLStorage) ListReadings(ctx context.Context, q model.ReadingQuery) ([]model.Reading, error) {
	var (
		where []string
		args  []any
	)
	if q.NodeID != "" {
		where = append(where, "node_id = ?")
		args = append(args, q.NodeID)
	}
	if q.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since.UnixMicro())
	}
	if q.Until != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, q.Until.UnixMicro())
	}

	query := `SELECT ` + readingColumns + ` FROM readings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, s.dialect.bind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Reading
	for rows.Next() {
		var (
			r  model.Reading
			ts int64
		)
		if err := rows.Scan(&r.ID, &r.NodeID, &r.TemperatureC, &r.HumidityPct, &r.SoilMoisturePct, &r.Motion, &ts, &r.RawJSON); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMicro(ts).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.Reverse(out)
	return out, nil
}

// Counts returns the number of readings and distinct nodes
func (s *SQLStorage) Counts(ctx context.Context) (model.Counts, error) {
	var c model.Counts
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT node_id) FROM readings`).Scan(&c.Readings, &c.Nodes)
	return c, err
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close %s database: %w", s.dialect.name, err)
	}
	return nil
}

func marshalJSON(v map[string]any) (string, error) {
	if v == nil {
		v = map[string]any{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func ping(ctx context.Context, db *sql.DB, name DatabaseType) error {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("%s connection test failed: %w", name, err)
	}
	return nil
}

var errNoDatabaseName = errors.New("DSN does not name a database")
