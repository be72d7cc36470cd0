package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/edge-ingest/model"
)

func ptr[T any](v T) *T { return &v }

// stores returns every Database implementation that runs without external services
func stores(t *testing.T) map[string]Database {
	t.Helper()

	sqlite, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Database{
		"sqlite": sqlite,
		"memory": NewMemoryStore(),
	}
}

func draft(node string, temp float64, ts time.Time) model.ReadingDraft {
	return model.ReadingDraft{
		NodeID:       node,
		TemperatureC: ptr(temp),
		Timestamp:    ts,
		RawJSON:      `{"node_id":"` + node + `"}`,
	}
}

func TestDatabase_Readings(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			first, err := db.InsertReading(ctx, model.ReadingDraft{
				NodeID:          "n1",
				TemperatureC:    ptr(31.0),
				HumidityPct:     ptr(55.5),
				SoilMoisturePct: nil,
				Motion:          ptr(true),
				Timestamp:       base,
				RawJSON:         `{"node_id":"n1","temperature_c":31}`,
			})
			require.NoError(t, err)
			assert.Positive(t, first.ID)

			second, err := db.InsertReading(ctx, draft("n2", 20, base.Add(time.Minute)))
			require.NoError(t, err)
			assert.Greater(t, second.ID, first.ID)

			_, err = db.InsertReading(ctx, draft("n1", 21, base.Add(2*time.Minute)))
			require.NoError(t, err)

			all, err := db.ListReadings(ctx, model.ReadingQuery{Limit: 100})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, first.ID, all[0].ID, "oldest first")
			assert.Equal(t, 31.0, *all[0].TemperatureC)
			assert.Equal(t, 55.5, *all[0].HumidityPct)
			assert.Nil(t, all[0].SoilMoisturePct)
			assert.True(t, *all[0].Motion)
			assert.True(t, base.Equal(all[0].Timestamp))
			assert.Equal(t, `{"node_id":"n1","temperature_c":31}`, all[0].RawJSON)

			latest, err := db.ListReadings(ctx, model.ReadingQuery{Limit: 2})
			require.NoError(t, err)
			require.Len(t, latest, 2)
			assert.Equal(t, second.ID, latest[0].ID, "limit keeps the newest")

			byNode, err := db.ListReadings(ctx, model.ReadingQuery{Limit: 100, NodeID: "n1"})
			require.NoError(t, err)
			assert.Len(t, byNode, 2)

			since := base.Add(30 * time.Second)
			until := base.Add(90 * time.Second)
			window, err := db.ListReadings(ctx, model.ReadingQuery{Limit: 100, Since: &since, Until: &until})
			require.NoError(t, err)
			require.Len(t, window, 1)
			assert.Equal(t, "n2", window[0].NodeID)

			counts, err := db.Counts(ctx)
			require.NoError(t, err)
			assert.Equal(t, model.Counts{Readings: 3, Nodes: 2}, counts)
		})
	}
}

func TestDatabase_InsertReturnsStoredTimestamp(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2025, 1, 1, 0, 0, 0, 123456789, time.UTC)

	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			returned, err := db.InsertReading(ctx, draft("n1", 20, ts))
			require.NoError(t, err)
			assert.Equal(t, 123456000, returned.Timestamp.Nanosecond())

			listed, err := db.ListReadings(ctx, model.ReadingQuery{Limit: 1})
			require.NoError(t, err)
			require.Len(t, listed, 1)
			assert.True(t, returned.Timestamp.Equal(listed[0].Timestamp),
				"returned %s, stored %s", returned.Timestamp, listed[0].Timestamp)
		})
	}
}

func TestDatabase_Rules(t *testing.T) {
	ctx := context.Background()

	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			hot, err := db.CreateRule(ctx, model.Rule{
				Name: "Hot", Enabled: true, Metric: "temperature_c", Operator: ">", Value: 30, Action: "notify",
			})
			require.NoError(t, err)
			assert.Positive(t, hot.ID)
			assert.False(t, hot.CreatedAt.IsZero())

			_, err = db.CreateRule(ctx, model.Rule{
				Name: "Hot", Enabled: true, Metric: "humidity_pct", Operator: "<", Value: 10, Action: "notify",
			})
			assert.ErrorIs(t, err, ErrDuplicateName)

			dry, err := db.CreateRule(ctx, model.Rule{
				Name: "Dry", Enabled: false, Metric: "soil_moisture_pct", Operator: "<", Value: 20,
				Action: "irrigation_on", ActionParams: map[string]any{"duration_sec": float64(40), "zone": "B"},
			})
			require.NoError(t, err)

			enabled, err := db.EnabledRules(ctx)
			require.NoError(t, err)
			require.Len(t, enabled, 1)
			assert.Equal(t, "Hot", enabled[0].Name)

			dry.Enabled = true
			dry.Value = 25
			updated, err := db.UpdateRule(ctx, dry)
			require.NoError(t, err)
			assert.True(t, updated.Enabled)
			assert.Equal(t, 25.0, updated.Value)
			assert.Equal(t, "B", updated.ActionParams["zone"])
			assert.Equal(t, float64(40), updated.ActionParams["duration_sec"])

			dry.Name = "Hot"
			_, err = db.UpdateRule(ctx, dry)
			assert.ErrorIs(t, err, ErrDuplicateName)

			_, err = db.UpdateRule(ctx, model.Rule{ID: 9999, Name: "ghost", Metric: "temperature_c", Operator: ">", Action: "notify"})
			assert.ErrorIs(t, err, ErrNotFound)

			all, err := db.ListRules(ctx)
			require.NoError(t, err)
			assert.Len(t, all, 2)

			require.NoError(t, db.DeleteRule(ctx, hot.ID))
			assert.ErrorIs(t, db.DeleteRule(ctx, hot.ID), ErrNotFound)

			enabled, err = db.EnabledRules(ctx)
			require.NoError(t, err)
			require.Len(t, enabled, 1)
			assert.Equal(t, "Dry", enabled[0].Name)
		})
	}
}

func TestDatabase_ActionLogs(t *testing.T) {
	ctx := context.Background()

	for name, db := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rule, err := db.CreateRule(ctx, model.Rule{
				Name: "Hot", Enabled: true, Metric: "temperature_c", Operator: ">", Value: 30, Action: "notify",
			})
			require.NoError(t, err)
			reading, err := db.InsertReading(ctx, draft("n1", 31, time.Now()))
			require.NoError(t, err)

			entry, err := db.InsertActionLog(ctx, model.ActionLogDraft{
				RuleID:    &rule.ID,
				ReadingID: &reading.ID,
				Action:    "notify",
				Payload:   map[string]any{"msg": "Rule 'Hot' matched"},
			})
			require.NoError(t, err)
			assert.Positive(t, entry.ID)
			assert.Equal(t, rule.ID, *entry.RuleID)
			assert.Equal(t, reading.ID, *entry.ReadingID)
			assert.Equal(t, "Rule 'Hot' matched", entry.Payload["msg"])

			// deleting the rule leaves its logs in place
			require.NoError(t, db.DeleteRule(ctx, rule.ID))
		})
	}
}

func TestMemoryStore_DeleteRuleNullsActionLogs(t *testing.T) {
	ctx := context.Background()
	db := NewMemoryStore()

	rule, err := db.CreateRule(ctx, model.Rule{Name: "Hot", Enabled: true, Metric: "temperature_c", Operator: ">", Action: "notify"})
	require.NoError(t, err)
	_, err = db.InsertActionLog(ctx, model.ActionLogDraft{RuleID: &rule.ID, Action: "notify"})
	require.NoError(t, err)

	require.NoError(t, db.DeleteRule(ctx, rule.ID))
	logs := db.ActionLogs()
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].RuleID)
}

func TestDialectBind(t *testing.T) {
	assert.Equal(t, "SELECT ? , ?", sqliteDialect.bind("SELECT ? , ?"))
	assert.Equal(t, "WHERE a = $1 AND b = $2 LIMIT $3", postgresDialect.bind("WHERE a = ? AND b = ? LIMIT ?"))
}

func TestParsePostgreSQLDSN(t *testing.T) {
	db, server, err := parsePostgreSQLDSN("postgres://u:p@localhost:5432/edge?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "edge", db)
	assert.Equal(t, "postgres://u:p@localhost:5432/postgres?sslmode=disable", server)

	db, server, err = parsePostgreSQLDSN("host=localhost user=u dbname=edge sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "edge", db)
	assert.Equal(t, "host=localhost user=u sslmode=disable dbname=postgres", server)

	_, _, err = parsePostgreSQLDSN("postgres://u:p@localhost:5432")
	assert.ErrorIs(t, err, errNoDatabaseName)
}

func TestNewDatabase_Unsupported(t *testing.T) {
	_, err := NewDatabase("oracle", "")
	assert.Error(t, err)

	db, err := NewDatabase("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, db)
}

type failingBackend struct{ calls int }

func (b *failingBackend) Name() string { return "broken" }
func (b *failingBackend) Store(context.Context, model.Reading) error {
	b.calls++
	return errors.New("disk full")
}
func (b *failingBackend) Close() error { return nil }

func TestManager_MirrorFailureDoesNotFailSave(t *testing.T) {
	ctx := context.Background()
	backend := &failingBackend{}
	m := NewManager(NewMemoryStore(), backend)

	reading, err := m.SaveReading(ctx, draft("n1", 20, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reading.ID)
	assert.Equal(t, 1, backend.calls)
}

type brokenDatabase struct{ *MemoryStore }

func (brokenDatabase) InsertReading(context.Context, model.ReadingDraft) (model.Reading, error) {
	return model.Reading{}, errors.New("database is locked")
}

func (brokenDatabase) InsertActionLog(context.Context, model.ActionLogDraft) (model.ActionLog, error) {
	return model.ActionLog{}, errors.New("database is locked")
}

func TestManager_WrapsPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	m := NewManager(brokenDatabase{NewMemoryStore()})

	_, err := m.SaveReading(ctx, draft("n1", 20, time.Now()))
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Contains(t, err.Error(), "database is locked")

	_, err = m.AppendActionLog(ctx, model.ActionLogDraft{Action: "notify"})
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestFileStorage_AppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStorage(dir)
	require.NoError(t, err)
	m := NewManager(NewMemoryStore(), fs)

	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	for range 2 {
		_, err := m.SaveReading(context.Background(), draft("greenhouse-1", 22.5, ts))
		require.NoError(t, err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "greenhouse-1", "20250304.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":1`)
	assert.Contains(t, lines[1], `"id":2`)
	assert.Contains(t, lines[0], `"raw":{"node_id":"greenhouse-1"}`)
}

func TestFileStorage_NodeIDStaysInsideArchive(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "archive")
	fs, err := NewFileStorage(dir)
	require.NoError(t, err)

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, node := range []string{"..", ".", "", "/", "../../etc", "a/../.."} {
		require.NoError(t, fs.Store(context.Background(), model.Reading{ID: 1, NodeID: node, Timestamp: ts}), node)
	}

	_, err = os.Stat(filepath.Join(parent, "20250101.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist, "nothing written next to the archive")
	assert.FileExists(t, filepath.Join(dir, "_", "20250101.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "etc", "20250101.jsonl"))

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive", entries[0].Name())
}

func TestNodeDirName(t *testing.T) {
	tests := map[string]string{
		"greenhouse-1": "greenhouse-1",
		"..":           "_",
		".":            "_",
		"":             "_",
		"  ":           "_",
		"/":            "_",
		"../../etc":    "etc",
		"a/b":          "b",
	}
	for in, want := range tests {
		assert.Equal(t, want, nodeDirName(in), in)
	}
}
