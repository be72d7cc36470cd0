package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/edge-ingest/broadcast"
	"github.com/eddielth/edge-ingest/metrics"
	"github.com/eddielth/edge-ingest/model"
	"github.com/eddielth/edge-ingest/mqtt"
	"github.com/eddielth/edge-ingest/storage"
)

const token = "s3cret"

type fixture struct {
	db     *storage.MemoryStore
	router http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemoryStore()
	router := NewRouter(Options{
		Store:       storage.NewManager(db),
		Hub:         broadcast.NewHub(nil),
		Metrics:     metrics.New(),
		MQTTStatus:  func() mqtt.Status { return mqtt.Status{Broker: "tcp://broker:1883", Topic: "iot/+/+/reading", Connected: true} },
		StorageType: "memory",
		AdminToken:  token,
	})
	return &fixture{db: db, router: router}
}

func (f *fixture) do(method, path, body string, admin bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if admin {
		req.Header.Set(AdminTokenHeader, token)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) seed(t *testing.T, n int) {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range n {
		temp := 20.0 + float64(i)
		node := "n1"
		if i%2 == 1 {
			node = "n2"
		}
		_, err := f.db.InsertReading(context.Background(), model.ReadingDraft{
			NodeID: node, TemperatureC: &temp, Timestamp: base.Add(time.Duration(i) * time.Minute), RawJSON: "{}",
		})
		require.NoError(t, err)
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	rec := f.do(http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["storage"])
	assert.Equal(t, map[string]any{"readings": 3.0, "nodes": 2.0}, body["counts"])
	assert.Equal(t, true, body["mqtt"].(map[string]any)["connected"])

	head := f.do(http.MethodHead, "/health", "", false)
	assert.Equal(t, http.StatusOK, head.Code)
	assert.Empty(t, head.Body.String())
}

type brokenCounts struct{ *storage.Manager }

func (brokenCounts) Counts(context.Context) (model.Counts, error) {
	return model.Counts{}, errors.New("database is locked")
}

func TestHealth_Degraded(t *testing.T) {
	router := NewRouter(Options{Store: brokenCounts{storage.NewManager(storage.NewMemoryStore())}})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "degraded", body["status"])
}

func TestListReadings(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 6)

	all := decode[[]model.Reading](t, f.do(http.MethodGet, "/readings", "", false))
	require.Len(t, all, 6)
	assert.Equal(t, int64(1), all[0].ID)

	latest := decode[[]model.Reading](t, f.do(http.MethodGet, "/readings?limit=2", "", false))
	require.Len(t, latest, 2)
	assert.Equal(t, []int64{5, 6}, []int64{latest[0].ID, latest[1].ID})

	n2 := decode[[]model.Reading](t, f.do(http.MethodGet, "/readings?node_id=n2", "", false))
	assert.Len(t, n2, 3)

	window := decode[[]model.Reading](t, f.do(http.MethodGet,
		"/readings?since=2025-01-01T00:02:00Z&until=2025-01-01T00:03:00Z", "", false))
	assert.Len(t, window, 2)

	ignored := decode[[]model.Reading](t, f.do(http.MethodGet, "/readings?since=garbage", "", false))
	assert.Len(t, ignored, 6)

	empty := f.do(http.MethodGet, "/readings?node_id=nobody", "", false)
	assert.Equal(t, "[]\n", empty.Body.String())
}

func TestListReadings_BadLimit(t *testing.T) {
	f := newFixture(t)
	for _, limit := range []string{"0", "5001", "-1", "many"} {
		rec := f.do(http.MethodGet, "/readings?limit="+limit, "", false)
		assert.Equal(t, http.StatusBadRequest, rec.Code, limit)
	}
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readings?limit=5000", "", false).Code)
}

func TestCreateReading(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/readings", `{"node_id":"manual","temperature_c":21.5}`, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/readings", `{"node_id":"manual","temperature_c":21.5,"timestamp":"2025-02-02T10:00:00Z"}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	r := decode[model.Reading](t, rec)
	assert.Equal(t, int64(1), r.ID)
	assert.Equal(t, 21.5, *r.TemperatureC)
	assert.Equal(t, 2025, r.Timestamp.Year())

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/readings", `{"node_id":""}`, true).Code)
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/readings", `{"node_id":"x","timestamp":"soon"}`, true).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/readings", `{`, true).Code)
}

type fakeLatest map[string]model.Reading

func (f fakeLatest) Latest(_ context.Context, nodeID string) (model.Reading, error) {
	if r, ok := f[nodeID]; ok {
		return r, nil
	}
	return model.Reading{}, storage.ErrNotFound
}

func TestLatestReading(t *testing.T) {
	db := storage.NewMemoryStore()
	router := NewRouter(Options{
		Store:  storage.NewManager(db),
		Latest: fakeLatest{"cached": {ID: 99, NodeID: "cached"}},
	})
	f := &fixture{db: db, router: router}
	f.seed(t, 4)

	cached := decode[model.Reading](t, f.do(http.MethodGet, "/nodes/cached/latest", "", false))
	assert.Equal(t, int64(99), cached.ID)

	// cache miss falls back to the store
	n1 := decode[model.Reading](t, f.do(http.MethodGet, "/nodes/n1/latest", "", false))
	assert.Equal(t, int64(3), n1.ID)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nodes/nobody/latest", "", false).Code)
}

const hotRule = `{"name":"Hot","metric":"temperature_c","operator":"≥","value":30,"action":"notify"}`

func TestRules_CRUD(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/rules", hotRule, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[model.Rule](t, rec)
	assert.True(t, created.Enabled, "enabled defaults to true")
	assert.Equal(t, ">=", created.Operator)
	assert.Equal(t, map[string]any{}, created.ActionParams)

	dup := f.do(http.MethodPost, "/rules", hotRule, true)
	assert.Equal(t, http.StatusBadRequest, dup.Code)
	assert.Contains(t, dup.Body.String(), "already exists")

	list := decode[[]model.Rule](t, f.do(http.MethodGet, "/rules", "", false))
	require.Len(t, list, 1)

	rec = f.do(http.MethodPut, "/rules/1",
		`{"name":"Hot","enabled":false,"metric":"temperature_c","operator":">","value":35,"action":"notify"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[model.Rule](t, rec)
	assert.False(t, updated.Enabled)
	assert.Equal(t, 35.0, updated.Value)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPut, "/rules/99", hotRule, true).Code)

	rec = f.do(http.MethodDelete, "/rules/1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"deleted","id":1}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/rules/1", "", true).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodDelete, "/rules/abc", "", true).Code)
}

func TestRules_Validation(t *testing.T) {
	f := newFixture(t)
	bodies := []string{
		`{"name":"ab","metric":"temperature_c","operator":">","value":1,"action":"notify"}`,
		`{"name":"Pressure","metric":"pressure","operator":">","value":1,"action":"notify"}`,
		`{"name":"Tilde","metric":"temperature_c","operator":"~","value":1,"action":"notify"}`,
		`{"name":"Sms","metric":"temperature_c","operator":">","value":1,"action":"sms"}`,
		`{"name":"No value","metric":"temperature_c","operator":">","action":"notify"}`,
	}
	for _, body := range bodies {
		rec := f.do(http.MethodPost, "/rules", body, true)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, body)
	}
}

func TestRules_RequireAdmin(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/rules", hotRule, false).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPut, "/rules/1", hotRule, false).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodDelete, "/rules/1", "", false).Code)

	req := httptest.NewRequest(http.MethodPost, "/rules", strings.NewReader(hotRule))
	req.Header.Set(AdminTokenHeader, "wrong")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// listing is public
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/rules", "", false).Code)
}

func TestMetricsRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "edge_broadcast_viewers")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/rules", nil)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", AdminTokenHeader)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
