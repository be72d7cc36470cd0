package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eddielth/edge-ingest/ingest"
	"github.com/eddielth/edge-ingest/model"
	"github.com/eddielth/edge-ingest/rules"
	"github.com/eddielth/edge-ingest/storage"
	"github.com/eddielth/edge-ingest/validator"
)

const (
	defaultLimit = 100
	maxLimit     = 5000
	maxBodyBytes = 1 << 20
)

type healthResponse struct {
	Status  string       `json:"status"`
	MQTT    any          `json:"mqtt"`
	Storage string       `json:"storage"`
	Viewers int          `json:"viewers"`
	Counts  model.Counts `json:"counts"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Storage: h.opts.StorageType}

	counts, err := h.opts.Store.Counts(r.Context())
	if err != nil {
		h.log.Warn("health counts failed: %v", err)
		resp.Status = "degraded"
	} else {
		resp.Counts = counts
	}
	if h.opts.MQTTStatus != nil {
		resp.MQTT = h.opts.MQTTStatus()
	}
	if h.opts.Hub != nil {
		resp.Viewers = h.opts.Hub.Count()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) healthHead(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) listReadings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := model.ReadingQuery{Limit: defaultLimit, NodeID: query.Get("node_id")}

	if s := query.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 || limit > maxLimit {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 5000")
			return
		}
		q.Limit = limit
	}
	// unparseable bounds are ignored rather than rejected
	if t, ok := ingest.ParseTimestamp(query.Get("since")); ok {
		q.Since = &t
	}
	if t, ok := ingest.ParseTimestamp(query.Get("until")); ok {
		q.Until = &t
	}

	readings, err := h.opts.Store.ListReadings(r.Context(), q)
	if err != nil {
		h.internalError(w, "list readings", err)
		return
	}
	if readings == nil {
		readings = []model.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (h *Handler) latestReading(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "node_id")

	if h.opts.Latest != nil {
		reading, err := h.opts.Latest.Latest(r.Context(), nodeID)
		if err == nil {
			writeJSON(w, http.StatusOK, reading)
			return
		}
		if !errors.Is(err, storage.ErrNotFound) {
			h.log.Warn("latest cache lookup for %s failed: %v", nodeID, err)
		}
	}

	readings, err := h.opts.Store.ListReadings(r.Context(), model.ReadingQuery{Limit: 1, NodeID: nodeID})
	if err != nil {
		h.internalError(w, "latest reading", err)
		return
	}
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, "no readings for node")
		return
	}
	writeJSON(w, http.StatusOK, readings[0])
}

type readingInput struct {
	NodeID          string   `json:"node_id"`
	TemperatureC    *float64 `json:"temperature_c"`
	HumidityPct     *float64 `json:"humidity_pct"`
	SoilMoisturePct *float64 `json:"soil_moisture_pct"`
	Motion          *bool    `json:"motion"`
	Timestamp       *string  `json:"timestamp"`
}

// createReading stores a reading by hand, for testing without a broker
func (h *Handler) createReading(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	var in readingInput
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	in.NodeID = strings.TrimSpace(in.NodeID)
	if n := len(in.NodeID); n < 1 || n > 120 {
		writeError(w, http.StatusUnprocessableEntity, "node_id must be 1 to 120 characters")
		return
	}

	ts := time.Now().UTC()
	if in.Timestamp != nil {
		t, ok := ingest.ParseTimestamp(*in.Timestamp)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "timestamp is not ISO-8601")
			return
		}
		ts = t
	}

	reading, err := h.opts.Store.SaveReading(r.Context(), model.ReadingDraft{
		NodeID:          in.NodeID,
		TemperatureC:    in.TemperatureC,
		HumidityPct:     in.HumidityPct,
		SoilMoisturePct: in.SoilMoisturePct,
		Motion:          in.Motion,
		Timestamp:       ts,
		RawJSON:         string(body),
	})
	if err != nil {
		h.internalError(w, "save reading", err)
		return
	}
	writeJSON(w, http.StatusCreated, reading)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.opts.Store.ListRules(r.Context())
	if err != nil {
		h.internalError(w, "list rules", err)
		return
	}
	if list == nil {
		list = []model.Rule{}
	}
	writeJSON(w, http.StatusOK, list)
}

type ruleInput struct {
	Name         string         `json:"name"`
	Enabled      *bool          `json:"enabled"`
	Metric       string         `json:"metric"`
	Operator     string         `json:"operator"`
	Value        *float64       `json:"value"`
	Action       string         `json:"action"`
	ActionParams map[string]any `json:"action_params"`
}

// decodeRule reads and validates a rule body. It writes the error response
// itself and returns false on failure.
func (h *Handler) decodeRule(w http.ResponseWriter, r *http.Request) (model.Rule, bool) {
	var in ruleInput
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return model.Rule{}, false
	}
	if in.Value == nil {
		writeError(w, http.StatusUnprocessableEntity, "value is required")
		return model.Rule{}, false
	}

	rule := model.Rule{
		Name:         strings.TrimSpace(in.Name),
		Enabled:      in.Enabled == nil || *in.Enabled,
		Metric:       in.Metric,
		Operator:     in.Operator,
		Value:        *in.Value,
		Action:       in.Action,
		ActionParams: in.ActionParams,
	}
	if rule.ActionParams == nil {
		rule.ActionParams = map[string]any{}
	}
	if err := validator.Rule(&rule); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return model.Rule{}, false
	}

	// store the canonical symbol, so "≥" is kept as ">="
	if op, err := rules.ParseOperator(rule.Operator); err == nil {
		rule.Operator = op.String()
	}
	return rule, true
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}

	created, err := h.opts.Store.CreateRule(r.Context(), rule)
	if errors.Is(err, storage.ErrDuplicateName) {
		writeError(w, http.StatusBadRequest, "rule name already exists")
		return
	}
	if err != nil {
		h.internalError(w, "create rule", err)
		return
	}

	h.log.Info("rule %d %q created", created.ID, created.Name)
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}
	rule, ok := h.decodeRule(w, r)
	if !ok {
		return
	}
	rule.ID = id

	updated, err := h.opts.Store.UpdateRule(r.Context(), rule)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "rule not found")
		return
	case errors.Is(err, storage.ErrDuplicateName):
		writeError(w, http.StatusBadRequest, "rule name already exists")
		return
	case err != nil:
		h.internalError(w, "update rule", err)
		return
	}

	h.log.Info("rule %d %q updated", updated.ID, updated.Name)
	writeJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := ruleID(w, r)
	if !ok {
		return
	}

	err := h.opts.Store.DeleteRule(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	if err != nil {
		h.internalError(w, "delete rule", err)
		return
	}

	h.log.Info("rule %d deleted", id)
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id})
}

func ruleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusNotFound, "rule not found")
		return 0, false
	}
	return id, true
}

func (h *Handler) internalError(w http.ResponseWriter, op string, err error) {
	h.log.Error("%s: %v", op, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
