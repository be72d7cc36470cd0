// Package ingest turns decoded broker messages into persisted, broadcast and
// rule-checked readings, one message at a time.
package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"

	"github.com/eddielth/edge-ingest/model"
)

// Wire field names
const (
	FieldNodeID       = "node_id"
	FieldTemperature  = "temperature_c"
	FieldHumidity     = "humidity_pct"
	FieldSoilMoisture = "soil_moisture_pct"
	FieldMotion       = "motion"
	FieldTimestamp    = "timestamp"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Normalizer coerces a raw message into a ReadingDraft. It holds no state
// apart from the clock used for missing or unreadable timestamps.
type Normalizer struct {
	now func() time.Time
}

func NewNormalizer() *Normalizer {
	return &Normalizer{now: time.Now}
}

// NewNormalizerWithClock is NewNormalizer with a fixed clock, for tests
func NewNormalizerWithClock(now func() time.Time) *Normalizer {
	return &Normalizer{now: now}
}

// Normalize never fails: every field that cannot be coerced becomes absent
func (n *Normalizer) Normalize(msg Message) model.ReadingDraft {
	now := n.now().UTC()

	return model.ReadingDraft{
		NodeID:          nodeID(msg[FieldNodeID]),
		TemperatureC:    toFloat(msg[FieldTemperature]),
		HumidityPct:     toFloat(msg[FieldHumidity]),
		SoilMoisturePct: toFloat(msg[FieldSoilMoisture]),
		Motion:          toBool(msg[FieldMotion]),
		Timestamp:       toTimestamp(msg[FieldTimestamp], now),
		RawJSON:         rawJSON(msg),
	}
}

func nodeID(v any) string {
	if v == nil {
		return model.UnknownNode
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprint(v)
}

func toFloat(v any) *float64 {
	var (
		f   float64
		err error
	)
	switch x := v.(type) {
	case nil, bool:
		return nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", ".")
		if s == "" {
			return nil
		}
		f, err = cast.ToFloat64E(s)
	case json.Number:
		f, err = x.Float64()
	default:
		f, err = cast.ToFloat64E(x)
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func toBool(v any) *bool {
	var b bool
	switch x := v.(type) {
	case bool:
		b = x
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "1", "yes", "y", "on":
			b = true
		case "false", "0", "no", "n", "off":
			b = false
		default:
			return nil
		}
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil
		}
		b = f != 0
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		b = cast.ToFloat64(x) != 0
	default:
		return nil
	}
	return &b
}

func toTimestamp(v any, now time.Time) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case string:
		if t, ok := ParseTimestamp(x); ok {
			return t
		}
	}
	return now
}

// ParseTimestamp reads an ISO-8601 timestamp. A trailing Z means UTC, values
// without an offset are taken as UTC and a space may separate date and time.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func rawJSON(msg Message) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]any(msg)); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
