package model

import "time"

// UnknownNode is the node id given to readings whose payload carries none.
const UnknownNode = "unknown"

// ReadingDraft is a normalized reading that has not been persisted yet
type ReadingDraft struct {
	NodeID          string    `json:"node_id"`
	TemperatureC    *float64  `json:"temperature_c"`
	HumidityPct     *float64  `json:"humidity_pct"`
	SoilMoisturePct *float64  `json:"soil_moisture_pct"`
	Motion          *bool     `json:"motion"`
	Timestamp       time.Time `json:"timestamp"`
	RawJSON         string    `json:"-"`
}

// Reading is one persisted sensor sample
type Reading struct {
	ID              int64     `json:"id"`
	NodeID          string    `json:"node_id"`
	TemperatureC    *float64  `json:"temperature_c"`
	HumidityPct     *float64  `json:"humidity_pct"`
	SoilMoisturePct *float64  `json:"soil_moisture_pct"`
	Motion          *bool     `json:"motion"`
	Timestamp       time.Time `json:"timestamp"`
	RawJSON         string    `json:"-"`
}

// Materialize attaches a storage generated id to the draft. The timestamp
// is cut to the microsecond precision every store keeps.
func (d ReadingDraft) Materialize(id int64) Reading {
	return Reading{
		ID:              id,
		NodeID:          d.NodeID,
		TemperatureC:    d.TemperatureC,
		HumidityPct:     d.HumidityPct,
		SoilMoisturePct: d.SoilMoisturePct,
		Motion:          d.Motion,
		Timestamp:       d.Timestamp.UTC().Truncate(time.Microsecond),
		RawJSON:         d.RawJSON,
	}
}

// ReadingQuery filters the reading history listing
type ReadingQuery struct {
	Limit  int
	NodeID string
	Since  *time.Time
	Until  *time.Time
}

// Counts summarizes stored readings for health reporting
type Counts struct {
	Readings int64 `json:"readings"`
	Nodes    int64 `json:"nodes"`
}
