package model

import "time"

// Rule is a named threshold condition bound to one action.
// Metric, Operator and Action are kept as stored; the rule engine
// resolves them at evaluation time.
type Rule struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	Enabled      bool           `json:"enabled"`
	Metric       string         `json:"metric"`
	Operator     string         `json:"operator"`
	Value        float64        `json:"value"`
	Action       string         `json:"action"`
	ActionParams map[string]any `json:"action_params"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ActionLogDraft describes a triggered action before it is appended
type ActionLogDraft struct {
	RuleID    *int64
	ReadingID *int64
	Action    string
	Payload   map[string]any
}

// ActionLog is an append-only record of a triggered rule action
type ActionLog struct {
	ID        int64          `json:"id"`
	RuleID    *int64         `json:"rule_id"`
	ReadingID *int64         `json:"reading_id"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"created_at"`
}
