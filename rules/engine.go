// Package rules evaluates threshold rules against persisted readings and
// records one action log per match.
package rules

import (
	"context"
	"fmt"

	"github.com/eddielth/edge-ingest/logger"
	"github.com/eddielth/edge-ingest/model"
)

// Source returns the rules that are enabled right now
type Source interface {
	EnabledRules(ctx context.Context) ([]model.Rule, error)
}

// Sink appends action log records
type Sink interface {
	AppendActionLog(ctx context.Context, draft model.ActionLogDraft) (model.ActionLog, error)
}

// Status is the result of evaluating one rule
type Status int

const (
	StatusNoMatch Status = iota
	StatusMatched
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNoMatch:
		return "no_match"
	case StatusMatched:
		return "matched"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Outcome reports what happened to a single rule for a single reading
type Outcome struct {
	RuleID   int64
	RuleName string
	Status   Status
	Reason   string
	Log      *model.ActionLog
}

// Observer receives every outcome, used for metrics
type Observer func(Outcome)

// Engine evaluates the enabled rules for each reading
type Engine struct {
	source  Source
	sink    Sink
	observe Observer
	log     *logger.Component
}

// NewEngine creates a rule engine. observe may be nil.
func NewEngine(source Source, sink Sink, observe Observer) *Engine {
	return &Engine{
		source:  source,
		sink:    sink,
		observe: observe,
		log:     logger.Named("rules"),
	}
}

// Evaluate runs every enabled rule against reading. Rules are re-read on each call
// so toggles take effect on the next reading. A failing rule never stops the others.
func (e *Engine) Evaluate(ctx context.Context, reading model.Reading) ([]Outcome, error) {
	enabled, err := e.source.EnabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load enabled rules: %w", err)
	}

	outcomes := make([]Outcome, 0, len(enabled))
	for _, rule := range enabled {
		out := e.evaluateRule(ctx, rule, reading)
		e.report(out, reading)
		outcomes = append(outcomes, out)
	}

	return outcomes, nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule model.Rule, reading model.Reading) (out Outcome) {
	out = Outcome{RuleID: rule.ID, RuleName: rule.Name, Status: StatusNoMatch}

	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Reason = fmt.Sprintf("panic: %v", r)
			out.Log = nil
		}
	}()

	metric, err := ParseMetric(rule.Metric)
	if err != nil {
		return skipped(out, err.Error())
	}
	op, err := ParseOperator(rule.Operator)
	if err != nil {
		return skipped(out, err.Error())
	}

	value := metric.Resolve(reading)
	if value == nil {
		return skipped(out, metric.String()+" not reported")
	}

	hit, err := op.Apply(*value, rule.Value)
	if err != nil {
		return failed(out, err.Error())
	}
	if !hit {
		return out
	}

	action, err := ParseAction(rule.Action)
	if err != nil {
		return skipped(out, err.Error())
	}
	payload, err := action.Payload(rule, reading)
	if err != nil {
		return failed(out, err.Error())
	}

	ruleID, readingID := rule.ID, reading.ID
	entry, err := e.sink.AppendActionLog(ctx, model.ActionLogDraft{
		RuleID:    &ruleID,
		ReadingID: &readingID,
		Action:    action.String(),
		Payload:   payload,
	})
	if err != nil {
		return failed(out, err.Error())
	}

	out.Status = StatusMatched
	out.Log = &entry
	return out
}

func (e *Engine) report(out Outcome, reading model.Reading) {
	switch out.Status {
	case StatusMatched:
		e.log.Info("rule %q matched reading %d from %s: %s %v", out.RuleName, reading.ID, reading.NodeID, out.Log.Action, out.Log.Payload)
	case StatusSkipped:
		e.log.Debug("rule %q skipped for reading %d: %s", out.RuleName, reading.ID, out.Reason)
	case StatusFailed:
		e.log.Error("rule %q failed for reading %d: %s", out.RuleName, reading.ID, out.Reason)
	}
	if e.observe != nil {
		e.observe(out)
	}
}

func skipped(out Outcome, reason string) Outcome {
	out.Status = StatusSkipped
	out.Reason = reason
	return out
}

func failed(out Outcome, reason string) Outcome {
	out.Status = StatusFailed
	out.Reason = reason
	return out
}
