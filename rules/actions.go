package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/eddielth/edge-ingest/model"
)

const (
	defaultIrrigationSeconds = 15
	defaultIrrigationZone    = "A"
)

// Action is the effect bound to a rule. New effects are added as new variants.
type Action int

const (
	ActionNotify Action = iota + 1
	ActionIrrigationOn
)

// ParseAction maps a stored action name to its Action
func ParseAction(s string) (Action, error) {
	switch strings.TrimSpace(s) {
	case "notify":
		return ActionNotify, nil
	case "irrigation_on":
		return ActionIrrigationOn, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

func (a Action) String() string {
	switch a {
	case ActionNotify:
		return "notify"
	case ActionIrrigationOn:
		return "irrigation_on"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Payload builds the action log payload for a match of rule on reading.
// No actuator is driven; the payload is the logged intent.
func (a Action) Payload(rule model.Rule, reading model.Reading) (map[string]any, error) {
	switch a {
	case ActionNotify:
		return map[string]any{"msg": fmt.Sprintf("Rule '%s' matched", rule.Name)}, nil

	case ActionIrrigationOn:
		duration := defaultIrrigationSeconds
		if raw, ok := rule.ActionParams["duration_sec"]; ok && raw != nil {
			d, err := ParseSeconds(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid duration_sec %v: %w", raw, err)
			}
			duration = d
		}

		var zone any = defaultIrrigationZone
		if raw, ok := rule.ActionParams["zone"]; ok && raw != nil {
			zone = raw
		}

		return map[string]any{
			"duration_sec": duration,
			"zone":         zone,
			"node_id":      reading.NodeID,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownAction, a)
}

// ParseSeconds reads a whole number of seconds from an action parameter.
// Strings are decimal only: "010" is 10 and "0x10" is rejected. A zero
// fraction such as "40.0" is accepted.
func ParseSeconds(v any) (int, error) {
	s, ok := v.(string)
	if !ok {
		return cast.ToIntE(v)
	}

	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if strings.Trim(frac, "0") != "" {
		return 0, fmt.Errorf("%q is not a whole number", s)
	}
	n, err := strconv.Atoi(whole)
	if err != nil {
		return 0, fmt.Errorf("%q is not a decimal integer", s)
	}
	return n, nil
}
