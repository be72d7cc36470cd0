package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eddielth/edge-ingest/model"
)

var (
	ErrUnknownMetric   = errors.New("unknown metric")
	ErrUnknownOperator = errors.New("unknown operator")
	ErrUnknownAction   = errors.New("unknown action")
)

// Metric selects one optional numeric field of a reading
type Metric int

const (
	MetricTemperature Metric = iota + 1
	MetricHumidity
	MetricSoilMoisture
)

// ParseMetric maps a stored metric name to its Metric
func ParseMetric(s string) (Metric, error) {
	switch strings.TrimSpace(s) {
	case "temperature_c":
		return MetricTemperature, nil
	case "humidity_pct":
		return MetricHumidity, nil
	case "soil_moisture_pct":
		return MetricSoilMoisture, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

func (m Metric) String() string {
	switch m {
	case MetricTemperature:
		return "temperature_c"
	case MetricHumidity:
		return "humidity_pct"
	case MetricSoilMoisture:
		return "soil_moisture_pct"
	}
	return fmt.Sprintf("Metric(%d)", int(m))
}

// Resolve returns the metric value on r, nil when the node did not report it
func (m Metric) Resolve(r model.Reading) *float64 {
	switch m {
	case MetricTemperature:
		return r.TemperatureC
	case MetricHumidity:
		return r.HumidityPct
	case MetricSoilMoisture:
		return r.SoilMoisturePct
	}
	return nil
}

// Operator is a relational comparison between a metric and a threshold
type Operator int

const (
	OpLess Operator = iota + 1
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpEqual
	OpNotEqual
)

// ParseOperator accepts the ASCII forms and their unicode equivalents
func ParseOperator(s string) (Operator, error) {
	switch strings.TrimSpace(s) {
	case "<":
		return OpLess, nil
	case "<=", "≤":
		return OpLessEqual, nil
	case ">":
		return OpGreater, nil
	case ">=", "≥":
		return OpGreaterEqual, nil
	case "==", "=":
		return OpEqual, nil
	case "!=", "≠":
		return OpNotEqual, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperator, s)
}

func (o Operator) String() string {
	switch o {
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// Apply compares a against b. Equality is exact, no tolerance.
func (o Operator) Apply(a, b float64) (bool, error) {
	switch o {
	case OpLess:
		return a < b, nil
	case OpLessEqual:
		return a <= b, nil
	case OpGreater:
		return a > b, nil
	case OpGreaterEqual:
		return a >= b, nil
	case OpEqual:
		return a == b, nil
	case OpNotEqual:
		return a != b, nil
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownOperator, o)
}
