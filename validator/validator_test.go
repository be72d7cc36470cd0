package validator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddielth/edge-ingest/model"
)

func validRule() *model.Rule {
	return &model.Rule{
		Name:     "Hot greenhouse",
		Enabled:  true,
		Metric:   "temperature_c",
		Operator: ">",
		Value:    30,
		Action:   "notify",
	}
}

func TestRule_Valid(t *testing.T) {
	assert.NoError(t, Rule(validRule()))

	r := validRule()
	r.Operator = "≥"
	r.Action = "irrigation_on"
	r.ActionParams = map[string]any{"duration_sec": "40", "zone": "B"}
	assert.NoError(t, Rule(r))
}

func TestRule_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *model.Rule)
		field  string
	}{
		{"short name", func(r *model.Rule) { r.Name = "ab" }, "Name"},
		{"blank name", func(r *model.Rule) { r.Name = "     " }, "Name"},
		{"long name", func(r *model.Rule) { r.Name = string(make([]byte, 121)) }, "Name"},
		{"unknown metric", func(r *model.Rule) { r.Metric = "pressure" }, "Metric"},
		{"unknown operator", func(r *model.Rule) { r.Operator = "~" }, "Operator"},
		{"unknown action", func(r *model.Rule) { r.Action = "sms" }, "Action"},
		{"nan value", func(r *model.Rule) { r.Value = math.NaN() }, "Value"},
		{"bad duration", func(r *model.Rule) { r.ActionParams = map[string]any{"duration_sec": "soon"} }, "ActionParams"},
		{"negative duration", func(r *model.Rule) { r.ActionParams = map[string]any{"duration_sec": -5} }, "ActionParams"},
		{"hex duration", func(r *model.Rule) { r.ActionParams = map[string]any{"duration_sec": "0x10"} }, "ActionParams"},
		{"fractional duration", func(r *model.Rule) { r.ActionParams = map[string]any{"duration_sec": "1.5"} }, "ActionParams"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			tt.mutate(r)

			err := Rule(r)
			require.Error(t, err)
			var errs Errors
			require.ErrorAs(t, err, &errs)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.field, errs[0].Field)
		})
	}
}

func TestRule_CollectsAllErrors(t *testing.T) {
	err := Rule(&model.Rule{Name: "x", Metric: "?", Operator: "?", Action: "?"})
	var errs Errors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 4)
	assert.Contains(t, err.Error(), "Name: length must be between 3 and 120")
}

func TestFieldOf_NotAStruct(t *testing.T) {
	err := (&LengthValidator{Field: "Name", Min: 1, Max: 2}).Validate("plain string")
	assert.Error(t, err)

	err = (&LengthValidator{Field: "Missing", Min: 1, Max: 2}).Validate(validRule())
	assert.EqualError(t, err, "field Missing does not exist")
}
