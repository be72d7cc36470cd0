// Package validator checks rule definitions submitted through the admin API
package validator

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/eddielth/edge-ingest/model"
	"github.com/eddielth/edge-ingest/rules"
)

// Validator checks one aspect of a struct
type Validator interface {
	Validate(data interface{}) error
}

// FieldError names the field that failed
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Errors collects every failure of a validation run
type Errors []*FieldError

func (e Errors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// LengthValidator bounds the rune length of a string field
type LengthValidator struct {
	Field string
	Min   int
	Max   int
}

func (lv *LengthValidator) Validate(data interface{}) error {
	field, err := fieldOf(data, lv.Field)
	if err != nil {
		return err
	}
	if field.Kind() != reflect.String {
		return &FieldError{lv.Field, "not a string"}
	}

	n := utf8.RuneCountInString(strings.TrimSpace(field.String()))
	if n < lv.Min || n > lv.Max {
		return &FieldError{lv.Field, fmt.Sprintf("length must be between %d and %d", lv.Min, lv.Max)}
	}
	return nil
}

// ParseValidator accepts a string field when parse accepts it
type ParseValidator struct {
	Field string
	Parse func(string) error
}

func (pv *ParseValidator) Validate(data interface{}) error {
	field, err := fieldOf(data, pv.Field)
	if err != nil {
		return err
	}
	if err := pv.Parse(field.String()); err != nil {
		return &FieldError{pv.Field, err.Error()}
	}
	return nil
}

// FiniteValidator rejects NaN and infinities in a float field
type FiniteValidator struct {
	Field string
}

func (fv *FiniteValidator) Validate(data interface{}) error {
	field, err := fieldOf(data, fv.Field)
	if err != nil {
		return err
	}
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		if f := field.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return &FieldError{fv.Field, "must be a finite number"}
		}
		return nil
	}
	return &FieldError{fv.Field, "not a number"}
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(data interface{}) error

func (f ValidatorFunc) Validate(data interface{}) error { return f(data) }

func fieldOf(data interface{}, name string) (reflect.Value, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("data must be a struct, got %s", v.Kind())
	}

	field := v.FieldByName(name)
	if !field.IsValid() {
		return reflect.Value{}, fmt.Errorf("field %s does not exist", name)
	}
	return field, nil
}

// RuleValidators are applied to every created or updated rule
var RuleValidators = []Validator{
	&LengthValidator{Field: "Name", Min: 3, Max: 120},
	&ParseValidator{Field: "Metric", Parse: func(s string) error { _, err := rules.ParseMetric(s); return err }},
	&ParseValidator{Field: "Operator", Parse: func(s string) error { _, err := rules.ParseOperator(s); return err }},
	&ParseValidator{Field: "Action", Parse: func(s string) error { _, err := rules.ParseAction(s); return err }},
	&FiniteValidator{Field: "Value"},
	ValidatorFunc(validateActionParams),
}

func validateActionParams(data interface{}) error {
	rule, ok := data.(*model.Rule)
	if !ok {
		return nil
	}
	if d, present := rule.ActionParams["duration_sec"]; present {
		n, err := rules.ParseSeconds(d)
		if err != nil || n <= 0 {
			return &FieldError{"ActionParams", "duration_sec must be a positive integer"}
		}
	}
	return nil
}

// Rule runs every rule validator and returns all failures as Errors
func Rule(rule *model.Rule) error {
	var errs Errors
	for _, v := range RuleValidators {
		if err := v.Validate(rule); err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				errs = append(errs, fe)
				continue
			}
			return err
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
