// Package validator wraps go-playground/validator/v10 for EndpointConfiguration
// validation (spec.md's ConfigurationError path, evaluated once at startup,
// never rendered to an end user — so, unlike the teacher's HTTP-facing
// validator, no locale/translation machinery is carried here).
package validator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// V10Validator implements struct validation using go-playground/validator v10.
type V10Validator struct {
	validate *validator.Validate
}

// V10ValidationError is a field-to-message map returned when validation fails.
type V10ValidationError map[string]string

func (vs V10ValidationError) Error() string {
	if len(vs) == 0 {
		return "validation error"
	}
	b, err := json.Marshal(vs)
	if err != nil {
		return fmt.Sprintf("validation error (failed to marshal: %v)", err)
	}
	return string(b)
}

// Values returns the field error map.
func (vs V10ValidationError) Values() map[string]string {
	return vs
}

// NewV10Validator constructs a V10Validator with Silverback's custom rules.
func NewV10Validator() (*V10Validator, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	v10CustomValidation(validate)
	return &V10Validator{validate: validate}, nil
}

// Validate validates data, returning a V10ValidationError keyed by struct
// field name on failure.
func (v *V10Validator) Validate(data any) error {
	if err := v.validate.Struct(data); err != nil {
		var validateErrs validator.ValidationErrors
		if !errors.As(err, &validateErrs) {
			return err
		}

		errV10 := make(V10ValidationError)
		for _, fe := range validateErrs {
			errV10[fe.Field()] = fmt.Sprintf("failed %q validation", fe.Tag())
		}
		return errV10
	}
	return nil
}

// v10CustomValidation registers the "endpointname" rule: endpoint raw names
// must be non-empty and free of whitespace, since they round-trip through
// outbox persistence and broker topic/subject naming.
func v10CustomValidation(validate *validator.Validate) {
	validate.RegisterValidation("endpointname", func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		if !ok || s == "" {
			return false
		}
		for _, r := range s {
			if r == ' ' || r == '\t' || r == '\n' {
				return false
			}
		}
		return true
	})
}
