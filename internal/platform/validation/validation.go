// Package validation wraps go-playground/validator so that struct tag
// violations are reported with JSON field names in a single readable error.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one violated constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error lists every field that failed validation.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return strings.Join(parts, "; ")
}

// Validator validates structs using `validate` tags.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

// RegisterStructValidation adds a cross-field rule for the given struct
// types. Rules report failures with sl.ReportError and are rendered like tag
// failures.
func (cv *Validator) RegisterStructValidation(fn validator.StructLevelFunc, types ...any) {
	cv.v.RegisterStructValidation(fn, types...)
}

// Struct validates s. Constraint violations are returned as *Error; any
// other failure (such as a non-struct argument) is returned unchanged.
func (cv *Validator) Struct(s any) error {
	err := cv.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "finite":
		return "must be a finite number"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
