// Package validation wraps a shared go-playground validator instance and
// translates its failures into apperr.ValidationError.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"leadflow/internal/apperr"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// loose shape check for referral codes arriving from the outside; the
// prefix-aware pattern is enforced by the partners package after normalization
var refCodeShape = regexp.MustCompile(`(?i)^[a-z0-9]{2,10}-[a-z0-9]{4,10}$`)

func get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("refcode", func(fl validator.FieldLevel) bool {
			return refCodeShape.MatchString(strings.TrimSpace(fl.Field().String()))
		})
	})
	return validate
}

// Struct validates s and returns the first failing field as a ValidationError.
func Struct(s any) error {
	err := get().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return apperr.NewValidationError(toSnake(fe.Field()), reason(fe))
	}
	return apperr.NewValidationError("input", err.Error())
}

// Var validates a single value against a tag expression.
func Var(field string, value any, tag string) error {
	if err := get().Var(value, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.NewValidationError(field, reason(verrs[0]))
		}
		return apperr.NewValidationError(field, err.Error())
	}
	return nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "refcode":
		return "must look like PREFIX-XXXX"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
