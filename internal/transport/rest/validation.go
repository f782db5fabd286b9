package rest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/baechuer/tablebook/internal/classify"
	"github.com/baechuer/tablebook/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// report json names, not Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("nonblank", validateNonBlank)
	_ = v.RegisterValidation("schedule_date", validateScheduleDate)
	_ = v.RegisterValidation("clock", validateClock)
	return v
}

func validateNonBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// validateScheduleDate checks the MM/DD/YYYY shape only; the service checks
// the date against the clock and store hours.
func validateScheduleDate(fl validator.FieldLevel) bool {
	_, err := classify.ParseScheduleStrict(fl.Field().String(), "", time.UTC)
	return err == nil
}

func validateClock(fl validator.FieldLevel) bool {
	_, err := classify.ParseScheduleStrict("01/01/2000", fl.Field().String(), time.UTC)
	return err == nil
}

// validateRequest returns a *domain.ValidationError keyed by json field.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &domain.ValidationError{Fields: map[string]string{"body": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = formatFieldError(fe)
	}
	return &domain.ValidationError{Fields: fields}
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "nonblank":
		return "required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "schedule_date":
		return "expected MM/DD/YYYY"
	case "clock":
		return "expected HH:MM AM/PM"
	default:
		return "invalid"
	}
}
