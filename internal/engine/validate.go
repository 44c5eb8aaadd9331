package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateConfig checks the config against the series it will be applied to.
func ValidateConfig(series models.TimeSeries, cfg models.ModelConfig) error {
	if err := series.Validate(); err != nil {
		return &InvalidConfigError{Field: "series", Reason: err.Error()}
	}
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &InvalidConfigError{Field: fieldPath(fe), Reason: validationMessage(fe)}
		}
		return &InvalidConfigError{Reason: err.Error()}
	}
	n := series.Len()
	if cfg.NumChangePoints >= n-1 {
		return &InvalidConfigError{
			Field:  "NumChangePoints",
			Reason: fmt.Sprintf("must be less than series length - 1 (%d), got %d", n-1, cfg.NumChangePoints),
		}
	}
	return nil
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		return ns[idx+1:]
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "gt":
		return fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s, got %v", fe.Param(), fe.Value())
	case "lt":
		return fmt.Sprintf("must be less than %s, got %v", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s, got %v", fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
