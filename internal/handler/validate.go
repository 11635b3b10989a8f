package handler

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/concert-ticketing/internal/apperr"
)

// validate is shared by all handlers; validator caches struct metadata.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// bind decodes the request body into v and checks its validate tags. Both
// failures surface as INVALID_REQUEST naming the first offending field.
func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperr.Invalid("invalid request body")
	}
	if err := validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Invalid("invalid request body")
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required", "required_without":
		return apperr.Invalid(fe.Field() + " is required")
	case "max":
		return apperr.Invalid(fe.Field() + " must be at most " + fe.Param() + " characters")
	default:
		return apperr.Invalid("invalid " + fe.Field())
	}
}
