package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// requestValidator lets echo run go-playground/validator through c.Validate.
// Field names in messages are the JSON names the client sent.
type requestValidator struct {
	v *validator.Validate
}

// NewValidator returns the validator assigned to echo.Echo.Validator.
func NewValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return &requestValidator{v: v}
}

func (rv *requestValidator) Validate(i any) error {
	err := rv.v.Struct(i)
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	msgs := make([]string, len(ve))
	for n, fe := range ve {
		msgs[n] = describe(fe)
	}
	return errors.New(strings.Join(msgs, "; "))
}

// describe turns one failed rule into a sentence about the request field.
func describe(fe validator.FieldError) string {
	f, p := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "gte":
		return fmt.Sprintf("%s must be >= %s", f, p)
	case "lte":
		return fmt.Sprintf("%s must be <= %s", f, p)
	case "max":
		return fmt.Sprintf("%s is longer than %s characters", f, p)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", f, strings.ReplaceAll(p, " ", ", "))
	}
	return fmt.Sprintf("%s is invalid (%s)", f, fe.Tag())
}
