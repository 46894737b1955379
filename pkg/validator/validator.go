package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Messenger lets a form override messages per "field.tag".
type Messenger interface {
	ValidationMessages() map[string]string
}

var defaultMessages = map[string]string{
	"required": "%s is required",
	"email":    "%s must be a valid email address",
	"min":      "%s is too short",
	"max":      "%s is too long",
	"gt":       "%s must be greater than zero",
	"oneof":    "%s has an invalid value",
	"eqfield":  "%s does not match",
	"datetime": "%s must be a date (YYYY-MM-DD)",
	"clock":    "%s must be a time (HH:MM)",
	"weekday":  "%s must be a weekday",
}

// Register installs the custom tags and reports fields by their form/json name.
// It is idempotent per validator instance.
func Register(v *validator.Validate, rules map[string]validator.Func) error {
	v.RegisterTagNameFunc(fieldName)
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

func fieldName(fld reflect.StructField) string {
	for _, tag := range []string{"form", "json"} {
		name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
		if name != "" && name != "-" {
			return name
		}
	}
	return fld.Name
}

// Messages turns a validation failure into one message per field. Errors that
// are not validation failures come back under the "" key.
func Messages(err error, form any) map[string]string {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"": err.Error()}
	}

	var overrides map[string]string
	if m, ok := form.(Messenger); ok {
		overrides = m.ValidationMessages()
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		if msg, ok := overrides[field+"."+fe.Tag()]; ok {
			out[field] = msg
			continue
		}
		format, ok := defaultMessages[fe.Tag()]
		if !ok {
			format = "%s is invalid"
		}
		out[field] = fmt.Sprintf(format, humanize(field))
	}
	return out
}

func humanize(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
