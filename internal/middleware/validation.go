package middleware

import (
	"errors"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/clinic-portal/internal/availability"
	pkgvalidator "github.com/jwalitptl/clinic-portal/pkg/validator"
)

// FormRules are the custom binding tags used by the portal forms.
func FormRules() map[string]validator.Func {
	return map[string]validator.Func{
		"weekday": func(fl validator.FieldLevel) bool {
			return availability.IsBookableDate(fl.Field().String())
		},
		"clock": func(fl validator.FieldLevel) bool {
			_, err := availability.ParseClock(fl.Field().String())
			return err == nil
		},
	}
}

// RegisterValidators installs FormRules on gin's binding validator so that
// ShouldBind reports failures by form field name.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("binding validator is not go-playground/validator")
	}
	return pkgvalidator.Register(v, FormRules())
}
