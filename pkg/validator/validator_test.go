package validator

import (
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type passwordForm struct {
	NewPassword     string `form:"new_password" validate:"required,min=6"`
	ConfirmPassword string `form:"confirm_password" validate:"required,eqfield=NewPassword"`
	Code            string `json:"code" validate:"omitempty,even"`
}

func (passwordForm) ValidationMessages() map[string]string {
	return map[string]string{"confirm_password.eqfield": "Passwords do not match"}
}

func newValidate(t *testing.T) *validator.Validate {
	v := validator.New()
	require.NoError(t, Register(v, map[string]validator.Func{
		"even": func(fl validator.FieldLevel) bool { return len(fl.Field().String())%2 == 0 },
	}))
	return v
}

func TestMessagesUseOverridesAndFieldNames(t *testing.T) {
	v := newValidate(t)

	form := passwordForm{NewPassword: "abc", ConfirmPassword: "abd", Code: "x"}
	msgs := Messages(v.Struct(form), form)

	assert.Equal(t, "New password is too short", msgs["new_password"])
	assert.Equal(t, "Passwords do not match", msgs["confirm_password"])
	assert.Equal(t, "Code is invalid", msgs["code"])
}

func TestMessagesPassesThroughOtherErrors(t *testing.T) {
	assert.Nil(t, Messages(nil, nil))
	msgs := Messages(assert.AnError, nil)
	assert.Equal(t, assert.AnError.Error(), msgs[""])
}

func TestValidFormHasNoMessages(t *testing.T) {
	v := newValidate(t)
	form := passwordForm{NewPassword: "secret1", ConfirmPassword: "secret1", Code: "ab"}
	assert.NoError(t, v.Struct(form))
}
