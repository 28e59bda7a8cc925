package models

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// RegisterWithValidator registers the custom content validations.
func RegisterWithValidator(v *validator.Validate) error {
	return v.RegisterValidation("news_status", func(fl validator.FieldLevel) bool {
		return Status(fl.Field().String()).Valid()
	})
}

// NewValidator returns a validator with the content rules registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterWithValidator(v); err != nil {
		panic(err)
	}
	return v
}

// CheckItem validates one record and reports the failing fields.
func CheckItem(v *validator.Validate, id string, record interface{}) error {
	err := v.Struct(record)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := &ValidationError{ItemID: id}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, fe.Namespace()+":"+fe.Tag())
	}
	return out
}
