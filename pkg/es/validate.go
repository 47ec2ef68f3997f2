package es

import (
	"fmt"
	"reflect"
	"strings"

	pkgerrors "github.com/angelmondragon/eventcore/pkg/errors"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})
	return v
}

// ValidateEnvelope checks the envelope fields and, for struct events, any
// `validate` tags declared on the event itself.
func ValidateEnvelope(env Envelope) error {
	if err := validate.Struct(env); err != nil {
		return formatValidationErrors(err, "invalid event envelope")
	}
	if env.Event != nil && env.Event.EventType() != env.EventType {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid event envelope").
			WithDetails(map[string]string{"EventType": fmt.Sprintf("does not match event (%s)", env.Event.EventType())})
	}
	if isStruct(env.Event) {
		if err := validate.Struct(env.Event); err != nil {
			return formatValidationErrors(err, "invalid event "+env.EventType)
		}
	}
	return nil
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}

func formatValidationErrors(err error, message string) *pkgerrors.Error {
	if errs, ok := err.(validator.ValidationErrors); ok {
		details := map[string]string{}
		for _, fieldErr := range errs {
			details[fieldErr.Field()] = validationMessage(fieldErr)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, message).WithDetails(details)
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, message)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return "is invalid"
}
