package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidBody is returned when the request body is not the expected JSON.
var ErrInvalidBody = errors.New("invalid JSON body")

// ValidationErrors maps a JSON field name to a user facing message.
type ValidationErrors map[string]string

func (e ValidationErrors) Error() string {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e[k])
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Fields() map[string]string {
	return e
}

// Validator wraps the go-playground validator
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator that reports JSON field names.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{validate: v}
}

// ValidateStruct validates a struct using struct tags
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return FormatValidationErrors(verrs)
	}
	return err
}

// Decode unmarshals body into dst and validates it.
func (v *Validator) Decode(body []byte, dst interface{}) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", ErrInvalidBody)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return ValidationErrors{typeErr.Field: fmt.Sprintf("%s must be %s", typeErr.Field, describeKind(typeErr.Type))}
		}
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return v.ValidateStruct(dst)
}

func describeKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Map, reflect.Struct:
		return "an object"
	case reflect.Bool:
		return "a boolean"
	case reflect.String:
		return "a string"
	default:
		return "a number"
	}
}

// fieldPath names nested fields by their JSON path, e.g. files[0].name.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return e.Field()
}

// FormatValidationErrors converts validation errors to a user-friendly format
func FormatValidationErrors(errs validator.ValidationErrors) ValidationErrors {
	out := make(ValidationErrors, len(errs))
	for _, e := range errs {
		field := fieldPath(e)
		switch e.Tag() {
		case "required":
			out[field] = fmt.Sprintf("%s is required", field)
		case "min":
			out[field] = fmt.Sprintf("%s must have at least %s items", field, e.Param())
		case "max":
			out[field] = fmt.Sprintf("%s must have at most %s items", field, e.Param())
		case "gte":
			out[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, e.Param())
		case "lte":
			out[field] = fmt.Sprintf("%s must be less than or equal to %s", field, e.Param())
		case "notblank":
			out[field] = fmt.Sprintf("%s must not be blank", field)
		default:
			out[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}
