package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct using its `validate` tags
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, tag); err != nil {
			return fmt.Errorf("%s: %w", fieldType.Name, err)
		}
	}

	return nil
}

// validateField validates a single field against its tag rules
func (v *Validator) validateField(field reflect.Value, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		rule = strings.TrimSpace(rule)

		switch {
		case rule == "required":
			if isZero(field) {
				return fmt.Errorf("is required")
			}

		case rule == "email":
			s := field.String()
			if s != "" && (!strings.Contains(s, "@") || !strings.Contains(s, ".")) {
				return fmt.Errorf("must be a valid email address")
			}

		case strings.HasPrefix(rule, "min="):
			n, err := strconv.Atoi(strings.TrimPrefix(rule, "min="))
			if err != nil {
				continue
			}
			if err := checkMin(field, n); err != nil {
				return err
			}

		case strings.HasPrefix(rule, "max="):
			n, err := strconv.Atoi(strings.TrimPrefix(rule, "max="))
			if err != nil {
				continue
			}
			if err := checkMax(field, n); err != nil {
				return err
			}
		}
	}

	return nil
}

func isZero(field reflect.Value) bool {
	switch field.Kind() {
	case reflect.String:
		return strings.TrimSpace(field.String()) == ""
	case reflect.Slice, reflect.Map:
		return field.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return field.IsNil()
	default:
		return field.IsZero()
	}
}

func checkMin(field reflect.Value, n int) error {
	switch field.Kind() {
	case reflect.String:
		if field.String() != "" && len(field.String()) < n {
			return fmt.Errorf("must be at least %d characters", n)
		}
	case reflect.Slice:
		if field.Len() < n {
			return fmt.Errorf("must have at least %d elements", n)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Int() < int64(n) {
			return fmt.Errorf("must be at least %d", n)
		}
	}
	return nil
}

func checkMax(field reflect.Value, n int) error {
	switch field.Kind() {
	case reflect.String:
		if len(field.String()) > n {
			return fmt.Errorf("must be at most %d characters", n)
		}
	case reflect.Slice:
		if field.Len() > n {
			return fmt.Errorf("must have at most %d elements", n)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Int() > int64(n) {
			return fmt.Errorf("must be at most %d", n)
		}
	}
	return nil
}
