package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type signupRequest struct {
	Email    string   `validate:"required,email"`
	Password string   `validate:"required,min=8"`
	Name     string   `validate:"required,max=64"`
	Tags     []string `validate:"max=3"`
	Age      int      `validate:"min=13"`
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	valid := signupRequest{Email: "dev@example.com", Password: "longenough", Name: "Dev", Age: 30}
	assert.NoError(t, v.Validate(&valid))
	assert.NoError(t, v.Validate(valid))

	cases := []struct {
		name    string
		mutate  func(*signupRequest)
		message string
	}{
		{"missing email", func(r *signupRequest) { r.Email = "" }, "Email: is required"},
		{"whitespace only", func(r *signupRequest) { r.Name = "   " }, "Name: is required"},
		{"bad email", func(r *signupRequest) { r.Email = "not-an-email" }, "valid email"},
		{"short password", func(r *signupRequest) { r.Password = "short" }, "at least 8"},
		{"too many tags", func(r *signupRequest) { r.Tags = []string{"a", "b", "c", "d"} }, "at most 3"},
		{"too young", func(r *signupRequest) { r.Age = 12 }, "at least 13"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			err := v.Validate(&r)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.message)
		})
	}
}

func TestValidator_NonStruct(t *testing.T) {
	assert.Error(t, NewValidator().Validate("not a struct"))
}
