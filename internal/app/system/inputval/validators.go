package inputval

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dalemusser/familyspace/internal/domain/models"
)

// FieldError is one failed rule on one field.
type FieldError struct {
	Field   string
	Rule    string
	Message string
}

// Result collects the errors from Validate.
type Result struct {
	Errors []FieldError
}

// HasErrors reports whether any rule failed.
func (r *Result) HasErrors() bool { return len(r.Errors) > 0 }

// First returns the first error message, or "".
func (r *Result) First() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// All joins every error message with "; ".
func (r *Result) All() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the string fields of struct v against their `validate`
// tags. The `label` tag names the field in messages.
//
// Rules: required, min=N, max=N (runes), email, objectid, oneof=a b c,
// claimtype, votetype. Empty values skip every rule except required.
func Validate(v any) *Result {
	res := &Result{}
	rv := reflect.Indirect(reflect.ValueOf(v))
	if rv.Kind() != reflect.Struct {
		return res
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		tag := f.Tag.Get("validate")
		if tag == "" || f.Type.Kind() != reflect.String {
			continue
		}
		label := f.Tag.Get("label")
		if label == "" {
			label = f.Name
		}
		val := strings.TrimSpace(rv.Field(i).String())
		for _, rule := range strings.Split(tag, ",") {
			name, arg, _ := strings.Cut(rule, "=")
			if msg := check(name, arg, label, val); msg != "" {
				res.Errors = append(res.Errors, FieldError{Field: f.Name, Rule: name, Message: msg})
				break
			}
		}
	}
	return res
}

func check(rule, arg, label, val string) string {
	if rule == "required" {
		if val == "" {
			return label + " is required."
		}
		return ""
	}
	if val == "" {
		return ""
	}
	switch rule {
	case "min":
		n, _ := strconv.Atoi(arg)
		if utf8.RuneCountInString(val) < n {
			return fmt.Sprintf("%s must be at least %d characters.", label, n)
		}
	case "max":
		n, _ := strconv.Atoi(arg)
		if utf8.RuneCountInString(val) > n {
			return fmt.Sprintf("%s must be at most %d characters.", label, n)
		}
	case "email":
		if !IsValidEmail(val) {
			return "A valid email address is required."
		}
	case "objectid":
		if !IsValidObjectID(val) {
			return label + " is not a valid id."
		}
	case "oneof":
		for _, opt := range strings.Fields(arg) {
			if strings.EqualFold(val, opt) {
				return ""
			}
		}
		return fmt.Sprintf("%s must be one of: %s.", label, strings.Join(strings.Fields(arg), ", "))
	case "claimtype":
		if !models.ClaimType(strings.ToLower(val)).Valid() {
			return fmt.Sprintf("%s must be %q or %q.", label, models.ClaimTypeEndorsement, models.ClaimTypeEmailChallenge)
		}
	case "votetype":
		if !models.EndorsementType(strings.ToLower(val)).Valid() {
			return fmt.Sprintf("%s must be %q or %q.", label, models.EndorsementSupport, models.EndorsementOppose)
		}
	}
	return ""
}
