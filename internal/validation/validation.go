// Package validation evaluates request payloads against static, declarative
// rule sets and reports failures as a field -> message mapping. Empty map
// means the payload is acceptable.
package validation

import (
	"fmt"
	"net/url"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

type Rule struct {
	Validator func(value string) bool
	Message   string
	Required  bool
}

type Rules map[string]Rule

// Body checks a request body payload. Every declared field is required:
// a missing field is always an error.
func Body(payload map[string]string, rules Rules) map[string]string {
	errors := make(map[string]string)
	for field, rule := range rules {
		value, ok := payload[field]
		if !ok || !rule.Validator(value) {
			errors[field] = message(rule, field)
		}
	}
	return errors
}

// Query checks URL query parameters. Required params are checked for
// presence first; if any is missing no further validation happens.
// Params without a declared rule are rejected.
func Query(query url.Values, rules Rules) map[string]string {
	errors := make(map[string]string)

	for field, rule := range rules {
		if rule.Required && !query.Has(field) {
			errors[field] = fmt.Sprintf("Missing %s", field)
		}
	}
	if len(errors) > 0 {
		return errors
	}

	for param := range query {
		rule, ok := rules[param]
		if !ok || !rule.Validator(query.Get(param)) {
			errors[param] = message(rule, param)
		}
	}
	return errors
}

func message(rule Rule, field string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fmt.Sprintf("Invalid %s", field)
}

// Predicates are pure functions over string input. Format checks are
// delegated to go-playground/validator.

var validate = validator.New(validator.WithRequiredStructEnabled())

func IsEmail(value string) bool {
	return validate.Var(value, "required,email") == nil
}

func LengthBetween(min, max int) func(string) bool {
	return func(value string) bool {
		n := utf8.RuneCountInString(value)
		return n >= min && n <= max
	}
}

func NotEmpty(value string) bool {
	return value != ""
}
