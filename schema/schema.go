// Package schema wraps the JSON Schema validation capability behind a small
// interface the router and client treat as opaque: validate a value, get back
// the parsed value or a structured issue list. Contract definitions reference
// Schema values; nothing else in the system knows what a schema looks like
// inside.
package schema

import (
	"github.com/xeipuuv/gojsonschema"

	"github.com/ricsam/richie-rpc-sub000/errors"
)

// Schema is the opaque validation capability. Validate returns the parsed
// value on success. A non-empty issue list means validation failed; the
// returned value is undefined in that case.
type Schema interface {
	Validate(value any) (any, []errors.Issue)
}

// Validate runs a schema against a value, treating a nil schema as "no
// validation declared": the value passes through untouched.
func Validate(s Schema, value any) (any, []errors.Issue) {
	if s == nil {
		return value, nil
	}
	return s.Validate(value)
}

// jsonSchema validates values against a compiled JSON Schema document.
type jsonSchema struct {
	compiled *gojsonschema.Schema
}

// JSON compiles a JSON Schema document into a Schema. The raw string must be
// a valid JSON Schema; compilation failures are construction-time errors.
func JSON(raw string) (Schema, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return nil, errors.WrapInvalid(err, "schema", "JSON", "schema compilation")
	}
	return &jsonSchema{compiled: compiled}, nil
}

// MustJSON is like JSON but panics on compilation failure. Intended for
// package-level contract declarations where a bad schema is a programming
// error.
func MustJSON(raw string) Schema {
	s, err := JSON(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate implements Schema.
func (js *jsonSchema) Validate(value any) (any, []errors.Issue) {
	result, err := js.compiled.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return nil, []errors.Issue{{Message: err.Error()}}
	}
	if !result.Valid() {
		issues := make([]errors.Issue, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, errors.Issue{
				Path:    desc.Field(),
				Message: desc.Description(),
			})
		}
		return nil, issues
	}
	return value, nil
}

// funcSchema adapts a plain function into a Schema. Useful for custom parsers
// and for tests.
type funcSchema struct {
	fn func(value any) (any, []errors.Issue)
}

// Func wraps a validation function as a Schema.
func Func(fn func(value any) (any, []errors.Issue)) Schema {
	return &funcSchema{fn: fn}
}

// Validate implements Schema.
func (fs *funcSchema) Validate(value any) (any, []errors.Issue) {
	return fs.fn(value)
}

// anySchema accepts every value unchanged.
type anySchema struct{}

// Any returns a Schema that accepts any value. Equivalent to declaring no
// schema, but usable where a non-nil Schema is required for readability.
func Any() Schema {
	return anySchema{}
}

// Validate implements Schema.
func (anySchema) Validate(value any) (any, []errors.Issue) {
	return value, nil
}
