// Package errors defines the error taxonomy shared by every public
// operation of the instrumentation engine.
package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Category classifies an engine failure
type Category string

const (
	// Validation is an invalid argument (nil, wrong type, empty string)
	Validation Category = "validation"

	// IO is a read/write/stat failure
	IO Category = "io"

	// Parse is a syntactic or lexical malformation of the Lua input
	Parse Category = "parse"

	// Transform is a transformer precondition violation or unexpected AST shape
	Transform Category = "transform"

	// Codegen is an unsupported node reached during serialization
	Codegen Category = "codegen"

	// NotFound means a map lookup target has no mapping
	NotFound Category = "not_found"

	// Runtime is a serialization/deserialization protocol failure
	Runtime Category = "runtime"
)

// Error carries a category, a message, and a context dictionary
// (path, line, pattern, ...). It wraps an optional cause.
type Error struct {
	Category Category
	Message  string
	Context  map[string]interface{}
	Err      error
}

// New creates an error with the given category and message
func New(cat Category, msg string) *Error {
	return &Error{Category: cat, Message: msg}
}

// Newf creates an error with a formatted message
func Newf(cat Category, format string, args ...interface{}) *Error {
	return &Error{Category: cat, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a category and message to an underlying cause
func Wrap(cat Category, err error, msg string) *Error {
	return &Error{Category: cat, Message: msg, Err: err}
}

// With adds a context key and returns the error for chaining
func (e *Error) With(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Category))
	sb.WriteString(" error: ")
	sb.WriteString(e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
		}
		sb.WriteString(")")
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors by category, so callers can use errors.Is with a
// bare New(Category, "") sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Category == e.Category && (t.Message == "" || t.Message == e.Message)
}

// CategoryOf returns the category of err, or empty when err is not an
// engine error.
func CategoryOf(err error) Category {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Category
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// IsCategory reports whether err carries the given category
func IsCategory(err error, cat Category) bool {
	return CategoryOf(err) == cat
}
