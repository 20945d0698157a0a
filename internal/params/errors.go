package params

import (
	"fmt"
	"sort"
	"strings"
)

// Error codes carried on field errors. Handlers use these to shape API
// responses without parsing messages.
const (
	CodeMissing   = "MissingParameter"
	CodeInvalid   = "InvalidParameter"
	CodeUnknown   = "UnknownParameter"
	CodeDuplicate = "Duplicate"
)

// FieldError reports one invalid or missing request field. Invalid
// optionally carries the offending values when several were rejected at
// once (e.g. a list of unknown network UUIDs).
type FieldError struct {
	Field   string   `json:"field"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Invalid []string `json:"invalid,omitempty"`
}

func (e *FieldError) Error() string {
	if len(e.Invalid) > 0 {
		return fmt.Sprintf("%s: %s (%s)", e.Field, e.Message, strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Missing creates the error for a required field absent from the input.
func Missing(field string) *FieldError {
	return &FieldError{Field: field, Code: CodeMissing, Message: "Missing parameter"}
}

// Invalid creates an invalid-parameter error for a field.
func Invalid(field, msg string, invalid ...string) *FieldError {
	return &FieldError{Field: field, Code: CodeInvalid, Message: msg, Invalid: invalid}
}

// Unknown creates the error for an unrecognized field in strict mode.
func Unknown(field string) *FieldError {
	return &FieldError{Field: field, Code: CodeUnknown, Message: "Unknown parameter"}
}

// ValidationError aggregates every field error found in one validation pass
// so a single response can report them all.
type ValidationError struct {
	Errors []*FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Error())
	}
	return "invalid parameters: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the aggregated field errors to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe
	}
	return out
}

// sortErrors orders field errors by field name for stable output.
func sortErrors(errs []*FieldError) {
	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Field < errs[j].Field
	})
}

// AsFieldError converts err to a FieldError against the given field. A
// *FieldError passes through (its field defaulted if unset); anything else
// becomes an InvalidParameter with the error text as message.
func AsFieldError(field string, err error) *FieldError {
	if fe, ok := err.(*FieldError); ok {
		if fe.Field == "" {
			fe.Field = field
		}
		return fe
	}
	return Invalid(field, err.Error())
}
