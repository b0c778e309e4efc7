package document

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation is matched by every ValidationError. Validation failures are
	// never retried: the catalog data has to be fixed first.
	ErrValidation = errors.New("document validation failed")

	// ErrAccessKey is returned when access key fields cannot produce a 44 digit key.
	ErrAccessKey = errors.New("invalid access key fields")
)

// FieldError describes one rejected field.
type FieldError struct {
	Field   string
	Value   interface{}
	Message string
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s (value: %v)", f.Field, f.Message, f.Value)
}

// ValidationError lists every field that prevented a document from being built.
type ValidationError struct {
	ContractID uint
	Fields     []FieldError
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("contract %d: validation failed: %s", e.ContractID, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Add records a field failure.
func (e *ValidationError) Add(field string, value interface{}, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Value: value, Message: message})
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}
