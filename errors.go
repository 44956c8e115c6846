package anycaps

import (
	"fmt"

	"github.com/pkg/errors"
)

// A ConfigError reports an invalid construction-time
// option.
// It is always fatal: nothing should be evaluated with
// the offending configuration.
type ConfigError struct {
	Field  string
	Reason string
}

// NewConfigError creates a ConfigError with a stack
// trace attached.
// Use errors.Cause to recover the *ConfigError.
func NewConfigError(field, format string, args ...interface{}) error {
	return errors.WithStack(&ConfigError{
		Field:  field,
		Reason: fmt.Sprintf(format, args...),
	})
}

// Error returns the error message.
func (c *ConfigError) Error() string {
	return "invalid " + c.Field + ": " + c.Reason
}

// A ShapeError reports a tensor whose size disagrees with
// the tensors it is combined with.
type ShapeError struct {
	Name     string
	Shape    []int
	Expected int
	Actual   int
}

// CheckShape returns a ShapeError if actual is not the
// number of components implied by shape.
func CheckShape(name string, actual int, shape ...int) error {
	expected := 1
	for _, x := range shape {
		expected *= x
	}
	if expected == actual {
		return nil
	}
	return errors.WithStack(&ShapeError{
		Name:     name,
		Shape:    shape,
		Expected: expected,
		Actual:   actual,
	})
}

// Error returns the error message.
func (s *ShapeError) Error() string {
	return fmt.Sprintf("%s: expected shape %v (%d components) but got %d components",
		s.Name, s.Shape, s.Expected, s.Actual)
}
