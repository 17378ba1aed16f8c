package dynacrud

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors for the error taxonomy.
var (
	// ErrInvalidModel is returned when a model name does not resolve to a delegate.
	ErrInvalidModel = errors.New("dynacrud: invalid model")

	// ErrNotFound is returned when a target record does not exist.
	ErrNotFound = errors.New("dynacrud: record not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("dynacrud: conflict")

	// ErrBadRequest is returned for any other delegate-level failure.
	ErrBadRequest = errors.New("dynacrud: bad request")
)

// Client-facing error codes returned by Code.
const (
	CodeBadUserInput = "BAD_USER_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeBadRequest   = "BAD_REQUEST"
	CodeInternal     = "INTERNAL_SERVER_ERROR"
)

// InvalidModelError represents a model name that is not registered.
type InvalidModelError struct {
	Model string
}

// Error returns the error string.
func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("dynacrud: invalid model %q", e.Model)
}

// Is reports whether the target error matches InvalidModelError.
func (e *InvalidModelError) Is(err error) bool {
	return err == ErrInvalidModel
}

// NewInvalidModelError returns a new InvalidModelError.
func NewInvalidModelError(model string) *InvalidModelError {
	return &InvalidModelError{Model: model}
}

// IsInvalidModel returns true if the error is an InvalidModelError.
func IsInvalidModel(err error) bool {
	if err == nil {
		return false
	}
	var e *InvalidModelError
	return errors.As(err, &e) || errors.Is(err, ErrInvalidModel)
}

// NotFoundError represents a record, or a referenced owner, that does not exist.
type NotFoundError struct {
	label string
	id    any
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("dynacrud: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("dynacrud: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the model name.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the id that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given model.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the id that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// ValidationError represents a required field that is missing or malformed.
type ValidationError struct {
	Model string // Model name, may be empty
	Name  string // Field or argument name
	Err   error  // Underlying validation error
}

// Error returns the error string.
func (e *ValidationError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("dynacrud: validation failed for %s field %q: %s", e.Model, e.Name, e.Err)
	}
	return fmt.Sprintf("dynacrud: validation failed for field %q: %s", e.Name, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError returns a new ValidationError for the given field.
func NewValidationError(model, name string, err error) *ValidationError {
	return &ValidationError{Model: model, Name: name, Err: err}
}

// Validationf returns a ValidationError with a formatted message.
func Validationf(model, name, format string, a ...any) *ValidationError {
	return &ValidationError{Model: model, Name: name, Err: fmt.Errorf(format, a...)}
}

// IsValidationError returns true if the error is a ValidationError.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ValidationError
	return errors.As(err, &e)
}

// ConflictError represents a uniqueness violation reported by a delegate.
type ConflictError struct {
	Model string
	Field string // Offending field when derivable
	Err   error
}

// Error returns the error string.
func (e *ConflictError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("dynacrud: %s with this %s already exists", e.Model, e.Field)
	}
	return fmt.Sprintf("dynacrud: %s already exists: %v", e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ConflictError.
func (e *ConflictError) Is(err error) bool {
	return err == ErrConflict
}

// NewConflictError returns a new ConflictError.
func NewConflictError(model, field string, err error) *ConflictError {
	return &ConflictError{Model: model, Field: field, Err: err}
}

// IsConflict returns true if the error is a ConflictError.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var e *ConflictError
	return errors.As(err, &e)
}

// BadRequestError wraps any other delegate failure with the operation
// and model it happened in.
type BadRequestError struct {
	Op    string
	Model string
	Err   error
}

// Error returns the error string.
func (e *BadRequestError) Error() string {
	return fmt.Sprintf("dynacrud: %s %s: %v", e.Op, e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *BadRequestError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches BadRequestError.
func (e *BadRequestError) Is(err error) bool {
	return err == ErrBadRequest
}

// NewBadRequestError returns a new BadRequestError.
func NewBadRequestError(op, model string, err error) *BadRequestError {
	return &BadRequestError{Op: op, Model: model, Err: err}
}

// IsBadRequest returns true if the error is a BadRequestError.
func IsBadRequest(err error) bool {
	if err == nil {
		return false
	}
	var e *BadRequestError
	return errors.As(err, &e)
}

// ConstraintKind classifies a ConstraintError.
type ConstraintKind uint8

// Constraint kinds reported by delegates.
const (
	ConstraintUnique ConstraintKind = iota + 1
	ConstraintNotNull
	ConstraintForeignKey
	ConstraintCheck
)

// String returns the constraint kind name.
func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUnique:
		return "unique"
	case ConstraintNotNull:
		return "not null"
	case ConstraintForeignKey:
		return "foreign key"
	case ConstraintCheck:
		return "check"
	default:
		return "unknown"
	}
}

// ConstraintError is returned by delegates when the store rejects a write.
// The orchestrator translates it into the client-facing taxonomy.
type ConstraintError struct {
	Kind  ConstraintKind
	Field string // Offending field, empty if not derivable
	msg   string
	wrap  error
}

// Error returns the error string.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("dynacrud: %s constraint failed: %s", e.Kind, e.msg)
}

// Unwrap returns the underlying error.
func (e *ConstraintError) Unwrap() error {
	return e.wrap
}

// NewConstraintError returns a new ConstraintError.
func NewConstraintError(kind ConstraintKind, field, msg string, wrap error) *ConstraintError {
	return &ConstraintError{Kind: kind, Field: field, msg: msg, wrap: wrap}
}

// AsConstraintError extracts a ConstraintError from the error chain.
func AsConstraintError(err error) (*ConstraintError, bool) {
	var e *ConstraintError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AggregateError represents multiple errors collected during an operation.
type AggregateError struct {
	Errors []error
}

// Error returns the error string.
func (e *AggregateError) Error() string {
	if len(e.Errors) == 0 {
		return "dynacrud: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	var sb strings.Builder
	sb.WriteString("dynacrud: multiple errors:")
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "\n  [%d] %v", i+1, err)
	}
	return sb.String()
}

// Unwrap returns the collected errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// NewAggregateError returns a new AggregateError if there are errors,
// otherwise returns nil.
func NewAggregateError(errs ...error) error {
	var filtered []error
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &AggregateError{Errors: filtered}
}

// Code returns the client-facing code for an error of the taxonomy.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case IsInvalidModel(err), IsValidationError(err):
		return CodeBadUserInput
	case IsNotFound(err):
		return CodeNotFound
	case IsConflict(err):
		return CodeConflict
	case IsBadRequest(err):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}
