// Package errors defines application-specific error types and sentinel errors.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrSourceClosed   = errors.New("source is closed")
	ErrConnectionLost = errors.New("connection lost")
)

// SchemaResolutionError reports a schema id the registry does not know.
// It is fatal for the affected record; no default decoding is attempted.
type SchemaResolutionError struct {
	SchemaID int
	Err      error
}

func (e *SchemaResolutionError) Error() string {
	return fmt.Sprintf("schema resolution error: schema_id=%d: %v", e.SchemaID, e.Err)
}

func (e *SchemaResolutionError) Unwrap() error {
	return e.Err
}

// ContractViolation reports a payload that failed the decode contract:
// malformed framing, undecodable body, or a required field that is missing
// or mistyped. Records failing the contract are rejected outright.
type ContractViolation struct {
	SchemaID int
	Field    string
	Reason   string
}

func (e *ContractViolation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode contract violation: schema_id=%d: %s", e.SchemaID, e.Reason)
	}
	return fmt.Sprintf("decode contract violation: schema_id=%d field=%s: %s",
		e.SchemaID, e.Field, e.Reason)
}

// InvariantViolation reports malformed data reaching a stage whose input
// contract an upstream stage was responsible for enforcing. It is an
// internal defect, never a recoverable input error.
type InvariantViolation struct {
	Stage  string
	Reason string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("internal invariant violation: stage=%s: %s", e.Stage, e.Reason)
}

// SinkWriteError represents a destination write failure.
type SinkWriteError struct {
	Destination string
	Operation   string
	Err         error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("sink write error: destination=%s operation=%s: %v",
		e.Destination, e.Operation, e.Err)
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

// IsRetryable determines if a SinkWriteError is retryable based on the operation type.
func (e *SinkWriteError) IsRetryable() bool {
	return e.Operation == "append" || e.Operation == "create" || e.Operation == "write"
}

// Retryable defines an interface for errors that can indicate if they are retryable.
type Retryable interface {
	error
	IsRetryable() bool
}

// IsRetryable checks if an error is retryable.
// It first checks if the error implements the Retryable interface,
// then falls back to sentinel errors. Contract and schema-resolution
// failures are never retryable: the same bytes decode the same way twice.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable Retryable
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var contract *ContractViolation
	if errors.As(err, &contract) {
		return false
	}
	var resolution *SchemaResolutionError
	if errors.As(err, &resolution) {
		return false
	}

	if errors.Is(err, ErrConnectionLost) {
		return true
	}

	return false
}
