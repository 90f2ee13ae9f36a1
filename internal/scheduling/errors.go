package scheduling

import (
	"errors"
	"fmt"
)

// ValidationError reports input that can never succeed as given: a malformed
// interval, missing client fields, or a slot that is already in the past.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConfigurationError reports settings that make availability impossible to compute.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Setting, e.Reason)
}

// UpstreamError wraps a failure from an external collaborator such as the
// busy-interval source or the calendar mirror.
type UpstreamError struct {
	Service string
	Op      string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s %s: %v", e.Service, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Misconfigured builds a ConfigurationError.
func Misconfigured(setting, reason string) error {
	return &ConfigurationError{Setting: setting, Reason: reason}
}

// Upstream wraps err as an UpstreamError. A nil err yields nil and an error
// that already is an UpstreamError is returned unchanged.
func Upstream(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Service: service, Op: op, Err: err}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
