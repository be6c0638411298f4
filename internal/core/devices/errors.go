package devices

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common device errors
var (
	ErrDeviceNotFound       = errors.New("device not found")
	ErrCommandNotSupported  = errors.New("command not supported")
	ErrConnectionFailed     = errors.New("connection failed")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidDeviceID      = errors.New("invalid device id")
	ErrMalformedResponse    = errors.New("malformed response")
)

// FailureKind classifies why a remote call failed
type FailureKind int

const (
	FailureNone FailureKind = iota
	// FailureAuth means the credentials were rejected. Never retried automatically.
	FailureAuth
	// FailureTransient covers network errors, timeouts, 5xx and bad payloads.
	FailureTransient
)

func (k FailureKind) String() string {
	switch k {
	case FailureAuth:
		return "auth"
	case FailureTransient:
		return "transient"
	default:
		return "none"
	}
}

// MarshalText renders the kind by name in JSON payloads
func (k FailureKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Classify maps an error returned by the remote API to a FailureKind.
// Anything that is not an explicit credential rejection is transient.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, ErrAuthenticationFailed) {
		return FailureAuth
	}
	return FailureTransient
}

// IsRetryableError determines if an error is worth retrying on a later cycle
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return false
	case errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrMalformedResponse),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// DeviceError represents a device-specific error
type DeviceError struct {
	DeviceID string
	Kind     Kind
	Op       string
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error: device=%s kind=%s op=%s: %v",
		e.DeviceID, e.Kind, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// NewDeviceError creates a new device error
func NewDeviceError(deviceID string, kind Kind, op string, err error) error {
	return &DeviceError{
		DeviceID: deviceID,
		Kind:     kind,
		Op:       op,
		Err:      err,
	}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field=%s value=%v: %s",
		e.Field, e.Value, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, message string) error {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}
