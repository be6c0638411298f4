package switchbot

import (
	"fmt"
	"net/http"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
)

// APIError is returned for any response that is not a success
type APIError struct {
	HTTPStatus int
	StatusCode int
	Message    string
	cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("switchbot api error (http %d, status %d): %s", e.HTTPStatus, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("switchbot api error (http %d): %s", e.HTTPStatus, e.Message)
}

// Unwrap exposes the devices sentinel the error maps to
func (e *APIError) Unwrap() error {
	return e.cause
}

// httpError classifies a non-2xx HTTP response
func httpError(status int, body []byte) error {
	cause := devices.ErrConnectionFailed
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		cause = devices.ErrAuthenticationFailed
	}

	msg := http.StatusText(status)
	if len(body) > 0 && len(body) < 512 {
		msg = string(body)
	}
	return &APIError{HTTPStatus: status, Message: msg, cause: cause}
}

// envelopeError classifies a 200 response whose envelope reports a failure
func envelopeError(env envelope) error {
	var cause error
	switch env.StatusCode {
	case statusDeviceNotFound:
		cause = devices.ErrDeviceNotFound
	case statusCommandNotSupported, statusDeviceTypeError:
		cause = devices.ErrCommandNotSupported
	case statusDeviceOffline, statusHubOffline, statusDeviceInternalError:
		cause = devices.ErrConnectionFailed
	default:
		cause = devices.ErrConnectionFailed
	}
	return &APIError{
		HTTPStatus: http.StatusOK,
		StatusCode: env.StatusCode,
		Message:    env.Message,
		cause:      cause,
	}
}
