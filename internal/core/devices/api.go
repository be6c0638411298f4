package devices

import (
	"context"
)

// Default values the vendor API expects when a command carries no argument
const (
	CommandTypeDefault = "command"
	CommandTypeCustom  = "customize"
	ParameterDefault   = "default"
)

// Well-known command names
const (
	CommandTurnOn  = "turnOn"
	CommandTurnOff = "turnOff"
)

// Command is a single instruction sent to a device through the cloud
type Command struct {
	Name       string `json:"command"`
	Type       string `json:"command_type,omitempty"`
	Parameters any    `json:"parameters,omitempty"`
}

// Normalize fills in the vendor defaults for missing fields
func (c Command) Normalize() Command {
	if c.Type == "" {
		c.Type = CommandTypeDefault
	}
	if c.Parameters == nil {
		c.Parameters = ParameterDefault
	}
	return c
}

// API is the remote device service the integration talks to.
//
// Implementations must return errors wrapping ErrAuthenticationFailed when the
// credentials are rejected and ErrConnectionFailed for everything else that
// prevented a usable answer.
type API interface {
	ListDevices(ctx context.Context) ([]Identity, error)
	DeviceStatus(ctx context.Context, deviceID string) (map[string]any, error)
	SendCommand(ctx context.Context, deviceID string, cmd Command) error
}

// Credentials are the two secrets a vendor account is opened with
type Credentials struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

// Validate ensures both credential fields are present
func (c Credentials) Validate() error {
	if c.Token == "" {
		return NewValidationError("token", "", "api token is required")
	}
	if c.Secret == "" {
		return NewValidationError("secret", "", "api secret is required")
	}
	return nil
}

// APIFactory opens an API handle for a set of credentials
type APIFactory func(creds Credentials) (API, error)
