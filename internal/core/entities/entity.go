package entities

import (
	"context"
	"errors"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
)

// ErrUnsupportedKind is returned when no entity type handles a device kind
var ErrUnsupportedKind = errors.New("unsupported device kind")

// Platform names the entity family
type Platform string

const (
	PlatformSwitch Platform = "switch"
	PlatformSensor Platform = "sensor"
)

// Attributes is the rendered state of an entity
type Attributes map[string]any

// Entity is a user-facing view over one device's coordinator
type Entity interface {
	ID() string
	Name() string
	Platform() Platform
	Device() devices.Identity
	CurrentAttributes() Attributes
	SendCommand(ctx context.Context, cmd devices.Command) error
	Available() bool
}

// State is what sinks receive whenever an entity re-renders
type State struct {
	EntityID   string     `json:"entity_id"`
	DeviceID   string     `json:"device_id"`
	Name       string     `json:"name"`
	Platform   Platform   `json:"platform"`
	Available  bool       `json:"available"`
	Stale      bool       `json:"stale"`
	Error      string     `json:"error,omitempty"`
	Attributes Attributes `json:"attributes"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

// base carries what every entity shares: identity, coordinator and API handle
type base struct {
	id     string
	name   string
	device devices.Identity
	coord  *coordinator.Coordinator
	api    devices.API
}

func (b *base) ID() string               { return b.id }
func (b *base) Name() string             { return b.name }
func (b *base) Device() devices.Identity { return b.device }

// Available is true once a refresh succeeded and the latest attempt did not fail
func (b *base) Available() bool {
	return b.coord.CurrentSnapshot() != nil && b.coord.LastError() == nil
}

// SendCommand forwards cmd to the device, bypassing the cached state
func (b *base) SendCommand(ctx context.Context, cmd devices.Command) error {
	if cmd.Name == "" {
		return devices.NewValidationError("command", cmd.Name, "command name is required")
	}
	return b.api.SendCommand(ctx, b.device.ID, cmd.Normalize())
}

// Coordinator exposes the coordinator backing an entity
func (b *base) Coordinator() *coordinator.Coordinator {
	return b.coord
}

// Render builds the sink payload for an entity
func Render(e Entity) State {
	state := State{
		EntityID:   e.ID(),
		DeviceID:   e.Device().ID,
		Name:       e.Name(),
		Platform:   e.Platform(),
		Available:  e.Available(),
		Attributes: e.CurrentAttributes(),
	}

	if c, ok := e.(interface {
		Coordinator() *coordinator.Coordinator
	}); ok {
		coord := c.Coordinator()
		snap := coord.CurrentSnapshot()
		if err := coord.LastError(); err != nil {
			state.Error = err.Error()
			state.Stale = snap != nil
		}
		if snap != nil {
			at := snap.FetchedAt()
			state.UpdatedAt = &at
		}
	}
	return state
}
