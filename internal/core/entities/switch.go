package entities

import (
	"context"
	"sync"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
)

// SwitchEntity controls a plug or an IR remote.
//
// Plugs report their power state through the status endpoint. Remotes have no
// readable state, so the entity assumes the outcome of the last command it sent.
type SwitchEntity struct {
	base

	mu        sync.RWMutex
	assumedOn bool
}

func newSwitch(device devices.Identity, coord *coordinator.Coordinator, api devices.API) *SwitchEntity {
	return &SwitchEntity{
		base: base{
			id:     device.ID,
			name:   device.DisplayName(),
			device: device,
			coord:  coord,
			api:    api,
		},
	}
}

// Platform implements Entity
func (s *SwitchEntity) Platform() Platform {
	return PlatformSwitch
}

// AssumedState is true when IsOn is derived from sent commands rather than reported
func (s *SwitchEntity) AssumedState() bool {
	return s.device.Kind == devices.KindRemote
}

// IsOn reports whether the switch is on
func (s *SwitchEntity) IsOn() bool {
	if s.AssumedState() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.assumedOn
	}

	snap := s.coord.CurrentSnapshot()
	if snap == nil {
		return false
	}
	power, _ := snap.String(devices.AttrPower)
	return power == devices.PowerOn
}

// TurnOn sends the turnOn command
func (s *SwitchEntity) TurnOn(ctx context.Context) error {
	return s.SendCommand(ctx, devices.Command{Name: devices.CommandTurnOn})
}

// TurnOff sends the turnOff command
func (s *SwitchEntity) TurnOff(ctx context.Context) error {
	return s.SendCommand(ctx, devices.Command{Name: devices.CommandTurnOff})
}

// SendCommand forwards cmd and, for remotes, records the assumed power state
func (s *SwitchEntity) SendCommand(ctx context.Context, cmd devices.Command) error {
	if err := s.base.SendCommand(ctx, cmd); err != nil {
		return err
	}

	if s.AssumedState() {
		switch cmd.Name {
		case devices.CommandTurnOn:
			s.setAssumed(true)
		case devices.CommandTurnOff:
			s.setAssumed(false)
		}
	}
	return nil
}

func (s *SwitchEntity) setAssumed(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assumedOn = on
}

// CurrentAttributes implements Entity
func (s *SwitchEntity) CurrentAttributes() Attributes {
	attrs := Attributes{
		"is_on":         s.IsOn(),
		"assumed_state": s.AssumedState(),
	}

	snap := s.coord.CurrentSnapshot()
	if snap == nil || s.AssumedState() {
		return attrs
	}

	if v, ok := snap.Float(devices.AttrVoltage); ok {
		attrs["voltage"] = v
	}
	if v, ok := snap.Float(devices.AttrCurrent); ok {
		attrs["current"] = v
	}
	if v, ok := snap.Float(devices.AttrWeight); ok {
		attrs["power"] = v
	}
	return attrs
}
