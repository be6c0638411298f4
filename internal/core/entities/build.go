package entities

import (
	"fmt"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/registry"
)

// Sink receives rendered entity state
type Sink interface {
	PublishState(state State)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(State)

// PublishState implements Sink
func (f SinkFunc) PublishState(state State) { f(state) }

// Build creates every entity for the switch and meter devices of r
func Build(r *registry.Registry, api devices.API) ([]Entity, error) {
	var out []Entity

	bindings := append(r.Switches(), r.Meters()...)
	for _, b := range bindings {
		created, err := ForDevice(b.Device, b.Coordinator, api)
		if err != nil {
			return nil, err
		}
		out = append(out, created...)
	}
	return out, nil
}

// ForDevice creates the entities a device of the given kind exposes
func ForDevice(device devices.Identity, coord *coordinator.Coordinator, api devices.API) ([]Entity, error) {
	switch device.Kind {
	case devices.KindPlug, devices.KindRemote:
		return []Entity{newSwitch(device, coord, api)}, nil
	case devices.KindTemperatureMeter:
		return []Entity{
			newSensor(device, coord, api, QuantityTemperature),
			newSensor(device, coord, api, QuantityHumidity),
		}, nil
	case devices.KindHumidityMeter:
		return []Entity{newSensor(device, coord, api, QuantityHumidity)}, nil
	case devices.KindOther:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKind, device.VendorType)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, int(device.Kind))
	}
}

// Watch pushes the entity's state to sink now and after every refresh attempt
// of its coordinator. The returned function stops the updates.
func Watch(e Entity, sink Sink) (stop func()) {
	c, ok := e.(interface {
		Coordinator() *coordinator.Coordinator
	})
	if !ok {
		sink.PublishState(Render(e))
		return func() {}
	}

	coord := c.Coordinator()
	sub := coord.Subscribe(func(coordinator.Update) {
		sink.PublishState(Render(e))
	})
	sink.PublishState(Render(e))

	return func() { coord.Unsubscribe(sub) }
}

// Index maps entity IDs to entities
func Index(list []Entity) map[string]Entity {
	out := make(map[string]Entity, len(list))
	for _, e := range list {
		out[e.ID()] = e
	}
	return out
}
