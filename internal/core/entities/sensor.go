package entities

import (
	"context"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
)

// Quantity is a measured value a meter reports
type Quantity struct {
	Key         string
	DeviceClass string
	Unit        string
}

var (
	QuantityTemperature = Quantity{Key: devices.AttrTemperature, DeviceClass: "temperature", Unit: "°C"}
	QuantityHumidity    = Quantity{Key: devices.AttrHumidity, DeviceClass: "humidity", Unit: "%"}
)

// SensorEntity exposes one quantity of a meter
type SensorEntity struct {
	base
	quantity Quantity
}

func newSensor(device devices.Identity, coord *coordinator.Coordinator, api devices.API, q Quantity) *SensorEntity {
	return &SensorEntity{
		base: base{
			id:     device.ID + "_" + q.Key,
			name:   device.DisplayName() + " " + q.DeviceClass,
			device: device,
			coord:  coord,
			api:    api,
		},
		quantity: q,
	}
}

// Platform implements Entity
func (s *SensorEntity) Platform() Platform {
	return PlatformSensor
}

// Quantity returns what the sensor measures
func (s *SensorEntity) Quantity() Quantity {
	return s.quantity
}

// Value returns the latest reading, if any
func (s *SensorEntity) Value() (float64, bool) {
	snap := s.coord.CurrentSnapshot()
	if snap == nil {
		return 0, false
	}
	return snap.Float(s.quantity.Key)
}

// Available also requires the snapshot to carry this sensor's quantity
func (s *SensorEntity) Available() bool {
	if !s.base.Available() {
		return false
	}
	_, ok := s.Value()
	return ok
}

// SendCommand is not supported by meters
func (s *SensorEntity) SendCommand(ctx context.Context, cmd devices.Command) error {
	return devices.NewDeviceError(s.device.ID, s.device.Kind, "send_command", devices.ErrCommandNotSupported)
}

// CurrentAttributes implements Entity
func (s *SensorEntity) CurrentAttributes() Attributes {
	attrs := Attributes{
		"device_class":        s.quantity.DeviceClass,
		"unit_of_measurement": s.quantity.Unit,
		"value":               nil,
	}
	if v, ok := s.Value(); ok {
		attrs["value"] = v
	}

	if snap := s.coord.CurrentSnapshot(); snap != nil {
		if battery, ok := snap.Float(devices.AttrBattery); ok {
			attrs["battery"] = battery
		}
	}
	return attrs
}
