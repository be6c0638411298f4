package devices

import (
	"strings"
)

// Kind is the closed set of device families the integration understands
type Kind int

const (
	KindOther Kind = iota
	KindPlug
	KindRemote
	KindTemperatureMeter
	KindHumidityMeter
)

// AllKinds lists every Kind value, used by tests to prove dispatch is exhaustive
var AllKinds = []Kind{KindOther, KindPlug, KindRemote, KindTemperatureMeter, KindHumidityMeter}

func (k Kind) String() string {
	switch k {
	case KindPlug:
		return "plug"
	case KindRemote:
		return "remote"
	case KindTemperatureMeter:
		return "temperature_meter"
	case KindHumidityMeter:
		return "humidity_meter"
	default:
		return "other"
	}
}

// MarshalText renders the kind by name in JSON payloads
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsMeter reports whether the kind belongs to the meter-capable subset
func (k Kind) IsMeter() bool {
	return k == KindTemperatureMeter || k == KindHumidityMeter
}

// IsSwitch reports whether the kind belongs to the switch-capable subset
func (k Kind) IsSwitch() bool {
	return k == KindPlug || k == KindRemote
}

// Polls reports whether the vendor cloud exposes a status endpoint for the kind.
// Infrared remotes are write-only.
func (k Kind) Polls() bool {
	return k != KindRemote
}

// Vendor physical device types that report temperature and humidity
var temperatureMeterTypes = map[string]bool{
	"meter":            true,
	"meterplus":        true,
	"meter plus (jp)":  true,
	"meterpro":         true,
	"meterpro(co2)":    true,
	"woiosensor":       true,
	"hub 2":            true,
	"temperaturemeter": true,
}

// KindFromPhysicalType maps a vendor deviceType string from the physical device list.
// The second result is false when the type was not recognised.
func KindFromPhysicalType(deviceType string) (Kind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(deviceType))
	switch {
	case normalized == "":
		return KindOther, false
	case strings.HasPrefix(normalized, "plug"):
		return KindPlug, true
	case normalized == "humiditymeter":
		return KindHumidityMeter, true
	case temperatureMeterTypes[normalized]:
		return KindTemperatureMeter, true
	default:
		return KindOther, false
	}
}

// Identity is the immutable description of one vendor device
type Identity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       Kind   `json:"kind"`
	VendorType string `json:"vendor_type"`
	HubID      string `json:"hub_id,omitempty"`
}

// Validate checks the fields every device must carry
func (i Identity) Validate() error {
	if i.ID == "" {
		return ErrInvalidDeviceID
	}
	return nil
}

// DisplayName falls back to the device ID when the vendor sends no name
func (i Identity) DisplayName() string {
	if i.Name == "" {
		return i.ID
	}
	return i.Name
}

// Common snapshot attribute keys reported by the vendor status endpoint
const (
	AttrPower       = "power"
	AttrTemperature = "temperature"
	AttrHumidity    = "humidity"
	AttrBattery     = "battery"
	AttrVoltage     = "voltage"
	AttrWeight      = "weight"
	AttrCurrent     = "electricCurrent"
)

// Power states reported by plugs
const (
	PowerOn  = "on"
	PowerOff = "off"
)
