package switchbot

import (
	"encoding/json"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
)

// Vendor status codes carried in the response envelope
const (
	statusSuccess             = 100
	statusDeviceTypeError     = 151
	statusDeviceNotFound      = 152
	statusCommandNotSupported = 160
	statusDeviceOffline       = 161
	statusHubOffline          = 171
	statusDeviceInternalError = 190
)

// envelope wraps every v1.1 response
type envelope struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

// PhysicalDevice is an entry of deviceList
type PhysicalDevice struct {
	DeviceID           string `json:"deviceId"`
	DeviceName         string `json:"deviceName"`
	DeviceType         string `json:"deviceType"`
	HubDeviceID        string `json:"hubDeviceId"`
	EnableCloudService bool   `json:"enableCloudService"`
}

// InfraredRemote is an entry of infraredRemoteList
type InfraredRemote struct {
	DeviceID    string `json:"deviceId"`
	DeviceName  string `json:"deviceName"`
	RemoteType  string `json:"remoteType"`
	HubDeviceID string `json:"hubDeviceId"`
}

// DeviceListBody is the body of GET /devices
type DeviceListBody struct {
	DeviceList         []PhysicalDevice `json:"deviceList"`
	InfraredRemoteList []InfraredRemote `json:"infraredRemoteList"`
}

// CommandRequest is the body of POST /devices/{id}/commands
type CommandRequest struct {
	Command     string `json:"command"`
	Parameter   any    `json:"parameter"`
	CommandType string `json:"commandType"`
}

// Identity converts a physical device entry
func (d PhysicalDevice) Identity() devices.Identity {
	kind, _ := devices.KindFromPhysicalType(d.DeviceType)
	return devices.Identity{
		ID:         d.DeviceID,
		Name:       d.DeviceName,
		Kind:       kind,
		VendorType: d.DeviceType,
		HubID:      d.HubDeviceID,
	}
}

// Identity converts an infrared remote entry
func (r InfraredRemote) Identity() devices.Identity {
	return devices.Identity{
		ID:         r.DeviceID,
		Name:       r.DeviceName,
		Kind:       devices.KindRemote,
		VendorType: r.RemoteType,
		HubID:      r.HubDeviceID,
	}
}
