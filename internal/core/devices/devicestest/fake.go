// Package devicestest provides an in-memory devices.API for tests.
package devicestest

import (
	"context"
	"sync"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
)

// SentCommand records one SendCommand call
type SentCommand struct {
	DeviceID string
	Command  devices.Command
}

// FakeAPI is a scriptable devices.API.
//
// Set Gate to make DeviceStatus block until the channel is closed or receives;
// every blocked call first announces the device ID on Started when non-nil.
type FakeAPI struct {
	mu sync.Mutex

	Devices    []devices.Identity
	ListErr    error
	Statuses   map[string]map[string]any
	StatusErrs map[string]error
	StatusFunc func(deviceID string, call int) (map[string]any, error)
	CommandErr error

	Gate    chan struct{}
	Started chan string

	listCalls   int
	statusCalls map[string]int
	commands    []SentCommand
}

// NewFakeAPI returns a fake listing the given devices
func NewFakeAPI(devs ...devices.Identity) *FakeAPI {
	return &FakeAPI{
		Devices:     devs,
		Statuses:    make(map[string]map[string]any),
		StatusErrs:  make(map[string]error),
		statusCalls: make(map[string]int),
	}
}

// ListDevices implements devices.API
func (f *FakeAPI) ListDevices(ctx context.Context) ([]devices.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.listCalls++
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	out := make([]devices.Identity, len(f.Devices))
	copy(out, f.Devices)
	return out, nil
}

// DeviceStatus implements devices.API
func (f *FakeAPI) DeviceStatus(ctx context.Context, deviceID string) (map[string]any, error) {
	f.mu.Lock()
	f.statusCalls[deviceID]++
	call := f.statusCalls[deviceID]
	gate, started := f.Gate, f.Started
	f.mu.Unlock()

	if gate != nil {
		if started != nil {
			started <- deviceID
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StatusFunc != nil {
		return f.StatusFunc(deviceID, call)
	}
	if err := f.StatusErrs[deviceID]; err != nil {
		return nil, err
	}
	values, ok := f.Statuses[deviceID]
	if !ok {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out, nil
}

// SendCommand implements devices.API
func (f *FakeAPI) SendCommand(ctx context.Context, deviceID string, cmd devices.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CommandErr != nil {
		return f.CommandErr
	}
	f.commands = append(f.commands, SentCommand{DeviceID: deviceID, Command: cmd})
	return nil
}

// SetStatus replaces the payload returned for a device
func (f *FakeAPI) SetStatus(deviceID string, values map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statuses[deviceID] = values
	delete(f.StatusErrs, deviceID)
}

// SetStatusErr makes DeviceStatus fail for a device
func (f *FakeAPI) SetStatusErr(deviceID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusErrs[deviceID] = err
}

// ListCalls returns how often ListDevices ran
func (f *FakeAPI) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// StatusCalls returns how often DeviceStatus ran for deviceID
func (f *FakeAPI) StatusCalls(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[deviceID]
}

// Commands returns every command sent so far
func (f *FakeAPI) Commands() []SentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentCommand, len(f.commands))
	copy(out, f.commands)
	return out
}
