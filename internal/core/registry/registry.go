package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrSetupRefused means the remote service rejected the credentials.
	// The caller must not retry until the user supplies new ones.
	ErrSetupRefused = errors.New("setup refused")
	// ErrSetupDeferred means device enumeration failed for a recoverable reason
	ErrSetupDeferred = errors.New("setup deferred")
	// ErrRegistryHalted is returned by operations on a registry stopped by an auth failure
	ErrRegistryHalted = errors.New("registry halted")
)

const defaultMaxConcurrentRefreshes = 4

// Options configure a registry and every coordinator it creates
type Options struct {
	Coordinator            coordinator.Options
	MaxConcurrentRefreshes int
	// OnAuthFailure runs once, after the first refresh rejected for bad credentials.
	OnAuthFailure func(device devices.Identity, err error)
}

// Binding pairs a device with its coordinator
type Binding struct {
	Device      devices.Identity
	Coordinator *coordinator.Coordinator
}

// Registry holds the coordinators of one configured account
type Registry struct {
	api    devices.API
	logger *logrus.Logger
	opts   Options

	all      []Binding
	switches []Binding
	meters   []Binding
	byID     map[string]*coordinator.Coordinator

	halted   atomic.Bool
	haltOnce sync.Once
	haltErr  atomic.Pointer[haltCause]

	closeOnce sync.Once
}

type haltCause struct {
	device devices.Identity
	err    error
}

// RefreshReport summarizes a RefreshAll pass
type RefreshReport struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failures  map[string]error `json:"-"`
	Halted    bool             `json:"halted"`
	Elapsed   time.Duration    `json:"elapsed"`
}

// Failed returns the number of devices whose refresh failed
func (r RefreshReport) Failed() int {
	return len(r.Failures)
}

// Build lists the account's devices once and creates one coordinator per device.
//
// An auth failure yields an error wrapping ErrSetupRefused, any other failure one
// wrapping ErrSetupDeferred. Nothing is created on failure.
func Build(ctx context.Context, api devices.API, logger *logrus.Logger, opts Options) (*Registry, error) {
	if opts.MaxConcurrentRefreshes <= 0 {
		opts.MaxConcurrentRefreshes = defaultMaxConcurrentRefreshes
	}

	listed, err := api.ListDevices(ctx)
	if err != nil {
		if devices.Classify(err) == devices.FailureAuth {
			logger.WithError(err).Error("Device enumeration rejected, setup refused")
			return nil, fmt.Errorf("%w: %w", ErrSetupRefused, err)
		}
		logger.WithError(err).Warn("Device enumeration failed, setup deferred")
		return nil, fmt.Errorf("%w: %w", ErrSetupDeferred, err)
	}

	r := &Registry{
		api:    api,
		logger: logger,
		opts:   opts,
		byID:   make(map[string]*coordinator.Coordinator, len(listed)),
	}

	coordOpts := opts.Coordinator
	userAuthHook := coordOpts.OnAuthFailure
	coordOpts.OnAuthFailure = func(device devices.Identity, err error) {
		if userAuthHook != nil {
			userAuthHook(device, err)
		}
		r.halt(device, err)
	}

	for _, device := range listed {
		if err := device.Validate(); err != nil {
			logger.WithError(err).WithField("name", device.Name).Warn("Skipping device without identifier")
			continue
		}
		if _, exists := r.byID[device.ID]; exists {
			logger.WithField("device_id", device.ID).Warn("Skipping duplicate device")
			continue
		}

		binding := Binding{
			Device:      device,
			Coordinator: coordinator.New(device, api, logger, coordOpts),
		}
		r.byID[device.ID] = binding.Coordinator
		r.all = append(r.all, binding)

		switch {
		case device.Kind.IsMeter():
			r.meters = append(r.meters, binding)
		case device.Kind.IsSwitch():
			r.switches = append(r.switches, binding)
		default:
			logger.WithFields(logrus.Fields{
				"device_id":   device.ID,
				"vendor_type": device.VendorType,
			}).Warn("Unsupported device type, no entities will be created")
		}
	}

	logger.WithFields(logrus.Fields{
		"devices":  len(r.all),
		"switches": len(r.switches),
		"meters":   len(r.meters),
	}).Info("Device registry built")

	return r, nil
}

// API returns the shared client handle
func (r *Registry) API() devices.API {
	return r.api
}

// Coordinator returns the coordinator bound to a device ID
func (r *Registry) Coordinator(deviceID string) (*coordinator.Coordinator, bool) {
	c, ok := r.byID[deviceID]
	return c, ok
}

// Switches returns devices exposed as switch entities
func (r *Registry) Switches() []Binding {
	return append([]Binding(nil), r.switches...)
}

// Meters returns devices exposed as sensor entities
func (r *Registry) Meters() []Binding {
	return append([]Binding(nil), r.meters...)
}

// Devices returns every listed device, including unsupported ones
func (r *Registry) Devices() []Binding {
	return append([]Binding(nil), r.all...)
}

// Halted reports whether an auth failure stopped the registry
func (r *Registry) Halted() bool {
	return r.halted.Load()
}

// HaltReason returns the error that halted the registry, or nil
func (r *Registry) HaltReason() error {
	cause := r.haltErr.Load()
	if cause == nil {
		return nil
	}
	return cause.err
}

func (r *Registry) halt(device devices.Identity, err error) {
	r.haltOnce.Do(func() {
		r.haltErr.Store(&haltCause{device: device, err: err})
		r.halted.Store(true)
		r.logger.WithError(err).WithField("device_id", device.ID).Error("Credentials rejected, halting registry")
		if r.opts.OnAuthFailure != nil {
			r.opts.OnAuthFailure(device, err)
		}
	})
}

// RefreshAll refreshes every coordinator concurrently and returns once each
// refresh has resolved. A failing device never prevents the others from
// completing.
func (r *Registry) RefreshAll(ctx context.Context) RefreshReport {
	start := time.Now()
	report := RefreshReport{
		Total:    len(r.all),
		Failures: make(map[string]error),
	}
	if r.Halted() {
		report.Halted = true
		return report
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(r.opts.MaxConcurrentRefreshes)

	for _, binding := range r.all {
		binding := binding
		g.Go(func() error {
			err := binding.Coordinator.Refresh(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failures[binding.Device.ID] = err
			} else {
				report.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Halted = r.Halted()
	report.Elapsed = time.Since(start)

	r.logger.WithFields(logrus.Fields{
		"total":     report.Total,
		"succeeded": report.Succeeded,
		"failed":    report.Failed(),
		"elapsed":   report.Elapsed,
	}).Debug("Registry refresh completed")

	return report
}

// Teardown closes every coordinator and drops all subscriptions
func (r *Registry) Teardown() {
	r.closeOnce.Do(func() {
		for _, binding := range r.all {
			binding.Coordinator.Close()
		}
		r.logger.WithField("devices", len(r.all)).Info("Device registry torn down")
	})
}
