package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/sirupsen/logrus"
)

var (
	// ErrEntryNotLoaded is returned when an operation names an entry with no registry
	ErrEntryNotLoaded = errors.New("config entry not loaded")
	// ErrEntryAlreadyLoaded is returned by Setup for an entry that is already running
	ErrEntryAlreadyLoaded = errors.New("config entry already loaded")
)

// Entry is the part of a config entry needed to set up a registry
type Entry struct {
	ID          string
	Title       string
	Credentials devices.Credentials
}

// AuthFailureFunc is told which entry lost its credentials
type AuthFailureFunc func(entryID string, device devices.Identity, err error)

// BuiltFunc runs after a registry is built and before its first refresh
type BuiltFunc func(entryID string, r *Registry)

// Manager owns the registries of every loaded config entry
type Manager struct {
	factory devices.APIFactory
	logger  *logrus.Logger
	opts    Options

	mu         sync.RWMutex
	registries map[string]*Registry
	pending    map[string]struct{}

	onAuthFailure AuthFailureFunc
	onBuilt       BuiltFunc
}

// NewManager creates a manager that builds API clients with factory
func NewManager(factory devices.APIFactory, logger *logrus.Logger, opts Options) *Manager {
	return &Manager{
		factory:    factory,
		logger:     logger,
		opts:       opts,
		registries: make(map[string]*Registry),
		pending:    make(map[string]struct{}),
	}
}

// OnAuthFailure sets the callback invoked when a loaded entry's credentials are rejected
func (m *Manager) OnAuthFailure(fn AuthFailureFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAuthFailure = fn
}

// OnRegistryBuilt sets the callback used to attach entities before the first refresh
func (m *Manager) OnRegistryBuilt(fn BuiltFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBuilt = fn
}

// Setup builds and loads the registry for entry, then runs its first refresh.
//
// Errors wrap ErrSetupRefused or ErrSetupDeferred as returned by Build.
func (m *Manager) Setup(ctx context.Context, entry Entry) (*Registry, error) {
	log := m.logger.WithField("entry_id", entry.ID)

	if err := entry.Credentials.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSetupRefused, err)
	}

	m.mu.Lock()
	if _, ok := m.registries[entry.ID]; ok {
		m.mu.Unlock()
		return nil, ErrEntryAlreadyLoaded
	}
	if _, ok := m.pending[entry.ID]; ok {
		m.mu.Unlock()
		return nil, ErrEntryAlreadyLoaded
	}
	m.pending[entry.ID] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, entry.ID)
		m.mu.Unlock()
	}()

	api, err := m.factory(entry.Credentials)
	if err != nil {
		return nil, fmt.Errorf("%w: create api client: %w", ErrSetupRefused, err)
	}

	opts := m.opts
	opts.OnAuthFailure = func(device devices.Identity, err error) {
		if m.opts.OnAuthFailure != nil {
			m.opts.OnAuthFailure(device, err)
		}
		m.mu.RLock()
		fn := m.onAuthFailure
		m.mu.RUnlock()
		if fn != nil {
			fn(entry.ID, device, err)
		}
	}

	reg, err := Build(ctx, api, m.logger, opts)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.registries[entry.ID] = reg
	built := m.onBuilt
	m.mu.Unlock()

	if built != nil {
		built(entry.ID, reg)
	}

	report := reg.RefreshAll(ctx)
	log.WithFields(logrus.Fields{
		"title":     entry.Title,
		"devices":   report.Total,
		"refreshed": report.Succeeded,
		"failed":    report.Failed(),
	}).Info("Config entry loaded")

	return reg, nil
}

// Unload tears down and forgets the registry of entryID
func (m *Manager) Unload(entryID string) error {
	m.mu.Lock()
	reg, ok := m.registries[entryID]
	delete(m.registries, entryID)
	m.mu.Unlock()

	if !ok {
		return ErrEntryNotLoaded
	}

	reg.Teardown()
	m.logger.WithField("entry_id", entryID).Info("Config entry unloaded")
	return nil
}

// Registry returns the loaded registry of entryID
func (m *Manager) Registry(entryID string) (*Registry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.registries[entryID]
	return reg, ok
}

// Entries returns the IDs of all loaded entries in sorted order
func (m *Manager) Entries() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.registries))
	for id := range m.registries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown unloads every entry
func (m *Manager) Shutdown() {
	for _, id := range m.Entries() {
		_ = m.Unload(id)
	}
}
