package integration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/entities"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/metrics"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/registry"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/scheduler"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/models"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/repositories"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrEntityNotFound = errors.New("entity not found")
	ErrEntryDisabled  = errors.New("config entry disabled")
)

// SinkFactory returns the sink entities of entryID publish to
type SinkFactory func(entryID string) entities.Sink

// EntryNotifier is told about config entry state transitions
type EntryNotifier interface {
	PublishEntryStatus(entryID, state, lastError string)
}

// Options configures a Service
type Options struct {
	Retry    registry.RetryPolicy
	Metrics  metrics.MetricsCollector
	Sinks    []SinkFactory
	Notifier EntryNotifier
}

// EntityState is an entity state tagged with its config entry
type EntityState struct {
	EntryID string `json:"entry_id"`
	entities.State
}

// DeviceView describes one device of a loaded entry
type DeviceView struct {
	EntryID string `json:"entry_id"`
	coordinator.Status
}

type retryHandle struct {
	cancel context.CancelFunc
	// closed once the retry goroutine has returned
	done chan struct{}
}

type loadedEntry struct {
	entities map[string]entities.Entity
	sinks    []entities.Sink
	stops    []func()
}

// Service is the host side of the integration: it persists config entries,
// loads them through the registry manager, schedules polling and fans entity
// state out to the configured sinks.
type Service struct {
	repo      repositories.ConfigEntryRepository
	manager   *registry.Manager
	scheduler *scheduler.Scheduler
	logger    *logrus.Logger
	opts      Options

	mu       sync.RWMutex
	loaded   map[string]*loadedEntry
	retrying map[string]*retryHandle
	closed   bool

	// stateMu orders entry state writes that race an auth failure
	stateMu sync.Mutex

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService wires the manager hooks and returns a service ready to Start
func NewService(repo repositories.ConfigEntryRepository, manager *registry.Manager, sched *scheduler.Scheduler, logger *logrus.Logger, opts Options) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		repo:      repo,
		manager:   manager,
		scheduler: sched,
		logger:    logger,
		opts:      opts,
		loaded:    make(map[string]*loadedEntry),
		retrying:  make(map[string]*retryHandle),
		baseCtx:   ctx,
		cancel:    cancel,
	}

	manager.OnRegistryBuilt(s.attach)
	manager.OnAuthFailure(s.handleAuthFailure)
	return s
}

// Start loads every enabled entry in the background
func (s *Service) Start(ctx context.Context) error {
	entries, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list config entries: %w", err)
	}

	for _, entry := range entries {
		if entry.Disabled {
			continue
		}
		entry := entry
		s.goBackground(func() {
			_ = s.load(s.baseCtx, entry)
		})
	}

	s.logger.WithField("entries", len(entries)).Info("SwitchBot integration started")
	return nil
}

// EnsureEntry returns the entry holding creds, creating it when absent
func (s *Service) EnsureEntry(ctx context.Context, title string, creds devices.Credentials) (*models.ConfigEntry, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	entries, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list config entries: %w", err)
	}
	for _, entry := range entries {
		if entry.APIToken == creds.Token {
			return entry, nil
		}
	}

	entry := newEntry(title, creds)
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CreateEntry stores a new account and sets it up. Refused credentials are not
// kept; a deferred setup keeps the entry and retries in the background.
func (s *Service) CreateEntry(ctx context.Context, title string, creds devices.Credentials) (*models.ConfigEntry, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", registry.ErrSetupRefused, err)
	}

	entry := newEntry(title, creds)
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}

	err := s.load(ctx, entry)
	switch {
	case errors.Is(err, registry.ErrSetupRefused):
		if delErr := s.repo.Delete(context.WithoutCancel(ctx), entry.ID); delErr != nil {
			s.logger.WithError(delErr).WithField("entry_id", entry.ID).Warn("Failed to remove refused config entry")
		}
		return nil, err
	case err != nil && !errors.Is(err, registry.ErrSetupDeferred):
		return nil, err
	}

	return s.repo.Get(ctx, entry.ID)
}

// ReloadEntry unloads and sets up an entry again
func (s *Service) ReloadEntry(ctx context.Context, id string) (*models.ConfigEntry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cancelRetry(id)
	s.unload(id)

	if entry.Disabled {
		s.setState(ctx, id, models.EntryStateNotLoaded, "")
		return nil, ErrEntryDisabled
	}

	if err := s.load(ctx, entry); err != nil && !errors.Is(err, registry.ErrSetupDeferred) {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// DeleteEntry unloads an entry and removes it from storage
func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}

	s.cancelRetry(id)
	s.unload(id)

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.notify(id, "removed", "")
	return nil
}

// Entries lists every stored entry
func (s *Service) Entries(ctx context.Context) ([]*models.ConfigEntry, error) {
	return s.repo.List(ctx)
}

// Entry returns one stored entry
func (s *Service) Entry(ctx context.Context, id string) (*models.ConfigEntry, error) {
	return s.repo.Get(ctx, id)
}

// Entities returns the current state of every entity, sorted by ID
func (s *Service) Entities() []EntityState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []EntityState
	for entryID, le := range s.loaded {
		for _, e := range le.entities {
			out = append(out, EntityState{EntryID: entryID, State: entities.Render(e)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Entity returns the current state of one entity
func (s *Service) Entity(id string) (EntityState, error) {
	entryID, e, _, ok := s.findEntity(id)
	if !ok {
		return EntityState{}, fmt.Errorf("%s: %w", id, ErrEntityNotFound)
	}
	return EntityState{EntryID: entryID, State: entities.Render(e)}, nil
}

// SendCommand sends cmd through the entity and returns its state afterwards.
// Devices that report state are refreshed in the background so the new
// power state reaches the sinks.
func (s *Service) SendCommand(ctx context.Context, entityID string, cmd devices.Command) (EntityState, error) {
	entryID, e, sinks, ok := s.findEntity(entityID)
	if !ok {
		return EntityState{}, fmt.Errorf("%s: %w", entityID, ErrEntityNotFound)
	}

	err := e.SendCommand(ctx, cmd)
	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordCommand(cmd.Name, err == nil)
	}
	if err != nil {
		return EntityState{}, err
	}

	state := entities.Render(e)
	if sw, ok := e.(*entities.SwitchEntity); ok && sw.AssumedState() {
		for _, sink := range sinks {
			sink.PublishState(state)
		}
	} else if reg, ok := s.manager.Registry(entryID); ok {
		if coord, ok := reg.Coordinator(e.Device().ID); ok {
			s.goBackground(func() {
				_ = coord.Refresh(s.baseCtx)
			})
		}
	}

	return EntityState{EntryID: entryID, State: state}, nil
}

// Devices describes every device of every loaded entry
func (s *Service) Devices() []DeviceView {
	var out []DeviceView
	for _, entryID := range s.manager.Entries() {
		reg, ok := s.manager.Registry(entryID)
		if !ok {
			continue
		}
		for _, b := range reg.Devices() {
			out = append(out, DeviceView{EntryID: entryID, Status: b.Coordinator.Status()})
		}
	}
	return out
}

// RefreshDevice forces a refresh of one device and returns its status
func (s *Service) RefreshDevice(ctx context.Context, deviceID string) (DeviceView, error) {
	for _, entryID := range s.manager.Entries() {
		reg, ok := s.manager.Registry(entryID)
		if !ok {
			continue
		}
		coord, ok := reg.Coordinator(deviceID)
		if !ok {
			continue
		}
		err := coord.Refresh(ctx)
		return DeviceView{EntryID: entryID, Status: coord.Status()}, err
	}
	return DeviceView{}, fmt.Errorf("%s: %w", deviceID, devices.ErrDeviceNotFound)
}

// Health summarises loaded and halted entries
func (s *Service) Health(ctx context.Context) metrics.HealthStatus {
	loaded := s.manager.Entries()
	halted := 0
	for _, id := range loaded {
		if reg, ok := s.manager.Registry(id); ok && reg.Halted() {
			halted++
		}
	}

	s.mu.RLock()
	retrying := len(s.retrying)
	s.mu.RUnlock()

	status := metrics.HealthStatus{
		Status:  metrics.StatusHealthy,
		Message: "SwitchBot entries loaded",
		Details: map[string]interface{}{
			"loaded":   len(loaded),
			"halted":   halted,
			"retrying": retrying,
		},
	}
	if halted > 0 || retrying > 0 {
		status.Status = metrics.StatusDegraded
		status.Message = "Some SwitchBot entries need attention"
	}
	return status
}

// Shutdown stops background work and unloads every entry
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	for _, id := range s.manager.Entries() {
		s.unload(id)
	}
	s.logger.Info("SwitchBot integration stopped")
}

func (s *Service) load(ctx context.Context, entry *models.ConfigEntry) error {
	reg, err := s.manager.Setup(ctx, toRegistryEntry(entry))
	s.recordSetup(ctx, entry, reg, err)
	if errors.Is(err, registry.ErrSetupDeferred) {
		s.retryInBackground(entry)
	}
	return err
}

// recordSetup persists the outcome of a setup attempt. A registry halted by an
// auth failure during its first refresh is recorded as setup_error.
func (s *Service) recordSetup(ctx context.Context, entry *models.ConfigEntry, reg *registry.Registry, err error) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.WithField("entry_id", entry.ID)

	result := metrics.SetupLoaded
	switch {
	case err == nil:
		s.stateMu.Lock()
		if reg != nil && reg.Halted() {
			result = metrics.SetupRefused
			s.setState(ctx, entry.ID, models.EntryStateSetupError, reg.HaltReason().Error())
		} else {
			s.setState(ctx, entry.ID, models.EntryStateLoaded, "")
		}
		s.stateMu.Unlock()
	case errors.Is(err, registry.ErrEntryAlreadyLoaded):
		return
	case errors.Is(err, registry.ErrSetupRefused):
		result = metrics.SetupRefused
		log.WithError(err).Error("Config entry setup refused")
		s.setState(ctx, entry.ID, models.EntryStateSetupError, err.Error())
	case errors.Is(err, registry.ErrSetupDeferred):
		result = metrics.SetupDeferred
		log.WithError(err).Warn("Config entry setup deferred")
		s.setState(ctx, entry.ID, models.EntryStateSetupRetry, err.Error())
	default:
		result = metrics.SetupFailed
		log.WithError(err).Error("Config entry setup failed")
		s.setState(ctx, entry.ID, models.EntryStateSetupError, err.Error())
	}

	if s.opts.Metrics != nil {
		s.opts.Metrics.RecordSetup(result)
		s.opts.Metrics.SetLoadedEntries(len(s.manager.Entries()))
	}
}

func (s *Service) retryInBackground(entry *models.ConfigEntry) {
	s.mu.Lock()
	if _, ok := s.retrying[entry.ID]; ok || s.baseCtx.Err() != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	handle := &retryHandle{cancel: cancel, done: make(chan struct{})}
	s.retrying[entry.ID] = handle
	s.mu.Unlock()

	policy := s.opts.Retry
	started := s.goBackground(func() {
		defer s.releaseRetry(entry.ID, handle)

		// the attempt that got us here just failed
		select {
		case <-time.After(policy.InitialInterval):
		case <-ctx.Done():
			return
		}

		reg, err := s.manager.SetupWithRetry(ctx, toRegistryEntry(entry), policy)
		if ctx.Err() != nil {
			// cancelled by delete, reload or shutdown after the registry was built
			if err == nil {
				s.unload(entry.ID)
			}
			return
		}
		s.recordSetup(ctx, entry, reg, err)
	})
	if !started {
		s.releaseRetry(entry.ID, handle)
	}
}

// releaseRetry forgets handle unless a newer retry replaced it
func (s *Service) releaseRetry(id string, handle *retryHandle) {
	handle.cancel()
	s.mu.Lock()
	if s.retrying[id] == handle {
		delete(s.retrying, id)
	}
	s.mu.Unlock()
	close(handle.done)
}

func (s *Service) cancelRetry(id string) {
	s.mu.Lock()
	handle, ok := s.retrying[id]
	delete(s.retrying, id)
	s.mu.Unlock()

	if ok {
		handle.cancel()
		<-handle.done
	}
}

// goBackground runs fn on a tracked goroutine unless the service is shut down
func (s *Service) goBackground(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// attach runs between registry build and first refresh
func (s *Service) attach(entryID string, reg *registry.Registry) {
	log := s.logger.WithField("entry_id", entryID)

	list, err := entities.Build(reg, reg.API())
	if err != nil {
		log.WithError(err).Error("Failed to build entities")
	}

	le := &loadedEntry{entities: entities.Index(list)}
	for _, factory := range s.opts.Sinks {
		le.sinks = append(le.sinks, factory(entryID))
	}
	for _, e := range list {
		for _, sink := range le.sinks {
			le.stops = append(le.stops, entities.Watch(e, sink))
		}
	}

	s.mu.Lock()
	s.loaded[entryID] = le
	s.mu.Unlock()

	if s.scheduler != nil {
		if err := s.scheduler.Schedule(entryID, reg); err != nil {
			log.WithError(err).Error("Failed to schedule device polling")
		}
	}

	log.WithField("entities", len(list)).Info("Entities attached")
}

func (s *Service) detach(entryID string) {
	if s.scheduler != nil {
		s.scheduler.Unschedule(entryID)
	}

	s.mu.Lock()
	le, ok := s.loaded[entryID]
	delete(s.loaded, entryID)
	s.mu.Unlock()

	if ok {
		for _, stop := range le.stops {
			stop()
		}
	}
}

func (s *Service) unload(entryID string) {
	s.detach(entryID)
	if err := s.manager.Unload(entryID); err != nil && !errors.Is(err, registry.ErrEntryNotLoaded) {
		s.logger.WithError(err).WithField("entry_id", entryID).Warn("Failed to unload config entry")
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.SetLoadedEntries(len(s.manager.Entries()))
	}
}

// handleAuthFailure runs inside a refresh, so storage and scheduling work is
// moved off the refresh goroutine.
func (s *Service) handleAuthFailure(entryID string, device devices.Identity, err error) {
	s.logger.WithError(err).WithFields(logrus.Fields{
		"entry_id":  entryID,
		"device_id": device.ID,
	}).Error("SwitchBot rejected the account credentials, polling halted")

	s.goBackground(func() {
		if s.scheduler != nil {
			s.scheduler.Unschedule(entryID)
		}

		s.stateMu.Lock()
		defer s.stateMu.Unlock()
		// a reload may already have replaced the halted registry
		if reg, ok := s.manager.Registry(entryID); ok && !reg.Halted() {
			return
		}
		s.setState(s.baseCtx, entryID, models.EntryStateSetupError, err.Error())
	})
}

func (s *Service) setState(ctx context.Context, id string, state models.ConfigEntryState, lastError string) {
	if err := s.repo.SetState(ctx, id, state, lastError); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		s.logger.WithError(err).WithField("entry_id", id).Warn("Failed to persist config entry state")
	}
	s.notify(id, string(state), lastError)
}

func (s *Service) notify(id, state, lastError string) {
	if s.opts.Notifier != nil {
		s.opts.Notifier.PublishEntryStatus(id, state, lastError)
	}
}

func (s *Service) findEntity(id string) (string, entities.Entity, []entities.Sink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for entryID, le := range s.loaded {
		if e, ok := le.entities[id]; ok {
			return entryID, e, le.sinks, true
		}
	}
	return "", nil, nil, false
}

func newEntry(title string, creds devices.Credentials) *models.ConfigEntry {
	if title == "" {
		title = "SwitchBot"
	}
	return &models.ConfigEntry{
		ID:        uuid.New().String(),
		Title:     title,
		APIToken:  creds.Token,
		APISecret: creds.Secret,
		State:     models.EntryStateNotLoaded,
	}
}

func toRegistryEntry(entry *models.ConfigEntry) registry.Entry {
	return registry.Entry{
		ID:          entry.ID,
		Title:       entry.Title,
		Credentials: entry.Credentials(),
	}
}
