package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/config"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices/devicestest"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/entities"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/registry"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/scheduler"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/models"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/repositories"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/database/sqlite"
	"github.com/frostdev-ops/pma-switchbot-cloud/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creds = devices.Credentials{Token: "token", Secret: "secret"}

type recordingSink struct {
	mu     sync.Mutex
	states []EntityState
}

func (r *recordingSink) factory(entryID string) entities.Sink {
	return entities.SinkFunc(func(s entities.State) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states = append(r.states, EntityState{EntryID: entryID, State: s})
	})
}

func (r *recordingSink) last(entityID string) (EntityState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.states) - 1; i >= 0; i-- {
		if r.states[i].EntityID == entityID {
			return r.states[i], true
		}
	}
	return EntityState{}, false
}

type recordingNotifier struct {
	mu     sync.Mutex
	states []string
}

func (n *recordingNotifier) PublishEntryStatus(entryID, state, lastError string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
}

func (n *recordingNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

// flakyAPI fails ListDevices with a connection error a fixed number of times
type flakyAPI struct {
	*devicestest.FakeAPI
	mu       sync.Mutex
	failures int
}

func (f *flakyAPI) ListDevices(ctx context.Context) ([]devices.Identity, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, devices.ErrConnectionFailed
	}
	f.mu.Unlock()
	return f.FakeAPI.ListDevices(ctx)
}

// stallingAPI fails the first enumeration, then holds the next one until its
// context is cancelled and answers it anyway
type stallingAPI struct {
	*devicestest.FakeAPI
	mu      sync.Mutex
	calls   int
	stalled chan struct{}
}

func newStallingAPI() *stallingAPI {
	return &stallingAPI{FakeAPI: homeAPI(), stalled: make(chan struct{})}
}

func (a *stallingAPI) ListDevices(ctx context.Context) ([]devices.Identity, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()

	switch call {
	case 1:
		return nil, devices.ErrConnectionFailed
	case 2:
		close(a.stalled)
		<-ctx.Done()
	}
	return a.FakeAPI.ListDevices(context.Background())
}

type fixture struct {
	svc      *Service
	repo     repositories.ConfigEntryRepository
	sched    *scheduler.Scheduler
	sink     *recordingSink
	notifier *recordingNotifier
}

func newFixture(t *testing.T, api devices.API) *fixture {
	t.Helper()
	log := logger.Discard()

	db, err := database.Open(config.DatabaseConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(db))

	repo := sqlite.NewConfigEntryRepository(db, log)
	manager := registry.NewManager(func(devices.Credentials) (devices.API, error) {
		return api, nil
	}, log, registry.Options{})
	sched := scheduler.New(time.Hour, log)

	f := &fixture{repo: repo, sched: sched, sink: &recordingSink{}, notifier: &recordingNotifier{}}
	f.svc = NewService(repo, manager, sched, log, Options{
		Retry: registry.RetryPolicy{
			InitialInterval: 10 * time.Millisecond,
			MaxInterval:     20 * time.Millisecond,
			MaxElapsedTime:  5 * time.Second,
		},
		Sinks:    []SinkFactory{f.sink.factory},
		Notifier: f.notifier,
	})
	t.Cleanup(f.svc.Shutdown)
	return f
}

func homeAPI() *devicestest.FakeAPI {
	api := devicestest.NewFakeAPI(
		devices.Identity{ID: "P1", Name: "Desk", Kind: devices.KindPlug, VendorType: "Plug Mini (US)"},
		devices.Identity{ID: "M1", Name: "Office", Kind: devices.KindTemperatureMeter, VendorType: "Meter"},
		devices.Identity{ID: "R1", Name: "TV", Kind: devices.KindRemote, VendorType: "TV"},
	)
	api.SetStatus("P1", map[string]any{"power": "on", "voltage": 120.0})
	api.SetStatus("M1", map[string]any{"temperature": 21.5, "humidity": 40.0, "battery": 90.0})
	return api
}

func (f *fixture) state(t *testing.T, id string) models.ConfigEntryState {
	t.Helper()
	entry, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return entry.State
}

func TestCreateEntryLoadsEntities(t *testing.T) {
	f := newFixture(t, homeAPI())

	entry, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStateLoaded, entry.State)
	assert.Equal(t, "Home", entry.Title)

	all := f.svc.Entities()
	ids := make([]string, 0, len(all))
	for _, e := range all {
		ids = append(ids, e.EntityID)
		assert.Equal(t, entry.ID, e.EntryID)
	}
	assert.Equal(t, []string{"M1_humidity", "M1_temperature", "P1", "R1"}, ids)

	plug, err := f.svc.Entity("P1")
	require.NoError(t, err)
	assert.True(t, plug.Available)
	assert.Equal(t, true, plug.Attributes["is_on"])

	temp, ok := f.sink.last("M1_temperature")
	require.True(t, ok, "sink receives state after the first refresh")
	assert.True(t, temp.Available)

	assert.Len(t, f.sched.Jobs(entry.ID), 2, "remotes are not polled")
	assert.Contains(t, f.notifier.seen(), string(models.EntryStateLoaded))
}

func TestCreateEntryRefusedIsNotStored(t *testing.T) {
	api := homeAPI()
	api.ListErr = devices.ErrAuthenticationFailed
	f := newFixture(t, api)

	_, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	assert.ErrorIs(t, err, registry.ErrSetupRefused)

	entries, err := f.svc.Entries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateEntryMissingSecret(t *testing.T) {
	f := newFixture(t, homeAPI())

	_, err := f.svc.CreateEntry(context.Background(), "Home", devices.Credentials{Token: "t"})
	assert.ErrorIs(t, err, registry.ErrSetupRefused)
}

func TestDeferredEntryRetriesInBackground(t *testing.T) {
	api := &flakyAPI{FakeAPI: homeAPI(), failures: 2}
	f := newFixture(t, api)

	entry, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStateSetupRetry, entry.State)
	assert.NotEmpty(t, entry.LastError)

	assert.Eventually(t, func() bool {
		return f.state(t, entry.ID) == models.EntryStateLoaded
	}, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, f.svc.Entities(), 4)
}

func TestRemoteCommandPublishesAssumedState(t *testing.T) {
	api := homeAPI()
	f := newFixture(t, api)
	_, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)

	state, err := f.svc.SendCommand(context.Background(), "R1", devices.Command{Name: devices.CommandTurnOn})
	require.NoError(t, err)
	assert.Equal(t, true, state.Attributes["is_on"])

	last, ok := f.sink.last("R1")
	require.True(t, ok)
	assert.Equal(t, true, last.Attributes["is_on"])

	require.Len(t, api.Commands(), 1)
	assert.Equal(t, devicestest.SentCommand{
		DeviceID: "R1",
		Command:  devices.Command{Name: devices.CommandTurnOn, Type: devices.CommandTypeDefault, Parameters: devices.ParameterDefault},
	}, api.Commands()[0])
}

func TestPlugCommandRefreshesDevice(t *testing.T) {
	api := homeAPI()
	f := newFixture(t, api)
	_, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)
	before := api.StatusCalls("P1")

	api.SetStatus("P1", map[string]any{"power": "off"})
	_, err = f.svc.SendCommand(context.Background(), "P1", devices.Command{Name: devices.CommandTurnOff})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := f.svc.Entity("P1")
		return err == nil && api.StatusCalls("P1") > before && s.Attributes["is_on"] == false
	}, time.Second, 10*time.Millisecond)
}

func TestUnknownEntityAndDevice(t *testing.T) {
	f := newFixture(t, homeAPI())

	_, err := f.svc.Entity("nope")
	assert.ErrorIs(t, err, ErrEntityNotFound)

	_, err = f.svc.SendCommand(context.Background(), "nope", devices.Command{Name: devices.CommandTurnOn})
	assert.ErrorIs(t, err, ErrEntityNotFound)

	_, err = f.svc.RefreshDevice(context.Background(), "nope")
	assert.ErrorIs(t, err, devices.ErrDeviceNotFound)
}

func TestAuthFailureMarksEntrySetupError(t *testing.T) {
	api := homeAPI()
	f := newFixture(t, api)
	entry, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)

	api.SetStatusErr("P1", devices.ErrAuthenticationFailed)
	_, err = f.svc.RefreshDevice(context.Background(), "P1")
	assert.ErrorIs(t, err, devices.ErrAuthenticationFailed)

	assert.Eventually(t, func() bool {
		return f.state(t, entry.ID) == models.EntryStateSetupError
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(f.sched.Jobs(entry.ID)) == 0 }, time.Second, 10*time.Millisecond)

	health := f.svc.Health(context.Background())
	assert.Equal(t, "degraded", health.Status)

	// fixing the account and reloading recovers the entry
	api.SetStatus("P1", map[string]any{"power": "on"})
	reloaded, err := f.svc.ReloadEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStateLoaded, reloaded.State)
	assert.Equal(t, "healthy", f.svc.Health(context.Background()).Status)
}

func TestAuthFailureDuringFirstRefreshIsNotReportedLoaded(t *testing.T) {
	api := homeAPI()
	api.SetStatusErr("P1", devices.ErrAuthenticationFailed)
	f := newFixture(t, api)

	entry, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStateSetupError, entry.State)
	assert.Contains(t, entry.LastError, devices.ErrAuthenticationFailed.Error())

	reg, ok := f.svc.manager.Registry(entry.ID)
	require.True(t, ok)
	assert.True(t, reg.Halted())

	// drains the background auth handling
	f.svc.Shutdown()
	assert.Equal(t, models.EntryStateSetupError, f.state(t, entry.ID))
	assert.Empty(t, f.sched.Jobs(entry.ID))
}

func TestDeleteEntryDuringBackgroundSetup(t *testing.T) {
	api := newStallingAPI()
	f := newFixture(t, api)

	entry, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)
	require.Equal(t, models.EntryStateSetupRetry, entry.State)

	select {
	case <-api.stalled:
	case <-time.After(3 * time.Second):
		t.Fatal("background setup never started")
	}

	require.NoError(t, f.svc.DeleteEntry(context.Background(), entry.ID))

	_, ok := f.svc.manager.Registry(entry.ID)
	assert.False(t, ok)
	assert.Empty(t, f.svc.Entities())
	assert.Empty(t, f.svc.Devices())
	assert.Empty(t, f.sched.Jobs(entry.ID))
}

func TestReloadEntryDuringBackgroundSetup(t *testing.T) {
	api := newStallingAPI()
	f := newFixture(t, api)

	entry, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)

	select {
	case <-api.stalled:
	case <-time.After(3 * time.Second):
		t.Fatal("background setup never started")
	}

	reloaded, err := f.svc.ReloadEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryStateLoaded, reloaded.State)
	assert.Len(t, f.svc.Entities(), 4)
	assert.NotEmpty(t, f.sched.Jobs(entry.ID))
}

func TestNoBackgroundWorkAfterShutdown(t *testing.T) {
	f := newFixture(t, homeAPI())
	f.svc.Shutdown()

	started := f.svc.goBackground(func() { t.Error("ran after shutdown") })
	assert.False(t, started)

	// a second shutdown is harmless
	f.svc.Shutdown()
}

func TestDeleteEntry(t *testing.T) {
	f := newFixture(t, homeAPI())
	entry, err := f.svc.CreateEntry(context.Background(), "Home", creds)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteEntry(context.Background(), entry.ID))
	assert.Empty(t, f.svc.Entities())
	assert.Empty(t, f.svc.Devices())
	assert.Empty(t, f.sched.Jobs(entry.ID))

	_, err = f.repo.Get(context.Background(), entry.ID)
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	assert.ErrorIs(t, f.svc.DeleteEntry(context.Background(), entry.ID), repositories.ErrNotFound)
}

func TestStartLoadsStoredEntries(t *testing.T) {
	f := newFixture(t, homeAPI())

	entry, err := f.svc.EnsureEntry(context.Background(), "Seeded", creds)
	require.NoError(t, err)
	again, err := f.svc.EnsureEntry(context.Background(), "Seeded", creds)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)

	require.NoError(t, f.svc.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return f.state(t, entry.ID) == models.EntryStateLoaded
	}, time.Second, 10*time.Millisecond)

	views := f.svc.Devices()
	assert.Len(t, views, 3)
}
