package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices/devicestest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = devices.Credentials{Token: "token", Secret: "secret"}

func fixedFactory(api devices.API) devices.APIFactory {
	return func(devices.Credentials) (devices.API, error) {
		return api, nil
	}
}

// flakyLister fails ListDevices until it has been called failures+1 times
type flakyLister struct {
	*devicestest.FakeAPI
	mu       sync.Mutex
	failures int
	err      error
}

func (f *flakyLister) ListDevices(ctx context.Context) ([]devices.Identity, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, f.err
	}
	f.mu.Unlock()
	return f.FakeAPI.ListDevices(ctx)
}

func TestManagerSetupAndUnload(t *testing.T) {
	api := devicestest.NewFakeAPI(devices.Identity{ID: "P1", Kind: devices.KindPlug})
	api.SetStatus("P1", map[string]any{"power": "on"})
	m := NewManager(fixedFactory(api), testLogger(), Options{})

	var builtFor string
	m.OnRegistryBuilt(func(entryID string, r *Registry) {
		builtFor = entryID
		c, ok := r.Coordinator("P1")
		require.True(t, ok)
		assert.Nil(t, c.CurrentSnapshot(), "built hook runs before the first refresh")
	})

	reg, err := m.Setup(context.Background(), Entry{ID: "entry-b", Credentials: testCreds})
	require.NoError(t, err)
	assert.Equal(t, "entry-b", builtFor)

	c, _ := reg.Coordinator("P1")
	assert.NotNil(t, c.CurrentSnapshot(), "setup drives the first refresh")

	_, err = m.Setup(context.Background(), Entry{ID: "entry-a", Credentials: testCreds})
	require.NoError(t, err)
	assert.Equal(t, []string{"entry-a", "entry-b"}, m.Entries())

	_, err = m.Setup(context.Background(), Entry{ID: "entry-a", Credentials: testCreds})
	assert.ErrorIs(t, err, ErrEntryAlreadyLoaded)

	got, ok := m.Registry("entry-b")
	require.True(t, ok)
	assert.Same(t, reg, got)

	require.NoError(t, m.Unload("entry-b"))
	assert.True(t, c.Status().Closed)
	assert.ErrorIs(t, m.Unload("entry-b"), ErrEntryNotLoaded)
	assert.Equal(t, []string{"entry-a"}, m.Entries())

	m.Shutdown()
	assert.Empty(t, m.Entries())
}

func TestManagerSetupRefusesMissingCredentials(t *testing.T) {
	api := devicestest.NewFakeAPI()
	m := NewManager(fixedFactory(api), testLogger(), Options{})

	_, err := m.Setup(context.Background(), Entry{ID: "e1", Credentials: devices.Credentials{Token: "only"}})
	assert.ErrorIs(t, err, ErrSetupRefused)
	assert.Equal(t, 0, api.ListCalls())
}

func TestManagerSetupFactoryError(t *testing.T) {
	m := NewManager(func(devices.Credentials) (devices.API, error) {
		return nil, errors.New("bad base url")
	}, testLogger(), Options{})

	_, err := m.Setup(context.Background(), Entry{ID: "e1", Credentials: testCreds})
	assert.ErrorIs(t, err, ErrSetupRefused)
	assert.Empty(t, m.Entries())
}

func TestManagerDoesNotStoreFailedSetup(t *testing.T) {
	api := devicestest.NewFakeAPI()
	api.ListErr = fmt.Errorf("%w: status 403", devices.ErrAuthenticationFailed)
	m := NewManager(fixedFactory(api), testLogger(), Options{})

	_, err := m.Setup(context.Background(), Entry{ID: "e1", Credentials: testCreds})
	assert.ErrorIs(t, err, ErrSetupRefused)
	_, ok := m.Registry("e1")
	assert.False(t, ok)
}

func TestManagerReportsAuthFailureWithEntry(t *testing.T) {
	api := devicestest.NewFakeAPI(devices.Identity{ID: "P1", Kind: devices.KindPlug})
	api.SetStatusErr("P1", fmt.Errorf("%w: status 401", devices.ErrAuthenticationFailed))
	m := NewManager(fixedFactory(api), testLogger(), Options{})

	var gotEntry, gotDevice string
	m.OnAuthFailure(func(entryID string, device devices.Identity, err error) {
		gotEntry = entryID
		gotDevice = device.ID
	})

	reg, err := m.Setup(context.Background(), Entry{ID: "e1", Credentials: testCreds})
	require.NoError(t, err)
	assert.True(t, reg.Halted())
	assert.Equal(t, "e1", gotEntry)
	assert.Equal(t, "P1", gotDevice)
}

func TestSetupWithRetryRecoversFromDeferral(t *testing.T) {
	fake := devicestest.NewFakeAPI(devices.Identity{ID: "P1", Kind: devices.KindPlug})
	api := &flakyLister{FakeAPI: fake, failures: 2, err: devices.ErrConnectionFailed}
	m := NewManager(fixedFactory(api), testLogger(), Options{})

	reg, err := m.SetupWithRetry(context.Background(), Entry{ID: "e1", Credentials: testCreds}, RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, []string{"e1"}, m.Entries())
}

func TestSetupWithRetryStopsOnRefusal(t *testing.T) {
	fake := devicestest.NewFakeAPI()
	api := &flakyLister{FakeAPI: fake, failures: 10, err: devices.ErrAuthenticationFailed}
	m := NewManager(fixedFactory(api), testLogger(), Options{})

	_, err := m.SetupWithRetry(context.Background(), Entry{ID: "e1", Credentials: testCreds}, RetryPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  5 * time.Second,
	})
	assert.ErrorIs(t, err, ErrSetupRefused)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 9, api.failures, "refused setups are attempted once")
}
