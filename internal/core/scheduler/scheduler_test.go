package scheduler

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices/devicestest"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/registry"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func buildRegistry(t *testing.T, api *devicestest.FakeAPI) *registry.Registry {
	t.Helper()
	reg, err := registry.Build(context.Background(), api, testLogger(), registry.Options{})
	require.NoError(t, err)
	return reg
}

func TestScheduleSkipsNonPollingDevices(t *testing.T) {
	api := devicestest.NewFakeAPI(
		devices.Identity{ID: "P1", Kind: devices.KindPlug},
		devices.Identity{ID: "R1", Kind: devices.KindRemote},
		devices.Identity{ID: "M1", Kind: devices.KindTemperatureMeter},
	)
	s := New(time.Minute, testLogger())
	require.NoError(t, s.Schedule("e1", buildRegistry(t, api)))

	var scheduled []string
	for _, job := range s.Jobs("e1") {
		scheduled = append(scheduled, job.DeviceID)
	}
	assert.ElementsMatch(t, []string{"P1", "M1"}, scheduled)

	assert.Error(t, s.Schedule("e1", buildRegistry(t, api)))
}

func TestRunNowRefreshesEveryDevice(t *testing.T) {
	api := devicestest.NewFakeAPI(
		devices.Identity{ID: "P1", Kind: devices.KindPlug},
		devices.Identity{ID: "M1", Kind: devices.KindTemperatureMeter},
	)
	api.SetStatus("P1", map[string]any{"power": "on"})
	api.SetStatus("M1", map[string]any{"temperature": 19.0})

	reg := buildRegistry(t, api)
	s := New(time.Minute, testLogger())
	require.NoError(t, s.Schedule("e1", reg))

	s.RunNow("e1")

	assert.Equal(t, 1, api.StatusCalls("P1"))
	assert.Equal(t, 1, api.StatusCalls("M1"))
	c, _ := reg.Coordinator("M1")
	assert.NotNil(t, c.CurrentSnapshot())
}

func TestHaltedRegistryIsSkipped(t *testing.T) {
	api := devicestest.NewFakeAPI(devices.Identity{ID: "P1", Kind: devices.KindPlug})
	api.SetStatusErr("P1", fmt.Errorf("%w: 401", devices.ErrAuthenticationFailed))

	reg := buildRegistry(t, api)
	reg.RefreshAll(context.Background())
	require.True(t, reg.Halted())

	s := New(time.Minute, testLogger())
	require.NoError(t, s.Schedule("e1", reg))
	s.RunNow("e1")
	s.RunNow("e1")

	assert.Equal(t, 1, api.StatusCalls("P1"), "no calls after the halt")
	jobs := s.Jobs("e1")
	require.Len(t, jobs, 1)
	assert.Equal(t, int64(2), jobs[0].Skipped.Load())
	assert.Equal(t, int64(0), jobs[0].RunCount.Load())
}

func TestUnscheduleRemovesJobs(t *testing.T) {
	api := devicestest.NewFakeAPI(devices.Identity{ID: "P1", Kind: devices.KindPlug})
	s := New(time.Minute, testLogger())
	require.NoError(t, s.Schedule("e1", buildRegistry(t, api)))
	require.Len(t, s.Jobs("e1"), 1)

	s.Unschedule("e1")
	assert.Empty(t, s.Jobs("e1"))
	s.RunNow("e1")
	assert.Equal(t, 0, api.StatusCalls("P1"))
}

func TestStartStop(t *testing.T) {
	s := New(10*time.Millisecond, testLogger())
	assert.Equal(t, time.Second, s.Interval())

	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())
}
