package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/coordinator"
	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/registry"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const minPollInterval = time.Second

// ScheduledDevice is one polling job
type ScheduledDevice struct {
	DeviceID string
	CronID   cron.EntryID
	RunCount atomic.Int64
	Skipped  atomic.Int64

	run func()
}

// Scheduler triggers coordinator refreshes on a fixed interval
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	logger   *logrus.Logger

	mu      sync.RWMutex
	entries map[string][]*ScheduledDevice
	running bool
}

// New creates a scheduler polling every interval
func New(interval time.Duration, logger *logrus.Logger) *Scheduler {
	if interval < minPollInterval {
		interval = minPollInterval
	}

	cronLogger := &cronLogrus{logger: logger}
	cronInstance := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger),
		cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		),
	)

	return &Scheduler{
		cron:     cronInstance,
		interval: interval,
		logger:   logger,
		entries:  make(map[string][]*ScheduledDevice),
	}
}

// Interval returns the polling interval
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true
	s.logger.WithField("interval", s.interval).Info("Refresh scheduler started")
	return nil
}

// Stop stops the scheduler and waits for running refreshes
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("scheduler is not running")
	}

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.logger.Info("All refresh jobs completed")
	case <-time.After(30 * time.Second):
		s.logger.Warn("Timeout waiting for refresh jobs to complete")
	}

	s.running = false
	s.logger.Info("Refresh scheduler stopped")
	return nil
}

// Schedule adds one polling job per device of reg that exposes a status endpoint
func (s *Scheduler) Schedule(entryID string, reg *registry.Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entryID]; exists {
		return fmt.Errorf("entry %s is already scheduled", entryID)
	}

	spec := "@every " + s.interval.String()
	var jobs []*ScheduledDevice

	for _, binding := range reg.Devices() {
		if !binding.Device.Kind.Polls() {
			continue
		}

		job := &ScheduledDevice{DeviceID: binding.Device.ID}
		job.run = s.refreshJob(entryID, reg, binding, job)

		id, err := s.cron.AddFunc(spec, job.run)
		if err != nil {
			for _, j := range jobs {
				s.cron.Remove(j.CronID)
			}
			return fmt.Errorf("schedule device %s: %w", binding.Device.ID, err)
		}
		job.CronID = id
		jobs = append(jobs, job)
	}

	s.entries[entryID] = jobs
	s.logger.WithFields(logrus.Fields{
		"entry_id": entryID,
		"jobs":     len(jobs),
	}).Info("Scheduled device polling")
	return nil
}

// Unschedule removes every job of an entry
func (s *Scheduler) Unschedule(entryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.entries[entryID] {
		s.cron.Remove(job.CronID)
	}
	delete(s.entries, entryID)
}

// Jobs returns the jobs scheduled for an entry
func (s *Scheduler) Jobs(entryID string) []*ScheduledDevice {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*ScheduledDevice(nil), s.entries[entryID]...)
}

// RunNow runs every job of an entry once, synchronously
func (s *Scheduler) RunNow(entryID string) {
	var wg sync.WaitGroup
	for _, job := range s.Jobs(entryID) {
		wg.Add(1)
		go func(run func()) {
			defer wg.Done()
			run()
		}(job.run)
	}
	wg.Wait()
}

func (s *Scheduler) refreshJob(entryID string, reg *registry.Registry, binding registry.Binding, job *ScheduledDevice) func() {
	return func() {
		if reg.Halted() {
			job.Skipped.Add(1)
			return
		}
		job.RunCount.Add(1)

		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()

		err := binding.Coordinator.Refresh(ctx)
		if err != nil && !errors.Is(err, coordinator.ErrCoordinatorClosed) {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"entry_id":  entryID,
				"device_id": binding.Device.ID,
			}).Debug("Scheduled refresh failed")
		}
	}
}

// cronLogrus adapts logrus to cron.Logger
type cronLogrus struct {
	logger *logrus.Logger
}

func (l *cronLogrus) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l *cronLogrus) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error("cron: " + msg)
}

func kvFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
