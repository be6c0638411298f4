package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-switchbot-cloud/internal/core/devices"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	defaultRequestTimeout = 30 * time.Second

	// single key: one coordinator only ever has one kind of flight
	flightKey = "refresh"
)

// ErrCoordinatorClosed is returned by Refresh once the coordinator was torn down
var ErrCoordinatorClosed = errors.New("coordinator closed")

// RefreshError describes a failed refresh attempt
type RefreshError struct {
	DeviceID string
	Kind     devices.FailureKind
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh %s failed (%s): %v", e.DeviceID, e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// Update is delivered to listeners after every refresh attempt.
//
// Snapshot is the coordinator's current snapshot after the attempt: the new
// one on success, the previous (possibly nil) one on failure.
type Update struct {
	Device   devices.Identity
	Snapshot *Snapshot
	Err      *RefreshError
	Seq      uint64
	At       time.Time
}

// Failed reports whether the attempt that produced the update failed
func (u Update) Failed() bool {
	return u.Err != nil
}

// Listener receives refresh updates. Listeners run on the refreshing
// goroutine, must return quickly and must not call Refresh synchronously.
type Listener func(Update)

// Subscription is the handle returned by Subscribe
type Subscription struct {
	id uint64
}

// Observer receives timing and outcome information for every fetch
type Observer interface {
	ObserveRefresh(device devices.Identity, outcome devices.FailureKind, elapsed time.Duration)
	ObserveCoalesced(device devices.Identity)
}

type nopObserver struct{}

func (nopObserver) ObserveRefresh(devices.Identity, devices.FailureKind, time.Duration) {}
func (nopObserver) ObserveCoalesced(devices.Identity)                                  {}

// Options tune a coordinator
type Options struct {
	// RequestTimeout bounds a single fetch regardless of how many callers wait on it.
	RequestTimeout time.Duration
	Observer       Observer
	// OnAuthFailure is invoked after a refresh is rejected for bad credentials.
	OnAuthFailure func(device devices.Identity, err error)
}

// Status is a point-in-time view of a coordinator for diagnostics
type Status struct {
	Device      devices.Identity    `json:"device"`
	Snapshot    *Snapshot           `json:"snapshot,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	FailureKind devices.FailureKind `json:"failure_kind"`
	LastAttempt *time.Time          `json:"last_attempt,omitempty"`
	Refreshing  bool                `json:"refreshing"`
	Subscribers int                 `json:"subscribers"`
	Closed      bool                `json:"closed"`
}

// Coordinator owns refresh scheduling and cached state for exactly one device
type Coordinator struct {
	device devices.Identity
	api    devices.API
	logger *logrus.Logger
	opts   Options

	flight   singleflight.Group
	inFlight atomic.Bool
	state    atomic.Pointer[Snapshot]

	mu          sync.RWMutex
	lastErr     *RefreshError
	lastAttempt time.Time
	seq         uint64
	closed      bool
	subscribers []subscriber
	nextSubID   uint64
}

type subscriber struct {
	id       uint64
	listener Listener
}

// New creates a coordinator for device using the shared api handle
func New(device devices.Identity, api devices.API, logger *logrus.Logger, opts Options) *Coordinator {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	return &Coordinator{
		device: device,
		api:    api,
		logger: logger,
		opts:   opts,
	}
}

// Device returns the identity the coordinator was created for
func (c *Coordinator) Device() devices.Identity {
	return c.device
}

// CurrentSnapshot returns the last successfully fetched snapshot, or nil.
// It never blocks and never touches the network.
func (c *Coordinator) CurrentSnapshot() *Snapshot {
	return c.state.Load()
}

// LastError returns the classification of the most recent failed refresh,
// or nil if the last refresh succeeded.
func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastErr == nil {
		return nil
	}
	return c.lastErr
}

// Refreshing reports whether a fetch is outstanding
func (c *Coordinator) Refreshing() bool {
	return c.inFlight.Load()
}

// Refresh fetches the device state.
//
// Concurrent callers share one underlying fetch and all observe its outcome.
// A caller whose ctx ends stops waiting, but the fetch itself keeps running
// for the remaining callers, bounded by Options.RequestTimeout.
func (c *Coordinator) Refresh(ctx context.Context) error {
	if c.isClosed() {
		return ErrCoordinatorClosed
	}

	if c.inFlight.Load() {
		c.opts.Observer.ObserveCoalesced(c.device)
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(flightKey, func() (interface{}, error) {
		return nil, c.run(fetchCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	values, err := c.fetch(ctx)
	elapsed := time.Since(start)

	kind := devices.Classify(err)
	c.opts.Observer.ObserveRefresh(c.device, kind, elapsed)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.WithField("device_id", c.device.ID).Debug("Discarding refresh result for closed coordinator")
		return ErrCoordinatorClosed
	}

	c.seq++
	c.lastAttempt = time.Now()
	update := Update{
		Device: c.device,
		Seq:    c.seq,
		At:     c.lastAttempt,
	}

	if err != nil {
		c.lastErr = &RefreshError{DeviceID: c.device.ID, Kind: kind, Err: err}
		update.Err = c.lastErr
	} else {
		c.state.Store(NewSnapshot(values, c.lastAttempt))
		c.lastErr = nil
	}
	update.Snapshot = c.state.Load()
	listeners := c.listenersLocked()
	c.mu.Unlock()

	// Listeners are called before the flight resolves, so the next refresh
	// cannot start, and cannot notify, before this one has finished notifying.
	for _, listener := range listeners {
		c.notify(listener, update)
	}

	if update.Err == nil {
		c.logger.WithFields(logrus.Fields{
			"device_id":  c.device.ID,
			"attributes": update.Snapshot.Len(),
			"elapsed":    elapsed,
		}).Debug("Device refreshed")
		return nil
	}

	entry := c.logger.WithError(err).WithFields(logrus.Fields{
		"device_id": c.device.ID,
		"failure":   kind.String(),
		"stale":     update.Snapshot != nil,
	})
	if kind == devices.FailureAuth {
		entry.Error("Device refresh rejected, credentials are no longer valid")
		if c.opts.OnAuthFailure != nil {
			c.opts.OnAuthFailure(c.device, update.Err)
		}
	} else {
		entry.Warn("Device refresh failed, keeping last known state")
	}

	return update.Err
}

func (c *Coordinator) fetch(ctx context.Context) (map[string]any, error) {
	if !c.device.Kind.Polls() {
		return map[string]any{}, nil
	}

	values, err := c.api.DeviceStatus(ctx, c.device.ID)
	if err != nil {
		return nil, err
	}
	if values == nil {
		return nil, fmt.Errorf("%w: empty status body", devices.ErrMalformedResponse)
	}
	return values, nil
}

func (c *Coordinator) notify(listener Listener, update Update) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"device_id": c.device.ID,
				"panic":     r,
			}).Error("Refresh listener panicked")
		}
	}()
	listener(update)
}

func (c *Coordinator) listenersLocked() []Listener {
	listeners := make([]Listener, 0, len(c.subscribers))
	for _, s := range c.subscribers {
		listeners = append(listeners, s.listener)
	}
	return listeners
}

// Subscribe registers a listener invoked after every refresh attempt.
// It does not trigger a refresh.
func (c *Coordinator) Subscribe(listener Listener) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Subscription{}
	}

	c.nextSubID++
	c.subscribers = append(c.subscribers, subscriber{id: c.nextSubID, listener: listener})
	return Subscription{id: c.nextSubID}
}

// Unsubscribe removes a listener. It reports whether the handle was active.
func (c *Coordinator) Unsubscribe(sub Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.subscribers {
		if s.id == sub.id {
			c.subscribers = append(c.subscribers[:i:i], c.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// Close tears the coordinator down. An in-flight refresh is allowed to finish
// but its result is dropped and no listener is notified.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.subscribers = nil
}

func (c *Coordinator) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Status returns a diagnostic view of the coordinator
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		Device:      c.device,
		Snapshot:    c.state.Load(),
		Refreshing:  c.inFlight.Load(),
		Subscribers: len(c.subscribers),
		Closed:      c.closed,
	}
	if c.lastErr != nil {
		status.LastError = c.lastErr.Err.Error()
		status.FailureKind = c.lastErr.Kind
	}
	if !c.lastAttempt.IsZero() {
		at := c.lastAttempt
		status.LastAttempt = &at
	}
	return status
}
