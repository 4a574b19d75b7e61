// Package fastpush implements the fast-push scheduler: a debounced,
// buffer-triggered push-only cycle with a throttled full-sync follow-up
// (§4.6).
package fastpush

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config tunes the scheduler (§4.6, §6.4).
type Config struct {
	// Debounce coalesces bursts of local writes into one push. Default 1.5s.
	Debounce time.Duration
	// MaxBuffer bypasses debounce and pushes immediately once pending
	// count reaches this. Default 20.
	MaxBuffer int
	// ScheduleFullSync enables scheduling a full sync after a successful
	// push-only cycle (FAST_PUSH_SCHEDULE_FULL_SYNC).
	ScheduleFullSync bool
	// FullSyncThrottle is the minimum time between full syncs driven by
	// this scheduler. Default 5 minutes.
	FullSyncThrottle time.Duration
	// PreferWifi defers a scheduled full sync while on a cellular-only
	// connection (FULL_SYNC_PREFER_WIFI); the Scheduler relies on
	// IsCellularOnly to know the current transport.
	PreferWifi bool
}

func (c Config) normalize() Config {
	if c.Debounce <= 0 {
		c.Debounce = 1500 * time.Millisecond
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = 20
	}
	if c.FullSyncThrottle <= 0 {
		c.FullSyncThrottle = 5 * time.Minute
	}
	return c
}

// Metrics is the scheduler's observability snapshot (§4.6 "Metrics").
type Metrics struct {
	CoalescedMutations int
	PushCount          int
	ThrottledFullSyncs int
	LastPushAt         time.Time
	LastFullSyncAt     time.Time
}

// Hooks wire the scheduler to the rest of the core without a direct
// dependency on the engine or transport packages.
type Hooks struct {
	// Online reports current connectivity.
	Online func() bool
	// IsCellularOnly reports whether the current connection is
	// cellular-only, consulted when PreferWifi is set.
	IsCellularOnly func() bool
	// PushOnly runs the engine's push-only cycle. Returning an error
	// means the push failed and no full sync will be scheduled from it.
	PushOnly func(ctx context.Context) error
	// FullSync runs a complete sync cycle.
	FullSync func(ctx context.Context)
	// OnThrottled, if set, is called every time a scheduled full sync is
	// deferred because it falls inside the throttle window (§4.6
	// "Metrics" throttled-full-sync count), so an external metrics sink
	// can track it alongside the scheduler's own Snapshot.
	OnThrottled func()
}

// Scheduler implements §4.6's debounce/max-buffer/throttle scheduler.
type Scheduler struct {
	cfg   Config
	hooks Hooks

	mu             sync.Mutex
	pendingCount   int
	debounceTimer  *time.Timer
	fullSyncTimer  *time.Timer
	pushInFlight   bool
	lastFullSyncAt time.Time
	metrics        Metrics

	ctx context.Context
}

// New constructs a Scheduler. ctx bounds the lifetime of any timers it
// arms; Close (via CancelAll) is the normal teardown path regardless.
func New(ctx context.Context, cfg Config, hooks Hooks) *Scheduler {
	return &Scheduler{cfg: cfg.normalize(), hooks: hooks, ctx: ctx}
}

// SetHooks replaces the scheduler's hooks. Lifecycle wiring constructs the
// scheduler before the engine exists (the queue needs NotifyMutationAdded
// before the engine can be built), then fills in PushOnly/FullSync once
// the engine is available.
func (s *Scheduler) SetHooks(hooks Hooks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = hooks
}

// NotifyMutationAdded is called by the queue on every enqueue while
// SYNC_OPT_FAST_PUSH_ONLY is on. It increments the pending counter and
// (re)arms the debounce timer; at MaxBuffer it fires immediately.
func (s *Scheduler) NotifyMutationAdded() {
	s.mu.Lock()
	s.pendingCount++
	s.metrics.CoalescedMutations++
	count := s.pendingCount
	s.mu.Unlock()

	if count >= s.cfg.MaxBuffer {
		s.fire()
		return
	}
	s.armDebounce()
}

func (s *Scheduler) armDebounce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = time.AfterFunc(s.cfg.Debounce, s.fire)
}

// FlushNow forces an immediate push, ignoring the debounce timer.
func (s *Scheduler) FlushNow() {
	s.fire()
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	if s.pushInFlight {
		s.mu.Unlock()
		return
	}
	online := s.hooks.Online == nil || s.hooks.Online()
	if !online {
		s.mu.Unlock()
		return
	}
	s.pushInFlight = true
	s.pendingCount = 0
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.pushInFlight = false
		s.mu.Unlock()
	}()

	if s.hooks.PushOnly == nil {
		return
	}

	err := s.hooks.PushOnly(s.ctx)

	s.mu.Lock()
	s.metrics.PushCount++
	s.metrics.LastPushAt = time.Now().UTC()
	s.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("fast-push cycle failed")
		return
	}

	if s.cfg.ScheduleFullSync {
		s.maybeScheduleFullSync()
	}
}

func (s *Scheduler) maybeScheduleFullSync() {
	if s.cfg.PreferWifi && s.hooks.IsCellularOnly != nil && s.hooks.IsCellularOnly() {
		return
	}

	s.mu.Lock()
	elapsed := time.Since(s.lastFullSyncAt)
	if !s.lastFullSyncAt.IsZero() && elapsed < s.cfg.FullSyncThrottle {
		remaining := s.cfg.FullSyncThrottle - elapsed
		s.metrics.ThrottledFullSyncs++
		if s.fullSyncTimer != nil {
			s.fullSyncTimer.Stop()
		}
		s.fullSyncTimer = time.AfterFunc(remaining, s.runFullSync)
		s.mu.Unlock()
		if s.hooks.OnThrottled != nil {
			s.hooks.OnThrottled()
		}
		return
	}
	s.mu.Unlock()

	s.runFullSync()
}

func (s *Scheduler) runFullSync() {
	if s.hooks.FullSync == nil {
		return
	}
	s.hooks.FullSync(s.ctx)
}

// NotifyFullSyncCompleted is called by the engine when any full sync
// completes (scheduler-driven or otherwise); it updates the last-full-sync
// timestamp and cancels any pending scheduled full sync (§4.6).
func (s *Scheduler) NotifyFullSyncCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFullSyncAt = time.Now().UTC()
	s.metrics.LastFullSyncAt = s.lastFullSyncAt
	if s.fullSyncTimer != nil {
		s.fullSyncTimer.Stop()
		s.fullSyncTimer = nil
	}
}

// CancelAll clears all timers and counters (used on teardown).
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	if s.fullSyncTimer != nil {
		s.fullSyncTimer.Stop()
		s.fullSyncTimer = nil
	}
	s.pendingCount = 0
}

// Snapshot returns the current metrics (§4.6 "Metrics").
func (s *Scheduler) Snapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}
