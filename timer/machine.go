// Package timer implements the persisted work/break countdown.
package timer

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-focus/clock"
	"prism-focus/domain"
	"prism-focus/storage"
)

const tickInterval = time.Second

// persistTimeout bounds the snapshot write done from the tick goroutine.
const persistTimeout = 5 * time.Second

// ExpiryHandler is told about every interval that runs out while the machine
// is ticking. Expired must not block.
type ExpiryHandler interface {
	Expired(mode domain.Mode, at time.Time)
}

// Option configures a Machine.
type Option func(*Machine)

// WithExpiryHandler sets the receiver of expiration events.
func WithExpiryHandler(h ExpiryHandler) Option {
	return func(m *Machine) { m.expiry = h }
}

// WithOnChange registers a callback invoked with the new status after each
// committed transition or tick.
func WithOnChange(fn func(domain.TimerStatus)) Option {
	return func(m *Machine) { m.onChange = fn }
}

// Machine is the countdown state machine. All transitions and ticks are
// serialized by mu; at most one tick is scheduled at a time.
type Machine struct {
	kv       storage.KV
	clock    clock.Clock
	settings domain.TimerSettings
	expiry   ExpiryHandler
	onChange func(domain.TimerStatus)

	mu        sync.Mutex
	mode      domain.Mode
	state     domain.TimerState
	remaining int
	startedAt time.Time
	total     int
	tick      clock.Timer
	gen       uint64
	seq       uint64

	// commitMu orders snapshot writes so an older state never lands after
	// a newer one.
	commitMu  sync.Mutex
	committed uint64
}

// New returns an idle machine in work mode at its default length.
func New(kv storage.KV, clk clock.Clock, settings domain.TimerSettings, opts ...Option) *Machine {
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Machine{kv: kv, clock: clk, settings: settings}
	for _, opt := range opts {
		opt(m)
	}
	initial := Reconcile(nil, clk.Now(), settings)
	m.apply(initial)
	return m
}

// Open loads the persisted snapshot, reconciles it against the clock and
// resumes from the result.
func Open(ctx context.Context, kv storage.KV, clk clock.Clock, settings domain.TimerSettings, opts ...Option) (*Machine, error) {
	m := New(kv, clk, settings, opts...)
	snap, err := LoadSnapshot(ctx, kv)
	if err != nil {
		return nil, err
	}
	initial := Reconcile(snap, m.clock.Now(), settings)
	if initial.ExpiredAway {
		log.WithFields(log.Fields{"mode": initial.Mode}).Info("timer interval expired while stopped")
	}
	if err := m.Resume(ctx, initial); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Machine) apply(initial Initial) {
	m.mode = initial.Mode
	m.state = initial.State
	m.remaining = initial.RemainingSeconds
	m.startedAt = initial.StartedAt
	m.total = initial.TotalSeconds
}

// Resume installs initial as the current state, restarts the tick when it is
// running and persists the reconciled snapshot.
func (m *Machine) Resume(ctx context.Context, initial Initial) error {
	m.mu.Lock()
	m.cancelLocked()
	m.apply(initial)
	if m.state == domain.Running {
		if m.startedAt.IsZero() {
			m.startedAt = m.clock.Now()
		}
		m.scheduleLocked()
	}
	return m.commitUnlock(ctx)
}

// Status returns the current display state.
func (m *Machine) Status() domain.TimerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

func (m *Machine) statusLocked() domain.TimerStatus {
	return domain.TimerStatus{
		Mode:             m.mode,
		State:            m.state,
		Running:          m.state == domain.Running,
		RemainingSeconds: m.remaining,
		Display:          domain.FormatClock(m.remaining),
	}
}

func (m *Machine) snapshotLocked() domain.TimerSnapshot {
	return domain.TimerSnapshot{
		Mode:             m.mode,
		RemainingSeconds: m.remaining,
		Running:          m.state == domain.Running,
		StartedAt:        m.startedAt,
		TotalSeconds:     m.total,
	}
}

// Start begins counting down from the current remaining time. Starting a
// running timer does nothing.
func (m *Machine) Start(ctx context.Context) (domain.TimerStatus, error) {
	m.mu.Lock()
	if m.state == domain.Running {
		st := m.statusLocked()
		m.mu.Unlock()
		return st, nil
	}
	m.startLocked()
	st := m.statusLocked()
	return st, m.commitUnlock(ctx)
}

func (m *Machine) startLocked() {
	m.cancelLocked()
	m.state = domain.Running
	m.startedAt = m.clock.Now()
	m.total = m.remaining
	m.scheduleLocked()
}

// Pause stops a running timer and keeps the remaining time. It does nothing
// unless the timer is running.
func (m *Machine) Pause(ctx context.Context) (domain.TimerStatus, error) {
	m.mu.Lock()
	if m.state != domain.Running {
		st := m.statusLocked()
		m.mu.Unlock()
		return st, nil
	}
	m.cancelLocked()
	m.state = domain.Paused
	m.startedAt = time.Time{}
	st := m.statusLocked()
	return st, m.commitUnlock(ctx)
}

// Reset stops the timer and restores the full length of the current mode.
func (m *Machine) Reset(ctx context.Context) (domain.TimerStatus, error) {
	m.mu.Lock()
	m.restLocked(m.mode)
	st := m.statusLocked()
	return st, m.commitUnlock(ctx)
}

// SwitchMode stops the timer and selects mode at its full length.
func (m *Machine) SwitchMode(ctx context.Context, mode domain.Mode) (domain.TimerStatus, error) {
	if _, err := domain.ParseMode(string(mode)); err != nil {
		return m.Status(), err
	}
	m.mu.Lock()
	m.restLocked(mode)
	st := m.statusLocked()
	return st, m.commitUnlock(ctx)
}

func (m *Machine) restLocked(mode domain.Mode) {
	m.cancelLocked()
	m.mode = mode
	m.state = domain.Idle
	m.remaining = m.settings.DefaultSeconds(mode)
	m.total = m.remaining
	m.startedAt = time.Time{}
}

// SetRemaining applies a manual "mm:ss" edit. Edits are refused while
// running; on any error the returned status is the unchanged current one.
func (m *Machine) SetRemaining(ctx context.Context, value string) (domain.TimerStatus, error) {
	m.mu.Lock()
	if m.state == domain.Running {
		st := m.statusLocked()
		m.mu.Unlock()
		return st, domain.ErrTimerRunning
	}
	secs, err := domain.ParseClock(value)
	if err != nil {
		st := m.statusLocked()
		m.mu.Unlock()
		return st, err
	}
	m.remaining = secs
	m.total = secs
	m.state = domain.Idle
	if secs != m.settings.DefaultSeconds(m.mode) {
		m.state = domain.Paused
	}
	st := m.statusLocked()
	return st, m.commitUnlock(ctx)
}

// Close cancels the tick without touching the persisted snapshot, so a
// running timer picks up where it left off on the next Open.
func (m *Machine) Close() {
	m.mu.Lock()
	m.cancelLocked()
	m.mu.Unlock()
}

// Pending reports whether a tick is scheduled.
func (m *Machine) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick != nil
}

func (m *Machine) scheduleLocked() {
	gen := m.gen
	m.tick = m.clock.AfterFunc(tickInterval, func() { m.onTick(gen) })
}

// cancelLocked stops the scheduled tick. Bumping gen turns a callback that
// already started firing into a no-op.
func (m *Machine) cancelLocked() {
	m.gen++
	if m.tick != nil {
		m.tick.Stop()
		m.tick = nil
	}
}

func (m *Machine) onTick(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != domain.Running {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	m.remaining--
	if m.remaining > 0 {
		m.startedAt = now
		m.scheduleLocked()
		m.persistFromTick()
		return
	}

	expired := m.mode
	m.restLocked(expired.Other())
	if m.settings.AutoContinue {
		m.startLocked()
	}
	expiry := m.expiry
	m.persistFromTick()

	log.WithFields(log.Fields{"mode": expired, "next": expired.Other()}).Info("timer interval expired")
	if expiry != nil {
		expiry.Expired(expired, now)
	}
}

func (m *Machine) persistFromTick() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.commitUnlock(ctx); err != nil {
		log.WithError(err).Warn("timer snapshot write failed")
	}
}

// commitUnlock captures the snapshot, releases mu and writes it. Writes are
// numbered while mu is held; a write older than one already committed is
// dropped.
func (m *Machine) commitUnlock(ctx context.Context) error {
	m.seq++
	seq := m.seq
	snap := m.snapshotLocked()
	st := m.statusLocked()
	m.mu.Unlock()

	m.commitMu.Lock()
	defer m.commitMu.Unlock()
	if seq <= m.committed {
		return nil
	}
	m.committed = seq
	err := SaveSnapshot(ctx, m.kv, snap)
	if m.onChange != nil {
		m.onChange(st)
	}
	return err
}
