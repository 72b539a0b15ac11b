package sos

import (
	"sync"
	"time"

	"EpiFind/pkg/notification"
)

// ActivationListener receives the outcome of one press-and-hold cycle.
// Exactly one of OnCancelled / OnConfirmed fires per cycle, after OnStarted.
type ActivationListener struct {
	OnStarted   func()
	OnCancelled func()
	OnConfirmed func()
}

// Debouncer converts a sustained hold gesture into a confirmed activation
// after a fixed delay, or an abort if released early. A second Begin while a
// cycle is pending cancels the running cycle and restarts.
type Debouncer struct {
	hold   time.Duration
	haptic []int64
	local  notification.LocalChannel

	mu       sync.Mutex
	timer    *time.Timer
	pending  bool
	gen      uint64
	listener ActivationListener
}

// NewDebouncer creates a debouncer with the given hold duration. local
// drives the haptic pattern during the pending window; pass
// notification.NopLocal{} when no client is attached.
func NewDebouncer(hold time.Duration, hapticInterval time.Duration, local notification.LocalChannel) *Debouncer {
	if local == nil {
		local = notification.NopLocal{}
	}
	step := hapticInterval.Milliseconds()
	return &Debouncer{
		hold:   hold,
		haptic: []int64{0, step, step},
		local:  local,
	}
}

// Begin starts a hold cycle and invokes l.OnStarted immediately. If a cycle
// is already pending it is cancelled first (its OnCancelled fires).
func (d *Debouncer) Begin(l ActivationListener) {
	var superseded ActivationListener
	d.mu.Lock()
	restarted := d.pending
	if restarted {
		superseded = d.cancelLocked()
	}
	d.pending = true
	d.gen++
	gen := d.gen
	d.listener = l
	d.timer = time.AfterFunc(d.hold, func() { d.fire(gen) })
	d.mu.Unlock()

	if restarted && superseded.OnCancelled != nil {
		superseded.OnCancelled()
	}
	d.local.Vibrate(d.haptic)
	if l.OnStarted != nil {
		l.OnStarted()
	}
}

// Cancel aborts the pending cycle, if any. Returns whether a cycle was
// cancelled. Safe to race with the timer: the generation check makes
// cancellation and firing mutually exclusive.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return false
	}
	l := d.cancelLocked()
	d.mu.Unlock()

	d.local.CancelVibration()
	if l.OnCancelled != nil {
		l.OnCancelled()
	}
	return true
}

// Pending reports whether a hold cycle is currently running.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// cancelLocked stops the timer and resets state; caller fires callbacks
// outside the lock. Bumping gen invalidates an already-scheduled fire.
func (d *Debouncer) cancelLocked() ActivationListener {
	d.timer.Stop()
	d.gen++
	d.pending = false
	return d.listener
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if !d.pending || d.gen != gen {
		d.mu.Unlock()
		return // cancelled or restarted between scheduling and firing
	}
	d.pending = false
	l := d.listener
	d.mu.Unlock()

	d.local.CancelVibration()
	if l.OnConfirmed != nil {
		l.OnConfirmed()
	}
}
