package sos

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebouncerFiresAfterHold(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, 10*time.Millisecond, nil)

	var started, confirmed, cancelled int32
	d.Begin(ActivationListener{
		OnStarted:   func() { atomic.AddInt32(&started, 1) },
		OnConfirmed: func() { atomic.AddInt32(&confirmed, 1) },
		OnCancelled: func() { atomic.AddInt32(&cancelled, 1) },
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&started))
	assert.True(t, d.Pending())

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&confirmed), "must not fire before the hold elapses")

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&confirmed), "fires exactly once")
	assert.Zero(t, atomic.LoadInt32(&cancelled))
	assert.False(t, d.Pending())
}

func TestDebouncerCancelBeforeHold(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, 10*time.Millisecond, nil)

	var confirmed, cancelled int32
	d.Begin(ActivationListener{
		OnConfirmed: func() { atomic.AddInt32(&confirmed, 1) },
		OnCancelled: func() { atomic.AddInt32(&cancelled, 1) },
	})

	assert.True(t, d.Cancel())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&confirmed), "cancelled cycle must never fire")
}

func TestDebouncerCancelWhenIdle(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, 10*time.Millisecond, nil)
	assert.False(t, d.Cancel())
}

func TestDebouncerRestart(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, 10*time.Millisecond, nil)

	var firstCancelled, confirmed int32
	d.Begin(ActivationListener{
		OnCancelled: func() { atomic.AddInt32(&firstCancelled, 1) },
	})
	d.Begin(ActivationListener{
		OnConfirmed: func() { atomic.AddInt32(&confirmed, 1) },
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&firstCancelled), "restart cancels the running cycle")

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&confirmed), "only the second cycle confirms")
}
