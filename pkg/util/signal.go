package util

import "sync"

// SignalHandler receives the sender plus signal-specific params.
type SignalHandler func(sender any, params ...any)

// SignalHub is a process-wide dispatcher connecting emitters to listeners
// without either side importing the other.
type SignalHub struct {
	mu    sync.RWMutex
	slots map[string][]SignalHandler
}

var (
	sigOnce sync.Once
	sigHub  *SignalHub
)

// Sig returns the global signal hub.
func Sig() *SignalHub {
	sigOnce.Do(func() {
		sigHub = &SignalHub{slots: make(map[string][]SignalHandler)}
	})
	return sigHub
}

// Connect registers fn as a listener for the named signal.
func (h *SignalHub) Connect(name string, fn SignalHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.slots[name] = append(h.slots[name], fn)
}

// Emit invokes every listener of the named signal, in registration order,
// on the caller's goroutine. Listeners that need to block should spawn their
// own goroutine.
func (h *SignalHub) Emit(name string, sender any, params ...any) {
	h.mu.RLock()
	handlers := h.slots[name]
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(sender, params...)
	}
}

// Disconnect removes all listeners of the named signal.
func (h *SignalHub) Disconnect(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.slots, name)
}
