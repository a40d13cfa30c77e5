package events

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/guido-cesarano/goqueue/pkg/logger"
	"github.com/rs/zerolog"
)

type registration struct {
	id    ListenerID
	fn    Listener
	once  bool
	fired atomic.Bool
}

// Hub is an enum-keyed table of subscriber lists. The zero value is not usable; call
// NewHub.
type Hub struct {
	mu        sync.RWMutex
	listeners [numKinds][]*registration
	nextID    ListenerID
	log       zerolog.Logger
}

// HubOption customizes Hub construction.
type HubOption func(*Hub)

// WithLogger sets the diagnostic sink for listener failures.
func WithLogger(log zerolog.Logger) HubOption {
	return func(h *Hub) {
		h.log = log
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{log: logger.Component("events")}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// On registers fn for kind and returns its registration ID. A nil fn or unknown kind
// registers nothing and returns 0.
func (h *Hub) On(kind Kind, fn Listener) ListenerID {
	return h.add(kind, fn, false)
}

// Once registers fn to be delivered at most one event of kind, after which it is removed.
func (h *Hub) Once(kind Kind, fn Listener) ListenerID {
	return h.add(kind, fn, true)
}

func (h *Hub) add(kind Kind, fn Listener, once bool) ListenerID {
	if fn == nil || !kind.valid() {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.listeners[kind] = append(h.listeners[kind], &registration{id: h.nextID, fn: fn, once: once})
	return h.nextID
}

// Off removes the registration. It reports whether anything was removed.
func (h *Hub) Off(kind Kind, id ListenerID) bool {
	if !kind.valid() {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.listeners[kind]
	for i, reg := range list {
		if reg.id != id {
			continue
		}
		// copy instead of in-place removal: emitters may hold the old slice
		next := make([]*registration, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		h.listeners[kind] = next
		return true
	}
	return false
}

// Count returns the number of listeners registered for kind.
func (h *Hub) Count(kind Kind) int {
	if !kind.valid() {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners[kind])
}

// Reset drops every registration.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.listeners {
		h.listeners[k] = nil
	}
}

// Emit delivers e to the listeners registered for e.Kind at the time of the call.
func (h *Hub) Emit(e Event) {
	if !e.Kind.valid() {
		return
	}
	h.mu.RLock()
	snapshot := h.listeners[e.Kind]
	h.mu.RUnlock()

	for _, reg := range snapshot {
		if reg.once {
			if !reg.fired.CompareAndSwap(false, true) {
				continue
			}
			h.Off(e.Kind, reg.id)
		}
		h.deliver(reg, e)
	}
}

func (h *Hub) deliver(reg *registration, e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().
				Str("event", e.Kind.String()).
				Str("task_id", e.Task.ID).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("Event listener panicked")
		}
	}()
	if err := reg.fn(e); err != nil {
		h.log.Error().
			Err(err).
			Str("event", e.Kind.String()).
			Str("task_id", e.Task.ID).
			Msg("Event listener failed")
	}
}
