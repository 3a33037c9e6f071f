package mcplite

import "sync"

// Handler receives events published under a name it was registered for.
type Handler func(Event)

// emitter is a minimal named-event registry. Handlers for a name run
// synchronously in registration order; emitting with no handlers is a no-op.
type emitter struct {
	mu       sync.Mutex
	handlers map[EventName][]Handler
}

func newEmitter() *emitter {
	return &emitter{
		handlers: make(map[EventName][]Handler),
	}
}

func (e *emitter) on(name EventName, h Handler) {
	if h == nil {
		return
	}

	e.mu.Lock()
	e.handlers[name] = append(e.handlers[name], h)
	e.mu.Unlock()
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	hs := e.handlers[ev.Name()]
	// Snapshot so handlers may register further handlers without deadlocking.
	snapshot := make([]Handler, len(hs))
	copy(snapshot, hs)
	e.mu.Unlock()

	for _, h := range snapshot {
		h(ev)
	}
}
