package mcplite

import (
	"sync"
	"time"
)

// pendingCall tracks one in-flight request: its completion callback and the
// timer that fails it if no response arrives in time.
type pendingCall struct {
	done  func(JSONRPCMessage, error)
	timer *time.Timer
}

// pendingCalls is the correlation table mapping outstanding request IDs to
// their completions. Every entry is removed by exactly one of resolve, a
// timeout firing, forget, or failAll; removal always happens under the mutex
// before the callback runs, so a response racing a timeout can never fire the
// same call twice.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{
		calls: make(map[string]*pendingCall),
	}
}

// register stores the completion for key and arms its timeout. The callback
// fires exactly once, with either the response envelope or an error.
func (p *pendingCalls) register(key string, timeout time.Duration, done func(JSONRPCMessage, error)) {
	p.mu.Lock()
	call := &pendingCall{done: done}
	call.timer = time.AfterFunc(timeout, func() {
		p.fail(key, ErrRequestTimeout)
	})
	p.calls[key] = call
	p.mu.Unlock()
}

// resolve completes the call registered under key with a response envelope.
// It reports false when no such call exists, which callers treat as a late or
// duplicate response: logged and discarded, never an error.
func (p *pendingCalls) resolve(key string, msg JSONRPCMessage) bool {
	call := p.take(key)
	if call == nil {
		return false
	}
	call.done(msg, nil)
	return true
}

// fail completes the call registered under key with an error. The timeout path
// runs through here, performing the identical removal as resolve.
func (p *pendingCalls) fail(key string, err error) bool {
	call := p.take(key)
	if call == nil {
		return false
	}
	call.done(JSONRPCMessage{}, err)
	return true
}

// forget removes the call registered under key without invoking its callback.
// Used when the caller already has its outcome, such as a failed send or a
// cancelled context.
func (p *pendingCalls) forget(key string) {
	p.take(key)
}

// failAll drains the table on session teardown so no caller waits forever.
func (p *pendingCalls) failAll(err error) {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[string]*pendingCall)
	p.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done(JSONRPCMessage{}, err)
	}
}

func (p *pendingCalls) take(key string) *pendingCall {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[key]
	if !ok {
		return nil
	}
	delete(p.calls, key)
	call.timer.Stop()
	return call
}

// size reports the number of outstanding calls.
func (p *pendingCalls) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
