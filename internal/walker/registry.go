package walker

import (
	"context"
	"sync"
)

// Registry is the process-local record of live walkers, one handle per
// session id. Together with the durable session status it enforces the
// at-most-one-walker-per-session rule: the registry stops double launches
// inside one process, the status check stops double spends after a crash.
type Registry struct {
	mu      sync.Mutex
	handles map[int64]*handle
}

type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[int64]*handle),
	}
}

// acquire registers a walker for sessionID and returns its run context.
// Returns ok=false when a walker is already live for the session.
func (r *Registry) acquire(sessionID int64) (context.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handles[sessionID]; exists {
		return nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.handles[sessionID] = &handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	return ctx, true
}

// release removes the session's handle once its walker goroutine exits.
func (r *Registry) release(sessionID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, exists := r.handles[sessionID]; exists {
		close(h.done)
		delete(r.handles, sessionID)
	}
}

// Cancel asks the session's walker to stop and returns whether one was live.
// The walker finishes its in-flight item before exiting.
func (r *Registry) Cancel(sessionID int64) bool {
	r.mu.Lock()
	h, exists := r.handles[sessionID]
	r.mu.Unlock()

	if !exists {
		return false
	}
	h.cancel()
	return true
}

// Active reports whether a walker is live for the session.
func (r *Registry) Active(sessionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.handles[sessionID]
	return exists
}

// Shutdown cancels every live walker and waits for them to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	var waits []chan struct{}
	for _, h := range r.handles {
		h.cancel()
		waits = append(waits, h.done)
	}
	r.mu.Unlock()

	for _, done := range waits {
		<-done
	}
}
