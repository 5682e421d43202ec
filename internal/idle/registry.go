package idle

import (
	"sync"
	"time"
)

// Registry keeps one monitor per browser session.
type Registry struct {
	mu       sync.Mutex
	timeout  time.Duration
	opts     []Option
	monitors map[string]*Monitor
}

// NewRegistry builds an empty registry whose monitors share timeout and opts.
func NewRegistry(timeout time.Duration, opts ...Option) *Registry {
	return &Registry{
		timeout:  timeout,
		opts:     opts,
		monitors: make(map[string]*Monitor),
	}
}

// Acquire returns the running monitor for id, creating and starting one
// that calls onExpire when none exists. Expiry releases the entry before
// onExpire runs.
func (r *Registry) Acquire(id string, onExpire func()) *Monitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.monitors[id]; ok {
		return m
	}
	var m *Monitor
	m = New(r.timeout, func() {
		r.remove(id, m)
		if onExpire != nil {
			onExpire()
		}
	}, r.opts...)
	r.monitors[id] = m
	m.Start()
	return m
}

// Touch forwards activity to the monitor for id.
func (r *Registry) Touch(id string, sig Signal) bool {
	r.mu.Lock()
	m, ok := r.monitors[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return m.Touch(sig)
}

// Lookup returns the monitor for id.
func (r *Registry) Lookup(id string) (*Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[id]
	return m, ok
}

// Release stops and forgets the monitor for id.
func (r *Registry) Release(id string) {
	r.mu.Lock()
	m, ok := r.monitors[id]
	delete(r.monitors, id)
	r.mu.Unlock()
	if ok {
		m.Stop()
	}
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.monitors)
}

// StopAll stops every monitor, used on shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	monitors := r.monitors
	r.monitors = make(map[string]*Monitor)
	r.mu.Unlock()
	for _, m := range monitors {
		m.Stop()
	}
}

func (r *Registry) remove(id string, m *Monitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.monitors[id]; ok && current == m {
		delete(r.monitors, id)
	}
}
