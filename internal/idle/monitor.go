// Package idle ends sessions after a period without user activity.
package idle

import (
	"sync"
	"time"
)

// DefaultTimeout applies when no positive timeout is configured.
const DefaultTimeout = 20 * time.Minute

// Signal is a kind of user activity that postpones expiry.
type Signal string

// Activity signals reported by the browser.
const (
	SignalPointerMove      Signal = "pointermove"
	SignalKeyDown          Signal = "keydown"
	SignalScroll           Signal = "scroll"
	SignalClick            Signal = "click"
	SignalTouchStart       Signal = "touchstart"
	SignalVisibilityChange Signal = "visibilitychange"
	// SignalPageLoad is raised by the server for every signed-in page request.
	SignalPageLoad Signal = "pageload"
)

var knownSignals = map[Signal]struct{}{
	SignalPointerMove:      {},
	SignalKeyDown:          {},
	SignalScroll:           {},
	SignalClick:            {},
	SignalTouchStart:       {},
	SignalVisibilityChange: {},
	SignalPageLoad:         {},
}

// Signals lists the recognised activity signals.
func Signals() []Signal {
	return []Signal{
		SignalPointerMove,
		SignalKeyDown,
		SignalScroll,
		SignalClick,
		SignalTouchStart,
		SignalVisibilityChange,
		SignalPageLoad,
	}
}

// ParseSignal maps a raw event name to a Signal.
func ParseSignal(raw string) (Signal, bool) {
	sig := Signal(raw)
	_, ok := knownSignals[sig]
	return sig, ok
}

// Known reports whether s is a recognised signal.
func (s Signal) Known() bool {
	_, ok := knownSignals[s]
	return ok
}

// Timer is the subset of *time.Timer the monitor needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock overrides the scheduler and clock for deterministic tests.
func WithClock(after AfterFunc, now func() time.Time) Option {
	return func(m *Monitor) {
		if after != nil {
			m.after = after
		}
		if now != nil {
			m.now = now
		}
	}
}

// Monitor holds one deadline, pushed back on every activity signal.
type Monitor struct {
	mu       sync.Mutex
	timeout  time.Duration
	onExpire func()
	after    AfterFunc
	now      func() time.Time

	timer    Timer
	deadline time.Time
	gen      uint64
	armed    bool
	stopped  bool
}

// New builds a monitor that calls onExpire once the timeout elapses without activity.
func New(timeout time.Duration, onExpire func(), opts ...Option) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Monitor{
		timeout:  timeout,
		onExpire: onExpire,
		after:    realAfterFunc,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Timeout returns the configured idle period.
func (m *Monitor) Timeout() time.Duration {
	return m.timeout
}

// Start arms the deadline. It has no effect after Stop.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.arm()
}

// Touch records activity and re-arms the deadline. Unknown signals and
// touches on an unarmed monitor are ignored; the return value reports
// whether the deadline moved.
func (m *Monitor) Touch(sig Signal) bool {
	if !sig.Known() {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped || !m.armed {
		return false
	}
	m.arm()
	return true
}

// Stop cancels the pending deadline. Safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	m.disarm()
}

// Active reports whether a deadline is pending.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.armed
}

// Deadline returns the pending deadline, or the zero time.
func (m *Monitor) Deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.armed {
		return time.Time{}
	}
	return m.deadline
}

func (m *Monitor) arm() {
	m.disarm()
	m.gen++
	gen := m.gen
	m.armed = true
	m.deadline = m.now().Add(m.timeout)
	m.timer = m.after(m.timeout, func() { m.fire(gen) })
}

func (m *Monitor) disarm() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.armed = false
	m.deadline = time.Time{}
}

func (m *Monitor) fire(gen uint64) {
	m.mu.Lock()
	if m.stopped || !m.armed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.armed = false
	m.timer = nil
	m.deadline = time.Time{}
	onExpire := m.onExpire
	m.mu.Unlock()

	if onExpire != nil {
		onExpire()
	}
}
