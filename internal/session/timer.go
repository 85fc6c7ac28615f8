package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// State of an idle-session timer
type State string

const (
	StateIdle    State = "IDLE" // not started or stopped
	StateActive  State = "ACTIVE"
	StateWarning State = "WARNING"
	StateExpired State = "EXPIRED"
)

// Activity types that count as user interaction
const (
	ActivityPointerDown = "pointerdown"
	ActivityPointerMove = "pointermove"
	ActivityKeyDown     = "keydown"
	ActivityScroll      = "scroll"
	ActivityTouchStart  = "touchstart"
	ActivityWheel       = "wheel"
	ActivityVisible     = "visible"
)

var qualifyingActivity = map[string]bool{
	ActivityPointerDown: true,
	ActivityPointerMove: true,
	ActivityKeyDown:     true,
	ActivityScroll:      true,
	ActivityTouchStart:  true,
	ActivityWheel:       true,
	ActivityVisible:     true,
}

// IsQualifyingActivity reports whether kind resets the idle timer
func IsQualifyingActivity(kind string) bool {
	return qualifyingActivity[kind]
}

// Config holds the idle timeout settings
type Config struct {
	TimeoutMinutes   int
	WarningMinutes   int
	ActivityThrottle time.Duration
}

// DefaultConfig returns a 30 minute timeout with a warning 5 minutes before
// expiry and at most one activity reset per 2 seconds.
func DefaultConfig() Config {
	return Config{TimeoutMinutes: 30, WarningMinutes: 5, ActivityThrottle: 2 * time.Second}
}

// Durations returns the timeout and the offset from the last reset at
// which the warning fires. A warning that would not precede expiry is
// moved to half the timeout.
func (c Config) Durations() (timeout, warnAt time.Duration) {
	timeout = time.Duration(c.TimeoutMinutes) * time.Minute
	warning := time.Duration(c.WarningMinutes) * time.Minute
	if warning <= 0 || warning >= timeout {
		return timeout, timeout / 2
	}
	return timeout, timeout - warning
}

// Callbacks are invoked outside the timer's lock
type Callbacks struct {
	OnWarning func(remaining time.Duration)
	OnTimeout func()
}

// Status is a snapshot of a timer
type Status struct {
	State     State         `json:"state"`
	LastReset time.Time     `json:"last_reset"`
	ExpiresAt time.Time     `json:"expires_at"`
	Remaining time.Duration `json:"-"`
}

// Timer is the idle-session state machine ACTIVE -> WARNING -> EXPIRED.
// Activity and Extend move it back to ACTIVE and rearm both handles.
type Timer struct {
	clock     Clock
	timeout   time.Duration
	warnAt    time.Duration
	callbacks Callbacks

	mu        sync.Mutex
	state     State
	lastReset time.Time
	throttle  *rate.Limiter
	warn      Handle
	expire    Handle
	gen       uint64
}

// NewTimer creates a stopped timer
func NewTimer(clock Clock, config Config, callbacks Callbacks) *Timer {
	timeout, warnAt := config.Durations()
	throttle := config.ActivityThrottle
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	return &Timer{
		clock:     clock,
		timeout:   timeout,
		warnAt:    warnAt,
		callbacks: callbacks,
		state:     StateIdle,
		throttle:  rate.NewLimiter(rate.Every(throttle), 1),
	}
}

// Start arms the timer. Starting a running timer is a no-op.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateActive || t.state == StateWarning {
		return
	}
	t.armLocked()
}

// Activity resets the timer for a qualifying activity kind. It reports
// whether a reset happened; resets are throttled.
func (t *Timer) Activity(kind string) bool {
	if !IsQualifyingActivity(kind) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.runningLocked() {
		return false
	}
	if !t.throttle.AllowN(t.clock.Now(), 1) {
		return false
	}
	t.armLocked()
	return true
}

// Extend rearms both handles from now, bypassing the activity throttle
func (t *Timer) Extend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.runningLocked() {
		return false
	}
	t.armLocked()
	return true
}

// Stop cancels both handles. It is safe to call any number of times.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelLocked()
	if t.state != StateExpired {
		t.state = StateIdle
	}
}

// Status returns a snapshot of the timer
func (t *Timer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Status{State: t.state, LastReset: t.lastReset}
	if t.runningLocked() {
		s.ExpiresAt = t.lastReset.Add(t.timeout)
		if s.Remaining = s.ExpiresAt.Sub(t.clock.Now()); s.Remaining < 0 {
			s.Remaining = 0
		}
	}
	return s
}

func (t *Timer) runningLocked() bool {
	return t.state == StateActive || t.state == StateWarning
}

func (t *Timer) cancelLocked() {
	if t.warn != nil {
		t.warn.Stop()
		t.warn = nil
	}
	if t.expire != nil {
		t.expire.Stop()
		t.expire = nil
	}
	t.gen++
}

func (t *Timer) armLocked() {
	t.cancelLocked()
	t.state = StateActive
	t.lastReset = t.clock.Now()

	gen := t.gen
	t.warn = t.clock.AfterFunc(t.warnAt, func() { t.fireWarning(gen) })
	t.expire = t.clock.AfterFunc(t.timeout, func() { t.fireExpiry(gen) })
}

func (t *Timer) fireWarning(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.state != StateActive {
		t.mu.Unlock()
		return
	}
	t.state = StateWarning
	t.warn = nil
	remaining := t.timeout - t.warnAt
	t.mu.Unlock()

	if t.callbacks.OnWarning != nil {
		t.callbacks.OnWarning(remaining)
	}
}

func (t *Timer) fireExpiry(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || !t.runningLocked() {
		t.mu.Unlock()
		return
	}
	// handles are canceled before the callback so it cannot re-enter
	t.cancelLocked()
	t.state = StateExpired
	t.mu.Unlock()

	if t.callbacks.OnTimeout != nil {
		t.callbacks.OnTimeout()
	}
}
