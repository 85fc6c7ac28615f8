package session

import "time"

// Clock abstracts time so timers can be driven deterministically in tests
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

// Handle is a scheduled callback. Stop reports whether it prevented the
// callback from running; stopping twice is a no-op.
type Handle interface {
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by the time package
func RealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}
