package chatkit

import "time"

// clock abstracts time for the retry, join-timeout, and pending-send timers.
// Every timer the SDK schedules is held by reference and stopped on teardown;
// the indirection exists so tests can drive those timers deterministically.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) timer
}

type timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) timer {
	return time.AfterFunc(d, fn)
}
