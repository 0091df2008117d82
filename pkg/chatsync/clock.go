package chatsync

import "time"

// clock abstracts time so the poll scheduler's backoff schedule and the
// profile cache's TTL can be tested without real timers.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) timerHandle
}

// timerHandle is the subset of *time.Timer the scheduler needs.
type timerHandle interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) timerHandle {
	return time.AfterFunc(d, f)
}
