package timevariance

import "time"

// Timer is the part of *time.Timer the machines use.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can drive machines deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemClock uses the runtime timers.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
