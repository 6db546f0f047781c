// Package abatement exposes the platform's request to back off background
// work (low power, app in foreground). Signals are polled between units of
// work and must never block.
package abatement

import "sync/atomic"

// Signal reports whether background work should yield.
type Signal interface {
	IsAbatementRequired() bool
}

// Never is a Signal that never asks to yield.
type Never struct{}

func (Never) IsAbatementRequired() bool { return false }

// Func adapts a function to Signal.
type Func func() bool

func (f Func) IsAbatementRequired() bool { return f() }

// Flag is a Signal toggled by an operator or the platform glue.
type Flag struct {
	on atomic.Bool
}

func (f *Flag) Set(on bool) { f.on.Store(on) }

func (f *Flag) IsAbatementRequired() bool { return f.on.Load() }

// Any yields when any member signal asks to.
type Any []Signal

func (a Any) IsAbatementRequired() bool {
	for _, s := range a {
		if s != nil && s.IsAbatementRequired() {
			return true
		}
	}
	return false
}
