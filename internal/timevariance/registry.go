package timevariance

import (
	"log/slog"
	"sync"
	"time"
)

// List is a set of machines for one object, at most one per type.
type List struct {
	machines []*Machine
}

// Add inserts m, returning the machine of the same type it replaced.
func (l *List) Add(m *Machine) (replaced *Machine) {
	for i, existing := range l.machines {
		if existing.Type() == m.Type() {
			l.machines[i] = m
			return existing
		}
	}
	l.machines = append(l.machines, m)
	return nil
}

func (l *List) remove(m *Machine) bool {
	for i, existing := range l.machines {
		if existing == m {
			l.machines = append(l.machines[:i], l.machines[i+1:]...)
			return true
		}
	}
	return false
}

func (l *List) Len() int { return len(l.machines) }

// Machines returns a copy of the members.
func (l *List) Machines() []*Machine {
	return append([]*Machine(nil), l.machines...)
}

// FilterStillRunning returns the members that have a transition after now.
func (l *List) FilterStillRunning(now time.Time) *List {
	out := &List{}
	for _, m := range l.machines {
		if m.IsRunningAt(now) {
			out.machines = append(out.machines, m)
		}
	}
	return out
}

// Adjustment multiplies the factors of every member at now. An empty list
// adjusts by 1.
func (l *List) Adjustment(now time.Time) float64 {
	product := 1.0
	for _, m := range l.machines {
		product *= m.AdjustmentAt(now)
	}
	return product
}

// Registry owns the live machines, grouped by object description.
type Registry struct {
	clock  Clock
	logger *slog.Logger

	mu     sync.Mutex
	groups map[string]*List
}

// NewRegistry creates an empty registry. A nil clock selects SystemClock.
func NewRegistry(clock Clock, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{clock: clock, logger: logger, groups: make(map[string]*List)}
}

// NewMachine builds an unstarted machine bound to this registry.
func (r *Registry) NewMachine(p Policy, description string, objectID int64, start time.Time, cb Callback) *Machine {
	return &Machine{
		policy:      p,
		description: description,
		objectID:    objectID,
		start:       start,
		callback:    cb,
		registry:    r,
		state:       StateNone,
	}
}

func (r *Registry) add(m *Machine) {
	r.mu.Lock()
	l, ok := r.groups[m.description]
	if !ok {
		l = &List{}
		r.groups[m.description] = l
	}
	replaced := l.Add(m)
	r.mu.Unlock()

	if replaced != nil && replaced != m {
		replaced.halt()
		r.logger.Debug("timevariance: replaced machine", "group", m.description, "type", m.Type().String())
	}
}

func (r *Registry) remove(m *Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.groups[m.description]
	if !ok {
		return
	}
	l.remove(m)
	if l.Len() == 0 {
		delete(r.groups, m.description)
	}
}

// StopList halts and drops every machine of a group.
func (r *Registry) StopList(description string) {
	r.mu.Lock()
	l, ok := r.groups[description]
	delete(r.groups, description)
	r.mu.Unlock()
	if !ok {
		return
	}
	for _, m := range l.machines {
		m.halt()
	}
}

// Group returns a copy of the members of a group.
func (r *Registry) Group(description string) []*Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.groups[description]; ok {
		return l.Machines()
	}
	return nil
}

func (r *Registry) snapshot() []*Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*Machine
	for _, l := range r.groups {
		all = append(all, l.machines...)
	}
	return all
}

// PauseAll stops every timer, keeping machines registered.
func (r *Registry) PauseAll() {
	for _, m := range r.snapshot() {
		m.Pause()
	}
}

// ResumeAll restarts every paused machine.
func (r *Registry) ResumeAll() {
	for _, m := range r.snapshot() {
		m.Resume()
	}
}

// DisposeAll halts and drops every machine.
func (r *Registry) DisposeAll() {
	r.mu.Lock()
	groups := r.groups
	r.groups = make(map[string]*List)
	r.mu.Unlock()
	for _, l := range groups {
		for _, m := range l.machines {
			m.halt()
		}
	}
}

// Count returns the number of live machines.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.groups {
		n += l.Len()
	}
	return n
}

// Groups returns the number of live groups.
func (r *Registry) Groups() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.groups)
}
