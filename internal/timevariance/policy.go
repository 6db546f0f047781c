// Package timevariance drives per-object state machines whose state changes
// at fixed offsets from a start time. Each state carries a multiplicative
// factor that callers fold into a score.
package timevariance

import (
	"fmt"
	"time"
)

// Type identifies a variance family. The zero value and TypeDone are marks
// stored on objects, not machine types.
type Type int

const (
	TypeNone      Type = 0
	TypeDone      Type = 1
	TypeDeadline  Type = 2
	TypeDeference Type = 3
	TypeAging     Type = 4
	TypeMeeting   Type = 5
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "none"
	case TypeDone:
		return "done"
	case TypeDeadline:
		return "deadline"
	case TypeDeference:
		return "deference"
	case TypeAging:
		return "aging"
	case TypeMeeting:
		return "meeting"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

const (
	// StateTerminated is the final state. Its factor applies forever.
	StateTerminated = 0
	// StateNone means the machine has not been evaluated yet.
	StateNone = -1
)

const day = 24 * time.Hour

// Policy is the static shape of a variance family. Offsets and Factors are
// indexed by state; index 0 belongs to StateTerminated and its offset is
// never consulted.
type Policy struct {
	Type    Type
	Offsets []time.Duration
	Factors []float64
}

// MaxState is the last live state before termination.
func (p Policy) MaxState() int { return len(p.Factors) - 1 }

var (
	// Deadline keeps full weight until the due date, then decays over two days.
	Deadline = Policy{
		Type:    TypeDeadline,
		Offsets: []time.Duration{-day, 0, day, 2 * day},
		Factors: []float64{0.1, 1.0, 0.7, 0.4},
	}
	// Deference suppresses a message until its start date passes.
	Deference = Policy{
		Type:    TypeDeference,
		Offsets: []time.Duration{-day, 0},
		Factors: []float64{1.0, 0.1},
	}
	// Aging lowers a message's weight daily during its second week.
	Aging = Policy{
		Type: TypeAging,
		Offsets: []time.Duration{-day,
			7 * day, 8 * day, 9 * day, 10 * day, 11 * day, 12 * day, 13 * day, 14 * day},
		Factors: []float64{0.1, 1.0, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2},
	}
	// Meeting keeps an invite relevant until the meeting ends.
	Meeting = Policy{
		Type:    TypeMeeting,
		Offsets: []time.Duration{-day, 0},
		Factors: []float64{0.05, 1.0},
	}
)

// PolicyFor returns the built-in policy of a machine type.
func PolicyFor(t Type) (Policy, bool) {
	switch t {
	case TypeDeadline:
		return Deadline, true
	case TypeDeference:
		return Deference, true
	case TypeAging:
		return Aging, true
	case TypeMeeting:
		return Meeting, true
	default:
		return Policy{}, false
	}
}

// StateRangeError is raised by panic when a state index falls outside
// [0, MaxState]. It signals a programming error and must not be recovered.
type StateRangeError struct {
	Type  Type
	State int
	Max   int
}

func (e *StateRangeError) Error() string {
	return fmt.Sprintf("timevariance: %s state %d out of range [0,%d]", e.Type, e.State, e.Max)
}

// MaxEventTime bounds every due time.
var MaxEventTime = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// LimitEventTime clamps t to MaxEventTime.
func LimitEventTime(t time.Time) time.Time {
	if t.After(MaxEventTime) {
		return MaxEventTime
	}
	return t
}
