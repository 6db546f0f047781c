// Package event defines the closed set of events the brain dispatcher consumes.
//
// Every event is a plain struct implementing Event. The set is sealed: only
// types in this package satisfy the interface, so a dispatcher type switch
// over the exported structs is exhaustive except for programming errors,
// which panic.
package event

import (
	"fmt"
)

// Kind is the wire tag of an event. Values are persisted by the durable
// queue and must never be renumbered.
type Kind int

const (
	KindPeriodic           Kind = 1
	KindStateMachine       Kind = 2
	KindUIHint             Kind = 3
	KindMessageFlags       Kind = 4
	KindInitialRIC         Kind = 5
	KindUpdateAddressScore Kind = 6
	KindUpdateMessageScore Kind = 7
	KindUnindex            Kind = 8
	KindReindex            Kind = 9
	KindTest               Kind = 10
	KindTerminate          Kind = 11
)

var kindNames = map[Kind]string{
	KindPeriodic:           "periodic",
	KindStateMachine:       "state_machine",
	KindUIHint:             "ui_hint",
	KindMessageFlags:       "message_flags",
	KindInitialRIC:         "initial_ric",
	KindUpdateAddressScore: "update_address_score",
	KindUpdateMessageScore: "update_message_score",
	KindUnindex:            "unindex",
	KindReindex:            "reindex",
	KindTest:               "test",
	KindTerminate:          "terminate",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a kind name back to its tag.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, &UnknownKindError{Name: name}
}

// UnknownKindError reports a tag outside the closed event set.
type UnknownKindError struct {
	Kind Kind
	Name string
}

func (e *UnknownKindError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("event: unknown kind %q", e.Name)
	}
	return fmt.Sprintf("event: unknown kind %d", int(e.Kind))
}

// Event is a single unit of work for the dispatcher.
type Event interface {
	Kind() Kind
	sealed()
}

// ObjectKind names the document family an index event refers to.
type ObjectKind string

const (
	ObjectMessage ObjectKind = "message"
	ObjectContact ObjectKind = "contact"
)

// UIType distinguishes UI hints.
type UIType int

const (
	UIMessageView UIType = 1
)

// Periodic starts a duty cycle: drain the durable queue, then run scheduled work.
type Periodic struct{}

// StateMachine nudges the brain to glean contacts for one account.
type StateMachine struct {
	AccountID int64 `json:"account_id"`
	Count     int   `json:"count"`
}

// UIHint carries a user interface observation. Currently informational.
type UIHint struct {
	AccountID int64  `json:"account_id"`
	Type      UIType `json:"type"`
	MessageID int64  `json:"message_id,omitempty"`
}

// MessageFlags reports that a message's flag dates changed.
type MessageFlags struct {
	AccountID int64 `json:"account_id"`
	MessageID int64 `json:"message_id"`
}

// InitialRIC requests initial address scores from the account's RIC contacts.
type InitialRIC struct {
	AccountID int64 `json:"account_id"`
}

// UpdateAddressScore recomputes one address score.
type UpdateAddressScore struct {
	AccountID                    int64 `json:"account_id"`
	AddressID                    int64 `json:"address_id"`
	ForceUpdateDependentMessages bool  `json:"force_update_dependent_messages,omitempty"`
}

// UpdateMessageScore recomputes one message score. A non-zero UserAction
// (+1 hot, -1 not hot) is applied to the message and its sender first.
type UpdateMessageScore struct {
	AccountID  int64 `json:"account_id"`
	MessageID  int64 `json:"message_id"`
	UserAction int   `json:"user_action,omitempty"`
}

// Unindex removes a document from the account's index.
type Unindex struct {
	AccountID  int64      `json:"account_id"`
	ObjectKind ObjectKind `json:"object_kind"`
	ObjectID   int64      `json:"object_id"`
}

// Reindex removes and re-adds a document.
type Reindex struct {
	AccountID  int64      `json:"account_id"`
	ObjectKind ObjectKind `json:"object_kind"`
	ObjectID   int64      `json:"object_id"`
}

// Test is a barrier: processing it proves every earlier event was handled.
type Test struct {
	Token string `json:"token,omitempty"`
}

// Terminate stops the dispatcher loop.
type Terminate struct{}

func (Periodic) Kind() Kind           { return KindPeriodic }
func (StateMachine) Kind() Kind       { return KindStateMachine }
func (UIHint) Kind() Kind             { return KindUIHint }
func (MessageFlags) Kind() Kind       { return KindMessageFlags }
func (InitialRIC) Kind() Kind         { return KindInitialRIC }
func (UpdateAddressScore) Kind() Kind { return KindUpdateAddressScore }
func (UpdateMessageScore) Kind() Kind { return KindUpdateMessageScore }
func (Unindex) Kind() Kind            { return KindUnindex }
func (Reindex) Kind() Kind            { return KindReindex }
func (Test) Kind() Kind               { return KindTest }
func (Terminate) Kind() Kind          { return KindTerminate }

func (Periodic) sealed()           {}
func (StateMachine) sealed()       {}
func (UIHint) sealed()             {}
func (MessageFlags) sealed()       {}
func (InitialRIC) sealed()         {}
func (UpdateAddressScore) sealed() {}
func (UpdateMessageScore) sealed() {}
func (Unindex) sealed()            {}
func (Reindex) sealed()            {}
func (Test) sealed()               {}
func (Terminate) sealed()          {}

// Durable reports whether an event kind may be stored in the durable queue.
// Only mutations that must survive a crash qualify.
func Durable(k Kind) bool {
	switch k {
	case KindUpdateAddressScore, KindUpdateMessageScore, KindUnindex, KindReindex:
		return true
	default:
		return false
	}
}

// AccountID returns the account an event is scoped to, or 0.
func AccountID(ev Event) int64 {
	switch e := ev.(type) {
	case StateMachine:
		return e.AccountID
	case UIHint:
		return e.AccountID
	case MessageFlags:
		return e.AccountID
	case InitialRIC:
		return e.AccountID
	case UpdateAddressScore:
		return e.AccountID
	case UpdateMessageScore:
		return e.AccountID
	case Unindex:
		return e.AccountID
	case Reindex:
		return e.AccountID
	default:
		return 0
	}
}
