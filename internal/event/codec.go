package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Envelope is the self-describing serialized form of an event, used by the
// file queue and the HTTP control surface.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Kind       string          `json:"kind"`
	AccountID  int64           `json:"account_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ErrInternalKind rejects kinds only the dispatcher itself raises.
var ErrInternalKind = errors.New("event: kind is internal and cannot be enqueued")

// ParseExternal decodes an event submitted from outside the process by
// kind name and JSON payload.
func ParseExternal(name string, payload []byte) (Event, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	if kind == KindTerminate || kind == KindTest {
		return nil, fmt.Errorf("%w: %s", ErrInternalKind, kind)
	}
	return UnmarshalPayload(kind, payload)
}

// MarshalPayload encodes the event body without its tag.
func MarshalPayload(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s: %w", ev.Kind(), err)
	}
	return data, nil
}

// UnmarshalPayload decodes a body previously written by MarshalPayload.
func UnmarshalPayload(kind Kind, data []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch kind {
	case KindPeriodic:
		ev = Periodic{}
	case KindStateMachine:
		ev, err = decode[StateMachine](data)
	case KindUIHint:
		ev, err = decode[UIHint](data)
	case KindMessageFlags:
		ev, err = decode[MessageFlags](data)
	case KindInitialRIC:
		ev, err = decode[InitialRIC](data)
	case KindUpdateAddressScore:
		ev, err = decode[UpdateAddressScore](data)
	case KindUpdateMessageScore:
		ev, err = decode[UpdateMessageScore](data)
	case KindUnindex:
		ev, err = decode[Unindex](data)
	case KindReindex:
		ev, err = decode[Reindex](data)
	case KindTest:
		ev, err = decode[Test](data)
	case KindTerminate:
		ev = Terminate{}
	default:
		return nil, &UnknownKindError{Kind: kind}
	}
	if err != nil {
		return nil, fmt.Errorf("event: unmarshal %s: %w", kind, err)
	}
	return ev, nil
}

func decode[T Event](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(data, &v)
	return v, err
}

// Wrap builds an envelope with a fresh id.
func Wrap(ev Event, now time.Time) (Envelope, error) {
	payload, err := MarshalPayload(ev)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         uuid.New(),
		Kind:       ev.Kind().String(),
		AccountID:  AccountID(ev),
		Payload:    payload,
		EnqueuedAt: now.UTC(),
	}, nil
}

// Unwrap decodes the event carried by an envelope.
func (e Envelope) Unwrap() (Event, error) {
	kind, err := ParseKind(e.Kind)
	if err != nil {
		return nil, err
	}
	return UnmarshalPayload(kind, e.Payload)
}
