package amadeus

import (
	"time"

	"github.com/google/uuid"
)

// Priority is the delivery priority carried on a Message. The bus itself
// does not reorder delivery by priority today; it is informational and
// available to plugins (e.g. the Core System plugin stamps memo priority
// onto reminder messages).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Message is the value type carried across the bus. Once handed to a
// MessageContext.Send the sender retains no further ownership: the bus is
// free to clone it for fan-out to multiple subscribers and wiretaps.
type Message struct {
	ID        string
	Topic     string
	Payload   any
	Source    string
	Recipient string // empty means broadcast; non-empty marks the message as direct
	Priority  Priority
	CreatedAt time.Time
}

// IsDirect reports whether this message targets a specific plugin rather
// than being broadcast on its Topic.
func (m Message) IsDirect() bool {
	return m.Recipient != ""
}

// clone returns a shallow copy of m. Payload is not deep-copied: the bus
// treats payloads as immutable-by-convention structured data, matching
// the "schema-less JSON-equivalent" value semantics in the spec.
func (m Message) clone() Message {
	return m
}

// newMessageID generates an opaque unique message identifier.
func newMessageID() string {
	return uuid.NewString()
}
