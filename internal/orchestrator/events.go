package orchestrator

import (
	"github.com/prism-chat/prism/internal/store"
)

// EventKind discriminates turn events.
type EventKind string

// Turn event kinds.
const (
	// EventChunk carries one incremental piece of the assistant reply.
	EventChunk EventKind = "chunk"
	// EventFinal carries the persisted assistant message. Terminal.
	EventFinal EventKind = "final"
	// EventError carries the turn failure. Terminal.
	EventError EventKind = "error"
)

// Event is one item on a turn's event channel. The channel closes after the
// terminal event; exactly one of EventFinal or EventError is emitted per turn.
type Event struct {
	Kind EventKind

	// Chunk fields, set for EventChunk.
	Text      string
	Reasoning string

	// Message is the persisted assistant reply, set for EventFinal.
	Message *store.Message

	// Err is the turn failure, set for EventError.
	Err error
}
