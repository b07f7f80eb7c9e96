package event

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminator for event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeSwapInput
	TypeSwapOutput
	TypeReserveSnapshotted
	TypeFundingRateUpdated
	TypeRepeg
	TypePositionChanged
	TypePositionLiquidated
	TypeMarginChanged
	TypeLiquidationBatch
)

// Envelope wraps every event in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Unique event id
	EventID uuid.UUID

	// Event type discriminator
	Type Type

	// Market context (empty for global events)
	Market string

	// Logical block the event was produced in
	BlockNumber int64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// EventType returns the discriminator
	EventType() Type

	// MarketID returns the market context ("" for global events)
	MarketID() string
}

// Recorder receives domain events as they are produced. Implementations must
// not mutate the event.
type Recorder interface {
	Record(ev Event)
}

// List is a Recorder that accumulates events in order. Used by the engine to
// collect the events of one command, and by tests for assertions.
type List struct {
	Events []Event
}

func (l *List) Record(ev Event) {
	l.Events = append(l.Events, ev)
}

// Discard is a Recorder that drops everything.
type Discard struct{}

func (Discard) Record(Event) {}

func (t Type) String() string {
	switch t {
	case TypeSwapInput:
		return "SwapInput"
	case TypeSwapOutput:
		return "SwapOutput"
	case TypeReserveSnapshotted:
		return "ReserveSnapshotted"
	case TypeFundingRateUpdated:
		return "FundingRateUpdated"
	case TypeRepeg:
		return "Repeg"
	case TypePositionChanged:
		return "PositionChanged"
	case TypePositionLiquidated:
		return "PositionLiquidated"
	case TypeMarginChanged:
		return "MarginChanged"
	case TypeLiquidationBatch:
		return "LiquidationBatch"
	default:
		return "Unknown"
	}
}
