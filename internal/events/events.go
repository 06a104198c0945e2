package events

import "context"

// Streams
const (
	StreamDeal    = "events:deal"
	StreamDeposit = "events:deposit"
)

// Event types
const (
	EventDealStatusChanged    = "deal_status_changed"
	EventPaymentReceived      = "payment_received"
	EventDepositStatusChanged = "deposit_status_changed"
	EventDepositConfirmed     = "deposit_confirmed"
	EventDepositTimedOut      = "deposit_timed_out"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
