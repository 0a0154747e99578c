// Package adapter defines the egress and ingress contracts the dispatcher
// and ingress shims use to move messages across the MQTT/OPC-UA/SAP
// boundary (spec.md §4.6).
package adapter

import (
	"context"

	"github.com/armorclaw/iobridge/internal/model"
)

// Outcome is the result of a single egress delivery attempt.
type Outcome int

const (
	// Ok means the egress call succeeded; the dispatcher completes the message.
	Ok Outcome = iota
	// Retryable means the egress call failed but should be retried within
	// the message's remaining retry budget.
	Retryable
	// Permanent means the egress call failed in a way no retry would fix;
	// the message is archived and marked failed regardless of budget.
	Permanent
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case Retryable:
		return "retryable"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Egress delivers a claimed message to its destination protocol.
type Egress interface {
	// Deliver attempts one delivery of msg. Any uncaught error is treated
	// by the caller as Retryable with err.Error() as the message's
	// last_error, per spec.md §4.6.
	Deliver(ctx context.Context, msg model.Message) (Outcome, error)
}

// EgressFunc adapts a function to the Egress interface.
type EgressFunc func(ctx context.Context, msg model.Message) (Outcome, error)

func (f EgressFunc) Deliver(ctx context.Context, msg model.Message) (Outcome, error) {
	return f(ctx, msg)
}

// IngressEvent is a value observed at the edge (an MQTT publish, an OPC-UA
// change notification) before it has been routed through the Mapping Table.
type IngressEvent struct {
	Source      model.Endpoint
	TopicOrNode string
	RawValue    string
}

// Enqueuer is the subset of the Buffer's interface ingress adapters need;
// keeping it narrow lets ingress shims be tested without a real Store.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg model.Message) (model.Message, error)
}

// Ingress converts an external event into zero or more buffer enqueues via
// Mapping Table lookup. Duplicate suppression is the Buffer's job
// (coalescing), not the adapter's, per spec.md §4.6.
type Ingress interface {
	Push(ctx context.Context, event IngressEvent) error
}
