// Package mqttegress adapts an injected MQTT publish function to the
// Egress contract (spec.md §4.6). The MQTT client library itself stays
// out of scope; this is a thin shim so the dispatcher's retry/outcome
// logic can be exercised without a broker.
package mqttegress

import (
	"context"
	"fmt"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/model"
)

// Publisher is the narrow surface an MQTT client library must provide.
// QoS is the adapter's configured default, not per-message.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

// Adapter delivers messages destined for MQTT by publishing to their
// topic_or_node.
type Adapter struct {
	pub Publisher
	qos byte
}

func New(pub Publisher, qos byte) *Adapter {
	return &Adapter{pub: pub, qos: qos}
}

func (a *Adapter) Deliver(ctx context.Context, msg model.Message) (adapter.Outcome, error) {
	if err := a.pub.Publish(ctx, msg.TopicOrNode, a.qos, []byte(msg.Value)); err != nil {
		if ctx.Err() != nil {
			return adapter.Retryable, fmt.Errorf("publish to %s timed out: %w", msg.TopicOrNode, err)
		}
		return adapter.Retryable, fmt.Errorf("publish to %s failed: %w", msg.TopicOrNode, err)
	}
	return adapter.Ok, nil
}
