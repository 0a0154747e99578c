// Package opcuaegress adapts an injected OPC-UA node-write function to the
// Egress contract (spec.md §4.6), mirroring mqttegress: the OPC-UA client
// library stays out of scope, the adapter takes a Writer interface.
package opcuaegress

import (
	"context"
	"fmt"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/model"
)

// Writer is the narrow surface an OPC-UA client library must provide.
type Writer interface {
	WriteNode(ctx context.Context, nodeID string, value string, dataType model.DataType) error
}

// Adapter delivers messages destined for OPC-UA by writing their value to
// their topic_or_node (interpreted as a node ID).
type Adapter struct {
	writer Writer
}

func New(writer Writer) *Adapter {
	return &Adapter{writer: writer}
}

func (a *Adapter) Deliver(ctx context.Context, msg model.Message) (adapter.Outcome, error) {
	if err := a.writer.WriteNode(ctx, msg.TopicOrNode, msg.Value, msg.DataType); err != nil {
		if ctx.Err() != nil {
			return adapter.Retryable, fmt.Errorf("write to node %s timed out: %w", msg.TopicOrNode, err)
		}
		return adapter.Retryable, fmt.Errorf("write to node %s failed: %w", msg.TopicOrNode, err)
	}
	return adapter.Ok, nil
}
