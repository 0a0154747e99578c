// Package opcuaingress converts an incoming OPC-UA change notification
// into a buffer enqueue by resolving it through the Mapping Table,
// mirroring mqttingress for the opposite direction (spec.md §4.5, §4.6).
package opcuaingress

import (
	"context"
	"time"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/mapping"
	"github.com/armorclaw/iobridge/internal/model"
)

// Adapter pushes OPC-UA change notifications into the buffer, routed via
// a mapping table keyed on node ID.
type Adapter struct {
	enqueuer adapter.Enqueuer
	mapper   *mapping.Table
	ttl      time.Duration
}

func New(enqueuer adapter.Enqueuer, mapper *mapping.Table, ttl time.Duration) *Adapter {
	return &Adapter{enqueuer: enqueuer, mapper: mapper, ttl: ttl}
}

// Push resolves event.TopicOrNode (a node ID) against the mapping table
// and enqueues a message bound for the mapped MQTT topic. An unmapped
// node is silently dropped.
func (a *Adapter) Push(ctx context.Context, event adapter.IngressEvent) error {
	route, ok := a.mapper.ResolveOPCUANode(event.TopicOrNode)
	if !ok {
		return nil
	}
	if route.Direction == mapping.DirectionMQTTToOPCUA {
		return nil
	}

	expireAt := time.Now().UTC()
	if a.ttl > 0 {
		expireAt = expireAt.Add(a.ttl)
	}
	msg := model.Message{
		Source:      model.EndpointOPCUA,
		Destination: model.EndpointMQTT,
		TopicOrNode: route.MQTTTopic,
		Value:       event.RawValue,
		DataType:    route.DataType,
		Priority:    route.Priority,
		MaxRetries:  route.MaxRetries,
		ExpireAt:    expireAt,
	}
	_, err := a.enqueuer.Enqueue(ctx, msg)
	return err
}
