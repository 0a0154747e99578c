// Package mqttingress converts an incoming MQTT publish into a buffer
// enqueue by resolving it through the Mapping Table (spec.md §4.5, §4.6).
package mqttingress

import (
	"context"
	"time"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/mapping"
	"github.com/armorclaw/iobridge/internal/model"
)

// Adapter pushes MQTT events into the buffer, routed via a mapping table.
type Adapter struct {
	enqueuer adapter.Enqueuer
	mapper   *mapping.Table
	ttl      time.Duration
}

func New(enqueuer adapter.Enqueuer, mapper *mapping.Table, ttl time.Duration) *Adapter {
	return &Adapter{enqueuer: enqueuer, mapper: mapper, ttl: ttl}
}

// Push resolves event.TopicOrNode against the mapping table and enqueues a
// message bound for the mapped OPC-UA node. An unmapped topic is silently
// dropped, not an error: the bridge may be subscribed to a broker-wide
// wildcard while only some topics are configured for routing.
func (a *Adapter) Push(ctx context.Context, event adapter.IngressEvent) error {
	route, ok := a.mapper.ResolveMQTT(event.TopicOrNode)
	if !ok {
		return nil
	}
	if route.Direction == mapping.DirectionOPCUAToMQTT {
		return nil
	}

	expireAt := time.Now().UTC()
	if a.ttl > 0 {
		expireAt = expireAt.Add(a.ttl)
	}
	msg := model.Message{
		Source:      model.EndpointMQTT,
		Destination: model.EndpointOPCUA,
		TopicOrNode: route.OPCUANode,
		Value:       event.RawValue,
		DataType:    route.DataType,
		Priority:    route.Priority,
		MaxRetries:  route.MaxRetries,
		ExpireAt:    expireAt,
	}
	_, err := a.enqueuer.Enqueue(ctx, msg)
	return err
}
