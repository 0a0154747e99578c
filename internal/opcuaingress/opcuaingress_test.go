package opcuaingress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/iobridge/internal/adapter"
	"github.com/armorclaw/iobridge/internal/mapping"
	"github.com/armorclaw/iobridge/internal/model"
)

type fakeEnqueuer struct {
	last model.Message
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, msg model.Message) (model.Message, error) {
	f.last = msg
	return msg, nil
}

func TestPush_RoutesMappedNode(t *testing.T) {
	table := mapping.New([]mapping.Entry{
		{MQTTTopic: "sensors/room1/temperature", OPCUANode: "ns=2;s=Room1.Temp", DataType: model.TypeFloat, Direction: mapping.DirectionBidirectional},
	})
	fe := &fakeEnqueuer{}
	a := New(fe, table, time.Hour)

	err := a.Push(context.Background(), adapter.IngressEvent{Source: model.EndpointOPCUA, TopicOrNode: "ns=2;s=Room1.Temp", RawValue: "21.5"})
	require.NoError(t, err)
	assert.Equal(t, "sensors/room1/temperature", fe.last.TopicOrNode)
	assert.Equal(t, model.EndpointMQTT, fe.last.Destination)
}

func TestPush_UnmappedNodeIsDropped(t *testing.T) {
	table := mapping.New(nil)
	fe := &fakeEnqueuer{}
	a := New(fe, table, time.Hour)

	err := a.Push(context.Background(), adapter.IngressEvent{TopicOrNode: "ns=2;s=Unknown", RawValue: "x"})
	require.NoError(t, err)
	assert.Empty(t, fe.last.TopicOrNode)
}
