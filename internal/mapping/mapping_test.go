package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armorclaw/iobridge/internal/model"
)

func testEntries() []Entry {
	return []Entry{
		{MQTTTopic: "sensors/room1/temperature", OPCUANode: "ns=2;s=Room1.Temp", DataType: model.TypeFloat, Direction: DirectionMQTTToOPCUA},
		{MQTTTopic: "sensors/+/humidity", OPCUANode: "ns=2;s=AnyRoom.Humidity", DataType: model.TypeFloat, Direction: DirectionMQTTToOPCUA},
		{MQTTTopic: "sensors/#", OPCUANode: "ns=2;s=Catchall", DataType: model.TypeString, Direction: DirectionMQTTToOPCUA},
	}
}

func TestResolveMQTT_ExactBeatsWildcards(t *testing.T) {
	table := New(testEntries())
	entry, ok := table.ResolveMQTT("sensors/room1/temperature")
	require.True(t, ok)
	assert.Equal(t, "ns=2;s=Room1.Temp", entry.OPCUANode)
}

func TestResolveMQTT_SingleLevelBeatsMultiLevel(t *testing.T) {
	table := New(testEntries())
	entry, ok := table.ResolveMQTT("sensors/room2/humidity")
	require.True(t, ok)
	assert.Equal(t, "ns=2;s=AnyRoom.Humidity", entry.OPCUANode)
}

func TestResolveMQTT_MultiLevelFallback(t *testing.T) {
	table := New(testEntries())
	entry, ok := table.ResolveMQTT("sensors/room1/pressure/raw")
	require.True(t, ok)
	assert.Equal(t, "ns=2;s=Catchall", entry.OPCUANode)
}

func TestResolveMQTT_NoMatch(t *testing.T) {
	table := New(testEntries())
	_, ok := table.ResolveMQTT("actuators/room1/valve")
	assert.False(t, ok)
}

func TestResolveOPCUANode(t *testing.T) {
	table := New(testEntries())
	entry, ok := table.ResolveOPCUANode("ns=2;s=Room1.Temp")
	require.True(t, ok)
	assert.Equal(t, "sensors/room1/temperature", entry.MQTTTopic)

	_, ok = table.ResolveOPCUANode("ns=2;s=Unknown")
	assert.False(t, ok)
}

func TestSingleLevelWildcardDoesNotMatchExtraSegments(t *testing.T) {
	table := New([]Entry{
		{MQTTTopic: "sensors/+/humidity", OPCUANode: "ns=2;s=AnyRoom.Humidity", Direction: DirectionMQTTToOPCUA},
	})
	_, ok := table.ResolveMQTT("sensors/room1/sub/humidity")
	assert.False(t, ok, "+ must match exactly one level")
}
