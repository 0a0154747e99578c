// Package mapping implements the routing table between MQTT topics and
// OPC-UA node IDs (spec.md §4.5), including MQTT wildcard subscription
// semantics (`+` single-level, `#` multi-level) with the precedence
// exact > single-level wildcard > multi-level wildcard.
package mapping

import (
	"strings"

	"github.com/armorclaw/iobridge/internal/model"
)

// Direction constrains which way a mapping entry routes.
type Direction string

const (
	DirectionMQTTToOPCUA Direction = "mqtt_to_opcua"
	DirectionOPCUAToMQTT Direction = "opcua_to_mqtt"
	DirectionBidirectional Direction = "bidirectional"
)

// Entry is one configured route between an MQTT topic pattern and an
// OPC-UA node ID.
type Entry struct {
	MQTTTopic  string
	OPCUANode  string
	DataType   model.DataType
	Direction  Direction
	Priority   model.Priority
	MaxRetries int
	Coalesce   bool
}

// Table indexes mapping entries for fast lookup in both routing
// directions, separating exact topics from wildcard patterns.
type Table struct {
	exact          map[string]Entry
	singleWildcard []wildcardEntry
	multiWildcard  []wildcardEntry
	byNode         map[string]Entry
}

type wildcardEntry struct {
	segments []string
	entry    Entry
}

// New builds a Table from configured entries. Entries are validated by
// buffercfg before reaching here; New does not re-validate direction or
// data type.
func New(entries []Entry) *Table {
	t := &Table{
		exact:  make(map[string]Entry),
		byNode: make(map[string]Entry),
	}
	for _, e := range entries {
		t.byNode[e.OPCUANode] = e
		segments := strings.Split(e.MQTTTopic, "/")
		switch {
		case strings.Contains(e.MQTTTopic, "#"):
			t.multiWildcard = append(t.multiWildcard, wildcardEntry{segments: segments, entry: e})
		case strings.Contains(e.MQTTTopic, "+"):
			t.singleWildcard = append(t.singleWildcard, wildcardEntry{segments: segments, entry: e})
		default:
			t.exact[e.MQTTTopic] = e
		}
	}
	return t
}

// ResolveMQTT finds the mapping entry governing an incoming MQTT topic,
// preferring an exact match, then a single-level wildcard, then a
// multi-level wildcard (spec.md §4.5).
func (t *Table) ResolveMQTT(topic string) (Entry, bool) {
	if e, ok := t.exact[topic]; ok {
		return e, true
	}
	segments := strings.Split(topic, "/")
	for _, w := range t.singleWildcard {
		if matchSingleLevel(w.segments, segments) {
			return w.entry, true
		}
	}
	for _, w := range t.multiWildcard {
		if matchMultiLevel(w.segments, segments) {
			return w.entry, true
		}
	}
	return Entry{}, false
}

// ResolveOPCUANode finds the mapping entry governing an outgoing OPC-UA
// node ID.
func (t *Table) ResolveOPCUANode(nodeID string) (Entry, bool) {
	e, ok := t.byNode[nodeID]
	return e, ok
}

// matchSingleLevel matches a pattern containing exactly one `+` segment
// against a concrete topic; `+` matches exactly one segment.
func matchSingleLevel(pattern, topic []string) bool {
	if len(pattern) != len(topic) {
		return false
	}
	for i, p := range pattern {
		if p == "+" {
			continue
		}
		if p != topic[i] {
			return false
		}
	}
	return true
}

// matchMultiLevel matches a pattern ending in `#`, which must occupy the
// final segment and matches zero or more remaining levels. Any `+`
// segments before the `#` still match exactly one level each.
func matchMultiLevel(pattern, topic []string) bool {
	if len(pattern) == 0 || pattern[len(pattern)-1] != "#" {
		return false
	}
	prefix := pattern[:len(pattern)-1]
	if len(topic) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if p == "+" {
			continue
		}
		if p != topic[i] {
			return false
		}
	}
	return true
}

// Coalesce reports whether the route governing a message already resolved
// to (destination, topicOrNode) is configured with Coalesce (spec.md:100).
// An unmapped destination/topicOrNode (e.g. an internal or SAP message)
// never coalesces.
func (t *Table) Coalesce(destination model.Endpoint, topicOrNode string) bool {
	switch destination {
	case model.EndpointMQTT:
		e, ok := t.ResolveMQTT(topicOrNode)
		return ok && e.Coalesce
	case model.EndpointOPCUA:
		e, ok := t.ResolveOPCUANode(topicOrNode)
		return ok && e.Coalesce
	default:
		return false
	}
}

// Entries returns every configured mapping, for the operator CLI and
// startup diagnostics.
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.exact)+len(t.singleWildcard)+len(t.multiWildcard))
	for _, e := range t.exact {
		out = append(out, e)
	}
	for _, w := range t.singleWildcard {
		out = append(out, w.entry)
	}
	for _, w := range t.multiWildcard {
		out = append(out, w.entry)
	}
	return out
}
