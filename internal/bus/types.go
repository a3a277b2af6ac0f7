package bus

import "time"

// Event is one monitoring message published on an org topic
// (protocol.OrgTopic). Events are derived from persisted state changes and
// are never read back by the engine: a dropped event cannot corrupt state.
type Event struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher abstracts event publication. The engine and HITL manager depend
// on this rather than the concrete Bus so tests can capture events.
type Publisher interface {
	Publish(topic string, event Event)
}
