package event

import "time"

// Kind identifies the class of telemetry event tracked by the pipeline.
type Kind string

const (
	KindException Kind = "exception"
	KindRageClick Kind = "rage_click"
	KindDeadClick Kind = "dead_click"
)

// TrackedKinds lists every event kind fetched from the telemetry provider.
var TrackedKinds = []Kind{KindException, KindRageClick, KindDeadClick}

// RawEvent is an event as delivered by the telemetry provider. Properties is
// the provider's free-form property bag and is never mutated.
type RawEvent struct {
	ID         string                 `json:"id"`
	DistinctID string                 `json:"distinct_id"`
	Event      string                 `json:"event"`
	Timestamp  time.Time              `json:"timestamp"`
	Properties map[string]interface{} `json:"properties"`
}

// Detail carries the human-relevant fields extracted from a raw event.
type Detail struct {
	Message  string `json:"message,omitempty"`
	Type     string `json:"type,omitempty"`
	URL      string `json:"url,omitempty"`
	Element  string `json:"element,omitempty"`
	Selector string `json:"selector,omitempty"`
}

// NormalizedEvent is the uniform internal event shape produced by Normalize.
// SessionKey and ActorID are empty when the source carries no such marker.
type NormalizedEvent struct {
	EventID    string    `json:"event_id"`
	SessionKey string    `json:"session_key,omitempty"`
	ActorID    string    `json:"actor_id,omitempty"`
	Kind       Kind      `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	UserAgent  string    `json:"user_agent,omitempty"`
	Detail     Detail    `json:"detail"`
}
