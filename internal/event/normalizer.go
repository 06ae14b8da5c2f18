package event

import (
	"github.com/google/uuid"
)

// Field precedence when extracting from the provider property bag. Structured
// provider fields come first, generic free-text fallbacks last. First match
// wins.
var (
	sessionKeyFields = []string{"$session_id", "session_id", "sessionId", "session_key"}
	urlFields        = []string{"$current_url", "current_url", "url", "page_url", "$pathname"}
	messageFields    = []string{"$exception_message", "exception_message", "error_message", "message"}
	typeFields       = []string{"$exception_type", "exception_type", "error_type"}
	elementFields    = []string{"$el_text", "el_text", "element_text", "target_text", "$elements_chain"}
	selectorFields   = []string{"$element_selector", "element_selector", "target_selector", "selector"}
	userAgentFields  = []string{"$raw_user_agent", "$useragent", "user_agent"}
)

// Normalize converts a raw provider event into the uniform internal shape.
// It never fails: missing fields map to zero values, and an event without a
// source id gets a fresh synthetic one so every normalized event is
// addressable.
func Normalize(raw RawEvent, kind Kind) NormalizedEvent {
	id := raw.ID
	if id == "" {
		id = uuid.New().String()
	}

	return NormalizedEvent{
		EventID:    id,
		SessionKey: firstString(raw.Properties, sessionKeyFields),
		ActorID:    raw.DistinctID,
		Kind:       kind,
		Timestamp:  raw.Timestamp,
		UserAgent:  firstString(raw.Properties, userAgentFields),
		Detail: Detail{
			Message:  firstString(raw.Properties, messageFields),
			Type:     firstString(raw.Properties, typeFields),
			URL:      firstString(raw.Properties, urlFields),
			Element:  firstString(raw.Properties, elementFields),
			Selector: firstString(raw.Properties, selectorFields),
		},
	}
}

// NormalizeAll normalizes a batch of raw events of one kind.
func NormalizeAll(raws []RawEvent, kind Kind) []NormalizedEvent {
	out := make([]NormalizedEvent, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw, kind))
	}
	return out
}

func firstString(props map[string]interface{}, keys []string) string {
	if props == nil {
		return ""
	}
	for _, k := range keys {
		if v, ok := props[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
