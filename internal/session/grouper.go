package session

import (
	"sort"
	"time"

	"github.com/mssola/useragent"

	"github.com/bugscout/bugscout/internal/event"
)

// EventOnlyPrefix namespaces aggregates built from a single session-less
// event, so a synthetic aggregate id can never collide with a real session
// key of the same value.
const EventOnlyPrefix = "event-"

const (
	KindSession   = "session"
	KindEventOnly = "event-only"
)

// Counts tallies member events per kind.
type Counts struct {
	Exceptions int `json:"exceptions"`
	RageClicks int `json:"rage_clicks"`
	DeadClicks int `json:"dead_clicks"`
}

// Aggregate is the correlated unit of analysis: all normalized events that
// belong to one user session, or a singleton wrapper around an event that
// could not be attached to any session. Member events are sorted ascending
// by timestamp. Aggregates live for a single pipeline run and are never
// persisted.
type Aggregate struct {
	ID             string                  `json:"aggregate_id"`
	Kind           string                  `json:"kind"`
	Events         []event.NormalizedEvent `json:"events"`
	Counts         Counts                  `json:"counts"`
	FirstURL       string                  `json:"first_url,omitempty"`
	FirstTimestamp time.Time               `json:"first_timestamp"`
	Browser        string                  `json:"browser,omitempty"`
	OS             string                  `json:"os,omitempty"`
}

// Config controls session grouping behavior.
type Config struct {
	// Window is the actor join window: a session-less event is attached to a
	// keyed session when the same actor was active in that session within
	// Window of the event's timestamp.
	Window time.Duration
}

// Grouper correlates normalized events into session aggregates.
type Grouper struct {
	cfg Config
}

// New creates a Grouper with the given config.
func New(cfg Config) *Grouper {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	return &Grouper{cfg: cfg}
}

// Group builds session aggregates from normalized events.
//
// Events are first deduplicated by event id (upstream pages can overlap),
// then partitioned by the presence of a session key. Keyed events group by
// session key with the key as the aggregate id. Session-less events are
// joined to a keyed session by actor id + time window when possible, and
// otherwise become singleton event-only aggregates with a prefixed id.
// Grouping is deterministic: the same input set always yields the same
// aggregate ids, member ordering, and output order.
func (g *Grouper) Group(events []event.NormalizedEvent) []*Aggregate {
	events = dedupeByID(events)

	var keyed, unkeyed []event.NormalizedEvent
	for _, e := range events {
		if e.SessionKey != "" {
			keyed = append(keyed, e)
		} else {
			unkeyed = append(unkeyed, e)
		}
	}

	byKey := make(map[string]*Aggregate)
	var order []string
	for _, e := range keyed {
		agg, ok := byKey[e.SessionKey]
		if !ok {
			agg = &Aggregate{ID: e.SessionKey, Kind: KindSession}
			byKey[e.SessionKey] = agg
			order = append(order, e.SessionKey)
		}
		agg.Events = append(agg.Events, e)
	}

	var aggregates []*Aggregate
	for _, key := range order {
		aggregates = append(aggregates, byKey[key])
	}

	// Actor+window join before the singleton fallback, applied to every
	// session-less event.
	for _, e := range unkeyed {
		if host := g.findSessionForActor(aggregates, e); host != nil {
			host.Events = append(host.Events, e)
			continue
		}
		aggregates = append(aggregates, &Aggregate{
			ID:     EventOnlyPrefix + e.EventID,
			Kind:   KindEventOnly,
			Events: []event.NormalizedEvent{e},
		})
	}

	for _, agg := range aggregates {
		finalize(agg)
	}

	sort.SliceStable(aggregates, func(i, j int) bool {
		if !aggregates[i].FirstTimestamp.Equal(aggregates[j].FirstTimestamp) {
			return aggregates[i].FirstTimestamp.Before(aggregates[j].FirstTimestamp)
		}
		return aggregates[i].ID < aggregates[j].ID
	})

	return aggregates
}

// findSessionForActor returns the keyed session aggregate whose actor matches
// the event and whose activity span, widened by the join window, covers the
// event's timestamp. The earliest matching session wins so the join is
// deterministic.
func (g *Grouper) findSessionForActor(aggregates []*Aggregate, e event.NormalizedEvent) *Aggregate {
	if e.ActorID == "" {
		return nil
	}

	var best *Aggregate
	var bestStart time.Time
	for _, agg := range aggregates {
		if agg.Kind != KindSession {
			continue
		}
		start, end, ok := actorSpan(agg, e.ActorID)
		if !ok {
			continue
		}
		if e.Timestamp.Before(start.Add(-g.cfg.Window)) || e.Timestamp.After(end.Add(g.cfg.Window)) {
			continue
		}
		if best == nil || start.Before(bestStart) || (start.Equal(bestStart) && agg.ID < best.ID) {
			best = agg
			bestStart = start
		}
	}
	return best
}

func actorSpan(agg *Aggregate, actorID string) (start, end time.Time, ok bool) {
	for _, e := range agg.Events {
		if e.ActorID != actorID {
			continue
		}
		if !ok || e.Timestamp.Before(start) {
			start = e.Timestamp
		}
		if !ok || e.Timestamp.After(end) {
			end = e.Timestamp
		}
		ok = true
	}
	return start, end, ok
}

func finalize(agg *Aggregate) {
	sort.SliceStable(agg.Events, func(i, j int) bool {
		return agg.Events[i].Timestamp.Before(agg.Events[j].Timestamp)
	})

	agg.Counts = Counts{}
	for _, e := range agg.Events {
		switch e.Kind {
		case event.KindException:
			agg.Counts.Exceptions++
		case event.KindRageClick:
			agg.Counts.RageClicks++
		case event.KindDeadClick:
			agg.Counts.DeadClicks++
		}
	}

	agg.FirstTimestamp = agg.Events[0].Timestamp
	for _, e := range agg.Events {
		if e.Detail.URL != "" {
			agg.FirstURL = e.Detail.URL
			break
		}
	}

	for _, e := range agg.Events {
		if e.UserAgent == "" {
			continue
		}
		ua := useragent.New(e.UserAgent)
		name, version := ua.Browser()
		agg.Browser = name
		if version != "" {
			agg.Browser = name + " " + version
		}
		agg.OS = ua.OS()
		break
	}
}

func dedupeByID(events []event.NormalizedEvent) []event.NormalizedEvent {
	seen := make(map[string]struct{}, len(events))
	out := make([]event.NormalizedEvent, 0, len(events))
	for _, e := range events {
		if _, dup := seen[e.EventID]; dup {
			continue
		}
		seen[e.EventID] = struct{}{}
		out = append(out, e)
	}
	return out
}
