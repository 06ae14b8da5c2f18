package session

import (
	"reflect"
	"testing"
	"time"

	"github.com/bugscout/bugscout/internal/event"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func ev(id, sessionKey string, kind event.Kind, offset time.Duration) event.NormalizedEvent {
	return event.NormalizedEvent{
		EventID:    id,
		SessionKey: sessionKey,
		Kind:       kind,
		Timestamp:  t0.Add(offset),
	}
}

func newGrouper() *Grouper {
	return New(Config{Window: 30 * time.Minute})
}

func TestGroupSingleSession(t *testing.T) {
	events := []event.NormalizedEvent{
		ev("e1", "s1", event.KindException, 0),
		ev("e2", "s1", event.KindException, time.Second),
		ev("e3", "s1", event.KindRageClick, 2*time.Second),
	}

	aggs := newGrouper().Group(events)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggs))
	}
	agg := aggs[0]
	if agg.ID != "s1" || agg.Kind != KindSession {
		t.Fatalf("unexpected aggregate identity: %s/%s", agg.ID, agg.Kind)
	}
	want := Counts{Exceptions: 2, RageClicks: 1, DeadClicks: 0}
	if agg.Counts != want {
		t.Fatalf("expected counts %+v, got %+v", want, agg.Counts)
	}
}

func TestGroupEventOnlyPrefix(t *testing.T) {
	aggs := newGrouper().Group([]event.NormalizedEvent{
		ev("e42", "", event.KindDeadClick, 0),
	})
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggs))
	}
	if aggs[0].ID != "event-e42" {
		t.Fatalf("expected prefixed aggregate id, got %q", aggs[0].ID)
	}
	if aggs[0].Kind != KindEventOnly {
		t.Fatalf("expected event-only kind, got %q", aggs[0].Kind)
	}
}

func TestGroupPrefixSeparation(t *testing.T) {
	// A session literally named "e42" must not collide with the synthetic
	// aggregate for a session-less event with id "e42".
	aggs := newGrouper().Group([]event.NormalizedEvent{
		ev("e1", "e42", event.KindException, 0),
		ev("e42", "", event.KindDeadClick, time.Minute),
	})
	if len(aggs) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(aggs))
	}
	ids := map[string]bool{aggs[0].ID: true, aggs[1].ID: true}
	if !ids["e42"] || !ids["event-e42"] {
		t.Fatalf("expected ids e42 and event-e42, got %v", ids)
	}
}

func TestGroupDeduplicatesOverlappingPages(t *testing.T) {
	events := []event.NormalizedEvent{
		ev("e1", "s1", event.KindException, 0),
		ev("e1", "s1", event.KindException, 0), // same page fetched twice
		ev("e2", "s1", event.KindException, time.Second),
	}
	aggs := newGrouper().Group(events)
	if len(aggs) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggs))
	}
	if len(aggs[0].Events) != 2 {
		t.Fatalf("expected 2 member events after dedupe, got %d", len(aggs[0].Events))
	}
	if aggs[0].Counts.Exceptions != 2 {
		t.Fatalf("expected 2 exceptions, got %d", aggs[0].Counts.Exceptions)
	}
}

func TestGroupSortsMembersByTimestamp(t *testing.T) {
	events := []event.NormalizedEvent{
		ev("e3", "s1", event.KindException, 5*time.Second),
		ev("e1", "s1", event.KindException, time.Second),
		ev("e2", "s1", event.KindException, 3*time.Second),
	}
	aggs := newGrouper().Group(events)
	got := []string{aggs[0].Events[0].EventID, aggs[0].Events[1].EventID, aggs[0].Events[2].EventID}
	want := []string{"e1", "e2", "e3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected order %v, got %v", want, got)
	}
	if !aggs[0].FirstTimestamp.Equal(t0.Add(time.Second)) {
		t.Fatalf("unexpected first timestamp: %v", aggs[0].FirstTimestamp)
	}
}

func TestGroupActorWindowJoin(t *testing.T) {
	keyed := ev("e1", "s1", event.KindException, 0)
	keyed.ActorID = "user-1"
	orphan := ev("e2", "", event.KindRageClick, 10*time.Minute)
	orphan.ActorID = "user-1"

	aggs := newGrouper().Group([]event.NormalizedEvent{keyed, orphan})
	if len(aggs) != 1 {
		t.Fatalf("expected orphan joined to session, got %d aggregates", len(aggs))
	}
	if aggs[0].ID != "s1" || len(aggs[0].Events) != 2 {
		t.Fatalf("expected 2 events in s1, got %d in %s", len(aggs[0].Events), aggs[0].ID)
	}
	if aggs[0].Counts.RageClicks != 1 {
		t.Fatalf("expected joined rage click counted, got %+v", aggs[0].Counts)
	}
}

func TestGroupActorJoinOutsideWindow(t *testing.T) {
	keyed := ev("e1", "s1", event.KindException, 0)
	keyed.ActorID = "user-1"
	orphan := ev("e2", "", event.KindRageClick, 2*time.Hour)
	orphan.ActorID = "user-1"

	aggs := newGrouper().Group([]event.NormalizedEvent{keyed, orphan})
	if len(aggs) != 2 {
		t.Fatalf("expected singleton fallback outside window, got %d aggregates", len(aggs))
	}
}

func TestGroupActorJoinDifferentActor(t *testing.T) {
	keyed := ev("e1", "s1", event.KindException, 0)
	keyed.ActorID = "user-1"
	orphan := ev("e2", "", event.KindRageClick, time.Minute)
	orphan.ActorID = "user-2"

	aggs := newGrouper().Group([]event.NormalizedEvent{keyed, orphan})
	if len(aggs) != 2 {
		t.Fatalf("expected no cross-actor join, got %d aggregates", len(aggs))
	}
}

func TestGroupIdempotent(t *testing.T) {
	events := []event.NormalizedEvent{
		ev("e1", "s2", event.KindException, 3*time.Second),
		ev("e2", "", event.KindDeadClick, time.Second),
		ev("e3", "s1", event.KindRageClick, 0),
		ev("e4", "s1", event.KindException, 2*time.Second),
	}

	first := newGrouper().Group(events)
	second := newGrouper().Group(events)

	if len(first) != len(second) {
		t.Fatalf("aggregate count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("aggregate %d id differs: %s vs %s", i, first[i].ID, second[i].ID)
		}
		if len(first[i].Events) != len(second[i].Events) {
			t.Fatalf("aggregate %s member count differs", first[i].ID)
		}
		for j := range first[i].Events {
			if first[i].Events[j].EventID != second[i].Events[j].EventID {
				t.Fatalf("aggregate %s member order differs at %d", first[i].ID, j)
			}
		}
	}
}

func TestGroupFirstURL(t *testing.T) {
	e1 := ev("e1", "s1", event.KindException, 0)
	e2 := ev("e2", "s1", event.KindException, time.Second)
	e2.Detail.URL = "https://app.example.com/cart"

	aggs := newGrouper().Group([]event.NormalizedEvent{e2, e1})
	if aggs[0].FirstURL != "https://app.example.com/cart" {
		t.Fatalf("expected first non-empty url, got %q", aggs[0].FirstURL)
	}
}

func TestGroupBrowserEnrichment(t *testing.T) {
	e := ev("e1", "s1", event.KindException, 0)
	e.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	aggs := newGrouper().Group([]event.NormalizedEvent{e})
	if aggs[0].Browser == "" {
		t.Fatal("expected browser parsed from user agent")
	}
	if aggs[0].OS == "" {
		t.Fatal("expected OS parsed from user agent")
	}
}

func TestGroupSingleWeakSignalIsValid(t *testing.T) {
	aggs := newGrouper().Group([]event.NormalizedEvent{
		ev("e1", "s1", event.KindDeadClick, 0),
	})
	if len(aggs) != 1 {
		t.Fatalf("a single dead click is still a valid aggregate, got %d", len(aggs))
	}
}
