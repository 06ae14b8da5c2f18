package event

import (
	"testing"
	"time"
)

var ts = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestNormalizeFullProperties(t *testing.T) {
	raw := RawEvent{
		ID:         "ev-1",
		DistinctID: "user-7",
		Event:      "$exception",
		Timestamp:  ts,
		Properties: map[string]interface{}{
			"$session_id":        "sess-1",
			"$current_url":       "https://app.example.com/checkout",
			"$exception_message": "Cannot read properties of undefined",
			"$exception_type":    "TypeError",
			"$raw_user_agent":    "Mozilla/5.0",
		},
	}

	n := Normalize(raw, KindException)
	if n.EventID != "ev-1" {
		t.Fatalf("expected source id preserved, got %q", n.EventID)
	}
	if n.SessionKey != "sess-1" {
		t.Fatalf("expected session key sess-1, got %q", n.SessionKey)
	}
	if n.ActorID != "user-7" {
		t.Fatalf("expected actor user-7, got %q", n.ActorID)
	}
	if n.Detail.Message != "Cannot read properties of undefined" {
		t.Fatalf("unexpected message: %q", n.Detail.Message)
	}
	if n.Detail.Type != "TypeError" {
		t.Fatalf("unexpected type: %q", n.Detail.Type)
	}
	if n.Detail.URL != "https://app.example.com/checkout" {
		t.Fatalf("unexpected url: %q", n.Detail.URL)
	}
	if n.Kind != KindException {
		t.Fatalf("unexpected kind: %q", n.Kind)
	}
}

func TestNormalizeSynthesizesEventID(t *testing.T) {
	n1 := Normalize(RawEvent{Timestamp: ts}, KindRageClick)
	n2 := Normalize(RawEvent{Timestamp: ts}, KindRageClick)
	if n1.EventID == "" || n2.EventID == "" {
		t.Fatal("expected synthetic event ids, got empty")
	}
	if n1.EventID == n2.EventID {
		t.Fatalf("synthetic ids must be unique per call, both %q", n1.EventID)
	}
}

func TestNormalizeNilProperties(t *testing.T) {
	n := Normalize(RawEvent{ID: "ev-2", Timestamp: ts}, KindDeadClick)
	if n.EventID != "ev-2" {
		t.Fatalf("expected ev-2, got %q", n.EventID)
	}
	if n.SessionKey != "" || n.Detail.URL != "" || n.Detail.Element != "" {
		t.Fatalf("expected empty extractions from nil property bag, got %+v", n)
	}
}

func TestNormalizeFieldPrecedence(t *testing.T) {
	raw := RawEvent{
		ID:        "ev-3",
		Timestamp: ts,
		Properties: map[string]interface{}{
			"$session_id": "structured",
			"session_id":  "fallback",
			"$el_text":    "Submit",
			"target_text": "ignored",
		},
	}
	n := Normalize(raw, KindRageClick)
	if n.SessionKey != "structured" {
		t.Fatalf("expected structured field to win, got %q", n.SessionKey)
	}
	if n.Detail.Element != "Submit" {
		t.Fatalf("expected $el_text to win, got %q", n.Detail.Element)
	}
}

func TestNormalizeFallbackFields(t *testing.T) {
	raw := RawEvent{
		ID:        "ev-4",
		Timestamp: ts,
		Properties: map[string]interface{}{
			"session_key":     "sk-9",
			"page_url":        "/settings",
			"message":         "boom",
			"target_selector": "#save-btn",
		},
	}
	n := Normalize(raw, KindException)
	if n.SessionKey != "sk-9" {
		t.Fatalf("expected session_key fallback, got %q", n.SessionKey)
	}
	if n.Detail.URL != "/settings" {
		t.Fatalf("expected page_url fallback, got %q", n.Detail.URL)
	}
	if n.Detail.Message != "boom" {
		t.Fatalf("expected message fallback, got %q", n.Detail.Message)
	}
	if n.Detail.Selector != "#save-btn" {
		t.Fatalf("expected target_selector fallback, got %q", n.Detail.Selector)
	}
}

func TestNormalizeIgnoresNonStringProperties(t *testing.T) {
	raw := RawEvent{
		ID:        "ev-5",
		Timestamp: ts,
		Properties: map[string]interface{}{
			"$session_id": 42,
			"session_id":  "real",
		},
	}
	n := Normalize(raw, KindException)
	if n.SessionKey != "real" {
		t.Fatalf("expected non-string candidate skipped, got %q", n.SessionKey)
	}
}

func TestNormalizeAll(t *testing.T) {
	raws := []RawEvent{
		{ID: "a", Timestamp: ts},
		{ID: "b", Timestamp: ts.Add(time.Second)},
	}
	out := NormalizeAll(raws, KindException)
	if len(out) != 2 {
		t.Fatalf("expected 2 normalized events, got %d", len(out))
	}
	if out[0].EventID != "a" || out[1].EventID != "b" {
		t.Fatalf("unexpected ids: %q %q", out[0].EventID, out[1].EventID)
	}
}
