package analysis

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bugscout/bugscout/internal/session"
)

// newCompletionServer fakes the chat completions endpoint, returning the
// given content as the assistant message.
func newCompletionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
}

func TestClassifyValidOutput(t *testing.T) {
	content := `[{"recording_id":"s1","category":"UI","issue_type":"exception","title":"Crash","description":"boom","severity":"High","code_location":"src/app.ts"}]`
	server := newCompletionServer(t, content)
	defer server.Close()

	a := NewLLMAnalyzer(server.URL, "", "test-model", time.Second)
	issues, err := a.Classify(context.Background(), []*session.Aggregate{{ID: "s1", Kind: session.KindSession}})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(issues) != 1 || issues[0].RecordingID != "s1" || issues[0].Severity != SeverityHigh {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestClassifyDropsInvalidSeverity(t *testing.T) {
	content := `[
		{"recording_id":"s1","severity":"High","title":"kept","description":"d","category":"c","issue_type":"t","code_location":"l"},
		{"recording_id":"s2","severity":"Catastrophic","title":"dropped","description":"d","category":"c","issue_type":"t","code_location":"l"},
		{"recording_id":"","severity":"Low","title":"no id","description":"d","category":"c","issue_type":"t","code_location":"l"}
	]`
	server := newCompletionServer(t, content)
	defer server.Close()

	a := NewLLMAnalyzer(server.URL, "", "test-model", time.Second)
	issues, err := a.Classify(context.Background(), []*session.Aggregate{{ID: "s1"}, {ID: "s2"}})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected 1 surviving issue, got %d", len(issues))
	}
	if issues[0].RecordingID != "s1" {
		t.Fatalf("wrong survivor: %s", issues[0].RecordingID)
	}
}

func TestClassifyEmptyInput(t *testing.T) {
	a := NewLLMAnalyzer("http://unused", "", "test-model", time.Second)
	issues, err := a.Classify(context.Background(), nil)
	if err != nil || issues != nil {
		t.Fatalf("expected no call and no issues, got %v, %v", issues, err)
	}
}

func TestClassifyStripsCodeFence(t *testing.T) {
	content := "```json\n[{\"recording_id\":\"s1\",\"severity\":\"Low\",\"title\":\"t\",\"description\":\"d\",\"category\":\"c\",\"issue_type\":\"t\",\"code_location\":\"l\"}]\n```"
	server := newCompletionServer(t, content)
	defer server.Close()

	a := NewLLMAnalyzer(server.URL, "", "test-model", time.Second)
	issues, err := a.Classify(context.Background(), []*session.Aggregate{{ID: "s1"}})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(issues) != 1 {
		t.Fatalf("expected fenced JSON parsed, got %d issues", len(issues))
	}
}

func TestClassifyServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	a := NewLLMAnalyzer(server.URL, "", "test-model", time.Second)
	_, err := a.Classify(context.Background(), []*session.Aggregate{{ID: "s1"}})
	if err == nil {
		t.Fatal("expected error on 503 response")
	}
}

func TestSuggestFixesConfidenceValidation(t *testing.T) {
	content := `[
		{"recording_id":"s1","title":"t","suggested_fix":"fix a","code_location":"l","agent_confidence_score":0.8},
		{"recording_id":"s2","title":"t","suggested_fix":"fix b","code_location":"l","agent_confidence_score":1.5},
		{"recording_id":"s3","title":"t","suggested_fix":"fix c","code_location":"l","agent_confidence_score":"high"}
	]`
	server := newCompletionServer(t, content)
	defer server.Close()

	a := NewLLMAnalyzer(server.URL, "", "test-model", time.Second)
	fixes, err := a.SuggestFixes(context.Background(), []ClassifiedIssue{{RecordingID: "s1"}, {RecordingID: "s2"}, {RecordingID: "s3"}}, nil)
	if err != nil {
		t.Fatalf("SuggestFixes failed: %v", err)
	}
	if len(fixes) != 3 {
		t.Fatalf("all fixes stay usable, got %d", len(fixes))
	}
	if fixes[0].Confidence == nil || *fixes[0].Confidence != 0.8 {
		t.Fatalf("expected confidence 0.8, got %v", fixes[0].Confidence)
	}
	if fixes[1].Confidence != nil {
		t.Fatalf("out-of-range confidence must map to nil, got %v", *fixes[1].Confidence)
	}
	if fixes[2].Confidence != nil {
		t.Fatalf("non-numeric confidence must map to nil, got %v", *fixes[2].Confidence)
	}
}

func TestReviseFix(t *testing.T) {
	content := `{"recording_id":"s1","title":"t","suggested_fix":"use optional chaining","code_location":"l","agent_confidence_score":0.9}`
	server := newCompletionServer(t, content)
	defer server.Close()

	a := NewLLMAnalyzer(server.URL, "", "test-model", time.Second)
	fix, err := a.ReviseFix(context.Background(), ClassifiedIssue{RecordingID: "s1"}, "old fix", "prefer optional chaining")
	if err != nil {
		t.Fatalf("ReviseFix failed: %v", err)
	}
	if fix.SuggestedFix != "use optional chaining" {
		t.Fatalf("unexpected fix: %+v", fix)
	}
	if fix.Confidence == nil || *fix.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", fix.Confidence)
	}
}

func TestValidSeverity(t *testing.T) {
	for _, s := range []string{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow} {
		if !ValidSeverity(s) {
			t.Fatalf("expected %q valid", s)
		}
	}
	for _, s := range []string{"", "critical", "Severe", "HIGH", "Blocker"} {
		if ValidSeverity(s) {
			t.Fatalf("expected %q invalid", s)
		}
	}
}

func TestParseConfidence(t *testing.T) {
	if got := ParseConfidence(0.5); got == nil || *got != 0.5 {
		t.Fatalf("expected 0.5, got %v", got)
	}
	if got := ParseConfidence(0.0); got == nil || *got != 0 {
		t.Fatalf("zero is a valid score, got %v", got)
	}
	if got := ParseConfidence(1.0); got == nil || *got != 1 {
		t.Fatalf("one is a valid score, got %v", got)
	}
	for _, v := range []interface{}{1.5, -0.1, "high", nil, true} {
		if got := ParseConfidence(v); got != nil {
			t.Fatalf("expected nil for %v, got %v", v, *got)
		}
	}
}
