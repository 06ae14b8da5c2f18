package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bugscout/bugscout/internal/session"
)

const (
	classifySystemPrompt = `You are a frontend reliability analyst. You receive session aggregates of
behavioral telemetry (exceptions, rage clicks, dead clicks). For each aggregate that shows a real
user-facing problem, emit one issue object. Skip aggregates with no discernible issue. Respond with
a JSON array of objects with fields: recording_id, category, issue_type, title, description,
severity (one of Critical, High, Medium, Low), code_location. No prose, JSON only.`

	suggestSystemPrompt = `You are a senior engineer proposing fixes for classified frontend issues.
You also receive a log of past fixes with developer ratings; when a new issue closely resembles a
well-rated past fix, raise your confidence accordingly. Respond with a JSON array of objects with
fields: recording_id, title, suggested_fix, code_location, code_edits (array of {file, search,
replace}), agent_confidence_score (number between 0 and 1). No prose, JSON only.`

	reviseSystemPrompt = `You are a senior engineer revising a previously suggested fix according to
developer instructions. Use the prior fix as the starting point rather than re-deriving from
scratch. Respond with a single JSON object with fields: recording_id, title, suggested_fix,
code_location, code_edits, agent_confidence_score. No prose, JSON only.`
)

// LLMAnalyzer implements Analyzer against an OpenAI-compatible chat
// completions endpoint.
type LLMAnalyzer struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewLLMAnalyzer creates an analyzer client. The timeout bounds every
// completion call individually.
func NewLLMAnalyzer(baseURL, apiKey, model string, timeout time.Duration) *LLMAnalyzer {
	return &LLMAnalyzer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// aggregateSummary is the compact per-aggregate shape sent to the classifier:
// the counts plus first URL/timestamp, and the full ordered detail list.
type aggregateSummary struct {
	RecordingID    string          `json:"recording_id"`
	Kind           string          `json:"kind"`
	Counts         session.Counts  `json:"counts"`
	FirstURL       string          `json:"first_url,omitempty"`
	FirstTimestamp time.Time       `json:"first_timestamp"`
	Browser        string          `json:"browser,omitempty"`
	OS             string          `json:"os,omitempty"`
	Events         []eventSummary  `json:"events"`
}

type eventSummary struct {
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message,omitempty"`
	Type      string    `json:"type,omitempty"`
	URL       string    `json:"url,omitempty"`
	Element   string    `json:"element,omitempty"`
	Selector  string    `json:"selector,omitempty"`
}

func summarize(aggregates []*session.Aggregate) []aggregateSummary {
	out := make([]aggregateSummary, 0, len(aggregates))
	for _, agg := range aggregates {
		s := aggregateSummary{
			RecordingID:    agg.ID,
			Kind:           agg.Kind,
			Counts:         agg.Counts,
			FirstURL:       agg.FirstURL,
			FirstTimestamp: agg.FirstTimestamp,
			Browser:        agg.Browser,
			OS:             agg.OS,
		}
		for _, e := range agg.Events {
			s.Events = append(s.Events, eventSummary{
				Kind:      string(e.Kind),
				Timestamp: e.Timestamp,
				Message:   e.Detail.Message,
				Type:      e.Detail.Type,
				URL:       e.Detail.URL,
				Element:   e.Detail.Element,
				Selector:  e.Detail.Selector,
			})
		}
		out = append(out, s)
	}
	return out
}

// classifiedWire matches the classifier's raw JSON output before validation.
type classifiedWire struct {
	RecordingID  string `json:"recording_id"`
	Category     string `json:"category"`
	IssueType    string `json:"issue_type"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Severity     string `json:"severity"`
	CodeLocation string `json:"code_location"`
}

// fixWire matches the fix generator's raw JSON output. Confidence stays
// untyped until validated.
type fixWire struct {
	RecordingID  string      `json:"recording_id"`
	Title        string      `json:"title"`
	SuggestedFix string      `json:"suggested_fix"`
	CodeLocation string      `json:"code_location"`
	CodeEdits    []CodeEdit  `json:"code_edits"`
	Confidence   interface{} `json:"agent_confidence_score"`
}

// Classify sends one batch of aggregates to the model and returns the valid
// classified issues. Records with a malformed severity or a missing
// recording id are dropped, not substituted.
func (a *LLMAnalyzer) Classify(ctx context.Context, aggregates []*session.Aggregate) ([]ClassifiedIssue, error) {
	if len(aggregates) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(summarize(aggregates))
	if err != nil {
		return nil, fmt.Errorf("classify: marshal input: %w", err)
	}

	content, err := a.complete(ctx, classifySystemPrompt, string(payload))
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	var wire []classifiedWire
	if err := json.Unmarshal(extractJSON(content), &wire); err != nil {
		return nil, fmt.Errorf("classify: parse output: %w", err)
	}

	issues := make([]ClassifiedIssue, 0, len(wire))
	for _, w := range wire {
		if w.RecordingID == "" {
			log.Warn().Msg("Classifier returned record without recording_id, dropping")
			continue
		}
		if !ValidSeverity(w.Severity) {
			log.Warn().Str("recording_id", w.RecordingID).Str("severity", w.Severity).
				Msg("Classifier returned invalid severity, dropping record")
			continue
		}
		issues = append(issues, ClassifiedIssue{
			RecordingID:  w.RecordingID,
			Category:     w.Category,
			IssueType:    w.IssueType,
			Title:        w.Title,
			Description:  w.Description,
			Severity:     w.Severity,
			CodeLocation: w.CodeLocation,
		})
	}
	return issues, nil
}

// SuggestFixes sends classified issues plus the knowledge context to the
// model and returns the fixes. An out-of-range or non-numeric confidence is
// treated as absent; the fix itself stays usable.
func (a *LLMAnalyzer) SuggestFixes(ctx context.Context, issues []ClassifiedIssue, knowledge []KnowledgeEntry) ([]SuggestedFix, error) {
	if len(issues) == 0 {
		return nil, nil
	}

	input := struct {
		Issues    []ClassifiedIssue `json:"issues"`
		PastFixes []KnowledgeEntry  `json:"past_fixes"`
	}{Issues: issues, PastFixes: knowledge}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("suggest fixes: marshal input: %w", err)
	}

	content, err := a.complete(ctx, suggestSystemPrompt, string(payload))
	if err != nil {
		return nil, fmt.Errorf("suggest fixes: %w", err)
	}

	var wire []fixWire
	if err := json.Unmarshal(extractJSON(content), &wire); err != nil {
		return nil, fmt.Errorf("suggest fixes: parse output: %w", err)
	}

	fixes := make([]SuggestedFix, 0, len(wire))
	for _, w := range wire {
		if w.RecordingID == "" {
			log.Warn().Msg("Fix generator returned record without recording_id, dropping")
			continue
		}
		fixes = append(fixes, w.toFix())
	}
	return fixes, nil
}

// ReviseFix asks the model for a revised fix for one issue, feeding the prior
// fix and the developer's instructions as context.
func (a *LLMAnalyzer) ReviseFix(ctx context.Context, issue ClassifiedIssue, priorFix, instructions string) (*SuggestedFix, error) {
	input := struct {
		Issue        ClassifiedIssue `json:"issue"`
		PriorFix     string          `json:"prior_fix"`
		Instructions string          `json:"instructions"`
	}{Issue: issue, PriorFix: priorFix, Instructions: instructions}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("revise fix: marshal input: %w", err)
	}

	content, err := a.complete(ctx, reviseSystemPrompt, string(payload))
	if err != nil {
		return nil, fmt.Errorf("revise fix: %w", err)
	}

	var w fixWire
	if err := json.Unmarshal(extractJSON(content), &w); err != nil {
		return nil, fmt.Errorf("revise fix: parse output: %w", err)
	}
	if w.RecordingID == "" {
		w.RecordingID = issue.RecordingID
	}
	fix := w.toFix()
	return &fix, nil
}

func (w fixWire) toFix() SuggestedFix {
	return SuggestedFix{
		RecordingID:  w.RecordingID,
		Title:        w.Title,
		SuggestedFix: w.SuggestedFix,
		CodeLocation: w.CodeLocation,
		CodeEdits:    w.CodeEdits,
		Confidence:   ParseConfidence(w.Confidence),
	}
}

func (a *LLMAnalyzer) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSON strips a markdown code fence if the model wrapped its output in
// one, returning the raw JSON bytes.
func extractJSON(content string) []byte {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return []byte(s)
}
