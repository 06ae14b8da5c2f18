package analysis

import (
	"context"

	"github.com/bugscout/bugscout/internal/session"
)

// Severity levels an issue may carry. Anything else is a validation failure
// and the record is dropped at the boundary.
const (
	SeverityCritical = "Critical"
	SeverityHigh     = "High"
	SeverityMedium   = "Medium"
	SeverityLow      = "Low"
)

// ValidSeverity reports whether s is one of the four allowed levels.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// ClassifiedIssue is the output of the classification stage for one
// aggregate. RecordingID equals the aggregate id so stage outputs can be
// re-joined.
type ClassifiedIssue struct {
	RecordingID  string `json:"recording_id"`
	Category     string `json:"category"`
	IssueType    string `json:"issue_type"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Severity     string `json:"severity"`
	CodeLocation string `json:"code_location"`
	StartURL     string `json:"start_url,omitempty"`
}

// CodeEdit is a concrete search/replace suggestion inside a file.
type CodeEdit struct {
	File    string `json:"file"`
	Search  string `json:"search"`
	Replace string `json:"replace"`
}

// SuggestedFix is the output of the fix-suggestion stage for one classified
// issue. Confidence is nil when the generator returned a score outside [0,1]
// or a non-numeric value; the fix is still usable, it just never enters the
// knowledge ledger.
type SuggestedFix struct {
	RecordingID  string     `json:"recording_id"`
	Title        string     `json:"title"`
	SuggestedFix string     `json:"suggested_fix"`
	CodeLocation string     `json:"code_location"`
	CodeEdits    []CodeEdit `json:"code_edits,omitempty"`
	Confidence   *float64   `json:"agent_confidence_score,omitempty"`
}

// KnowledgeEntry is one row of the append-only ledger of past scored fixes,
// supplied as context so the fix generator can calibrate its confidence
// against historically rated suggestions.
type KnowledgeEntry struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Severity        string   `json:"severity"`
	SuggestedFix    string   `json:"suggested_fix"`
	DeveloperRating *int     `json:"developer_rating,omitempty"`
	Confidence      *float64 `json:"agent_confidence_score,omitempty"`
}

// Analyzer is the two-stage reasoning contract consumed by the pipeline. The
// pipeline only depends on the input/output shapes; implementations validate
// their own output and drop malformed records instead of failing.
type Analyzer interface {
	// Classify turns a batch of aggregates into zero or one issue per
	// aggregate. Aggregates with no discernible issue are omitted.
	Classify(ctx context.Context, aggregates []*session.Aggregate) ([]ClassifiedIssue, error)

	// SuggestFixes produces one fix per classified issue, consulting the
	// supplied knowledge entries to calibrate confidence.
	SuggestFixes(ctx context.Context, issues []ClassifiedIssue, knowledge []KnowledgeEntry) ([]SuggestedFix, error)

	// ReviseFix produces a revised fix for a single issue from its prior fix
	// and free-text developer instructions.
	ReviseFix(ctx context.Context, issue ClassifiedIssue, priorFix, instructions string) (*SuggestedFix, error)
}

// ParseConfidence validates a raw confidence value from generator output.
// Only a numeric value inside [0,1] is usable; anything else maps to nil.
func ParseConfidence(v interface{}) *float64 {
	f, ok := v.(float64)
	if !ok || f < 0 || f > 1 {
		return nil
	}
	return &f
}
