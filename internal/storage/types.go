package storage

import "time"

// Issue statuses and approval states as written by the pipeline. Developer
// actions move them forward afterwards; the pipeline never deletes an issue.
const (
	StatusOpen      = "open"
	ApprovalPending = "pending"
)

// Issue is the durable record produced by merging classification and
// fix-suggestion output. Uniquely keyed by RecordingID, which equals the
// aggregate id that produced it.
type Issue struct {
	RecordingID     string    `json:"recording_id"`
	Category        string    `json:"category"`
	IssueType       string    `json:"issue_type"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Severity        string    `json:"severity"`
	CodeLocation    string    `json:"code_location"`
	CodeSnippetHint string    `json:"code_snippet_hint,omitempty"`
	StartURL        string    `json:"start_url,omitempty"`
	SuggestedFix    string    `json:"suggested_fix,omitempty"`
	Status          string    `json:"status"`
	ApprovalState   string    `json:"approval_state"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
