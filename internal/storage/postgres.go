package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bugscout/bugscout/internal/analysis"
)

// ErrNotFound is returned when an issue does not exist.
var ErrNotFound = errors.New("issue not found")

// Postgres is the durable store: the issues table (record of record, upsert
// by recording id) and the append-only knowledge ledger.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to Postgres and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS issues (
			recording_id       TEXT PRIMARY KEY,
			category           TEXT NOT NULL DEFAULT '',
			issue_type         TEXT NOT NULL DEFAULT '',
			title              TEXT NOT NULL DEFAULT '',
			description        TEXT NOT NULL DEFAULT '',
			severity           TEXT NOT NULL DEFAULT '',
			code_location      TEXT NOT NULL DEFAULT '',
			code_snippet_hint  TEXT NOT NULL DEFAULT '',
			start_url          TEXT NOT NULL DEFAULT '',
			suggested_fix      TEXT NOT NULL DEFAULT '',
			status             TEXT NOT NULL DEFAULT 'open',
			approval_state     TEXT NOT NULL DEFAULT 'pending',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_log (
			id                     BIGSERIAL PRIMARY KEY,
			title                  TEXT NOT NULL DEFAULT '',
			description            TEXT NOT NULL DEFAULT '',
			severity               TEXT NOT NULL DEFAULT '',
			suggested_fix          TEXT NOT NULL DEFAULT '',
			developer_rating       INT,
			agent_confidence_score DOUBLE PRECISION,
			created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// ExistingIssueIDs returns which of the given recording ids already have an
// issue row, in a single batched query.
func (p *Postgres) ExistingIssueIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	if len(ids) == 0 {
		return map[string]struct{}{}, nil
	}

	rows, err := p.pool.Query(ctx, `
		SELECT recording_id FROM issues WHERE recording_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("existence check: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("existence check scan: %w", err)
		}
		known[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("existence check rows: %w", err)
	}
	return known, nil
}

// UpsertIssue inserts the issue or, if the recording id already exists,
// updates the mutable fields and bumps updated_at. Concurrent runs creating
// the same issue are resolved here by the conflict clause, not by
// application-level locking.
func (p *Postgres) UpsertIssue(ctx context.Context, issue Issue) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO issues (
			recording_id, category, issue_type, title, description, severity,
			code_location, code_snippet_hint, start_url, suggested_fix,
			status, approval_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (recording_id) DO UPDATE SET
			title         = EXCLUDED.title,
			description   = EXCLUDED.description,
			severity      = EXCLUDED.severity,
			code_location = EXCLUDED.code_location,
			suggested_fix = EXCLUDED.suggested_fix,
			updated_at    = NOW()
	`,
		issue.RecordingID, issue.Category, issue.IssueType, issue.Title,
		issue.Description, issue.Severity, issue.CodeLocation,
		issue.CodeSnippetHint, issue.StartURL, issue.SuggestedFix,
		issue.Status, issue.ApprovalState,
	)
	if err != nil {
		return fmt.Errorf("upsert issue %s: %w", issue.RecordingID, err)
	}
	return nil
}

// GetIssue loads one issue by recording id.
func (p *Postgres) GetIssue(ctx context.Context, recordingID string) (*Issue, error) {
	var issue Issue
	err := p.pool.QueryRow(ctx, `
		SELECT recording_id, category, issue_type, title, description, severity,
		       code_location, code_snippet_hint, start_url, suggested_fix,
		       status, approval_state, created_at, updated_at
		FROM issues WHERE recording_id = $1
	`, recordingID).Scan(
		&issue.RecordingID, &issue.Category, &issue.IssueType, &issue.Title,
		&issue.Description, &issue.Severity, &issue.CodeLocation,
		&issue.CodeSnippetHint, &issue.StartURL, &issue.SuggestedFix,
		&issue.Status, &issue.ApprovalState, &issue.CreatedAt, &issue.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", recordingID, err)
	}
	return &issue, nil
}

// UpdateSuggestedFix replaces the suggested fix of an existing issue.
func (p *Postgres) UpdateSuggestedFix(ctx context.Context, recordingID, suggestedFix string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE issues SET suggested_fix = $2, updated_at = NOW()
		WHERE recording_id = $1
	`, recordingID, suggestedFix)
	if err != nil {
		return fmt.Errorf("update fix %s: %w", recordingID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendKnowledge adds a new ledger row. Always an insert, never an upsert:
// the ledger is append-only and newer entries supersede older ones by
// recency.
func (p *Postgres) AppendKnowledge(ctx context.Context, entry analysis.KnowledgeEntry) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO knowledge_log (
			title, description, severity, suggested_fix,
			developer_rating, agent_confidence_score
		) VALUES ($1, $2, $3, $4, $5, $6)
	`,
		entry.Title, entry.Description, entry.Severity, entry.SuggestedFix,
		entry.DeveloperRating, entry.Confidence,
	)
	if err != nil {
		return fmt.Errorf("append knowledge: %w", err)
	}
	return nil
}

// RecentKnowledge returns the most recent n ledger entries, newest first.
func (p *Postgres) RecentKnowledge(ctx context.Context, n int) ([]analysis.KnowledgeEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT title, description, severity, suggested_fix,
		       developer_rating, agent_confidence_score
		FROM knowledge_log ORDER BY created_at DESC, id DESC LIMIT $1
	`, n)
	if err != nil {
		return nil, fmt.Errorf("recent knowledge: %w", err)
	}
	defer rows.Close()

	var entries []analysis.KnowledgeEntry
	for rows.Next() {
		var e analysis.KnowledgeEntry
		if err := rows.Scan(&e.Title, &e.Description, &e.Severity, &e.SuggestedFix, &e.DeveloperRating, &e.Confidence); err != nil {
			return nil, fmt.Errorf("recent knowledge scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent knowledge rows: %w", err)
	}
	return entries, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
