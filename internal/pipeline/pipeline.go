// Package pipeline orchestrates one analysis run: fetch raw telemetry,
// normalize, correlate into session aggregates, filter out already-recorded
// issues, run batched two-stage analysis, and persist the merged results.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bugscout/bugscout/internal/analysis"
	"github.com/bugscout/bugscout/internal/batch"
	"github.com/bugscout/bugscout/internal/config"
	"github.com/bugscout/bugscout/internal/dedup"
	"github.com/bugscout/bugscout/internal/event"
	"github.com/bugscout/bugscout/internal/session"
	"github.com/bugscout/bugscout/internal/storage"
)

// sideEffectTimeout bounds each detached best-effort write (archive, mirror).
const sideEffectTimeout = 15 * time.Second

// Fetcher supplies raw events per tracked kind. Kinds that fail upstream are
// simply absent from the result.
type Fetcher interface {
	FetchAll(ctx context.Context, since time.Time) map[event.Kind][]event.RawEvent
}

// Store is the durable store consumed by the pipeline.
type Store interface {
	dedup.ExistenceChecker
	UpsertIssue(ctx context.Context, issue storage.Issue) error
	GetIssue(ctx context.Context, recordingID string) (*storage.Issue, error)
	UpdateSuggestedFix(ctx context.Context, recordingID, suggestedFix string) error
	AppendKnowledge(ctx context.Context, entry analysis.KnowledgeEntry) error
	RecentKnowledge(ctx context.Context, n int) ([]analysis.KnowledgeEntry, error)
}

// Mirrorer mirrors persisted issues into the secondary search index.
type Mirrorer interface {
	MirrorIssue(ctx context.Context, issue storage.Issue, detectedAt time.Time)
}

// AlertPublisher announces newly created issues.
type AlertPublisher interface {
	NotifyNewIssue(ctx context.Context, issue storage.Issue)
}

// Archiver records the normalized events of a run for auditing.
type Archiver interface {
	InsertEvents(ctx context.Context, runID string, events []event.NormalizedEvent) error
}

// Summary is the caller-visible result of one run.
type Summary struct {
	SessionsWithErrors int `json:"sessionsWithErrors"`
	EventOnlyCount     int `json:"eventOnlyCount"`
	NewIssues          int `json:"newIssues"`
	FromSessions       int `json:"fromSessions"`
	FromEventOnly      int `json:"fromEventOnly"`
}

// Pipeline wires the run stages together. Mirror, notifier, and archiver are
// optional: nil disables the corresponding side effect.
type Pipeline struct {
	fetcher  Fetcher
	analyzer analysis.Analyzer
	store    Store
	mirror   Mirrorer
	notifier AlertPublisher
	archiver Archiver
	grouper  *session.Grouper
	gate     *dedup.Gate
	cfg      config.PipelineConfig
	lookback time.Duration
}

// New creates a Pipeline.
func New(fetcher Fetcher, analyzer analysis.Analyzer, store Store, cfg config.PipelineConfig, lookback time.Duration) *Pipeline {
	return &Pipeline{
		fetcher:  fetcher,
		analyzer: analyzer,
		store:    store,
		grouper:  session.New(session.Config{Window: cfg.SessionWindowDur}),
		gate:     dedup.New(store),
		cfg:      cfg,
		lookback: lookback,
	}
}

// WithMirror attaches the secondary search index mirror.
func (p *Pipeline) WithMirror(m Mirrorer) *Pipeline {
	p.mirror = m
	return p
}

// WithNotifier attaches the new-issue alert publisher.
func (p *Pipeline) WithNotifier(n AlertPublisher) *Pipeline {
	p.notifier = n
	return p
}

// WithArchiver attaches the telemetry event archiver.
func (p *Pipeline) WithArchiver(a Archiver) *Pipeline {
	p.archiver = a
	return p
}

// Run executes one full pipeline pass. It always returns a best-effort
// summary; partial upstream or analysis failures reduce the counts rather
// than failing the run.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.New().String()
	detectedAt := time.Now().UTC()
	start := time.Now()

	raws := p.fetcher.FetchAll(ctx, detectedAt.Add(-p.lookback))

	var normalized []event.NormalizedEvent
	for _, kind := range event.TrackedKinds {
		normalized = append(normalized, event.NormalizeAll(raws[kind], kind)...)
	}

	log.Info().Str("run_id", runID).Int("events", len(normalized)).Msg("Fetched telemetry events")

	p.archiveEvents(runID, normalized)

	aggregates := p.grouper.Group(normalized)

	summary := &Summary{}
	for _, agg := range aggregates {
		if agg.Kind == session.KindSession {
			summary.SessionsWithErrors++
		} else {
			summary.EventOnlyCount++
		}
	}

	fresh := p.gate.FilterNew(ctx, aggregates)
	log.Info().Str("run_id", runID).
		Int("aggregates", len(aggregates)).
		Int("new", len(fresh)).
		Msg("Deduplicated session aggregates")

	if len(fresh) == 0 {
		log.Info().Str("run_id", runID).Dur("duration", time.Since(start)).Msg("Run complete, nothing new")
		return summary, nil
	}

	knowledge, err := p.store.RecentKnowledge(ctx, p.cfg.KnowledgeContext)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load knowledge context, proceeding without it")
		knowledge = nil
	}

	kinds := make(map[string]string, len(fresh))
	for _, agg := range fresh {
		kinds[agg.ID] = agg.Kind
	}

	var mu sync.Mutex
	result := batch.ForEach(ctx, fresh, p.cfg.BatchSize, p.cfg.MaxParallel, func(bctx context.Context, chunk []*session.Aggregate) error {
		issues, err := p.analyzer.Classify(bctx, chunk)
		if err != nil {
			return fmt.Errorf("classification: %w", err)
		}
		if len(issues) == 0 {
			return nil
		}

		fixes, err := p.analyzer.SuggestFixes(bctx, issues, knowledge)
		if err != nil {
			return fmt.Errorf("fix suggestion: %w", err)
		}

		records := merge(chunk, issues, fixes, detectedAt)
		for _, rec := range records {
			if !p.persistRecord(bctx, rec, detectedAt) {
				continue
			}
			mu.Lock()
			summary.NewIssues++
			if kinds[rec.issue.RecordingID] == session.KindEventOnly {
				summary.FromEventOnly++
			} else {
				summary.FromSessions++
			}
			mu.Unlock()
		}
		return nil
	})

	log.Info().Str("run_id", runID).
		Int("batches", result.Batches).
		Int("failed_batches", result.Failed).
		Int("new_issues", summary.NewIssues).
		Dur("duration", time.Since(start)).
		Msg("Run complete")

	return summary, nil
}

// record pairs a merged issue with its originating fix.
type record struct {
	issue storage.Issue
	fix   *analysis.SuggestedFix
}

// merge joins classification and fix-suggestion output by recording id and
// builds the final issue records. The provenance prefix on the description is
// derived once per run and never applied twice.
func merge(aggregates []*session.Aggregate, issues []analysis.ClassifiedIssue, fixes []analysis.SuggestedFix, detectedAt time.Time) []record {
	fixByID := make(map[string]*analysis.SuggestedFix, len(fixes))
	for i := range fixes {
		fixByID[fixes[i].RecordingID] = &fixes[i]
	}
	aggByID := make(map[string]*session.Aggregate, len(aggregates))
	for _, agg := range aggregates {
		aggByID[agg.ID] = agg
	}

	records := make([]record, 0, len(issues))
	for _, ci := range issues {
		issue := storage.Issue{
			RecordingID:   ci.RecordingID,
			Category:      ci.Category,
			IssueType:     ci.IssueType,
			Title:         ci.Title,
			Description:   prefixDescription(ci.Description, ci.RecordingID, aggByID[ci.RecordingID], detectedAt),
			Severity:      ci.Severity,
			CodeLocation:  ci.CodeLocation,
			StartURL:      ci.StartURL,
			Status:        storage.StatusOpen,
			ApprovalState: storage.ApprovalPending,
		}
		if agg := aggByID[ci.RecordingID]; agg != nil && issue.StartURL == "" {
			issue.StartURL = agg.FirstURL
		}

		fix := fixByID[ci.RecordingID]
		if fix != nil {
			issue.SuggestedFix = fix.SuggestedFix
			if issue.CodeLocation == "" {
				issue.CodeLocation = fix.CodeLocation
			}
			if len(fix.CodeEdits) > 0 {
				issue.CodeSnippetHint = formatCodeEdits(fix.CodeEdits)
			}
		}

		records = append(records, record{issue: issue, fix: fix})
	}
	return records
}

const (
	sessionPrefixMarker = "[Session "
	eventPrefixMarker   = "[Event "
)

// prefixDescription prepends the provenance prefix unless the description
// already carries one (a retried record must not be double-prefixed).
func prefixDescription(desc, recordingID string, agg *session.Aggregate, detectedAt time.Time) string {
	if strings.HasPrefix(desc, sessionPrefixMarker) || strings.HasPrefix(desc, eventPrefixMarker) {
		return desc
	}
	label := "Session"
	if agg != nil && agg.Kind == session.KindEventOnly {
		label = "Event"
	}
	return fmt.Sprintf("[%s %s, detected %s] %s", label, recordingID, detectedAt.Format("2006-01-02 15:04 MST"), desc)
}

func formatCodeEdits(edits []analysis.CodeEdit) string {
	var b strings.Builder
	for i, e := range edits {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		fmt.Fprintf(&b, "%s\n<<<\n%s\n===\n%s\n>>>", e.File, e.Search, e.Replace)
	}
	return b.String()
}

// persistRecord upserts one issue, mirrors it, publishes its alert, and
// appends the knowledge ledger entry when the fix carries a usable
// confidence. Returns whether the primary upsert succeeded; every secondary
// effect is best effort.
func (p *Pipeline) persistRecord(ctx context.Context, rec record, detectedAt time.Time) bool {
	if err := p.store.UpsertIssue(ctx, rec.issue); err != nil {
		log.Error().Err(err).Str("recording_id", rec.issue.RecordingID).Msg("Failed to persist issue")
		return false
	}

	if p.mirror != nil {
		go func(issue storage.Issue) {
			mctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
			defer cancel()
			p.mirror.MirrorIssue(mctx, issue, detectedAt)
		}(rec.issue)
	}

	if p.notifier != nil {
		p.notifier.NotifyNewIssue(ctx, rec.issue)
	}

	if rec.fix != nil && rec.fix.Confidence != nil {
		entry := analysis.KnowledgeEntry{
			Title:        rec.issue.Title,
			Description:  rec.issue.Description,
			Severity:     rec.issue.Severity,
			SuggestedFix: rec.issue.SuggestedFix,
			Confidence:   rec.fix.Confidence,
		}
		if err := p.store.AppendKnowledge(ctx, entry); err != nil {
			log.Error().Err(err).Str("recording_id", rec.issue.RecordingID).Msg("Failed to append knowledge entry")
		}
	}

	return true
}

func (p *Pipeline) archiveEvents(runID string, events []event.NormalizedEvent) {
	if p.archiver == nil || len(events) == 0 {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := p.archiver.InsertEvents(actx, runID, events); err != nil {
			log.Error().Err(err).Str("run_id", runID).Int("count", len(events)).
				Msg("Failed to archive telemetry events")
		}
	}()
}

// Revise produces a revised fix for one existing issue from developer
// instructions, persists it, and returns the updated issue.
func (p *Pipeline) Revise(ctx context.Context, recordingID, instructions string) (*storage.Issue, error) {
	issue, err := p.store.GetIssue(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	classified := analysis.ClassifiedIssue{
		RecordingID:  issue.RecordingID,
		Category:     issue.Category,
		IssueType:    issue.IssueType,
		Title:        issue.Title,
		Description:  issue.Description,
		Severity:     issue.Severity,
		CodeLocation: issue.CodeLocation,
		StartURL:     issue.StartURL,
	}

	fix, err := p.analyzer.ReviseFix(ctx, classified, issue.SuggestedFix, instructions)
	if err != nil {
		return nil, fmt.Errorf("revise fix: %w", err)
	}

	if err := p.store.UpdateSuggestedFix(ctx, recordingID, fix.SuggestedFix); err != nil {
		return nil, err
	}
	issue.SuggestedFix = fix.SuggestedFix

	if fix.Confidence != nil {
		entry := analysis.KnowledgeEntry{
			Title:        issue.Title,
			Description:  issue.Description,
			Severity:     issue.Severity,
			SuggestedFix: fix.SuggestedFix,
			Confidence:   fix.Confidence,
		}
		if err := p.store.AppendKnowledge(ctx, entry); err != nil {
			log.Error().Err(err).Str("recording_id", recordingID).Msg("Failed to append knowledge entry")
		}
	}

	if p.mirror != nil {
		go func(mirrored storage.Issue) {
			mctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
			defer cancel()
			p.mirror.MirrorIssue(mctx, mirrored, time.Now().UTC())
		}(*issue)
	}

	return issue, nil
}

// RunLoop runs the pipeline on a fixed interval until the context is
// cancelled. Used when pipeline.interval is configured; the HTTP trigger
// stays available either way.
func (p *Pipeline) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Starting periodic pipeline runs")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Periodic pipeline runs stopped")
			return
		case <-ticker.C:
			if _, err := p.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Scheduled pipeline run failed")
			}
		}
	}
}
