package dedup

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/bugscout/bugscout/internal/session"
)

// ExistenceChecker answers which of the given aggregate ids already have a
// recorded issue. Implemented by the issue store as a single batched query.
type ExistenceChecker interface {
	ExistingIssueIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
}

// Gate filters out aggregates that already produced an issue in a previous
// run.
type Gate struct {
	checker ExistenceChecker
}

// New creates a Gate backed by the given existence checker.
func New(checker ExistenceChecker) *Gate {
	return &Gate{checker: checker}
}

// FilterNew returns the aggregates whose ids are not yet recorded as issues.
//
// The known-id set is fetched with one batched lookup. If that lookup fails
// the gate fails closed: every candidate is treated as already known and the
// run produces zero new issues, so a storage outage can never cause duplicate
// issues. A later run retries naturally because the aggregates remain
// unrecorded.
func (g *Gate) FilterNew(ctx context.Context, aggregates []*session.Aggregate) []*session.Aggregate {
	if len(aggregates) == 0 {
		return nil
	}

	ids := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		ids = append(ids, agg.ID)
	}

	known, err := g.checker.ExistingIssueIDs(ctx, ids)
	if err != nil {
		log.Warn().Err(err).Int("candidates", len(ids)).
			Msg("Existence check failed, failing closed: treating all aggregates as known")
		return nil
	}

	fresh := make([]*session.Aggregate, 0, len(aggregates))
	for _, agg := range aggregates {
		if _, exists := known[agg.ID]; exists {
			continue
		}
		fresh = append(fresh, agg)
	}
	return fresh
}
