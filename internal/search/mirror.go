package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/bugscout/bugscout/internal/storage"
)

const indexKey = "issues:index"

// Mirror copies persisted issues into the secondary search index. Every call
// is best effort: failures are logged and swallowed, never surfaced to the
// pipeline.
type Mirror struct {
	redis *redis.Client
}

// New creates a Mirror against the given Redis instance. A nil client
// disables mirroring.
func New(rdb *redis.Client) *Mirror {
	return &Mirror{redis: rdb}
}

// MirrorIssue writes the issue document and its index entry. Detached from
// the critical path: the caller fires this in its own goroutine and never
// waits on the result.
func (m *Mirror) MirrorIssue(ctx context.Context, issue storage.Issue, detectedAt time.Time) {
	if m.redis == nil {
		return
	}

	doc, err := json.Marshal(issue)
	if err != nil {
		log.Error().Err(err).Str("recording_id", issue.RecordingID).Msg("Failed to marshal issue for mirror")
		return
	}

	pipe := m.redis.Pipeline()
	pipe.Set(ctx, "issue:"+issue.RecordingID, doc, 0)
	pipe.ZAdd(ctx, indexKey, redis.Z{
		Score:  float64(detectedAt.UnixMilli()),
		Member: issue.RecordingID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("recording_id", issue.RecordingID).Msg("Failed to mirror issue to search index")
		return
	}

	log.Debug().Str("recording_id", issue.RecordingID).Msg("Issue mirrored to search index")
}

// Close closes the underlying Redis client.
func (m *Mirror) Close() error {
	if m.redis == nil {
		return nil
	}
	return m.redis.Close()
}
