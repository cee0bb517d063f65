// Package search implements the best-effort bookkeeping feeding the search
// index: vulnerability ids are pushed to a redis set the indexer drains on
// its own schedule. Nothing here retries; the indexer's repair jobs own
// catch-up.
package search

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/openctemio/ingest/internal/app/ingestion"
	"github.com/openctemio/ingest/internal/infra/redis"
	"github.com/openctemio/ingest/pkg/domain/shared"
)

// pendingKey is the set the indexer consumes.
const pendingKey = "search:vulnerabilities:pending"

// Tracker queues vulnerabilities for index updates on redis.
type Tracker struct {
	client *goredis.Client

	// enabled mirrors the search-indexing toggle; a disabled tracker is a
	// no-op so callers never branch on configuration.
	enabled bool
}

// NewTracker creates the tracker.
func NewTracker(client *redis.Client, enabled bool) *Tracker {
	return &Tracker{client: client.Raw(), enabled: enabled}
}

var _ ingestion.SearchTracker = (*Tracker)(nil)

// Track queues the given vulnerability ids for index updates.
func (t *Tracker) Track(ctx context.Context, ids []shared.ID) error {
	if !t.enabled || len(ids) == 0 {
		return nil
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id.String()
	}

	if err := t.client.SAdd(ctx, pendingKey, members...).Err(); err != nil {
		return fmt.Errorf("queue vulnerabilities for indexing: %w", err)
	}
	return nil
}

// Pending returns how many vulnerabilities await indexing. Used by the
// health surface.
func (t *Tracker) Pending(ctx context.Context) (int64, error) {
	return t.client.SCard(ctx, pendingKey).Result()
}
