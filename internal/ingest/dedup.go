package ingest

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper claims idempotency keys. Redis SETNX is the fast path; the
// processed_events table is the durable mirror consulted when Redis has
// expired or restarted.
type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

const dedupPrefix = "ingest:event:"

// Claim atomically claims the key. Returns false when another ingest
// already holds or processed it.
func (d *Deduper) Claim(ctx context.Context, key string) (bool, error) {
	return d.rdb.SetNX(ctx, dedupPrefix+key, "1", d.ttl).Result()
}

// Release gives the key back so a wholesale retry can reprocess the
// event after a failed ingestion.
func (d *Deduper) Release(ctx context.Context, key string) error {
	return d.rdb.Del(ctx, dedupPrefix+key).Err()
}
