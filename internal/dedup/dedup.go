// Package dedup implements the dedup index (component A): a set of
// recently-seen event fingerprints with time-bounded retention,
// backed by Redis SETNX-with-expiry, as described by spec §6 ("any
// kv-store supporting SETNX-style atomic insert-if-absent with
// expiry suffices").
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Index checks and records event fingerprints.
type Index struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// New returns a dedup index with the given retention window (spec
// §4.A default 24h, DEDUP_TTL_HOURS).
func New(rdb *redis.Client, ttl time.Duration) *Index {
	return &Index{rdb: rdb, ttl: ttl, prefix: "dedup:"}
}

// SeenOrMark atomically checks whether fingerprint was already seen
// within the retention window and, if not, marks it seen. Returns
// true if this call is the first sighting (caller should proceed);
// false if a duplicate (caller should drop), matching spec §4.A step 4.
func (idx *Index) SeenOrMark(ctx context.Context, fingerprint string) (firstSighting bool, err error) {
	ok, err := idx.rdb.SetNX(ctx, idx.prefix+fingerprint, 1, idx.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx %s: %w", fingerprint, err)
	}
	return ok, nil
}
