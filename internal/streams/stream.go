// Package streams wraps Redis Streams for the two durable logs of
// spec §2: the per-chain raw-event stream (component B) and the
// shared delivery queue (component D). Grounded on other_examples'
// piwi3910-netweave webhook_worker.go, which this package follows
// closely for consumer-group lifecycle (XGroupCreateMkStream with
// BUSYGROUP tolerance, XReadGroup with a block timeout, XAck) and
// extends with XAutoClaim for the pending-entries reclaim described
// in SPEC_FULL.md's supplemented feature 5.
package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
)

// Entry is one stream message: its id plus the raw field map, ready
// for a caller to decode into an Event or DeliveryJob.
type Entry struct {
	ID     string
	Values map[string]interface{}
}

// Client wraps a single Redis stream with one consumer group. Every
// blocking-read caller (one per chain in the processor, one per
// worker in the deliverer) must construct its own Client with a
// distinct consumer name; Client instances are never shared across
// concurrent blocking reads (spec §5's correctness-critical
// invariant).
type Client struct {
	rdb      *redis.Client
	stream   string
	group    string
	consumer string
}

// New returns a stream client bound to one (stream, group, consumer)
// triple. It does not touch Redis; call EnsureGroup before reading.
func New(rdb *redis.Client, stream, group, consumer string) *Client {
	return &Client{rdb: rdb, stream: stream, group: group, consumer: consumer}
}

// EnsureGroup creates the consumer group starting at the beginning of
// the stream, tolerating BUSYGROUP if it already exists.
func (c *Client) EnsureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("create consumer group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// Publish appends one entry with the given fields, trimmed to maxLen
// (approximate) to bound retention per spec §6.
func (c *Client) Publish(ctx context.Context, maxLen int64, values map[string]interface{}) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream,
		MaxLen: maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", c.stream, err)
	}
	return id, nil
}

// PublishBatch appends multiple entries in a single pipelined round
// trip instead of one XADD per entry. If the pipeline itself fails,
// no id is returned for any entry; the caller is expected to leave
// its source message unacked and retry the whole batch on re-read,
// which is safe because downstream consumers tolerate duplicates.
func (c *Client) PublishBatch(ctx context.Context, maxLen int64, values []map[string]interface{}) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	pipe := c.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(values))
	for i, v := range values {
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: c.stream,
			MaxLen: maxLen,
			Approx: true,
			Values: v,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("pipelined publish to %s: %w", c.stream, err)
	}
	ids := make([]string, len(cmds))
	for i, cmd := range cmds {
		ids[i] = cmd.Val()
	}
	return ids, nil
}

// ReadBatch performs one blocking XREADGROUP for up to count new
// entries (id ">"), returning immediately with an empty slice on
// block-timeout rather than erroring, matching spec §4.G's batch-of-
// up-to-100 / ~5s-block read shape.
func (c *Client) ReadBatch(ctx context.Context, count int64, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s as %s/%s: %w", c.stream, c.group, c.consumer, err)
	}

	var entries []Entry
	for _, s := range res {
		for _, m := range s.Messages {
			entries = append(entries, Entry{ID: m.ID, Values: m.Values})
		}
	}
	return entries, nil
}

// Ack acknowledges one or more entry ids.
func (c *Client) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.rdb.XAck(ctx, c.stream, c.group, ids...).Err(); err != nil {
		return fmt.Errorf("ack %s on %s: %w", ids, c.stream, err)
	}
	return nil
}

// ReclaimStale runs XAUTOCLAIM to pull entries idle longer than
// minIdle into this consumer, satisfying the pending-entries reclaim
// of SPEC_FULL.md's supplemented feature 5 and spec §8 Scenario 6's
// crash-recovery property. A peer consumer that died mid-read leaves
// its pending entries claimable by any live consumer in the group.
func (c *Client) ReclaimStale(ctx context.Context, minIdle time.Duration, count int64) ([]Entry, error) {
	msgs, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("autoclaim %s: %w", c.stream, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, Entry{ID: m.ID, Values: m.Values})
	}
	if len(entries) > 0 {
		log.Info("reclaimed pending entries", "stream", c.stream, "group", c.group, "consumer", c.consumer, "count", len(entries))
	}
	return entries, nil
}
