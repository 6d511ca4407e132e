// Package processor implements component G of spec §2: one task per
// chain consuming that chain's raw-event stream via a durable
// consumer group, matching each event against the endpoint catalog,
// fanning out one DeliveryJob per match, and acknowledging only after
// every match's job has been durably appended. Grounded on
// other_examples' piwi3910-netweave webhook_worker.go for the
// consumer-group read/ack loop shape, and on storacha-piri's
// watcher_eth.go for the errgroup-bounded fan-out pattern, adapted
// here to fan out writes rather than reads.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ipcasj/ethhook-sub002/internal/catalog"
	"github.com/ipcasj/ethhook-sub002/internal/health"
	"github.com/ipcasj/ethhook-sub002/internal/model"
	"github.com/ipcasj/ethhook-sub002/internal/streams"
)

// Config holds processor-wide settings.
type Config struct {
	ConsumerGroup  string
	ConsumerName   string
	ReadBatch      int64
	ReadBlock      time.Duration
	ReclaimIdle    time.Duration
	ReclaimEvery   time.Duration
}

// DefaultConfig returns spec §4.G's stated defaults: batches of up to
// 100 entries, ~5s block timeout.
func DefaultConfig() Config {
	return Config{
		ConsumerGroup: "message_processors",
		ReadBatch:     100,
		ReadBlock:     5 * time.Second,
		ReclaimIdle:   30 * time.Second,
		ReclaimEvery:  10 * time.Second,
	}
}

// Chain identifies one chain this processor instance consumes.
type Chain struct {
	Name    string
	ChainID uint64
}

// Supervisor owns one task per configured chain.
type Supervisor struct {
	cfg    Config
	rdb    *redis.Client
	repo   *catalog.Repository
	queue  *streams.DeliveryQueue
	health *health.Server
	chains []Chain
}

func NewSupervisor(cfg Config, rdb *redis.Client, repo *catalog.Repository, h *health.Server, chains []Chain) *Supervisor {
	consumerBase := cfg.ConsumerName
	return &Supervisor{
		cfg:  cfg,
		rdb:  rdb,
		repo: repo,
		queue: streams.NewDeliveryQueue(rdb, "webhook_deliverers", consumerBase+"-processor-publisher"),
		health: h,
		chains: chains,
	}
}

// Run starts one task per chain and blocks until ctx is canceled and
// every task has drained its in-flight publishes (spec §5).
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.chains {
		c := c
		g.Go(func() error {
			// One consumer handle per chain task; never shared across
			// chains or blocking reads (spec §5's correctness-critical
			// invariant).
			consumerName := s.cfg.ConsumerName + "-" + c.Name
			src := streams.NewRawEventStream(s.rdb, c.ChainID, s.cfg.ConsumerGroup, consumerName)
			t := &task{chain: c, cfg: s.cfg, src: src, repo: s.repo, queue: s.queue, health: s.health}
			return t.run(ctx)
		})
	}
	return g.Wait()
}

type task struct {
	chain  Chain
	cfg    Config
	src    *streams.RawEventStream
	repo   *catalog.Repository
	queue  *streams.DeliveryQueue
	health *health.Server
}

func (t *task) run(ctx context.Context) error {
	if err := t.src.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("processor chain %s: %w", t.chain.Name, err)
	}

	reclaimTicker := time.NewTicker(t.cfg.ReclaimEvery)
	defer reclaimTicker.Stop()

	t.health.Set("processor:"+t.chain.Name, true)
	defer t.health.Set("processor:"+t.chain.Name, false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reclaimTicker.C:
			if err := t.reclaim(ctx); err != nil {
				log.Error("processor reclaim failed", "chain", t.chain.Name, "err", err)
			}
		default:
			if err := t.readAndProcess(ctx); err != nil {
				log.Error("processor read failed", "chain", t.chain.Name, "err", err)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (t *task) readAndProcess(ctx context.Context) error {
	entries, err := t.src.ReadBatch(ctx, t.cfg.ReadBatch, t.cfg.ReadBlock)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		t.processEntry(ctx, entry)
	}
	return nil
}

func (t *task) reclaim(ctx context.Context) error {
	entries, err := t.src.ReclaimStale(ctx, t.cfg.ReclaimIdle, t.cfg.ReadBatch)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		t.processEntry(ctx, entry)
	}
	return nil
}

// processEntry implements spec §4.G's matching/publication/ack
// sequence. Malformed events are poison messages: logged and acked
// rather than retried forever.
func (t *task) processEntry(ctx context.Context, entry streams.Entry) {
	event, err := streams.DecodeEvent(entry)
	if err != nil {
		log.Warn("processor poison message, acknowledging", "chain", t.chain.Name, "entry_id", entry.ID, "err", err)
		if ackErr := t.src.Ack(ctx, entry.ID); ackErr != nil {
			log.Error("processor failed to ack poison message", "entry_id", entry.ID, "err", ackErr)
		}
		return
	}

	matches, err := t.repo.MatchEndpoints(ctx, event.ChainID, event.ContractAddress, event.Topic0())
	if err != nil {
		// catalog unreachable: retry by not acking; the periodic
		// pending-entries reclaim (this task's or a peer's) will
		// re-attempt (spec §4.G).
		log.Error("processor catalog query failed, leaving unacked", "chain", t.chain.Name, "entry_id", entry.ID, "err", err)
		return
	}

	if err := t.publishJobs(ctx, event, matches); err != nil {
		log.Error("processor job publication failed, leaving unacked", "chain", t.chain.Name, "entry_id", entry.ID, "err", err)
		return
	}

	if err := t.src.Ack(ctx, entry.ID); err != nil {
		log.Error("processor ack failed", "chain", t.chain.Name, "entry_id", entry.ID, "err", err)
	}
}

// publishJobs appends one job per matched endpoint through a single
// pipelined round trip (spec §4.G: "use pipelining when emitting N
// jobs for one event"). All publishes must succeed before the caller
// acks (spec §4.G's acknowledgment soundness property). A pipeline
// failure may still leave some of the jobs appended; the source entry
// stays unacked and the whole batch is published again when the entry
// is reclaimed, so duplicate jobs are possible.
func (t *task) publishJobs(ctx context.Context, event model.Event, matches []catalog.Match) error {
	if len(matches) == 0 {
		return nil
	}
	jobs := make([]model.DeliveryJob, len(matches))
	for i, m := range matches {
		jobs[i] = model.DeliveryJob{
			JobID:              uuid.NewString(),
			EndpointID:         m.EndpointID,
			ApplicationID:      m.ApplicationID,
			WebhookURL:         m.WebhookURL,
			HMACSecret:         m.HMACSecret,
			Event:              event,
			AttemptNumber:      1,
			MaxRetries:         m.MaxRetries,
			TimeoutSeconds:     m.TimeoutSeconds,
			RateLimitPerSecond: m.RateLimitPerSecond,
		}
	}
	if _, err := t.queue.PublishJobs(ctx, jobs); err != nil {
		return fmt.Errorf("publish %d jobs: %w", len(jobs), err)
	}
	return nil
}
