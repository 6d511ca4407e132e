// Package ingestor implements component F of spec §2: one task per
// chain owning a WebSocket subscription to "newHeads", materializing
// unique Event records and appending them to that chain's raw-event
// stream. Grounded on other_examples' fd1az-arbitrage-bot
// ethereum-subscriber.go for the connect/reconnect/circuit-breaker
// shape (state machine, backoff-then-resubscribe loop), adapted from
// ethclient's header subscription to the raw internal/chainrpc
// client the pipeline's literal JSON-RPC-over-WS contract (spec §6)
// calls for, and with OTEL tracing/metrics dropped per SPEC_FULL.md's
// ambient-stack choice of structured logging only.
package ingestor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ipcasj/ethhook-sub002/internal/breaker"
	"github.com/ipcasj/ethhook-sub002/internal/chainrpc"
	"github.com/ipcasj/ethhook-sub002/internal/dedup"
	"github.com/ipcasj/ethhook-sub002/internal/health"
	"github.com/ipcasj/ethhook-sub002/internal/streams"
)

// chainState is the per-chain task state machine of spec §4.A.
type chainState string

const (
	stateConnecting   chainState = "connecting"
	stateSubscribed   chainState = "subscribed"
	stateStreaming    chainState = "streaming"
	stateReconnecting chainState = "reconnecting"
	stateStopped      chainState = "stopped"
)

// Chain identifies one configured chain's RPC endpoint.
type Chain struct {
	Name    string
	ChainID uint64
	WSURL   string
}

// Config holds ingestor-wide settings.
type Config struct {
	DedupTTL     time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	StreamMaxLen int64
}

// DefaultConfig returns spec §4.A's stated defaults: base 1s, cap 60s.
func DefaultConfig() Config {
	return Config{DedupTTL: 24 * time.Hour, BackoffBase: time.Second, BackoffCap: 60 * time.Second, StreamMaxLen: 1_000_000}
}

// Supervisor owns one task per configured chain.
type Supervisor struct {
	cfg    Config
	rdb    *redis.Client
	dedup  *dedup.Index
	health *health.Server
	rpcCB  *breaker.Registry
	chains []Chain
}

func NewSupervisor(cfg Config, rdb *redis.Client, h *health.Server, chains []Chain) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		rdb:    rdb,
		dedup:  dedup.New(rdb, cfg.DedupTTL),
		health: h,
		rpcCB:  breaker.NewRegistry(breaker.DefaultConfig()),
		chains: chains,
	}
}

// Run starts one task per chain and blocks until ctx is canceled and
// every task has drained, matching the "Ingestor closes WS cleanly"
// shutdown policy of spec §5.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.chains {
		c := c
		g.Go(func() error {
			// The ingestor only publishes; group/consumer are unused
			// by Publish and are left empty here.
			t := &task{
				chain:  c,
				cfg:    s.cfg,
				dedup:  s.dedup,
				stream: streams.NewRawEventStream(s.rdb, c.ChainID, "", ""),
				cb:     s.rpcCB,
				health: s.health,
			}
			return t.run(ctx)
		})
	}
	return g.Wait()
}

type task struct {
	chain  Chain
	cfg    Config
	dedup  *dedup.Index
	stream *streams.RawEventStream
	cb     *breaker.Registry

	health *health.Server

	state         chainState
	lastProcessed uint64
}

func (t *task) setState(s chainState) {
	t.state = s
	log.Info("ingestor chain state", "chain", t.chain.Name, "chain_id", t.chain.ChainID, "state", s)
}

func (t *task) run(ctx context.Context) error {
	defer t.markDead()

	bo := t.newBackoff()
	for {
		if ctx.Err() != nil {
			t.setState(stateStopped)
			return nil
		}

		t.setState(stateConnecting)
		client, err := t.connect(ctx)
		if err != nil {
			t.setState(stateReconnecting)
			if waitErr := t.waitBackoff(ctx, bo, err); waitErr != nil {
				return waitErr
			}
			continue
		}
		bo.Reset()

		err = t.streamFrom(ctx, client)
		client.Close()
		if ctx.Err() != nil {
			t.setState(stateStopped)
			return nil
		}

		log.Warn("ingestor chain stream ended, reconnecting", "chain", t.chain.Name, "err", err)
		t.setState(stateReconnecting)
		if waitErr := t.waitBackoff(ctx, bo, err); waitErr != nil {
			return waitErr
		}
	}
}

func (t *task) newBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.BackoffBase
	bo.MaxInterval = t.cfg.BackoffCap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	return bo
}

func (t *task) waitBackoff(ctx context.Context, bo *backoff.ExponentialBackOff, cause error) error {
	d := bo.NextBackOff()
	log.Warn("ingestor reconnect backoff", "chain", t.chain.Name, "delay", d, "cause", cause)
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (t *task) connect(ctx context.Context) (*chainrpc.Client, error) {
	var client *chainrpc.Client
	err := t.cb.Execute(rpcBreakerKey(t.chain.Name), func() error {
		c, dialErr := chainrpc.Dial(ctx, t.chain.WSURL)
		if dialErr != nil {
			return dialErr
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connect chain %s: %w", t.chain.Name, err)
	}
	return client, nil
}

func rpcBreakerKey(chainName string) string { return "rpc:" + chainName }

// streamFrom subscribes to newHeads and processes notifications until
// the connection drops or ctx is canceled. On entry it first catches
// up any gap since lastProcessed (reconnect/backfill, spec §4.A).
func (t *task) streamFrom(ctx context.Context, client *chainrpc.Client) error {
	t.setState(stateSubscribed)

	if err := t.backfill(ctx, client); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	_, notifications, err := client.Subscribe(ctx, "newHeads")
	if err != nil {
		return fmt.Errorf("subscribe newHeads: %w", err)
	}

	t.setState(stateStreaming)
	t.health.Set("ingestor:"+t.chain.Name, true)
	defer t.health.Set("ingestor:"+t.chain.Name, false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			return fmt.Errorf("connection closed: %w", client.Err())
		case raw, ok := <-notifications:
			if !ok {
				return fmt.Errorf("subscription channel closed")
			}
			var header chainrpc.Header
			if err := decodeHeader(raw, &header); err != nil {
				log.Warn("ingestor malformed header notification", "chain", t.chain.Name, "err", err)
				continue
			}
			blockNumber, err := header.BlockNumber()
			if err != nil {
				log.Warn("ingestor malformed block number", "chain", t.chain.Name, "err", err)
				continue
			}
			if err := t.expandBlock(ctx, client, blockNumber); err != nil {
				log.Error("ingestor block expansion failed", "chain", t.chain.Name, "block", blockNumber, "err", err)
				continue
			}
			t.lastProcessed = blockNumber
		}
	}
}

// backfill closes the gap (lastProcessed, head] after a reconnect, per
// spec §4.A. Blocks beyond the dedup retention window are skipped
// with a warning rather than replayed, since dedup fingerprints for
// them may have already expired.
func (t *task) backfill(ctx context.Context, client *chainrpc.Client) error {
	if t.lastProcessed == 0 {
		return nil
	}

	var headHex string
	if err := client.Call(ctx, &headHex, "eth_blockNumber"); err != nil {
		return err
	}
	head, err := parseHex(headHex)
	if err != nil {
		return err
	}
	if head <= t.lastProcessed {
		return nil
	}

	gap := head - t.lastProcessed
	const maxBackfillBlocks = 7200 // approx. 24h at 12s/block; see dedup TTL note
	start := t.lastProcessed + 1
	if gap > maxBackfillBlocks {
		log.Warn("ingestor backfill gap exceeds dedup window, truncating", "chain", t.chain.Name, "gap", gap)
		start = head - maxBackfillBlocks + 1
	}

	for b := start; b <= head; b++ {
		if err := t.expandBlock(ctx, client, b); err != nil {
			return fmt.Errorf("backfill block %d: %w", b, err)
		}
		t.lastProcessed = b
	}
	return nil
}

func (t *task) markDead() {
	t.health.Set("ingestor:"+t.chain.Name, false)
}

func parseHex(s string) (uint64, error) {
	h := chainrpc.Header{Number: s}
	return h.BlockNumber()
}
