// Package deliverer implements component H of spec §2: a bounded
// worker pool pulling DeliveryJobs from the shared queue, applying
// per-endpoint circuit-breaker and rate-limit admission, issuing
// HMAC-signed HTTP POSTs with in-process retry and exponential
// backoff, and recording every attempt. Grounded on other_examples'
// voicetyped webhook-deliverer.go for the per-job retry/circuit-
// breaker flow and piwi3910-netweave webhook_worker.go for the
// worker-pool/consumer-group shape.
package deliverer

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ipcasj/ethhook-sub002/internal/breaker"
	"github.com/ipcasj/ethhook-sub002/internal/catalog"
	"github.com/ipcasj/ethhook-sub002/internal/errkind"
	"github.com/ipcasj/ethhook-sub002/internal/health"
	"github.com/ipcasj/ethhook-sub002/internal/ratelimit"
	"github.com/ipcasj/ethhook-sub002/internal/streams"
)

// Config holds deliverer-wide settings with spec §4.H/§6 defaults.
type Config struct {
	WorkerCount     int
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	HTTPTimeout     time.Duration
	CircuitCfg      breaker.Config
	ConsumerGroup   string
	ConsumerName    string
	ReadBlock       time.Duration
	ReclaimIdle     time.Duration
	ReclaimEvery    time.Duration
	DrainDeadline   time.Duration
	ResponseBodyCap int
}

func DefaultConfig() Config {
	return Config{
		WorkerCount:     50,
		MaxRetries:      5,
		InitialDelay:    2 * time.Second,
		MaxDelay:        60 * time.Second,
		HTTPTimeout:     30 * time.Second,
		CircuitCfg:      breaker.DefaultConfig(),
		ConsumerGroup:   "webhook_deliverers",
		ReadBlock:       5 * time.Second,
		ReclaimIdle:     30 * time.Second,
		ReclaimEvery:    10 * time.Second,
		DrainDeadline:   30 * time.Second,
		ResponseBodyCap: 10 * 1024,
	}
}

// Pool is the bounded worker pool of component H.
type Pool struct {
	cfg        Config
	rdb        *redis.Client
	repo       *catalog.Repository
	circuits   *breaker.Registry
	rates      *ratelimit.Registry
	httpClient *http.Client
	health     *health.Server
}

func NewPool(cfg Config, rdb *redis.Client, repo *catalog.Repository, h *health.Server) *Pool {
	return &Pool{
		cfg:      cfg,
		rdb:      rdb,
		repo:     repo,
		circuits: breaker.NewRegistry(cfg.CircuitCfg),
		rates:    ratelimit.NewRegistry(),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		health: h,
	}
}

// Run starts cfg.WorkerCount workers, each with its own consumer
// handle against the shared delivery-queue consumer group (spec
// §4.H's worker pool requirement). On ctx cancellation, workers stop
// admitting new entries immediately but in-flight deliveries are
// given up to cfg.DrainDeadline to complete or time out (spec §5)
// before Run force-cancels them and returns.
func (p *Pool) Run(ctx context.Context) error {
	bootstrap := streams.NewDeliveryQueue(p.rdb, p.cfg.ConsumerGroup, "bootstrap")
	if err := bootstrap.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("deliverer: %w", err)
	}

	// workCtx outlives ctx across shutdown: in-flight deliveries keep
	// running on it until the drain deadline forces cancelWork.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		i := i
		g.Go(func() error {
			consumerName := fmt.Sprintf("%s-worker-%d", p.cfg.ConsumerName, i)
			queue := streams.NewDeliveryQueue(p.rdb, p.cfg.ConsumerGroup, consumerName)
			w := &worker{name: consumerName, pool: p, queue: queue}
			return w.run(gctx, workCtx)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	select {
	case err := <-done:
		return err
	case <-time.After(p.cfg.DrainDeadline):
		cancelWork()
		<-done
		return errkind.Permanent(fmt.Errorf("deliverer: drain deadline of %s exceeded, aborted in-flight deliveries", p.cfg.DrainDeadline))
	}
}

// backoffDelay implements spec §4.H: delay = min(base*2^(n-1), cap),
// ±20% uniform jitter.
func backoffDelay(cfg Config, attempt int) time.Duration {
	base := float64(cfg.InitialDelay)
	cap := float64(cfg.MaxDelay)
	raw := base * pow2(attempt-1)
	if raw > cap {
		raw = cap
	}
	jitter := raw * (0.8 + 0.4*rand.Float64())
	return time.Duration(jitter)
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

// retryable classifies a completed HTTP attempt per spec §4.H.
func retryable(statusCode int, networkErr error) bool {
	if networkErr != nil {
		return true
	}
	switch statusCode {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

func success(statusCode int) bool { return statusCode >= 200 && statusCode <= 299 }
