// Command deliverer runs component H of spec §2: a bounded worker
// pool issuing HMAC-signed webhook POSTs with per-endpoint circuit
// breaking, rate limiting, and retry.
package main

import (
	"context"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ipcasj/ethhook-sub002/internal/catalog"
	"github.com/ipcasj/ethhook-sub002/internal/config"
	"github.com/ipcasj/ethhook-sub002/internal/errkind"
	"github.com/ipcasj/ethhook-sub002/internal/health"
	"github.com/ipcasj/ethhook-sub002/internal/shutdown"
	"github.com/ipcasj/ethhook-sub002/deliverer"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load("deliverer", os.Args[1:], "webhook_deliverers")
	if err != nil {
		log.Error("config error", "err", err)
		return errkind.ExitCode(err)
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	rdb := redis.NewClient(mustParseRedisURL(cfg.RedisURL))
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis unreachable at startup", "err", err)
		return 2
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Error("database unreachable at startup", "err", err)
		return 2
	}
	repo := catalog.NewRepository(db)

	h := health.New(cfg.HealthAddr)
	go func() {
		if err := h.ListenAndServe(); err != nil {
			log.Debug("health server stopped", "err", err)
		}
	}()
	defer h.Close()

	dcfg := deliverer.DefaultConfig()
	dcfg.WorkerCount = cfg.WorkerCount
	dcfg.MaxRetries = cfg.MaxRetries
	dcfg.InitialDelay = cfg.InitialRetryDelay
	dcfg.MaxDelay = cfg.MaxRetryDelay
	dcfg.HTTPTimeout = cfg.HTTPTimeout
	dcfg.CircuitCfg.FailureThreshold = uint32(cfg.CircuitThreshold)
	dcfg.CircuitCfg.OpenTimeout = cfg.CircuitTimeout
	dcfg.ConsumerGroup = cfg.ConsumerGroup
	dcfg.ConsumerName = cfg.ConsumerName

	pool := deliverer.NewPool(dcfg, rdb, repo, h)
	if err := pool.Run(ctx); err != nil {
		log.Error("deliverer exited with error", "err", err)
		return errkind.ExitCode(err)
	}
	return 0
}

func mustParseRedisURL(url string) *redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Crit("invalid REDIS_URL", "err", err)
	}
	return opts
}
