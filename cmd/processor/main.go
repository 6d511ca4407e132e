// Command processor runs component G of spec §2: one consumer-group
// task per configured chain, matching events against the endpoint
// catalog and fanning out DeliveryJobs.
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
	"github.com/ipcasj/ethhook-sub002/processor"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load("processor", os.Args[1:], "message_processors")
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

	chains := make([]processor.Chain, 0, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains = append(chains, processor.Chain{Name: c.Name, ChainID: c.ChainID})
	}

	pcfg := processor.DefaultConfig()
	pcfg.ConsumerGroup = cfg.ConsumerGroup
	pcfg.ConsumerName = cfg.ConsumerName

	sup := processor.NewSupervisor(pcfg, rdb, repo, h, chains)
	if err := sup.Run(ctx); err != nil {
		log.Error("processor exited with error", "err", err)
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
