// Command ingestor runs component F of spec §2: one WebSocket task
// per configured chain, materializing Event records onto that
// chain's raw-event stream.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"

	"github.com/ipcasj/ethhook-sub002/internal/chainrpc"
	"github.com/ipcasj/ethhook-sub002/internal/config"
	"github.com/ipcasj/ethhook-sub002/internal/errkind"
	"github.com/ipcasj/ethhook-sub002/internal/health"
	"github.com/ipcasj/ethhook-sub002/internal/shutdown"
	"github.com/ipcasj/ethhook-sub002/ingestor"
)

const startupProbeTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load("ingestor", os.Args[1:], "message_processors")
	if err != nil {
		log.Error("config error", "err", err)
		return errkind.ExitCode(err)
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()

	rdb := redis.NewClient(parseRedisOpts(cfg.RedisURL))
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("redis unreachable at startup", "err", err)
		return 2
	}

	if err := probeChains(ctx, cfg.Chains); err != nil {
		log.Error("chain RPC unreachable at startup", "err", err)
		return 2
	}

	h := health.New(cfg.HealthAddr)
	go func() {
		if err := h.ListenAndServe(); err != nil {
			log.Debug("health server stopped", "err", err)
		}
	}()
	defer h.Close()

	chains := make([]ingestor.Chain, 0, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains = append(chains, ingestor.Chain{Name: c.Name, ChainID: c.ChainID, WSURL: c.WSURL})
	}

	icfg := ingestor.DefaultConfig()
	icfg.DedupTTL = cfg.DedupTTL

	sup := ingestor.NewSupervisor(icfg, rdb, h, chains)
	if err := sup.Run(ctx); err != nil {
		log.Error("ingestor exited with error", "err", err)
		return errkind.ExitCode(err)
	}
	return 0
}

// probeChains dials eth_chainId against every configured chain before
// the supervisor starts, so a misconfigured WS URL or an unreachable
// RPC provider fails fast at startup rather than inside the
// ingestor's own reconnect/backoff loop.
func probeChains(ctx context.Context, chains []config.Chain) error {
	for _, c := range chains {
		probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
		client, err := chainrpc.Dial(probeCtx, c.WSURL)
		if err != nil {
			cancel()
			return fmt.Errorf("dial %s: %w", c.Name, err)
		}
		var hexChainID string
		err = client.Call(probeCtx, &hexChainID, "eth_chainId")
		client.Close()
		cancel()
		if err != nil {
			return fmt.Errorf("eth_chainId on %s: %w", c.Name, err)
		}
	}
	return nil
}

func parseRedisOpts(url string) *redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Crit("invalid REDIS_URL", "err", err)
	}
	return opts
}
