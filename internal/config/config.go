// Package config parses the environment-supplied configuration of
// spec §6 with github.com/peterbourgon/ff/v3, in the style of the
// teacher's op-geth-proxy/geth-proxy.go: a flag.FlagSet of package-
// level flags parsed via ff.Parse with environment-variable
// overrides. Flag names use hyphens; ff derives the matching env var
// by upper-snake-casing them, which lines up exactly with spec §6's
// enumerated names (DATABASE_URL, WORKER_COUNT, ...) since no prefix
// is applied here — these variables are shared across all three
// binaries, unlike a single-service prefix.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/ipcasj/ethhook-sub002/internal/errkind"
)

// Chain is one entry of the fixed (name, chain_id, ws_url variable)
// table selected by ENVIRONMENT (spec §9, Configuration surface).
type Chain struct {
	Name    string
	ChainID uint64
	WSURL   string
}

// chainTable maps ENVIRONMENT values to their fixed chain sets. The
// WS URL for each chain is read from "{NAME}_WS_URL" (e.g.
// ETHEREUM_WS_URL), matching spec §6's "{CHAIN}_WS_URL per chain".
var chainTable = map[string][]chainDef{
	"development": {
		{Name: "ETHEREUM_SEPOLIA", ChainID: 11155111},
	},
	"staging": {
		{Name: "ETHEREUM_SEPOLIA", ChainID: 11155111},
		{Name: "OPTIMISM_SEPOLIA", ChainID: 11155420},
	},
	"production": {
		{Name: "ETHEREUM", ChainID: 1},
		{Name: "OPTIMISM", ChainID: 10},
		{Name: "ARBITRUM", ChainID: 42161},
	},
}

type chainDef struct {
	Name    string
	ChainID uint64
}

// Config holds the union of settings every binary may need; each
// binary's main() reads only the fields relevant to it.
type Config struct {
	Environment string
	Chains      []Chain

	DatabaseURL string
	RedisURL    string

	WorkerCount           int
	MaxRetries            int
	InitialRetryDelay     time.Duration
	MaxRetryDelay         time.Duration
	HTTPTimeout           time.Duration
	CircuitThreshold      int
	CircuitTimeout        time.Duration
	DedupTTL              time.Duration
	ConsumerGroup string
	ConsumerName  string
	HealthAddr    string
}

// Load parses args (typically os.Args[1:]) and the process
// environment into a Config, applying spec §6's defaults. progName
// identifies the flag set for -h output; it does not affect env var
// names, since no prefix is used.
func Load(progName string, args []string, defaultConsumerGroup string) (Config, error) {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)

	environment := fs.String("environment", "development", "deployment environment: development, staging, production")
	databaseURL := fs.String("database-url", "", "Postgres connection string")
	redisURL := fs.String("redis-url", "redis://127.0.0.1:6379/0", "Redis connection string")
	workerCount := fs.Int("worker-count", 50, "deliverer worker pool size")
	maxRetries := fs.Int("max-retries", 5, "default max delivery retries")
	initialRetryDelaySecs := fs.Int("initial-retry-delay-secs", 2, "initial backoff base, seconds")
	maxRetryDelaySecs := fs.Int("max-retry-delay-secs", 60, "backoff cap, seconds")
	httpTimeoutSecs := fs.Int("http-timeout-secs", 30, "default HTTP client timeout, seconds")
	circuitThreshold := fs.Int("circuit-threshold", 5, "consecutive failures before a circuit opens")
	circuitTimeoutSecs := fs.Int("circuit-timeout-secs", 60, "seconds an open circuit stays open before a half-open trial")
	dedupTTLHours := fs.Int("dedup-ttl-hours", 24, "dedup index retention, hours")
	consumerGroup := fs.String("consumer-group", defaultConsumerGroup, "stream consumer group name")
	consumerName := fs.String("consumer-name", "", "stream consumer name; defaults to hostname")
	healthAddr := fs.String("health-addr", "127.0.0.1:8080", "liveness probe listen address")

	if err := ff.Parse(fs, args, ff.WithEnvVars()); err != nil {
		return Config{}, errkind.Config(fmt.Errorf("parse flags: %w", err))
	}

	chains, ok := chainTable[*environment]
	if !ok {
		return Config{}, errkind.Config(fmt.Errorf("unknown ENVIRONMENT %q", *environment))
	}

	resolved := make([]Chain, 0, len(chains))
	for _, c := range chains {
		envVar := c.Name + "_WS_URL"
		url := os.Getenv(envVar)
		if url == "" {
			return Config{}, errkind.Config(fmt.Errorf("missing %s for chain %s", envVar, c.Name))
		}
		resolved = append(resolved, Chain{Name: c.Name, ChainID: c.ChainID, WSURL: url})
	}

	name := *consumerName
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown-host"
		}
		name = host
	}

	if *databaseURL == "" {
		return Config{}, errkind.Config(fmt.Errorf("DATABASE_URL is required"))
	}

	return Config{
		Environment:       *environment,
		Chains:            resolved,
		DatabaseURL:       *databaseURL,
		RedisURL:          *redisURL,
		WorkerCount:       *workerCount,
		MaxRetries:        *maxRetries,
		InitialRetryDelay: time.Duration(*initialRetryDelaySecs) * time.Second,
		MaxRetryDelay:     time.Duration(*maxRetryDelaySecs) * time.Second,
		HTTPTimeout:       time.Duration(*httpTimeoutSecs) * time.Second,
		CircuitThreshold:  *circuitThreshold,
		CircuitTimeout:    time.Duration(*circuitTimeoutSecs) * time.Second,
		DedupTTL:          time.Duration(*dedupTTLHours) * time.Hour,
		ConsumerGroup:     *consumerGroup,
		ConsumerName:      name,
		HealthAddr:        *healthAddr,
	}, nil
}
