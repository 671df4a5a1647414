package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// poolSoftwareName identifies this pool in client.get_version replies and
// as the pool-entropy fallback tag (pool_tag.go).
const poolSoftwareName = "kazumyon-stratum"

func main() {
	configPath := flag.String("config", "pool.toml", "path to the pool's TOML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	configureFileLogging(cfg.PoolLogPath, cfg.ErrorLogPath, "", cfg.LogStdout)
	setLogLevel(parseLogLevel(cfg.LogLevel))
	defer logger.Stop()

	SetChainParams(cfg.PoolNetwork)
	setSha256Implementation(cfg.HashSIMD)

	// Mix a random per-run pool tag into the coinbase message suffix so
	// scriptSigs from this run are distinguishable from a prior run's jobs
	// even if the coinbase tag and height repeat after a restart.
	cfg.PoolEntropy = generatePoolEntropy()
	cfg.JobEntropy = 4

	metrics := NewPoolMetrics()
	rpc := NewRPCClient(cfg.RPCHost, cfg.RPCPort, cfg.RPCUser, cfg.RPCPassword, 30*time.Second, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	autoConfigureVersionMaskFromNode(ctx, rpc, &cfg)

	payoutScript, err := fetchPayoutScript(rpc, sanitizePayoutAddress(cfg.PoolAddress))
	if err != nil {
		fatal("resolve pool payout address", err, "address", cfg.PoolAddress)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fatal("create data directory", err, "path", cfg.DataDir)
	}

	store, err := newWorkerListStore(cfg.DatabasePath)
	if err != nil {
		fatal("open worker store", err, "path", cfg.DatabasePath)
	}
	defer store.Close()

	startPendingSubmissionReplayer(ctx, cfg, rpc)

	jm := NewJobManager(rpc, cfg, metrics, payoutScript)
	jm.Start(ctx)

	sm := NewSessionManager(cfg, jm, metrics, store)

	addr := fmt.Sprintf("%s:%d", cfg.StratumHost, cfg.StratumPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fatal("listen on stratum address", err, "addr", addr)
	}
	logger.Info("stratum listening", "addr", addr, "max_connections", cfg.StratumMaxConnections)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sm.Serve(ctx, ln)
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining sessions")
	sm.Shutdown("pool is shutting down")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("shutdown grace period exceeded")
	}
}
