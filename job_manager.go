package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"runtime"
	"syscall"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/remeh/sizedwaitgroup"
)

// heartbeatInterval is how often heartbeatLoop re-broadcasts the current job
// (a mining.notify to every authorized session) as a keepalive, even when no
// block has arrived. It makes no node RPC and sends no set_difficulty.
const heartbeatInterval = 60 * time.Second

const zmqReceiveTimeout = 5 * time.Second

func (jm *JobManager) recordJobError(err error) {
	if err == nil {
		return
	}
	jm.lastErrMu.Lock()
	jm.lastErr = err
	jm.lastErrAt = time.Now()
	jm.lastErrMu.Unlock()
	jm.metrics.RecordSubmitError("job_feed")
}

func (jm *JobManager) recordJobSuccess() {
	jm.lastErrMu.Lock()
	jm.lastErr = nil
	jm.lastErrAt = time.Time{}
	jm.lastJobSuccess = time.Now()
	jm.lastErrMu.Unlock()
	jm.resetRetryDelay()
}

func (jm *JobManager) nextRetryDelay() time.Duration {
	jm.retryMu.Lock()
	defer jm.retryMu.Unlock()
	if jm.retryDelay == 0 {
		jm.retryDelay = jobRetryDelayMin
		return jm.retryDelay
	}
	jm.retryDelay *= 2
	if jm.retryDelay > jobRetryDelayMax {
		jm.retryDelay = jobRetryDelayMax
	}
	return jm.retryDelay
}

func (jm *JobManager) resetRetryDelay() {
	jm.retryMu.Lock()
	jm.retryDelay = 0
	jm.retryMu.Unlock()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start launches the Template Fetcher's background tasks: the notification
// fan-out workers, the 10s getblocktemplate poll (pollLoop), the keepalive
// re-broadcast (heartbeatLoop), and the ZMQ hashblock subscriber that
// triggers an immediate refresh on every new block.
func (jm *JobManager) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	numWorkers := runtime.NumCPU()
	jm.notifyWg = sizedwaitgroup.New(numWorkers)
	for i := 0; i < numWorkers; i++ {
		jm.notifyWg.Add()
		go jm.notificationWorker(ctx, i)
	}
	logger.Info("started job notification workers", "count", numWorkers)

	if err := jm.refreshJobCtxForce(ctx); err != nil {
		logger.Error("initial job refresh error", "error", err)
	}

	go jm.pollLoop(ctx)
	go jm.heartbeatLoop(ctx)
	if jm.cfg.NotifyHost != "" {
		go jm.zmqHashblockLoop(ctx)
	} else {
		logger.Warn("no notify.host configured; relying on poll loop only")
	}
}

// pollLoop is the 10s getblocktemplate tick mandated by spec.md 4.2,
// independent of whether ZMQ notifications are flowing.
func (jm *JobManager) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := jm.refreshJobCtx(ctx); err != nil {
				logger.Error("poll refresh error", "error", err)
				_ = sleepContext(ctx, jm.nextRetryDelay())
			}
		}
	}
}

func (jm *JobManager) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job := jm.CurrentJob()
			if job == nil {
				continue
			}
			logger.Debug("heartbeat", "job", job.JobID, "height", job.Template.Height, "miners", jm.ActiveMiners())
			// Re-broadcast the latest job id as a keepalive even if nothing changed.
			jm.broadcastJob(job)
		}
	}
}

// zmqHashblockLoop subscribes to the node's hashblock publisher and triggers
// an immediate template refresh on every new block, per spec.md 4.2's
// "notify loop" and the external-interfaces contract in spec.md 6.
func (jm *JobManager) zmqHashblockLoop(ctx context.Context) {
	addr := fmt.Sprintf("tcp://%s:%d", jm.cfg.NotifyHost, jm.cfg.NotifyPort)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := jm.runZMQSubscriber(ctx, addr); err != nil {
			logger.Warn("zmq hashblock subscriber error", "addr", addr, "error", err)
		}
		if err := sleepContext(ctx, jm.nextRetryDelay()); err != nil {
			return
		}
	}
}

func (jm *JobManager) runZMQSubscriber(ctx context.Context, addr string) error {
	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return fmt.Errorf("create zmq socket: %w", err)
	}
	defer sub.Close()

	if err := sub.SetSubscribe("hashblock"); err != nil {
		return fmt.Errorf("subscribe hashblock: %w", err)
	}
	if err := sub.SetRcvtimeo(zmqReceiveTimeout); err != nil {
		return fmt.Errorf("set receive timeout: %w", err)
	}
	if err := sub.Connect(addr); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	logger.Info("watching zmq hashblock notifications", "addr", addr)
	jm.resetRetryDelay()

	for {
		if ctx.Err() != nil {
			return nil
		}
		frames, err := sub.RecvMessageBytes(0)
		if err != nil {
			errno := zmq4.AsErrno(err)
			if errno == zmq4.Errno(syscall.EAGAIN) || errno == zmq4.ETIMEDOUT {
				continue
			}
			return fmt.Errorf("recv: %w", err)
		}
		if len(frames) < 2 {
			continue
		}
		blockHash := hex.EncodeToString(frames[1])
		logger.Info("zmq hashblock notification", "hash", blockHash)
		if err := jm.refreshJobCtxForce(ctx); err != nil && !errors.Is(err, errStaleTemplate) {
			logger.Error("refresh after hashblock notification failed", "error", err)
		}
	}
}
