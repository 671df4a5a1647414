package main

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	idleReapInterval = 60 * time.Second
	idleTimeout      = 300 * time.Second
)

// SessionManager implements spec.md 4.7: bounded TCP accepts, session id
// and extranonce1 assignment (extranonce1 itself comes from the JobManager),
// last-activity tracking, and a 60s idle-eviction sweep.
type SessionManager struct {
	cfg      Config
	jm       *JobManager
	metrics  *PoolMetrics
	dup      *submittedShareSet
	store    *workerListStore
	registry *workerConnectionRegistry
	limiter  *acceptRateLimiter

	mu       sync.Mutex
	sessions map[*StratumSession]struct{}

	sessionSeq atomic.Uint64
}

func NewSessionManager(cfg Config, jm *JobManager, metrics *PoolMetrics, store *workerListStore) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		jm:       jm,
		metrics:  metrics,
		dup:      newSubmittedShareSet(),
		store:    store,
		registry: newWorkerConnectionRegistry(),
		limiter:  newAcceptRateLimiter(cfg.StratumMaxConnections, cfg.StratumMaxConnections),
		sessions: make(map[*StratumSession]struct{}),
	}
}

func (sm *SessionManager) count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

func (sm *SessionManager) add(s *StratumSession) {
	sm.mu.Lock()
	sm.sessions[s] = struct{}{}
	sm.mu.Unlock()
}

func (sm *SessionManager) remove(s *StratumSession) {
	sm.mu.Lock()
	delete(sm.sessions, s)
	sm.mu.Unlock()
}

// reconnectBurstWindow is how long after startup the accept limiter stays at
// its full burst rate, so miners that were all connected before a restart
// can reconnect at once instead of trickling in over the steady-state rate.
const reconnectBurstWindow = 30 * time.Second

// Serve runs the accept loop and the idle reaper until ctx is cancelled.
func (sm *SessionManager) Serve(ctx context.Context, ln net.Listener) {
	go sm.reapLoop(ctx)
	go sm.settleAcceptRate(ctx)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("accept error", "error", err)
			continue
		}

		if sm.limiter != nil && !sm.limiter.wait(ctx) {
			conn.Close()
			continue
		}

		if sm.count() >= sm.cfg.StratumMaxConnections {
			rejectTooManyConnections(conn)
			continue
		}

		go sm.handleConn(ctx, conn)
	}
}

// settleAcceptRate tapers the accept limiter from its full-burst reconnect
// rate down to a steadier sustained rate once the post-restart reconnect
// wave has had time to land.
func (sm *SessionManager) settleAcceptRate(ctx context.Context) {
	if sm.limiter == nil {
		return
	}
	timer := time.NewTimer(reconnectBurstWindow)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	steadyRate := sm.cfg.StratumMaxConnections / 10
	if steadyRate < 1 {
		steadyRate = 1
	}
	sm.limiter.updateRate(steadyRate, sm.cfg.StratumMaxConnections)
}

func rejectTooManyConnections(conn net.Conn) {
	defer conn.Close()
	data, err := fastJSONMarshal(stratumError(503, "Too many connections"))
	if err != nil {
		return
	}
	data = append(data, '\n')
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, _ = conn.Write(data)
}

func (sm *SessionManager) handleConn(ctx context.Context, conn net.Conn) {
	id := encodeBase58Uint64(sm.sessionSeq.Add(1))
	session := NewStratumSession(conn, id, sm.jm, sm.cfg, sm.metrics, sm.dup, sm.store, sm.registry)

	sm.add(session)
	defer sm.remove(session)

	logger.Info("miner connected", "session", id, "remote", conn.RemoteAddr().String())
	session.Serve(ctx)
	logger.Info("miner disconnected", "session", id)
}

func (sm *SessionManager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(idleReapInterval)
	defer ticker.Stop()
	sweepTicker := time.NewTicker(duplicateShareWindow)
	defer sweepTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepTicker.C:
			sm.dup.sweep()
		case <-ticker.C:
			sm.reapIdle()
		}
	}
}

func (sm *SessionManager) reapIdle() {
	sm.mu.Lock()
	stale := make([]*StratumSession, 0)
	for s := range sm.sessions {
		if s.idleSeconds() > idleTimeout.Seconds() {
			stale = append(stale, s)
		}
	}
	sm.mu.Unlock()

	for _, s := range stale {
		logger.Info("evicting idle session", "session", s.sessionID)
		s.Close()
	}
}

// Shutdown notifies every connected session and closes their connections,
// giving the accept loop's already-closed listener time to drain.
func (sm *SessionManager) Shutdown(reason string) {
	sm.mu.Lock()
	sessions := make([]*StratumSession, 0, len(sm.sessions))
	for s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	for _, s := range sessions {
		s.sendShutdown(reason)
	}
	time.Sleep(200 * time.Millisecond)
	for _, s := range sessions {
		s.Close()
	}
}
