package main

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// workerStatRecord mirrors SPEC_FULL.md 4.13's WorkerStats row.
type workerStatRecord struct {
	Worker        string
	Accepted      int64
	Rejected      int64
	BlocksFound   int64
	LastShareAt   time.Time
	PayoutAddress string
}

type workerStatDelta struct {
	worker        string
	acceptedDelta int64
	rejectedDelta int64
	blockDelta    int64
	lastShareAt   time.Time
	payoutAddress string
}

// workerListStore persists per-worker share/block counters to sqlite. The
// pool-wide totals in PoolMetrics update synchronously on every share;
// per-worker counters are kept only here, and this store catches up
// asynchronously, so writes are buffered
// through a channel and flushed by a single background worker, in the
// style of the teacher's best-difficulty writer.
type workerListStore struct {
	db *sql.DB

	pending chan workerStatDelta
	stop    chan struct{}
	wg      sync.WaitGroup
}

func newWorkerListStore(path string) (*workerListStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open worker store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS workers (
		worker TEXT PRIMARY KEY,
		accepted INTEGER NOT NULL DEFAULT 0,
		rejected INTEGER NOT NULL DEFAULT 0,
		blocks_found INTEGER NOT NULL DEFAULT 0,
		last_share_at INTEGER NOT NULL DEFAULT 0,
		payout_address TEXT NOT NULL DEFAULT ''
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create workers table: %w", err)
	}

	s := &workerListStore{
		db:      db,
		pending: make(chan workerStatDelta, 256),
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *workerListStore) run() {
	defer s.wg.Done()
	for {
		select {
		case d, ok := <-s.pending:
			if !ok {
				return
			}
			if err := s.applyDelta(d); err != nil {
				logger.Warn("worker store write failed", "worker", d.worker, "error", err)
			}
		case <-s.stop:
			return
		}
	}
}

func (s *workerListStore) applyDelta(d workerStatDelta) error {
	_, err := s.db.Exec(`INSERT INTO workers (worker, accepted, rejected, blocks_found, last_share_at, payout_address)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(worker) DO UPDATE SET
			accepted = accepted + excluded.accepted,
			rejected = rejected + excluded.rejected,
			blocks_found = blocks_found + excluded.blocks_found,
			last_share_at = MAX(last_share_at, excluded.last_share_at),
			payout_address = CASE WHEN excluded.payout_address != '' THEN excluded.payout_address ELSE payout_address END`,
		d.worker, d.acceptedDelta, d.rejectedDelta, d.blockDelta, d.lastShareAt.Unix(), d.payoutAddress)
	return err
}

// RecordShare queues an asynchronous counter update for worker. accepted
// selects whether the share counted toward accepted or rejected; blockFound
// additionally bumps the block counter.
func (s *workerListStore) RecordShare(worker string, accepted, blockFound bool, payoutAddress string) {
	if s == nil {
		return
	}
	d := workerStatDelta{worker: worker, lastShareAt: time.Now(), payoutAddress: payoutAddress}
	if accepted {
		d.acceptedDelta = 1
	} else {
		d.rejectedDelta = 1
	}
	if blockFound {
		d.blockDelta = 1
	}
	select {
	case s.pending <- d:
	default:
		logger.Warn("worker store queue full; dropping update", "worker", worker)
	}
}

func (s *workerListStore) Get(ctx context.Context, worker string) (workerStatRecord, error) {
	var rec workerStatRecord
	var lastShareUnix int64
	row := s.db.QueryRowContext(ctx, `SELECT worker, accepted, rejected, blocks_found, last_share_at, payout_address FROM workers WHERE worker = ?`, worker)
	if err := row.Scan(&rec.Worker, &rec.Accepted, &rec.Rejected, &rec.BlocksFound, &lastShareUnix, &rec.PayoutAddress); err != nil {
		return rec, err
	}
	rec.LastShareAt = time.Unix(lastShareUnix, 0)
	return rec, nil
}

func (s *workerListStore) Close() error {
	if s == nil {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	return s.db.Close()
}
