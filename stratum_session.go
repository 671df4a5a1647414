package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	outboxCapacity      = 64
	notifyOrderingPause = 20 * time.Millisecond
)

// StratumSession is one miner connection's state machine (spec.md 4.6):
// Connected -> Subscribed -> Authorized, with a single dedicated writer
// goroutine so outbound frames are never interleaved.
type StratumSession struct {
	conn   net.Conn
	jm     *JobManager
	cfg    Config
	metrics *PoolMetrics
	dup    *submittedShareSet
	store  *workerListStore
	registry *workerConnectionRegistry

	sessionID       string
	extranonce1     []byte
	extranonce2Size int

	mu           sync.Mutex
	subscribed   bool
	authorized   bool
	workerName   string
	payoutAddr   string
	difficulty   float64
	versionMask  uint32
	workerHash   string

	lastActivity atomic.Int64

	outbox chan []byte
	jobCh  chan *Job
	done   chan struct{}
	closeOnce sync.Once
}

func NewStratumSession(conn net.Conn, id string, jm *JobManager, cfg Config, metrics *PoolMetrics, dup *submittedShareSet, store *workerListStore, registry *workerConnectionRegistry) *StratumSession {
	s := &StratumSession{
		conn:            conn,
		jm:              jm,
		cfg:             cfg,
		metrics:         metrics,
		dup:             dup,
		store:           store,
		registry:        registry,
		sessionID:       id,
		extranonce1:     jm.NextExtranonce1(),
		extranonce2Size: cfg.Extranonce2Size,
		difficulty:      cfg.StratumDifficulty,
		outbox:          make(chan []byte, outboxCapacity),
		done:            make(chan struct{}),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

// Serve runs the session's receive loop plus its writer and job-notify
// goroutines until the connection closes or ctx is cancelled.
func (s *StratumSession) Serve(ctx context.Context) {
	defer s.Close()

	s.jobCh = s.jm.Subscribe()
	defer s.jm.Unsubscribe(s.jobCh)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writerLoop()
	}()
	go func() {
		defer wg.Done()
		s.notifyLoop(ctx)
	}()

	s.receiveLoop(ctx)
	wg.Wait()
}

func (s *StratumSession) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
		if s.registry != nil && s.workerHash != "" {
			s.registry.unregister(s.workerHash, s)
		}
	})
}

func (s *StratumSession) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *StratumSession) idleSeconds() float64 {
	return time.Since(time.Unix(0, s.lastActivity.Load())).Seconds()
}

func (s *StratumSession) writerLoop() {
	w := bufio.NewWriter(s.conn)
	for {
		select {
		case <-s.done:
			return
		case line, ok := <-s.outbox:
			if !ok {
				return
			}
			if _, err := w.Write(line); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *StratumSession) enqueue(v interface{}) {
	data, err := fastJSONMarshal(v)
	if err != nil {
		logger.Warn("marshal stratum frame failed", "session", s.sessionID, "error", err)
		return
	}
	data = append(data, '\n')
	select {
	case s.outbox <- data:
	case <-s.done:
	default:
		logger.Warn("session outbox full, disconnecting slow reader", "session", s.sessionID)
		s.Close()
	}
}

func (s *StratumSession) enqueueResult(id json.RawMessage, result interface{}) {
	s.enqueue(StratumResponse{ID: id, Result: result})
}

func (s *StratumSession) enqueueError(id json.RawMessage, code int, message string) {
	s.enqueue(StratumResponse{ID: id, Result: false, Error: stratumError(code, message)})
}

func (s *StratumSession) enqueueNotification(method string, params []interface{}) {
	s.enqueue(StratumRequest{ID: nullID, Method: method, Params: params})
}

// notifyLoop forwards every job broadcast to this session's mining.notify,
// but only once the session has authorized (spec.md 4.6/4.8).
func (s *StratumSession) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case job, ok := <-s.jobCh:
			if !ok {
				return
			}
			s.mu.Lock()
			authorized := s.authorized
			s.mu.Unlock()
			if authorized {
				s.sendNotify(job)
			}
		}
	}
}

func (s *StratumSession) receiveLoop(ctx context.Context) {
	reader := bufio.NewReaderSize(s.conn, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if len(strings.TrimSpace(line)) > 0 {
			s.touch()
			s.handleLine(strings.TrimSpace(line))
		}
		if err != nil {
			return
		}
	}
}

func (s *StratumSession) handleLine(line string) {
	var req StratumRequest
	if err := fastJSONUnmarshal([]byte(line), &req); err != nil {
		logger.Warn("invalid json from miner", "session", s.sessionID, "error", err)
		s.enqueueError(nullID, 20, "Invalid JSON")
		return
	}

	switch req.Method {
	case "mining.subscribe":
		s.handleSubscribe(req)
	case "mining.configure":
		s.handleConfigure(req)
	case "mining.authorize":
		s.handleAuthorize(req)
	case "mining.suggest_difficulty":
		s.handleSuggestDifficulty(req)
	case "mining.submit":
		s.handleSubmit(req)
	case "mining.get_transactions":
		s.handleGetTransactions(req)
	case "client.get_version":
		s.enqueueResult(req.ID, poolSoftwareName+"/1.0")
	default:
		s.enqueueError(req.ID, 20, fmt.Sprintf("Unknown method %s", req.Method))
	}
}

func (s *StratumSession) handleSubscribe(req StratumRequest) {
	s.mu.Lock()
	s.subscribed = true
	s.mu.Unlock()

	result := []interface{}{
		[]interface{}{
			[]interface{}{"mining.set_difficulty", s.sessionID},
			[]interface{}{"mining.notify", s.sessionID},
		},
		hex.EncodeToString(s.extranonce1),
		s.extranonce2Size,
	}
	s.enqueueResult(req.ID, result)
}

func (s *StratumSession) handleConfigure(req StratumRequest) {
	features := map[string]bool{}
	extra := map[string]interface{}{}
	if len(req.Params) > 0 {
		if list, ok := req.Params[0].([]interface{}); ok {
			for _, f := range list {
				if name, ok := f.(string); ok {
					features[name] = true
				}
			}
		}
	}
	if len(req.Params) > 1 {
		if m, ok := req.Params[1].(map[string]interface{}); ok {
			extra = m
		}
	}

	result := map[string]interface{}{}
	if features["version-rolling"] {
		clientMask := uint32(0)
		if raw, ok := extra["version-rolling.mask"].(string); ok {
			if v, err := strconv.ParseUint(raw, 16, 32); err == nil {
				clientMask = uint32(v)
			}
		}
		poolMask := s.jm.cfg.VersionMask
		if !s.jm.cfg.VersionMaskConfigured {
			poolMask = defaultVersionMask
		}
		var negotiated uint32
		if poolMask != 0 {
			if clientMask != 0 {
				negotiated = clientMask & poolMask
			} else {
				negotiated = poolMask
			}
		}
		s.mu.Lock()
		s.versionMask = negotiated
		s.mu.Unlock()
		result["version-rolling"] = true
		result["version-rolling.mask"] = uint32ToBEHex(negotiated)
	}
	s.enqueueResult(req.ID, result)
}

func (s *StratumSession) handleAuthorize(req StratumRequest) {
	s.mu.Lock()
	if !s.subscribed {
		s.mu.Unlock()
		s.enqueueError(req.ID, 25, "Not subscribed")
		return
	}
	s.mu.Unlock()

	worker := ""
	password := ""
	if len(req.Params) > 0 {
		worker, _ = req.Params[0].(string)
	}
	if len(req.Params) > 1 {
		password, _ = req.Params[1].(string)
	}
	_ = password
	if strings.TrimSpace(worker) == "" {
		s.enqueueError(req.ID, 24, "Invalid worker name")
		return
	}

	s.mu.Lock()
	s.authorized = true
	s.workerName = worker
	s.payoutAddr = payoutAddressFromWorker(worker, s.cfg.PoolAddress)
	workerSum := sha256Sum([]byte(worker))
	s.workerHash = hexEncode32LowerString(&workerSum)
	diff := s.difficulty
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.register(s.workerHash, s)
	}

	s.enqueueResult(req.ID, true)
	time.Sleep(notifyOrderingPause)
	s.sendSetDifficulty(diff)
	time.Sleep(notifyOrderingPause)
	if job := s.jm.CurrentJob(); job != nil {
		s.sendNotify(job)
	}
}

func (s *StratumSession) handleSuggestDifficulty(req StratumRequest) {
	var suggested float64
	if len(req.Params) > 0 {
		switch v := req.Params[0].(type) {
		case float64:
			suggested = v
		case json.Number:
			suggested, _ = v.Float64()
		}
	}
	if s.cfg.StratumAcceptSuggestedDifficulty && suggested > 0 {
		s.mu.Lock()
		s.difficulty = suggested
		s.mu.Unlock()
		s.sendSetDifficulty(suggested)
	}
	s.enqueueResult(req.ID, true)
}

func (s *StratumSession) handleGetTransactions(req StratumRequest) {
	jobID := ""
	if len(req.Params) > 0 {
		jobID, _ = req.Params[0].(string)
	}
	job := s.jm.JobByID(jobID)
	if job == nil {
		s.enqueueError(req.ID, 21, "Job not found")
		return
	}
	out := make([]interface{}, len(job.Transactions))
	for i, tx := range job.Transactions {
		out[i] = map[string]string{"data": tx.Data, "hash": tx.Hash}
	}
	s.enqueueResult(req.ID, out)
}

func (s *StratumSession) handleSubmit(req StratumRequest) {
	s.mu.Lock()
	authorized := s.authorized
	worker := s.workerName
	payoutAddr := s.payoutAddr
	diff := s.difficulty
	extranonce1 := append([]byte(nil), s.extranonce1...)
	s.mu.Unlock()

	if !authorized {
		s.enqueueError(req.ID, 24, "Unauthorized worker")
		return
	}
	if len(req.Params) < 5 {
		s.enqueueError(req.ID, 20, "Malformed submit params")
		return
	}

	sub := ShareSubmission{}
	sub.Worker, _ = req.Params[0].(string)
	sub.JobID, _ = req.Params[1].(string)
	sub.Extranonce2Hex, _ = req.Params[2].(string)
	sub.NtimeHex, _ = req.Params[3].(string)
	sub.NonceHex, _ = req.Params[4].(string)
	if len(req.Params) > 5 {
		sub.VersionBitsHex, _ = req.Params[5].(string)
	}
	if sub.Worker == "" {
		sub.Worker = worker
	}

	outcome, err := ValidateShare(s.jm, s.dup, extranonce1, sub, diff)
	if err != nil {
		logger.Error("share validation error", "session", s.sessionID, "error", err)
		s.enqueueError(req.ID, 20, "Internal validation error")
		return
	}

	if !outcome.Accepted {
		s.metrics.RecordShare(false, outcome.RejectReason)
		s.store.RecordShare(worker, false, false, payoutAddr)
		code := 21
		if outcome.RejectReason == "Above target" {
			code = 23
		}
		s.enqueueError(req.ID, code, outcome.RejectReason)
		return
	}

	s.metrics.RecordShare(true, "")
	s.store.RecordShare(worker, true, outcome.BlockFound, payoutAddr)
	s.enqueueResult(req.ID, true)

	if outcome.BlockFound {
		height := int64(0)
		if job := s.jm.JobByID(sub.JobID); job != nil {
			height = job.Template.Height
		}
		go submitFoundBlock(s.jm, worker, payoutAddr, height, outcome.BlockHex)
	}
}

func (s *StratumSession) sendSetDifficulty(diff float64) {
	s.enqueueNotification("mining.set_difficulty", []interface{}{diff})
}

func (s *StratumSession) sendNotify(job *Job) {
	params := []interface{}{
		job.JobID,
		hexToLEHex(job.PrevHash),
		"", "",
		job.MerkleBranches,
		uint32ToBEHex(uint32(job.Template.Version)),
		job.Template.Bits,
		uint32ToBEHex(uint32(job.Template.CurTime)),
		job.Clean,
	}
	coinb1, coinb2, err := buildCoinbaseParts(
		job.Template.Height,
		s.extranonce1,
		s.extranonce2Size,
		job.TemplateExtraNonce2Size,
		job.PayoutScript,
		job.CoinbaseValue,
		job.Template.CoinbaseAux.Flags,
		job.CoinbaseMsg,
		job.ScriptTime,
		job.ScriptTimeNanos,
	)
	if err != nil {
		logger.Error("build coinbase parts failed", "session", s.sessionID, "job", job.JobID, "error", err)
		return
	}
	params[2] = coinb1
	params[3] = coinb2
	s.enqueueNotification("mining.notify", params)
}

func (s *StratumSession) sendShutdown(reason string) {
	s.enqueueNotification("server.shutdown", []interface{}{reason})
}

// payoutAddressFromWorker accepts the common "address.workername" convention
// used by solo miners, falling back to the pool-configured address when the
// worker name carries no address of its own.
func payoutAddressFromWorker(worker, poolAddress string) string {
	if i := strings.Index(worker, "."); i > 0 {
		return worker[:i]
	}
	return poolAddress
}

func submitFoundBlock(jm *JobManager, worker, payoutAddr string, height int64, blockHex string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	headerBytes, err := hex.DecodeString(blockHex)
	blockHash := ""
	if err == nil && len(headerBytes) >= 80 {
		blockHash = hex.EncodeToString(reverseBytes(doubleSHA256(headerBytes[:80])))
	}

	var result interface{}
	rpcErr := jm.rpc.callCtx(ctx, "submitblock", []interface{}{blockHex}, &result)
	status := "accepted"
	recordStatus := "submitted"
	rpcErrStr := ""
	if rpcErr != nil {
		status = "error"
		recordStatus = "pending"
		rpcErrStr = rpcErr.Error()
		logger.Error("submitblock failed", "worker", worker, "error", rpcErr)
	} else {
		logger.Info("block submitted", "worker", worker, "height", height, "hash", blockHash)
	}
	jm.metrics.RecordBlockSubmission(status)

	path := pendingSubmissionsPath(jm.cfg)
	appendPendingSubmissionRecord(path, pendingSubmissionRecord{
		Timestamp:  time.Now(),
		Height:     height,
		Hash:       blockHash,
		Worker:     worker,
		BlockHex:   blockHex,
		RPCError:   rpcErrStr,
		PayoutAddr: payoutAddr,
		Status:     recordStatus,
	})
}
