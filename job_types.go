package main

import (
	"math/big"
	"sync"
	"time"

	"github.com/remeh/sizedwaitgroup"
)

// GetBlockTemplateResult mirrors BIP22/23 getblocktemplate fields.
type GetBlockTemplateResult struct {
	Bits                     string           `json:"bits"`
	CurTime                  int64            `json:"curtime"`
	Height                   int64            `json:"height"`
	Mintime                  int64            `json:"mintime"`
	Target                   string           `json:"target"`
	Version                  int32            `json:"version"`
	Previous                 string           `json:"previousblockhash"`
	CoinbaseValue            int64            `json:"coinbasevalue"`
	DefaultWitnessCommitment string           `json:"default_witness_commitment"`
	LongPollID               string           `json:"longpollid"`
	Transactions             []GBTTransaction `json:"transactions"`
	VbAvailable              map[string]int   `json:"vbavailable"`
	VbRequired               int              `json:"vbrequired"`
	Mutable                  []string         `json:"mutable"`
	Rules                    []string         `json:"rules"`
	CoinbaseAux              struct {
		Flags string `json:"flags"`
	} `json:"coinbaseaux"`
}

type GBTTransaction struct {
	Data string `json:"data"`
	Txid string `json:"txid"`
	Hash string `json:"hash"`
}

// Job is an immutable unit of work derived from one getblocktemplate result,
// assigned a monotonic JobID and handed to every subscribed Stratum session.
type Job struct {
	JobID                   string
	Template                GetBlockTemplateResult
	Target                  *big.Int
	targetBE                [32]byte
	CreatedAt               time.Time
	Clean                   bool
	Extranonce2Size         int
	CoinbaseValue           int64
	CoinbaseMsg             string
	MerkleBranches          []string
	merkleBranchesBytes     [][32]byte
	Transactions            []GBTTransaction
	TransactionIDs          [][]byte
	PayoutScript            []byte
	VersionMask             uint32
	PrevHash                string
	prevHashBytes           [32]byte
	bitsBytes               [4]byte
	coinbaseFlagsBytes      []byte
	ScriptTime              int64
	ScriptTimeNanos         int64
	TemplateExtraNonce2Size int
}

const (
	jobSubscriberBuffer     = 4
	coinbaseExtranonce1Size = 4
)

const (
	jobRetryDelayMin = 5 * time.Second
	jobRetryDelayMax = 20 * time.Second
)

var errStaleTemplate = errStaleTemplateErr{}

type errStaleTemplateErr struct{}

func (errStaleTemplateErr) Error() string { return "stale template" }

// JobManager is the Template Fetcher + Job Builder + Job Registry head:
// it owns the single current Job, the node RPC client, and the subscriber
// fan-out that feeds new jobs to every Stratum session.
type JobManager struct {
	rpc          *RPCClient
	cfg          Config
	metrics      *PoolMetrics
	mu           sync.RWMutex
	curJob       *Job
	jobHistory   []*Job
	payoutScript []byte
	extraID      uint32
	subs         map[chan *Job]struct{}
	subsMu       sync.Mutex

	lastErrMu      sync.RWMutex
	lastErr        error
	lastErrAt      time.Time
	lastJobSuccess time.Time

	refreshMu          sync.Mutex
	lastRefreshAttempt time.Time
	applyMu            sync.Mutex

	notifyQueue chan *Job
	notifyWg    sizedwaitgroup.SizedWaitGroup

	retryDelay time.Duration
	retryMu    sync.Mutex
}

func NewJobManager(rpc *RPCClient, cfg Config, metrics *PoolMetrics, payoutScript []byte) *JobManager {
	return &JobManager{
		rpc:          rpc,
		cfg:          cfg,
		metrics:      metrics,
		payoutScript: payoutScript,
		subs:         make(map[chan *Job]struct{}),
		notifyQueue:  make(chan *Job, 100),
	}
}
