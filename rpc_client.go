package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// RPCClient is a minimal Bitcoin JSON-RPC 1.0 HTTP client with Basic auth.
// It is deliberately small: one endpoint, one auth scheme, two call shapes
// (a bounded call and a long-poll call with its own larger timeout).
type RPCClient struct {
	endpoint string
	user     string
	password string

	httpClient     *http.Client
	longPollClient *http.Client

	reqID atomic.Uint64

	metrics *PoolMetrics
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     uint64          `json:"id"`
}

// NewRPCClient builds a client against host:port using user/password Basic
// auth. callTimeout bounds ordinary calls (getblocktemplate polls,
// submitblock, getbestblockhash); long-poll calls use their own much longer
// deadline since getblocktemplate with a longpollid can block on the node
// for minutes waiting on new work.
func NewRPCClient(host string, port int, user, password string, callTimeout time.Duration, metrics *PoolMetrics) *RPCClient {
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &RPCClient{
		endpoint: fmt.Sprintf("http://%s:%d", host, port),
		user:     user,
		password: password,
		httpClient: &http.Client{
			Timeout: callTimeout,
		},
		longPollClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		metrics: metrics,
	}
}

func (c *RPCClient) callCtx(ctx context.Context, method string, params []interface{}, result interface{}) error {
	return c.doCall(ctx, c.httpClient, method, params, result, false)
}

func (c *RPCClient) callLongPollCtx(ctx context.Context, method string, params []interface{}, result interface{}) error {
	return c.doCall(ctx, c.longPollClient, method, params, result, true)
}

func (c *RPCClient) doCall(ctx context.Context, client *http.Client, method string, params []interface{}, result interface{}, longPoll bool) error {
	start := time.Now()
	err := c.doCallOnce(ctx, client, method, params, result)
	c.metrics.ObserveRPCLatency(method, longPoll, time.Since(start))
	if err != nil {
		c.metrics.RecordRPCError()
		logger.Debug("rpc call failed", "method", method, "long_poll", longPoll, "error", err)
	}
	return err
}

func (c *RPCClient) doCallOnce(ctx context.Context, client *http.Client, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	reqBody := rpcRequest{
		JSONRPC: "1.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.password)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("rpc transport: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read rpc response: %w", err)
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("rpc unauthorized: check rpc.user/rpc.password")
	}
	// bitcoind returns HTTP 500 with a JSON-RPC error body on RPC-level
	// errors; only bail out early on transport-layer failures that carry no
	// parseable body.
	if httpResp.StatusCode != http.StatusOK && len(body) == 0 {
		return fmt.Errorf("rpc http status %d", httpResp.StatusCode)
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	if len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return fmt.Errorf("decode rpc result for %s: %w", method, err)
	}
	return nil
}
