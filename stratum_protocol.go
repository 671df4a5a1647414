package main

import "encoding/json"

// StratumRequest is one line of the downstream Stratum V1 wire protocol:
// a JSON-RPC-shaped object with a numeric/string id, a method name, and a
// params array. Notifications from the server reuse the same shape with
// id = null.
type StratumRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []interface{}   `json:"params"`
}

// StratumResponse mirrors the reply shape. On success Error is null; on a
// rejection Result is false and Error is the three-element
// [code, message, traceback] array Stratum convention uses.
type StratumResponse struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result"`
	Error  []interface{}   `json:"error"`
}

var nullID = json.RawMessage("null")

func stratumError(code int, message string) []interface{} {
	return []interface{}{code, message, nil}
}
