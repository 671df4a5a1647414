//go:build !nojsonsimd

package main

import "github.com/bytedance/sonic"

var fastJSON = sonic.ConfigDefault

// fastJSONMarshal encodes stratum notify/response lines and
// pending-submission records. Sonic's codegen'd codec replaces encoding/json
// on this path since every share reply and every mining.notify goes through
// it. Node RPC (rpc_client.go) uses encoding/json instead.
func fastJSONMarshal(v any) ([]byte, error) {
	return fastJSON.Marshal(v)
}

// fastJSONUnmarshal decodes incoming stratum requests (mining.submit and
// friends) and pending-submission records read back from disk.
func fastJSONUnmarshal(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}
