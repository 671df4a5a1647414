//go:build !nojsonsimd

package main

import (
	"reflect"

	"github.com/bytedance/sonic"
)

// init pretouches the stratum wire types so the first mining.submit doesn't
// pay sonic's codegen cost inline. The RPC envelope types are pretouched as
// well, although rpc_client.go encodes and decodes them with encoding/json.
func init() {
	_ = sonic.Pretouch(reflect.TypeFor[StratumRequest]())
	_ = sonic.Pretouch(reflect.TypeFor[StratumResponse]())
	_ = sonic.Pretouch(reflect.TypeFor[rpcRequest]())
	_ = sonic.Pretouch(reflect.TypeFor[rpcResponse]())
	_ = sonic.Pretouch(reflect.TypeFor[rpcError]())
}
