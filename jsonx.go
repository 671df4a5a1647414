package main

import (
	stdjson "encoding/json"
)

// jsonNumber is kept as an alias to encoding/json.Number so existing code
// that relies on that type continues to compile. fastJSONMarshal/
// fastJSONUnmarshal live in jsonx_sonic.go (Sonic-backed, default build) with
// a nojsonsimd-tagged stdlib fallback reserved for platforms Sonic doesn't
// support.
type jsonNumber = stdjson.Number
