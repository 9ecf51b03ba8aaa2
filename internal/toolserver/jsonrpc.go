package toolserver

import (
	"bytes"
	"encoding/json"
)

// rpcRequest is the JSON-RPC 2.0 envelope sent to tool servers.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcResponse is the decoded outcome of one call. A response without a
// result carries the raw status/body so callers can report it. It is
// not a Go error; flaky servers produce malformed frames routinely and
// must not tear down the session.
type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Err    *rpcError       `json:"error"`
	Status int             `json:"-"`
	Raw    string          `json:"-"`
}

// Failed reports whether the response carries no usable result.
func (r *rpcResponse) Failed() bool {
	return r == nil || len(r.Result) == 0
}

func newRequest(id int64, method string, params any) rpcRequest {
	if params == nil {
		params = map[string]any{}
	}
	return rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
}

// decodeRPCLine parses one candidate line from a response stream. An
// optional "data:" SSE prefix is stripped; the line is accepted when it
// decodes into a recognizable result or error shape.
func decodeRPCLine(line []byte) (*rpcResponse, bool) {
	line = bytes.TrimSpace(line)
	if after, ok := bytes.CutPrefix(line, []byte("data:")); ok {
		line = bytes.TrimSpace(after)
	}
	if len(line) == 0 || line[0] != '{' {
		return nil, false
	}
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, false
	}
	if len(resp.Result) == 0 && resp.Err == nil {
		return nil, false
	}
	return &resp, true
}
