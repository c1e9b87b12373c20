package provider

import (
	"encoding/json"
	"strconv"
	"strings"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// message is any inbound JSON-RPC frame: a response or a notification.
type message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params *notification   `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type notification struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func (m *message) isNotification() bool {
	return m.Method != "" && IsNull(m.ID) && m.Params != nil
}

func (m *message) id() (uint64, bool) {
	if IsNull(m.ID) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.Trim(string(m.ID), `"`), 10, 64)
	return id, err == nil
}

// subscriptionKey normalizes a subscription id, which nodes send either as
// a string or a number.
func subscriptionKey(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
