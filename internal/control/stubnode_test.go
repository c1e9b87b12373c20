package control_test

import (
	"encoding/hex"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// stubNode is a Substrate JSON-RPC websocket node serving one account.
type stubNode struct {
	upgrader websocket.Upgrader
	key      string

	mu           sync.Mutex
	free         *big.Int
	unsubscribed int
}

func newStubNode(t *testing.T, key string, free *big.Int) (*stubNode, string) {
	n := &stubNode{key: key, free: free}
	srv := httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(srv.Close)
	return n, "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

// accountValue encodes AccountInfo with the given free balance.
func accountValue(free *big.Int) string {
	buf := make([]byte, 16+48)
	le := free.FillBytes(make([]byte, 16))
	for i := range le {
		buf[16+i] = le[15-i]
	}
	return "0x" + hex.EncodeToString(buf)
}

func (n *stubNode) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		n.mu.Lock()
		value := accountValue(n.free)
		n.mu.Unlock()

		switch req.Method {
		case "state_getStorage":
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": value})
		case "state_subscribeStorage":
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "sub-1"})
			conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"method":  "state_storage",
				"params": map[string]any{
					"subscription": "sub-1",
					"result": map[string]any{
						"block":   "0x01",
						"changes": [][]string{{n.key, value}},
					},
				},
			})
		case "state_unsubscribeStorage":
			n.mu.Lock()
			n.unsubscribed++
			n.mu.Unlock()
			conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": true})
		default:
			conn.WriteJSON(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]any{"code": -32601, "message": "Method not found"},
			})
		}
	}
}

func (n *stubNode) unsubscribeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unsubscribed
}
