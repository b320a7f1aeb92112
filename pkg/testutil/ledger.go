// Package testutil provides shared fakes for tests that exercise
// ledger-backed services.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/vaulted-markets/orchestrator/internal/ledger"
)

// RPCNode is an in-process fake of a ledger RPC endpoint. It accepts
// transactions, reports the configured confirmation outcome, and answers
// balance and account reads. The zero configuration confirms every
// transaction and reports a balance of one token on every account.
type RPCNode struct {
	mu        sync.Mutex
	signature string
	confirmed bool
	txErr     string
	balance   uint64
	sends     int

	srv *httptest.Server
}

// NewRPCNode starts the fake node. It is shut down with the test.
func NewRPCNode(t *testing.T) *RPCNode {
	t.Helper()
	n := &RPCNode{signature: "sig-test", confirmed: true, balance: 1}

	n.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ledger.RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		n.mu.Lock()
		defer n.mu.Unlock()

		resp := ledger.RPCResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "getTokenAccountBalance":
			raw, _ := json.Marshal(ledger.TokenBalance{Amount: n.balance})
			resp.Result = raw
		case "getAccountInfo":
			resp.Error = &ledger.RPCError{Code: -32001, Message: "account not found"}
		case "sendTransaction":
			n.sends++
			raw, _ := json.Marshal(map[string]string{"signature": n.signature})
			resp.Result = raw
		case "getSignatureStatus":
			raw, _ := json.Marshal(ledger.SignatureStatus{
				Signature: n.signature,
				Confirmed: n.confirmed,
				Err:       n.txErr,
			})
			resp.Result = raw
		default:
			t.Errorf("unexpected RPC method %q", req.Method)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(n.srv.Close)
	return n
}

// URL returns the node's RPC endpoint.
func (n *RPCNode) URL() string { return n.srv.URL }

// Client returns a ledger client pointed at the node.
func (n *RPCNode) Client(t *testing.T) *ledger.Client {
	t.Helper()
	client, err := ledger.NewClient(ledger.Config{RPCURL: n.srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("ledger client: %v", err)
	}
	return client
}

// SetSignature changes the signature returned for submitted transactions.
func (n *RPCNode) SetSignature(sig string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signature = sig
}

// SetBalance changes the balance reported for every token account.
func (n *RPCNode) SetBalance(amount uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.balance = amount
}

// FailTransactions makes confirmed transactions report the given ledger-side
// error.
func (n *RPCNode) FailTransactions(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txErr = msg
}

// Sends reports how many transactions the node has accepted.
func (n *RPCNode) Sends() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sends
}
