package listings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vaulted-markets/orchestrator/internal/domain/escrow"
	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/internal/storage/memory"
)

// fakeRPC answers the ledger calls a listing flow makes: balance reads for the
// seller's asset account, seed-collision checks, submission and confirmation.
type fakeRPC struct {
	balance   uint64
	confirmOK bool
	txErr     string

	srv *httptest.Server
}

func newFakeRPC(t *testing.T) *fakeRPC {
	t.Helper()
	f := &fakeRPC{balance: 1, confirmOK: true}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ledger.RPCRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		resp := ledger.RPCResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "getTokenAccountBalance":
			raw, _ := json.Marshal(ledger.TokenBalance{Amount: f.balance})
			resp.Result = raw
		case "getAccountInfo":
			// No escrow state account exists yet: every drawn seed is fresh.
			resp.Error = &ledger.RPCError{Code: -32001, Message: "account not found"}
		case "sendTransaction":
			raw, _ := json.Marshal(map[string]string{"signature": "sig-listing"})
			resp.Result = raw
		case "getSignatureStatus":
			raw, _ := json.Marshal(ledger.SignatureStatus{
				Signature: "sig-listing",
				Confirmed: f.confirmOK,
				Err:       f.txErr,
			})
			resp.Result = raw
		default:
			t.Errorf("unexpected RPC method %q", req.Method)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func newTestService(t *testing.T, rpc *fakeRPC) (*Service, *memory.Store) {
	t.Helper()
	client, err := ledger.NewClient(ledger.Config{RPCURL: rpc.srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("ledger client: %v", err)
	}

	program := ledger.NewKeySigner([]byte("program")).PublicKey()
	native := ledger.NewKeySigner([]byte("native")).PublicKey()
	builder := ledger.NewBuilder(client, ledger.BuilderConfig{Program: program, NativeMint: native}, nil)

	store := memory.New()
	return New(store, store, nil, builder, client, nil), store
}

func listInput() ListInput {
	return ListInput{
		AssetMint:         ledger.NewKeySigner([]byte("asset")).PublicKey(),
		SettlementMint:    ledger.NewKeySigner([]byte("settlement")).PublicKey(),
		InitializerAmount: 1,
		TakerAmount:       5000,
		Price:             5000,
		Document:          metadata.Record{Title: "Geneva Chronograph", PriceUSD: 5000},
	}
}

func TestListConfirmedAdvancesToListed(t *testing.T) {
	rpc := newFakeRPC(t)
	svc, store := newTestService(t, rpc)
	seller := ledger.NewKeySigner([]byte("seller"))

	rec, err := svc.List(context.Background(), seller, listInput())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if rec.Status != escrow.StatusListed {
		t.Fatalf("status = %s, want listed", rec.Status)
	}
	if rec.ListingTx != "sig-listing" {
		t.Fatalf("listing tx = %q, want sig-listing", rec.ListingTx)
	}
	if rec.Seed == 0 {
		t.Fatal("record missing escrow seed")
	}

	// The metadata mirror is persisted alongside the sale request.
	docs, err := store.ListMetadataByAsset(context.Background(), rec.AssetMint)
	if err != nil {
		t.Fatalf("list metadata: %v", err)
	}
	if len(docs) != 1 || docs[0].Title != "Geneva Chronograph" {
		t.Fatalf("metadata mirror missing: %+v", docs)
	}
}

func TestListRequiresSigner(t *testing.T) {
	rpc := newFakeRPC(t)
	svc, _ := newTestService(t, rpc)

	_, err := svc.List(context.Background(), nil, listInput())
	if !errors.Is(err, ledger.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestListRequiresAssetOwnership(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.balance = 0
	svc, _ := newTestService(t, rpc)
	seller := ledger.NewKeySigner([]byte("seller"))

	_, err := svc.List(context.Background(), seller, listInput())
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestListFailedTransactionKeepsPending(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.txErr = "program rejected instruction"
	svc, store := newTestService(t, rpc)
	seller := ledger.NewKeySigner([]byte("seller"))

	rec, err := svc.List(context.Background(), seller, listInput())
	if !errors.Is(err, ledger.ErrTransactionFailed) {
		t.Fatalf("err = %v, want ErrTransactionFailed", err)
	}

	// The record stays in its last confirmed state.
	saved, err := store.GetSaleRequestBySeed(context.Background(), rec.Seed)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if saved.Status != escrow.StatusPending {
		t.Fatalf("status = %s, want pending after failed submission", saved.Status)
	}
}

func TestPurchaseRejectsUnlistedEscrow(t *testing.T) {
	rpc := newFakeRPC(t)
	svc, store := newTestService(t, rpc)

	if _, err := store.CreateSaleRequest(context.Background(), escrow.Record{
		Seed:   7,
		Status: escrow.StatusPending,
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	_, err := svc.Purchase(context.Background(), ledger.NewKeySigner([]byte("buyer")), 7)
	if !errors.Is(err, escrow.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}
