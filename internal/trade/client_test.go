package trade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vaulted-markets/orchestrator/internal/app/metrics"
	"github.com/vaulted-markets/orchestrator/internal/domain/pool"
	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/internal/storage/memory"
	"github.com/vaulted-markets/orchestrator/pkg/testutil"
)

// fakeLiquidity serves the quote and execute-trade endpoints and counts hits.
type fakeLiquidity struct {
	quoteCalls   int64
	executeCalls int64

	outputAmount uint64
	priceImpact  float64

	srv *httptest.Server
}

func newFakeLiquidity(t *testing.T) *fakeLiquidity {
	t.Helper()
	f := &fakeLiquidity{outputAmount: 990, priceImpact: 0.4}

	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.quoteCalls, 1)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"outputAmount": f.outputAmount,
			"priceImpact":  f.priceImpact,
			"slippageBps":  50,
		})
	})
	mux.HandleFunc("/execute-trade", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.executeCalls, 1)
		tx := ledger.Transaction{Instructions: []ledger.Instruction{{Method: "swap"}}}
		raw, _ := tx.Serialize()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"serializedTransaction": json.RawMessage(raw),
		})
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// fakeRPC is a ledger node confirming everything on the first poll.
func fakeRPC(t *testing.T) *ledger.Client {
	t.Helper()
	node := testutil.NewRPCNode(t)
	node.SetSignature("sig-1")
	return node.Client(t)
}

func tradablePool(t *testing.T, store *memory.Store) pool.Record {
	t.Helper()
	p, err := store.CreatePool(context.Background(), pool.Record{
		AssetID:       "asset-mint-1",
		TotalShares:   1000,
		SharePriceUSD: 150,
		TokenMint:     "pool-token-mint",
		TokenStatus:   pool.TokenUnlocked,
		Status:        pool.StatusActive,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return p
}

func newTestClient(t *testing.T, liq *fakeLiquidity, store *memory.Store) *Client {
	t.Helper()
	return NewClient(Config{BaseURL: liq.srv.URL}, fakeRPC(t), store, nil, nil)
}

func TestQuoteRejectsNonPositiveAmountLocally(t *testing.T) {
	liq := newFakeLiquidity(t)
	store := memory.New()
	p := tradablePool(t, store)
	c := newTestClient(t, liq, store)

	for _, amount := range []int64{0, -5} {
		_, err := c.Quote(context.Background(), QuoteRequest{PoolID: p.ID, Amount: amount})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("amount %d: err = %v, want ErrInvalidAmount", amount, err)
		}
	}
	if n := atomic.LoadInt64(&liq.quoteCalls); n != 0 {
		t.Fatalf("remote quote calls = %d, want 0", n)
	}
}

func TestQuoteRefusedWhileTokenLocked(t *testing.T) {
	liq := newFakeLiquidity(t)
	store := memory.New()
	p, err := store.CreatePool(context.Background(), pool.Record{
		TotalShares:   1000,
		SharePriceUSD: 150,
		TokenMint:     "pool-token-mint",
		TokenStatus:   pool.TokenFrozen,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	c := newTestClient(t, liq, store)

	_, err = c.Quote(context.Background(), QuoteRequest{PoolID: p.ID, Amount: 100})
	if !errors.Is(err, pool.ErrTradingLocked) {
		t.Fatalf("err = %v, want ErrTradingLocked", err)
	}
	if n := atomic.LoadInt64(&liq.quoteCalls); n != 0 {
		t.Fatalf("remote quote calls = %d, want 0", n)
	}
}

func TestQuoteReturnsPricedOffer(t *testing.T) {
	liq := newFakeLiquidity(t)
	store := memory.New()
	p := tradablePool(t, store)
	c := newTestClient(t, liq, store)

	q, err := c.Quote(context.Background(), QuoteRequest{
		PoolID:     p.ID,
		InputMint:  "settlement-mint",
		OutputMint: "pool-token-mint",
		Amount:     1000,
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.OutputAmount != 990 || q.InputAmount != 1000 {
		t.Fatalf("unexpected amounts: %+v", q)
	}
	if q.FetchedAt.IsZero() {
		t.Fatal("quote missing fetch timestamp")
	}
}

func TestExecuteRejectsStaleQuote(t *testing.T) {
	liq := newFakeLiquidity(t)
	store := memory.New()
	tradablePool(t, store)
	c := newTestClient(t, liq, store)

	q := Quote{PoolID: "p", PriceImpact: 0.1, FetchedAt: time.Now().Add(-time.Minute)}
	_, err := c.Execute(context.Background(), q, ledger.NewKeySigner([]byte("user")), ExecuteOptions{})
	if !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("err = %v, want ErrStaleQuote", err)
	}
	if n := atomic.LoadInt64(&liq.executeCalls); n != 0 {
		t.Fatalf("remote execute calls = %d, want 0", n)
	}
}

func TestExecuteRejectsHighImpactWithoutConfirmation(t *testing.T) {
	liq := newFakeLiquidity(t)
	store := memory.New()
	c := newTestClient(t, liq, store)

	q := Quote{PoolID: "p", PriceImpact: 9.5, FetchedAt: time.Now()}
	_, err := c.Execute(context.Background(), q, ledger.NewKeySigner([]byte("user")), ExecuteOptions{})
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("err = %v, want ErrSlippageExceeded", err)
	}
	if n := atomic.LoadInt64(&liq.executeCalls); n != 0 {
		t.Fatalf("remote execute calls = %d, want 0", n)
	}
}

func TestExecuteRequiresSigner(t *testing.T) {
	liq := newFakeLiquidity(t)
	c := newTestClient(t, liq, memory.New())

	q := Quote{PoolID: "p", FetchedAt: time.Now()}
	_, err := c.Execute(context.Background(), q, nil, ExecuteOptions{})
	if !errors.Is(err, ledger.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func quoteSampleCount(t *testing.T) uint64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	var total uint64
	for _, mf := range families {
		if mf.GetName() != "orchestrator_trade_quote_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetHistogram().GetSampleCount()
		}
	}
	return total
}

func TestQuoteRecordsLatencyMetric(t *testing.T) {
	liq := newFakeLiquidity(t)
	store := memory.New()
	p := tradablePool(t, store)
	c := newTestClient(t, liq, store)

	before := quoteSampleCount(t)
	if _, err := c.Quote(context.Background(), QuoteRequest{PoolID: p.ID, InputMint: "a", OutputMint: "b", Amount: 100}); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if got := quoteSampleCount(t); got != before+1 {
		t.Fatalf("quote samples = %d, want %d", got, before+1)
	}
}

func TestExecuteSignsSubmitsAndConfirms(t *testing.T) {
	liq := newFakeLiquidity(t)
	c := newTestClient(t, liq, memory.New())

	q := Quote{
		PoolID:      "p",
		InputMint:   "settlement-mint",
		OutputMint:  "pool-token-mint",
		InputAmount: 1000,
		PriceImpact: 7.0,
		SlippageBps: 50,
		FetchedAt:   time.Now(),
	}
	sig, err := c.Execute(context.Background(), q, ledger.NewKeySigner([]byte("user")), ExecuteOptions{AcceptPriceImpact: true})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sig != "sig-1" {
		t.Fatalf("signature = %q, want sig-1", sig)
	}
	if n := atomic.LoadInt64(&liq.executeCalls); n != 1 {
		t.Fatalf("remote execute calls = %d, want 1", n)
	}
}
