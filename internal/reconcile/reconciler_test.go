package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vaulted-markets/orchestrator/internal/app/metrics"
	"github.com/vaulted-markets/orchestrator/internal/domain/escrow"
	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/storage/memory"
)

type fakeSource struct {
	facts Facts
	err   error

	calls    int
	lastSeed uint64
}

func (f *fakeSource) Facts(_ context.Context, _ string, seed uint64) (Facts, error) {
	f.calls++
	f.lastSeed = seed
	return f.facts, f.err
}

const (
	testAsset  = "asset-mint-1"
	testSeller = "seller-account"
	testBuyer  = "buyer-account"
)

func newReconciler(t *testing.T, src Source) (*Reconciler, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(src, store, store, nil), store
}

func putMetadata(t *testing.T, store *memory.Store, rec metadata.Record) metadata.Record {
	t.Helper()
	saved, err := store.PutMetadata(context.Background(), rec)
	if err != nil {
		t.Fatalf("put metadata: %v", err)
	}
	return saved
}

func TestReconcileHealsDriftedListing(t *testing.T) {
	// Record store says pending, the ledger holds funds in the vault. The
	// canonical view must surface listed and heal the stored record.
	src := &fakeSource{facts: Facts{
		EscrowExists: true,
		VaultBalance: 1,
		Seed:         42,
		Initializer:  testSeller,
		Holder:       testSeller,
	}}
	rec, store := newReconciler(t, src)

	sale, err := store.CreateSaleRequest(context.Background(), escrow.Record{
		Seed:        42,
		Initializer: testSeller,
		AssetMint:   testAsset,
		Status:      escrow.StatusPending,
	})
	if err != nil {
		t.Fatalf("create sale request: %v", err)
	}
	putMetadata(t, store, metadata.Record{
		AssetID:      testAsset,
		Title:        "Geneva Chronograph",
		MarketStatus: "pending",
		PriceUSD:     150,
	})

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != escrow.StatusListed {
		t.Fatalf("status = %q, want %q", view.Status, escrow.StatusListed)
	}
	if view.Title != "Geneva Chronograph" || view.PriceUSD != 150 {
		t.Fatalf("descriptive fields not taken from metadata: %+v", view)
	}
	if src.lastSeed != 42 {
		t.Fatalf("source queried with seed %d, want 42", src.lastSeed)
	}

	healed, err := store.GetSaleRequest(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("reload sale request: %v", err)
	}
	if healed.Status != escrow.StatusListed {
		t.Fatalf("stored status = %q, want %q", healed.Status, escrow.StatusListed)
	}
}

func TestReconcileSynthesizesMissingSaleRequest(t *testing.T) {
	src := &fakeSource{facts: Facts{
		EscrowExists:      true,
		VaultBalance:      1,
		Seed:              77,
		Initializer:       testSeller,
		InitializerAmount: 1,
		TakerAmount:       5000,
		Price:             5000,
		ContentRef:        "bafyexample",
	}}
	rec, store := newReconciler(t, src)

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !view.Synthesized {
		t.Fatal("expected a synthesized sale request")
	}
	if view.Status != escrow.StatusListed {
		t.Fatalf("status = %q, want %q", view.Status, escrow.StatusListed)
	}
	if src.lastSeed != 0 {
		t.Fatalf("source queried with seed %d, want 0 for unknown escrow", src.lastSeed)
	}

	saved, err := store.GetSaleRequestBySeed(context.Background(), 77)
	if err != nil {
		t.Fatalf("synthesized record not persisted: %v", err)
	}
	if saved.AssetMint != testAsset || saved.TakerAmount != 5000 || saved.ContentRef != "bafyexample" {
		t.Fatalf("synthesized record missing ledger fields: %+v", saved)
	}
}

func TestReconcileMatchedEscrowCarriesCounterparty(t *testing.T) {
	src := &fakeSource{facts: Facts{
		EscrowExists: true,
		VaultBalance: 1,
		Seed:         9,
		Initializer:  testSeller,
		Counterparty: testBuyer,
	}}
	rec, store := newReconciler(t, src)

	if _, err := store.CreateSaleRequest(context.Background(), escrow.Record{
		Seed:        9,
		Initializer: testSeller,
		AssetMint:   testAsset,
		Status:      escrow.StatusListed,
	}); err != nil {
		t.Fatalf("create sale request: %v", err)
	}

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != escrow.StatusMatched {
		t.Fatalf("status = %q, want %q", view.Status, escrow.StatusMatched)
	}
	if view.Sale == nil || view.Sale.Counterparty != testBuyer {
		t.Fatalf("counterparty not back-filled: %+v", view.Sale)
	}
}

func TestReconcileDisambiguatesSettledByHolder(t *testing.T) {
	// Escrow account gone, buyer holds the asset: the exchange settled.
	src := &fakeSource{facts: Facts{Holder: testBuyer}}
	rec, store := newReconciler(t, src)

	if _, err := store.CreateSaleRequest(context.Background(), escrow.Record{
		Seed:         11,
		Initializer:  testSeller,
		Counterparty: testBuyer,
		AssetMint:    testAsset,
		Status:       escrow.StatusMatched,
	}); err != nil {
		t.Fatalf("create sale request: %v", err)
	}

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != escrow.StatusSettled {
		t.Fatalf("status = %q, want %q", view.Status, escrow.StatusSettled)
	}
}

func TestReconcileAmbiguousReadbackKeepsLastState(t *testing.T) {
	// Account gone and the holder is neither party: hold the stored state.
	src := &fakeSource{facts: Facts{Holder: ""}}
	rec, store := newReconciler(t, src)

	if _, err := store.CreateSaleRequest(context.Background(), escrow.Record{
		Seed:         12,
		Initializer:  testSeller,
		Counterparty: testBuyer,
		AssetMint:    testAsset,
		Status:       escrow.StatusMatched,
	}); err != nil {
		t.Fatalf("create sale request: %v", err)
	}

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != escrow.StatusMatched {
		t.Fatalf("status = %q, want %q", view.Status, escrow.StatusMatched)
	}
}

func TestReconcileCancelledWhenSellerHolds(t *testing.T) {
	// Escrow account gone, asset back with the seller: the listing was
	// cancelled.
	src := &fakeSource{facts: Facts{Holder: testSeller}}
	rec, store := newReconciler(t, src)

	if _, err := store.CreateSaleRequest(context.Background(), escrow.Record{
		Seed:        14,
		Initializer: testSeller,
		AssetMint:   testAsset,
		Status:      escrow.StatusListed,
	}); err != nil {
		t.Fatalf("create sale request: %v", err)
	}

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != escrow.StatusCancelled {
		t.Fatalf("status = %q, want %q", view.Status, escrow.StatusCancelled)
	}
}

func TestReconcileStrangerHolderKeepsLastState(t *testing.T) {
	// Escrow account gone and the holder is neither party: no outcome can be
	// proven, hold the stored state.
	src := &fakeSource{facts: Facts{Holder: "unrelated-account"}}
	rec, store := newReconciler(t, src)

	if _, err := store.CreateSaleRequest(context.Background(), escrow.Record{
		Seed:         15,
		Initializer:  testSeller,
		Counterparty: testBuyer,
		AssetMint:    testAsset,
		Status:       escrow.StatusMatched,
	}); err != nil {
		t.Fatalf("create sale request: %v", err)
	}

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != escrow.StatusMatched {
		t.Fatalf("status = %q, want %q", view.Status, escrow.StatusMatched)
	}
}

func TestReconcileNeverRegressesStatus(t *testing.T) {
	// Stored record is ahead of what the ledger can prove; keep it.
	src := &fakeSource{facts: Facts{Holder: testBuyer}}
	rec, store := newReconciler(t, src)

	if _, err := store.CreateSaleRequest(context.Background(), escrow.Record{
		Seed:         13,
		Initializer:  testSeller,
		Counterparty: testBuyer,
		AssetMint:    testAsset,
		Status:       escrow.StatusSettled,
	}); err != nil {
		t.Fatalf("create sale request: %v", err)
	}

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Status != escrow.StatusSettled {
		t.Fatalf("status = %q, want %q", view.Status, escrow.StatusSettled)
	}
}

func TestReconcileNewestMetadataWins(t *testing.T) {
	src := &fakeSource{}
	rec, store := newReconciler(t, src)

	putMetadata(t, store, metadata.Record{
		AssetID:   testAsset,
		Title:     "Old Title",
		UpdatedAt: time.Now().Add(-time.Hour),
	})
	putMetadata(t, store, metadata.Record{
		AssetID:   testAsset,
		Title:     "New Title",
		UpdatedAt: time.Now(),
	})

	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if view.Title != "New Title" {
		t.Fatalf("title = %q, want the newest record's title", view.Title)
	}

	// Older rows are kept in storage; dedup is read-side only.
	rows, err := store.ListMetadataByAsset(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("list metadata: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("stored rows = %d, want 2", len(rows))
	}
}

func TestReconcileSourceErrorPropagates(t *testing.T) {
	wantErr := errors.New("rpc down")
	rec, _ := newReconciler(t, &fakeSource{err: wantErr})

	if _, err := rec.Reconcile(context.Background(), testAsset); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func counterTotal(t *testing.T, name string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestReconcileRecordsMetrics(t *testing.T) {
	src := &fakeSource{facts: Facts{
		EscrowExists: true,
		VaultBalance: 1,
		Seed:         77,
		Initializer:  testSeller,
	}}
	rec, _ := newReconciler(t, src)

	runsBefore := counterTotal(t, "orchestrator_reconcile_runs_total")
	healsBefore := counterTotal(t, "orchestrator_reconcile_heals_total")

	// No sale request exists, so this pass synthesizes one.
	view, err := rec.Reconcile(context.Background(), testAsset)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !view.Synthesized {
		t.Fatal("expected a synthesized sale request")
	}

	if got := counterTotal(t, "orchestrator_reconcile_runs_total"); got != runsBefore+1 {
		t.Fatalf("runs total = %v, want %v", got, runsBefore+1)
	}
	if got := counterTotal(t, "orchestrator_reconcile_heals_total"); got != healsBefore+1 {
		t.Fatalf("heals total = %v, want %v", got, healsBefore+1)
	}
}

func TestReconcileAllSkipsTerminalRecords(t *testing.T) {
	src := &fakeSource{}
	rec, store := newReconciler(t, src)

	for _, r := range []escrow.Record{
		{Seed: 21, AssetMint: "live-asset", Initializer: testSeller, Status: escrow.StatusListed},
		{Seed: 22, AssetMint: "done-asset", Initializer: testSeller, Status: escrow.StatusSettled},
	} {
		if _, err := store.CreateSaleRequest(context.Background(), r); err != nil {
			t.Fatalf("create sale request: %v", err)
		}
	}

	if err := rec.ReconcileAll(context.Background()); err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	if src.calls != 1 {
		t.Fatalf("source calls = %d, want 1 (terminal records skipped)", src.calls)
	}
}
