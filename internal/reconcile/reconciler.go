// Package reconcile merges authoritative ledger account state with the
// off-chain record store into one canonical view per asset.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/vaulted-markets/orchestrator/internal/app/metrics"
	"github.com/vaulted-markets/orchestrator/internal/domain/escrow"
	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/storage"
	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// Facts is a snapshot of what the ledger says about one asset's escrow.
type Facts struct {
	EscrowExists      bool
	VaultBalance      uint64
	Seed              uint64
	Initializer       string
	Counterparty      string
	InitializerAmount uint64
	TakerAmount       uint64
	Price             uint64
	ContentRef        string
	// Holder is the asset token's current holder, empty when unknown.
	Holder string
}

// Source reads ledger facts for an asset. A zero seed asks the source to
// locate the escrow by scanning for the asset mint.
type Source interface {
	Facts(ctx context.Context, assetID string, seed uint64) (Facts, error)
}

// View is the canonical merged state surfaced to callers. Ownership and
// balances come from the ledger; descriptive fields from the newest metadata
// record; the surfaced status is the more advanced of the two stores.
type View struct {
	AssetID      string         `json:"asset_id"`
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description,omitempty"`
	Provenance   string         `json:"provenance,omitempty"`
	PriceUSD     float64        `json:"price_usd,omitempty"`
	Owner        string         `json:"owner,omitempty"`
	VaultBalance uint64         `json:"vault_balance"`
	Status       escrow.Status  `json:"status"`
	Sale         *escrow.Record `json:"sale,omitempty"`
	Synthesized  bool           `json:"synthesized,omitempty"`
}

// Reconciler computes canonical views and heals store drift.
type Reconciler struct {
	source Source
	sales  storage.SaleRequestStore
	meta   storage.MetadataStore
	log    *logger.Logger
}

// New creates a reconciler.
func New(source Source, sales storage.SaleRequestStore, meta storage.MetadataStore, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	return &Reconciler{source: source, sales: sales, meta: meta, log: log}
}

// Reconcile merges ledger facts and off-chain records for one asset and
// persists any healing writes.
func (r *Reconciler) Reconcile(ctx context.Context, assetID string) (View, error) {
	view, err := r.reconcileAsset(ctx, assetID)
	if err != nil {
		metrics.RecordReconcile("error", false)
		return View{}, err
	}
	metrics.RecordReconcile("ok", view.Synthesized)
	return view, nil
}

func (r *Reconciler) reconcileAsset(ctx context.Context, assetID string) (View, error) {
	view := View{AssetID: assetID, Status: escrow.StatusPending}

	// Descriptive fields: newest metadata record wins. Older duplicates stay
	// in storage; they are only dropped from the view.
	records, err := r.meta.ListMetadataByAsset(ctx, assetID)
	if err != nil {
		return View{}, fmt.Errorf("list metadata for %s: %w", assetID, err)
	}
	if latest, ok := metadata.Latest(records)[assetID]; ok {
		view.Title = latest.Title
		view.Description = latest.Description
		view.Provenance = latest.Provenance
		view.PriceUSD = latest.PriceUSD
	}

	sale, err := r.sales.GetSaleRequestByAsset(ctx, assetID)
	haveSale := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return View{}, fmt.Errorf("load sale request for %s: %w", assetID, err)
	}

	var seed uint64
	if haveSale {
		seed = sale.Seed
		view.Status = sale.Status
	}

	facts, err := r.source.Facts(ctx, assetID, seed)
	if err != nil {
		return View{}, fmt.Errorf("read ledger facts for %s: %w", assetID, err)
	}

	// Ownership and balances always come from the ledger.
	view.Owner = facts.Holder
	view.VaultBalance = facts.VaultBalance

	ledgerStatus := r.classify(facts, sale, haveSale)
	if ledgerStatus != "" {
		view.Status = escrow.MoreAdvanced(view.Status, ledgerStatus)
	}

	// Self-healing: funds locked on the ledger with no off-chain sale request
	// means the stores have drifted; synthesize the missing document.
	if !haveSale && facts.EscrowExists && facts.VaultBalance > 0 {
		synth := escrow.Record{
			Seed:              facts.Seed,
			Initializer:       facts.Initializer,
			Counterparty:      facts.Counterparty,
			AssetMint:         assetID,
			InitializerAmount: facts.InitializerAmount,
			TakerAmount:       facts.TakerAmount,
			Price:             facts.Price,
			ContentRef:        facts.ContentRef,
			Status:            view.Status,
		}
		created, err := r.sales.CreateSaleRequest(ctx, synth)
		if err != nil {
			return View{}, fmt.Errorf("synthesize sale request for %s: %w", assetID, err)
		}
		sale = created
		haveSale = true
		view.Synthesized = true
		r.log.WithField("asset_id", assetID).
			WithField("seed", facts.Seed).
			Warn("synthesized missing sale request from ledger state")
	}

	// Push the surfaced status back to the record store when it lags.
	if haveSale && escrow.MoreAdvanced(sale.Status, view.Status) != sale.Status {
		sale.Status = view.Status
		if sale.Counterparty == "" && facts.Counterparty != "" {
			sale.Counterparty = facts.Counterparty
		}
		updated, err := r.sales.UpdateSaleRequest(ctx, sale)
		if err != nil {
			return View{}, fmt.Errorf("update sale request %s: %w", sale.ID, err)
		}
		sale = updated
	}

	if haveSale {
		view.Sale = &sale
	}
	return view, nil
}

// classify maps ledger facts to a lifecycle status. It returns empty when the
// ledger proves nothing; an absent account resolves an outcome only when the
// asset's holder is known.
func (r *Reconciler) classify(facts Facts, sale escrow.Record, haveSale bool) escrow.Status {
	switch escrow.ClassifyReadback(facts.EscrowExists, facts.VaultBalance) {
	case escrow.ReadbackAbsent:
		// A settled or cancelled escrow closes its state account, so absence
		// plus holder evidence still resolves an outcome. Absence alone
		// proves nothing.
		if facts.Holder == "" {
			return ""
		}
		return r.disambiguate(facts, sale, haveSale)
	case escrow.ReadbackActive:
		if facts.Counterparty != "" {
			return escrow.StatusMatched
		}
		return escrow.StatusListed
	default:
		return r.disambiguate(facts, sale, haveSale)
	}
}

// disambiguate resolves settled-vs-cancelled from the asset's current holder,
// falling back to the sale record for the party addresses. An unresolvable
// holder keeps the last confirmed state.
func (r *Reconciler) disambiguate(facts Facts, sale escrow.Record, haveSale bool) escrow.Status {
	seller := facts.Initializer
	buyer := facts.Counterparty
	if haveSale {
		if seller == "" {
			seller = sale.Initializer
		}
		if buyer == "" {
			buyer = sale.Counterparty
		}
	}
	status, err := escrow.Disambiguate(facts.Holder, seller, buyer)
	if err != nil {
		r.log.WithError(err).WithField("seed", facts.Seed).
			Warn("read-back ambiguous, holding last confirmed state")
		return ""
	}
	return status
}

// ReconcileAll sweeps every tracked sale request.
func (r *Reconciler) ReconcileAll(ctx context.Context) error {
	sales, err := r.sales.ListSaleRequests(ctx)
	if err != nil {
		return fmt.Errorf("list sale requests: %w", err)
	}
	var firstErr error
	for _, sale := range sales {
		if sale.Status.Terminal() {
			continue
		}
		if _, err := r.Reconcile(ctx, sale.AssetMint); err != nil {
			r.log.WithError(err).WithField("asset_id", sale.AssetMint).Error("reconcile failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
