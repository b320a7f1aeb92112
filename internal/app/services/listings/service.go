// Package listings orchestrates the escrow lifecycle: pin the metadata
// document, build and submit the transaction for each intent, and advance the
// off-chain record only on a confirmed outcome.
package listings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vaulted-markets/orchestrator/internal/app/metrics"
	"github.com/vaulted-markets/orchestrator/internal/content"
	"github.com/vaulted-markets/orchestrator/internal/domain/escrow"
	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/internal/storage"
	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// Service drives escrow listings from intent to settlement or cancellation.
type Service struct {
	sales   storage.SaleRequestStore
	meta    storage.MetadataStore
	content content.Store
	builder *ledger.Builder
	client  *ledger.Client
	log     *logger.Logger
}

// New constructs a listings service. content may be nil when documents are
// pinned elsewhere.
func New(sales storage.SaleRequestStore, meta storage.MetadataStore, store content.Store, builder *ledger.Builder, client *ledger.Client, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("listings")
	}
	return &Service{
		sales:   sales,
		meta:    meta,
		content: store,
		builder: builder,
		client:  client,
		log:     log,
	}
}

// ListInput describes a new listing intent.
type ListInput struct {
	AssetMint         ledger.Address
	SettlementMint    ledger.Address
	InitializerAmount uint64
	TakerAmount       uint64
	Price             uint64
	FeeRecipient      ledger.Address
	Document          metadata.Record
}

// List pins the asset document, builds the initialize-escrow transaction and
// submits it. The sale request is persisted before submission so an unconfirmed
// outcome is visible; it advances to listed only on confirmation.
func (s *Service) List(ctx context.Context, seller ledger.Signer, input ListInput) (escrow.Record, error) {
	if seller == nil {
		return escrow.Record{}, ledger.ErrNotConnected
	}

	contentRef := input.Document.ContentURI
	if contentRef == "" && s.content != nil {
		input.Document.AssetID = input.AssetMint.String()
		uri, err := s.content.PinJSON(ctx, input.Document.ToDocument(), input.Document.Title)
		if err != nil {
			return escrow.Record{}, fmt.Errorf("pin listing document: %w", err)
		}
		contentRef = uri
	}

	tx, seed, err := s.builder.BuildListing(ctx, ledger.ListIntent{
		Seller:            seller.PublicKey(),
		AssetMint:         input.AssetMint,
		SettlementMint:    input.SettlementMint,
		InitializerAmount: input.InitializerAmount,
		TakerAmount:       input.TakerAmount,
		ContentRef:        contentRef,
		Price:             input.Price,
		FeeRecipient:      input.FeeRecipient,
	})
	if err != nil {
		return escrow.Record{}, err
	}

	rec, err := s.sales.CreateSaleRequest(ctx, escrow.Record{
		Seed:              seed,
		Initializer:       seller.PublicKey().String(),
		AssetMint:         input.AssetMint.String(),
		SettlementMint:    input.SettlementMint.String(),
		InitializerAmount: input.InitializerAmount,
		TakerAmount:       input.TakerAmount,
		ContentRef:        contentRef,
		Price:             input.Price,
		Status:            escrow.StatusPending,
	})
	if err != nil {
		return escrow.Record{}, fmt.Errorf("persist sale request: %w", err)
	}

	if s.meta != nil && input.Document.Title != "" {
		doc := input.Document
		doc.AssetID = input.AssetMint.String()
		doc.ContentURI = contentRef
		doc.UpdatedAt = time.Now().UTC()
		if _, err := s.meta.PutMetadata(ctx, doc); err != nil {
			s.log.WithError(err).Warn("persist metadata mirror")
		}
	}

	return s.submit(ctx, rec, tx, seller, "listing", escrow.EventListingConfirmed)
}

// Purchase builds and submits the exchange transaction for a listed escrow.
func (s *Service) Purchase(ctx context.Context, buyer ledger.Signer, seed uint64) (escrow.Record, error) {
	if buyer == nil {
		return escrow.Record{}, ledger.ErrNotConnected
	}

	rec, err := s.sales.GetSaleRequestBySeed(ctx, seed)
	if err != nil {
		return escrow.Record{}, fmt.Errorf("load sale request for seed %d: %w", seed, err)
	}
	if rec.Status != escrow.StatusListed {
		return rec, fmt.Errorf("%w: purchase on %s", escrow.ErrInvalidTransition, rec.Status)
	}

	tx, err := s.builder.BuildExchange(ctx, ledger.ExchangeIntent{
		Buyer: buyer.PublicKey(),
		Seed:  seed,
	})
	if err != nil {
		return rec, err
	}

	rec.Counterparty = buyer.PublicKey().String()
	return s.submit(ctx, rec, tx, buyer, "exchange", escrow.EventExchangeConfirmed)
}

// ConfirmDelivery settles a matched escrow. Privileged; the builder enforces
// the admin gate.
func (s *Service) ConfirmDelivery(ctx context.Context, admin ledger.Signer, seed uint64) (escrow.Record, error) {
	if admin == nil {
		return escrow.Record{}, ledger.ErrNotConnected
	}

	rec, err := s.sales.GetSaleRequestBySeed(ctx, seed)
	if err != nil {
		return escrow.Record{}, fmt.Errorf("load sale request for seed %d: %w", seed, err)
	}

	tx, err := s.builder.BuildConfirmDelivery(ctx, ledger.ConfirmDeliveryIntent{
		Admin: admin.PublicKey(),
		Seed:  seed,
	})
	if err != nil {
		return rec, err
	}
	return s.submit(ctx, rec, tx, admin, "confirm_delivery", escrow.EventDeliveryConfirmed)
}

// Cancel returns a listed escrow's asset to the seller.
func (s *Service) Cancel(ctx context.Context, seller ledger.Signer, seed uint64) (escrow.Record, error) {
	if seller == nil {
		return escrow.Record{}, ledger.ErrNotConnected
	}

	rec, err := s.sales.GetSaleRequestBySeed(ctx, seed)
	if err != nil {
		return escrow.Record{}, fmt.Errorf("load sale request for seed %d: %w", seed, err)
	}

	tx, err := s.builder.BuildCancel(ctx, ledger.CancelIntent{
		Seller: seller.PublicKey(),
		Seed:   seed,
	})
	if err != nil {
		return rec, err
	}
	return s.submit(ctx, rec, tx, seller, "cancel", escrow.EventCancelConfirmed)
}

// Get returns one sale request by escrow seed.
func (s *Service) Get(ctx context.Context, seed uint64) (escrow.Record, error) {
	return s.sales.GetSaleRequestBySeed(ctx, seed)
}

// ListAll returns all sale requests.
func (s *Service) ListAll(ctx context.Context) ([]escrow.Record, error) {
	return s.sales.ListSaleRequests(ctx)
}

// submit signs, sends and blocks on confirmation, then advances the record's
// lifecycle machine. On a confirmation timeout the record keeps its last
// confirmed state and the signature is recorded: the outcome is unconfirmed,
// not failed, and a later reconcile pass settles it.
func (s *Service) submit(ctx context.Context, rec escrow.Record, tx *ledger.Transaction, signer ledger.Signer, intent string, event escrow.Event) (escrow.Record, error) {
	start := time.Now()
	sig, err := s.client.SendAndConfirm(ctx, tx, signer)
	if err != nil {
		if errors.Is(err, ledger.ErrConfirmationTimeout) {
			metrics.RecordTransaction(intent, "unconfirmed", time.Since(start))
			rec = s.recordSignature(ctx, rec, intent, sig)
			s.log.WithField("seed", rec.Seed).
				WithField("signature", sig).
				Warn("transaction unconfirmed, state held until reconcile")
			return rec, fmt.Errorf("%s unconfirmed: %w", intent, err)
		}
		metrics.RecordTransaction(intent, "failed", time.Since(start))
		return rec, err
	}
	metrics.RecordTransaction(intent, "confirmed", time.Since(start))

	machine := escrow.NewMachine(rec.Status)
	next, err := machine.Apply(event)
	if err != nil {
		return rec, err
	}
	rec.Status = next
	switch event {
	case escrow.EventListingConfirmed:
		rec.ListingTx = sig
	case escrow.EventExchangeConfirmed, escrow.EventDeliveryConfirmed, escrow.EventCancelConfirmed:
		rec.SettlementTx = sig
	}

	updated, err := s.sales.UpdateSaleRequest(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("persist %s outcome: %w", intent, err)
	}
	s.log.WithField("seed", updated.Seed).
		WithField("status", string(updated.Status)).
		WithField("signature", sig).
		Info("escrow advanced")
	return updated, nil
}

func (s *Service) recordSignature(ctx context.Context, rec escrow.Record, intent, sig string) escrow.Record {
	if sig == "" {
		return rec
	}
	if intent == "listing" {
		rec.ListingTx = sig
	} else {
		rec.SettlementTx = sig
	}
	if updated, err := s.sales.UpdateSaleRequest(ctx, rec); err == nil {
		return updated
	}
	return rec
}
