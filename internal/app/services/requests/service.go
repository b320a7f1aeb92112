// Package requests runs the vendor workflow: mint and delist requests queued
// off-chain and executed on the ledger by an admin.
package requests

import (
	"context"
	"fmt"

	"github.com/vaulted-markets/orchestrator/internal/domain/request"
	"github.com/vaulted-markets/orchestrator/internal/ledger"
	"github.com/vaulted-markets/orchestrator/internal/storage"
	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// Service queues vendor requests and executes approved ones.
type Service struct {
	store   storage.RequestStore
	builder *ledger.Builder
	client  *ledger.Client
	log     *logger.Logger
}

// New constructs a requests service.
func New(store storage.RequestStore, builder *ledger.Builder, client *ledger.Client, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requests")
	}
	return &Service{
		store:   store,
		builder: builder,
		client:  client,
		log:     log,
	}
}

// SubmitMint queues a mint request for admin review.
func (s *Service) SubmitMint(ctx context.Context, vendor, assetID, contentRef string) (request.MintRequest, error) {
	if vendor == "" || assetID == "" {
		return request.MintRequest{}, fmt.Errorf("vendor and asset_id are required")
	}
	req := request.MintRequest{
		Vendor:     vendor,
		AssetID:    assetID,
		ContentRef: contentRef,
		Status:     request.StatusPending,
	}
	created, err := s.store.CreateMintRequest(ctx, req)
	if err != nil {
		return request.MintRequest{}, err
	}
	s.log.WithField("request_id", created.ID).
		WithField("vendor", vendor).
		Info("mint request queued")
	return created, nil
}

// ApproveMint executes a pending mint request on the ledger. The request
// reaches executed only once the mint transaction confirms.
func (s *Service) ApproveMint(ctx context.Context, admin ledger.Signer, requestID string) (request.MintRequest, error) {
	if admin == nil {
		return request.MintRequest{}, ledger.ErrNotConnected
	}

	req, err := s.findMint(ctx, requestID)
	if err != nil {
		return request.MintRequest{}, err
	}
	if req.Status != request.StatusPending {
		return req, fmt.Errorf("mint request %s is %s, not pending", requestID, req.Status)
	}

	vendor, err := ledger.AddressFromBase58(req.Vendor)
	if err != nil {
		return req, fmt.Errorf("vendor address: %w", err)
	}
	assetMint, err := ledger.AddressFromBase58(req.AssetID)
	if err != nil {
		return req, fmt.Errorf("asset mint: %w", err)
	}

	tx, err := s.builder.BuildMintAsset(ctx, ledger.MintIntent{
		Authority:  admin.PublicKey(),
		Recipient:  vendor,
		AssetMint:  assetMint,
		ContentRef: req.ContentRef,
	})
	if err != nil {
		return req, err
	}

	sig, err := s.client.SendAndConfirm(ctx, tx, admin)
	if err != nil {
		return req, fmt.Errorf("execute mint request %s: %w", requestID, err)
	}

	req.Status = request.StatusExecuted
	req.ExecutedTx = sig
	updated, err := s.store.UpdateMintRequest(ctx, req)
	if err != nil {
		return req, fmt.Errorf("persist mint outcome: %w", err)
	}
	s.log.WithField("request_id", requestID).
		WithField("signature", sig).
		Info("mint request executed")
	return updated, nil
}

// RejectMint marks a pending mint request rejected.
func (s *Service) RejectMint(ctx context.Context, requestID string) (request.MintRequest, error) {
	req, err := s.findMint(ctx, requestID)
	if err != nil {
		return request.MintRequest{}, err
	}
	if req.Status != request.StatusPending {
		return req, fmt.Errorf("mint request %s is %s, not pending", requestID, req.Status)
	}
	req.Status = request.StatusRejected
	return s.store.UpdateMintRequest(ctx, req)
}

// ListMint returns mint requests, optionally filtered by status.
func (s *Service) ListMint(ctx context.Context, status request.Status) ([]request.MintRequest, error) {
	return s.store.ListMintRequests(ctx, status)
}

// SubmitDelist queues a delist request for admin review.
func (s *Service) SubmitDelist(ctx context.Context, vendor, assetID string, seed uint64, reason string) (request.DelistRequest, error) {
	if vendor == "" || seed == 0 {
		return request.DelistRequest{}, fmt.Errorf("vendor and seed are required")
	}
	req := request.DelistRequest{
		Vendor:  vendor,
		AssetID: assetID,
		Seed:    seed,
		Reason:  reason,
		Status:  request.StatusPending,
	}
	created, err := s.store.CreateDelistRequest(ctx, req)
	if err != nil {
		return request.DelistRequest{}, err
	}
	s.log.WithField("request_id", created.ID).
		WithField("seed", seed).
		Info("delist request queued")
	return created, nil
}

// ApproveDelist approves a pending delist request. The actual cancel is the
// seller's transaction; approval authorizes the vendor to submit it.
func (s *Service) ApproveDelist(ctx context.Context, requestID string) (request.DelistRequest, error) {
	req, err := s.findDelist(ctx, requestID)
	if err != nil {
		return request.DelistRequest{}, err
	}
	if req.Status != request.StatusPending {
		return req, fmt.Errorf("delist request %s is %s, not pending", requestID, req.Status)
	}
	req.Status = request.StatusApproved
	return s.store.UpdateDelistRequest(ctx, req)
}

// RejectDelist marks a pending delist request rejected.
func (s *Service) RejectDelist(ctx context.Context, requestID string) (request.DelistRequest, error) {
	req, err := s.findDelist(ctx, requestID)
	if err != nil {
		return request.DelistRequest{}, err
	}
	if req.Status != request.StatusPending {
		return req, fmt.Errorf("delist request %s is %s, not pending", requestID, req.Status)
	}
	req.Status = request.StatusRejected
	return s.store.UpdateDelistRequest(ctx, req)
}

// ListDelist returns delist requests, optionally filtered by status.
func (s *Service) ListDelist(ctx context.Context, status request.Status) ([]request.DelistRequest, error) {
	return s.store.ListDelistRequests(ctx, status)
}

func (s *Service) findMint(ctx context.Context, requestID string) (request.MintRequest, error) {
	reqs, err := s.store.ListMintRequests(ctx, "")
	if err != nil {
		return request.MintRequest{}, err
	}
	for _, r := range reqs {
		if r.ID == requestID {
			return r, nil
		}
	}
	return request.MintRequest{}, fmt.Errorf("mint request %s: %w", requestID, storage.ErrNotFound)
}

func (s *Service) findDelist(ctx context.Context, requestID string) (request.DelistRequest, error) {
	reqs, err := s.store.ListDelistRequests(ctx, "")
	if err != nil {
		return request.DelistRequest{}, err
	}
	for _, r := range reqs {
		if r.ID == requestID {
			return r, nil
		}
	}
	return request.DelistRequest{}, fmt.Errorf("delist request %s: %w", requestID, storage.ErrNotFound)
}
