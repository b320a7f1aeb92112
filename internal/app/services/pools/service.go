// Package pools manages fractional-pool records: funding purchases and the
// two lifecycle axes, driven only by confirmed facts.
package pools

import (
	"context"
	"fmt"

	"github.com/vaulted-markets/orchestrator/internal/domain/pool"
	"github.com/vaulted-markets/orchestrator/internal/storage"
	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// Service manages fractional pool records.
type Service struct {
	store storage.PoolStore
	log   *logger.Logger
}

// New constructs a pool service.
func New(store storage.PoolStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("pools")
	}
	return &Service{store: store, log: log}
}

// Create validates and persists a new pool, open for funding.
func (s *Service) Create(ctx context.Context, rec pool.Record) (pool.Record, error) {
	if rec.Status == "" {
		rec.Status = pool.StatusOpen
	}
	if rec.TokenStatus == "" {
		rec.TokenStatus = pool.TokenPending
	}
	if err := rec.Validate(); err != nil {
		return pool.Record{}, err
	}

	created, err := s.store.CreatePool(ctx, rec)
	if err != nil {
		return pool.Record{}, err
	}
	s.log.WithField("pool_id", created.ID).
		WithField("total_shares", created.TotalShares).
		Info("pool created")
	return created, nil
}

// Get returns one pool.
func (s *Service) Get(ctx context.Context, id string) (pool.Record, error) {
	return s.store.GetPool(ctx, id)
}

// List returns all pools.
func (s *Service) List(ctx context.Context) ([]pool.Record, error) {
	return s.store.ListPools(ctx)
}

// Purchase records a confirmed share purchase. Share bounds hold after every
// purchase; a fully funded pool advances to filled.
func (s *Service) Purchase(ctx context.Context, poolID string, shares uint64) (pool.Record, error) {
	rec, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return pool.Record{}, fmt.Errorf("load pool %s: %w", poolID, err)
	}

	if err := rec.RecordPurchase(shares); err != nil {
		return rec, err
	}
	if rec.Filled() && rec.Status == pool.StatusOpen {
		if err := rec.AdvanceFunding(pool.EventFilled); err != nil {
			return rec, err
		}
	}

	updated, err := s.store.UpdatePool(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("persist purchase: %w", err)
	}
	s.log.WithField("pool_id", poolID).
		WithField("shares", shares).
		WithField("percent_filled", fmt.Sprintf("%.1f", updated.PercentFilled())).
		Info("shares purchased")
	return updated, nil
}

// ApplyFundingEvent advances the funding axis on a confirmed event.
func (s *Service) ApplyFundingEvent(ctx context.Context, poolID string, event pool.FundingEvent) (pool.Record, error) {
	rec, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return pool.Record{}, fmt.Errorf("load pool %s: %w", poolID, err)
	}
	if err := rec.AdvanceFunding(event); err != nil {
		return rec, err
	}

	updated, err := s.store.UpdatePool(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("persist funding event: %w", err)
	}
	s.log.WithField("pool_id", poolID).
		WithField("event", string(event)).
		WithField("status", string(updated.Status)).
		Info("pool funding advanced")
	return updated, nil
}

// ApplyTokenEvent advances the tokenization axis on a confirmed event.
// TokenMint must be set before the minted event.
func (s *Service) ApplyTokenEvent(ctx context.Context, poolID string, event pool.TokenEvent, tokenMint string) (pool.Record, error) {
	rec, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return pool.Record{}, fmt.Errorf("load pool %s: %w", poolID, err)
	}
	if tokenMint != "" {
		rec.TokenMint = tokenMint
	}
	if err := rec.AdvanceToken(event); err != nil {
		return rec, err
	}

	updated, err := s.store.UpdatePool(ctx, rec)
	if err != nil {
		return rec, fmt.Errorf("persist token event: %w", err)
	}
	s.log.WithField("pool_id", poolID).
		WithField("event", string(event)).
		WithField("token_status", string(updated.TokenStatus)).
		Info("pool token axis advanced")
	return updated, nil
}
