// Package memory provides a thread-safe in-memory implementation of the
// storage interfaces, intended for tests and prototyping.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaulted-markets/orchestrator/internal/domain/escrow"
	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/domain/pool"
	"github.com/vaulted-markets/orchestrator/internal/domain/request"
	"github.com/vaulted-markets/orchestrator/internal/storage"
)

// Store is an in-memory record store.
type Store struct {
	mu       sync.RWMutex
	sales    map[string]escrow.Record
	pools    map[string]pool.Record
	meta     []metadata.Record
	mints    map[string]request.MintRequest
	delists  map[string]request.DelistRequest
}

var _ storage.SaleRequestStore = (*Store)(nil)
var _ storage.PoolStore = (*Store)(nil)
var _ storage.MetadataStore = (*Store)(nil)
var _ storage.RequestStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		sales:   make(map[string]escrow.Record),
		pools:   make(map[string]pool.Record),
		mints:   make(map[string]request.MintRequest),
		delists: make(map[string]request.DelistRequest),
	}
}

// SaleRequestStore implementation ---------------------------------------------

func (s *Store) CreateSaleRequest(_ context.Context, rec escrow.Record) (escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if _, exists := s.sales[rec.ID]; exists {
		return escrow.Record{}, fmt.Errorf("sale request %s already exists", rec.ID)
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.sales[rec.ID] = rec
	return rec, nil
}

func (s *Store) UpdateSaleRequest(_ context.Context, rec escrow.Record) (escrow.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sales[rec.ID]
	if !ok {
		return escrow.Record{}, storage.ErrNotFound
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.sales[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetSaleRequest(_ context.Context, id string) (escrow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sales[id]
	if !ok {
		return escrow.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetSaleRequestBySeed(_ context.Context, seed uint64) (escrow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.sales {
		if rec.Seed == seed {
			return rec, nil
		}
	}
	return escrow.Record{}, storage.ErrNotFound
}

func (s *Store) GetSaleRequestByAsset(_ context.Context, assetID string) (escrow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found escrow.Record
	var ok bool
	for _, rec := range s.sales {
		if rec.AssetMint == assetID {
			if !ok || rec.UpdatedAt.After(found.UpdatedAt) {
				found = rec
				ok = true
			}
		}
	}
	if !ok {
		return escrow.Record{}, storage.ErrNotFound
	}
	return found, nil
}

func (s *Store) ListSaleRequests(_ context.Context) ([]escrow.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]escrow.Record, 0, len(s.sales))
	for _, rec := range s.sales {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PoolStore implementation ----------------------------------------------------

func (s *Store) CreatePool(_ context.Context, rec pool.Record) (pool.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	} else if _, exists := s.pools[rec.ID]; exists {
		return pool.Record{}, fmt.Errorf("pool %s already exists", rec.ID)
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.pools[rec.ID] = rec
	return rec, nil
}

func (s *Store) UpdatePool(_ context.Context, rec pool.Record) (pool.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.pools[rec.ID]
	if !ok {
		return pool.Record{}, storage.ErrNotFound
	}
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	s.pools[rec.ID] = rec
	return rec, nil
}

func (s *Store) GetPool(_ context.Context, id string) (pool.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.pools[id]
	if !ok {
		return pool.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) ListPools(_ context.Context) ([]pool.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]pool.Record, 0, len(s.pools))
	for _, rec := range s.pools {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// MetadataStore implementation ------------------------------------------------

func (s *Store) PutMetadata(_ context.Context, rec metadata.Record) (metadata.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	s.meta = append(s.meta, rec)
	return rec, nil
}

func (s *Store) ListMetadataByAsset(_ context.Context, assetID string) ([]metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []metadata.Record
	for _, rec := range s.meta {
		if rec.AssetID == assetID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) ListMetadata(_ context.Context) ([]metadata.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]metadata.Record, len(s.meta))
	copy(out, s.meta)
	return out, nil
}

// RequestStore implementation -------------------------------------------------

func (s *Store) CreateMintRequest(_ context.Context, req request.MintRequest) (request.MintRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = request.StatusPending
	}
	s.mints[req.ID] = req
	return req, nil
}

func (s *Store) UpdateMintRequest(_ context.Context, req request.MintRequest) (request.MintRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mints[req.ID]
	if !ok {
		return request.MintRequest{}, storage.ErrNotFound
	}
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()
	s.mints[req.ID] = req
	return req, nil
}

func (s *Store) ListMintRequests(_ context.Context, status request.Status) ([]request.MintRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []request.MintRequest
	for _, req := range s.mints {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateDelistRequest(_ context.Context, req request.DelistRequest) (request.DelistRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	if req.Status == "" {
		req.Status = request.StatusPending
	}
	s.delists[req.ID] = req
	return req, nil
}

func (s *Store) UpdateDelistRequest(_ context.Context, req request.DelistRequest) (request.DelistRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.delists[req.ID]
	if !ok {
		return request.DelistRequest{}, storage.ErrNotFound
	}
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()
	s.delists[req.ID] = req
	return req, nil
}

func (s *Store) ListDelistRequests(_ context.Context, status request.Status) ([]request.DelistRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []request.DelistRequest
	for _, req := range s.delists {
		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
