// Package storage defines the repository interfaces for the off-chain record
// store. The orchestrator never owns ledger state; these records mirror it for
// querying and are reconciled against the ledger's accounts.
package storage

import (
	"context"
	"errors"

	"github.com/vaulted-markets/orchestrator/internal/domain/escrow"
	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/domain/pool"
	"github.com/vaulted-markets/orchestrator/internal/domain/request"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("record not found")

// SaleRequestStore persists escrow listing documents.
type SaleRequestStore interface {
	CreateSaleRequest(ctx context.Context, rec escrow.Record) (escrow.Record, error)
	UpdateSaleRequest(ctx context.Context, rec escrow.Record) (escrow.Record, error)
	GetSaleRequest(ctx context.Context, id string) (escrow.Record, error)
	GetSaleRequestBySeed(ctx context.Context, seed uint64) (escrow.Record, error)
	GetSaleRequestByAsset(ctx context.Context, assetID string) (escrow.Record, error)
	ListSaleRequests(ctx context.Context) ([]escrow.Record, error)
}

// PoolStore persists fractional pool records.
type PoolStore interface {
	CreatePool(ctx context.Context, rec pool.Record) (pool.Record, error)
	UpdatePool(ctx context.Context, rec pool.Record) (pool.Record, error)
	GetPool(ctx context.Context, id string) (pool.Record, error)
	ListPools(ctx context.Context) ([]pool.Record, error)
}

// MetadataStore persists descriptive-metadata mirrors. Records are append
// style: repeated edits add rows and the reconciler reads the newest per
// asset; older rows are never deleted here.
type MetadataStore interface {
	PutMetadata(ctx context.Context, rec metadata.Record) (metadata.Record, error)
	ListMetadataByAsset(ctx context.Context, assetID string) ([]metadata.Record, error)
	ListMetadata(ctx context.Context) ([]metadata.Record, error)
}

// RequestStore persists vendor mint and delist requests.
type RequestStore interface {
	CreateMintRequest(ctx context.Context, req request.MintRequest) (request.MintRequest, error)
	UpdateMintRequest(ctx context.Context, req request.MintRequest) (request.MintRequest, error)
	ListMintRequests(ctx context.Context, status request.Status) ([]request.MintRequest, error)

	CreateDelistRequest(ctx context.Context, req request.DelistRequest) (request.DelistRequest, error)
	UpdateDelistRequest(ctx context.Context, req request.DelistRequest) (request.DelistRequest, error)
	ListDelistRequests(ctx context.Context, status request.Status) ([]request.DelistRequest, error)
}
