// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/vaulted-markets/orchestrator/internal/domain/escrow"
	"github.com/vaulted-markets/orchestrator/internal/domain/metadata"
	"github.com/vaulted-markets/orchestrator/internal/domain/pool"
	"github.com/vaulted-markets/orchestrator/internal/domain/request"
	"github.com/vaulted-markets/orchestrator/internal/storage"
)

// Store implements the storage interfaces over a Postgres database.
type Store struct {
	db *sqlx.DB
}

var _ storage.SaleRequestStore = (*Store)(nil)
var _ storage.PoolStore = (*Store)(nil)
var _ storage.MetadataStore = (*Store)(nil)
var _ storage.RequestStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

// --- SaleRequestStore --------------------------------------------------------

type saleRow struct {
	ID                string    `db:"id"`
	Seed              int64     `db:"seed"`
	Initializer       string    `db:"initializer"`
	Counterparty      string    `db:"counterparty"`
	AssetMint         string    `db:"asset_mint"`
	SettlementMint    string    `db:"settlement_mint"`
	InitializerAmount int64     `db:"initializer_amount"`
	TakerAmount       int64     `db:"taker_amount"`
	ContentRef        string    `db:"content_ref"`
	Price             int64     `db:"price"`
	Status            string    `db:"status"`
	ListingTx         string    `db:"listing_tx"`
	SettlementTx      string    `db:"settlement_tx"`
	CreatedAt         time.Time `db:"created_at"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r saleRow) record() escrow.Record {
	return escrow.Record{
		ID:                r.ID,
		Seed:              uint64(r.Seed),
		Initializer:       r.Initializer,
		Counterparty:      r.Counterparty,
		AssetMint:         r.AssetMint,
		SettlementMint:    r.SettlementMint,
		InitializerAmount: uint64(r.InitializerAmount),
		TakerAmount:       uint64(r.TakerAmount),
		ContentRef:        r.ContentRef,
		Price:             uint64(r.Price),
		Status:            escrow.Status(r.Status),
		ListingTx:         r.ListingTx,
		SettlementTx:      r.SettlementTx,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

const saleColumns = `id, seed, initializer, counterparty, asset_mint, settlement_mint,
	initializer_amount, taker_amount, content_ref, price, status, listing_tx, settlement_tx,
	created_at, updated_at`

func (s *Store) CreateSaleRequest(ctx context.Context, rec escrow.Record) (escrow.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_requests (`+saleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, rec.ID, int64(rec.Seed), rec.Initializer, rec.Counterparty, rec.AssetMint, rec.SettlementMint,
		int64(rec.InitializerAmount), int64(rec.TakerAmount), rec.ContentRef, int64(rec.Price),
		string(rec.Status), rec.ListingTx, rec.SettlementTx, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return escrow.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdateSaleRequest(ctx context.Context, rec escrow.Record) (escrow.Record, error) {
	rec.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE sale_requests
		SET counterparty = $2, status = $3, listing_tx = $4, settlement_tx = $5, updated_at = $6
		WHERE id = $1
	`, rec.ID, rec.Counterparty, string(rec.Status), rec.ListingTx, rec.SettlementTx, rec.UpdatedAt)
	if err != nil {
		return escrow.Record{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return escrow.Record{}, err
	}
	if affected == 0 {
		return escrow.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetSaleRequest(ctx context.Context, id string) (escrow.Record, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+saleColumns+` FROM sale_requests WHERE id = $1`, id)
	if err != nil {
		return escrow.Record{}, notFound(err)
	}
	return row.record(), nil
}

func (s *Store) GetSaleRequestBySeed(ctx context.Context, seed uint64) (escrow.Record, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `SELECT `+saleColumns+` FROM sale_requests WHERE seed = $1`, int64(seed))
	if err != nil {
		return escrow.Record{}, notFound(err)
	}
	return row.record(), nil
}

func (s *Store) GetSaleRequestByAsset(ctx context.Context, assetID string) (escrow.Record, error) {
	var row saleRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+saleColumns+` FROM sale_requests
		WHERE asset_mint = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, assetID)
	if err != nil {
		return escrow.Record{}, notFound(err)
	}
	return row.record(), nil
}

func (s *Store) ListSaleRequests(ctx context.Context) ([]escrow.Record, error) {
	var rows []saleRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+saleColumns+` FROM sale_requests ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	out := make([]escrow.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// --- PoolStore ---------------------------------------------------------------

type poolRow struct {
	ID                  string    `db:"id"`
	AssetID             string    `db:"asset_id"`
	TotalShares         int64     `db:"total_shares"`
	SharesSold          int64     `db:"shares_sold"`
	SharePriceUSD       float64   `db:"share_price_usd"`
	TargetAmountUSD     float64   `db:"target_amount_usd"`
	MinBuyInUSD         float64   `db:"min_buy_in_usd"`
	Status              string    `db:"status"`
	TokenMint           string    `db:"token_mint"`
	TokenStatus         string    `db:"token_status"`
	LiquidityModel      string    `db:"liquidity_model"`
	AMMLiquidityPercent float64   `db:"amm_liquidity_percent"`
	CustodyTx           string    `db:"custody_tx"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (r poolRow) record() pool.Record {
	return pool.Record{
		ID:                  r.ID,
		AssetID:             r.AssetID,
		TotalShares:         uint64(r.TotalShares),
		SharesSold:          uint64(r.SharesSold),
		SharePriceUSD:       r.SharePriceUSD,
		TargetAmountUSD:     r.TargetAmountUSD,
		MinBuyInUSD:         r.MinBuyInUSD,
		Status:              pool.Status(r.Status),
		TokenMint:           r.TokenMint,
		TokenStatus:         pool.TokenStatus(r.TokenStatus),
		LiquidityModel:      pool.LiquidityModel(r.LiquidityModel),
		AMMLiquidityPercent: r.AMMLiquidityPercent,
		CustodyTx:           r.CustodyTx,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
}

const poolColumns = `id, asset_id, total_shares, shares_sold, share_price_usd, target_amount_usd,
	min_buy_in_usd, status, token_mint, token_status, liquidity_model, amm_liquidity_percent,
	custody_tx, created_at, updated_at`

func (s *Store) CreatePool(ctx context.Context, rec pool.Record) (pool.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pools (`+poolColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, rec.ID, rec.AssetID, int64(rec.TotalShares), int64(rec.SharesSold), rec.SharePriceUSD,
		rec.TargetAmountUSD, rec.MinBuyInUSD, string(rec.Status), rec.TokenMint,
		string(rec.TokenStatus), string(rec.LiquidityModel), rec.AMMLiquidityPercent,
		rec.CustodyTx, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return pool.Record{}, err
	}
	return rec, nil
}

func (s *Store) UpdatePool(ctx context.Context, rec pool.Record) (pool.Record, error) {
	rec.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE pools
		SET shares_sold = $2, status = $3, token_mint = $4, token_status = $5,
			custody_tx = $6, updated_at = $7
		WHERE id = $1
	`, rec.ID, int64(rec.SharesSold), string(rec.Status), rec.TokenMint,
		string(rec.TokenStatus), rec.CustodyTx, rec.UpdatedAt)
	if err != nil {
		return pool.Record{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return pool.Record{}, err
	}
	if affected == 0 {
		return pool.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) GetPool(ctx context.Context, id string) (pool.Record, error) {
	var row poolRow
	err := s.db.GetContext(ctx, &row, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, id)
	if err != nil {
		return pool.Record{}, notFound(err)
	}
	return row.record(), nil
}

func (s *Store) ListPools(ctx context.Context) ([]pool.Record, error) {
	var rows []poolRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+poolColumns+` FROM pools ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	out := make([]pool.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// --- MetadataStore -----------------------------------------------------------

type metadataRow struct {
	ID           string    `db:"id"`
	AssetID      string    `db:"asset_id"`
	Title        string    `db:"title"`
	Description  string    `db:"description"`
	PriceUSD     float64   `db:"price_usd"`
	MarketStatus string    `db:"market_status"`
	CurrentOwner string    `db:"current_owner"`
	Provenance   string    `db:"provenance"`
	ContentURI   string    `db:"content_uri"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r metadataRow) record() metadata.Record {
	return metadata.Record{
		ID:           r.ID,
		AssetID:      r.AssetID,
		Title:        r.Title,
		Description:  r.Description,
		PriceUSD:     r.PriceUSD,
		MarketStatus: r.MarketStatus,
		CurrentOwner: r.CurrentOwner,
		Provenance:   r.Provenance,
		ContentURI:   r.ContentURI,
		UpdatedAt:    r.UpdatedAt,
	}
}

const metadataColumns = `id, asset_id, title, description, price_usd, market_status,
	current_owner, provenance, content_uri, updated_at`

func (s *Store) PutMetadata(ctx context.Context, rec metadata.Record) (metadata.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata_records (`+metadataColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.AssetID, rec.Title, rec.Description, rec.PriceUSD, rec.MarketStatus,
		rec.CurrentOwner, rec.Provenance, rec.ContentURI, rec.UpdatedAt)
	if err != nil {
		return metadata.Record{}, err
	}
	return rec, nil
}

func (s *Store) ListMetadataByAsset(ctx context.Context, assetID string) ([]metadata.Record, error) {
	var rows []metadataRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+metadataColumns+` FROM metadata_records WHERE asset_id = $1 ORDER BY updated_at
	`, assetID)
	if err != nil {
		return nil, err
	}
	out := make([]metadata.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

func (s *Store) ListMetadata(ctx context.Context) ([]metadata.Record, error) {
	var rows []metadataRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+metadataColumns+` FROM metadata_records ORDER BY updated_at`)
	if err != nil {
		return nil, err
	}
	out := make([]metadata.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.record())
	}
	return out, nil
}

// --- RequestStore ------------------------------------------------------------

func (s *Store) CreateMintRequest(ctx context.Context, req request.MintRequest) (request.MintRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = request.StatusPending
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mint_requests (id, vendor, asset_id, content_ref, status, executed_tx, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.Vendor, req.AssetID, req.ContentRef, string(req.Status), req.ExecutedTx, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return request.MintRequest{}, err
	}
	return req, nil
}

func (s *Store) UpdateMintRequest(ctx context.Context, req request.MintRequest) (request.MintRequest, error) {
	req.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE mint_requests SET status = $2, executed_tx = $3, updated_at = $4 WHERE id = $1
	`, req.ID, string(req.Status), req.ExecutedTx, req.UpdatedAt)
	if err != nil {
		return request.MintRequest{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return request.MintRequest{}, err
	}
	if affected == 0 {
		return request.MintRequest{}, storage.ErrNotFound
	}
	return req, nil
}

func (s *Store) ListMintRequests(ctx context.Context, status request.Status) ([]request.MintRequest, error) {
	query := `SELECT id, vendor, asset_id, content_ref, status, executed_tx, created_at, updated_at
		FROM mint_requests`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	var out []request.MintRequest
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var req request.MintRequest
		var st string
		if err := rows.Scan(&req.ID, &req.Vendor, &req.AssetID, &req.ContentRef, &st, &req.ExecutedTx, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		req.Status = request.Status(st)
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) CreateDelistRequest(ctx context.Context, req request.DelistRequest) (request.DelistRequest, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = request.StatusPending
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delist_requests (id, vendor, asset_id, seed, reason, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, req.ID, req.Vendor, req.AssetID, int64(req.Seed), req.Reason, string(req.Status), req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return request.DelistRequest{}, err
	}
	return req, nil
}

func (s *Store) UpdateDelistRequest(ctx context.Context, req request.DelistRequest) (request.DelistRequest, error) {
	req.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
		UPDATE delist_requests SET status = $2, updated_at = $3 WHERE id = $1
	`, req.ID, string(req.Status), req.UpdatedAt)
	if err != nil {
		return request.DelistRequest{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return request.DelistRequest{}, err
	}
	if affected == 0 {
		return request.DelistRequest{}, storage.ErrNotFound
	}
	return req, nil
}

func (s *Store) ListDelistRequests(ctx context.Context, status request.Status) ([]request.DelistRequest, error) {
	query := `SELECT id, vendor, asset_id, seed, reason, status, created_at, updated_at
		FROM delist_requests`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at`

	var out []request.DelistRequest
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var req request.DelistRequest
		var st string
		var seed int64
		if err := rows.Scan(&req.ID, &req.Vendor, &req.AssetID, &seed, &req.Reason, &st, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		req.Seed = uint64(seed)
		req.Status = request.Status(st)
		out = append(out, req)
	}
	return out, rows.Err()
}
