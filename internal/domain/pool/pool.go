// Package pool models a fractional-ownership vehicle over one asset: a
// funding lifecycle, an independent tokenization axis and share accounting.
package pool

import (
	"errors"
	"fmt"
	"time"
)

// Status is the funding-axis state of a pool.
type Status string

const (
	StatusOpen        Status = "open"
	StatusFilled      Status = "filled"
	StatusFunded      Status = "funded"
	StatusCustody     Status = "custody"
	StatusActive      Status = "active"
	StatusGraduated   Status = "graduated"
	StatusListed      Status = "listed"
	StatusSold        Status = "sold"
	StatusDistributed Status = "distributed"
	StatusClosed      Status = "closed"
)

// Terminal reports whether the funding axis permits no further share
// transfers.
func (s Status) Terminal() bool {
	return s == StatusSold || s == StatusDistributed || s == StatusClosed
}

// TokenStatus is the tokenization-axis state, independent of funding.
type TokenStatus string

const (
	TokenPending  TokenStatus = "pending"
	TokenMinted   TokenStatus = "minted"
	TokenUnlocked TokenStatus = "unlocked"
	TokenFrozen   TokenStatus = "frozen"
	TokenBurned   TokenStatus = "burned"
)

// LiquidityModel selects how pool shares trade on the secondary market.
type LiquidityModel string

const (
	LiquidityP2P    LiquidityModel = "p2p"
	LiquidityAMM    LiquidityModel = "amm"
	LiquidityHybrid LiquidityModel = "hybrid"
)

// Errors
var (
	ErrShareBounds       = errors.New("share bounds violated")
	ErrPoolTerminal      = errors.New("pool is terminal")
	ErrTradingLocked     = errors.New("trading locked: pool token not unlocked")
	ErrInvalidTransition = errors.New("invalid pool transition")
)

// Record is one fractional pool as persisted in the off-chain record store.
type Record struct {
	ID                  string         `json:"id"`
	AssetID             string         `json:"asset_id"`
	TotalShares         uint64         `json:"total_shares"`
	SharesSold          uint64         `json:"shares_sold"`
	SharePriceUSD       float64        `json:"share_price_usd"`
	TargetAmountUSD     float64        `json:"target_amount_usd"`
	MinBuyInUSD         float64        `json:"min_buy_in_usd"`
	Status              Status         `json:"status"`
	TokenMint           string         `json:"token_mint,omitempty"` // set once shares are minted
	TokenStatus         TokenStatus    `json:"token_status"`
	LiquidityModel      LiquidityModel `json:"liquidity_model"`
	AMMLiquidityPercent float64        `json:"amm_liquidity_percent,omitempty"`
	CustodyTx           string         `json:"custody_tx,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Validate checks the record's structural invariants.
func (r *Record) Validate() error {
	if r.TotalShares == 0 {
		return fmt.Errorf("%w: total shares must be positive", ErrShareBounds)
	}
	if r.SharesSold > r.TotalShares {
		return fmt.Errorf("%w: sold %d of %d", ErrShareBounds, r.SharesSold, r.TotalShares)
	}
	if r.LiquidityModel == LiquidityAMM || r.LiquidityModel == LiquidityHybrid {
		if r.AMMLiquidityPercent < 0 || r.AMMLiquidityPercent > 100 {
			return fmt.Errorf("amm liquidity percent out of range: %v", r.AMMLiquidityPercent)
		}
	}
	return nil
}

// PercentFilled returns funding progress in [0, 100].
func (r *Record) PercentFilled() float64 {
	if r.TotalShares == 0 {
		return 0
	}
	return 100 * float64(r.SharesSold) / float64(r.TotalShares)
}

// FundedUSD returns the dollar value of sold shares.
func (r *Record) FundedUSD() float64 {
	return float64(r.SharesSold) * r.SharePriceUSD
}

// Filled reports whether every share is sold.
func (r *Record) Filled() bool {
	return r.SharesSold == r.TotalShares
}

// TradingAllowed reports whether secondary-market trading of pool shares is
// permitted: a token mint exists and the tokenization axis is unlocked.
func (r *Record) TradingAllowed() bool {
	return r.TokenMint != "" && r.TokenStatus == TokenUnlocked
}

// RecordPurchase applies a confirmed share purchase of n shares.
func (r *Record) RecordPurchase(n uint64) error {
	if r.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrPoolTerminal, r.Status)
	}
	if r.Status != StatusOpen {
		return fmt.Errorf("%w: purchase on %s pool", ErrInvalidTransition, r.Status)
	}
	if n == 0 {
		return fmt.Errorf("%w: zero shares", ErrShareBounds)
	}
	if r.SharesSold+n > r.TotalShares {
		return fmt.Errorf("%w: %d + %d exceeds %d", ErrShareBounds, r.SharesSold, n, r.TotalShares)
	}
	r.SharesSold += n
	return nil
}
