package pool

import "fmt"

// FundingEvent drives the funding axis. Every event corresponds to an
// externally verified fact, never a local guess.
type FundingEvent string

const (
	// EventFilled fires when sharesSold reaches totalShares.
	EventFilled FundingEvent = "filled"
	// EventFundsSwept fires when pooled funds land in the custody account.
	EventFundsSwept FundingEvent = "funds_swept"
	// EventCustodyVerified fires when physical custody of the asset is
	// externally verified.
	EventCustodyVerified FundingEvent = "custody_verified"
	// EventActivated fires when the pool is made visible for distribution events.
	EventActivated FundingEvent = "activated"
	// EventGraduated fires when the pool moves to open-market liquidity.
	EventGraduated FundingEvent = "graduated"
	// EventAssetListed fires when the underlying asset is listed for resale.
	EventAssetListed FundingEvent = "asset_listed"
	// EventAssetSold fires when the underlying asset sale settles.
	EventAssetSold FundingEvent = "asset_sold"
	// EventDistributed fires when sale proceeds are disbursed pro-rata.
	EventDistributed FundingEvent = "distributed"
	// EventClosed fires when the pool is wound down.
	EventClosed FundingEvent = "closed"
)

var fundingTransitions = map[Status]map[FundingEvent]Status{
	StatusOpen: {
		EventFilled: StatusFilled,
	},
	StatusFilled: {
		EventFundsSwept: StatusFunded,
	},
	StatusFunded: {
		EventCustodyVerified: StatusCustody,
	},
	StatusCustody: {
		EventActivated: StatusActive,
	},
	StatusActive: {
		EventGraduated:   StatusGraduated,
		EventAssetListed: StatusListed,
	},
	StatusGraduated: {
		EventAssetListed: StatusListed,
	},
	StatusListed: {
		EventAssetSold: StatusSold,
	},
	StatusSold: {
		EventDistributed: StatusDistributed,
	},
	StatusDistributed: {
		EventClosed: StatusClosed,
	},
}

// TokenEvent drives the tokenization axis.
type TokenEvent string

const (
	// EventTokenMinted fires when pool shares are minted as a tradeable token.
	EventTokenMinted TokenEvent = "token_minted"
	// EventTokenUnlocked fires once custody of the physical asset is verified.
	EventTokenUnlocked TokenEvent = "token_unlocked"
	// EventTokenFrozen fires on administrative freeze.
	EventTokenFrozen TokenEvent = "token_frozen"
	// EventTokenThawed fires when an administrative freeze is lifted.
	EventTokenThawed TokenEvent = "token_thawed"
	// EventTokenBurned fires after the asset is resold and proceeds distributed.
	EventTokenBurned TokenEvent = "token_burned"
)

var tokenTransitions = map[TokenStatus]map[TokenEvent]TokenStatus{
	TokenPending: {
		EventTokenMinted: TokenMinted,
	},
	TokenMinted: {
		EventTokenUnlocked: TokenUnlocked,
	},
	TokenUnlocked: {
		EventTokenFrozen: TokenFrozen,
		EventTokenBurned: TokenBurned,
	},
	TokenFrozen: {
		EventTokenThawed: TokenUnlocked,
		EventTokenBurned: TokenBurned,
	},
}

// AdvanceFunding applies a funding-axis event to the record.
func (r *Record) AdvanceFunding(event FundingEvent) error {
	next, ok := fundingTransitions[r.Status][event]
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, r.Status)
	}
	if event == EventFilled && !r.Filled() {
		return fmt.Errorf("%w: filled with %d of %d shares sold", ErrInvalidTransition, r.SharesSold, r.TotalShares)
	}
	r.Status = next
	return nil
}

// AdvanceToken applies a tokenization-axis event to the record. Minting
// requires the mint address to already be recorded.
func (r *Record) AdvanceToken(event TokenEvent) error {
	status := r.TokenStatus
	if status == "" {
		status = TokenPending
	}
	next, ok := tokenTransitions[status][event]
	if !ok {
		return fmt.Errorf("%w: %s on token status %s", ErrInvalidTransition, event, status)
	}
	if event == EventTokenMinted && r.TokenMint == "" {
		return fmt.Errorf("%w: minted without a token mint", ErrInvalidTransition)
	}
	r.TokenStatus = next
	return nil
}
