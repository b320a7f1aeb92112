// Package escrow models one physical-asset listing held in trust and its
// lifecycle from listing to settlement or cancellation.
package escrow

import "time"

// Status is the lifecycle state of an escrow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusListed    Status = "listed"
	StatusMatched   Status = "matched"
	StatusDelivered Status = "delivered"
	StatusSettled   Status = "settled"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusCancelled
}

// rank orders statuses by lifecycle progress; used by the reconciler's
// more-advanced-state-wins rule.
var rank = map[Status]int{
	StatusPending:   0,
	StatusListed:    1,
	StatusMatched:   2,
	StatusDelivered: 3,
	StatusSettled:   4,
	StatusCancelled: 4,
}

// MoreAdvanced returns the further-progressed of a and b.
func MoreAdvanced(a, b Status) Status {
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// Record is one escrowed listing as persisted in the off-chain record store.
// The ledger's derived accounts remain authoritative for balances; the record
// mirrors them for querying.
type Record struct {
	ID                string    `json:"id"`
	Seed              uint64    `json:"seed"`               // derives the escrow's state and vault addresses
	Initializer       string    `json:"initializer"`        // seller account
	Counterparty      string    `json:"counterparty"`       // buyer account, empty until matched
	AssetMint         string    `json:"asset_mint"`         // non-fungible asset token
	SettlementMint    string    `json:"settlement_mint"`    // fungible settlement currency
	InitializerAmount uint64    `json:"initializer_amount"` // units locked by seller
	TakerAmount       uint64    `json:"taker_amount"`       // units owed by buyer
	ContentRef        string    `json:"content_ref"`        // content-store metadata reference
	Price             uint64    `json:"price"`
	Status            Status    `json:"status"`
	ListingTx         string    `json:"listing_tx,omitempty"`
	SettlementTx      string    `json:"settlement_tx,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
