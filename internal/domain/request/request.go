// Package request models the off-chain mint and delist request documents the
// vendor workflow queues for admin action.
package request

import "time"

// Status is the lifecycle state of a vendor request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
)

// MintRequest asks the platform to mint an authenticated asset token for a
// vendor.
type MintRequest struct {
	ID         string    `json:"id"`
	Vendor     string    `json:"vendor"`
	AssetID    string    `json:"asset_id"`
	ContentRef string    `json:"content_ref"`
	Status     Status    `json:"status"`
	ExecutedTx string    `json:"executed_tx,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DelistRequest asks the platform to remove a listing and return the asset.
type DelistRequest struct {
	ID        string    `json:"id"`
	Vendor    string    `json:"vendor"`
	AssetID   string    `json:"asset_id"`
	Seed      uint64    `json:"seed"`
	Reason    string    `json:"reason,omitempty"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
