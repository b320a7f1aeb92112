// Package keystore hands out custodial signers derived from a master secret.
// Each user identity maps to a stable key; the master secret never leaves the
// process.
package keystore

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	"github.com/vaulted-markets/orchestrator/internal/ledger"
)

// Keystore resolves an authenticated identity to a transaction signer.
type Keystore interface {
	Signer(identity string) (ledger.Signer, error)
}

// Derived derives per-identity signing keys from one master secret.
type Derived struct {
	master []byte
}

// NewDerived creates a keystore over the master secret.
func NewDerived(master []byte) (*Derived, error) {
	if len(master) < 16 {
		return nil, fmt.Errorf("master secret too short")
	}
	return &Derived{master: master}, nil
}

var _ Keystore = (*Derived)(nil)

// Signer returns the signer for one identity. The same identity always yields
// the same key.
func (d *Derived) Signer(identity string) (ledger.Signer, error) {
	if identity == "" {
		return nil, ledger.ErrNotConnected
	}
	mac := hmac.New(sha256.New, d.master)
	mac.Write([]byte("signing-key:" + identity))
	return ledger.NewKeySigner(mac.Sum(nil)), nil
}
