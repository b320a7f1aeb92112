package ledger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// Signer is the capability interface for transaction signing. It replaces any
// ad hoc duck-typed wallet object: implementations are injected, never probed
// for optional methods at call sites.
type Signer interface {
	// PublicKey returns the signing account's address.
	PublicKey() Address
	// SignTransaction appends this signer's signature to the transaction.
	SignTransaction(ctx context.Context, tx *Transaction) error
}

// KeySigner signs with a locally held secret. Intended for service-owned
// authorities (fee treasury, restricted-transfer authority); end-user
// transactions are signed by the user's own wallet implementation of Signer.
type KeySigner struct {
	pub    Address
	secret []byte
}

// NewKeySigner creates a signer from a secret key. The public address is
// derived from the secret.
func NewKeySigner(secret []byte) *KeySigner {
	sum := sha256.Sum256(secret)
	var pub Address
	copy(pub[:], sum[:])
	// Derived addresses reserve a zero leading byte.
	if pub[0] == 0 {
		pub[0] = 1
	}
	return &KeySigner{pub: pub, secret: secret}
}

// PublicKey returns the signer's address.
func (s *KeySigner) PublicKey() Address {
	return s.pub
}

// SignTransaction appends an HMAC signature over the serialized transaction.
func (s *KeySigner) SignTransaction(_ context.Context, tx *Transaction) error {
	raw, err := tx.Serialize()
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(raw)
	tx.Signatures = append(tx.Signatures, base58.Encode(mac.Sum(nil)))
	return nil
}
