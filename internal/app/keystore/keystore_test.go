package keystore

import (
	"errors"
	"testing"

	"github.com/vaulted-markets/orchestrator/internal/ledger"
)

func TestDerivedSignerIsStablePerIdentity(t *testing.T) {
	ks, err := NewDerived([]byte("master-secret-0123456789abcdef"))
	if err != nil {
		t.Fatalf("new keystore: %v", err)
	}

	first, err := ks.Signer("alice")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	second, err := ks.Signer("alice")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if first.PublicKey() != second.PublicKey() {
		t.Fatal("same identity produced different keys")
	}

	other, err := ks.Signer("bob")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if other.PublicKey() == first.PublicKey() {
		t.Fatal("distinct identities produced the same key")
	}
}

func TestDerivedRejectsShortSecret(t *testing.T) {
	if _, err := NewDerived([]byte("short")); err == nil {
		t.Fatal("expected short master secret to be rejected")
	}
}

func TestDerivedRejectsEmptyIdentity(t *testing.T) {
	ks, err := NewDerived([]byte("master-secret-0123456789abcdef"))
	if err != nil {
		t.Fatalf("new keystore: %v", err)
	}
	if _, err := ks.Signer(""); !errors.Is(err, ledger.ErrNotConnected) {
		t.Fatalf("err = %v, want %v", err, ledger.ErrNotConnected)
	}
}
