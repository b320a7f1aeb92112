package ledger

import (
	"context"
	"errors"
	"testing"
)

type staticAdmins map[Address]bool

func (s staticAdmins) IsAdmin(_ context.Context, account Address) (bool, error) {
	return s[account], nil
}

func newTestBuilder(t *testing.T, f *fakeLedger, admins AdminChecker) *Builder {
	t.Helper()
	return NewBuilder(f.client(t), BuilderConfig{
		Program:    testProgram(),
		NativeMint: addr("native-mint"),
		Admins:     admins,
	}, nil)
}

func seedEscrowOnLedger(t *testing.T, f *fakeLedger, b *Builder, seed uint64, esc EscrowAccount) Address {
	t.Helper()
	esc.Seed = seed
	state, err := b.EscrowStateAddress(seed)
	if err != nil {
		t.Fatalf("derive state: %v", err)
	}
	f.setEscrow(state, esc)
	return state
}

func TestBuildListing_RequiresOwnership(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	b := newTestBuilder(t, f, nil)

	intent := ListIntent{
		Seller:            addr("seller"),
		AssetMint:         addr("asset-mint"),
		SettlementMint:    addr("usd-mint"),
		InitializerAmount: 1,
		TakerAmount:       5000,
		ContentRef:        "bafy-watch-001",
		Price:             5000,
		FeeRecipient:      addr("treasury"),
	}

	// No asset account yet: balance reads zero, listing refused pre-submission.
	if _, _, err := b.BuildListing(context.Background(), intent); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	sellerAsset, err := b.AssociatedAddress(intent.Seller, intent.AssetMint)
	if err != nil {
		t.Fatalf("derive seller asset: %v", err)
	}
	f.setBalance(sellerAsset, 1)

	tx, seed, err := b.BuildListing(context.Background(), intent)
	if err != nil {
		t.Fatalf("build listing: %v", err)
	}
	if seed == 0 {
		t.Fatal("expected a nonzero escrow seed")
	}
	if len(tx.Instructions) != 1 || tx.Instructions[0].Method != "initializeEscrow" {
		t.Fatalf("unexpected instructions: %+v", tx.Instructions)
	}
	args := tx.Instructions[0].Args.(map[string]interface{})
	if args["seed"] != seed {
		t.Fatalf("seed not carried in args: %v", args["seed"])
	}
	if args["contentRef"] != "bafy-watch-001" {
		t.Fatalf("content ref not carried: %v", args["contentRef"])
	}
}

func TestBuildListing_NoSigner(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	b := newTestBuilder(t, f, nil)

	_, _, err := b.BuildListing(context.Background(), ListIntent{InitializerAmount: 1})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestBuildExchange_CreateBeforeUseOrdering(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	b := newTestBuilder(t, f, nil)

	const seed = 7001
	seedEscrowOnLedger(t, f, b, seed, EscrowAccount{
		Initializer:       addr("seller"),
		AssetMint:         addr("asset-mint"),
		SettlementMint:    addr("usd-mint"),
		InitializerAmount: 1,
		TakerAmount:       5000,
	})

	buyer := addr("buyer")
	buyerSettlement, _ := b.AssociatedAddress(buyer, addr("usd-mint"))
	f.setBalance(buyerSettlement, 10000)
	f.setAccount(buyerSettlement, AccountInfo{})

	tx, err := b.BuildExchange(context.Background(), ExchangeIntent{Buyer: buyer, Seed: seed})
	if err != nil {
		t.Fatalf("build exchange: %v", err)
	}

	last := tx.Instructions[len(tx.Instructions)-1]
	if last.Method != "exchange" {
		t.Fatalf("exchange must be the final instruction, got %s", last.Method)
	}
	// Buyer settlement account exists; the other three associated accounts do
	// not and must be created before the exchange touches them.
	creates := 0
	for i, ins := range tx.Instructions {
		if ins.Method == "createAssociatedAccount" {
			creates++
			if i >= len(tx.Instructions)-1 {
				t.Fatal("account creation must precede the exchange instruction")
			}
		}
	}
	if creates != 3 {
		t.Fatalf("expected 3 account creations, got %d", creates)
	}
}

func TestBuildExchange_WrappedNativeTopUp(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	b := newTestBuilder(t, f, nil)

	const seed = 7002
	seedEscrowOnLedger(t, f, b, seed, EscrowAccount{
		Initializer:    addr("seller"),
		AssetMint:      addr("asset-mint"),
		SettlementMint: addr("native-mint"),
		TakerAmount:    2500,
	})

	buyer := addr("buyer")
	f.setAccount(buyer, AccountInfo{Balance: 10000})

	tx, err := b.BuildExchange(context.Background(), ExchangeIntent{Buyer: buyer, Seed: seed})
	if err != nil {
		t.Fatalf("build exchange: %v", err)
	}

	methods := make([]string, 0, len(tx.Instructions))
	for _, ins := range tx.Instructions {
		methods = append(methods, ins.Method)
	}
	n := len(methods)
	if n < 3 || methods[n-1] != "exchange" || methods[n-2] != "syncNative" || methods[n-3] != "transfer" {
		t.Fatalf("wrapped settlement must end transfer, syncNative, exchange; got %v", methods)
	}
}

func TestBuildExchange_InsufficientNativeBalance(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	b := newTestBuilder(t, f, nil)

	const seed = 7003
	seedEscrowOnLedger(t, f, b, seed, EscrowAccount{
		Initializer:    addr("seller"),
		AssetMint:      addr("asset-mint"),
		SettlementMint: addr("native-mint"),
		TakerAmount:    2500,
	})
	f.setAccount(addr("buyer"), AccountInfo{Balance: 100})

	_, err := b.BuildExchange(context.Background(), ExchangeIntent{Buyer: addr("buyer"), Seed: seed})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestBuildExchange_UnknownSeed(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	b := newTestBuilder(t, f, nil)

	_, err := b.BuildExchange(context.Background(), ExchangeIntent{Buyer: addr("buyer"), Seed: 999999})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestBuildConfirmDelivery_AdminGate(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	admins := staticAdmins{addr("admin"): true}
	b := newTestBuilder(t, f, admins)

	const seed = 7004
	seedEscrowOnLedger(t, f, b, seed, EscrowAccount{
		Initializer:    addr("seller"),
		Counterparty:   addr("buyer"),
		AssetMint:      addr("asset-mint"),
		SettlementMint: addr("usd-mint"),
		FeeRecipient:   addr("treasury"),
	})

	if _, err := b.BuildConfirmDelivery(context.Background(), ConfirmDeliveryIntent{Admin: addr("rando"), Seed: seed}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}

	tx, err := b.BuildConfirmDelivery(context.Background(), ConfirmDeliveryIntent{Admin: addr("admin"), Seed: seed})
	if err != nil {
		t.Fatalf("build confirm delivery: %v", err)
	}
	if len(tx.Instructions) != 1 || tx.Instructions[0].Method != "confirmDelivery" {
		t.Fatalf("expected single confirmDelivery instruction, got %+v", tx.Instructions)
	}
}

func TestBuildCancel_SellerOnly(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	b := newTestBuilder(t, f, nil)

	const seed = 7005
	seedEscrowOnLedger(t, f, b, seed, EscrowAccount{
		Initializer: addr("seller"),
		AssetMint:   addr("asset-mint"),
	})

	if _, err := b.BuildCancel(context.Background(), CancelIntent{Seller: addr("buyer"), Seed: seed}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-seller, got %v", err)
	}

	tx, err := b.BuildCancel(context.Background(), CancelIntent{Seller: addr("seller"), Seed: seed})
	if err != nil {
		t.Fatalf("build cancel: %v", err)
	}
	if tx.Instructions[0].Method != "cancel" {
		t.Fatalf("unexpected method: %s", tx.Instructions[0].Method)
	}
}

func TestBuildRestrictedTransfer(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	admins := staticAdmins{addr("admin"): true}
	b := newTestBuilder(t, f, admins)

	intent := RestrictedTransferIntent{
		Admin:     addr("admin"),
		From:      addr("vendor-a"),
		To:        addr("vendor-b"),
		AssetMint: addr("asset-mint"),
		Amount:    1,
	}
	fromAsset, _ := b.AssociatedAddress(intent.From, intent.AssetMint)
	f.setBalance(fromAsset, 1)

	tx, err := b.BuildRestrictedTransfer(context.Background(), intent)
	if err != nil {
		t.Fatalf("build restricted transfer: %v", err)
	}
	// Destination account is missing: creation precedes the transfer.
	if len(tx.Instructions) != 2 ||
		tx.Instructions[0].Method != "createAssociatedAccount" ||
		tx.Instructions[1].Method != "restrictedTransfer" {
		t.Fatalf("unexpected instruction order: %+v", tx.Instructions)
	}
}

func TestDrawSeed_RejectsCollisions(t *testing.T) {
	f := newFakeLedger()
	defer f.server.Close()
	b := newTestBuilder(t, f, nil)

	seed, state, err := b.drawSeed(context.Background())
	if err != nil {
		t.Fatalf("draw seed: %v", err)
	}
	if seed == 0 || state.IsZero() {
		t.Fatal("expected a usable seed and state address")
	}

	// The drawn address must not belong to an existing escrow.
	exists, err := b.client.AccountExists(context.Background(), state)
	if err != nil {
		t.Fatalf("account exists: %v", err)
	}
	if exists {
		t.Fatal("drawn seed collides with an existing account")
	}
}
