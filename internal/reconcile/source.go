package reconcile

import (
	"context"
	"encoding/json"

	"github.com/vaulted-markets/orchestrator/internal/ledger"
)

// LedgerSource reads Facts from a live ledger through the derivation rules of
// a transaction builder.
type LedgerSource struct {
	client  *ledger.Client
	builder *ledger.Builder
}

// NewLedgerSource creates a ledger-backed fact source.
func NewLedgerSource(client *ledger.Client, builder *ledger.Builder) *LedgerSource {
	return &LedgerSource{client: client, builder: builder}
}

var _ Source = (*LedgerSource)(nil)

// Facts reads the escrow state and vault balance for an asset. A zero seed
// falls back to scanning the program's accounts for the asset mint.
func (s *LedgerSource) Facts(ctx context.Context, assetID string, seed uint64) (Facts, error) {
	var esc *ledger.EscrowAccount
	if seed != 0 {
		stateAddr, err := s.builder.EscrowStateAddress(seed)
		if err != nil {
			return Facts{}, err
		}
		esc, err = s.client.GetEscrowAccount(ctx, stateAddr)
		if err != nil && !ledger.IsNotFound(err) {
			return Facts{}, err
		}
	} else {
		var err error
		esc, err = s.findBySeedScan(ctx, assetID)
		if err != nil {
			return Facts{}, err
		}
	}
	if esc == nil {
		return Facts{}, nil
	}

	facts := Facts{
		EscrowExists:      true,
		Seed:              esc.Seed,
		Initializer:       addrString(esc.Initializer),
		Counterparty:      addrString(esc.Counterparty),
		InitializerAmount: esc.InitializerAmount,
		TakerAmount:       esc.TakerAmount,
		Price:             esc.Price,
		ContentRef:        esc.ContentRef,
	}

	vaultAddr, err := s.builder.EscrowVaultAddress(esc.Seed)
	if err != nil {
		return Facts{}, err
	}
	vault, err := s.client.GetTokenBalance(ctx, vaultAddr)
	if err != nil {
		return Facts{}, err
	}
	facts.VaultBalance = vault.Amount

	holder, err := s.holder(ctx, esc)
	if err != nil {
		return Facts{}, err
	}
	facts.Holder = holder
	return facts, nil
}

// holder locates the asset token between the two known parties. The party
// whose associated account holds a unit is the current owner; an empty result
// means neither does.
func (s *LedgerSource) holder(ctx context.Context, esc *ledger.EscrowAccount) (string, error) {
	for _, party := range []ledger.Address{esc.Initializer, esc.Counterparty} {
		if party.IsZero() {
			continue
		}
		assoc, err := s.builder.AssociatedAddress(party, esc.AssetMint)
		if err != nil {
			return "", err
		}
		bal, err := s.client.GetTokenBalance(ctx, assoc)
		if err != nil {
			return "", err
		}
		if bal.Amount > 0 {
			return party.String(), nil
		}
	}
	return "", nil
}

// findBySeedScan locates an escrow for assetID without a known seed.
func (s *LedgerSource) findBySeedScan(ctx context.Context, assetID string) (*ledger.EscrowAccount, error) {
	accounts, err := s.client.ScanProgramAccounts(ctx, s.builder.Program(), "state")
	if err != nil {
		if ledger.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, info := range accounts {
		var esc ledger.EscrowAccount
		if err := json.Unmarshal(info.Data, &esc); err != nil {
			continue
		}
		if addrString(esc.AssetMint) == assetID {
			return &esc, nil
		}
	}
	return nil, nil
}

func addrString(a ledger.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}
