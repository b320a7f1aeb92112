package ledger

import (
	"context"
	"fmt"

	"github.com/vaulted-markets/orchestrator/pkg/logger"
)

// AdminChecker answers whether an account is in the on-ledger admin registry.
// A nil checker skips the local gate and lets the ledger arbitrate.
type AdminChecker interface {
	IsAdmin(ctx context.Context, account Address) (bool, error)
}

// Builder assembles ordered instruction lists for listing, buying, settling
// and transferring escrowed assets. Account-creation instructions always
// precede any instruction that reads or writes those accounts within the same
// transaction.
type Builder struct {
	client     *Client
	program    Address
	nativeMint Address
	admins     AdminChecker
	log        *logger.Logger
}

// BuilderConfig configures a transaction builder.
type BuilderConfig struct {
	Program    Address
	NativeMint Address
	Admins     AdminChecker
}

// NewBuilder creates a transaction builder bound to the escrow program.
func NewBuilder(client *Client, cfg BuilderConfig, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.NewDefault("builder")
	}
	return &Builder{
		client:     client,
		program:    cfg.Program,
		nativeMint: cfg.NativeMint,
		admins:     cfg.Admins,
		log:        log,
	}
}

// Program returns the escrow program namespace.
func (b *Builder) Program() Address {
	return b.program
}

// EscrowStateAddress derives the state account for an escrow seed.
func (b *Builder) EscrowStateAddress(seed uint64) (Address, error) {
	addr, _, err := Derive(b.program, EscrowStateSeeds(seed)...)
	return addr, err
}

// EscrowVaultAddress derives the asset vault for an escrow seed.
func (b *Builder) EscrowVaultAddress(seed uint64) (Address, error) {
	addr, _, err := Derive(b.program, EscrowVaultSeeds(seed)...)
	return addr, err
}

// AssociatedAddress derives the associated token account for owner and mint.
func (b *Builder) AssociatedAddress(owner, mint Address) (Address, error) {
	addr, _, err := Derive(b.program, AssociatedSeeds(owner, mint)...)
	return addr, err
}

// ListIntent lists one unit of an authenticated asset into escrow.
type ListIntent struct {
	Seller            Address
	AssetMint         Address
	SettlementMint    Address
	InitializerAmount uint64
	TakerAmount       uint64
	ContentRef        string
	Price             uint64
	FeeRecipient      Address
}

// seedDrawAttempts bounds collision rejection when drawing a fresh escrow seed.
const seedDrawAttempts = 5

// BuildListing verifies asset ownership, draws a fresh escrow seed and builds
// the initialize-escrow transaction. The chosen seed is returned so the caller
// can persist it with the listing record.
func (b *Builder) BuildListing(ctx context.Context, intent ListIntent) (*Transaction, uint64, error) {
	if intent.Seller.IsZero() {
		return nil, 0, ErrNotConnected
	}
	if intent.InitializerAmount == 0 {
		return nil, 0, fmt.Errorf("initializer amount must be positive")
	}

	sellerAsset, err := b.AssociatedAddress(intent.Seller, intent.AssetMint)
	if err != nil {
		return nil, 0, err
	}
	balance, err := b.client.GetTokenBalance(ctx, sellerAsset)
	if err != nil {
		return nil, 0, fmt.Errorf("check seller asset account %s: %w", sellerAsset, err)
	}
	if balance.Amount < intent.InitializerAmount {
		return nil, 0, fmt.Errorf("asset account %s holds %d, need %d: %w",
			sellerAsset, balance.Amount, intent.InitializerAmount, ErrInsufficientFunds)
	}

	seed, state, err := b.drawSeed(ctx)
	if err != nil {
		return nil, 0, err
	}
	vault, err := b.EscrowVaultAddress(seed)
	if err != nil {
		return nil, 0, err
	}

	tx := &Transaction{
		Payer: intent.Seller,
		Instructions: []Instruction{{
			Program: b.program,
			Method:  "initializeEscrow",
			Accounts: []AccountMeta{
				{Address: intent.Seller, Signer: true, Writable: true},
				{Address: state, Writable: true},
				{Address: vault, Writable: true},
				{Address: sellerAsset, Writable: true},
				{Address: intent.AssetMint},
				{Address: intent.SettlementMint},
			},
			Args: map[string]interface{}{
				"seed":              seed,
				"initializerAmount": intent.InitializerAmount,
				"takerAmount":       intent.TakerAmount,
				"contentRef":        intent.ContentRef,
				"feeRecipient":      intent.FeeRecipient.String(),
				"price":             intent.Price,
				"settlementMint":    intent.SettlementMint.String(),
			},
		}},
	}

	b.log.WithField("escrow", state.String()).
		WithField("seed", seed).
		Info("listing transaction built")
	return tx, seed, nil
}

// drawSeed draws a random escrow seed, rejecting the rare collision with an
// existing escrow account.
func (b *Builder) drawSeed(ctx context.Context) (uint64, Address, error) {
	for attempt := 0; attempt < seedDrawAttempts; attempt++ {
		seed, err := NewEscrowSeed()
		if err != nil {
			return 0, Address{}, err
		}
		state, err := b.EscrowStateAddress(seed)
		if err != nil {
			return 0, Address{}, err
		}
		exists, err := b.client.AccountExists(ctx, state)
		if err != nil {
			return 0, Address{}, fmt.Errorf("check seed collision: %w", err)
		}
		if !exists {
			return seed, state, nil
		}
		b.log.WithField("seed", seed).Warn("escrow seed collision, redrawing")
	}
	return 0, Address{}, fmt.Errorf("could not draw a fresh escrow seed after %d attempts", seedDrawAttempts)
}

// ExchangeIntent is a buyer's purchase of a listed escrow.
type ExchangeIntent struct {
	Buyer Address
	Seed  uint64
}

// BuildExchange builds the buy/settle transaction for a listed escrow. Missing
// associated accounts (buyer settlement, buyer asset, escrow settlement vault,
// seller settlement) get creation instructions prepended; when the settlement
// mint is the wrapped native currency a top-up and sync precede the exchange
// instruction, which is always last.
func (b *Builder) BuildExchange(ctx context.Context, intent ExchangeIntent) (*Transaction, error) {
	if intent.Buyer.IsZero() {
		return nil, ErrNotConnected
	}

	state, err := b.EscrowStateAddress(intent.Seed)
	if err != nil {
		return nil, err
	}
	esc, err := b.client.GetEscrowAccount(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("read escrow %s: %w", state, err)
	}
	vault, err := b.EscrowVaultAddress(intent.Seed)
	if err != nil {
		return nil, err
	}

	buyerSettlement, err := b.AssociatedAddress(intent.Buyer, esc.SettlementMint)
	if err != nil {
		return nil, err
	}
	buyerAsset, err := b.AssociatedAddress(intent.Buyer, esc.AssetMint)
	if err != nil {
		return nil, err
	}
	settlementVault, err := b.AssociatedAddress(state, esc.SettlementMint)
	if err != nil {
		return nil, err
	}
	sellerSettlement, err := b.AssociatedAddress(esc.Initializer, esc.SettlementMint)
	if err != nil {
		return nil, err
	}

	var instructions []Instruction
	wrapped := esc.SettlementMint == b.nativeMint

	for _, acct := range []struct {
		owner Address
		mint  Address
		addr  Address
	}{
		{intent.Buyer, esc.SettlementMint, buyerSettlement},
		{intent.Buyer, esc.AssetMint, buyerAsset},
		{state, esc.SettlementMint, settlementVault},
		{esc.Initializer, esc.SettlementMint, sellerSettlement},
	} {
		exists, err := b.client.AccountExists(ctx, acct.addr)
		if err != nil {
			return nil, fmt.Errorf("check account %s: %w", acct.addr, err)
		}
		if !exists {
			instructions = append(instructions, b.createAssociatedAccount(intent.Buyer, acct.owner, acct.mint, acct.addr))
		}
	}

	if wrapped {
		// Native settlement rides in the wrapped mint: top up the buyer's
		// wrapped account from their native balance, then sync.
		info, err := b.client.GetAccountInfo(ctx, intent.Buyer)
		if err != nil {
			return nil, fmt.Errorf("read buyer %s: %w", intent.Buyer, err)
		}
		if info.Balance < esc.TakerAmount {
			return nil, fmt.Errorf("buyer %s holds %d native units, need %d: %w",
				intent.Buyer, info.Balance, esc.TakerAmount, ErrInsufficientFunds)
		}
		instructions = append(instructions,
			Instruction{
				Program: b.program,
				Method:  "transfer",
				Accounts: []AccountMeta{
					{Address: intent.Buyer, Signer: true, Writable: true},
					{Address: buyerSettlement, Writable: true},
				},
				Args: map[string]interface{}{"amount": esc.TakerAmount},
			},
			Instruction{
				Program: b.program,
				Method:  "syncNative",
				Accounts: []AccountMeta{
					{Address: buyerSettlement, Writable: true},
				},
			},
		)
	} else {
		balance, err := b.client.GetTokenBalance(ctx, buyerSettlement)
		if err != nil {
			return nil, fmt.Errorf("check buyer settlement %s: %w", buyerSettlement, err)
		}
		if balance.Amount < esc.TakerAmount {
			return nil, fmt.Errorf("settlement account %s holds %d, need %d: %w",
				buyerSettlement, balance.Amount, esc.TakerAmount, ErrInsufficientFunds)
		}
	}

	instructions = append(instructions, Instruction{
		Program: b.program,
		Method:  "exchange",
		Accounts: []AccountMeta{
			{Address: intent.Buyer, Signer: true, Writable: true},
			{Address: state, Writable: true},
			{Address: vault, Writable: true},
			{Address: buyerSettlement, Writable: true},
			{Address: buyerAsset, Writable: true},
			{Address: settlementVault, Writable: true},
			{Address: sellerSettlement, Writable: true},
		},
	})

	return &Transaction{Payer: intent.Buyer, Instructions: instructions}, nil
}

// ConfirmDeliveryIntent settles a matched escrow after physical delivery.
type ConfirmDeliveryIntent struct {
	Admin Address
	Seed  uint64
}

// BuildConfirmDelivery builds the privileged confirm-delivery transaction.
// The admin gate is checked locally when the admin set is known.
func (b *Builder) BuildConfirmDelivery(ctx context.Context, intent ConfirmDeliveryIntent) (*Transaction, error) {
	if intent.Admin.IsZero() {
		return nil, ErrNotConnected
	}
	if err := b.requireAdmin(ctx, intent.Admin); err != nil {
		return nil, err
	}

	state, err := b.EscrowStateAddress(intent.Seed)
	if err != nil {
		return nil, err
	}
	esc, err := b.client.GetEscrowAccount(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("read escrow %s: %w", state, err)
	}
	if esc.Counterparty.IsZero() {
		return nil, fmt.Errorf("escrow %s has no matched buyer", state)
	}
	vault, err := b.EscrowVaultAddress(intent.Seed)
	if err != nil {
		return nil, err
	}

	sellerSettlement, err := b.AssociatedAddress(esc.Initializer, esc.SettlementMint)
	if err != nil {
		return nil, err
	}
	feeSettlement, err := b.AssociatedAddress(esc.FeeRecipient, esc.SettlementMint)
	if err != nil {
		return nil, err
	}
	buyerAsset, err := b.AssociatedAddress(esc.Counterparty, esc.AssetMint)
	if err != nil {
		return nil, err
	}
	settlementVault, err := b.AssociatedAddress(state, esc.SettlementMint)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Payer: intent.Admin,
		Instructions: []Instruction{{
			Program: b.program,
			Method:  "confirmDelivery",
			Accounts: []AccountMeta{
				{Address: intent.Admin, Signer: true},
				{Address: state, Writable: true},
				{Address: vault, Writable: true},
				{Address: settlementVault, Writable: true},
				{Address: sellerSettlement, Writable: true},
				{Address: feeSettlement, Writable: true},
				{Address: buyerAsset, Writable: true},
			},
		}},
	}
	return tx, nil
}

// CancelIntent returns a listed asset to its seller.
type CancelIntent struct {
	Seller Address
	Seed   uint64
}

// BuildCancel builds the seller-only cancel transaction.
func (b *Builder) BuildCancel(ctx context.Context, intent CancelIntent) (*Transaction, error) {
	if intent.Seller.IsZero() {
		return nil, ErrNotConnected
	}

	state, err := b.EscrowStateAddress(intent.Seed)
	if err != nil {
		return nil, err
	}
	esc, err := b.client.GetEscrowAccount(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("read escrow %s: %w", state, err)
	}
	if esc.Initializer != intent.Seller {
		return nil, fmt.Errorf("only the initializer may cancel escrow %s: %w", state, ErrUnauthorized)
	}
	vault, err := b.EscrowVaultAddress(intent.Seed)
	if err != nil {
		return nil, err
	}
	sellerAsset, err := b.AssociatedAddress(esc.Initializer, esc.AssetMint)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Payer: intent.Seller,
		Instructions: []Instruction{{
			Program: b.program,
			Method:  "cancel",
			Accounts: []AccountMeta{
				{Address: intent.Seller, Signer: true, Writable: true},
				{Address: state, Writable: true},
				{Address: vault, Writable: true},
				{Address: sellerAsset, Writable: true},
			},
		}},
	}
	return tx, nil
}

// RestrictedTransferIntent moves an asset between accounts while the platform
// authority retains update rights. Used for administrative custody changes
// without a public sale.
type RestrictedTransferIntent struct {
	Admin     Address
	From      Address
	To        Address
	AssetMint Address
	Amount    uint64
}

// BuildRestrictedTransfer builds the privileged restricted-transfer transaction.
func (b *Builder) BuildRestrictedTransfer(ctx context.Context, intent RestrictedTransferIntent) (*Transaction, error) {
	if intent.Admin.IsZero() {
		return nil, ErrNotConnected
	}
	if err := b.requireAdmin(ctx, intent.Admin); err != nil {
		return nil, err
	}
	if intent.Amount == 0 {
		return nil, fmt.Errorf("transfer amount must be positive")
	}

	fromAsset, err := b.AssociatedAddress(intent.From, intent.AssetMint)
	if err != nil {
		return nil, err
	}
	toAsset, err := b.AssociatedAddress(intent.To, intent.AssetMint)
	if err != nil {
		return nil, err
	}

	balance, err := b.client.GetTokenBalance(ctx, fromAsset)
	if err != nil {
		return nil, fmt.Errorf("check source account %s: %w", fromAsset, err)
	}
	if balance.Amount < intent.Amount {
		return nil, fmt.Errorf("source account %s holds %d, need %d: %w",
			fromAsset, balance.Amount, intent.Amount, ErrInsufficientFunds)
	}

	var instructions []Instruction
	exists, err := b.client.AccountExists(ctx, toAsset)
	if err != nil {
		return nil, fmt.Errorf("check destination account %s: %w", toAsset, err)
	}
	if !exists {
		instructions = append(instructions, b.createAssociatedAccount(intent.Admin, intent.To, intent.AssetMint, toAsset))
	}

	instructions = append(instructions, Instruction{
		Program: b.program,
		Method:  "restrictedTransfer",
		Accounts: []AccountMeta{
			{Address: intent.Admin, Signer: true},
			{Address: fromAsset, Writable: true},
			{Address: toAsset, Writable: true},
			{Address: intent.AssetMint},
		},
		Args: map[string]interface{}{"amount": intent.Amount},
	})

	return &Transaction{Payer: intent.Admin, Instructions: instructions}, nil
}

// MintIntent mints a new asset token to a recipient, creating the recipient's
// associated account when missing.
type MintIntent struct {
	Authority  Address
	Recipient  Address
	AssetMint  Address
	ContentRef string
}

// BuildMintAsset builds the mint-asset transaction.
func (b *Builder) BuildMintAsset(ctx context.Context, intent MintIntent) (*Transaction, error) {
	if intent.Authority.IsZero() {
		return nil, ErrNotConnected
	}
	if err := b.requireAdmin(ctx, intent.Authority); err != nil {
		return nil, err
	}

	recipientAsset, err := b.AssociatedAddress(intent.Recipient, intent.AssetMint)
	if err != nil {
		return nil, err
	}

	var instructions []Instruction
	exists, err := b.client.AccountExists(ctx, recipientAsset)
	if err != nil {
		return nil, fmt.Errorf("check recipient account %s: %w", recipientAsset, err)
	}
	if !exists {
		instructions = append(instructions, b.createAssociatedAccount(intent.Authority, intent.Recipient, intent.AssetMint, recipientAsset))
	}

	instructions = append(instructions, Instruction{
		Program: b.program,
		Method:  "mintAsset",
		Accounts: []AccountMeta{
			{Address: intent.Authority, Signer: true},
			{Address: intent.AssetMint, Writable: true},
			{Address: recipientAsset, Writable: true},
		},
		Args: map[string]interface{}{"contentRef": intent.ContentRef},
	})

	return &Transaction{Payer: intent.Authority, Instructions: instructions}, nil
}

// BuildAddAdmin builds a transaction adding an account to the admin registry.
func (b *Builder) BuildAddAdmin(ctx context.Context, actor, account Address) (*Transaction, error) {
	return b.buildRegistryOp(ctx, actor, "addAdmin", account)
}

// BuildRemoveAdmin builds a transaction removing an account from the admin registry.
func (b *Builder) BuildRemoveAdmin(ctx context.Context, actor, account Address) (*Transaction, error) {
	return b.buildRegistryOp(ctx, actor, "removeAdmin", account)
}

func (b *Builder) buildRegistryOp(ctx context.Context, actor Address, method string, account Address) (*Transaction, error) {
	if actor.IsZero() {
		return nil, ErrNotConnected
	}
	if err := b.requireAdmin(ctx, actor); err != nil {
		return nil, err
	}
	adminList, _, err := Derive(b.program, AdminListSeeds()...)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Payer: actor,
		Instructions: []Instruction{{
			Program: b.program,
			Method:  method,
			Accounts: []AccountMeta{
				{Address: actor, Signer: true},
				{Address: adminList, Writable: true},
			},
			Args: map[string]interface{}{"account": account.String()},
		}},
	}, nil
}

// BuildInitializeConfig builds the one-time escrow config initialization.
func (b *Builder) BuildInitializeConfig(ctx context.Context, actor, treasury Address) (*Transaction, error) {
	return b.buildConfigOp(ctx, actor, "initializeConfig", treasury)
}

// BuildUpdateConfig builds a treasury update for the escrow config.
func (b *Builder) BuildUpdateConfig(ctx context.Context, actor, treasury Address) (*Transaction, error) {
	return b.buildConfigOp(ctx, actor, "updateConfig", treasury)
}

func (b *Builder) buildConfigOp(ctx context.Context, actor Address, method string, treasury Address) (*Transaction, error) {
	if actor.IsZero() {
		return nil, ErrNotConnected
	}
	config, _, err := Derive(b.program, EscrowConfigSeeds()...)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Payer: actor,
		Instructions: []Instruction{{
			Program: b.program,
			Method:  method,
			Accounts: []AccountMeta{
				{Address: actor, Signer: true},
				{Address: config, Writable: true},
			},
			Args: map[string]interface{}{"treasury": treasury.String()},
		}},
	}, nil
}

func (b *Builder) createAssociatedAccount(payer, owner, mint, addr Address) Instruction {
	return Instruction{
		Program: b.program,
		Method:  "createAssociatedAccount",
		Accounts: []AccountMeta{
			{Address: payer, Signer: true, Writable: true},
			{Address: addr, Writable: true},
			{Address: owner},
			{Address: mint},
		},
	}
}

func (b *Builder) requireAdmin(ctx context.Context, account Address) error {
	if b.admins == nil {
		return nil
	}
	ok, err := b.admins.IsAdmin(ctx, account)
	if err != nil {
		// Registry unreadable: let the ledger arbitrate rather than block.
		b.log.WithError(err).Warn("admin registry unavailable, deferring to ledger")
		return nil
	}
	if !ok {
		return fmt.Errorf("account %s is not in the admin registry: %w", account, ErrUnauthorized)
	}
	return nil
}
