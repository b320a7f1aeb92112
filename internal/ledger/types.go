// Package ledger provides the ledger-service client, deterministic address
// derivation and transaction assembly for the orchestrator.
package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLength is the byte length of a ledger address.
const AddressLength = 32

// Address identifies an account on the ledger.
type Address [AddressLength]byte

// AddressFromBase58 parses a base58-encoded address.
func AddressFromBase58(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("decode address %q: %w", s, err)
	}
	if len(raw) != AddressLength {
		return a, fmt.Errorf("address %q: expected %d bytes, got %d", s, AddressLength, len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// String renders the address in the ledger's base58 wire format.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalJSON encodes the address as a base58 string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a base58 string address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := AddressFromBase58(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// AccountMeta describes one account referenced by an instruction.
type AccountMeta struct {
	Address  Address `json:"address"`
	Signer   bool    `json:"signer"`
	Writable bool    `json:"writable"`
}

// Instruction is one ledger-service call inside a transaction. Method carries
// the service's logical method name; Args its parameters.
type Instruction struct {
	Program  Address       `json:"program"`
	Method   string        `json:"method"`
	Accounts []AccountMeta `json:"accounts"`
	Args     interface{}   `json:"args,omitempty"`
}

// Transaction is an ordered instruction list plus its signatures. Instruction
// order is caller-defined; account-creation instructions must precede any
// instruction that reads or writes those accounts.
type Transaction struct {
	Payer        Address       `json:"payer"`
	Instructions []Instruction `json:"instructions"`
	Signatures   []string      `json:"signatures,omitempty"`
}

// Serialize encodes the transaction for submission.
func (t *Transaction) Serialize() ([]byte, error) {
	return json.Marshal(t)
}

// DeserializeTransaction decodes a transaction produced by Serialize or
// returned unsigned by an external service.
func DeserializeTransaction(raw []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("deserialize transaction: %w", err)
	}
	return &tx, nil
}

// AccountInfo is a point-in-time snapshot of one ledger account. Every read is
// a snapshot that can be stale by the time a subsequent transaction is built.
type AccountInfo struct {
	Address Address         `json:"address"`
	Owner   Address         `json:"owner"`
	Balance uint64          `json:"balance"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// EscrowAccount is the decoded state of one escrow account.
type EscrowAccount struct {
	Seed              uint64  `json:"seed"`
	Initializer       Address `json:"initializer"`
	Counterparty      Address `json:"counterparty"`
	AssetMint         Address `json:"asset_mint"`
	SettlementMint    Address `json:"settlement_mint"`
	InitializerAmount uint64  `json:"initializer_amount"`
	TakerAmount       uint64  `json:"taker_amount"`
	ContentRef        string  `json:"content_ref"`
	Price             uint64  `json:"price"`
	FeeRecipient      Address `json:"fee_recipient"`
}

// TokenBalance is a token account balance read.
type TokenBalance struct {
	Amount   uint64 `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// SignatureStatus reports the confirmation state of a submitted transaction.
type SignatureStatus struct {
	Signature string `json:"signature"`
	Confirmed bool   `json:"confirmed"`
	Err       string `json:"err,omitempty"`
}

// RPCRequest is a JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
	ID      int           `json:"id"`
}

// RPCResponse is a JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
