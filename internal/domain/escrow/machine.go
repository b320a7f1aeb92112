package escrow

import (
	"errors"
	"fmt"
)

// Event is a confirmed-transaction fact driving the lifecycle machine. The
// machine never advances on an unconfirmed submission.
type Event string

const (
	EventListingConfirmed  Event = "listing_confirmed"
	EventExchangeConfirmed Event = "exchange_confirmed"
	EventDeliveryConfirmed Event = "delivery_confirmed"
	EventCancelConfirmed   Event = "cancel_confirmed"
)

// Errors
var (
	ErrInvalidTransition = errors.New("invalid escrow transition")
	ErrInvariantViolated = errors.New("escrow invariant violated")
	// ErrAmbiguousReadback indicates the escrow account is present with an
	// empty vault: settled or cancelled, and only a holder read disambiguates.
	ErrAmbiguousReadback = errors.New("ambiguous escrow read-back")
)

var transitions = map[Status]map[Event]Status{
	StatusPending: {
		EventListingConfirmed: StatusListed,
	},
	StatusListed: {
		EventExchangeConfirmed: StatusMatched,
		EventCancelConfirmed:   StatusCancelled,
	},
	StatusMatched: {
		EventDeliveryConfirmed: StatusSettled,
	},
}

// Machine drives one escrow through its lifecycle. The zero value starts at
// pending.
type Machine struct {
	status Status
}

// NewMachine creates a machine resuming from the given confirmed status.
func NewMachine(status Status) *Machine {
	if status == "" {
		status = StatusPending
	}
	return &Machine{status: status}
}

// Status returns the last confirmed state.
func (m *Machine) Status() Status {
	return m.status
}

// Apply advances the machine on a confirmed-transaction event. Invalid
// transitions leave the machine unchanged and return ErrInvalidTransition, so
// a failed intent never moves the machine past its last confirmed state.
func (m *Machine) Apply(event Event) (Status, error) {
	if m.status == "" {
		m.status = StatusPending
	}
	next, ok := transitions[m.status][event]
	if !ok {
		return m.status, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, m.status)
	}
	m.status = next
	return m.status, nil
}

// CheckVaultInvariant verifies that the vault balance is non-zero exactly when
// the escrow is listed or matched.
func CheckVaultInvariant(status Status, vaultBalance uint64) error {
	locked := status == StatusListed || status == StatusMatched
	if locked && vaultBalance == 0 {
		return fmt.Errorf("%w: status %s with empty vault", ErrInvariantViolated, status)
	}
	if !locked && vaultBalance > 0 {
		return fmt.Errorf("%w: status %s with %d locked in vault", ErrInvariantViolated, status, vaultBalance)
	}
	return nil
}

// Readback classifies what a ledger read says about an escrow.
type Readback int

const (
	// ReadbackAbsent means the state account does not exist. Absence alone
	// proves nothing about the outcome.
	ReadbackAbsent Readback = iota
	// ReadbackActive means funds are locked: listed or matched.
	ReadbackActive
	// ReadbackSettledOrCancelled means the account exists with an empty vault;
	// a holder read is required to tell settled from cancelled.
	ReadbackSettledOrCancelled
)

// ClassifyReadback interprets a snapshot of the escrow account and its vault.
func ClassifyReadback(accountExists bool, vaultBalance uint64) Readback {
	if !accountExists {
		return ReadbackAbsent
	}
	if vaultBalance > 0 {
		return ReadbackActive
	}
	return ReadbackSettledOrCancelled
}

// Disambiguate resolves a settled-or-cancelled read-back from the asset's
// current holder. The machine must not advance on a guess; an unrecognised
// holder returns ErrAmbiguousReadback.
func Disambiguate(holder, seller, buyer string) (Status, error) {
	if holder == "" {
		return "", fmt.Errorf("%w: asset holder unknown", ErrAmbiguousReadback)
	}
	switch holder {
	case buyer:
		return StatusSettled, nil
	case seller:
		return StatusCancelled, nil
	}
	return "", fmt.Errorf("%w: asset held by %s, neither seller nor buyer", ErrAmbiguousReadback, holder)
}
