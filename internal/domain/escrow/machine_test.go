package escrow

import (
	"errors"
	"testing"
)

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine("")
	steps := []struct {
		event Event
		want  Status
	}{
		{EventListingConfirmed, StatusListed},
		{EventExchangeConfirmed, StatusMatched},
		{EventDeliveryConfirmed, StatusSettled},
	}
	for _, step := range steps {
		got, err := m.Apply(step.event)
		if err != nil {
			t.Fatalf("apply %s: %v", step.event, err)
		}
		if got != step.want {
			t.Fatalf("apply %s: got %s, want %s", step.event, got, step.want)
		}
	}
	if !m.Status().Terminal() {
		t.Fatal("settled must be terminal")
	}
}

func TestMachine_CancelPath(t *testing.T) {
	m := NewMachine(StatusListed)
	got, err := m.Apply(EventCancelConfirmed)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got != StatusCancelled {
		t.Fatalf("got %s, want cancelled", got)
	}
}

func TestMachine_RejectsInvalidTransitions(t *testing.T) {
	cases := []struct {
		from  Status
		event Event
	}{
		{StatusPending, EventExchangeConfirmed},
		{StatusPending, EventCancelConfirmed},
		{StatusListed, EventDeliveryConfirmed},
		{StatusMatched, EventCancelConfirmed},
		{StatusSettled, EventListingConfirmed},
		{StatusCancelled, EventExchangeConfirmed},
	}
	for _, tc := range cases {
		m := NewMachine(tc.from)
		if _, err := m.Apply(tc.event); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s on %s: expected ErrInvalidTransition, got %v", tc.event, tc.from, err)
		}
		if m.Status() != tc.from {
			t.Fatalf("failed transition must not move the machine: %s -> %s", tc.from, m.Status())
		}
	}
}

func TestCheckVaultInvariant(t *testing.T) {
	cases := []struct {
		status  Status
		balance uint64
		ok      bool
	}{
		{StatusPending, 0, true},
		{StatusListed, 1, true},
		{StatusMatched, 1, true},
		{StatusSettled, 0, true},
		{StatusCancelled, 0, true},
		{StatusListed, 0, false},
		{StatusMatched, 0, false},
		{StatusPending, 1, false},
		{StatusSettled, 1, false},
	}
	for _, tc := range cases {
		err := CheckVaultInvariant(tc.status, tc.balance)
		if tc.ok && err != nil {
			t.Fatalf("%s/%d: unexpected violation: %v", tc.status, tc.balance, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvariantViolated) {
			t.Fatalf("%s/%d: expected ErrInvariantViolated, got %v", tc.status, tc.balance, err)
		}
	}
}

func TestClassifyReadback(t *testing.T) {
	if got := ClassifyReadback(false, 0); got != ReadbackAbsent {
		t.Fatalf("absent account: got %v", got)
	}
	if got := ClassifyReadback(true, 5); got != ReadbackActive {
		t.Fatalf("locked vault: got %v", got)
	}
	if got := ClassifyReadback(true, 0); got != ReadbackSettledOrCancelled {
		t.Fatalf("empty vault: got %v", got)
	}
}

func TestDisambiguate(t *testing.T) {
	status, err := Disambiguate("buyer-1", "seller-1", "buyer-1")
	if err != nil || status != StatusSettled {
		t.Fatalf("buyer holds asset: got %s, %v", status, err)
	}

	status, err = Disambiguate("seller-1", "seller-1", "buyer-1")
	if err != nil || status != StatusCancelled {
		t.Fatalf("seller holds asset: got %s, %v", status, err)
	}

	if _, err := Disambiguate("stranger", "seller-1", "buyer-1"); !errors.Is(err, ErrAmbiguousReadback) {
		t.Fatalf("stranger holds asset: expected ErrAmbiguousReadback, got %v", err)
	}

	// No holder evidence at all must never resolve an outcome, whatever the
	// party addresses look like.
	if _, err := Disambiguate("", "seller-1", ""); !errors.Is(err, ErrAmbiguousReadback) {
		t.Fatalf("empty holder with no buyer: expected ErrAmbiguousReadback, got %v", err)
	}
	if _, err := Disambiguate("", "", "buyer-1"); !errors.Is(err, ErrAmbiguousReadback) {
		t.Fatalf("empty holder with no seller: expected ErrAmbiguousReadback, got %v", err)
	}
	if _, err := Disambiguate("", "", ""); !errors.Is(err, ErrAmbiguousReadback) {
		t.Fatalf("no evidence at all: expected ErrAmbiguousReadback, got %v", err)
	}
}

func TestMoreAdvanced(t *testing.T) {
	if got := MoreAdvanced(StatusPending, StatusListed); got != StatusListed {
		t.Fatalf("got %s", got)
	}
	if got := MoreAdvanced(StatusMatched, StatusListed); got != StatusMatched {
		t.Fatalf("got %s", got)
	}
	if got := MoreAdvanced(StatusSettled, StatusPending); got != StatusSettled {
		t.Fatalf("got %s", got)
	}
}
