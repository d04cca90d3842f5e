package core

import (
	"testing"
	"time"
)

// newTestLedger returns a Ledger with an open Tx and two registered, Active
// participants ready to move tokens between each other.
func newTestLedger(t *testing.T) (*Ledger, Tx, ParticipantID, ParticipantID) {
	t.Helper()
	reg := NewRegistry()
	led := NewLedger(reg)
	store := NewMemStore()
	tx, _ := store.BeginTx()
	admin := adminCaller(ParticipantID{0xaa})
	a, _ := reg.RegisterParticipant(tx, admin, KindProsumer, "a", time.Now())
	b, _ := reg.RegisterParticipant(tx, admin, KindConsumer, "b", time.Now())
	return led, tx, a, b
}

func TestTransferMovesBalance(t *testing.T) {
	led, tx, a, b := newTestLedger(t)
	led.setBalance(tx, a, 100)

	caller := Principal{ID: a, Kind: KindProsumer}
	if err := led.Transfer(tx, caller, a, b, 40); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := led.BalanceOf(tx, a); got != 60 {
		t.Fatalf("sender balance = %d, want 60", got)
	}
	if got := led.BalanceOf(tx, b); got != 40 {
		t.Fatalf("recipient balance = %d, want 40", got)
	}
}

func TestTransferRejectsInsufficientFunds(t *testing.T) {
	led, tx, a, b := newTestLedger(t)
	led.setBalance(tx, a, 10)
	caller := Principal{ID: a, Kind: KindProsumer}
	if err := led.Transfer(tx, caller, a, b, 11); err == nil {
		t.Fatal("expected ErrInsufficientFunds")
	}
}

func TestTransferRejectsWrongCaller(t *testing.T) {
	led, tx, a, b := newTestLedger(t)
	led.setBalance(tx, a, 100)
	caller := Principal{ID: b, Kind: KindConsumer}
	if err := led.Transfer(tx, caller, a, b, 10); err == nil {
		t.Fatal("expected ErrNotAuthorised when caller != from")
	}
}

func TestAllowanceLifecycle(t *testing.T) {
	led, tx, a, b := newTestLedger(t)
	led.setBalance(tx, a, 100)

	if err := led.Approve(tx, a, b, 50); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := led.IncreaseAllowance(tx, a, b, 10); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if got := led.AllowanceOf(tx, a, b); got != 60 {
		t.Fatalf("allowance = %d, want 60", got)
	}
	if err := led.DecreaseAllowance(tx, a, b, 1000); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if got := led.AllowanceOf(tx, a, b); got != 0 {
		t.Fatalf("decrease below zero should saturate at 0, got %d", got)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	led, tx, a, b := newTestLedger(t)
	led.setBalance(tx, a, 100)
	led.Approve(tx, a, b, 30)

	if err := led.TransferFrom(tx, b, a, b, 20); err != nil {
		t.Fatalf("transfer_from: %v", err)
	}
	if got := led.AllowanceOf(tx, a, b); got != 10 {
		t.Fatalf("remaining allowance = %d, want 10", got)
	}
	if got := led.BalanceOf(tx, a); got != 80 {
		t.Fatalf("sender balance = %d, want 80", got)
	}
	if got := led.BalanceOf(tx, b); got != 20 {
		t.Fatalf("recipient balance = %d, want 20", got)
	}
	if err := led.TransferFrom(tx, b, a, b, 11); err == nil {
		t.Fatal("expected ErrInsufficientFunds once allowance is exhausted")
	}
}

func TestBurnRequiresOperatorPrincipal(t *testing.T) {
	led, tx, a, _ := newTestLedger(t)
	led.setBalance(tx, a, 50)
	led.addTotalSupply(tx, 50)

	nonOperator := Principal{ID: a, Kind: KindProsumer}
	if err := led.Burn(tx, nonOperator, a, 10); err == nil {
		t.Fatal("expected ErrNotAuthorised for a non-operator caller")
	}

	operator := Principal{ID: ParticipantID{0xee}, Kind: KindOperator}
	if err := led.Burn(tx, operator, a, 10); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := led.BalanceOf(tx, a); got != 40 {
		t.Fatalf("balance after burn = %d, want 40", got)
	}
	if got := led.TotalSupply(tx); got != 40 {
		t.Fatalf("total supply after burn = %d, want 40", got)
	}
}
