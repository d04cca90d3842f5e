package core

import (
	"testing"
	"time"
)

func newTestLedgerWithValidator(t *testing.T) (*Ledger, *Registry, Tx, ParticipantID, ValidatorKey) {
	t.Helper()
	reg := NewRegistry()
	led := NewLedger(reg)
	store := NewMemStore()
	tx, _ := store.BeginTx()
	admin := adminCaller(ParticipantID{0xaa})
	owner, _ := reg.RegisterParticipant(tx, admin, KindProsumer, "bldg-1", time.Now())
	var vkey ValidatorKey
	vkey[0] = 0x01
	if err := reg.AddValidator(tx, admin, vkey, "campus-authority", time.Now()); err != nil {
		t.Fatalf("add validator: %v", err)
	}
	return led, reg, tx, owner, vkey
}

func TestMintWithRECRequiresActiveValidator(t *testing.T) {
	led, _, tx, owner, _ := newTestLedgerWithValidator(t)
	var unknown ValidatorKey
	unknown[0] = 0xff
	if err := led.MintWithREC(tx, unknown, owner, 10, "meter-1", "rec-1", "solar", time.Now()); err == nil {
		t.Fatal("expected ErrNotVerified for an unregistered validator key")
	}
}

func TestMintWithRECCreditsBalanceAndSupply(t *testing.T) {
	led, _, tx, owner, vkey := newTestLedgerWithValidator(t)
	if err := led.MintWithREC(tx, vkey, owner, 25, "meter-1", "rec-1", "solar", time.Now()); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := led.BalanceOf(tx, owner); got != 25 {
		t.Fatalf("owner balance = %d, want 25", got)
	}
	if got := led.TotalSupply(tx); got != 25 {
		t.Fatalf("total supply = %d, want 25", got)
	}
	rec, ok := led.GetREC(tx, "rec-1")
	if !ok || rec.Status != CertActive || rec.EnergyAmount != 25 {
		t.Fatalf("unexpected rec record: %+v ok=%v", rec, ok)
	}
}

func TestMintWithRECRejectsReusedCertID(t *testing.T) {
	led, _, tx, owner, vkey := newTestLedgerWithValidator(t)
	if err := led.MintWithREC(tx, vkey, owner, 10, "meter-1", "rec-1", "solar", time.Now()); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	if err := led.MintWithREC(tx, vkey, owner, 5, "meter-1", "rec-1", "solar", time.Now()); err == nil {
		t.Fatal("expected ErrConflict reusing a cert id")
	}
}

func TestRetireRECIsTerminal(t *testing.T) {
	led, _, tx, owner, vkey := newTestLedgerWithValidator(t)
	led.MintWithREC(tx, vkey, owner, 10, "meter-1", "rec-1", "solar", time.Now())

	if err := led.RetireREC(tx, "rec-1", owner, time.Now()); err != nil {
		t.Fatalf("retire: %v", err)
	}
	rec, _ := led.GetREC(tx, "rec-1")
	if rec.Status != CertRetired {
		t.Fatalf("status = %v, want Retired", rec.Status)
	}
	if err := led.RetireREC(tx, "rec-1", owner, time.Now()); err == nil {
		t.Fatal("expected ErrConflict retiring an already-terminal certificate")
	}
	if err := led.CancelREC(tx, "rec-1", time.Now()); err == nil {
		t.Fatal("expected ErrConflict cancelling an already-retired certificate")
	}
}

func TestCancelRECIsTerminal(t *testing.T) {
	led, _, tx, owner, vkey := newTestLedgerWithValidator(t)
	led.MintWithREC(tx, vkey, owner, 10, "meter-1", "rec-1", "solar", time.Now())

	if err := led.CancelREC(tx, "rec-1", time.Now()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	rec, _ := led.GetREC(tx, "rec-1")
	if rec.Status != CertCancelled {
		t.Fatalf("status = %v, want Cancelled", rec.Status)
	}
	if err := led.RetireREC(tx, "rec-1", owner, time.Now()); err == nil {
		t.Fatal("expected ErrConflict retiring an already-cancelled certificate")
	}
}

func TestListRECsByMeter(t *testing.T) {
	led, _, tx, owner, vkey := newTestLedgerWithValidator(t)
	led.MintWithREC(tx, vkey, owner, 10, "meter-1", "rec-1", "solar", time.Now())
	led.MintWithREC(tx, vkey, owner, 5, "meter-1", "rec-2", "solar", time.Now())
	led.MintWithREC(tx, vkey, owner, 7, "meter-2", "rec-3", "wind", time.Now())

	recs := led.ListRECsByMeter(tx, "meter-1")
	if len(recs) != 2 {
		t.Fatalf("expected 2 certs for meter-1, got %d", len(recs))
	}
}
