package core

import (
	"testing"
	"time"
)

func testMarketConfig() MarketConfig {
	cfg := DefaultMarketConfig()
	cfg.EpochDuration = time.Minute
	cfg.FeeRecipient = ParticipantID{0xf0}
	return cfg
}

func TestSubmitSellRequiresActiveProsumer(t *testing.T) {
	e := newEngineForTest(t, testMarketConfig())
	e.Bootstrap(time.Now())
	consumer := registerParticipant(t, e, KindConsumer)

	err := e.WithTx(func(tx Tx) error {
		caller := Principal{ID: consumer, Kind: KindConsumer}
		_, err := e.Book.SubmitSell(tx, caller, consumer, 10, 5, time.Now())
		return err
	})
	if err == nil {
		t.Fatal("expected ErrNotVerified: only Active Prosumers may sell")
	}
}

func TestSubmitSellLocksEscrowImmediately(t *testing.T) {
	e := newEngineForTest(t, testMarketConfig())
	e.Bootstrap(time.Now())
	seller := registerParticipant(t, e, KindProsumer)

	err := e.WithTx(func(tx Tx) error {
		e.Ledger.setBalance(tx, seller, 100)
		caller := Principal{ID: seller, Kind: KindProsumer}
		id, err := e.Book.SubmitSell(tx, caller, seller, 30, 5, time.Now())
		if err != nil {
			return err
		}
		if got := e.Ledger.EscrowBalance(tx, id); got != 30 {
			t.Fatalf("escrow balance = %d, want 30", got)
		}
		if got := e.Ledger.BalanceOf(tx, seller); got != 70 {
			t.Fatalf("free balance = %d, want 70", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("submit sell: %v", err)
	}
}

func TestSubmitBuyChecksAllowanceWithoutConsumingIt(t *testing.T) {
	e := newEngineForTest(t, testMarketConfig())
	e.Bootstrap(time.Now())
	buyer := registerParticipant(t, e, KindConsumer)

	err := e.WithTx(func(tx Tx) error {
		caller := Principal{ID: buyer, Kind: KindConsumer}
		if _, err := e.Book.SubmitBuy(tx, caller, buyer, 10, 5, time.Now()); err == nil {
			t.Fatal("expected ErrInsufficientFunds with zero allowance")
		}
		e.Ledger.Approve(tx, buyer, OrderBookPrincipal, 50)
		id, err := e.Book.SubmitBuy(tx, caller, buyer, 10, 5, time.Now())
		if err != nil {
			return err
		}
		if got := e.Ledger.AllowanceOf(tx, buyer, OrderBookPrincipal); got != 50 {
			t.Fatalf("allowance should be untouched at submission time, got %d", got)
		}
		_ = id
		return nil
	})
	if err != nil {
		t.Fatalf("submit buy: %v", err)
	}
}

func TestOrderQuotaPerEpoch(t *testing.T) {
	cfg := testMarketConfig()
	cfg.MaxOrdersPerParticipantPerEpoch = 1
	e := newEngineForTest(t, cfg)
	e.Bootstrap(time.Now())
	seller := registerParticipant(t, e, KindProsumer)

	err := e.WithTx(func(tx Tx) error {
		e.Ledger.setBalance(tx, seller, 1000)
		caller := Principal{ID: seller, Kind: KindProsumer}
		if _, err := e.Book.SubmitSell(tx, caller, seller, 10, 5, time.Now()); err != nil {
			return err
		}
		if _, err := e.Book.SubmitSell(tx, caller, seller, 10, 5, time.Now()); err == nil {
			t.Fatal("expected ErrQuotaExceeded on the second order this epoch")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("quota test: %v", err)
	}
}

func TestCancelRefundsSellEscrow(t *testing.T) {
	e := newEngineForTest(t, testMarketConfig())
	e.Bootstrap(time.Now())
	seller := registerParticipant(t, e, KindProsumer)

	err := e.WithTx(func(tx Tx) error {
		e.Ledger.setBalance(tx, seller, 100)
		caller := Principal{ID: seller, Kind: KindProsumer}
		id, err := e.Book.SubmitSell(tx, caller, seller, 30, 5, time.Now())
		if err != nil {
			return err
		}
		if err := e.Book.Cancel(tx, caller, id); err != nil {
			return err
		}
		if got := e.Ledger.BalanceOf(tx, seller); got != 100 {
			t.Fatalf("balance after cancel = %d, want 100 (fully refunded)", got)
		}
		o, _ := e.Book.GetOrder(tx, id)
		if o.Status != OrderCancelled {
			t.Fatalf("status = %v, want Cancelled", o.Status)
		}
		if err := e.Book.Cancel(tx, caller, id); err == nil {
			t.Fatal("expected ErrConflict cancelling an already-terminal order")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("cancel test: %v", err)
	}
}

func TestCancelRequiresOwner(t *testing.T) {
	e := newEngineForTest(t, testMarketConfig())
	e.Bootstrap(time.Now())
	seller := registerParticipant(t, e, KindProsumer)
	other := registerParticipant(t, e, KindConsumer)

	err := e.WithTx(func(tx Tx) error {
		e.Ledger.setBalance(tx, seller, 100)
		caller := Principal{ID: seller, Kind: KindProsumer}
		id, err := e.Book.SubmitSell(tx, caller, seller, 30, 5, time.Now())
		if err != nil {
			return err
		}
		otherCaller := Principal{ID: other, Kind: KindConsumer}
		if err := e.Book.Cancel(tx, otherCaller, id); err == nil {
			t.Fatal("expected ErrNotAuthorised cancelling someone else's order")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("cancel-owner test: %v", err)
	}
}

func TestExpireEpochResidualsRefundsAndMarksExpired(t *testing.T) {
	e := newEngineForTest(t, testMarketConfig())
	e.Bootstrap(time.Now())
	seller := registerParticipant(t, e, KindProsumer)

	var orderID OrderID
	err := e.WithTx(func(tx Tx) error {
		e.Ledger.setBalance(tx, seller, 100)
		caller := Principal{ID: seller, Kind: KindProsumer}
		id, err := e.Book.SubmitSell(tx, caller, seller, 30, 5, time.Now())
		orderID = id
		return err
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	err = e.WithTx(func(tx Tx) error {
		epoch, _ := e.Book.CurrentEpoch(tx)
		return e.Book.ExpireEpochResiduals(tx, epoch.ID)
	})
	if err != nil {
		t.Fatalf("expire residuals: %v", err)
	}

	e.WithTx(func(tx Tx) error {
		o, _ := e.Book.GetOrder(tx, orderID)
		if o.Status != OrderExpired {
			t.Fatalf("status = %v, want Expired", o.Status)
		}
		if got := e.Ledger.BalanceOf(tx, seller); got != 100 {
			t.Fatalf("balance after expiry = %d, want 100 (refunded)", got)
		}
		return nil
	})
}
