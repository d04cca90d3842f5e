package core

import (
	"testing"
	"time"
)

func TestSchedulerOpensFirstEpochOnFirstTick(t *testing.T) {
	cfg := testMarketConfig()
	store := NewMemStore()
	reg := NewRegistry()
	led := NewLedger(reg)
	book := NewOrderBook(led, reg, cfg, nil)
	oracle := NewOracleIngest(led, reg, cfg, nil)
	sched := NewScheduler(store, book, oracle, cfg, nil)

	now := time.Now()
	if err := sched.PerformUpkeep(now); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	tx, _ := store.BeginTx()
	defer tx.Rollback()
	epoch, ok := book.CurrentEpoch(tx)
	if !ok {
		t.Fatal("expected an epoch to have been opened")
	}
	if epoch.State != EpochOpen {
		t.Fatalf("state = %v, want Open", epoch.State)
	}
}

func TestSchedulerRollsEpochOnlyAfterEndTS(t *testing.T) {
	cfg := testMarketConfig()
	store := NewMemStore()
	reg := NewRegistry()
	led := NewLedger(reg)
	book := NewOrderBook(led, reg, cfg, nil)
	oracle := NewOracleIngest(led, reg, cfg, nil)
	sched := NewScheduler(store, book, oracle, cfg, nil)

	now := time.Now()
	sched.PerformUpkeep(now)
	sched.PerformUpkeep(now.Add(time.Second)) // well before EpochDuration (1 minute)

	tx, _ := store.BeginTx()
	epoch, _ := book.CurrentEpoch(tx)
	if epoch.ID != 1 {
		t.Fatalf("epoch should not roll before end_ts, got epoch %d", epoch.ID)
	}
	tx.Rollback()

	sched.PerformUpkeep(now.Add(2 * time.Minute))
	tx2, _ := store.BeginTx()
	defer tx2.Rollback()
	epoch2, _ := book.CurrentEpoch(tx2)
	if epoch2.ID != 2 {
		t.Fatalf("epoch should have rolled over once end_ts passed, got epoch %d", epoch2.ID)
	}
	if !epoch2.StartTS.Equal(epoch.EndTS) {
		t.Fatalf("next epoch must start exactly at the previous end_ts (no drift), got %v want %v", epoch2.StartTS, epoch.EndTS)
	}
}

func TestSchedulerClearsMatchesOnEpochRollover(t *testing.T) {
	e := newEngineForTest(t, testMarketConfig())
	e.Bootstrap(time.Now())
	seller := registerParticipant(t, e, KindProsumer)
	buyer := registerParticipant(t, e, KindConsumer)
	now := time.Now()

	e.WithTx(func(tx Tx) error {
		e.Ledger.setBalance(tx, seller, 50)
		e.Ledger.setBalance(tx, buyer, 500)
		sellerCaller := Principal{ID: seller, Kind: KindProsumer}
		buyerCaller := Principal{ID: buyer, Kind: KindConsumer}
		if _, err := e.Book.SubmitSell(tx, sellerCaller, seller, 50, 4, now); err != nil {
			return err
		}
		e.Ledger.Approve(tx, buyer, OrderBookPrincipal, 500)
		_, err := e.Book.SubmitBuy(tx, buyerCaller, buyer, 50, 4, now)
		return err
	})

	if err := e.Scheduler.PerformUpkeep(now.Add(2 * time.Minute)); err != nil {
		t.Fatalf("upkeep: %v", err)
	}

	e.WithTx(func(tx Tx) error {
		trades := e.Book.ListTradesForEpoch(tx, EpochID(1))
		if len(trades) != 1 {
			t.Fatalf("expected 1 trade cleared by the scheduler tick, got %d", len(trades))
		}
		epoch, _ := e.Book.GetEpoch(tx, EpochID(1))
		if epoch.State != EpochCleared {
			t.Fatalf("epoch 1 state = %v, want Cleared", epoch.State)
		}
		return nil
	})
}

func TestCheckUpkeepReportsPendingWork(t *testing.T) {
	e := newEngineForTest(t, testMarketConfig())
	now := time.Now()
	e.Bootstrap(now)

	e.WithTx(func(tx Tx) error {
		if e.Scheduler.CheckUpkeep(tx, now) {
			t.Fatal("no work should be pending immediately after bootstrap")
		}
		if !e.Scheduler.CheckUpkeep(tx, now.Add(2*time.Minute)) {
			t.Fatal("expected pending work once the epoch's end_ts has passed")
		}
		return nil
	})
}

func TestSchedulerStartRejectsDoubleStart(t *testing.T) {
	cfg := testMarketConfig()
	store := NewMemStore()
	reg := NewRegistry()
	led := NewLedger(reg)
	book := NewOrderBook(led, reg, cfg, nil)
	oracle := NewOracleIngest(led, reg, cfg, nil)
	sched := NewScheduler(store, book, oracle, cfg, nil)

	if err := sched.Start("@every 1h"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer sched.Stop()
	if err := sched.Start("@every 1h"); err == nil {
		t.Fatal("expected ErrConflict starting an already-running scheduler")
	}
}
