package core

import "time"

// Engine is the outer wiring point: one Store, one Registry, one Ledger,
// one OrderBook, one OracleIngest, one Scheduler, sharing a single
// transaction handle per operation — no nested commits, only one outer
// commit. cmd/campusmarket builds exactly one Engine per process.
type Engine struct {
	Store     TxStore
	Registry  *Registry
	Ledger    *Ledger
	Book      *OrderBook
	Oracle    *OracleIngest
	Scheduler *Scheduler
	Sink      Sink
	Cfg       MarketConfig
}

// NewEngine wires every subsystem together over store, using cfg's knobs
// and sink for outbound events.
func NewEngine(store TxStore, cfg MarketConfig, sink Sink) *Engine {
	reg := NewRegistry()
	led := NewLedger(reg)
	book := NewOrderBook(led, reg, cfg, sink)
	oracle := NewOracleIngest(led, reg, cfg, sink)
	sched := NewScheduler(store, book, oracle, cfg, sink)
	return &Engine{Store: store, Registry: reg, Ledger: led, Book: book, Oracle: oracle, Scheduler: sched, Sink: sink, Cfg: cfg}
}

// Bootstrap opens the first epoch if the store is empty. Idempotent:
// calling it again once an epoch already exists is a silent no-op rather
// than an error, so a CLI restart never needs to special-case "already
// bootstrapped".
func (e *Engine) Bootstrap(now time.Time) error {
	tx, err := e.Store.BeginTx()
	if err != nil {
		return wrapf(ErrTransientStorage, "begin bootstrap tx")
	}
	if _, ok := e.Book.CurrentEpoch(tx); ok {
		return tx.Rollback()
	}
	if _, err := e.Book.OpenFirstEpoch(tx, now); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// WithTx opens a transaction, runs fn, and commits on success or rolls
// back on any error fn returns — the single-outer-commit pattern every
// exported Engine-level operation should use.
func (e *Engine) WithTx(fn func(tx Tx) error) error {
	tx, err := e.Store.BeginTx()
	if err != nil {
		return wrapf(ErrTransientStorage, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapf(ErrTransientStorage, "commit tx")
	}
	return nil
}
