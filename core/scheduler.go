package core

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler is the single logical actor driving time-based transitions:
// on every tick it reaps expired oracle requests and, once the current
// epoch's end_ts has passed, drives it through Clearing -> (matching
// engine) -> Cleared, opening the next epoch starting at the previous
// end_ts (never at now, to avoid time drift). Its lifecycle (Start/Stop,
// a ticking goroutine behind a sync.Mutex-guarded running flag) is driven
// by robfig/cron/v3, so the tick granularity is just a cron schedule
// expression rather than a fixed interval.
type Scheduler struct {
	mu      sync.Mutex
	running bool
	cron    *cron.Cron
	entryID cron.EntryID

	store  TxStore
	ob     *OrderBook
	oracle *OracleIngest
	cfg    MarketConfig
	sink   Sink
	log    *logrus.Entry
}

// NewScheduler wires the Scheduler to the store it opens transactions
// against and the components it drives.
func NewScheduler(store TxStore, ob *OrderBook, oracle *OracleIngest, cfg MarketConfig, sink Sink) *Scheduler {
	return &Scheduler{
		store: store, ob: ob, oracle: oracle, cfg: cfg, sink: sink,
		log: logrus.WithField("component", "scheduler"),
	}
}

// Start begins invoking PerformUpkeep on the given cron spec (e.g.
// "@every 1s" for a fine-grained tick). Safe to call once; a second call
// while already running returns ErrConflict.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return wrapf(ErrConflict, "scheduler already running")
	}
	s.cron = cron.New(cron.WithSeconds())
	id, err := s.cron.AddFunc(spec, func() {
		if err := s.PerformUpkeep(time.Now()); err != nil {
			s.log.WithError(err).Warn("upkeep tick failed")
		}
	})
	if err != nil {
		return wrapf(ErrInvalidArgument, "bad cron spec %q: %v", spec, err)
	}
	s.entryID = id
	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts the ticking goroutine, waiting for any in-flight tick to
// finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
}

// CheckUpkeep reports whether the next PerformUpkeep call would have any
// work to do — a pure read usable by a health check or a manual CLI
// invocation before committing to perform_upkeep's side effects.
func (s *Scheduler) CheckUpkeep(tx Tx, now time.Time) bool {
	for _, kv := range tx.PrefixIterator([]byte(requestPrefix)) {
		var r OracleRequest
		if decode(kv[1], &r) && r.Status == RequestPending && now.After(r.ExpiresAt) {
			return true
		}
	}
	epoch, ok := s.ob.CurrentEpoch(tx)
	return ok && epoch.State == EpochOpen && !epoch.EndTS.After(now)
}

// PerformUpkeep runs one full upkeep tick as a single transaction:
// expiring stale oracle requests, then — if the current epoch's end_ts
// has passed — transitioning it through Clearing, invoking the matching
// engine over a frozen snapshot, and opening the next epoch. An error
// rolls the whole tick back, including the Clearing transition, so the
// stored epoch is still Open (never left in Clearing) and the next tick
// retries the clearing.
func (s *Scheduler) PerformUpkeep(now time.Time) error {
	tx, err := s.store.BeginTx()
	if err != nil {
		return wrapf(ErrTransientStorage, "begin upkeep tx")
	}
	if err := s.performUpkeepTx(tx, now); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapf(ErrTransientStorage, "commit upkeep tx")
	}
	return nil
}

func (s *Scheduler) performUpkeepTx(tx Tx, now time.Time) error {
	if _, err := s.oracle.ExpirePendingRequests(tx, now); err != nil {
		return err
	}

	epoch, ok := s.ob.CurrentEpoch(tx)
	if !ok {
		_, err := s.ob.OpenFirstEpoch(tx, now)
		return err
	}
	if epoch.State != EpochOpen || epoch.EndTS.After(now) {
		return nil
	}

	epoch.State = EpochClearing
	s.ob.setEpoch(tx, epoch)

	if _, err := s.ob.ClearEpoch(tx, epoch.ID, now); err != nil {
		return err
	}
	if err := s.ob.ExpireEpochResiduals(tx, epoch.ID); err != nil {
		return err
	}

	epoch.State = EpochCleared
	s.ob.setEpoch(tx, epoch)
	s.emit(EventEpochCleared, map[string]any{"epoch_id": epoch.ID})

	next := Epoch{ID: nextEpochID(tx), StartTS: epoch.EndTS, EndTS: epoch.EndTS.Add(s.cfg.EpochDuration), State: EpochOpen}
	s.ob.setEpoch(tx, next)
	return nil
}

func (s *Scheduler) emit(kind EventKind, fields map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(Event{Kind: kind, At: time.Now(), Fields: fields})
}
