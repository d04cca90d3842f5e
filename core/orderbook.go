package core

import (
	"time"

	"github.com/sirupsen/logrus"
)

const (
	orderPrefix = "book:order:"
	epochKey    = "book:epoch:current"
	epochPrefix = "book:epoch:record:"
)

// OrderBook is the submission/cancellation/epoch-lifecycle half of the
// double-auction order book; ClearEpoch and matchOrders (both in
// matching.go) implement the Matching Engine half. Methods are
// mutex-free, taking the caller's open Tx directly, and report state
// transitions through the event Sink.
type OrderBook struct {
	led *Ledger
	reg *Registry
	cfg MarketConfig
	sink Sink
	log *logrus.Entry
}

// NewOrderBook wires an OrderBook to the Ledger/Registry it settles
// against and the event Sink it reports to.
func NewOrderBook(led *Ledger, reg *Registry, cfg MarketConfig, sink Sink) *OrderBook {
	return &OrderBook{led: led, reg: reg, cfg: cfg, sink: sink, log: logrus.WithField("component", "orderbook")}
}

func orderKey(id OrderID) []byte { return []byte(orderPrefix + orderIDString(id)) }
func epochRecordKey(id EpochID) []byte { return []byte(epochPrefix + epochIDString(id)) }

// CurrentEpoch returns the book's live epoch, if one has been opened.
func (b *OrderBook) CurrentEpoch(tx Tx) (Epoch, bool) {
	var id EpochID
	raw, ok := tx.Get([]byte(epochKey))
	if !ok || !decode(raw, &id) {
		return Epoch{}, false
	}
	return b.GetEpoch(tx, id)
}

// GetEpoch returns an Epoch record by id.
func (b *OrderBook) GetEpoch(tx Tx, id EpochID) (Epoch, bool) {
	var e Epoch
	raw, ok := tx.Get(epochRecordKey(id))
	if !ok || !decode(raw, &e) {
		return Epoch{}, false
	}
	return e, true
}

func (b *OrderBook) setEpoch(tx Tx, e Epoch) {
	tx.Set(epochRecordKey(e.ID), encode(e))
	tx.Set([]byte(epochKey), encode(e.ID))
}

// OpenFirstEpoch bootstraps the very first Open epoch. Called once, by
// the Engine, before anything else runs.
func (b *OrderBook) OpenFirstEpoch(tx Tx, now time.Time) (Epoch, error) {
	if _, ok := b.CurrentEpoch(tx); ok {
		return Epoch{}, wrapf(ErrConflict, "an epoch already exists")
	}
	e := Epoch{ID: nextEpochID(tx), StartTS: now, EndTS: now.Add(b.cfg.EpochDuration), State: EpochOpen}
	b.setEpoch(tx, e)
	return e, nil
}

// GetOrder returns an Order by id.
func (b *OrderBook) GetOrder(tx Tx, id OrderID) (Order, bool) {
	var o Order
	raw, ok := tx.Get(orderKey(id))
	if !ok || !decode(raw, &o) {
		return Order{}, false
	}
	return o, true
}

func (b *OrderBook) setOrder(tx Tx, o Order) { tx.Set(orderKey(o.ID), encode(o)) }

func (b *OrderBook) quotaUsed(tx Tx, participant ParticipantID, epochID EpochID) int {
	n := 0
	for _, kv := range tx.PrefixIterator([]byte(orderPrefix)) {
		var o Order
		if decode(kv[1], &o) && o.Participant == participant && o.EpochID == epochID {
			n++
		}
	}
	return n
}

// OrdersForEpoch returns every order attributed to epochID, in submission
// (order_id) order — the frozen snapshot the Matching Engine clears over.
func (b *OrderBook) OrdersForEpoch(tx Tx, epochID EpochID) []Order {
	var out []Order
	for _, kv := range tx.PrefixIterator([]byte(orderPrefix)) {
		var o Order
		if decode(kv[1], &o) && o.EpochID == epochID {
			out = append(out, o)
		}
	}
	return out
}

// SubmitSell submits a sell order: seller must be an Active Prosumer;
// the Ledger escrows amount out of the seller's free balance immediately.
func (b *OrderBook) SubmitSell(tx Tx, caller Principal, seller ParticipantID, amount, limitPrice uint64, now time.Time) (OrderID, error) {
	if caller.ID != seller {
		return 0, wrapf(ErrNotAuthorised, "submit_sell must be signed by the seller")
	}
	if !b.reg.IsVerified(tx, seller) || !b.reg.IsProsumer(tx, seller) {
		return 0, wrapf(ErrNotVerified, "seller %s is not an Active Prosumer", seller.Hex())
	}
	if amount == 0 || limitPrice == 0 {
		return 0, wrapf(ErrInvalidArgument, "amount and limit_price must be > 0")
	}
	epoch, ok := b.CurrentEpoch(tx)
	if !ok || epoch.State != EpochOpen {
		return 0, wrapf(ErrEpochClosing, "no Open epoch to submit into")
	}
	if b.quotaUsed(tx, seller, epoch.ID) >= b.cfg.MaxOrdersPerParticipantPerEpoch {
		return 0, wrapf(ErrQuotaExceeded, "seller %s order quota reached for epoch %d", seller.Hex(), epoch.ID)
	}
	id := nextOrderID(tx)
	if err := b.led.EscrowLock(tx, id, seller, amount); err != nil {
		return 0, err
	}
	o := Order{ID: id, Participant: seller, Side: SideSell, LimitPrice: limitPrice, EnergyAmount: amount,
		Status: OrderActive, EpochID: epoch.ID, CreatedAt: now, ExpiresAt: epoch.EndTS}
	b.setOrder(tx, o)
	b.emit(EventOrderSubmitted, map[string]any{"order_id": id, "side": "sell", "participant": seller.Hex(), "amount": amount, "limit_price": limitPrice})
	return id, nil
}

// SubmitBuy submits a buy order: no token movement at submission; the
// buyer's allowance to OrderBookPrincipal is checked (not consumed) and
// only spent at match time.
func (b *OrderBook) SubmitBuy(tx Tx, caller Principal, buyer ParticipantID, amount, limitPrice uint64, now time.Time) (OrderID, error) {
	if caller.ID != buyer {
		return 0, wrapf(ErrNotAuthorised, "submit_buy must be signed by the buyer")
	}
	if !b.reg.IsVerified(tx, buyer) {
		return 0, wrapf(ErrNotVerified, "buyer %s is not Active", buyer.Hex())
	}
	if amount == 0 || limitPrice == 0 {
		return 0, wrapf(ErrInvalidArgument, "amount and limit_price must be > 0")
	}
	if need := amount * limitPrice; b.led.AllowanceOf(tx, buyer, OrderBookPrincipal) < need {
		return 0, wrapf(ErrInsufficientFunds, "allowance %d < required %d", b.led.AllowanceOf(tx, buyer, OrderBookPrincipal), need)
	}
	epoch, ok := b.CurrentEpoch(tx)
	if !ok || epoch.State != EpochOpen {
		return 0, wrapf(ErrEpochClosing, "no Open epoch to submit into")
	}
	if b.quotaUsed(tx, buyer, epoch.ID) >= b.cfg.MaxOrdersPerParticipantPerEpoch {
		return 0, wrapf(ErrQuotaExceeded, "buyer %s order quota reached for epoch %d", buyer.Hex(), epoch.ID)
	}
	id := nextOrderID(tx)
	o := Order{ID: id, Participant: buyer, Side: SideBuy, LimitPrice: limitPrice, EnergyAmount: amount,
		Status: OrderActive, EpochID: epoch.ID, CreatedAt: now, ExpiresAt: epoch.EndTS}
	b.setOrder(tx, o)
	b.emit(EventOrderSubmitted, map[string]any{"order_id": id, "side": "buy", "participant": buyer.Hex(), "amount": amount, "limit_price": limitPrice})
	return id, nil
}

// Cancel cancels an order: only the owner may cancel, only from Active
// or PartiallyFilled. A sell order's residual escrow is refunded; a buy
// order needs no ledger movement.
func (b *OrderBook) Cancel(tx Tx, caller Principal, orderID OrderID) error {
	o, ok := b.GetOrder(tx, orderID)
	if !ok {
		return wrapf(ErrNotFound, "order %d", orderID)
	}
	if caller.ID != o.Participant {
		return wrapf(ErrNotAuthorised, "only the owner may cancel order %d", orderID)
	}
	if o.Status.Terminal() {
		return wrapf(ErrConflict, "order %d is already %s", orderID, o.Status)
	}
	if o.Side == SideSell {
		if err := b.led.EscrowRefund(tx, orderID); err != nil {
			return err
		}
	}
	o.Status = OrderCancelled
	b.setOrder(tx, o)
	b.emit(EventOrderCancelled, map[string]any{"order_id": orderID})
	return nil
}

// ExpireEpochResiduals marks every non-terminal order still in epochID as
// Expired and refunds any residual sell escrow — called once clearing for
// that epoch has finished, driving the order state machine's
// "(epoch end) -> Expired" edge.
func (b *OrderBook) ExpireEpochResiduals(tx Tx, epochID EpochID) error {
	for _, o := range b.OrdersForEpoch(tx, epochID) {
		if o.Status.Terminal() {
			continue
		}
		if o.Side == SideSell {
			if err := b.led.EscrowRefund(tx, o.ID); err != nil {
				return err
			}
		}
		o.Status = OrderExpired
		b.setOrder(tx, o)
	}
	return nil
}

// EpochSummary is a market-snapshot read: total matched volume and the
// best remaining bid/ask for epochID.
type EpochSummary struct {
	EpochID      EpochID
	BestBid      uint64
	BestAsk      uint64
	OpenVolume   uint64
	TradedVolume uint64
}

// Summary computes an EpochSummary by scanning the epoch's orders — a
// pure read with no side effects.
func (b *OrderBook) Summary(tx Tx, epochID EpochID) EpochSummary {
	s := EpochSummary{EpochID: epochID}
	for _, o := range b.OrdersForEpoch(tx, epochID) {
		remaining := o.EnergyAmount - o.FilledAmount
		if !o.Status.Terminal() {
			s.OpenVolume += remaining
			switch o.Side {
			case SideSell:
				if s.BestAsk == 0 || o.LimitPrice < s.BestAsk {
					s.BestAsk = o.LimitPrice
				}
			case SideBuy:
				if o.LimitPrice > s.BestBid {
					s.BestBid = o.LimitPrice
				}
			}
		}
		s.TradedVolume += o.FilledAmount
	}
	return s
}

func (b *OrderBook) emit(kind EventKind, fields map[string]any) {
	if b.sink == nil {
		return
	}
	b.sink.Emit(Event{Kind: kind, At: time.Now(), Fields: fields})
}
