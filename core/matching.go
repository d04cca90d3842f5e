package core

import (
	"sort"
	"time"
)

// pendingMatch is one candidate trade the pure matcher proposes; the
// caller (OrderBook.ClearEpoch) still has to check funds and commit the
// ledger movements, since that part can fail: a single failing match
// should not abort clearing, it just continues with the next candidate.
type pendingMatch struct {
	SellOrderID OrderID
	BuyOrderID  OrderID
	Units       uint64
	Price       uint64
}

// matchOrders is the matching engine's deterministic core: given a frozen
// snapshot of Active/PartiallyFilled orders it always produces the same
// sequence of candidate matches, independent of storage backend or how
// many times it is re-run. It mutates no argument and allocates its own
// remaining-amount bookkeeping, keeping the algorithm pure: matching is a
// function of a frozen epoch snapshot only.
//
// Sort: sells ascending by (limit_price, created_at, order_id); buys
// descending by limit_price, then ascending by (created_at, order_id).
// Walk with a two-pointer cursor; a trade executes at the sell's limit
// price whenever sell.limit_price <= buy.limit_price, otherwise no further
// match is possible given the sort.
func matchOrders(sells, buys []Order) []pendingMatch {
	ss := make([]Order, len(sells))
	copy(ss, sells)
	bs := make([]Order, len(buys))
	copy(bs, buys)

	sort.Slice(ss, func(i, j int) bool {
		if ss[i].LimitPrice != ss[j].LimitPrice {
			return ss[i].LimitPrice < ss[j].LimitPrice
		}
		if !ss[i].CreatedAt.Equal(ss[j].CreatedAt) {
			return ss[i].CreatedAt.Before(ss[j].CreatedAt)
		}
		return ss[i].ID < ss[j].ID
	})
	sort.Slice(bs, func(i, j int) bool {
		if bs[i].LimitPrice != bs[j].LimitPrice {
			return bs[i].LimitPrice > bs[j].LimitPrice
		}
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		return bs[i].ID < bs[j].ID
	})

	remSell := make([]uint64, len(ss))
	for i, o := range ss {
		remSell[i] = o.EnergyAmount - o.FilledAmount
	}
	remBuy := make([]uint64, len(bs))
	for i, o := range bs {
		remBuy[i] = o.EnergyAmount - o.FilledAmount
	}

	var out []pendingMatch
	i, j := 0, 0
	for i < len(ss) && j < len(bs) {
		if remSell[i] == 0 {
			i++
			continue
		}
		if remBuy[j] == 0 {
			j++
			continue
		}
		if ss[i].LimitPrice > bs[j].LimitPrice {
			break
		}
		units := remSell[i]
		if remBuy[j] < units {
			units = remBuy[j]
		}
		out = append(out, pendingMatch{
			SellOrderID: ss[i].ID,
			BuyOrderID:  bs[j].ID,
			Units:       units,
			Price:       ss[i].LimitPrice,
		})
		remSell[i] -= units
		remBuy[j] -= units
	}
	return out
}

// feeFor computes the floor-rounded fee for a given trade value:
// fee_amount = floor(total_value * fee_bps / 10000). No floating point
// anywhere on this path.
func feeFor(totalValue, feeBps uint64) uint64 {
	return (totalValue * feeBps) / 10000
}

// ClearEpoch is the matching engine's impure half: it takes the orders of
// an epoch the caller has already moved to Clearing (anything else is
// rejected with ErrConflict), runs the pure matchOrders over them, and
// for each candidate match attempts the corresponding ledger movements. A
// single match failing for insufficient buyer funds is skipped (its buy
// order marked Failed, unless it already carries a partial fill —
// downgrading a partially-settled order to Failed would itself violate
// terminal-immutability once that fill is observable) and clearing
// continues with the next candidate, never aborting the whole batch. The
// residual pass (escrow refund + Expired) runs in ExpireEpochResiduals,
// which the caller (Scheduler) invokes after ClearEpoch and before it
// marks the epoch Cleared.
//
// Releasing the seller's escrow straight to the buyer (rather than just
// debiting the buyer's allowance) is required to keep the conservation
// invariant exact; see DESIGN.md.
func (b *OrderBook) ClearEpoch(tx Tx, epochID EpochID, now time.Time) ([]Trade, error) {
	epoch, ok := b.GetEpoch(tx, epochID)
	if !ok {
		return nil, wrapf(ErrNotFound, "epoch %d", epochID)
	}
	if epoch.State != EpochClearing {
		return nil, wrapf(ErrConflict, "epoch %d is not Clearing", epochID)
	}

	orders := b.OrdersForEpoch(tx, epochID)
	byID := make(map[OrderID]Order, len(orders))
	var sells, buys []Order
	for _, o := range orders {
		if o.Status.Terminal() {
			continue
		}
		byID[o.ID] = o
		if o.Side == SideSell {
			sells = append(sells, o)
		} else {
			buys = append(buys, o)
		}
	}

	failedBuyers := make(map[OrderID]bool)
	var trades []Trade
	for _, cand := range matchOrders(sells, buys) {
		if failedBuyers[cand.BuyOrderID] {
			continue
		}
		sellOrder := byID[cand.SellOrderID]
		buyOrder := byID[cand.BuyOrderID]
		if sellOrder.Status.Terminal() || buyOrder.Status.Terminal() {
			continue
		}

		totalValue := cand.Units * cand.Price
		fee := feeFor(totalValue, b.cfg.FeeBps)
		payToSeller := totalValue - fee

		if b.led.AllowanceOf(tx, buyOrder.Participant, OrderBookPrincipal) < totalValue ||
			b.led.BalanceOf(tx, buyOrder.Participant) < totalValue {
			if buyOrder.FilledAmount == 0 {
				buyOrder.Status = OrderFailed
				b.setOrder(tx, buyOrder)
				byID[buyOrder.ID] = buyOrder
			}
			failedBuyers[cand.BuyOrderID] = true
			continue
		}

		if err := b.led.EscrowRelease(tx, cand.SellOrderID, buyOrder.Participant, cand.Units); err != nil {
			return nil, err
		}
		if err := b.led.TransferFrom(tx, OrderBookPrincipal, buyOrder.Participant, sellOrder.Participant, payToSeller); err != nil {
			return nil, wrapf(ErrIntegrityViolation, "transfer_from seller leg: %v", err)
		}
		if fee > 0 {
			if err := b.led.TransferFrom(tx, OrderBookPrincipal, buyOrder.Participant, b.cfg.FeeRecipient, fee); err != nil {
				return nil, wrapf(ErrIntegrityViolation, "transfer_from fee leg: %v", err)
			}
		}

		sellOrder.FilledAmount += cand.Units
		buyOrder.FilledAmount += cand.Units
		sellOrder.Status = fillStatus(sellOrder)
		buyOrder.Status = fillStatus(buyOrder)
		b.setOrder(tx, sellOrder)
		b.setOrder(tx, buyOrder)
		byID[sellOrder.ID] = sellOrder
		byID[buyOrder.ID] = buyOrder

		trade := Trade{
			ID: nextTradeID(tx), SellOrderID: sellOrder.ID, BuyOrderID: buyOrder.ID,
			Seller: sellOrder.Participant, Buyer: buyOrder.Participant,
			EnergyAmount: cand.Units, ClearingPrice: cand.Price, FeeAmount: fee,
			EpochID: epochID, ExecutedAt: now,
		}
		tx.Set([]byte(tradePrefix+tradeIDString(trade.ID)), encode(trade))
		trades = append(trades, trade)
		b.emit(EventTradeExecuted, map[string]any{
			"trade_id": trade.ID, "sell_order_id": trade.SellOrderID, "buy_order_id": trade.BuyOrderID,
			"units": trade.EnergyAmount, "price": trade.ClearingPrice, "fee": trade.FeeAmount,
		})
	}
	return trades, nil
}

func fillStatus(o Order) OrderStatus {
	if o.FilledAmount >= o.EnergyAmount {
		return OrderFilled
	}
	if o.FilledAmount > 0 {
		return OrderPartiallyFilled
	}
	return o.Status
}

const tradePrefix = "book:trade:"

// GetTrade returns a committed Trade by id.
func (b *OrderBook) GetTrade(tx Tx, id TradeID) (Trade, bool) {
	var t Trade
	raw, ok := tx.Get([]byte(tradePrefix + tradeIDString(id)))
	if !ok || !decode(raw, &t) {
		return Trade{}, false
	}
	return t, true
}

// ListTradesForEpoch returns every Trade executed during epochID.
func (b *OrderBook) ListTradesForEpoch(tx Tx, epochID EpochID) []Trade {
	var out []Trade
	for _, kv := range tx.PrefixIterator([]byte(tradePrefix)) {
		var t Trade
		if decode(kv[1], &t) && t.EpochID == epochID {
			out = append(out, t)
		}
	}
	return out
}
