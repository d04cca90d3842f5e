package core

import "github.com/sirupsen/logrus"

const escrowPrefix = "ledger:escrow:"

// EscrowSlot is a per-order locked sub-balance: one owner, one amount,
// released or refunded as a whole by the order book.
type EscrowSlot struct {
	OrderID OrderID
	Owner   ParticipantID
	Amount  uint64
}

func escrowKey(orderID OrderID) []byte {
	return []byte(escrowPrefixFor(orderID))
}

func escrowPrefixFor(orderID OrderID) string {
	return escrowPrefix + orderIDString(orderID)
}

var escrowLog = logrus.WithField("component", "ledger_escrow")

// EscrowLock moves amount out of owner's free balance into a new escrow
// slot for orderID. Called only by the Order Book on sell-order
// submission.
func (l *Ledger) EscrowLock(tx Tx, orderID OrderID, owner ParticipantID, amount uint64) error {
	if amount == 0 {
		return wrapf(ErrInvalidArgument, "zero amount escrow_lock")
	}
	if tx.Has(escrowKey(orderID)) {
		return wrapf(ErrConflict, "order %d already has an escrow slot", orderID)
	}
	bal := l.BalanceOf(tx, owner)
	if bal < amount {
		return wrapf(ErrInsufficientFunds, "balance %d < escrow amount %d", bal, amount)
	}
	l.setBalance(tx, owner, bal-amount)
	tx.Set(escrowKey(orderID), encode(EscrowSlot{OrderID: orderID, Owner: owner, Amount: amount}))
	return nil
}

func (l *Ledger) getEscrow(tx Tx, orderID OrderID) (EscrowSlot, bool) {
	var s EscrowSlot
	raw, ok := tx.Get(escrowKey(orderID))
	if !ok || !decode(raw, &s) {
		return EscrowSlot{}, false
	}
	return s, true
}

// EscrowBalance reports the amount currently locked for orderID.
func (l *Ledger) EscrowBalance(tx Tx, orderID OrderID) uint64 {
	s, ok := l.getEscrow(tx, orderID)
	if !ok {
		return 0
	}
	return s.Amount
}

// EscrowRelease moves amount out of orderID's escrow slot into
// toParticipant's free balance — used by the Matching Engine to pay a
// buyer the matched energy units out of the seller's locked escrow.
func (l *Ledger) EscrowRelease(tx Tx, orderID OrderID, toParticipant ParticipantID, amount uint64) error {
	s, ok := l.getEscrow(tx, orderID)
	if !ok {
		return wrapf(ErrNotFound, "no escrow slot for order %d", orderID)
	}
	if s.Amount < amount {
		return wrapf(ErrIntegrityViolation, "escrow slot %d has %d < release amount %d", orderID, s.Amount, amount)
	}
	s.Amount -= amount
	if s.Amount == 0 {
		tx.Delete(escrowKey(orderID))
	} else {
		tx.Set(escrowKey(orderID), encode(s))
	}
	l.setBalance(tx, toParticipant, l.BalanceOf(tx, toParticipant)+amount)
	return nil
}

// EscrowRefund returns whatever remains in orderID's escrow slot to its
// original owner — used on cancellation and on epoch-end expiry of a
// residual sell order.
func (l *Ledger) EscrowRefund(tx Tx, orderID OrderID) error {
	s, ok := l.getEscrow(tx, orderID)
	if !ok {
		return nil
	}
	tx.Delete(escrowKey(orderID))
	if s.Amount == 0 {
		return nil
	}
	l.setBalance(tx, s.Owner, l.BalanceOf(tx, s.Owner)+s.Amount)
	return nil
}
