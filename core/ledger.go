package core

import (
	"github.com/sirupsen/logrus"
)

const (
	balancePrefix   = "ledger:balance:"
	allowancePrefix = "ledger:allowance:"
	totalSupplyKey  = "ledger:total_supply"
)

// Ledger maintains balances, allowances, escrow slots (ledger_escrow.go)
// and REC certificates (rec.go): a thin struct whose methods take the
// transaction directly and mutate keyed state through it. There is no
// block/WAL/UTXO/contract-call layer here, just balances and allowances.
// Registry is consulted read-only: Ledger calls into Registry, Registry
// never calls back into Ledger.
type Ledger struct {
	reg *Registry
	log *logrus.Entry
}

// NewLedger binds a Ledger to the Registry it reads authorisation state
// from.
func NewLedger(reg *Registry) *Ledger {
	return &Ledger{reg: reg, log: logrus.WithField("component", "ledger")}
}

func balanceKey(id ParticipantID) []byte { return []byte(balancePrefix + id.Hex()) }
func allowanceKey(owner, spender ParticipantID) []byte {
	return []byte(allowancePrefix + owner.Hex() + ":" + spender.Hex())
}

// BalanceOf returns a participant's free (non-escrowed) balance.
func (l *Ledger) BalanceOf(tx Tx, id ParticipantID) uint64 {
	var v uint64
	raw, ok := tx.Get(balanceKey(id))
	if !ok || !decode(raw, &v) {
		return 0
	}
	return v
}

func (l *Ledger) setBalance(tx Tx, id ParticipantID, v uint64) {
	tx.Set(balanceKey(id), encode(v))
}

// AllowanceOf returns the amount spender may move out of owner's balance.
func (l *Ledger) AllowanceOf(tx Tx, owner, spender ParticipantID) uint64 {
	var v uint64
	raw, ok := tx.Get(allowanceKey(owner, spender))
	if !ok || !decode(raw, &v) {
		return 0
	}
	return v
}

func (l *Ledger) setAllowance(tx Tx, owner, spender ParticipantID, v uint64) {
	tx.Set(allowanceKey(owner, spender), encode(v))
}

// TotalSupply returns the ledger-wide minted-and-not-burned total; it
// changes only through MintWithREC (+) and Burn (-), never through
// transfers or escrow movements (those are zero-sum).
func (l *Ledger) TotalSupply(tx Tx) uint64 {
	var v uint64
	raw, ok := tx.Get([]byte(totalSupplyKey))
	if !ok || !decode(raw, &v) {
		return 0
	}
	return v
}

func (l *Ledger) addTotalSupply(tx Tx, delta int64) {
	cur := l.TotalSupply(tx)
	next := int64(cur) + delta
	if next < 0 {
		next = 0
	}
	tx.Set([]byte(totalSupplyKey), encode(uint64(next)))
}

// Transfer moves amount of free balance from "from" to "to". from must be
// the caller and must be Active; balance(from) must be >= amount.
func (l *Ledger) Transfer(tx Tx, caller Principal, from, to ParticipantID, amount uint64) error {
	if amount == 0 {
		return wrapf(ErrInvalidArgument, "zero amount transfer")
	}
	if caller.ID != from {
		return wrapf(ErrNotAuthorised, "transfer must be signed by the sender")
	}
	if !l.reg.IsVerified(tx, from) {
		return wrapf(ErrNotVerified, "sender %s is not Active", from.Hex())
	}
	bal := l.BalanceOf(tx, from)
	if bal < amount {
		return wrapf(ErrInsufficientFunds, "balance %d < amount %d", bal, amount)
	}
	l.setBalance(tx, from, bal-amount)
	l.setBalance(tx, to, l.BalanceOf(tx, to)+amount)
	return nil
}

// Approve sets (not increments) spender's allowance over owner's balance.
func (l *Ledger) Approve(tx Tx, owner, spender ParticipantID, amount uint64) error {
	l.setAllowance(tx, owner, spender, amount)
	return nil
}

// IncreaseAllowance adds delta to spender's allowance over owner's balance.
func (l *Ledger) IncreaseAllowance(tx Tx, owner, spender ParticipantID, delta uint64) error {
	l.setAllowance(tx, owner, spender, l.AllowanceOf(tx, owner, spender)+delta)
	return nil
}

// DecreaseAllowance subtracts delta, saturating at zero.
func (l *Ledger) DecreaseAllowance(tx Tx, owner, spender ParticipantID, delta uint64) error {
	cur := l.AllowanceOf(tx, owner, spender)
	if delta > cur {
		l.setAllowance(tx, owner, spender, 0)
		return nil
	}
	l.setAllowance(tx, owner, spender, cur-delta)
	return nil
}

// TransferFrom moves amount from "from" to "to", consuming spender's
// allowance over "from" in the same commit.
func (l *Ledger) TransferFrom(tx Tx, spender, from, to ParticipantID, amount uint64) error {
	if amount == 0 {
		return wrapf(ErrInvalidArgument, "zero amount transfer_from")
	}
	allowed := l.AllowanceOf(tx, from, spender)
	if allowed < amount {
		return wrapf(ErrInsufficientFunds, "allowance %d < amount %d", allowed, amount)
	}
	bal := l.BalanceOf(tx, from)
	if bal < amount {
		return wrapf(ErrInsufficientFunds, "balance %d < amount %d", bal, amount)
	}
	l.setAllowance(tx, from, spender, allowed-amount)
	l.setBalance(tx, from, bal-amount)
	l.setBalance(tx, to, l.BalanceOf(tx, to)+amount)
	return nil
}

// Burn reduces from's balance and total_supply. Caller must be the
// authorised burner principal (the oracle ingest component's own
// Operator-kind principal).
func (l *Ledger) Burn(tx Tx, caller Principal, from ParticipantID, amount uint64) error {
	if caller.Kind != KindOperator {
		return wrapf(ErrNotAuthorised, "burn requires the Oracle Ingest operator principal")
	}
	if amount == 0 {
		return wrapf(ErrInvalidArgument, "zero amount burn")
	}
	bal := l.BalanceOf(tx, from)
	if bal < amount {
		return wrapf(ErrInsufficientFunds, "balance %d < burn amount %d", bal, amount)
	}
	l.setBalance(tx, from, bal-amount)
	l.addTotalSupply(tx, -int64(amount))
	return nil
}
