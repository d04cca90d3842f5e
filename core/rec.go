package core

import (
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

const recPrefix = "ledger:rec:"

var recLog = logrus.WithField("component", "rec")

func recKey(id RecID) []byte { return []byte(recPrefix + string(id)) }

// MintWithREC is the Ledger's sole minting path: the caller-supplied
// validator key must belong to an Active Validator and recID must be
// unused, or nothing is minted.
func (l *Ledger) MintWithREC(tx Tx, validator ValidatorKey, to ParticipantID, amount uint64, meterID MeterID, recID RecID, renewableSource string, now time.Time) error {
	if amount == 0 {
		return wrapf(ErrInvalidArgument, "zero amount mint_with_rec")
	}
	if !l.reg.IsActiveValidator(tx, validator) {
		return wrapf(ErrNotVerified, "validator %s is not Active", validator.Hex())
	}
	if tx.Has(recKey(recID)) {
		return wrapf(ErrConflict, "rec certificate %s already used", recID)
	}
	rec := RECCertificate{
		ID:              recID,
		MeterID:         meterID,
		EnergyAmount:    amount,
		RenewableSource: renewableSource,
		Validator:       validator,
		IssuedAt:        now,
		Status:          CertActive,
	}
	tx.Set(recKey(recID), encode(rec))
	l.setBalance(tx, to, l.BalanceOf(tx, to)+amount)
	l.addTotalSupply(tx, int64(amount))
	recLog.WithFields(logrus.Fields{"rec": recID, "meter": meterID, "amount": amount}).Info("rec issued")
	return nil
}

// GetREC returns a certificate by id, if any.
func (l *Ledger) GetREC(tx Tx, id RecID) (RECCertificate, bool) {
	var rec RECCertificate
	raw, ok := tx.Get(recKey(id))
	if !ok || !decode(raw, &rec) {
		return RECCertificate{}, false
	}
	return rec, true
}

// RetireREC is a terminal transition permitted only from Active; it
// records the retirer and timestamp.
func (l *Ledger) RetireREC(tx Tx, id RecID, retirer ParticipantID, now time.Time) error {
	rec, ok := l.GetREC(tx, id)
	if !ok {
		return wrapf(ErrNotFound, "rec certificate %s", id)
	}
	if rec.Status.Terminal() {
		return wrapf(ErrConflict, "rec certificate %s already %s", id, statusName(rec.Status))
	}
	rec.Status = CertRetired
	rec.RetiredAt = now
	rec.RetiredBy = retirer
	tx.Set(recKey(id), encode(rec))
	return nil
}

// CancelREC marks a certificate Cancelled instead of Retired — the data
// model's other terminal state, for certificates issued in error (e.g. an
// oracle-side reversal) rather than deliberately retired by a holder.
func (l *Ledger) CancelREC(tx Tx, id RecID, now time.Time) error {
	rec, ok := l.GetREC(tx, id)
	if !ok {
		return wrapf(ErrNotFound, "rec certificate %s", id)
	}
	if rec.Status.Terminal() {
		return wrapf(ErrConflict, "rec certificate %s already %s", id, statusName(rec.Status))
	}
	rec.Status = CertCancelled
	tx.Set(recKey(id), encode(rec))
	return nil
}

// ListRECsByMeter returns every certificate issued against meterID, oldest
// first.
func (l *Ledger) ListRECsByMeter(tx Tx, meterID MeterID) []RECCertificate {
	var out []RECCertificate
	for _, kv := range tx.PrefixIterator([]byte(recPrefix)) {
		var rec RECCertificate
		if decode(kv[1], &rec) && rec.MeterID == meterID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out
}

func statusName(s CertStatus) string {
	switch s {
	case CertActive:
		return "Active"
	case CertRetired:
		return "Retired"
	case CertCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}
