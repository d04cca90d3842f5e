package core

import (
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	requestPrefix = "oracle:request:"
	readingPrefix = "oracle:reading:"
)

// OracleIngest verifies meter packets, deduplicates them, and forwards net
// surplus generation to the Ledger as a certified mint, tracking each
// request through a Pending/Fulfilled/Expired/Failed lifecycle.
type OracleIngest struct {
	led *Ledger
	reg *Registry
	cfg MarketConfig
	sink Sink
	log *logrus.Entry
}

// NewOracleIngest wires the Oracle Ingest component to the Ledger and
// Registry it drives.
func NewOracleIngest(led *Ledger, reg *Registry, cfg MarketConfig, sink Sink) *OracleIngest {
	return &OracleIngest{led: led, reg: reg, cfg: cfg, sink: sink, log: logrus.WithField("component", "oracle")}
}

func requestKey(id RequestID) []byte { return []byte(requestPrefix + requestIDString(id)) }
func readingKey(id string) []byte    { return []byte(readingPrefix + id) }

// GetRequest returns an OracleRequest by id.
func (o *OracleIngest) GetRequest(tx Tx, id RequestID) (OracleRequest, bool) {
	var r OracleRequest
	raw, ok := tx.Get(requestKey(id))
	if !ok || !decode(raw, &r) {
		return OracleRequest{}, false
	}
	return r, true
}

func (o *OracleIngest) setRequest(tx Tx, r OracleRequest) { tx.Set(requestKey(r.ID), encode(r)) }

// RequestEnergyData opens an oracle request: the caller must be the
// meter's owner or an Admin, and must hold a nonzero free balance as an
// anti-spam gate — see DESIGN.md.
func (o *OracleIngest) RequestEnergyData(tx Tx, caller Principal, meterID MeterID, now time.Time) (RequestID, error) {
	owner, ok := o.reg.MeterOwner(tx, meterID)
	if !ok {
		return 0, wrapf(ErrNotFound, "meter %s", meterID)
	}
	if caller.ID != owner && !caller.isAdmin() {
		return 0, wrapf(ErrNotAuthorised, "caller is neither meter owner nor Admin")
	}
	if o.led.BalanceOf(tx, caller.ID) == 0 {
		return 0, wrapf(ErrInsufficientFunds, "requester %s holds zero balance", caller.ID.Hex())
	}
	id := nextRequestID(tx)
	req := OracleRequest{
		ID: id, Requester: caller.ID, Kind: RequestEnergyData, MeterID: meterID,
		Status: RequestPending, RequestedAt: now, ExpiresAt: now.Add(o.cfg.OracleRequestTimeout),
	}
	o.setRequest(tx, req)
	o.emit(EventOracleRequestCreated, map[string]any{"request_id": id, "meter_id": meterID})
	return id, nil
}

// CanonicalReadingBytes is the canonical byte encoding the wire protocol
// signs: (meter_id, reading_ts, generated, consumed, source).
func CanonicalReadingBytes(meterID MeterID, readingTS time.Time, generated, consumed uint64, source string) []byte {
	buf := make([]byte, 0, len(meterID)+8+8+8+len(source))
	buf = append(buf, []byte(meterID)...)
	var tsBuf, genBuf, conBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(readingTS.UnixNano()))
	binary.BigEndian.PutUint64(genBuf[:], generated)
	binary.BigEndian.PutUint64(conBuf[:], consumed)
	buf = append(buf, tsBuf[:]...)
	buf = append(buf, genBuf[:]...)
	buf = append(buf, conBuf[:]...)
	buf = append(buf, []byte(source)...)
	return buf
}

// FulfillEnergyData fulfils a pending oracle request. The caller must be
// an authorised oracle operator (Operator kind). Deduplication,
// signature verification, monotonicity, and the net-surplus mint all
// happen inside the same transaction the caller opened, so a failure at
// any step leaves no partial state.
func (o *OracleIngest) FulfillEnergyData(tx Tx, caller Principal, requestID RequestID, reading MeterReading, now time.Time) error {
	if caller.Kind != KindOperator {
		return wrapf(ErrNotAuthorised, "fulfill_energy_data requires an oracle operator principal")
	}
	req, ok := o.GetRequest(tx, requestID)
	if !ok {
		return wrapf(ErrNotFound, "oracle request %d", requestID)
	}
	if req.Status != RequestPending {
		return wrapf(ErrConflict, "oracle request %d is not Pending", requestID)
	}
	if now.After(req.ExpiresAt) {
		req.Status = RequestExpired
		o.setRequest(tx, req)
		return wrapf(ErrExpired, "oracle request %d expired at %s", requestID, req.ExpiresAt)
	}

	rid := ReadingID(reading.MeterID, reading.ReadingTS)
	if tx.Has(readingKey(rid)) {
		req.Status = RequestFulfilled
		req.Response = "duplicate reading, no mint"
		o.setRequest(tx, req)
		return nil
	}

	msg := CanonicalReadingBytes(reading.MeterID, reading.ReadingTS, reading.Generated, reading.Consumed, reading.Source)
	if len(reading.ValidatorSig) != ed25519.SignatureSize || !ed25519.Verify(reading.Validator[:], msg, reading.ValidatorSig) {
		req.Status = RequestFailed
		o.setRequest(tx, req)
		if err := o.reg.RecordValidatorFailure(tx, reading.Validator, o.cfg.AutoSuspendThreshold); err != nil {
			return err
		}
		return wrapf(ErrNotVerified, "invalid meter reading signature for %s", reading.MeterID)
	}

	owner, ok := o.reg.MeterOwner(tx, reading.MeterID)
	if !ok || !o.reg.IsVerified(tx, owner) {
		req.Status = RequestFailed
		o.setRequest(tx, req)
		return wrapf(ErrNotVerified, "meter %s owner is not Active", reading.MeterID)
	}

	consumedForSurplus := reading.Consumed
	if consumedForSurplus > reading.Generated {
		consumedForSurplus = reading.Generated
	}
	surplus := reading.Generated - consumedForSurplus

	if surplus > 0 {
		recID := RecID(uuid.NewString())
		if err := o.led.MintWithREC(tx, reading.Validator, owner, surplus, reading.MeterID, recID, reading.Source, now); err != nil {
			req.Status = RequestFailed
			o.setRequest(tx, req)
			return err
		}
		o.reg.ClearValidatorFailures(tx, reading.Validator)
		req.Response = string(recID)
	}

	if err := o.reg.UpdateMeterCumulative(tx, reading.MeterID, reading.Generated, reading.Consumed, reading.ReadingTS); err != nil {
		return err
	}

	reading.Processed = true
	reading.IngestTS = now
	tx.Set(readingKey(rid), encode(reading))

	req.Status = RequestFulfilled
	o.setRequest(tx, req)
	o.emit(EventOracleRequestFulfilled, map[string]any{"request_id": requestID, "meter_id": reading.MeterID, "surplus": surplus})
	return nil
}

// ExpirePendingRequests transitions every Pending request past its
// deadline to Expired — called by the Scheduler on every upkeep tick.
func (o *OracleIngest) ExpirePendingRequests(tx Tx, now time.Time) (int, error) {
	n := 0
	for _, kv := range tx.PrefixIterator([]byte(requestPrefix)) {
		var r OracleRequest
		if !decode(kv[1], &r) || r.Status != RequestPending {
			continue
		}
		if now.After(r.ExpiresAt) {
			r.Status = RequestExpired
			o.setRequest(tx, r)
			o.emit(EventOracleRequestExpired, map[string]any{"request_id": r.ID})
			n++
		}
	}
	return n, nil
}

func (o *OracleIngest) emit(kind EventKind, fields map[string]any) {
	if o.sink == nil {
		return
	}
	o.sink.Emit(Event{Kind: kind, At: time.Now(), Fields: fields})
}
