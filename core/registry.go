package core

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	participantPrefix = "reg:participant:"
	meterPrefix       = "reg:meter:"
	validatorPrefix   = "reg:validator:"
	failCountPrefix   = "reg:failcount:"
	minValidatorsKey  = "reg:min_validators"
)

// Registry is the authoritative identity and authorisation source:
// participant kind/status, meter ownership, and the validator set. It holds
// no store/cache of its own: every method takes the caller's open Tx
// directly, so Registry mutations and Ledger/OrderBook mutations in the
// same operation commit or roll back together.
type Registry struct {
	log *logrus.Entry
}

// NewRegistry returns a Registry.
func NewRegistry() *Registry {
	return &Registry{log: logrus.WithField("component", "registry")}
}

func participantKey(id ParticipantID) []byte { return []byte(participantPrefix + id.Hex()) }
func meterKey(id MeterID) []byte              { return []byte(meterPrefix + string(id)) }
func validatorKey(k ValidatorKey) []byte      { return []byte(validatorPrefix + k.Hex()) }
func failCountKey(k ValidatorKey) []byte      { return []byte(failCountPrefix + k.Hex()) }

// RegisterParticipant creates a new Participant. Admin-only.
func (r *Registry) RegisterParticipant(tx Tx, caller Principal, kind ParticipantKind, location string, now time.Time) (ParticipantID, error) {
	if !caller.isAdmin() {
		return ParticipantID{}, wrapf(ErrNotAuthorised, "register_participant requires Admin")
	}
	if kind < KindProsumer || kind > KindAdmin {
		return ParticipantID{}, wrapf(ErrInvalidArgument, "unknown participant kind %d", kind)
	}
	id, err := newParticipantID()
	if err != nil {
		return ParticipantID{}, wrapf(ErrTransientStorage, "generate participant id")
	}
	if tx.Has(participantKey(id)) {
		return ParticipantID{}, wrapf(ErrConflict, "participant id collision")
	}
	p := Participant{ID: id, Kind: kind, Status: StatusActive, Location: location, RegisteredAt: now}
	tx.Set(participantKey(id), encode(p))
	r.log.WithFields(logrus.Fields{"id": id.Hex(), "kind": kind}).Info("participant registered")
	return id, nil
}

// GetParticipant returns the Participant record, if any.
func (r *Registry) GetParticipant(tx Tx, id ParticipantID) (Participant, bool) {
	var p Participant
	raw, ok := tx.Get(participantKey(id))
	if !ok || !decode(raw, &p) {
		return Participant{}, false
	}
	return p, true
}

// UpdateStatus transitions a Participant's status. Admin-only.
// Active<->Suspended, Active->Deactivated and Suspended->Deactivated are
// permitted; Deactivated is terminal.
func (r *Registry) UpdateStatus(tx Tx, caller Principal, id ParticipantID, newStatus ParticipantStatus) error {
	if !caller.isAdmin() {
		return wrapf(ErrNotAuthorised, "update_status requires Admin")
	}
	p, ok := r.GetParticipant(tx, id)
	if !ok {
		return wrapf(ErrNotFound, "participant %s", id.Hex())
	}
	if p.Status == StatusDeactivated {
		return wrapf(ErrConflict, "participant %s is deactivated (terminal)", id.Hex())
	}
	switch {
	case p.Status == StatusActive && (newStatus == StatusSuspended || newStatus == StatusDeactivated):
	case p.Status == StatusSuspended && newStatus == StatusActive:
	case p.Status == StatusSuspended && newStatus == StatusDeactivated:
	default:
		return wrapf(ErrInvalidArgument, "illegal status transition %s -> %s", p.Status, newStatus)
	}
	p.Status = newStatus
	tx.Set(participantKey(id), encode(p))
	return nil
}

// IsVerified reports whether id refers to an Active participant. Read
// predicates never fail; absence is false.
func (r *Registry) IsVerified(tx Tx, id ParticipantID) bool {
	p, ok := r.GetParticipant(tx, id)
	return ok && p.Status == StatusActive
}

// IsProsumer reports whether id is an Active Prosumer, the only kind
// permitted to submit sell orders.
func (r *Registry) IsProsumer(tx Tx, id ParticipantID) bool {
	p, ok := r.GetParticipant(tx, id)
	return ok && p.Status == StatusActive && p.Kind == KindProsumer
}

// AssignMeter binds meterID to ownerID. Admin-only; rejects an already
// assigned meter, a non-Active owner, or breaching maxMetersPerParticipant.
func (r *Registry) AssignMeter(tx Tx, caller Principal, meterID MeterID, ownerID ParticipantID, kind MeterKind, maxMetersPerParticipant int, now time.Time) error {
	if !caller.isAdmin() {
		return wrapf(ErrNotAuthorised, "assign_meter requires Admin")
	}
	if meterID == "" {
		return wrapf(ErrInvalidArgument, "empty meter id")
	}
	if tx.Has(meterKey(meterID)) {
		return wrapf(ErrConflict, "meter %s already assigned", meterID)
	}
	if !r.IsVerified(tx, ownerID) {
		return wrapf(ErrNotVerified, "owner %s is not Active", ownerID.Hex())
	}
	if count := r.meterCount(tx, ownerID); count >= maxMetersPerParticipant {
		return wrapf(ErrQuotaExceeded, "owner %s already has %d meters", ownerID.Hex(), count)
	}
	m := Meter{ID: meterID, Owner: ownerID, Kind: kind, Status: MeterActive, LastReadingTS: now}
	tx.Set(meterKey(meterID), encode(m))
	r.log.WithFields(logrus.Fields{"meter": meterID, "owner": ownerID.Hex()}).Info("meter assigned")
	return nil
}

// UnassignMeter clears ownership, making the meter reassignable. Admin-only.
func (r *Registry) UnassignMeter(tx Tx, caller Principal, meterID MeterID) error {
	if !caller.isAdmin() {
		return wrapf(ErrNotAuthorised, "unassign_meter requires Admin")
	}
	if !tx.Has(meterKey(meterID)) {
		return wrapf(ErrNotFound, "meter %s", meterID)
	}
	tx.Delete(meterKey(meterID))
	return nil
}

func (r *Registry) meterCount(tx Tx, owner ParticipantID) int {
	n := 0
	for _, kv := range tx.PrefixIterator([]byte(meterPrefix)) {
		var m Meter
		if decode(kv[1], &m) && m.Owner == owner {
			n++
		}
	}
	return n
}

// GetMeter returns the Meter record, if any.
func (r *Registry) GetMeter(tx Tx, meterID MeterID) (Meter, bool) {
	var m Meter
	raw, ok := tx.Get(meterKey(meterID))
	if !ok || !decode(raw, &m) {
		return Meter{}, false
	}
	return m, true
}

// MeterOwner returns meterID's owning participant.
func (r *Registry) MeterOwner(tx Tx, meterID MeterID) (ParticipantID, bool) {
	m, ok := r.GetMeter(tx, meterID)
	if !ok {
		return ParticipantID{}, false
	}
	return m.Owner, true
}

// MeterCumulative returns a meter's running generated/consumed totals.
func (r *Registry) MeterCumulative(tx Tx, meterID MeterID) (generated, consumed uint64, ok bool) {
	m, found := r.GetMeter(tx, meterID)
	if !found {
		return 0, 0, false
	}
	return m.CumulativeGenerate, m.CumulativeConsume, true
}

// UpdateMeterCumulative bumps a meter's running totals and last-reading
// timestamp. Enforces the meter-monotonicity invariant: readingTS must be
// strictly newer than the meter's current LastReadingTS, and cumulative
// totals never decrease. Called only by Oracle Ingest on a successfully
// validated, non-duplicate reading.
func (r *Registry) UpdateMeterCumulative(tx Tx, meterID MeterID, generatedDelta, consumedDelta uint64, readingTS time.Time) error {
	m, ok := r.GetMeter(tx, meterID)
	if !ok {
		return wrapf(ErrNotFound, "meter %s", meterID)
	}
	if !m.LastReadingTS.IsZero() && !readingTS.After(m.LastReadingTS) {
		return wrapf(ErrIntegrityViolation, "meter %s reading_ts %s not after last %s", meterID, readingTS, m.LastReadingTS)
	}
	m.CumulativeGenerate += generatedDelta
	m.CumulativeConsume += consumedDelta
	m.LastReadingTS = readingTS
	tx.Set(meterKey(meterID), encode(m))
	return nil
}

// AddValidator appoints a new Active validator. Admin-only.
func (r *Registry) AddValidator(tx Tx, caller Principal, pubkey ValidatorKey, authorityName string, now time.Time) error {
	if !caller.isAdmin() {
		return wrapf(ErrNotAuthorised, "add_validator requires Admin")
	}
	if tx.Has(validatorKey(pubkey)) {
		return wrapf(ErrConflict, "validator %s already registered", pubkey.Hex())
	}
	v := Validator{PubKey: pubkey, Authority: authorityName, Active: true, AddedAt: now}
	tx.Set(validatorKey(pubkey), encode(v))
	return nil
}

// RemoveValidator deactivates a validator. Admin-only; rejected if active
// count would drop below minRECValidators.
func (r *Registry) RemoveValidator(tx Tx, caller Principal, pubkey ValidatorKey, minRECValidators int) error {
	if !caller.isAdmin() {
		return wrapf(ErrNotAuthorised, "remove_validator requires Admin")
	}
	v, ok := r.getValidator(tx, pubkey)
	if !ok {
		return wrapf(ErrNotFound, "validator %s", pubkey.Hex())
	}
	if !v.Active {
		return nil
	}
	if r.ActiveValidatorCount(tx)-1 < minRECValidators {
		return wrapf(ErrIntegrityViolation, "removing validator %s would breach min_rec_validators=%d", pubkey.Hex(), minRECValidators)
	}
	v.Active = false
	tx.Set(validatorKey(pubkey), encode(v))
	return nil
}

// SetMinValidators records the configured validator quorum, rejecting any
// value greater than the current active count.
func (r *Registry) SetMinValidators(tx Tx, caller Principal, n int) error {
	if !caller.isAdmin() {
		return wrapf(ErrNotAuthorised, "set_min_validators requires Admin")
	}
	if n < 0 {
		return wrapf(ErrInvalidArgument, "negative min_rec_validators")
	}
	if n > r.ActiveValidatorCount(tx) {
		return wrapf(ErrIntegrityViolation, "min_rec_validators=%d exceeds current active count", n)
	}
	tx.Set([]byte(minValidatorsKey), encode(n))
	return nil
}

// MinValidators returns the configured quorum, falling back to fallback
// if never explicitly set.
func (r *Registry) MinValidators(tx Tx, fallback int) int {
	var n int
	if raw, ok := tx.Get([]byte(minValidatorsKey)); ok && decode(raw, &n) {
		return n
	}
	return fallback
}

func (r *Registry) getValidator(tx Tx, pubkey ValidatorKey) (Validator, bool) {
	var v Validator
	raw, ok := tx.Get(validatorKey(pubkey))
	if !ok || !decode(raw, &v) {
		return Validator{}, false
	}
	return v, true
}

// IsActiveValidator reports whether pubkey is a currently Active validator.
func (r *Registry) IsActiveValidator(tx Tx, pubkey ValidatorKey) bool {
	v, ok := r.getValidator(tx, pubkey)
	return ok && v.Active
}

// ActiveValidatorCount counts validators currently Active.
func (r *Registry) ActiveValidatorCount(tx Tx) int {
	n := 0
	for _, kv := range tx.PrefixIterator([]byte(validatorPrefix)) {
		var v Validator
		if decode(kv[1], &v) && v.Active {
			n++
		}
	}
	return n
}

// RecordValidatorFailure tracks consecutive invalid-signature failures per
// validator and, once autoSuspendThreshold is reached (0 disables the
// feature), deactivates the validator the same way RemoveValidator does —
// but skips the quorum check, since an invalid signer being the
// difference between quorum and no quorum is exactly the failure case
// this guards against.
func (r *Registry) RecordValidatorFailure(tx Tx, pubkey ValidatorKey, autoSuspendThreshold int) error {
	if autoSuspendThreshold <= 0 {
		return nil
	}
	var n int
	if raw, ok := tx.Get(failCountKey(pubkey)); ok {
		decode(raw, &n)
	}
	n++
	tx.Set(failCountKey(pubkey), encode(n))
	if n < autoSuspendThreshold {
		return nil
	}
	v, ok := r.getValidator(tx, pubkey)
	if !ok || !v.Active {
		return nil
	}
	v.Active = false
	tx.Set(validatorKey(pubkey), encode(v))
	r.log.WithField("validator", pubkey.Hex()).Warn("validator auto-suspended after repeated invalid signatures")
	return nil
}

// ClearValidatorFailures resets a validator's failure counter, e.g. after a
// successfully verified fulfil_energy_data.
func (r *Registry) ClearValidatorFailures(tx Tx, pubkey ValidatorKey) {
	tx.Delete(failCountKey(pubkey))
}

func newParticipantID() (ParticipantID, error) {
	var id ParticipantID
	if _, err := rand.Read(id[:]); err != nil {
		return ParticipantID{}, fmt.Errorf("read random participant id: %w", err)
	}
	return id, nil
}
