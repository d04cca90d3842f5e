// Package core implements the trading and settlement engine for the campus
// energy marketplace: participant/meter registry, the token ledger with REC
// certification, the epoch-based order book and matching engine, and the
// oracle-ingest/scheduler pair that drives them.
package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ParticipantID is a stable, opaque 256-bit identifier assigned at
// registration. It is never reused and never derived from anything the
// participant controls.
type ParticipantID [32]byte

func (p ParticipantID) Bytes() []byte { return p[:] }
func (p ParticipantID) Hex() string   { return "0x" + hex.EncodeToString(p[:]) }
func (p ParticipantID) String() string {
	full := hex.EncodeToString(p[:])
	if len(full) <= 8 {
		return full
	}
	return fmt.Sprintf("%s..%s", full[:4], full[len(full)-4:])
}
func (p ParticipantID) IsZero() bool { return p == ParticipantID{} }

// MeterID is a printable, globally unique meter identifier assigned by
// whoever provisions the physical/smart meter hardware.
type MeterID string

// ValidatorKey is an Ed25519 public key identifying a REC validator.
type ValidatorKey [32]byte

func (v ValidatorKey) Hex() string { return hex.EncodeToString(v[:]) }

// RecID identifies a renewable energy certificate.
type RecID string

// OrderID, TradeID, RequestID and EpochID are monotonically increasing
// sequence numbers, minted by the Engine's global counters (never derived
// from wall-clock time; see counters.go).
type OrderID uint64
type TradeID uint64
type RequestID uint64
type EpochID uint64

// ParticipantKind enumerates the roles a participant may hold.
type ParticipantKind uint8

const (
	KindProsumer ParticipantKind = iota + 1
	KindConsumer
	KindValidator
	KindOperator
	KindAdmin
)

func (k ParticipantKind) String() string {
	switch k {
	case KindProsumer:
		return "Prosumer"
	case KindConsumer:
		return "Consumer"
	case KindValidator:
		return "Validator"
	case KindOperator:
		return "Operator"
	case KindAdmin:
		return "Admin"
	default:
		return "Unknown"
	}
}

// ParticipantStatus is the lifecycle state of a Participant.
type ParticipantStatus uint8

const (
	StatusActive ParticipantStatus = iota + 1
	StatusSuspended
	StatusDeactivated
)

func (s ParticipantStatus) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusSuspended:
		return "Suspended"
	case StatusDeactivated:
		return "Deactivated"
	default:
		return "Unknown"
	}
}

// Participant is the authoritative identity record for a registry entrant.
type Participant struct {
	ID           ParticipantID
	Kind         ParticipantKind
	Status       ParticipantStatus
	Location     string
	RegisteredAt time.Time
}

// MeterKind enumerates the generation/consumption class of a meter.
type MeterKind uint8

const (
	MeterSolar MeterKind = iota + 1
	MeterWind
	MeterHydro
	MeterLoad
	MeterGrid
)

func (k MeterKind) String() string {
	switch k {
	case MeterSolar:
		return "Solar"
	case MeterWind:
		return "Wind"
	case MeterHydro:
		return "Hydro"
	case MeterLoad:
		return "Load"
	case MeterGrid:
		return "Grid"
	default:
		return "Unknown"
	}
}

// MeterStatus is the lifecycle state of a Meter.
type MeterStatus uint8

const (
	MeterActive MeterStatus = iota + 1
	MeterInactive
	MeterMaintenance
)

// Meter is a smart meter assigned to at most one participant at a time.
type Meter struct {
	ID                 MeterID
	Owner              ParticipantID
	Kind               MeterKind
	Status             MeterStatus
	CumulativeGenerate uint64
	CumulativeConsume  uint64
	LastReadingTS      time.Time
}

// Validator is an admin-appointed signer authorised to certify renewable
// generation events.
type Validator struct {
	PubKey    ValidatorKey
	Authority string
	Active    bool
	AddedAt   time.Time
}

// OrderSide distinguishes sell (ask) from buy (bid) orders.
type OrderSide uint8

const (
	SideSell OrderSide = iota + 1
	SideBuy
)

// OrderStatus is the lifecycle state of an Order (see spec §4.3 state
// machine).
type OrderStatus uint8

const (
	OrderActive OrderStatus = iota + 1
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
	OrderExpired
	OrderFailed
)

func (s OrderStatus) String() string {
	switch s {
	case OrderActive:
		return "Active"
	case OrderPartiallyFilled:
		return "PartiallyFilled"
	case OrderFilled:
		return "Filled"
	case OrderCancelled:
		return "Cancelled"
	case OrderExpired:
		return "Expired"
	case OrderFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further field mutation is permitted.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderExpired, OrderFailed:
		return true
	default:
		return false
	}
}

// Order is a limit order submitted into an epoch's book.
type Order struct {
	ID            OrderID
	Participant   ParticipantID
	Side          OrderSide
	LimitPrice    uint64
	EnergyAmount  uint64
	FilledAmount  uint64
	Status        OrderStatus
	EpochID       EpochID
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// Trade is an append-only settlement record. Trades are never mutated or
// deleted once written.
type Trade struct {
	ID            TradeID
	SellOrderID   OrderID
	BuyOrderID    OrderID
	Seller        ParticipantID
	Buyer         ParticipantID
	EnergyAmount  uint64
	ClearingPrice uint64
	FeeAmount     uint64
	EpochID       EpochID
	ExecutedAt    time.Time
}

// EpochState is the lifecycle state of an Epoch.
type EpochState uint8

const (
	EpochOpen EpochState = iota + 1
	EpochClearing
	EpochCleared
)

func (s EpochState) String() string {
	switch s {
	case EpochOpen:
		return "Open"
	case EpochClearing:
		return "Clearing"
	case EpochCleared:
		return "Cleared"
	default:
		return "Unknown"
	}
}

// Epoch is a fixed-duration clearing window.
type Epoch struct {
	ID      EpochID
	StartTS time.Time
	EndTS   time.Time
	State   EpochState
}

// CertStatus is the lifecycle state of a RECCertificate.
type CertStatus uint8

const (
	CertActive CertStatus = iota + 1
	CertRetired
	CertCancelled
)

func (s CertStatus) Terminal() bool { return s == CertRetired || s == CertCancelled }

// RECCertificate attests that a specific quantity of minted tokens
// corresponds to a certified renewable-energy source.
type RECCertificate struct {
	ID              RecID
	MeterID         MeterID
	EnergyAmount    uint64
	RenewableSource string
	Validator       ValidatorKey
	IssuedAt        time.Time
	Status          CertStatus
	RetiredAt       time.Time
	RetiredBy       ParticipantID
}

// RequestKind distinguishes the two kinds of oracle request.
type RequestKind uint8

const (
	RequestEnergyData RequestKind = iota + 1
	RequestMarketClearing
)

// RequestStatus is the lifecycle state of an OracleRequest.
type RequestStatus uint8

const (
	RequestPending RequestStatus = iota + 1
	RequestFulfilled
	RequestExpired
	RequestFailed
)

// OracleRequest tracks a pending data request raised against the oracle.
type OracleRequest struct {
	ID          RequestID
	Requester   ParticipantID
	Kind        RequestKind
	MeterID     MeterID
	Status      RequestStatus
	RequestedAt time.Time
	ExpiresAt   time.Time
	Response    string
}

// MeterReading is a single ingested, validator-signed meter sample.
type MeterReading struct {
	ID              string
	MeterID         MeterID
	Generated       uint64
	Consumed        uint64
	ReadingTS       time.Time
	IngestTS        time.Time
	ValidatorSig    []byte
	Validator       ValidatorKey
	Source          string
	Processed       bool
}

// ReadingID derives the deterministic reading identity spec §3 requires:
// one reading per (meter, reading timestamp).
func ReadingID(meter MeterID, readingTS time.Time) string {
	return fmt.Sprintf("%s@%d", meter, readingTS.UnixNano())
}

func orderIDString(id OrderID) string      { return fmt.Sprintf("%020d", uint64(id)) }
func tradeIDString(id TradeID) string      { return fmt.Sprintf("%020d", uint64(id)) }
func epochIDString(id EpochID) string      { return fmt.Sprintf("%020d", uint64(id)) }
func requestIDString(id RequestID) string  { return fmt.Sprintf("%020d", uint64(id)) }

// derivePrincipal produces a stable, deterministic ParticipantID for a
// fixed well-known role name. Unlike newParticipantID (random, for real
// registrants) this never changes across runs, which is required for the
// order-book principal identity referenced by every buyer's allowance.
func derivePrincipal(name string) ParticipantID {
	return ParticipantID(sha256.Sum256([]byte("campusgrid:principal:" + name)))
}

// OrderBookPrincipal is the fixed spender identity buyers grant allowance
// to; the matching engine is its only caller.
var OrderBookPrincipal = derivePrincipal("order_book")
