package core

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by every core operation. Wrap with fmt.Errorf's
// %w (see pkg/utils.Wrap) to retain a message while keeping errors.Is
// working for callers.
var (
	ErrNotAuthorised      = errors.New("core: caller not authorised for this operation")
	ErrNotVerified        = errors.New("core: signature or proof did not verify")
	ErrInvalidArgument    = errors.New("core: invalid argument")
	ErrNotFound           = errors.New("core: entity not found")
	ErrConflict           = errors.New("core: conflicting state transition")
	ErrInsufficientFunds  = errors.New("core: insufficient balance or allowance")
	ErrQuotaExceeded      = errors.New("core: per-epoch or per-participant quota exceeded")
	ErrEpochClosing       = errors.New("core: epoch is clearing, no further mutation accepted")
	ErrExpired            = errors.New("core: resource has expired")
	ErrIntegrityViolation = errors.New("core: an invariant the ledger or book relies on was violated")
	ErrTransientStorage   = errors.New("core: storage adapter reported a transient failure")
)

// Kind classifies a sentinel error into the coarse bucket an external HTTP
// adapter (out of scope here) would map to a status code.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindAuth
	KindValidation
	KindNotFound
	KindConflict
	KindFunds
	KindQuota
	KindTiming
	KindIntegrity
	KindTransient
)

// Classify maps an error produced anywhere in core to its Kind. Errors not
// wrapping one of the package sentinels classify as KindUnknown.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNotAuthorised), errors.Is(err, ErrNotVerified):
		return KindAuth
	case errors.Is(err, ErrInvalidArgument):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrInsufficientFunds):
		return KindFunds
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuota
	case errors.Is(err, ErrEpochClosing), errors.Is(err, ErrExpired):
		return KindTiming
	case errors.Is(err, ErrIntegrityViolation):
		return KindIntegrity
	case errors.Is(err, ErrTransientStorage):
		return KindTransient
	default:
		return KindUnknown
	}
}

// HTTPStatus is the status code an out-of-scope HTTP adapter would use for
// a given Kind. Kept here so that adapter never has to re-derive the
// mapping from sentinel errors itself.
func HTTPStatus(k Kind) int {
	switch k {
	case KindAuth:
		return 403
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindFunds:
		return 402
	case KindQuota:
		return 429
	case KindTiming:
		return 410
	case KindIntegrity:
		return 500
	case KindTransient:
		return 503
	default:
		return 500
	}
}

// wrapf mirrors pkg/utils.Wrap's "%s: %w" convention for attaching context
// to a sentinel without losing errors.Is matchability.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}
