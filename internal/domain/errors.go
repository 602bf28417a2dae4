package domain

import "github.com/pkg/errors"

// Sentinel errors for the core. Callers match with errors.Is; every
// layer wraps them with context via pkg/errors.
var (
	// ErrValidation marks malformed transaction input. Nothing is
	// persisted; the caller must correct and resubmit.
	ErrValidation = errors.New("validation failed")

	// ErrPersistence marks a failed ledger write. The operation is
	// considered not to have happened and may be retried whole.
	ErrPersistence = errors.New("ledger persistence failed")

	// ErrPriceUnavailable means no usable price exists, fresh or stale.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrContention marks a bounded lock or refresh wait that expired.
	ErrContention = errors.New("contention timeout")
)
