package policy

import "errors"

// Failure taxonomy. Validation, timing and funding errors are rejected
// synchronously with no state change; ErrReadingUnavailable defers the
// evaluation (the policy stays due); ledger.ErrInvariant is a
// programming-error class the guards below must make unreachable.
var (
	ErrNotFound            = errors.New("policy: not found")
	ErrInvalidTerms        = errors.New("policy: invalid terms")
	ErrInsufficientFunding = errors.New("policy: deposit does not cover payout reserve")
	ErrAlreadyPaid         = errors.New("policy: premium window closed for current state")
	ErrGraceExpired        = errors.New("policy: premium grace window elapsed")
	ErrGraceNotElapsed     = errors.New("policy: premium grace window still open")
	ErrWrongPayer          = errors.New("policy: payer is not the counterparty")
	ErrInsufficientAmount  = errors.New("policy: amount does not cover premium")
	ErrNotActive           = errors.New("policy: not active")
	ErrTooSoon             = errors.New("policy: evaluation interval not elapsed")
	ErrCoverageElapsed     = errors.New("policy: coverage period elapsed, run expiry check")
	ErrReadingUnavailable  = errors.New("policy: weather readings unavailable, evaluation deferred")
)
