// Package ledger implements currency-exact escrow custody per policy.
// Funds enter a reserve bucket on deposit and leave only through release
// or refund; for every bucket, at all times,
// deposited == released + refunded + remaining.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agroshield/droughtcover/internal/model"
)

// ReserveKind names the two escrow buckets a policy can hold.
type ReserveKind string

const (
	ReservePayout  ReserveKind = "payout"
	ReservePremium ReserveKind = "premium"
)

var (
	ErrNoAccount = errors.New("ledger: no escrow account for policy")
	ErrNoReserve = errors.New("ledger: no such reserve")
	// ErrInvariant marks a movement the state machine's guards must make
	// unreachable: over-release, currency mix within a bucket, negative
	// amounts. It is a programming-error class, not a user condition.
	ErrInvariant = errors.New("ledger: escrow invariant violation")
)

type bucket struct {
	currency  model.Currency
	deposited decimal.Decimal
	released  decimal.Decimal
	refunded  decimal.Decimal
	remaining decimal.Decimal
}

// Ledger holds escrow buckets keyed by policy id, with no cross-policy
// commingling, and tracks cumulative credits per party so settlement can
// be verified externally.
type Ledger struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]map[ReserveKind]*bucket
	credits  map[model.Party]map[model.Currency]decimal.Decimal
}

func New() *Ledger {
	return &Ledger{
		accounts: make(map[uuid.UUID]map[ReserveKind]*bucket),
		credits:  make(map[model.Party]map[model.Currency]decimal.Decimal),
	}
}

// Reserve deposits m into the policy's bucket of the given kind, creating
// the bucket on first use. Re-reserving adds to the bucket; the currency
// must match the one the bucket was opened with.
func (l *Ledger) Reserve(policy uuid.UUID, kind ReserveKind, m model.Money) error {
	if !m.IsPositive() {
		return fmt.Errorf("%w: reserve of non-positive amount %s", ErrInvariant, m)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acct := l.accounts[policy]
	if acct == nil {
		acct = make(map[ReserveKind]*bucket, 2)
		l.accounts[policy] = acct
	}
	b := acct[kind]
	if b == nil {
		b = &bucket{currency: m.Currency}
		acct[kind] = b
	}
	if b.currency != m.Currency {
		return fmt.Errorf("%w: %s reserve holds %s, got deposit in %s",
			ErrInvariant, kind, b.currency, m.Currency)
	}
	b.deposited = b.deposited.Add(m.Value)
	b.remaining = b.remaining.Add(m.Value)
	return nil
}

// Release moves the full remaining balance of the bucket to the given
// party and returns the amount moved. Releasing an empty or missing
// bucket returns zero money and no error, so settlement code does not
// need to special-case the never-funded premium bucket.
func (l *Ledger) Release(policy uuid.UUID, kind ReserveKind, to model.Party) (model.Money, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucket(policy, kind)
	if b == nil || b.remaining.IsZero() {
		return model.Money{}, nil
	}
	amount := b.remaining
	b.released = b.released.Add(amount)
	b.remaining = decimal.Zero
	l.credit(to, b.currency, amount)
	return model.NewMoney(b.currency, amount), nil
}

// RefundExcess returns part of a reserve to the given party, typically
// the overpaid slice of a deposit or premium.
func (l *Ledger) RefundExcess(policy uuid.UUID, kind ReserveKind, to model.Party, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative refund", ErrInvariant)
	}
	if amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucket(policy, kind)
	if b == nil {
		return fmt.Errorf("%w: policy %s kind %s", ErrNoReserve, policy, kind)
	}
	if amount.GreaterThan(b.remaining) {
		return fmt.Errorf("%w: refund %s exceeds remaining %s",
			ErrInvariant, amount, b.remaining)
	}
	b.refunded = b.refunded.Add(amount)
	b.remaining = b.remaining.Sub(amount)
	l.credit(to, b.currency, amount)
	return nil
}

// Remaining reports the balance still held in the bucket. Zero money for
// a missing bucket.
func (l *Ledger) Remaining(policy uuid.UUID, kind ReserveKind) model.Money {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucket(policy, kind)
	if b == nil {
		return model.Money{}
	}
	return model.NewMoney(b.currency, b.remaining)
}

// PartyBalance is the cumulative amount credited to a party in a currency
// across all releases and refunds.
func (l *Ledger) PartyBalance(p model.Party, c model.Currency) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	byCur := l.credits[p]
	if byCur == nil {
		return decimal.Zero
	}
	v, ok := byCur[c]
	if !ok {
		return decimal.Zero
	}
	return v
}

// Conserved verifies deposited == released + refunded + remaining for
// every bucket of the policy. True for a policy with no account.
func (l *Ledger) Conserved(policy uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.accounts[policy] {
		out := b.released.Add(b.refunded).Add(b.remaining)
		if !b.deposited.Equal(out) {
			return false
		}
	}
	return true
}

func (l *Ledger) bucket(policy uuid.UUID, kind ReserveKind) *bucket {
	acct := l.accounts[policy]
	if acct == nil {
		return nil
	}
	return acct[kind]
}

func (l *Ledger) credit(p model.Party, c model.Currency, amount decimal.Decimal) {
	byCur := l.credits[p]
	if byCur == nil {
		byCur = make(map[model.Currency]decimal.Decimal)
		l.credits[p] = byCur
	}
	byCur[c] = byCur[c].Add(amount)
}
