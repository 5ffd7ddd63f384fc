// Package pricing supplies conversion rates between currencies. A quote
// whose timestamp is unset or stale fails the requesting operation with
// ErrRateUnavailable; the engine never substitutes a default rate.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agroshield/droughtcover/internal/model"
)

var ErrRateUnavailable = errors.New("pricing: rate unavailable")

// Quote is one conversion rate observation: units of the quote currency
// per unit of the base currency, as of a point in time.
type Quote struct {
	Rate decimal.Decimal `json:"rate"`
	AsOf time.Time       `json:"as_of"`
}

// Fresh reports whether the quote is usable at now under maxAge.
func (q Quote) Fresh(now time.Time, maxAge time.Duration) bool {
	if q.AsOf.IsZero() {
		return false
	}
	return now.Sub(q.AsOf) <= maxAge
}

// Oracle is the external price reference collaborator.
type Oracle interface {
	Quote(ctx context.Context, base, quote model.Currency) (Quote, error)
}

// Static serves rates from an in-memory table, timestamped at call time.
// Used for fixture configuration and tests. Identity pairs always quote 1.
type Static struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
	clock func() time.Time
}

func NewStatic() *Static {
	return &Static{rates: make(map[string]decimal.Decimal), clock: time.Now}
}

// WithClock overrides the timestamp source. Returns the oracle for chaining.
func (s *Static) WithClock(clock func() time.Time) *Static {
	s.clock = clock
	return s
}

// Set records the rate for base->quote.
func (s *Static) Set(base, quote model.Currency, rate decimal.Decimal) {
	s.mu.Lock()
	s.rates[pairKey(base, quote)] = rate
	s.mu.Unlock()
}

func (s *Static) Quote(_ context.Context, base, quote model.Currency) (Quote, error) {
	if base == quote {
		return Quote{Rate: decimal.NewFromInt(1), AsOf: s.clock()}, nil
	}
	s.mu.RLock()
	rate, ok := s.rates[pairKey(base, quote)]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: no rate for %s/%s", ErrRateUnavailable, base, quote)
	}
	return Quote{Rate: rate, AsOf: s.clock()}, nil
}

func pairKey(base, quote model.Currency) string {
	return string(base) + "/" + string(quote)
}
