package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/agroshield/droughtcover/internal/model"
)

// HTTPOracle pulls quotes from a REST price service. The circuit breaker
// keeps a flapping upstream from stalling every policy creation.
type HTTPOracle struct {
	baseURL string
	maxAge  time.Duration
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	clock   func() time.Time
}

func NewHTTPOracle(baseURL string, maxAge, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		maxAge:  maxAge,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "price-oracle",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
		clock: time.Now,
	}
}

type rateResponse struct {
	Rate string    `json:"rate"`
	AsOf time.Time `json:"as_of"`
}

func (o *HTTPOracle) Quote(ctx context.Context, base, quote model.Currency) (Quote, error) {
	if base == quote {
		return Quote{Rate: decimal.NewFromInt(1), AsOf: o.clock()}, nil
	}
	out, err := o.breaker.Execute(func() (interface{}, error) {
		return o.fetch(ctx, base, quote)
	})
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %s/%s: %v", ErrRateUnavailable, base, quote, err)
	}
	q := out.(Quote)
	if !q.Fresh(o.clock(), o.maxAge) {
		return Quote{}, fmt.Errorf("%w: %s/%s quote stale (as of %s)",
			ErrRateUnavailable, base, quote, q.AsOf.Format(time.RFC3339))
	}
	if !q.Rate.IsPositive() {
		return Quote{}, fmt.Errorf("%w: %s/%s invalid rate %s",
			ErrRateUnavailable, base, quote, q.Rate)
	}
	return q, nil
}

func (o *HTTPOracle) fetch(ctx context.Context, base, quote model.Currency) (Quote, error) {
	url := fmt.Sprintf("%s/rates?base=%s&quote=%s", o.baseURL, base, quote)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := o.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Quote{}, fmt.Errorf("rate service status %d: %s", resp.StatusCode, string(b))
	}
	var rr rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return Quote{}, err
	}
	rate, err := decimal.NewFromString(rr.Rate)
	if err != nil {
		return Quote{}, fmt.Errorf("bad rate %q: %v", rr.Rate, err)
	}
	return Quote{Rate: rate, AsOf: rr.AsOf}, nil
}
