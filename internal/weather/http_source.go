package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/agroshield/droughtcover/internal/model"
)

// HTTPSource polls a REST rainfall provider. Transient failures are
// retried with exponential backoff; a persistently failing provider trips
// the breaker so evaluations defer quickly instead of timing out.
type HTTPSource struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewHTTPSource(name, baseURL, apiKey string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "weather-" + name,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (s *HTTPSource) Name() string { return s.name }

type rainResponse struct {
	RainMM     int64     `json:"rain_mm"`
	ObservedAt time.Time `json:"observed_at"`
}

func (s *HTTPSource) Fetch(ctx context.Context, loc model.Location) (model.Reading, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		var rr rainResponse
		op := func() error {
			var ferr error
			rr, ferr = s.get(ctx, loc)
			return ferr
		}
		bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
		if err := backoff.Retry(op, bo); err != nil {
			return nil, err
		}
		return rr, nil
	})
	if err != nil {
		return model.Reading{}, err
	}
	rr := out.(rainResponse)
	return model.Reading{Source: s.name, RainMM: rr.RainMM, ObservedAt: rr.ObservedAt}, nil
}

func (s *HTTPSource) get(ctx context.Context, loc model.Location) (rainResponse, error) {
	url := fmt.Sprintf("%s/rainfall?lat=%f&lon=%f&appid=%s",
		s.baseURL, loc.Latitude, loc.Longitude, s.apiKey)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := s.client.Do(req)
	if err != nil {
		return rainResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return rainResponse{}, fmt.Errorf("%s status %d: %s", s.name, resp.StatusCode, string(b))
	}
	var rr rainResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return rainResponse{}, err
	}
	return rr, nil
}
