package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroshield/droughtcover/internal/attest"
	"github.com/agroshield/droughtcover/internal/ledger"
	"github.com/agroshield/droughtcover/internal/model"
	"github.com/agroshield/droughtcover/internal/policy"
	"github.com/agroshield/droughtcover/internal/pricing"
	"github.com/agroshield/droughtcover/internal/scheduler"
	"github.com/agroshield/droughtcover/internal/services/admin/app"
	"github.com/agroshield/droughtcover/internal/weather"
)

type rainSource struct {
	name string
	rain int64
	now  func() time.Time
}

func (s *rainSource) Name() string { return s.name }

func (s *rainSource) Fetch(context.Context, model.Location) (model.Reading, error) {
	return model.Reading{Source: s.name, RainMM: s.rain, ObservedAt: s.now()}, nil
}

type fixture struct {
	mux    *http.ServeMux
	engine *policy.Engine
	sched  *scheduler.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := func() time.Time { return base }

	agg := weather.NewAggregator([]weather.Source{
		&rainSource{name: "north", now: now},
		&rainSource{name: "south", now: now},
	}, time.Hour).WithClock(now)

	eng := policy.NewEngine(ledger.New(), pricing.NewStatic().WithClock(now), agg, attest.NewMemory(), policy.Config{Clock: now})
	sched := scheduler.New(eng, nil, scheduler.Config{Clock: now})
	eng.SetAdmission(sched)

	a := app.New(app.Config{Addr: ":0"}, eng, sched, nil)
	return &fixture{mux: a.Routes(), engine: eng, sched: sched}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func createBody() map[string]any {
	return map[string]any{
		"operator":     "op-1",
		"counterparty": "farmer-1",
		"premium":      map[string]any{"currency": "USD", "value": "100"},
		"payout":       map[string]any{"currency": "USD", "value": "1000"},
		"location":     map[string]any{"label": "field-7"},
		"duration":     "240h",
		"deposit":      map[string]any{"currency": "USD", "value": "1000"},
	}
}

func (f *fixture) createPolicy(t *testing.T) uuid.UUID {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/policies", createBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	id, err := uuid.Parse(resp.ID)
	require.NoError(t, err)
	return id
}

func TestCreatePolicyAndFetch(t *testing.T) {
	f := newFixture(t)
	id := f.createPolicy(t)

	rec := f.do(t, http.MethodGet, "/policies/"+id.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		State         string      `json:"state"`
		PayoutReserve model.Money `json:"payout_reserve"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, string(model.StatePendingPremium), got.State)
	assert.Equal(t, "1000", got.PayoutReserve.Value.String())
}

func TestCreatePolicyRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	body := createBody()
	body["duration"] = "soon"
	rec := f.do(t, http.MethodPost, "/policies", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = createBody()
	body["premium"] = map[string]any{"currency": "USD", "value": "0"}
	rec = f.do(t, http.MethodPost, "/policies", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePolicyUnderfundedIs402(t *testing.T) {
	f := newFixture(t)
	body := createBody()
	body["deposit"] = map[string]any{"currency": "USD", "value": "999"}
	rec := f.do(t, http.MethodPost, "/policies", body)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestPayPremiumActivates(t *testing.T) {
	f := newFixture(t)
	id := f.createPolicy(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/policies/%s/premium", id), map[string]any{
		"payer":  "farmer-1",
		"amount": map[string]any{"currency": "USD", "value": "100"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	p, err := f.engine.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, p.State)
	assert.Equal(t, 1, f.sched.Len())

	// A second payment is a conflict, not a double charge.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/policies/%s/premium", id), map[string]any{
		"payer":  "farmer-1",
		"amount": map[string]any{"currency": "USD", "value": "100"},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPayPremiumWrongPayerIs400(t *testing.T) {
	f := newFixture(t)
	id := f.createPolicy(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/policies/%s/premium", id), map[string]any{
		"payer":  "stranger",
		"amount": map[string]any{"currency": "USD", "value": "100"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownPolicyIs404(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/policies/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/policies/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelBeforeGraceIsConflict(t *testing.T) {
	f := newFixture(t)
	id := f.createPolicy(t)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/policies/%s/cancel", id), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSchedulerControls(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/scheduler/interval", map[string]any{"interval": "1s"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "below the minimum interval")

	rec = f.do(t, http.MethodPut, "/scheduler/interval", map[string]any{"interval": "2h"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2*time.Hour, f.sched.Interval())

	rec = f.do(t, http.MethodPost, "/scheduler/disable", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, f.sched.IsCycleDue())

	rec = f.do(t, http.MethodPost, "/scheduler/enable", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestForceEvaluateReturnsSummary(t *testing.T) {
	f := newFixture(t)
	id := f.createPolicy(t)
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/policies/%s/premium", id), map[string]any{
		"payer":  "farmer-1",
		"amount": map[string]any{"currency": "USD", "value": "100"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/scheduler/force-evaluate", map[string]any{
		"ids": []string{id.String()},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var sum scheduler.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Processed)
}

func TestActivePagePagination(t *testing.T) {
	f := newFixture(t)
	id := f.createPolicy(t)
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/policies/%s/premium", id), map[string]any{
		"payer":  "farmer-1",
		"amount": map[string]any{"currency": "USD", "value": "100"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/scheduler/active?offset=0&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		IDs   []string `json:"ids"`
		Total int      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{id.String()}, got.IDs)
	assert.Equal(t, 1, got.Total)
}

func TestHealthReportsDegradedWithoutBroker(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)

	rec = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
