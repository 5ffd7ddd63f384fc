package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroshield/droughtcover/internal/attest"
	"github.com/agroshield/droughtcover/internal/ledger"
	"github.com/agroshield/droughtcover/internal/model"
	"github.com/agroshield/droughtcover/internal/policy"
	"github.com/agroshield/droughtcover/internal/pricing"
	"github.com/agroshield/droughtcover/internal/scheduler"
	"github.com/agroshield/droughtcover/internal/weather"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type source struct {
	name string
	clk  *clock

	mu   sync.Mutex
	rain int64
}

func (s *source) Name() string { return s.name }

func (s *source) Fetch(context.Context, model.Location) (model.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.Reading{Source: s.name, RainMM: s.rain, ObservedAt: s.clk.Now()}, nil
}

func (s *source) set(rain int64) {
	s.mu.Lock()
	s.rain = rain
	s.mu.Unlock()
}

type rig struct {
	clk    *clock
	north  *source
	south  *source
	led    *ledger.Ledger
	engine *policy.Engine
	sched  *scheduler.Scheduler
}

func newRig(t *testing.T) *rig {
	t.Helper()
	clk := &clock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	north := &source{name: "north", clk: clk}
	south := &source{name: "south", clk: clk}
	agg := weather.NewAggregator([]weather.Source{north, south}, time.Hour).WithClock(clk.Now)
	led := ledger.New()

	eng := policy.NewEngine(led, pricing.NewStatic().WithClock(clk.Now), agg, attest.NewMemory(), policy.Config{
		GracePeriod:      24 * time.Hour,
		EvalInterval:     24 * time.Hour,
		DroughtThreshold: 3,
		Clock:            clk.Now,
	})
	sched := scheduler.New(eng, nil, scheduler.Config{
		CycleInterval: 24 * time.Hour,
		MaxBatchSize:  10,
		CycleBudget:   30,
		Clock:         clk.Now,
	})
	eng.SetAdmission(sched)
	return &rig{clk: clk, north: north, south: south, led: led, engine: eng, sched: sched}
}

func (r *rig) newActivePolicy(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	terms := model.Terms{
		Operator:     "op-1",
		Counterparty: "farmer-1",
		Premium:      model.NewMoney("USD", decimal.NewFromInt(100)),
		Payout:       model.NewMoney("USD", decimal.NewFromInt(1000)),
		Location:     model.Location{Label: "field-7"},
		Duration:     10 * 24 * time.Hour,
	}
	id, err := r.engine.Create(ctx, terms, model.NewMoney("USD", decimal.NewFromInt(1000)))
	require.NoError(t, err)
	require.NoError(t, r.engine.PayPremium(ctx, id, "farmer-1", model.NewMoney("USD", decimal.NewFromInt(100))))
	return id
}

// Three dry cycles drive every admitted policy to payout, after which the
// due-set is empty and each counterparty credit equals one payout plus
// nothing else.
func TestDroughtAcrossCyclesPaysOutAndEvicts(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = r.newActivePolicy(t)
	}
	assert.Equal(t, 3, r.sched.Len())

	r.north.set(0)
	r.south.set(0)
	for cycle := 0; cycle < 3; cycle++ {
		sum, err := r.sched.RunCycle(ctx, r.sched.SelectBatch())
		require.NoError(t, err)
		assert.Equal(t, 3, sum.Processed)
		r.clk.Advance(24 * time.Hour)
	}

	assert.Equal(t, 0, r.sched.Len(), "paid policies leave the due-set")
	for _, id := range ids {
		p, err := r.engine.Get(id)
		require.NoError(t, err)
		assert.Equal(t, model.StatePaid, p.State)
		assert.True(t, r.led.Conserved(id))
	}
	assert.Equal(t, "3000", r.led.PartyBalance("farmer-1", "USD").String())
}

// The scheduler discovers expiry during a cycle and the engine's eviction
// request removes the policy mid-batch without disturbing the others.
func TestCycleExpiresRunOutPolicies(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	id := r.newActivePolicy(t)

	r.north.set(5)
	r.south.set(5)
	// Ride past the coverage end without evaluating in between.
	r.clk.Advance(11 * 24 * time.Hour)

	sum, err := r.sched.RunCycle(ctx, r.sched.SelectBatch())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Expired)

	p, err := r.engine.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.StateExpired, p.State)
	assert.Equal(t, 0, r.sched.Len())
	// Zero evaluations against a 10-day coverage is non-compliant: the
	// premium goes back to the counterparty.
	assert.Equal(t, "100", r.led.PartyBalance("farmer-1", "USD").String())
	assert.Equal(t, "1000", r.led.PartyBalance("op-1", "USD").String())
}

// Wet weather leaves policies active and due across cycles.
func TestWetCyclesKeepPoliciesActive(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	id := r.newActivePolicy(t)

	r.north.set(4)
	r.south.set(2)
	for cycle := 0; cycle < 3; cycle++ {
		_, err := r.sched.RunCycle(ctx, r.sched.SelectBatch())
		require.NoError(t, err)
		r.clk.Advance(24 * time.Hour)
	}

	p, err := r.engine.Get(id)
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, p.State)
	assert.Equal(t, 0, p.DryStreak)
	assert.Equal(t, 3, p.EvalCount)
	assert.Equal(t, 1, r.sched.Len())
}
