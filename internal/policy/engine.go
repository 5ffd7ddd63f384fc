// Package policy owns the per-policy lifecycle state machine:
// PendingPremium -> Active -> {Paid, Expired}, with PendingPremium ->
// Cancelled when the grace window lapses unpaid. Every operation runs as
// one atomic unit under the engine mutex, so a state transition and its
// fund movement commit together or not at all.
package policy

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agroshield/droughtcover/internal/attest"
	"github.com/agroshield/droughtcover/internal/ledger"
	"github.com/agroshield/droughtcover/internal/model"
	"github.com/agroshield/droughtcover/internal/model/messages"
	"github.com/agroshield/droughtcover/internal/pricing"
	"github.com/agroshield/droughtcover/internal/weather"
)

// Admission is the scheduler's due-set surface. The engine only requests
// placement; the scheduler owns it.
type Admission interface {
	Admit(id uuid.UUID)
	Evict(id uuid.UUID)
}

type Config struct {
	// GracePeriod is the window after creation during which the premium
	// must be paid.
	GracePeriod time.Duration
	// EvalInterval is the minimum spacing between evaluations.
	EvalInterval time.Duration
	// DroughtThreshold is the number of consecutive dry periods that
	// triggers payout.
	DroughtThreshold int
	// RateMaxAge bounds how old a conversion quote may be.
	RateMaxAge time.Duration
	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

func (c *Config) applyDefaults() {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 24 * time.Hour
	}
	if c.EvalInterval <= 0 {
		c.EvalInterval = 24 * time.Hour
	}
	if c.DroughtThreshold <= 0 {
		c.DroughtThreshold = 3
	}
	if c.RateMaxAge <= 0 {
		c.RateMaxAge = 5 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Engine is the arena of policies plus their escrow and collaborators.
// The scheduler references policies by id only; the engine holds the one
// mutable copy of each.
type Engine struct {
	mu  sync.Mutex
	cfg Config

	policies map[uuid.UUID]*model.Policy
	ledger   *ledger.Ledger
	oracle   pricing.Oracle
	weather  *weather.Aggregator
	sink     attest.Sink

	admission Admission
}

func NewEngine(led *ledger.Ledger, oracle pricing.Oracle, agg *weather.Aggregator, sink attest.Sink, cfg Config) *Engine {
	cfg.applyDefaults()
	if sink == nil {
		sink = attest.Noop{}
	}
	return &Engine{
		cfg:      cfg,
		policies: make(map[uuid.UUID]*model.Policy),
		ledger:   led,
		oracle:   oracle,
		weather:  agg,
		sink:     sink,
	}
}

// SetAdmission wires the scheduler in after both sides are constructed.
func (e *Engine) SetAdmission(a Admission) {
	e.mu.Lock()
	e.admission = a
	e.mu.Unlock()
}

// Ledger exposes the escrow ledger for settlement verification.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// SourceCount is the weather fetch cost of one evaluation.
func (e *Engine) SourceCount() int { return e.weather.SourceCount() }

// Create validates the terms, reserves the payout cover out of the
// operator's deposit and registers the policy as PendingPremium. Excess
// deposit is refunded to the operator immediately.
func (e *Engine) Create(ctx context.Context, terms model.Terms, deposit model.Money) (uuid.UUID, error) {
	if err := validateTerms(terms); err != nil {
		return uuid.Nil, err
	}
	if !deposit.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: non-positive deposit %s", ErrInvalidTerms, deposit)
	}

	required, err := e.requiredCover(ctx, terms, deposit.Currency)
	if err != nil {
		return uuid.Nil, err
	}
	if deposit.Value.LessThan(required) {
		return uuid.Nil, fmt.Errorf("%w: deposit %s, need %s %s to cover payout %s",
			ErrInsufficientFunding, deposit, required, deposit.Currency, terms.Payout)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Clock()
	p := &model.Policy{
		ID:        uuid.New(),
		Terms:     terms,
		State:     model.StatePendingPremium,
		CreatedAt: now,
	}
	if err := e.ledger.Reserve(p.ID, ledger.ReservePayout, deposit); err != nil {
		return uuid.Nil, err
	}
	if excess := deposit.Value.Sub(required); excess.IsPositive() {
		if err := e.ledger.RefundExcess(p.ID, ledger.ReservePayout, terms.Operator, excess); err != nil {
			return uuid.Nil, err
		}
	}
	e.policies[p.ID] = p

	log.Printf("engine: created policy %s payout=%s premium=%s grace-until=%s",
		p.ID, terms.Payout, terms.Premium, now.Add(e.cfg.GracePeriod).Format(time.RFC3339))
	e.notify(ctx, attest.KindPolicyCreated, lifecycleEvent(p, "", now))
	return p.ID, nil
}

// PayPremium activates the policy. Only the counterparty may pay, only
// while the grace window is open, and only with an amount covering the
// premium; overpayment is refunded to the payer.
func (e *Engine) PayPremium(ctx context.Context, id uuid.UUID, payer model.Party, amount model.Money) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.State != model.StatePendingPremium {
		return fmt.Errorf("%w: state is %s", ErrAlreadyPaid, p.State)
	}
	now := e.cfg.Clock()
	if now.After(p.CreatedAt.Add(e.cfg.GracePeriod)) {
		return fmt.Errorf("%w: grace ended %s", ErrGraceExpired,
			p.CreatedAt.Add(e.cfg.GracePeriod).Format(time.RFC3339))
	}
	if payer != p.Terms.Counterparty {
		return fmt.Errorf("%w: payer %s", ErrWrongPayer, payer)
	}
	if amount.Currency != p.Terms.Premium.Currency {
		return fmt.Errorf("%w: premium is due in %s, got %s",
			ErrInsufficientAmount, p.Terms.Premium.Currency, amount.Currency)
	}
	if amount.Value.LessThan(p.Terms.Premium.Value) {
		return fmt.Errorf("%w: paid %s, premium is %s", ErrInsufficientAmount, amount, p.Terms.Premium)
	}

	if err := e.ledger.Reserve(id, ledger.ReservePremium, amount); err != nil {
		return err
	}
	if excess := amount.Value.Sub(p.Terms.Premium.Value); excess.IsPositive() {
		if err := e.ledger.RefundExcess(id, ledger.ReservePremium, payer, excess); err != nil {
			return err
		}
	}
	p.State = model.StateActive
	p.ActivatedAt = now
	if e.admission != nil {
		e.admission.Admit(id)
	}

	log.Printf("engine: policy %s activated, coverage until %s",
		id, p.CoverageEnd().Format(time.RFC3339))
	e.notify(ctx, attest.KindPremiumPaid, lifecycleEvent(p, "", now))
	return nil
}

// CancelLapsed cancels a policy whose grace window elapsed unpaid and
// returns the payout reserve to the operator. Nothing is owed by either
// side.
func (e *Engine) CancelLapsed(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.State != model.StatePendingPremium {
		return fmt.Errorf("%w: state is %s", ErrAlreadyPaid, p.State)
	}
	now := e.cfg.Clock()
	if !now.After(p.CreatedAt.Add(e.cfg.GracePeriod)) {
		return fmt.Errorf("%w: until %s", ErrGraceNotElapsed,
			p.CreatedAt.Add(e.cfg.GracePeriod).Format(time.RFC3339))
	}

	p.State = model.StateCancelled
	if _, err := e.ledger.Release(id, ledger.ReservePayout, p.Terms.Operator); err != nil {
		return err
	}

	log.Printf("engine: policy %s cancelled, reserve returned to operator", id)
	e.notify(ctx, attest.KindCancellation, lifecycleEvent(p, "grace window lapsed unpaid", now))
	return nil
}

// Evaluate pulls one fresh reading per source, folds them into the
// aggregate and advances the dry streak. Reaching the drought threshold
// settles the payout. Unavailable or stale readings defer the evaluation
// with no state change.
func (e *Engine) Evaluate(ctx context.Context, id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.State != model.StateActive {
		return fmt.Errorf("%w: state is %s", ErrNotActive, p.State)
	}
	now := e.cfg.Clock()
	if now.After(p.CoverageEnd()) {
		return fmt.Errorf("%w: coverage ended %s", ErrCoverageElapsed,
			p.CoverageEnd().Format(time.RFC3339))
	}
	if !p.LastEvaluatedAt.IsZero() && now.Sub(p.LastEvaluatedAt) < e.cfg.EvalInterval {
		return fmt.Errorf("%w: last evaluation %s", ErrTooSoon,
			p.LastEvaluatedAt.Format(time.RFC3339))
	}

	readings, err := e.weather.Collect(ctx, p.Terms.Location)
	if err != nil {
		// Deferral, not failure: lastEvaluation unchanged, policy stays due.
		return fmt.Errorf("%w: %v", ErrReadingUnavailable, err)
	}

	agg := weather.Mean(readings)
	p.Window = readings
	p.Aggregate = agg
	p.LastEvaluatedAt = now
	p.EvalCount++
	if weather.Dry(agg) {
		p.DryStreak++
	} else {
		p.DryStreak = 0
	}

	log.Printf("engine: policy %s evaluation %d aggregate=%dmm streak=%d/%d",
		id, p.EvalCount, agg, p.DryStreak, e.cfg.DroughtThreshold)
	e.notify(ctx, attest.KindEvaluation, messages.EvaluationEvent{
		PolicyID:    p.ID.String(),
		AggregateMM: agg,
		DryStreak:   p.DryStreak,
		EvalCount:   p.EvalCount,
		Timestamp:   now,
	})

	if p.DryStreak >= e.cfg.DroughtThreshold {
		return e.settlePayout(ctx, p, now)
	}
	return nil
}

// settlePayout commits Paid and moves funds in the same critical section.
// Caller holds e.mu.
func (e *Engine) settlePayout(ctx context.Context, p *model.Policy, now time.Time) error {
	p.State = model.StatePaid
	payout, err := e.ledger.Release(p.ID, ledger.ReservePayout, p.Terms.Counterparty)
	if err != nil {
		return fmt.Errorf("payout release for %s: %w", p.ID, err)
	}
	if _, err := e.ledger.Release(p.ID, ledger.ReservePremium, p.Terms.Operator); err != nil {
		return fmt.Errorf("premium return for %s: %w", p.ID, err)
	}
	if e.admission != nil {
		e.admission.Evict(p.ID)
	}

	log.Printf("engine: policy %s PAID, released %s to %s after %d dry periods",
		p.ID, payout, p.Terms.Counterparty, p.DryStreak)
	e.notify(ctx, attest.KindPayout, lifecycleEvent(p, "drought threshold reached", now))
	return nil
}

// CheckExpiry transitions an Active policy past its coverage end to
// Expired and settles the escrow. The refund split depends on monitoring
// compliance: an operator who kept up the evaluation cadence keeps the
// premium; otherwise the counterparty gets the premium back.
func (e *Engine) CheckExpiry(ctx context.Context, id uuid.UUID) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.policies[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if p.State != model.StateActive {
		return false, nil
	}
	now := e.cfg.Clock()
	if !now.After(p.CoverageEnd()) {
		return false, nil
	}

	required := int(p.Terms.Duration/e.cfg.EvalInterval) - 1
	if required < 0 {
		required = 0
	}
	compliant := p.EvalCount >= required

	p.State = model.StateExpired
	premiumTo := p.Terms.Operator
	detail := "expired, monitoring compliant"
	if !compliant {
		// Under-monitoring penalty: the counterparty gets the premium back.
		premiumTo = p.Terms.Counterparty
		detail = fmt.Sprintf("expired, monitoring non-compliant (%d of %d evaluations)",
			p.EvalCount, required)
	}
	if _, err := e.ledger.Release(id, ledger.ReservePremium, premiumTo); err != nil {
		return false, fmt.Errorf("premium settlement for %s: %w", id, err)
	}
	if _, err := e.ledger.Release(id, ledger.ReservePayout, p.Terms.Operator); err != nil {
		return false, fmt.Errorf("reserve return for %s: %w", id, err)
	}
	if e.admission != nil {
		e.admission.Evict(id)
	}

	log.Printf("engine: policy %s expired (%s)", id, detail)
	e.notify(ctx, attest.KindExpiry, lifecycleEvent(p, detail, now))
	return true, nil
}

// IsDue reports whether the policy is eligible for an evaluation now.
func (e *Engine) IsDue(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[id]
	if !ok {
		return false
	}
	return p.IsDue(e.cfg.Clock(), e.cfg.EvalInterval)
}

// Get returns a value copy of the policy.
func (e *Engine) Get(id uuid.UUID) (model.Policy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.policies[id]
	if !ok {
		return model.Policy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *p
	out.Window = append([]model.Reading(nil), p.Window...)
	return out, nil
}

// requiredCover values the payout in the deposit currency.
func (e *Engine) requiredCover(ctx context.Context, terms model.Terms, depositCur model.Currency) (decimal.Decimal, error) {
	if depositCur == terms.Payout.Currency {
		return terms.Payout.Value, nil
	}
	q, err := e.oracle.Quote(ctx, depositCur, terms.Payout.Currency)
	if err != nil {
		return decimal.Zero, err
	}
	if !q.Fresh(e.cfg.Clock(), e.cfg.RateMaxAge) {
		return decimal.Zero, fmt.Errorf("%w: quote for %s/%s stale (as of %s)",
			pricing.ErrRateUnavailable, depositCur, terms.Payout.Currency,
			q.AsOf.Format(time.RFC3339))
	}
	// A non-positive rate is invalid oracle data, never a divisor.
	if !q.Rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: invalid rate %s for %s/%s",
			pricing.ErrRateUnavailable, q.Rate, depositCur, terms.Payout.Currency)
	}
	// Rate is payout-currency units per deposit-currency unit.
	return terms.Payout.Value.DivRound(q.Rate, 8), nil
}

// notify is fire-and-continue: the audit trail is best-effort, never a
// correctness dependency.
func (e *Engine) notify(ctx context.Context, kind attest.Kind, payload any) {
	if _, err := e.sink.Notify(ctx, kind, payload); err != nil {
		log.Printf("engine: attestation %s failed: %v", kind, err)
	}
}

func validateTerms(t model.Terms) error {
	switch {
	case t.Operator == "":
		return fmt.Errorf("%w: operator required", ErrInvalidTerms)
	case t.Counterparty == "":
		return fmt.Errorf("%w: counterparty required", ErrInvalidTerms)
	case !t.Premium.IsPositive():
		return fmt.Errorf("%w: premium must be positive", ErrInvalidTerms)
	case !t.Payout.IsPositive():
		return fmt.Errorf("%w: payout must be positive", ErrInvalidTerms)
	case t.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidTerms)
	}
	return nil
}

func lifecycleEvent(p *model.Policy, detail string, now time.Time) messages.PolicyLifecycleEvent {
	return messages.PolicyLifecycleEvent{
		PolicyID:     p.ID.String(),
		State:        string(p.State),
		Operator:     string(p.Terms.Operator),
		Counterparty: string(p.Terms.Counterparty),
		Detail:       detail,
		Timestamp:    now,
	}
}
