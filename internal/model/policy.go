package model

import (
	"time"

	"github.com/google/uuid"
)

// PolicyState is the lifecycle state of a policy.
type PolicyState string

const (
	StatePendingPremium PolicyState = "pending_premium"
	StateActive         PolicyState = "active"
	StatePaid           PolicyState = "paid"
	StateExpired        PolicyState = "expired"
	StateCancelled      PolicyState = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s PolicyState) Terminal() bool {
	return s == StatePaid || s == StateExpired || s == StateCancelled
}

// Terms are the immutable commercial terms of a policy.
type Terms struct {
	Operator     Party         `json:"operator"`
	Counterparty Party         `json:"counterparty"`
	Premium      Money         `json:"premium"`
	Payout       Money         `json:"payout"`
	Location     Location      `json:"location"`
	Duration     time.Duration `json:"duration"`
}

// Policy is one insurance coverage instance between operator and
// counterparty. The engine owns the only mutable copy; everything handed
// out of the arena is a value copy.
type Policy struct {
	ID        uuid.UUID   `json:"id"`
	Terms     Terms       `json:"terms"`
	State     PolicyState `json:"state"`
	CreatedAt time.Time   `json:"created_at"`

	ActivatedAt     time.Time `json:"activated_at,omitempty"`
	LastEvaluatedAt time.Time `json:"last_evaluated_at,omitempty"`
	EvalCount       int       `json:"eval_count"`

	// Window holds the most recent raw readings, one slot per source.
	Window    []Reading `json:"window,omitempty"`
	Aggregate int64     `json:"aggregate"`
	DryStreak int       `json:"dry_streak"`
}

// CoverageEnd returns the instant coverage stops. Zero until activation.
func (p *Policy) CoverageEnd() time.Time {
	if p.ActivatedAt.IsZero() {
		return time.Time{}
	}
	return p.ActivatedAt.Add(p.Terms.Duration)
}

// IsDue reports whether the policy is eligible for an evaluation at now.
func (p *Policy) IsDue(now time.Time, evalInterval time.Duration) bool {
	if p.State != StateActive {
		return false
	}
	if now.After(p.CoverageEnd()) {
		return false
	}
	if p.LastEvaluatedAt.IsZero() {
		return true
	}
	return now.Sub(p.LastEvaluatedAt) >= evalInterval
}
