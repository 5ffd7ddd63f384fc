// Package attest mirrors lifecycle events to a best-effort audit trail.
// A sink failure is never fatal to the caller: the engine and scheduler
// log it and continue.
package attest

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Kind names a lifecycle event.
type Kind string

const (
	KindPolicyCreated  Kind = "policy_created"
	KindPremiumPaid    Kind = "premium_paid"
	KindEvaluation     Kind = "evaluation_recorded"
	KindPayout         Kind = "payout_triggered"
	KindExpiry         Kind = "policy_expired"
	KindCancellation   Kind = "policy_cancelled"
	KindCycleCompleted Kind = "cycle_completed"
)

// Ref identifies a recorded attestation.
type Ref string

// Sink receives lifecycle events.
type Sink interface {
	Notify(ctx context.Context, kind Kind, payload any) (Ref, error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) Notify(context.Context, Kind, any) (Ref, error) {
	return Ref(uuid.New().String()), nil
}

// Event is one recorded notification.
type Event struct {
	Kind    Kind
	Payload any
}

// Memory records events in order, for tests.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Notify(_ context.Context, kind Kind, payload any) (Ref, error) {
	m.mu.Lock()
	m.events = append(m.events, Event{Kind: kind, Payload: payload})
	m.mu.Unlock()
	return Ref(uuid.New().String()), nil
}

// Events returns a copy of everything recorded so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Kinds returns the recorded kinds in order.
func (m *Memory) Kinds() []Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Kind, len(m.events))
	for i, e := range m.events {
		out[i] = e.Kind
	}
	return out
}

// Multi fans out to several sinks. Every sink is attempted; the first
// error is returned after the fan-out completes, and the ref comes from
// the first sink that succeeded.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, kind Kind, payload any) (Ref, error) {
	var ref Ref
	var first error
	for _, s := range m {
		r, err := s.Notify(ctx, kind, payload)
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		if ref == "" {
			ref = r
		}
	}
	return ref, first
}
