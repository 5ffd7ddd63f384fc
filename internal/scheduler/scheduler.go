// Package scheduler discovers due policies and drives them through
// expiry checks and evaluations in bounded batches. The active-set is a
// dense slice plus a reverse index, so admission keeps insertion order
// (no policy is starved) and eviction is swap-with-last, O(1).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agroshield/droughtcover/internal/attest"
	"github.com/agroshield/droughtcover/internal/model/messages"
	"github.com/agroshield/droughtcover/internal/policy"
)

var (
	ErrCycleNotDue      = errors.New("scheduler: cycle not due")
	ErrIntervalTooShort = errors.New("scheduler: cycle interval below minimum")
)

// Fleet is the engine surface the scheduler drives.
type Fleet interface {
	IsDue(id uuid.UUID) bool
	CheckExpiry(ctx context.Context, id uuid.UUID) (bool, error)
	Evaluate(ctx context.Context, id uuid.UUID) error
	// SourceCount is the weather fetch cost of one evaluation in budget
	// units.
	SourceCount() int
}

type Config struct {
	// CycleInterval is the minimum spacing between wake-ups.
	CycleInterval time.Duration
	// MinCycleInterval bounds how low SetInterval may go.
	MinCycleInterval time.Duration
	// MaxBatchSize caps how many entries one cycle may select.
	MaxBatchSize int
	// CycleBudget is the work budget per cycle: 1 unit per expiry check
	// plus SourceCount units per evaluation.
	CycleBudget int
	// PollInterval is the ticker period of Run; it only controls how
	// often cycle-dueness is re-checked.
	PollInterval time.Duration
	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

func (c *Config) applyDefaults() {
	if c.CycleInterval <= 0 {
		c.CycleInterval = time.Hour
	}
	if c.MinCycleInterval <= 0 {
		c.MinCycleInterval = time.Minute
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 10
	}
	if c.CycleBudget <= 0 {
		c.CycleBudget = 30
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Summary is the outcome of one cycle.
type Summary struct {
	Selected   int       `json:"selected"`
	Processed  int       `json:"processed"`
	Deferred   int       `json:"deferred"`
	Failed     int       `json:"failed"`
	Expired    int       `json:"expired"`
	BudgetUsed int       `json:"budget_used"`
	At         time.Time `json:"at"`
}

// Scheduler owns placement in the due-set; policies only request
// admission and eviction through the engine's Admission hook.
type Scheduler struct {
	mu      sync.Mutex
	cycleMu sync.Mutex

	ids   []uuid.UUID
	index map[uuid.UUID]int

	fleet     Fleet
	cfg       Config
	sink      attest.Sink
	enabled   bool
	lastCycle time.Time
}

func New(fleet Fleet, sink attest.Sink, cfg Config) *Scheduler {
	cfg.applyDefaults()
	if sink == nil {
		sink = attest.Noop{}
	}
	return &Scheduler{
		index:   make(map[uuid.UUID]int),
		fleet:   fleet,
		cfg:     cfg,
		sink:    sink,
		enabled: true,
	}
}

// Admit places a policy in the due-set. Idempotent: admitting an
// already-admitted id is a no-op.
func (s *Scheduler) Admit(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[id]; ok {
		return
	}
	s.index[id] = len(s.ids)
	s.ids = append(s.ids, id)
	activePolicies.Set(float64(len(s.ids)))
	log.Printf("scheduler: admitted %s (active=%d)", id, len(s.ids))
}

// Evict removes a policy from the due-set via swap-with-last. Idempotent:
// evicting an absent id is a no-op.
func (s *Scheduler) Evict(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[id]
	if !ok {
		return
	}
	last := len(s.ids) - 1
	if i != last {
		s.ids[i] = s.ids[last]
		s.index[s.ids[i]] = i
	}
	s.ids = s.ids[:last]
	delete(s.index, id)
	activePolicies.Set(float64(len(s.ids)))
	log.Printf("scheduler: evicted %s (active=%d)", id, len(s.ids))
}

// Len is the current due-set size.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Page returns a slice of the active-set for the administrative surface.
func (s *Scheduler) Page(offset, limit int) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if offset < 0 || offset >= len(s.ids) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(s.ids) {
		end = len(s.ids)
	}
	out := make([]uuid.UUID, end-offset)
	copy(out, s.ids[offset:end])
	return out
}

// Enable turns cycle processing on.
func (s *Scheduler) Enable() {
	s.mu.Lock()
	s.enabled = true
	s.mu.Unlock()
	log.Println("scheduler: enabled")
}

// Disable pauses cycle processing; admission still works.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	log.Println("scheduler: disabled")
}

// SetInterval changes the cycle spacing, rejecting intervals below the
// configured minimum.
func (s *Scheduler) SetInterval(d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d < s.cfg.MinCycleInterval {
		return fmt.Errorf("%w: %s < %s", ErrIntervalTooShort, d, s.cfg.MinCycleInterval)
	}
	s.cfg.CycleInterval = d
	log.Printf("scheduler: cycle interval set to %s", d)
	return nil
}

// Interval reports the current cycle spacing.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.CycleInterval
}

// IsCycleDue reports whether a wake-up should run a cycle now.
func (s *Scheduler) IsCycleDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isCycleDueLocked()
}

func (s *Scheduler) isCycleDueLocked() bool {
	if !s.enabled || len(s.ids) == 0 {
		return false
	}
	return s.cfg.Clock().Sub(s.lastCycle) >= s.cfg.CycleInterval
}

// SelectBatch returns up to MaxBatchSize ids front-to-back. Insertion
// order is deterministic, so a policy that reached a position is never
// perpetually starved.
func (s *Scheduler) SelectBatch() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.ids)
	if n > s.cfg.MaxBatchSize {
		n = s.cfg.MaxBatchSize
	}
	out := make([]uuid.UUID, n)
	copy(out, s.ids[:n])
	return out
}

// RunCycle drives one batch. It re-validates dueness against batches
// computed before another cycle already ran, isolates failures per entry
// (a failing policy is skipped and stays due) and stops early once the
// work budget would be exceeded. lastCycle advances exactly once, after
// the batch completes.
func (s *Scheduler) RunCycle(ctx context.Context, batch []uuid.UUID) (Summary, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.mu.Lock()
	due := s.isCycleDueLocked()
	s.mu.Unlock()
	if !due {
		return Summary{}, ErrCycleNotDue
	}

	sum := s.process(ctx, batch, s.cfg.CycleBudget)

	s.mu.Lock()
	s.lastCycle = s.cfg.Clock()
	sum.At = s.lastCycle
	s.mu.Unlock()

	cyclesTotal.Inc()
	entriesProcessed.Add(float64(sum.Processed))
	entriesDeferred.Add(float64(sum.Deferred))
	entriesFailed.Add(float64(sum.Failed))
	budgetUsed.Add(float64(sum.BudgetUsed))

	log.Printf("scheduler: cycle done selected=%d processed=%d deferred=%d failed=%d expired=%d budget=%d",
		sum.Selected, sum.Processed, sum.Deferred, sum.Failed, sum.Expired, sum.BudgetUsed)
	s.notifyCycle(ctx, sum)
	return sum, nil
}

// ForceEvaluate drives the given policies immediately, bypassing cycle
// dueness and the work budget. Administrative use only.
func (s *Scheduler) ForceEvaluate(ctx context.Context, ids []uuid.UUID) Summary {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	sum := s.process(ctx, ids, -1)
	sum.At = s.cfg.Clock()
	log.Printf("scheduler: force-evaluate done selected=%d processed=%d deferred=%d failed=%d",
		sum.Selected, sum.Processed, sum.Deferred, sum.Failed)
	return sum
}

// process walks the batch. budget < 0 means unlimited. Caller holds
// cycleMu.
func (s *Scheduler) process(ctx context.Context, batch []uuid.UUID, budget int) Summary {
	sum := Summary{Selected: len(batch)}
	evalCost := s.fleet.SourceCount()
	if evalCost < 1 {
		evalCost = 1
	}

	for _, id := range batch {
		if budget >= 0 && budget < 1 {
			log.Printf("scheduler: budget exhausted, %d entries carried to next cycle",
				sum.Selected-sum.Processed-sum.Deferred-sum.Failed-sum.Expired)
			break
		}
		if budget >= 0 {
			budget--
		}
		sum.BudgetUsed++

		expired, err := s.fleet.CheckExpiry(ctx, id)
		if err != nil {
			sum.Failed++
			log.Printf("scheduler: expiry check %s failed, skipping: %v", id, err)
			continue
		}
		if expired {
			sum.Expired++
			sum.Processed++
			continue
		}
		if !s.fleet.IsDue(id) {
			sum.Processed++
			continue
		}

		if budget >= 0 && budget < evalCost {
			log.Printf("scheduler: budget too low for evaluation of %s, stopping", id)
			break
		}
		if budget >= 0 {
			budget -= evalCost
		}
		sum.BudgetUsed += evalCost

		if err := s.fleet.Evaluate(ctx, id); err != nil {
			if errors.Is(err, policy.ErrReadingUnavailable) {
				sum.Deferred++
				log.Printf("scheduler: evaluation of %s deferred: %v", id, err)
			} else {
				sum.Failed++
				log.Printf("scheduler: evaluation of %s failed, skipping: %v", id, err)
			}
			continue
		}
		sum.Processed++
	}
	return sum
}

// Run wakes on the poll ticker and runs a cycle whenever one is due.
// Blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	log.Printf("scheduler: running, cycle interval %s", s.Interval())
	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return
		case <-ticker.C:
			if !s.IsCycleDue() {
				continue
			}
			batch := s.SelectBatch()
			if _, err := s.RunCycle(ctx, batch); err != nil && !errors.Is(err, ErrCycleNotDue) {
				log.Printf("scheduler: cycle error: %v", err)
			}
		}
	}
}

// notifyCycle mirrors the summary to the attestation sink, best-effort.
func (s *Scheduler) notifyCycle(ctx context.Context, sum Summary) {
	_, err := s.sink.Notify(ctx, attest.KindCycleCompleted, messages.CycleSummaryEvent{
		Selected:   sum.Selected,
		Processed:  sum.Processed,
		Deferred:   sum.Deferred,
		Failed:     sum.Failed,
		Expired:    sum.Expired,
		BudgetUsed: sum.BudgetUsed,
		Timestamp:  sum.At,
	})
	if err != nil {
		log.Printf("scheduler: cycle attestation failed: %v", err)
	}
}
