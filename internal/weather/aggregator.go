package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/agroshield/droughtcover/internal/model"
)

// Aggregator collects one reading per configured source and reduces them
// to a single rainfall figure. Aggregation is a plain integer mean: a
// single faulty source is diluted rather than excluded, trading outlier
// robustness for simple, reproducible arithmetic.
type Aggregator struct {
	sources   []Source
	tolerance time.Duration
	clock     func() time.Time
}

func NewAggregator(sources []Source, tolerance time.Duration) *Aggregator {
	return &Aggregator{sources: sources, tolerance: tolerance, clock: time.Now}
}

// WithClock overrides the freshness reference time. Returns the
// aggregator for chaining.
func (a *Aggregator) WithClock(clock func() time.Time) *Aggregator {
	a.clock = clock
	return a
}

// SourceCount is the number of configured sources, which is also the
// fetch cost of one evaluation in scheduler budget units.
func (a *Aggregator) SourceCount() int { return len(a.sources) }

// Collect fetches one reading from every source. Any missing or stale
// reading makes the whole collection unavailable so partial data can
// never count as drought.
func (a *Aggregator) Collect(ctx context.Context, loc model.Location) ([]model.Reading, error) {
	now := a.clock()
	readings := make([]model.Reading, 0, len(a.sources))
	for _, src := range a.sources {
		r, err := src.Fetch(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: source %s: %v", ErrUnavailable, src.Name(), err)
		}
		if r.ObservedAt.IsZero() || now.Sub(r.ObservedAt) > a.tolerance {
			return nil, fmt.Errorf("%w: source %s reading stale (observed %s)",
				ErrUnavailable, src.Name(), r.ObservedAt.Format(time.RFC3339))
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// Mean is the integer arithmetic mean of the readings' rainfall.
func Mean(readings []model.Reading) int64 {
	if len(readings) == 0 {
		return 0
	}
	var sum int64
	for _, r := range readings {
		sum += r.RainMM
	}
	return sum / int64(len(readings))
}

// Dry classifies the aggregate: zero measurable rainfall is dry, anything
// else is wet. A binary threshold keeps all sensitivity tuning in the
// consecutive-dry-periods constant.
func Dry(aggregate int64) bool { return aggregate == 0 }
