package weather

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agroshield/droughtcover/internal/model"
)

type fakeSource struct {
	name    string
	reading model.Reading
	err     error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(context.Context, model.Location) (model.Reading, error) {
	return f.reading, f.err
}

var testLoc = model.Location{Label: "field-7"}

func TestCollectAllSources(t *testing.T) {
	now := time.Now()
	a := NewAggregator([]Source{
		&fakeSource{name: "north", reading: model.Reading{Source: "north", RainMM: 4, ObservedAt: now}},
		&fakeSource{name: "south", reading: model.Reading{Source: "south", RainMM: 2, ObservedAt: now}},
	}, time.Hour).WithClock(func() time.Time { return now })

	readings, err := a.Collect(context.Background(), testLoc)
	require.NoError(t, err)
	require.Len(t, readings, 2)
	assert.Equal(t, int64(3), Mean(readings))
}

func TestCollectFailingSourceIsUnavailable(t *testing.T) {
	now := time.Now()
	a := NewAggregator([]Source{
		&fakeSource{name: "north", reading: model.Reading{RainMM: 4, ObservedAt: now}},
		&fakeSource{name: "south", err: errors.New("connection refused")},
	}, time.Hour).WithClock(func() time.Time { return now })

	_, err := a.Collect(context.Background(), testLoc)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "south")
}

func TestCollectStaleReadingIsUnavailable(t *testing.T) {
	now := time.Now()
	a := NewAggregator([]Source{
		&fakeSource{name: "north", reading: model.Reading{RainMM: 4, ObservedAt: now.Add(-3 * time.Hour)}},
	}, time.Hour).WithClock(func() time.Time { return now })

	_, err := a.Collect(context.Background(), testLoc)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCollectZeroTimestampIsUnavailable(t *testing.T) {
	now := time.Now()
	a := NewAggregator([]Source{
		&fakeSource{name: "north", reading: model.Reading{RainMM: 4}},
	}, time.Hour).WithClock(func() time.Time { return now })

	_, err := a.Collect(context.Background(), testLoc)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMean(t *testing.T) {
	assert.Equal(t, int64(0), Mean(nil))
	assert.Equal(t, int64(5), Mean([]model.Reading{{RainMM: 5}}))
	assert.Equal(t, int64(2), Mean([]model.Reading{{RainMM: 0}, {RainMM: 5}}))
}

func TestDry(t *testing.T) {
	assert.True(t, Dry(0))
	assert.False(t, Dry(1))
}
