package attest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{}

func (failingSink) Notify(context.Context, Kind, any) (Ref, error) {
	return "", errors.New("sink down")
}

func TestMemoryRecordsInOrder(t *testing.T) {
	m := NewMemory()

	_, err := m.Notify(context.Background(), KindPolicyCreated, "a")
	require.NoError(t, err)
	_, err = m.Notify(context.Background(), KindPremiumPaid, "b")
	require.NoError(t, err)

	assert.Equal(t, []Kind{KindPolicyCreated, KindPremiumPaid}, m.Kinds())
}

func TestMultiAttemptsAllSinks(t *testing.T) {
	m := NewMemory()
	multi := Multi{failingSink{}, m}

	_, err := multi.Notify(context.Background(), KindPayout, "x")
	assert.Error(t, err)
	// The failing sink must not block delivery to the healthy one.
	require.Len(t, m.Events(), 1)
	assert.Equal(t, KindPayout, m.Events()[0].Kind)
}

type fixedRefSink struct{ ref Ref }

func (s fixedRefSink) Notify(context.Context, Kind, any) (Ref, error) {
	return s.ref, nil
}

func TestMultiRefComesFromSuccessfulSink(t *testing.T) {
	multi := Multi{fixedRefSink{ref: "ref-1"}, failingSink{}, fixedRefSink{ref: "ref-2"}}

	ref, err := multi.Notify(context.Background(), KindEvaluation, "x")
	assert.Error(t, err)
	assert.Equal(t, Ref("ref-1"), ref)

	// A failure ahead of the first success must not leave an empty ref.
	multi = Multi{failingSink{}, failingSink{}, fixedRefSink{ref: "ref-3"}}
	ref, err = multi.Notify(context.Background(), KindEvaluation, "x")
	assert.Error(t, err)
	assert.Equal(t, Ref("ref-3"), ref)
}

func TestNoopReturnsRef(t *testing.T) {
	ref, err := Noop{}.Notify(context.Background(), KindExpiry, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, ref)
}
