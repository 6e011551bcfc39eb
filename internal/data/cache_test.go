package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesIndexStability(t *testing.T) {
	cache := NewCache()

	idx := cache.GetOrAddSeries("node.dam.ds_1", true)
	for i := 0; i < 5; i++ {
		assert.Equal(t, idx, cache.GetOrAddSeries("node.dam.ds_1", false))
	}

	// Names are case-folded.
	assert.Equal(t, idx, cache.GetOrAddSeries("Node.Dam.DS_1", false))

	other := cache.GetOrAddSeries("data.rain", false)
	assert.NotEqual(t, idx, other)
}

func TestCriticalFlagIsSticky(t *testing.T) {
	cache := NewCache()

	idx := cache.GetOrAddSeries("data.rain", false)
	assert.False(t, cache.IsCritical(idx))

	cache.GetOrAddSeries("data.rain", true)
	assert.True(t, cache.IsCritical(idx))

	cache.GetOrAddSeries("data.rain", false)
	assert.True(t, cache.IsCritical(idx), "critical must not be cleared")
}

func TestConstantsGuard(t *testing.T) {
	cache := NewCache()

	idx := cache.Constants.AddIfNeeded("c.pi")
	assert.Equal(t, idx, cache.Constants.AddIfNeeded("c.pi"))

	err := cache.AssertAllConstantsHaveAssignedValues()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c.pi")

	cache.Constants.SetValue("c.pi", 3.14159)
	require.NoError(t, cache.AssertAllConstantsHaveAssignedValues())
	assert.Equal(t, 3.14159, cache.Constants.Value(idx))
}

func TestClockAndValues(t *testing.T) {
	cache := NewCache()
	start, err := DateStringToU64("2001-07-15")
	require.NoError(t, err)
	cache.SetSimulationPeriod(start, 86400)

	idx := cache.SetSeries("data.flow", []float64{1, 2, 3}, true)

	assert.Equal(t, 1.0, cache.CurrentValue(idx))
	assert.Equal(t, 15, cache.TimestampDay())
	assert.Equal(t, 7, cache.TimestampMonth())
	assert.Equal(t, 0, cache.TimestampSeconds())

	cache.AdvanceStep()
	assert.Equal(t, 2.0, cache.CurrentValue(idx))
	assert.Equal(t, 16, cache.TimestampDay())

	// Offset access with default before the start
	assert.Equal(t, 1.0, cache.ValueAtOffset(idx, 1, -99))
	assert.Equal(t, -99.0, cache.ValueAtOffset(idx, 5, -99))
}

func TestTimestampWrapping(t *testing.T) {
	a := WrapToU64(0)
	b := WrapToU64(-86400)

	assert.Equal(t, int64(86400), U64Subtraction(a, b))
	assert.Equal(t, int64(-86400), U64Subtraction(b, a))
	assert.Equal(t, int64(-86400), WrapToI64(b))

	assert.Equal(t, "1970-01-01", U64ToDateString(a))

	ts, err := DateStringToU64("1960-02-29")
	require.NoError(t, err)
	assert.Equal(t, "1960-02-29", U64ToDateString(ts))
}

func TestTruncateResultsKeepsCriticalSeries(t *testing.T) {
	cache := NewCache()
	input := cache.SetSeries("data.rain", []float64{1, 2, 3}, true)
	output := cache.GetOrAddSeries("node.g.dsflow", false)
	cache.AddValueAtIndex(output, 5)
	cache.AddValueAtIndex(output, 6)

	cache.TruncateResults(0)

	assert.Len(t, cache.SeriesValues(input), 3)
	assert.Len(t, cache.SeriesValues(output), 0)
}

func TestCloneIsIndependent(t *testing.T) {
	cache := NewCache()
	idx := cache.SetSeries("data.rain", []float64{1, 2}, true)
	cache.Constants.SetValue("c.k", 2)

	clone := cache.Clone()
	clone.SeriesValues(idx)[0] = 99
	clone.Constants.SetValue("c.k", 5)

	assert.Equal(t, 1.0, cache.SeriesValues(idx)[0])
	assert.Equal(t, 2.0, cache.Constants.Value(0))
}
