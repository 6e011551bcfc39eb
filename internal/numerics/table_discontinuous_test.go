package numerics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Points [0,0] [3,1] [3,2] [5,2] [7,4] produce three segments:
//
//	seg 0: x in [0,3], y = x/3
//	seg 1: x in [3,5], y = 2     (discontinuous jump at x=3)
//	seg 2: x in [5,7], y = x - 3
func buildDiscontinuous() *TableDiscontinuous {
	tab := NewTableDiscontinuous()
	tab.AddPoint(0, 0)
	tab.AddPoint(3, 1)
	tab.AddPoint(3, 2) // discontinuity: new segment starts at y=2
	tab.AddPoint(5, 2)
	tab.AddPoint(7, 4)
	return tab
}

func TestDiscontinuousInterpolation(t *testing.T) {
	tab := buildDiscontinuous()
	assert.Equal(t, 3, tab.NSegs())

	// Extrapolation below range uses seg 0
	assert.InDelta(t, -1.0/3.0, tab.InterpolateOrExtrapolate(-1), 1e-10)

	assert.InDelta(t, 0.0, tab.InterpolateOrExtrapolate(0), 1e-10)
	assert.InDelta(t, 0.5, tab.InterpolateOrExtrapolate(1.5), 1e-10)

	// Junction at x=3: convention xlo < x <= xhi assigns the lower segment
	assert.InDelta(t, 1.0, tab.InterpolateOrExtrapolate(3), 1e-10)

	assert.InDelta(t, 2.0, tab.InterpolateOrExtrapolate(4), 1e-10)
	assert.InDelta(t, 2.0, tab.InterpolateOrExtrapolate(5), 1e-10)
	assert.InDelta(t, 3.0, tab.InterpolateOrExtrapolate(6), 1e-10)
	assert.InDelta(t, 4.0, tab.InterpolateOrExtrapolate(7), 1e-10)

	// Extrapolation above range uses seg 2
	assert.InDelta(t, 5.0, tab.InterpolateOrExtrapolate(8), 1e-10)
}

func TestJunctionConvention(t *testing.T) {
	tab := NewTableDiscontinuous()
	tab.AddPoint(0, 0)
	tab.AddPoint(3, 1)
	tab.AddPoint(3, 2)
	tab.AddPoint(5, 2)
	tab.CapIfUnfinished()

	// lookup(3) = 1 (lower segment wins), lookup(4) = 2
	assert.InDelta(t, 1.0, tab.InterpolateOrExtrapolate(3), 1e-10)
	assert.InDelta(t, 2.0, tab.InterpolateOrExtrapolate(4), 1e-10)
}

func TestHintStaysCorrectAcrossLookups(t *testing.T) {
	tab := buildDiscontinuous()

	// Walk up, down and jump around; results must not depend on
	// lookup history.
	values := []float64{0.5, 1.0, 2.9, 3.1, 4.9, 6.5, 0.1, 7.0, 3.0}
	expected := []float64{0.5 / 3, 1.0 / 3, 2.9 / 3, 2, 2, 3.5, 0.1 / 3, 4, 1}
	for i, x := range values {
		assert.InDelta(t, expected[i], tab.InterpolateOrExtrapolate(x), 1e-10, "x=%v", x)
	}
}

func TestCapIfUnfinished(t *testing.T) {
	tab := NewTableDiscontinuous()
	tab.AddPoint(0, 0)
	tab.AddPoint(2, 4)
	tab.AddPoint(2, 6) // opens a draft
	assert.True(t, tab.IsUnfinished())

	tab.CapIfUnfinished()
	assert.False(t, tab.IsUnfinished())

	// The cap extends the function flat at the draft's y.
	assert.InDelta(t, 6.0, tab.InterpolateOrExtrapolate(3), 1e-10)
}

func TestCapOnEmptyTable(t *testing.T) {
	tab := NewTableDiscontinuous()
	tab.AddPoint(0, 0) // only a draft exists
	tab.CapIfUnfinished()

	assert.InDelta(t, 0.0, tab.InterpolateOrExtrapolate(0.5), 1e-10)
}
