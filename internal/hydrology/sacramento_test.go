package hydrology

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelRebuildOnLagChange(t *testing.T) {
	s := NewSacramento()

	s.SetLagUH(0)
	assert.InDelta(t, 1.0, s.KernelSum(), 1e-6)

	s.SetLagUH(1.5)
	assert.InDelta(t, 1.0, s.KernelSum(), 1e-6)
	assert.Equal(t, 1.5, s.LagUH())

	s.SetLagUH(3)
	assert.InDelta(t, 1.0, s.KernelSum(), 1e-6)
}

func TestParamsRoundTrip(t *testing.T) {
	s := NewSacramento()
	params := s.ParamsVec()
	require.Len(t, params, 17)

	params[5] = 150 // lztwm
	params[16] = 2  // laguh
	require.NoError(t, s.SetParamsVec(params))

	assert.Equal(t, 150.0, s.Lztwm)
	assert.Equal(t, 2.0, s.LagUH())
	assert.Equal(t, 0.3, s.Rserv, "rserv is fixed")
	assert.Equal(t, params, s.ParamsVec())

	assert.Error(t, s.SetParamsVec(params[:5]))
}

func TestDrySpellProducesNoRunoff(t *testing.T) {
	s := NewSacramento()
	s.InitialiseStateEmpty()

	for i := 0; i < 30; i++ {
		runoff := s.RunStep(0, 5)
		assert.GreaterOrEqual(t, runoff, 0.0)
		assert.Less(t, runoff, 1e-9, "empty stores cannot produce runoff")
	}
}

func TestWetSpellProducesRunoff(t *testing.T) {
	s := NewSacramento()
	s.InitialiseStateEmpty()

	total := 0.0
	for i := 0; i < 60; i++ {
		total += s.RunStep(50, 2)
	}
	assert.Greater(t, total, 0.0, "sustained heavy rain must generate runoff")

	// Runoff cannot exceed rainfall.
	assert.Less(t, total, 60*50.0)
}

func TestRunoffSplitsIntoComponents(t *testing.T) {
	s := NewSacramento()
	s.InitialiseStateEmpty()

	for i := 0; i < 120; i++ {
		runoff := s.RunStep(20, 3)
		assert.InDelta(t, runoff, s.Baseflow()+s.Quickflow(), 1e-9)
		assert.GreaterOrEqual(t, s.Baseflow(), 0.0)
		assert.GreaterOrEqual(t, s.Quickflow(), 0.0)
	}
}

func TestResetRestoresDeterminism(t *testing.T) {
	s := NewSacramento()

	s.InitialiseStateEmpty()
	first := make([]float64, 20)
	for i := range first {
		first[i] = s.RunStep(float64(5+i%7), 3)
	}

	s.InitialiseStateEmpty()
	for i := range first {
		assert.Equal(t, first[i], s.RunStep(float64(5+i%7), 3), "step %d", i)
	}
}

func TestStateIsFiniteUnderStress(t *testing.T) {
	s := NewSacramento()
	s.InitialiseStateEmpty()

	rains := []float64{0, 200, 0, 0, 150, 80, 0, 300, 5, 0}
	for i := 0; i < 200; i++ {
		runoff := s.RunStep(rains[i%len(rains)], 6)
		require.False(t, math.IsNaN(runoff), "step %d", i)
		require.False(t, math.IsInf(runoff, 0), "step %d", i)
		require.GreaterOrEqual(t, s.Storage(), 0.0)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSacramento()
	s.InitialiseStateEmpty()
	s.RunStep(30, 3)

	clone := s.Clone()
	original := s.RunStep(30, 3)
	cloned := clone.RunStep(30, 3)
	assert.Equal(t, original, cloned)

	clone.RunStep(100, 0)
	assert.NotEqual(t, s.Storage(), clone.Storage())
}
