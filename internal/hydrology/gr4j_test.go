package hydrology

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGr4jUnitHydrographOrdinatesSumToOne(t *testing.T) {
	g := NewGr4j()

	sum1 := 0.0
	for _, o := range g.uh1Ordinates {
		sum1 += o
	}
	sum2 := 0.0
	for _, o := range g.uh2Ordinates {
		sum2 += o
	}
	assert.InDelta(t, 1.0, sum1, 1e-9)
	assert.InDelta(t, 1.0, sum2, 1e-9)

	g.SetParams(350, 0, 90, 3.3)
	sum1 = 0
	for _, o := range g.uh1Ordinates {
		sum1 += o
	}
	assert.InDelta(t, 1.0, sum1, 1e-9)
}

func TestGr4jDryAndWetBehaviour(t *testing.T) {
	g := NewGr4j()
	g.InitialiseStateEmpty()

	dry := 0.0
	for i := 0; i < 20; i++ {
		dry += g.RunStep(0, 4)
	}
	assert.Less(t, dry, 1e-6)

	wet := 0.0
	for i := 0; i < 60; i++ {
		wet += g.RunStep(30, 2)
	}
	assert.Greater(t, wet, 0.0)
	assert.Less(t, wet, 60*30.0)
}

func TestGr4jStaysFinite(t *testing.T) {
	g := NewGr4j()
	g.SetParams(100, -2, 40, 1.1)
	g.InitialiseStateEmpty()

	for i := 0; i < 300; i++ {
		runoff := g.RunStep(float64(i%40)*3, 5)
		require.False(t, math.IsNaN(runoff), "step %d", i)
		require.GreaterOrEqual(t, runoff, 0.0, "step %d", i)
	}
}

func TestGr4jParamsVec(t *testing.T) {
	g := NewGr4j()
	require.NoError(t, g.SetParamsVec([]float64{200, 1, 50, 2.5}))
	assert.Equal(t, []float64{200, 1, 50, 2.5}, g.ParamsVec())
	assert.Error(t, g.SetParamsVec([]float64{1, 2}))
}

func TestGr4jCloneIsIndependent(t *testing.T) {
	g := NewGr4j()
	g.RunStep(25, 2)

	clone := g.Clone()
	assert.Equal(t, g.RunStep(25, 2), clone.RunStep(25, 2))

	clone.RunStep(200, 0)
	assert.NotEqual(t, g.Storage(), clone.Storage())
}
