package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNSEPerfectFit(t *testing.T) {
	obs := []float64{1, 2, 3, 4, 5}
	sim := []float64{1, 2, 3, 4, 5}

	obj, err := NashSutcliffe.Calculate(obs, sim)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, obj, 1e-10, "perfect fit gives objective -1")
}

func TestNSEMeanBaseline(t *testing.T) {
	obs := []float64{1, 2, 3, 4, 5}
	sim := []float64{3, 3, 3, 3, 3}

	obj, err := NashSutcliffe.Calculate(obs, sim)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, obj, 1e-10, "predicting the mean gives objective 0")
}

func TestRMSEAndMAE(t *testing.T) {
	obs := []float64{1, 2, 3, 4, 5}

	sim := []float64{1.1, 2.1, 3.1, 4.1, 5.1}
	obj, err := RMSE.Calculate(obs, sim)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, obj, 1e-10)

	sim = []float64{1.5, 2.5, 3.5, 4.5, 5.5}
	obj, err = MAE.Calculate(obs, sim)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, obj, 1e-10)
}

func TestKGEPerfectFit(t *testing.T) {
	obs := []float64{1, 2, 3, 4, 5}
	obj, err := KlingGupta.Calculate(obs, obs)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, obj, 1e-10)
}

func TestPercentBiasIsAbsolute(t *testing.T) {
	obs := []float64{10, 20, 30}

	over := []float64{11, 22, 33}
	obj, err := PercentBias.Calculate(obs, over)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, obj, 1e-10)

	under := []float64{9, 18, 27}
	obj, err = PercentBias.Calculate(obs, under)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, obj, 1e-10, "negative bias reported as absolute value")
}

func TestNSELogWeightsLowFlows(t *testing.T) {
	obs := []float64{0.1, 0.2, 10, 20, 0.15}
	sim := []float64{0.1, 0.2, 10, 20, 0.15}

	obj, err := NashSutcliffeLog.Calculate(obs, sim)
	require.NoError(t, err)
	assert.InDelta(t, -1.0, obj, 1e-10)
}

func TestObjectiveRejectsBadInput(t *testing.T) {
	_, err := NashSutcliffe.Calculate([]float64{1, 2}, []float64{1})
	assert.Error(t, err, "length mismatch")

	_, err = RMSE.Calculate(nil, nil)
	assert.Error(t, err, "empty input")

	_, err = NashSutcliffe.Calculate([]float64{2, 2, 2}, []float64{1, 2, 3})
	assert.Error(t, err, "zero variance in observed")

	_, err = KlingGupta.Calculate([]float64{2, 2, 2}, []float64{1, 2, 3})
	assert.Error(t, err, "zero variance in observed")
}

func TestObjectiveFromName(t *testing.T) {
	for name, want := range map[string]ObjectiveFunction{
		"nse": NashSutcliffe, "nse-log": NashSutcliffeLog, "rmse": RMSE,
		"mae": MAE, "kge": KlingGupta, "pbias": PercentBias,
	} {
		got, err := ObjectiveFromName(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ObjectiveFromName("nash")
	assert.Error(t, err)
}
