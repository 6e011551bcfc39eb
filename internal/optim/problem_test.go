package optim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalix/internal/data"
	"kalix/internal/expr"
	"kalix/internal/model"
	"kalix/internal/nodes"
)

func TestParameterMappingTransforms(t *testing.T) {
	linear := ParameterMapping{TargetPath: "node.x.y", Low: 10, High: 30}
	assert.InDelta(t, 10.0, linear.ToPhysical(0), 1e-12)
	assert.InDelta(t, 20.0, linear.ToPhysical(0.5), 1e-12)
	assert.InDelta(t, 30.0, linear.ToPhysical(1), 1e-12)
	assert.InDelta(t, 0.5, linear.FromPhysical(20), 1e-12)

	log := ParameterMapping{TargetPath: "node.x.y", Low: 0.001, High: 10, Transform: TransformLog}
	assert.InDelta(t, 0.001, log.ToPhysical(0), 1e-12)
	assert.InDelta(t, 10.0, log.ToPhysical(1), 1e-9)
	assert.InDelta(t, 0.5, log.FromPhysical(log.ToPhysical(0.5)), 1e-9)

	lgt := ParameterMapping{TargetPath: "node.x.y", Low: 0.01, High: 0.99, Transform: TransformLogit}
	assert.InDelta(t, 0.01, lgt.ToPhysical(0), 1e-9)
	assert.InDelta(t, 0.99, lgt.ToPhysical(1), 1e-9)
	assert.InDelta(t, 0.3, lgt.FromPhysical(lgt.ToPhysical(0.3)), 1e-9)

	// Genes are clamped to [0,1] before mapping.
	assert.InDelta(t, 10.0, linear.ToPhysical(-0.5), 1e-12)
	assert.InDelta(t, 30.0, linear.ToPhysical(1.5), 1e-12)
}

func TestParameterMappingValidation(t *testing.T) {
	assert.Error(t, ParameterMapping{TargetPath: "", Low: 0, High: 1}.Validate())
	assert.Error(t, ParameterMapping{TargetPath: "p", Low: 1, High: 1}.Validate())
	assert.Error(t, ParameterMapping{TargetPath: "p", Low: -1, High: 1, Transform: TransformLog}.Validate())
	assert.Error(t, ParameterMapping{TargetPath: "p", Low: 0.2, High: 1.5, Transform: TransformLogit}.Validate())
	assert.NoError(t, ParameterMapping{TargetPath: "p", Low: 0, High: 1}.Validate())
}

// buildCalibrationModel creates a catchment -> gauge -> blackhole model
// with synthetic rain and pet inputs.
func buildCalibrationModel(t *testing.T, nsteps int) *model.Model {
	t.Helper()
	m := model.New()
	start, err := data.DateStringToU64("1995-01-01")
	require.NoError(t, err)
	m.Config = model.RunConfig{
		StartTimestamp: start,
		EndTimestamp:   start + uint64(nsteps-1)*86400,
		StepSize:       86400,
	}

	rain := make([]float64, nsteps)
	pet := make([]float64, nsteps)
	for i := range rain {
		rain[i] = float64((i*17)%50) * 0.9
		pet[i] = 3
	}
	m.Cache.SetSeries("data.rain", rain, true)
	m.Cache.SetSeries("data.pet", pet, true)

	catchment := nodes.NewRainfallRunoffNode("catchment", nodes.KindSacramento)
	catchment.Area = 2
	catchment.RainInput = expr.MustDynamicInput("data.rain", m.Cache, true)
	catchment.PetInput = expr.MustDynamicInput("data.pet", m.Cache, true)
	require.NoError(t, m.AddNode(catchment))

	require.NoError(t, m.AddNode(nodes.NewGaugeNode("outlet")))
	require.NoError(t, m.AddNode(nodes.NewBlackholeNode("end")))
	m.AddLink("catchment", "outlet", 0, 0)
	m.AddLink("outlet", "end", 0, 0)
	require.NoError(t, m.Configure())
	return m
}

func TestProblemRecoversKnownParameter(t *testing.T) {
	const nsteps = 120
	truth := 80.0

	// Generate synthetic observations with a known lztwm.
	m := buildCalibrationModel(t, nsteps)
	catchment, _ := m.Node("catchment")
	require.NoError(t, catchment.(nodes.OptimisableNode).SetParam("sacramento.lztwm", truth))
	m.RequestOutput("node.outlet.dsflow")
	require.NoError(t, m.Run())
	idx, _ := m.Cache.LookupSeries("node.outlet.dsflow")
	observed := append([]float64(nil), m.Cache.SeriesValues(idx)...)

	observedTimes := make([]uint64, nsteps)
	for i := range observedTimes {
		observedTimes[i] = m.Config.StartTimestamp + uint64(i)*86400
	}

	// Calibrate a fresh model against those observations.
	calib := buildCalibrationModel(t, nsteps)
	var mapping ParameterMappingConfig
	mapping.Add(ParameterMapping{
		TargetPath: "node.catchment.sacramento.lztwm",
		Low:        20,
		High:       300,
	})

	problem, err := NewProblem(calib, mapping, NashSutcliffe,
		"node.outlet.dsflow", observedTimes, observed)
	require.NoError(t, err)
	assert.Equal(t, 1, problem.NParams())
	assert.Equal(t, []string{"node.catchment.sacramento.lztwm"}, problem.ParamNames())

	// Setting the true value must give a (near) perfect fit.
	truthGene := mapping.Mappings[0].FromPhysical(truth)
	require.NoError(t, problem.SetParams([]float64{truthGene}))
	objective, err := problem.Evaluate()
	require.NoError(t, err)
	assert.InDelta(t, -1.0, objective, 1e-9)

	// A wrong value must score worse.
	require.NoError(t, problem.SetParams([]float64{0.95}))
	wrong, err := problem.Evaluate()
	require.NoError(t, err)
	assert.Greater(t, wrong, objective)

	// A short DE run should find its way back near the truth.
	de := NewDifferentialEvolution(DEConfig{
		PopulationSize:         12,
		TerminationEvaluations: 300,
		F:                      0.8,
		CR:                     0.9,
		Seed:                   42,
		NThreads:               1,
	})
	result := de.Optimize(problem)
	require.True(t, result.Success)
	recovered := mapping.Mappings[0].ToPhysical(result.BestParams[0])
	assert.InDelta(t, truth, recovered, 15)
}

func TestProblemCloneIsIndependent(t *testing.T) {
	const nsteps = 30
	m := buildCalibrationModel(t, nsteps)
	m.RequestOutput("node.outlet.dsflow")
	require.NoError(t, m.Run())
	idx, _ := m.Cache.LookupSeries("node.outlet.dsflow")
	observed := append([]float64(nil), m.Cache.SeriesValues(idx)...)
	observedTimes := make([]uint64, nsteps)
	for i := range observedTimes {
		observedTimes[i] = m.Config.StartTimestamp + uint64(i)*86400
	}

	calib := buildCalibrationModel(t, nsteps)
	var mapping ParameterMappingConfig
	mapping.Add(ParameterMapping{TargetPath: "node.catchment.sacramento.uzk", Low: 0.1, High: 0.5})

	problem, err := NewProblem(calib, mapping, RMSE,
		"node.outlet.dsflow", observedTimes, observed)
	require.NoError(t, err)

	clone := problem.CloneForParallel()
	require.NoError(t, problem.SetParams([]float64{0.1}))
	require.NoError(t, clone.SetParams([]float64{0.9}))

	first, err := problem.Evaluate()
	require.NoError(t, err)
	second, err := clone.Evaluate()
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "clones must not share model state")
}

func TestProblemRejectsBadTargets(t *testing.T) {
	m := buildCalibrationModel(t, 10)
	m.RequestOutput("node.outlet.dsflow")
	observedTimes := make([]uint64, 10)
	observed := make([]float64, 10)
	for i := range observedTimes {
		observedTimes[i] = m.Config.StartTimestamp + uint64(i)*86400
		observed[i] = float64(i)
	}

	var mapping ParameterMappingConfig
	mapping.Add(ParameterMapping{TargetPath: "noprefix", Low: 0, High: 1})
	problem, err := NewProblem(m, mapping, RMSE, "node.outlet.dsflow", observedTimes, observed)
	require.NoError(t, err)
	assert.Error(t, problem.SetParams([]float64{0.5}))

	mapping = ParameterMappingConfig{}
	mapping.Add(ParameterMapping{TargetPath: "node.nosuch.x", Low: 0, High: 1})
	problem, err = NewProblem(m, mapping, RMSE, "node.outlet.dsflow", observedTimes, observed)
	require.NoError(t, err)
	assert.Error(t, problem.SetParams([]float64{0.5}))

	mapping = ParameterMappingConfig{}
	mapping.Add(ParameterMapping{TargetPath: "node.end.x", Low: 0, High: 1})
	problem, err = NewProblem(m, mapping, RMSE, "node.outlet.dsflow", observedTimes, observed)
	require.NoError(t, err)
	assert.Error(t, problem.SetParams([]float64{0.5}), "blackhole has no optimisable parameters")
}

func TestProblemRejectsNonOverlappingObservations(t *testing.T) {
	m := buildCalibrationModel(t, 10)
	var mapping ParameterMappingConfig
	mapping.Add(ParameterMapping{TargetPath: "node.catchment.sacramento.uzk", Low: 0.1, High: 0.5})

	_, err := NewProblem(m, mapping, RMSE, "node.outlet.dsflow",
		[]uint64{1, 2, 3}, []float64{1, 2, 3})
	assert.Error(t, err)
}

func TestCreateOptimizerFactory(t *testing.T) {
	cfg := DefaultOptimisationConfig()

	opt, err := CreateOptimizer(cfg)
	require.NoError(t, err)
	assert.Equal(t, "DE", opt.Name())

	cfg.Algorithm = AlgorithmSCEUA
	opt, err = CreateOptimizer(cfg)
	require.NoError(t, err)
	assert.Equal(t, "SCE-UA", opt.Name())

	cfg.Algorithm = AlgorithmCMAES
	_, err = CreateOptimizer(cfg)
	assert.Error(t, err)
}
