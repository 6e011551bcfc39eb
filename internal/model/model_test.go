package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalix/internal/data"
	"kalix/internal/expr"
	"kalix/internal/nodes"
	"kalix/pkg/apperror"
)

func newTestModel(t *testing.T, start, end string) *Model {
	t.Helper()
	m := New()
	startTs, err := data.DateStringToU64(start)
	require.NoError(t, err)
	endTs, err := data.DateStringToU64(end)
	require.NoError(t, err)
	m.Config = RunConfig{StartTimestamp: startTs, EndTimestamp: endTs, StepSize: 86400}
	return m
}

// buildInflowGaugeBlackhole wires inflow(10) -> gauge -> blackhole.
func buildInflowGaugeBlackhole(t *testing.T, forceFlow string) *Model {
	t.Helper()
	m := newTestModel(t, "2001-07-15", "2001-07-17")

	inflow := nodes.NewInflowNode("source")
	inflow.InflowInput = expr.MustDynamicInput("10", m.Cache, false)
	require.NoError(t, m.AddNode(inflow))

	gauge := nodes.NewGaugeNode("gauge")
	if forceFlow != "" {
		gauge.ForceFlowInput = expr.MustDynamicInput(forceFlow, m.Cache, false)
	}
	require.NoError(t, m.AddNode(gauge))

	require.NoError(t, m.AddNode(nodes.NewBlackholeNode("end")))

	m.AddLink("source", "gauge", 0, 0)
	m.AddLink("gauge", "end", 0, 0)
	return m
}

func TestGaugeWithForcedFlowScenario(t *testing.T) {
	m := buildInflowGaugeBlackhole(t, "5")
	m.RequestOutput("node.gauge.dsflow")

	require.NoError(t, m.Run())

	idx, ok := m.Cache.LookupSeries("node.gauge.dsflow")
	require.True(t, ok)
	assert.Equal(t, []float64{5, 5, 5}, m.Cache.SeriesValues(idx))

	gauge, _ := m.Node("gauge")
	assert.Equal(t, -15.0, gauge.MassBalance(), "the gauge absorbed 5 each step")
}

func TestLossTableScenario(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-01-04")
	m.Cache.SetSeries("data.inflow", []float64{0, 10, 20, 30}, true)

	inflow := nodes.NewInflowNode("source")
	inflow.InflowInput = expr.MustDynamicInput("data.inflow", m.Cache, true)
	require.NoError(t, m.AddNode(inflow))

	loss := nodes.NewLossNode("loss")
	pairs := [][2]float64{{0, 0}, {10, 2}, {20, 6}, {30, 12}}
	for i, p := range pairs {
		loss.LossTable.SetValue(i, 0, p[0])
		loss.LossTable.SetValue(i, 1, p[1])
	}
	require.NoError(t, m.AddNode(loss))
	require.NoError(t, m.AddNode(nodes.NewBlackholeNode("end")))

	m.AddLink("source", "loss", 0, 0)
	m.AddLink("loss", "end", 0, 0)

	m.RequestOutput("node.loss.ds_1")
	require.NoError(t, m.Run())

	idx, _ := m.Cache.LookupSeries("node.loss.ds_1")
	values := m.Cache.SeriesValues(idx)
	expected := []float64{0, 8, 14, 18}
	require.Len(t, values, len(expected))
	for i := range expected {
		assert.InDelta(t, expected[i], values[i], 1e-9, "step %d", i)
	}
}

func TestGlobalMassBalance(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-03-01")
	rain := make([]float64, 70)
	pet := make([]float64, 70)
	for i := range rain {
		rain[i] = float64((i * 13) % 40)
		pet[i] = 4
	}
	m.Cache.SetSeries("data.rain", rain, true)
	m.Cache.SetSeries("data.pet", pet, true)

	catchment := nodes.NewRainfallRunoffNode("catchment", nodes.KindSacramento)
	catchment.Area = 5
	catchment.RainInput = expr.MustDynamicInput("data.rain", m.Cache, true)
	catchment.PetInput = expr.MustDynamicInput("data.pet", m.Cache, true)
	require.NoError(t, m.AddNode(catchment))

	loss := nodes.NewLossNode("loss")
	loss.LossTable.SetValue(0, 0, 0)
	loss.LossTable.SetValue(0, 1, 0)
	loss.LossTable.SetValue(1, 0, 100)
	loss.LossTable.SetValue(1, 1, 20)
	require.NoError(t, m.AddNode(loss))

	storage := nodes.NewStorageNode("dam")
	storage.InitialVolume = 10
	storage.Capacity = 60
	require.NoError(t, m.AddNode(storage))

	user := nodes.NewUnregulatedUserNode("irrigator")
	user.DemandInput = expr.MustDynamicInput("3", m.Cache, false)
	require.NoError(t, m.AddNode(user))

	require.NoError(t, m.AddNode(nodes.NewBlackholeNode("end")))

	m.AddLink("catchment", "loss", 0, 0)
	m.AddLink("loss", "dam", 0, 0)
	m.AddLink("dam", "irrigator", 0, 0)
	m.AddLink("irrigator", "end", 0, 0)

	require.NoError(t, m.Run())
	require.NoError(t, m.VerifyMassBalance(1e-6))
	assert.Less(t, math.Abs(m.MassBalanceResidual()), 1e-6)
}

func TestUnroutedOutletClosesBalance(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-01-03")

	inflow := nodes.NewInflowNode("source")
	inflow.InflowInput = expr.MustDynamicInput("7", m.Cache, false)
	require.NoError(t, m.AddNode(inflow))

	// No downstream link: the water leaves the network.
	require.NoError(t, m.Run())
	require.NoError(t, m.VerifyMassBalance(1e-6))
}

func TestCycleIsRejected(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-01-02")
	require.NoError(t, m.AddNode(nodes.NewGaugeNode("a")))
	require.NoError(t, m.AddNode(nodes.NewGaugeNode("b")))
	m.AddLink("a", "b", 0, 0)
	m.AddLink("b", "a", 0, 0)

	err := m.Configure()
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeCycleInGraph))
}

func TestUnresolvedLinkIsRejected(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-01-02")
	require.NoError(t, m.AddNode(nodes.NewGaugeNode("a")))
	m.AddLink("a", "nowhere", 0, 0)

	err := m.Configure()
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeUnresolvedLink))
}

func TestDuplicateNodeIsRejected(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-01-02")
	require.NoError(t, m.AddNode(nodes.NewGaugeNode("a")))
	err := m.AddNode(nodes.NewBlackholeNode("a"))
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeDuplicateNode))
}

func TestTopologicalOrderIsUpstreamFirst(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-01-02")
	// Add in scrambled order.
	require.NoError(t, m.AddNode(nodes.NewBlackholeNode("end")))
	require.NoError(t, m.AddNode(nodes.NewGaugeNode("mid")))
	require.NoError(t, m.AddNode(nodes.NewGaugeNode("top")))
	m.AddLink("top", "mid", 0, 0)
	m.AddLink("mid", "end", 0, 0)

	require.NoError(t, m.Configure())

	pos := make(map[string]int)
	for i, idx := range m.execOrder {
		pos[m.nodes[idx].Name()] = i
	}
	assert.Less(t, pos["top"], pos["mid"])
	assert.Less(t, pos["mid"], pos["end"])
}

func TestUnassignedConstantFailsInitialise(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-01-02")
	gauge := nodes.NewGaugeNode("g")
	gauge.ForceFlowInput = expr.MustDynamicInput("c.forced", m.Cache, false)
	require.NoError(t, m.AddNode(gauge))

	err := m.Initialise()
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeUnassignedConstant))

	m.Cache.Constants.SetValue("c.forced", 2)
	require.NoError(t, m.Initialise())
}

func TestPanicIsReportedWithContext(t *testing.T) {
	m := newTestModel(t, "2001-07-15", "2001-07-16")

	splitter := nodes.NewSplitterNode("bad")
	// An effluent share above the inflow forces a negative primary
	// branch, which panics in the flow phase.
	splitter.SplitterTable.SetValue(0, 0, 0)
	splitter.SplitterTable.SetValue(0, 1, 5)
	splitter.SplitterTable.SetValue(1, 0, 10)
	splitter.SplitterTable.SetValue(1, 1, 15)
	require.NoError(t, m.AddNode(splitter))

	err := m.Run()
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeSimulationPanic))
	assert.Contains(t, err.Error(), "2001-07-15")
	assert.Contains(t, err.Error(), "Phase: flow")
	assert.Contains(t, err.Error(), "Node: 'bad'")
}

func TestOrderPropagationThroughChain(t *testing.T) {
	m := newTestModel(t, "2000-01-01", "2000-01-03")

	storage := nodes.NewStorageNode("dam")
	storage.InitialVolume = 100
	require.NoError(t, m.AddNode(storage))

	loss := nodes.NewLossNode("reach")
	loss.LossTable.SetValue(0, 0, 0)
	loss.LossTable.SetValue(0, 1, 0)
	loss.LossTable.SetValue(1, 0, 10)
	loss.LossTable.SetValue(1, 1, 2)
	require.NoError(t, m.AddNode(loss))

	user := nodes.NewRegulatedUserNode("farm")
	user.OrderInput = expr.MustDynamicInput("4", m.Cache, false)
	user.OrderTravelTime = 0
	require.NoError(t, m.AddNode(user))

	require.NoError(t, m.AddNode(nodes.NewBlackholeNode("end")))

	m.AddLink("dam", "reach", 0, 0)
	m.AddLink("reach", "farm", 0, 0)
	m.AddLink("farm", "end", 0, 0)

	m.RequestOutput("node.farm.diversion")
	m.RequestOutput("node.dam.release")

	require.NoError(t, m.Run())

	divIdx, _ := m.Cache.LookupSeries("node.farm.diversion")
	relIdx, _ := m.Cache.LookupSeries("node.dam.release")

	// The farm orders 4; the loss reach inflates the upstream request
	// to 5 (20% loss), the dam releases it, and the farm diverts 4.
	for step, want := range []float64{4, 4, 4} {
		assert.InDelta(t, want, m.Cache.SeriesValues(divIdx)[step], 1e-9, "diversion step %d", step)
		assert.InDelta(t, 5.0, m.Cache.SeriesValues(relIdx)[step], 1e-9, "release step %d", step)
	}

	require.NoError(t, m.VerifyMassBalance(1e-6))
}

func TestMassBalanceReportIsStable(t *testing.T) {
	run := func() (*Model, string) {
		m := buildInflowGaugeBlackhole(t, "5")
		require.NoError(t, m.Run())
		return m, m.GenerateMassBalanceReport()
	}

	m1, report1 := run()
	_, report2 := run()

	assert.Equal(t, report1, report2, "byte equality is the verification criterion")
	assert.True(t, m1.VerifyMassBalanceReport(report1))
	assert.False(t, m1.VerifyMassBalanceReport(report1+"x"))
}

func TestCloneRunsIndependently(t *testing.T) {
	m := buildInflowGaugeBlackhole(t, "")
	m.RequestOutput("node.gauge.dsflow")
	require.NoError(t, m.Configure())

	clone := m.Clone()
	require.NoError(t, clone.Run())

	idx, _ := clone.Cache.LookupSeries("node.gauge.dsflow")
	assert.Equal(t, []float64{10, 10, 10}, clone.Cache.SeriesValues(idx))

	// The original has not run: its output series is still empty.
	origIdx, _ := m.Cache.LookupSeries("node.gauge.dsflow")
	assert.Empty(t, m.Cache.SeriesValues(origIdx))
}

func TestRepeatedRunsProduceIdenticalResults(t *testing.T) {
	m := buildInflowGaugeBlackhole(t, "5")
	m.RequestOutput("node.gauge.dsflow")

	require.NoError(t, m.Run())
	idx, _ := m.Cache.LookupSeries("node.gauge.dsflow")
	first := append([]float64(nil), m.Cache.SeriesValues(idx)...)

	require.NoError(t, m.Run())
	assert.Equal(t, first, m.Cache.SeriesValues(idx))
}
