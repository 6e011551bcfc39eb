package nodes

import (
	"math"

	"kalix/internal/data"
	"kalix/internal/expr"
	"kalix/internal/numerics"
)

// RegulatedUserNode places an order a fixed number of steps ahead of
// use; the order that falls due today bounds the diversion. Unlike
// unregulated users there is no flow threshold.
type RegulatedUserNode struct {
	baseNode

	OrderInput      expr.DynamicInput
	PumpCapacity    expr.DynamicInput
	OrderTravelTime int

	orderValue        float64
	orderDue          float64
	orderBuffer       *numerics.FifoBuffer
	pumpCapacityValue float64

	usflow        float64
	dsflowPrimary float64
	diversion     float64

	recUSFlow    recorder
	recPumpCap   recorder
	recOrder     recorder
	recOrderDue  recorder
	recDemand    recorder
	recDiversion recorder
	recDSFlow    recorder
	recDS1       recorder
	recDS1Order  recorder
}

// NewRegulatedUserNode creates a regulated water user.
func NewRegulatedUserNode(name string) *RegulatedUserNode {
	return &RegulatedUserNode{baseNode: newBaseNode(name, 1, 1)}
}

func (n *RegulatedUserNode) Initialise(cache *data.Cache) error {
	n.mbal = 0
	n.usflow = 0
	n.dsflowPrimary = 0
	n.diversion = 0
	n.orderValue = 0
	n.orderDue = 0
	n.pumpCapacityValue = math.Inf(1)
	n.orderBuffer = numerics.NewFifoBuffer(n.OrderTravelTime)

	n.recUSFlow = lookupRecorder(cache, n.name, "usflow")
	n.recPumpCap = lookupRecorder(cache, n.name, "pump_capacity")
	n.recOrder = lookupRecorder(cache, n.name, "order")
	n.recOrderDue = lookupRecorder(cache, n.name, "order_due")
	n.recDemand = lookupRecorder(cache, n.name, "demand")
	n.recDiversion = lookupRecorder(cache, n.name, "diversion")
	n.recDSFlow = lookupRecorder(cache, n.name, "dsflow")
	n.recDS1 = lookupRecorder(cache, n.name, "ds_1")
	n.recDS1Order = lookupRecorder(cache, n.name, "ds_1_order")

	return nil
}

func (n *RegulatedUserNode) RunPreOrderPhase(cache *data.Cache) {
	n.orderValue = n.OrderInput.Value(cache)
}

// RunOrderPhase pushes today's order into the travel buffer, recalling
// the one that is due, and asks upstream for both the downstream demand
// and its own order.
func (n *RegulatedUserNode) RunOrderPhase(cache *data.Cache) {
	n.orderDue = n.orderBuffer.Push(n.orderValue)
	n.usorders[0] = n.dsorders[0] + n.orderValue

	n.recOrder.record(cache, n.orderValue)
	n.recOrderDue.record(cache, n.orderDue)
	n.recDemand.record(cache, n.orderDue)
}

func (n *RegulatedUserNode) RunFlowPhase(cache *data.Cache) {
	available := n.usflow
	if !n.PumpCapacity.IsNone() {
		n.pumpCapacityValue = n.PumpCapacity.Value(cache)
		available = math.Min(available, n.pumpCapacityValue)
	}

	n.diversion = math.Min(n.orderDue, available)

	n.dsflowPrimary = n.usflow - n.diversion
	n.mbal -= n.diversion

	n.recUSFlow.record(cache, n.usflow)
	n.recDiversion.record(cache, n.diversion)
	n.recPumpCap.record(cache, n.pumpCapacityValue)
	n.recDSFlow.record(cache, n.dsflowPrimary)
	n.recDS1.record(cache, n.dsflowPrimary)
	n.recDS1Order.record(cache, n.dsorders[0])

	n.usflow = 0
}

func (n *RegulatedUserNode) AddUSFlow(flow float64, _ int) {
	n.usflow += flow
}

func (n *RegulatedUserNode) RemoveDSFlow(outlet int) float64 {
	if outlet == 0 {
		outflow := n.dsflowPrimary
		n.dsflowPrimary = 0
		return outflow
	}
	return 0
}

func (n *RegulatedUserNode) Clone() Node {
	clone := *n
	clone.baseNode = n.baseNode.clone()
	clone.OrderInput = n.OrderInput.Clone()
	clone.PumpCapacity = n.PumpCapacity.Clone()
	if n.orderBuffer != nil {
		clone.orderBuffer = n.orderBuffer.Clone()
	}
	return &clone
}
