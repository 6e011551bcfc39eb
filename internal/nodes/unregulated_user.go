package nodes

import (
	"kalix/internal/data"
	"kalix/internal/expr"
)

// UnregulatedUserNode diverts water opportunistically from the flow
// passing the node, bounded by flow threshold, pump capacity, annual cap
// and optional demand carryover. It places no orders.
type UnregulatedUserNode struct {
	baseNode

	DemandInput expr.DynamicInput

	userLimits

	usflow        float64
	dsflowPrimary float64
	diversion     float64

	recUSFlow    recorder
	recPumpCap   recorder
	recThreshold recorder
	recCarryover recorder
	recOrder     recorder
	recOrderDue  recorder
	recDemand    recorder
	recDiversion recorder
	recDSFlow    recorder
	recDS1       recorder
	recDS1Order  recorder
}

// NewUnregulatedUserNode creates an unregulated water user.
func NewUnregulatedUserNode(name string) *UnregulatedUserNode {
	return &UnregulatedUserNode{
		baseNode:   newBaseNode(name, 1, 1),
		userLimits: newUserLimits(),
	}
}

func (n *UnregulatedUserNode) Initialise(cache *data.Cache) error {
	n.mbal = 0
	n.usflow = 0
	n.dsflowPrimary = 0
	n.diversion = 0
	n.userLimits.reset()

	if err := n.userLimits.validate(n.name); err != nil {
		return err
	}

	n.recUSFlow = lookupRecorder(cache, n.name, "usflow")
	n.recPumpCap = lookupRecorder(cache, n.name, "pump_capacity")
	n.recThreshold = lookupRecorder(cache, n.name, "flow_threshold")
	n.recCarryover = lookupRecorder(cache, n.name, "demand_carryover")
	n.recOrder = lookupRecorder(cache, n.name, "order")
	n.recOrderDue = lookupRecorder(cache, n.name, "order_due")
	n.recDemand = lookupRecorder(cache, n.name, "demand")
	n.recDiversion = lookupRecorder(cache, n.name, "diversion")
	n.recDSFlow = lookupRecorder(cache, n.name, "dsflow")
	n.recDS1 = lookupRecorder(cache, n.name, "ds_1")
	n.recDS1Order = lookupRecorder(cache, n.name, "ds_1_order")

	return nil
}

func (n *UnregulatedUserNode) RunFlowPhase(cache *data.Cache) {
	newDemand := n.DemandInput.Value(cache)

	available := n.userLimits.available(cache, n.usflow, true)
	n.diversion = n.userLimits.divert(cache, newDemand, available)

	n.dsflowPrimary = n.usflow - n.diversion
	n.mbal -= n.diversion

	n.recUSFlow.record(cache, n.usflow)
	n.recOrder.record(cache, 0)
	n.recOrderDue.record(cache, 0)
	n.recDemand.record(cache, newDemand)
	n.recDiversion.record(cache, n.diversion)
	n.recPumpCap.record(cache, n.pumpCapacityValue)
	n.recThreshold.record(cache, n.flowThresholdValue)
	n.recCarryover.record(cache, n.carryoverValue)
	n.recDSFlow.record(cache, n.dsflowPrimary)
	n.recDS1.record(cache, n.dsflowPrimary)
	n.recDS1Order.record(cache, n.dsorders[0])

	n.usflow = 0
}

func (n *UnregulatedUserNode) AddUSFlow(flow float64, _ int) {
	n.usflow += flow
}

func (n *UnregulatedUserNode) RemoveDSFlow(outlet int) float64 {
	if outlet == 0 {
		outflow := n.dsflowPrimary
		n.dsflowPrimary = 0
		return outflow
	}
	return 0
}

func (n *UnregulatedUserNode) Clone() Node {
	clone := *n
	clone.baseNode = n.baseNode.clone()
	clone.DemandInput = n.DemandInput.Clone()
	clone.userLimits = n.userLimits.clone()
	return &clone
}
