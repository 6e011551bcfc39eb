package nodes

import (
	"kalix/internal/data"
	"kalix/internal/expr"
)

// InflowNode injects external water into the network from a dynamic
// input (typically a gauged inflow series). The injected volume is
// booked as water created here.
type InflowNode struct {
	baseNode

	InflowInput expr.DynamicInput

	usflow        float64
	dsflowPrimary float64
	inflow        float64

	recInflow   recorder
	recUSFlow   recorder
	recDSFlow   recorder
	recDS1      recorder
	recDS1Order recorder
}

// NewInflowNode creates an inflow node with a single outlet.
func NewInflowNode(name string) *InflowNode {
	return &InflowNode{baseNode: newBaseNode(name, 1, 1)}
}

func (n *InflowNode) Initialise(cache *data.Cache) error {
	n.mbal = 0
	n.usflow = 0
	n.dsflowPrimary = 0
	n.inflow = 0

	n.recInflow = lookupRecorder(cache, n.name, "inflow")
	n.recUSFlow = lookupRecorder(cache, n.name, "usflow")
	n.recDSFlow = lookupRecorder(cache, n.name, "dsflow")
	n.recDS1 = lookupRecorder(cache, n.name, "ds_1")
	n.recDS1Order = lookupRecorder(cache, n.name, "ds_1_order")

	return nil
}

func (n *InflowNode) RunFlowPhase(cache *data.Cache) {
	n.inflow = n.InflowInput.Value(cache)

	n.dsflowPrimary = n.usflow + n.inflow
	n.mbal += n.inflow

	n.recInflow.record(cache, n.inflow)
	n.recUSFlow.record(cache, n.usflow)
	n.recDSFlow.record(cache, n.dsflowPrimary)
	n.recDS1.record(cache, n.dsflowPrimary)
	n.recDS1Order.record(cache, n.dsorders[0])

	n.usflow = 0
}

func (n *InflowNode) AddUSFlow(flow float64, _ int) {
	n.usflow += flow
}

func (n *InflowNode) RemoveDSFlow(outlet int) float64 {
	if outlet == 0 {
		outflow := n.dsflowPrimary
		n.dsflowPrimary = 0
		return outflow
	}
	return 0
}

func (n *InflowNode) Clone() Node {
	clone := *n
	clone.baseNode = n.baseNode.clone()
	clone.InflowInput = n.InflowInput.Clone()
	return &clone
}
