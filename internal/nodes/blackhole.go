package nodes

import "kalix/internal/data"

// BlackholeNode absorbs all upstream flow and produces nothing
// downstream. Used as a network terminator. Orders arriving from
// downstream are absorbed too.
type BlackholeNode struct {
	baseNode

	usflow float64

	recUSFlow recorder
	recDSFlow recorder
	recDS1    recorder
}

// NewBlackholeNode creates a terminator node.
func NewBlackholeNode(name string) *BlackholeNode {
	return &BlackholeNode{baseNode: newBaseNode(name, 5, 5)}
}

func (n *BlackholeNode) Initialise(cache *data.Cache) error {
	n.mbal = 0
	n.usflow = 0

	n.recUSFlow = lookupRecorder(cache, n.name, "usflow")
	n.recDSFlow = lookupRecorder(cache, n.name, "dsflow")
	n.recDS1 = lookupRecorder(cache, n.name, "ds_1")

	return nil
}

// RunOrderPhase absorbs downstream orders: nothing bubbles upstream.
func (n *BlackholeNode) RunOrderPhase(*data.Cache) {}

func (n *BlackholeNode) RunFlowPhase(cache *data.Cache) {
	// All the water goes behind the event horizon.
	n.mbal -= n.usflow

	n.recUSFlow.record(cache, n.usflow)
	n.recDSFlow.record(cache, 0)
	n.recDS1.record(cache, 0)

	n.usflow = 0
}

func (n *BlackholeNode) AddUSFlow(flow float64, _ int) {
	n.usflow += flow
}

func (n *BlackholeNode) RemoveDSFlow(int) float64 {
	return 0
}

func (n *BlackholeNode) Clone() Node {
	clone := *n
	clone.baseNode = n.baseNode.clone()
	return &clone
}
