package nodes

import (
	"fmt"

	"kalix/internal/data"
	"kalix/internal/numerics"
)

// SplitterNode branches flow across two outlets. The effluent share on
// the secondary outlet is interpolated from the splitter table (columns:
// inflow rate, effluent rate); the remainder continues on the primary.
// Water merely branches, so the mass balance is always zero.
type SplitterNode struct {
	baseNode

	SplitterTable *numerics.Table

	usflow  float64
	ds1Flow float64
	ds2Flow float64

	recUSFlow   recorder
	recDSFlow   recorder
	recDS1      recorder
	recDS1Order recorder
	recDS2      recorder
	recDS2Order recorder
}

// NewSplitterNode creates a splitter with two outlets.
func NewSplitterNode(name string) *SplitterNode {
	return &SplitterNode{
		baseNode:      newBaseNode(name, 2, 1),
		SplitterTable: numerics.NewTable(2),
	}
}

func (n *SplitterNode) Initialise(cache *data.Cache) error {
	n.mbal = 0
	n.usflow = 0
	n.ds1Flow = 0
	n.ds2Flow = 0

	n.recUSFlow = lookupRecorder(cache, n.name, "usflow")
	n.recDSFlow = lookupRecorder(cache, n.name, "dsflow")
	n.recDS1 = lookupRecorder(cache, n.name, "ds_1")
	n.recDS1Order = lookupRecorder(cache, n.name, "ds_1_order")
	n.recDS2 = lookupRecorder(cache, n.name, "ds_2")
	n.recDS2Order = lookupRecorder(cache, n.name, "ds_2_order")

	return nil
}

// RunOrderPhase requests the combined demand of both branches upstream.
func (n *SplitterNode) RunOrderPhase(*data.Cache) {
	n.usorders[0] = n.dsorders[0] + n.dsorders[1]
}

func (n *SplitterNode) RunFlowPhase(cache *data.Cache) {
	n.ds2Flow = n.SplitterTable.Interpolate(0, 1, n.usflow)
	n.ds1Flow = n.usflow - n.ds2Flow
	if n.ds1Flow < 0 {
		panic(fmt.Sprintf("negative ds_1 flow at '%s' when usflow=%v", n.name, n.usflow))
	}

	n.recUSFlow.record(cache, n.usflow)
	n.recDSFlow.record(cache, n.usflow) // total dsflow is same as usflow
	n.recDS1.record(cache, n.ds1Flow)
	n.recDS1Order.record(cache, n.dsorders[0])
	n.recDS2.record(cache, n.ds2Flow)
	n.recDS2Order.record(cache, n.dsorders[1])

	n.usflow = 0
}

func (n *SplitterNode) AddUSFlow(flow float64, _ int) {
	n.usflow += flow
}

func (n *SplitterNode) RemoveDSFlow(outlet int) float64 {
	switch outlet {
	case 0:
		outflow := n.ds1Flow
		n.ds1Flow = 0
		return outflow
	case 1:
		outflow := n.ds2Flow
		n.ds2Flow = 0
		return outflow
	default:
		return 0
	}
}

func (n *SplitterNode) Clone() Node {
	clone := *n
	clone.baseNode = n.baseNode.clone()
	clone.SplitterTable = n.SplitterTable.Clone()
	return &clone
}
