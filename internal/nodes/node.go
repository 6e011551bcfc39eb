// Package nodes implements the water-routing node kernels.
//
// Each node advances through a small per-timestep state machine driven
// by the model engine: the ordering phases bubble delivery requests
// upstream through the graph, then the flow phase moves water
// downstream. Nodes record their output channels into the data cache at
// the end of their flow phase, but only for channels an external
// consumer has registered interest in.
package nodes

import "kalix/internal/data"

// Node is the capability set the model engine drives. Phases not
// relevant to a node default to no-ops via baseNode.
type Node interface {
	Name() string

	// Initialise is called once per run: it registers recorders, zeroes
	// state and validates tables.
	Initialise(cache *data.Cache) error

	RunPreOrderPhase(cache *data.Cache)
	RunOrderPhase(cache *data.Cache)
	RunPostOrderPhase(cache *data.Cache)
	RunFlowPhase(cache *data.Cache)

	// AddUSFlow receives water delivered by an upstream neighbour.
	AddUSFlow(flow float64, inlet int)
	// RemoveDSFlow hands the water leaving through an outlet to the
	// engine, resetting the outlet.
	RemoveDSFlow(outlet int) float64

	// MassBalance returns the accumulated mass balance of the node:
	// positive for water created here, negative for water removed.
	MassBalance() float64

	// DSOrders exposes the per-outlet order requests arriving from
	// downstream; USOrders the per-inlet requests bubbling upstream.
	DSOrders() []float64
	USOrders() []float64

	// Clone returns a deep, independent copy for parallel evaluation.
	Clone() Node
}

// StorageHolder is implemented by nodes that hold water between steps,
// so the engine can include storage deltas in the global mass balance.
type StorageHolder interface {
	StorageVolume() float64
}

// OptimisableNode is implemented by nodes that expose parameters to the
// optimiser, addressed by name in physical space.
type OptimisableNode interface {
	SetParam(name string, value float64) error
	GetParam(name string) (float64, error)
	ListParams() []string
}

// baseNode carries the state shared by every kernel. Concrete nodes
// embed it and size the order slots for their ports.
type baseNode struct {
	name     string
	mbal     float64
	dsorders []float64
	usorders []float64
}

func newBaseNode(name string, outlets, inlets int) baseNode {
	return baseNode{
		name:     name,
		dsorders: make([]float64, outlets),
		usorders: make([]float64, inlets),
	}
}

func (b *baseNode) Name() string {
	return b.name
}

func (b *baseNode) MassBalance() float64 {
	return b.mbal
}

func (b *baseNode) DSOrders() []float64 {
	return b.dsorders
}

func (b *baseNode) USOrders() []float64 {
	return b.usorders
}

func (b *baseNode) RunPreOrderPhase(*data.Cache) {}

// RunOrderPhase passes the primary downstream order through unchanged.
// Kernels that translate, combine or absorb orders override this.
func (b *baseNode) RunOrderPhase(*data.Cache) {
	if len(b.usorders) > 0 && len(b.dsorders) > 0 {
		b.usorders[0] = b.dsorders[0]
	}
}

func (b *baseNode) RunPostOrderPhase(*data.Cache) {}

func (b *baseNode) clone() baseNode {
	clone := *b
	clone.dsorders = append([]float64(nil), b.dsorders...)
	clone.usorders = append([]float64(nil), b.usorders...)
	return clone
}

// recorder is a lazily bound output channel: it only writes when an
// external consumer registered the channel name before initialisation.
type recorder struct {
	idx int
	ok  bool
}

func lookupRecorder(cache *data.Cache, nodeName, parameter string) recorder {
	idx, ok := cache.LookupSeries(data.MakeResultName(nodeName, parameter))
	return recorder{idx: idx, ok: ok}
}

func (r recorder) record(cache *data.Cache, value float64) {
	if r.ok {
		cache.AddValueAtIndex(r.idx, value)
	}
}
