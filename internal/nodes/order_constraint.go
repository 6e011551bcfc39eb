package nodes

import (
	"math"

	"kalix/internal/data"
	"kalix/internal/expr"
	"kalix/internal/numerics"
)

// OrderConstraintNode passes flow through unchanged but shapes the order
// bubbling upstream: a set input replaces it, min and max inputs clamp
// it, and an optional FIFO delays it by a whole number of steps. Both
// the dispatched order and the order due to arrive are recorded.
type OrderConstraintNode struct {
	baseNode

	MinOrderInput expr.DynamicInput
	MaxOrderInput expr.DynamicInput
	SetOrderInput expr.DynamicInput

	DelayOrderSteps  int
	delayOrderBuffer *numerics.FifoBuffer

	minOrderDefined bool
	maxOrderDefined bool
	setOrderDefined bool
	minOrderValue   float64
	maxOrderValue   float64
	setOrderValue   float64
	sentOrderValue  float64
	sentOrderBuffer *numerics.FifoBuffer

	usflow        float64
	dsflowPrimary float64

	recUSFlow   recorder
	recDSFlow   recorder
	recDS1      recorder
	recDS1Order recorder
	recMinOrder recorder
	recMaxOrder recorder
	recSetOrder recorder
	recOrder    recorder
	recOrderDue recorder
}

// NewOrderConstraintNode creates an order constraint with one outlet.
func NewOrderConstraintNode(name string) *OrderConstraintNode {
	return &OrderConstraintNode{baseNode: newBaseNode(name, 1, 1)}
}

func (n *OrderConstraintNode) Initialise(cache *data.Cache) error {
	n.mbal = 0
	n.usflow = 0
	n.dsflowPrimary = 0
	n.delayOrderBuffer = numerics.NewFifoBuffer(n.DelayOrderSteps)
	n.sentOrderBuffer = numerics.NewFifoBuffer(n.DelayOrderSteps)
	n.minOrderDefined = !n.MinOrderInput.IsNone()
	n.maxOrderDefined = !n.MaxOrderInput.IsNone()
	n.setOrderDefined = !n.SetOrderInput.IsNone()
	n.setOrderValue = 0
	n.minOrderValue = 0
	n.maxOrderValue = math.Inf(1)

	n.recUSFlow = lookupRecorder(cache, n.name, "usflow")
	n.recDSFlow = lookupRecorder(cache, n.name, "dsflow")
	n.recDS1 = lookupRecorder(cache, n.name, "ds_1")
	n.recDS1Order = lookupRecorder(cache, n.name, "ds_1_order")
	n.recMinOrder = lookupRecorder(cache, n.name, "min_order")
	n.recMaxOrder = lookupRecorder(cache, n.name, "max_order")
	n.recSetOrder = lookupRecorder(cache, n.name, "set_order")
	n.recOrder = lookupRecorder(cache, n.name, "order")
	n.recOrderDue = lookupRecorder(cache, n.name, "order_due")

	return nil
}

func (n *OrderConstraintNode) RunPreOrderPhase(cache *data.Cache) {
	n.recDS1Order.record(cache, n.dsorders[0])
}

// RunOrderPhase applies set, then min/max, then the optional delay to
// the downstream order before passing it upstream.
func (n *OrderConstraintNode) RunOrderPhase(cache *data.Cache) {
	order := n.dsorders[0]

	if n.setOrderDefined {
		n.setOrderValue = n.SetOrderInput.Value(cache)
		order = n.setOrderValue
	}
	if n.minOrderDefined {
		n.minOrderValue = n.MinOrderInput.Value(cache)
		order = math.Max(order, n.minOrderValue)
	}
	if n.maxOrderDefined {
		n.maxOrderValue = n.MaxOrderInput.Value(cache)
		order = math.Min(order, n.maxOrderValue)
	}

	if n.DelayOrderSteps > 0 {
		order = n.delayOrderBuffer.Push(order)
	}

	n.sentOrderValue = order
	n.usorders[0] = order
}

func (n *OrderConstraintNode) RunFlowPhase(cache *data.Cache) {
	n.recUSFlow.record(cache, n.usflow)

	// Recall the order that is due today, pushing the dispatched one.
	orderDue := n.sentOrderBuffer.Push(n.sentOrderValue)

	n.dsflowPrimary = n.usflow

	n.recDSFlow.record(cache, n.dsflowPrimary)
	n.recDS1.record(cache, n.dsflowPrimary)
	n.recMinOrder.record(cache, n.minOrderValue)
	n.recMaxOrder.record(cache, n.maxOrderValue)
	n.recSetOrder.record(cache, n.setOrderValue)
	n.recOrder.record(cache, n.sentOrderValue)
	n.recOrderDue.record(cache, orderDue)

	n.usflow = 0
}

func (n *OrderConstraintNode) AddUSFlow(flow float64, _ int) {
	n.usflow += flow
}

func (n *OrderConstraintNode) RemoveDSFlow(outlet int) float64 {
	if outlet == 0 {
		outflow := n.dsflowPrimary
		n.dsflowPrimary = 0
		return outflow
	}
	return 0
}

func (n *OrderConstraintNode) Clone() Node {
	clone := *n
	clone.baseNode = n.baseNode.clone()
	clone.MinOrderInput = n.MinOrderInput.Clone()
	clone.MaxOrderInput = n.MaxOrderInput.Clone()
	clone.SetOrderInput = n.SetOrderInput.Clone()
	if n.delayOrderBuffer != nil {
		clone.delayOrderBuffer = n.delayOrderBuffer.Clone()
	}
	if n.sentOrderBuffer != nil {
		clone.sentOrderBuffer = n.sentOrderBuffer.Clone()
	}
	return &clone
}
