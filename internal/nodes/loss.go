package nodes

import (
	"fmt"
	"math"

	"kalix/internal/data"
	"kalix/internal/numerics"
)

// LossNode removes water according to a loss table (columns: inflow,
// loss). At initialisation the table is normalised and validated, and an
// outflow-to-inflow translation table is built so orders arriving from
// downstream can be inverted into upstream requests.
type LossNode struct {
	baseNode

	LossTable             *numerics.Table
	orderTranslationTable *numerics.TableDiscontinuous

	usflow        float64
	dsflowPrimary float64
	loss          float64

	recUSFlow   recorder
	recDSFlow   recorder
	recDS1      recorder
	recDS1Order recorder
	recLoss     recorder
}

// NewLossNode creates a loss node with a single outlet.
func NewLossNode(name string) *LossNode {
	return &LossNode{
		baseNode:  newBaseNode(name, 1, 1),
		LossTable: numerics.NewTable(2),
	}
}

func (n *LossNode) Initialise(cache *data.Cache) error {
	n.mbal = 0
	n.usflow = 0
	n.dsflowPrimary = 0
	n.loss = 0

	// Pad incomplete tables.
	switch n.LossTable.NRows() {
	case 0:
		// No table: zero loss everywhere.
		n.LossTable = numerics.NewTable(2)
		n.LossTable.SetValue(0, 0, 0)
		n.LossTable.SetValue(0, 1, 0)
		n.LossTable.SetValue(1, 0, 100)
		n.LossTable.SetValue(1, 1, 0)
	case 1:
		// One row: add another to make the constant-loss assumption explicit.
		flow0 := n.LossTable.Value(0, 0)
		loss0 := n.LossTable.Value(0, 1)
		n.LossTable.SetValue(1, 0, flow0+100)
		n.LossTable.SetValue(1, 1, loss0)
	}

	// The table must be monotonically increasing, non-negative, keep
	// loss <= inflow, and must not let outflow decrease as inflow grows.
	if err := n.LossTable.AssertMonotonicallyIncreasing(0, 1); err != nil {
		return fmt.Errorf("node '%s' loss table: %w", n.name, err)
	}
	maxOutflow := 0.0
	for row := 0; row < n.LossTable.NRows(); row++ {
		inflow := n.LossTable.Value(row, 0)
		loss := n.LossTable.Value(row, 1)
		if inflow < 0 || loss < 0 {
			return fmt.Errorf("node '%s' loss table contains negative value at row %d", n.name, row+1)
		}
		if loss > inflow {
			return fmt.Errorf("node '%s' loss table has loss > inflow at row %d", n.name, row+1)
		}
		if inflow-loss < maxOutflow {
			return fmt.Errorf("node '%s' loss table gradient > 1 causes outflow to decrease at row %d", n.name, row+1)
		}
		maxOutflow = inflow - loss
	}

	// Build the order translation table (outflow -> inflow). Consecutive
	// inflows may map to the same outflow; the discontinuous table's
	// junction convention then selects the lowest inflow that produces
	// the required outflow.
	n.orderTranslationTable = numerics.NewTableDiscontinuous()
	if maxOutflow > 0 {
		for row := 0; row < n.LossTable.NRows(); row++ {
			inflow := n.LossTable.Value(row, 0)
			loss := n.LossTable.Value(row, 1)
			n.orderTranslationTable.AddPoint(inflow-loss, inflow)
		}
	} else {
		// A table with 100% loss everywhere cannot satisfy any orders.
		n.orderTranslationTable.AddPoint(0, 0)
		n.orderTranslationTable.AddPoint(1, 0)
	}
	n.orderTranslationTable.CapIfUnfinished()

	n.recUSFlow = lookupRecorder(cache, n.name, "usflow")
	n.recDSFlow = lookupRecorder(cache, n.name, "dsflow")
	n.recDS1 = lookupRecorder(cache, n.name, "ds_1")
	n.recDS1Order = lookupRecorder(cache, n.name, "ds_1_order")
	n.recLoss = lookupRecorder(cache, n.name, "loss")

	return nil
}

// RunOrderPhase inverts the downstream order through the translation
// table so upstream is asked for the inflow that yields the requested
// outflow after losses.
func (n *LossNode) RunOrderPhase(*data.Cache) {
	n.usorders[0] = n.orderTranslationTable.InterpolateOrExtrapolate(n.dsorders[0])
}

func (n *LossNode) RunFlowPhase(cache *data.Cache) {
	n.recUSFlow.record(cache, n.usflow)

	attemptedLoss := n.LossTable.InterpolateOrExtrapolate(0, 1, n.usflow)
	n.loss = math.Min(math.Max(attemptedLoss, 0), n.usflow)

	n.dsflowPrimary = n.usflow - n.loss
	n.mbal -= n.loss

	n.recDSFlow.record(cache, n.dsflowPrimary)
	n.recDS1.record(cache, n.dsflowPrimary)
	n.recDS1Order.record(cache, n.dsorders[0])
	n.recLoss.record(cache, n.loss)

	n.usflow = 0
}

func (n *LossNode) AddUSFlow(flow float64, _ int) {
	n.usflow += flow
}

func (n *LossNode) RemoveDSFlow(outlet int) float64 {
	if outlet == 0 {
		outflow := n.dsflowPrimary
		n.dsflowPrimary = 0
		return outflow
	}
	return 0
}

func (n *LossNode) Clone() Node {
	clone := *n
	clone.baseNode = n.baseNode.clone()
	clone.LossTable = n.LossTable.Clone()
	if n.orderTranslationTable != nil {
		clone.orderTranslationTable = n.orderTranslationTable.Clone()
	}
	return &clone
}
