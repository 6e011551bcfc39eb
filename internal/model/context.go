package model

import (
	"fmt"

	"kalix/internal/data"
)

// SimPhase labels the two halves of a simulation step.
type SimPhase int

const (
	PhaseUnknown SimPhase = iota
	PhaseOrdering
	PhaseFlow
)

// String returns the phase name used in error reports.
func (p SimPhase) String() string {
	switch p {
	case PhaseOrdering:
		return "ordering"
	case PhaseFlow:
		return "flow"
	default:
		return "unknown"
	}
}

// noNode marks an unset node index in the simulation context.
const noNode = -1

// simContext tracks where the simulation currently is, so a panic inside
// a node kernel can be reported with phase, node and model time. It is a
// diagnostic channel only: each Model owns its context and a model is
// only ever driven by one goroutine, so no synchronisation is needed.
type simContext struct {
	phase   SimPhase
	nodeIdx int
}

func newSimContext() simContext {
	return simContext{phase: PhaseUnknown, nodeIdx: noNode}
}

func (c *simContext) setPhase(phase SimPhase) {
	c.phase = phase
}

func (c *simContext) setNode(idx int) {
	c.nodeIdx = idx
}

func (c *simContext) clear() {
	c.phase = PhaseUnknown
	c.nodeIdx = noNode
}

// formatSimulationError renders an intercepted panic as
// "<timestamp>, Phase: <phase>, Node: '<name>', Msg: '<msg>'".
func (c *simContext) formatSimulationError(panicValue any, timestamp uint64, nodeName func(int) (string, bool)) string {
	msg := "no_panic_message"
	switch v := panicValue.(type) {
	case string:
		msg = v
	case error:
		msg = v.Error()
	case fmt.Stringer:
		msg = v.String()
	}

	nodeStr := "unknown_node"
	if c.nodeIdx != noNode {
		if name, ok := nodeName(c.nodeIdx); ok {
			nodeStr = name
		} else {
			nodeStr = fmt.Sprintf("node_idx_%d", c.nodeIdx)
		}
	}

	return fmt.Sprintf("%s, Phase: %s, Node: '%s', Msg: '%s'",
		data.U64ToDateTimeString(timestamp), c.phase, nodeStr, msg)
}
