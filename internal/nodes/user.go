package nodes

import (
	"fmt"
	"math"

	"kalix/internal/data"
	"kalix/internal/expr"
	"kalix/internal/numerics"
)

// userLimits is the diversion machinery shared by the water-user
// kernels: flow threshold, pump capacity, annual cap with reset month,
// and demand carryover with reset month.
type userLimits struct {
	PumpCapacity  expr.DynamicInput
	FlowThreshold expr.DynamicInput

	AnnualCap           *float64
	AnnualCapResetMonth int

	DemandCarryoverAllowed    bool
	DemandCarryoverResetMonth *int

	annualDiversion    float64
	pumpCapacityValue  float64
	flowThresholdValue float64
	carryoverValue     float64
}

func newUserLimits() userLimits {
	return userLimits{AnnualCapResetMonth: 7}
}

func (u *userLimits) reset() {
	u.annualDiversion = 0
	u.carryoverValue = 0
	u.flowThresholdValue = 0
	u.pumpCapacityValue = math.Inf(1)
}

func (u *userLimits) validate(nodeName string) error {
	if u.AnnualCapResetMonth < 1 || u.AnnualCapResetMonth > 12 {
		return fmt.Errorf("invalid annual cap reset month at '%s': %d", nodeName, u.AnnualCapResetMonth)
	}
	if u.AnnualCap != nil && *u.AnnualCap < 0 {
		return fmt.Errorf("invalid annual cap at '%s': %v < 0", nodeName, *u.AnnualCap)
	}
	if m := u.DemandCarryoverResetMonth; m != nil && (*m < 1 || *m > 12) {
		return fmt.Errorf("invalid demand carryover reset month at '%s': %d", nodeName, *m)
	}
	return nil
}

// atResetInstant reports whether the clock sits at 00:00 on day 1 of the
// given month.
func atResetInstant(cache *data.Cache, month int) bool {
	return cache.TimestampDay() == 1 &&
		cache.TimestampMonth() == month &&
		cache.TimestampSeconds() == 0
}

// available computes the water available for diversion this step,
// applying flow threshold, pump capacity and the annual cap (resetting
// the annual counter when due). useThreshold is false for regulated
// users, which have no flow threshold.
func (u *userLimits) available(cache *data.Cache, usflow float64, useThreshold bool) float64 {
	available := usflow
	if useThreshold && !u.FlowThreshold.IsNone() {
		u.flowThresholdValue = u.FlowThreshold.Value(cache)
		available = math.Max(usflow-u.flowThresholdValue, 0)
	}

	if !u.PumpCapacity.IsNone() {
		u.pumpCapacityValue = u.PumpCapacity.Value(cache)
		available = math.Min(available, u.pumpCapacityValue)
	}

	if u.AnnualCap != nil {
		if atResetInstant(cache, u.AnnualCapResetMonth) {
			u.annualDiversion = 0
		}
		available = math.Min(available, *u.AnnualCap-u.annualDiversion)
	}

	return available
}

// divert determines the diversion from the new demand and the available
// water, applying demand carryover when configured, and updates the
// annual counter.
func (u *userLimits) divert(cache *data.Cache, newDemand, available float64) float64 {
	var diversion float64
	if u.DemandCarryoverAllowed {
		if m := u.DemandCarryoverResetMonth; m != nil && atResetInstant(cache, *m) {
			u.carryoverValue = 0
		}
		u.carryoverValue += newDemand
		if u.carryoverValue > available {
			// Demand not met; the rest carries over.
			diversion = available
			u.carryoverValue -= diversion
		} else {
			// Demand met, including carryover.
			diversion = u.carryoverValue
			u.carryoverValue = 0
		}
	} else {
		diversion = math.Min(newDemand, available)
	}

	if u.AnnualCap != nil {
		u.annualDiversion += diversion
	}

	return diversion
}

func (u *userLimits) clone() userLimits {
	clone := *u
	clone.PumpCapacity = u.PumpCapacity.Clone()
	clone.FlowThreshold = u.FlowThreshold.Clone()
	if u.AnnualCap != nil {
		cap := *u.AnnualCap
		clone.AnnualCap = &cap
	}
	if u.DemandCarryoverResetMonth != nil {
		m := *u.DemandCarryoverResetMonth
		clone.DemandCarryoverResetMonth = &m
	}
	return clone
}

// UserNode is the combined water user: a regulated user places its
// demand as an order that travels upstream and diverts the order that
// falls due; an unregulated user diverts opportunistically from the
// flow passing the node.
type UserNode struct {
	baseNode

	DemandInput expr.DynamicInput

	IsRegulated     bool
	OrderTravelTime int
	orderBuffer     *numerics.FifoBuffer

	userLimits

	orderPhaseDemandValue float64
	usflow                float64
	dsflowPrimary         float64
	diversion             float64

	recUSFlow    recorder
	recDemand    recorder
	recDiversion recorder
	recPumpCap   recorder
	recThreshold recorder
	recCarryover recorder
	recDSFlow    recorder
	recDS1       recorder
}

// NewUserNode creates a combined water user.
func NewUserNode(name string) *UserNode {
	return &UserNode{
		baseNode:   newBaseNode(name, 5, 5),
		userLimits: newUserLimits(),
	}
}

func (n *UserNode) Initialise(cache *data.Cache) error {
	n.mbal = 0
	n.usflow = 0
	n.dsflowPrimary = 0
	n.diversion = 0
	n.orderPhaseDemandValue = 0
	n.userLimits.reset()
	n.orderBuffer = numerics.NewFifoBuffer(n.OrderTravelTime)

	if err := n.userLimits.validate(n.name); err != nil {
		return err
	}

	n.recUSFlow = lookupRecorder(cache, n.name, "usflow")
	n.recDemand = lookupRecorder(cache, n.name, "demand")
	n.recDiversion = lookupRecorder(cache, n.name, "diversion")
	n.recPumpCap = lookupRecorder(cache, n.name, "pump_capacity")
	n.recThreshold = lookupRecorder(cache, n.name, "flow_threshold")
	n.recCarryover = lookupRecorder(cache, n.name, "demand_carryover")
	n.recDSFlow = lookupRecorder(cache, n.name, "dsflow")
	n.recDS1 = lookupRecorder(cache, n.name, "ds_1")

	return nil
}

// RunOrderPhase adds a regulated user's demand to the order bubbling
// upstream; unregulated users pass downstream orders through untouched.
func (n *UserNode) RunOrderPhase(cache *data.Cache) {
	if n.IsRegulated {
		n.orderPhaseDemandValue = n.DemandInput.Value(cache)
		n.usorders[0] = n.dsorders[0] + n.orderPhaseDemandValue
	} else {
		n.usorders[0] = n.dsorders[0]
	}
}

func (n *UserNode) RunFlowPhase(cache *data.Cache) {
	// A regulated user's demand today is the order it placed
	// order-travel-time steps ago; an unregulated user reads its demand
	// input directly.
	var newDemand float64
	if n.IsRegulated {
		newDemand = n.orderBuffer.Push(n.orderPhaseDemandValue)
	} else {
		newDemand = n.DemandInput.Value(cache)
	}

	available := n.userLimits.available(cache, n.usflow, !n.IsRegulated)
	n.diversion = n.userLimits.divert(cache, newDemand, available)

	n.dsflowPrimary = n.usflow - n.diversion
	n.mbal -= n.diversion

	n.recUSFlow.record(cache, n.usflow)
	n.recDemand.record(cache, newDemand)
	n.recDiversion.record(cache, n.diversion)
	n.recPumpCap.record(cache, n.pumpCapacityValue)
	n.recThreshold.record(cache, n.flowThresholdValue)
	n.recCarryover.record(cache, n.carryoverValue)
	n.recDSFlow.record(cache, n.dsflowPrimary)
	n.recDS1.record(cache, n.dsflowPrimary)

	n.usflow = 0
}

func (n *UserNode) AddUSFlow(flow float64, _ int) {
	n.usflow += flow
}

func (n *UserNode) RemoveDSFlow(outlet int) float64 {
	if outlet == 0 {
		outflow := n.dsflowPrimary
		n.dsflowPrimary = 0
		return outflow
	}
	return 0
}

func (n *UserNode) Clone() Node {
	clone := *n
	clone.baseNode = n.baseNode.clone()
	clone.DemandInput = n.DemandInput.Clone()
	clone.userLimits = n.userLimits.clone()
	if n.orderBuffer != nil {
		clone.orderBuffer = n.orderBuffer.Clone()
	}
	return &clone
}
