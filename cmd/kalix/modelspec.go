package main

import (
	"fmt"
	"strings"

	"kalix/internal/data"
	"kalix/internal/expr"
	"kalix/internal/model"
	"kalix/internal/nodes"
	"kalix/internal/numerics"
)

// modelSpec is the structured model definition a frontend ships over
// the session protocol. It mirrors the engine's object model directly;
// model-file formats are a separate concern handled by frontends.
type modelSpec struct {
	Start    string       `json:"start"`     // YYYY-MM-DD [HH:MM:SS]
	End      string       `json:"end"`       // YYYY-MM-DD [HH:MM:SS]
	StepSize uint64       `json:"step_size"` // seconds; default 86400
	Series   []seriesSpec `json:"series"`
	Nodes    []nodeSpec   `json:"nodes"`
	Links    []linkSpec   `json:"links"`
	Outputs  []string     `json:"outputs"`
}

type seriesSpec struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

type nodeSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// Expression-valued inputs
	Demand        string `json:"demand,omitempty"`
	PumpCapacity  string `json:"pump_capacity,omitempty"`
	FlowThreshold string `json:"flow_threshold,omitempty"`
	ForceFlow     string `json:"force_flow,omitempty"`
	ReferenceFlow string `json:"reference_flow,omitempty"`
	Inflow        string `json:"inflow,omitempty"`
	Rainfall      string `json:"rainfall,omitempty"`
	Pet           string `json:"pet,omitempty"`
	MinOrder      string `json:"min_order,omitempty"`
	MaxOrder      string `json:"max_order,omitempty"`
	SetOrder      string `json:"set_order,omitempty"`
	NetEvap       string `json:"net_evap,omitempty"`
	MinRelease    string `json:"min_release,omitempty"`

	// Scalars
	Area                 float64   `json:"area,omitempty"`
	OrderTravelTime      int       `json:"order_travel_time,omitempty"`
	DelayOrderSteps      int       `json:"delay_order_steps,omitempty"`
	AnnualCap            *float64  `json:"annual_cap,omitempty"`
	AnnualCapResetMonth  int       `json:"annual_cap_reset_month,omitempty"`
	CarryoverAllowed     bool      `json:"carryover_allowed,omitempty"`
	CarryoverResetMonth  *int      `json:"carryover_reset_month,omitempty"`
	IsRegulated          bool      `json:"is_regulated,omitempty"`
	InitialVolume        float64   `json:"initial_volume,omitempty"`
	Capacity             *float64  `json:"capacity,omitempty"`
	RunoffModel          string    `json:"runoff_model,omitempty"` // sacramento (default) or gr4j
	RunoffParams         []float64 `json:"runoff_params,omitempty"`

	// Tables as interleaved x,y pairs
	LossTable     []float64 `json:"loss_table,omitempty"`
	SplitterTable []float64 `json:"splitter_table,omitempty"`
}

type linkSpec struct {
	From       string `json:"from"`
	To         string `json:"to"`
	FromOutlet int    `json:"from_outlet"`
	ToInlet    int    `json:"to_inlet"`
}

// buildModel constructs and configures a model from its structured
// definition.
func buildModel(spec modelSpec) (*model.Model, error) {
	m := model.New()

	if spec.StepSize == 0 {
		spec.StepSize = 86400
	}
	start, err := data.DateStringToU64(spec.Start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := data.DateStringToU64(spec.End)
	if err != nil {
		return nil, fmt.Errorf("invalid end date: %w", err)
	}
	m.Config = model.RunConfig{
		StartTimestamp: start,
		EndTimestamp:   end,
		StepSize:       spec.StepSize,
	}

	for _, s := range spec.Series {
		m.Cache.SetSeries(s.Name, s.Values, true)
	}

	for _, ns := range spec.Nodes {
		node, err := buildNode(ns, m.Cache)
		if err != nil {
			return nil, err
		}
		if err := m.AddNode(node); err != nil {
			return nil, err
		}
	}

	for _, l := range spec.Links {
		m.AddLink(l.From, l.To, l.FromOutlet, l.ToInlet)
	}

	for _, output := range spec.Outputs {
		m.RequestOutput(output)
	}

	if err := m.Configure(); err != nil {
		return nil, err
	}
	return m, nil
}

func buildNode(spec nodeSpec, cache *data.Cache) (nodes.Node, error) {
	input := func(expression string) (expr.DynamicInput, error) {
		return expr.NewDynamicInput(expression, cache, true)
	}

	switch strings.ToLower(spec.Type) {
	case "inflow":
		n := nodes.NewInflowNode(spec.Name)
		var err error
		if n.InflowInput, err = input(spec.Inflow); err != nil {
			return nil, err
		}
		return n, nil

	case "gauge":
		n := nodes.NewGaugeNode(spec.Name)
		var err error
		if n.ForceFlowInput, err = input(spec.ForceFlow); err != nil {
			return nil, err
		}
		if n.ReferenceFlowInput, err = input(spec.ReferenceFlow); err != nil {
			return nil, err
		}
		return n, nil

	case "blackhole":
		return nodes.NewBlackholeNode(spec.Name), nil

	case "loss":
		n := nodes.NewLossNode(spec.Name)
		if len(spec.LossTable) > 0 {
			table, err := tableFromPairs(spec.LossTable)
			if err != nil {
				return nil, fmt.Errorf("node '%s' loss table: %w", spec.Name, err)
			}
			n.LossTable = table
		}
		return n, nil

	case "splitter":
		n := nodes.NewSplitterNode(spec.Name)
		if len(spec.SplitterTable) > 0 {
			table, err := tableFromPairs(spec.SplitterTable)
			if err != nil {
				return nil, fmt.Errorf("node '%s' splitter table: %w", spec.Name, err)
			}
			n.SplitterTable = table
		}
		return n, nil

	case "order_constraint":
		n := nodes.NewOrderConstraintNode(spec.Name)
		n.DelayOrderSteps = spec.DelayOrderSteps
		var err error
		if n.MinOrderInput, err = input(spec.MinOrder); err != nil {
			return nil, err
		}
		if n.MaxOrderInput, err = input(spec.MaxOrder); err != nil {
			return nil, err
		}
		if n.SetOrderInput, err = input(spec.SetOrder); err != nil {
			return nil, err
		}
		return n, nil

	case "user":
		n := nodes.NewUserNode(spec.Name)
		n.IsRegulated = spec.IsRegulated
		n.OrderTravelTime = spec.OrderTravelTime
		if err := applyUserLimits(&n.DemandInput, spec, cache,
			&n.PumpCapacity, &n.FlowThreshold); err != nil {
			return nil, err
		}
		n.AnnualCap = spec.AnnualCap
		if spec.AnnualCapResetMonth != 0 {
			n.AnnualCapResetMonth = spec.AnnualCapResetMonth
		}
		n.DemandCarryoverAllowed = spec.CarryoverAllowed
		n.DemandCarryoverResetMonth = spec.CarryoverResetMonth
		return n, nil

	case "unregulated_user":
		n := nodes.NewUnregulatedUserNode(spec.Name)
		if err := applyUserLimits(&n.DemandInput, spec, cache,
			&n.PumpCapacity, &n.FlowThreshold); err != nil {
			return nil, err
		}
		n.AnnualCap = spec.AnnualCap
		if spec.AnnualCapResetMonth != 0 {
			n.AnnualCapResetMonth = spec.AnnualCapResetMonth
		}
		n.DemandCarryoverAllowed = spec.CarryoverAllowed
		n.DemandCarryoverResetMonth = spec.CarryoverResetMonth
		return n, nil

	case "regulated_user":
		n := nodes.NewRegulatedUserNode(spec.Name)
		n.OrderTravelTime = spec.OrderTravelTime
		var err error
		if n.OrderInput, err = input(spec.Demand); err != nil {
			return nil, err
		}
		if n.PumpCapacity, err = input(spec.PumpCapacity); err != nil {
			return nil, err
		}
		return n, nil

	case "storage":
		n := nodes.NewStorageNode(spec.Name)
		n.InitialVolume = spec.InitialVolume
		if spec.Capacity != nil {
			n.Capacity = *spec.Capacity
		}
		var err error
		if n.NetEvapInput, err = input(spec.NetEvap); err != nil {
			return nil, err
		}
		if n.MinReleaseInput, err = input(spec.MinRelease); err != nil {
			return nil, err
		}
		return n, nil

	case "rainfall_runoff", "sacramento", "gr4j":
		kind := nodes.KindSacramento
		modelName := spec.RunoffModel
		if strings.ToLower(spec.Type) == "gr4j" || strings.ToLower(modelName) == "gr4j" {
			kind = nodes.KindGr4j
		}
		n := nodes.NewRainfallRunoffNode(spec.Name, kind)
		if spec.Area > 0 {
			n.Area = spec.Area
		}
		var err error
		if n.RainInput, err = input(spec.Rainfall); err != nil {
			return nil, err
		}
		if n.PetInput, err = input(spec.Pet); err != nil {
			return nil, err
		}
		if len(spec.RunoffParams) > 0 {
			switch kind {
			case nodes.KindGr4j:
				err = n.Gr4j.SetParamsVec(spec.RunoffParams)
			default:
				err = n.Sacramento.SetParamsVec(spec.RunoffParams)
			}
			if err != nil {
				return nil, fmt.Errorf("node '%s': %w", spec.Name, err)
			}
		}
		return n, nil

	default:
		return nil, fmt.Errorf("unknown node type '%s' at '%s'", spec.Type, spec.Name)
	}
}

func applyUserLimits(demand *expr.DynamicInput, spec nodeSpec, cache *data.Cache,
	pump, threshold *expr.DynamicInput) error {
	var err error
	if *demand, err = expr.NewDynamicInput(spec.Demand, cache, true); err != nil {
		return err
	}
	if *pump, err = expr.NewDynamicInput(spec.PumpCapacity, cache, true); err != nil {
		return err
	}
	if *threshold, err = expr.NewDynamicInput(spec.FlowThreshold, cache, true); err != nil {
		return err
	}
	return nil
}

// tableFromPairs builds a two-column table from interleaved x,y values.
func tableFromPairs(pairs []float64) (*numerics.Table, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("expected interleaved x,y pairs, got %d values", len(pairs))
	}
	table := numerics.NewTable(2)
	for i := 0; i < len(pairs); i += 2 {
		table.SetValue(i/2, 0, pairs[i])
		table.SetValue(i/2, 1, pairs[i+1])
	}
	return table, nil
}
