package optim

import (
	"fmt"
	"math"
	"strings"

	"kalix/internal/model"
	"kalix/internal/nodes"
)

// Problem is the calibration problem: it maps normalised genes through
// their parameter mappings into a model, runs the model, and compares a
// simulated series against observations with an objective function.
type Problem struct {
	model     *model.Model
	Mapping   ParameterMappingConfig
	Objective ObjectiveFunction

	SimulatedSeries string
	simulatedIdx    int

	// Observation values aligned to simulation steps, computed once.
	alignedSteps []int
	alignedObs   []float64

	params []float64
}

// NewProblem builds a problem over a configured model. The observed
// series is keyed by wrapped timestamps and is temporally aligned with
// the model clock here; observations outside the simulated period or
// holding NaN are dropped.
func NewProblem(m *model.Model, mapping ParameterMappingConfig, objective ObjectiveFunction,
	simulatedSeries string, observedTimes []uint64, observedValues []float64) (*Problem, error) {

	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	if len(observedTimes) != len(observedValues) {
		return nil, fmt.Errorf("observed times and values must have same length (%d vs %d)",
			len(observedTimes), len(observedValues))
	}

	p := &Problem{
		model:           m,
		Mapping:         mapping,
		Objective:       objective,
		SimulatedSeries: simulatedSeries,
		simulatedIdx:    m.RequestOutput(simulatedSeries),
		params:          make([]float64, mapping.Len()),
	}
	for i := range p.params {
		p.params[i] = 0.5
	}

	cfg := m.Config
	nsteps := cfg.NSteps()
	for i, t := range observedTimes {
		if math.IsNaN(observedValues[i]) {
			continue
		}
		if t < cfg.StartTimestamp || (t-cfg.StartTimestamp)%cfg.StepSize != 0 {
			continue
		}
		step := int((t - cfg.StartTimestamp) / cfg.StepSize)
		if step >= nsteps {
			continue
		}
		p.alignedSteps = append(p.alignedSteps, step)
		p.alignedObs = append(p.alignedObs, observedValues[i])
	}
	if len(p.alignedSteps) == 0 {
		return nil, fmt.Errorf("no observations overlap the simulated period")
	}

	return p, nil
}

// NParams returns the number of genes.
func (p *Problem) NParams() int {
	return p.Mapping.Len()
}

// SetParams maps each normalised gene to its physical value and writes
// it into the model along its target path.
func (p *Problem) SetParams(params []float64) error {
	if len(params) != p.Mapping.Len() {
		return fmt.Errorf("expected %d parameters, got %d", p.Mapping.Len(), len(params))
	}
	copy(p.params, params)

	for i, mapping := range p.Mapping.Mappings {
		physical := mapping.ToPhysical(params[i])
		if err := p.setModelParam(mapping.TargetPath, physical); err != nil {
			return err
		}
	}
	return nil
}

// setModelParam walks a target path like
// "node.subcatchment.sacramento.lztwm" and writes the value.
func (p *Problem) setModelParam(path string, value float64) error {
	parts := strings.SplitN(strings.ToLower(path), ".", 3)
	if len(parts) < 3 || parts[0] != "node" {
		return fmt.Errorf("invalid target path '%s': expected node.<name>.<param>", path)
	}
	node, ok := p.model.Node(parts[1])
	if !ok {
		return fmt.Errorf("target path '%s': no node named '%s'", path, parts[1])
	}
	optimisable, ok := node.(nodes.OptimisableNode)
	if !ok {
		return fmt.Errorf("target path '%s': node '%s' has no optimisable parameters", path, parts[1])
	}
	return optimisable.SetParam(parts[2], value)
}

// GetParams returns the current normalised genes.
func (p *Problem) GetParams() []float64 {
	return append([]float64(nil), p.params...)
}

// Evaluate runs the model and scores the simulated series against the
// observations. Lower is better.
func (p *Problem) Evaluate() (float64, error) {
	if err := p.model.Run(); err != nil {
		return 0, err
	}

	simulated := p.model.Cache.SeriesValues(p.simulatedIdx)
	aligned := make([]float64, len(p.alignedSteps))
	for i, step := range p.alignedSteps {
		if step >= len(simulated) {
			return 0, fmt.Errorf("simulated series '%s' is shorter than the simulated period",
				p.SimulatedSeries)
		}
		aligned[i] = simulated[step]
	}

	return p.Objective.Calculate(p.alignedObs, aligned)
}

// ParamNames returns the target paths of the genes.
func (p *Problem) ParamNames() []string {
	names := make([]string, p.Mapping.Len())
	for i, m := range p.Mapping.Mappings {
		names[i] = m.TargetPath
	}
	return names
}

// CloneForParallel deep-clones the problem: the model and its cache are
// independent; the immutable aligned observations are shared.
func (p *Problem) CloneForParallel() Optimisable {
	clone := &Problem{
		model:           p.model.Clone(),
		Mapping:         p.Mapping,
		Objective:       p.Objective,
		SimulatedSeries: p.SimulatedSeries,
		simulatedIdx:    p.simulatedIdx,
		alignedSteps:    p.alignedSteps,
		alignedObs:      p.alignedObs,
		params:          append([]float64(nil), p.params...),
	}
	return clone
}
