package optim

import (
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bowlProblem minimises sum((u_i - 0.5)^2).
type bowlProblem struct {
	n      int
	params []float64
}

func newBowl(n int) *bowlProblem {
	return &bowlProblem{n: n, params: make([]float64, n)}
}

func (p *bowlProblem) NParams() int { return p.n }

func (p *bowlProblem) SetParams(params []float64) error {
	if len(params) != p.n {
		return fmt.Errorf("expected %d params", p.n)
	}
	copy(p.params, params)
	return nil
}

func (p *bowlProblem) GetParams() []float64 {
	return append([]float64(nil), p.params...)
}

func (p *bowlProblem) Evaluate() (float64, error) {
	sum := 0.0
	for _, u := range p.params {
		d := u - 0.5
		sum += d * d
	}
	return sum, nil
}

func (p *bowlProblem) ParamNames() []string { return DefaultParamNames(p.n) }

func (p *bowlProblem) CloneForParallel() Optimisable {
	clone := newBowl(p.n)
	copy(clone.params, p.params)
	return clone
}

// failingProblem errors on evaluation for half the candidates.
type failingProblem struct {
	bowlProblem
}

func (p *failingProblem) Evaluate() (float64, error) {
	if p.params[0] > 0.5 {
		return 0, fmt.Errorf("synthetic failure")
	}
	return p.bowlProblem.Evaluate()
}

func (p *failingProblem) CloneForParallel() Optimisable {
	clone := &failingProblem{bowlProblem: *newBowl(p.n)}
	copy(clone.params, p.params)
	return clone
}

func TestDEOnBowl(t *testing.T) {
	de := NewDifferentialEvolution(DEConfig{
		PopulationSize:         50,
		TerminationEvaluations: 5000,
		F:                      0.8,
		CR:                     0.9,
		Seed:                   42,
		NThreads:               1,
	})

	result := de.Optimize(newBowl(3))

	require.True(t, result.Success)
	assert.Less(t, result.BestObjective, 1e-4)
	for i, u := range result.BestParams {
		assert.InDelta(t, 0.5, u, 0.01, "param %d", i)
	}
	assert.GreaterOrEqual(t, result.NEvaluations, 5000)
}

func TestDEBestIsMonotonicNonIncreasing(t *testing.T) {
	var history []float64
	de := NewDifferentialEvolution(DEConfig{
		PopulationSize:         20,
		TerminationEvaluations: 2000,
		F:                      0.8,
		CR:                     0.9,
		Seed:                   7,
		NThreads:               1,
		Progress: func(p *Progress) {
			history = append(history, p.BestObjective)
		},
	})

	de.Optimize(newBowl(4))

	require.NotEmpty(t, history)
	for i := 1; i < len(history); i++ {
		assert.LessOrEqual(t, history[i], history[i-1], "generation %d", i)
	}
}

func TestDEDeterminismWithFixedSeed(t *testing.T) {
	run := func() Result {
		de := NewDifferentialEvolution(DEConfig{
			PopulationSize:         30,
			TerminationEvaluations: 1500,
			F:                      0.8,
			CR:                     0.9,
			Seed:                   123,
			NThreads:               1,
		})
		return de.Optimize(newBowl(3))
	}

	first := run()
	second := run()

	assert.Equal(t, first.BestObjective, second.BestObjective)
	assert.Equal(t, first.BestParams, second.BestParams)
	assert.Equal(t, first.NEvaluations, second.NEvaluations)
}

func TestDEParallelEvaluationConverges(t *testing.T) {
	de := NewDifferentialEvolution(DEConfig{
		PopulationSize:         40,
		TerminationEvaluations: 4000,
		F:                      0.8,
		CR:                     0.9,
		Seed:                   42,
		NThreads:               4,
	})

	result := de.Optimize(newBowl(3))
	require.True(t, result.Success)
	assert.Less(t, result.BestObjective, 1e-3)
}

func TestDEFailedEvaluationsAreDominated(t *testing.T) {
	problem := &failingProblem{bowlProblem: *newBowl(2)}
	de := NewDifferentialEvolution(DEConfig{
		PopulationSize:         20,
		TerminationEvaluations: 600,
		F:                      0.8,
		CR:                     0.9,
		Seed:                   5,
		NThreads:               1,
	})

	result := de.Optimize(problem)
	assert.False(t, math.IsInf(result.BestObjective, 1),
		"surviving candidates must come from the feasible half")
	assert.LessOrEqual(t, result.BestParams[0], 0.5)
}

func TestDEStopFlag(t *testing.T) {
	var stop atomic.Bool
	generations := 0
	de := NewDifferentialEvolution(DEConfig{
		PopulationSize:         20,
		TerminationEvaluations: 1000000,
		F:                      0.8,
		CR:                     0.9,
		Seed:                   1,
		NThreads:               1,
		Progress: func(*Progress) {
			generations++
			if generations == 3 {
				stop.Store(true)
			}
		},
		Stop: &stop,
	})

	result := de.Optimize(newBowl(2))
	assert.False(t, result.Success)
	assert.Equal(t, "stopped", result.Message)
	assert.NotEmpty(t, result.BestParams, "best-so-far is returned")
}
