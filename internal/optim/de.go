package optim

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"kalix/pkg/logger"
)

// DEConfig configures the Differential Evolution optimiser
// (DE/rand/1/bin, Storn & Price 1997).
type DEConfig struct {
	// PopulationSize is NP, the number of individuals.
	PopulationSize int

	// TerminationEvaluations stops the run after approximately this many
	// objective evaluations.
	TerminationEvaluations int

	// F is the differential weight in [0,2], typically 0.8.
	F float64

	// CR is the crossover probability in [0,1], typically 0.9.
	CR float64

	// Seed seeds the RNG; 0 draws a seed from the clock.
	Seed int64

	// NThreads is the number of parallel evaluation workers; 1 is
	// single-threaded.
	NThreads int

	// Progress, when set, is called between generations.
	Progress ProgressFunc

	// Stop is checked between generations; when set the run returns the
	// best-so-far with Success=false and Message="stopped". In-flight
	// evaluations complete.
	Stop *atomic.Bool
}

// DefaultDEConfig returns the conventional defaults.
func DefaultDEConfig() DEConfig {
	return DEConfig{
		PopulationSize:         50,
		TerminationEvaluations: 5000,
		F:                      0.8,
		CR:                     0.9,
		NThreads:               1,
	}
}

// DifferentialEvolution is the DE/rand/1/bin optimiser.
type DifferentialEvolution struct {
	config DEConfig
}

// NewDifferentialEvolution creates a DE optimiser with the given config.
func NewDifferentialEvolution(config DEConfig) *DifferentialEvolution {
	return &DifferentialEvolution{config: config}
}

// Name returns "DE".
func (de *DifferentialEvolution) Name() string {
	return "DE"
}

// Optimize runs the algorithm on the problem.
func (de *DifferentialEvolution) Optimize(problem Optimisable) Result {
	start := time.Now()
	nParams := problem.NParams()
	popSize := de.config.PopulationSize

	seed := de.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Initialise population uniformly in [0,1]^n
	population := make([][]float64, popSize)
	for i := range population {
		population[i] = make([]float64, nParams)
		for j := range population[i] {
			population[i][j] = rng.Float64()
		}
	}

	// Evaluate initial population
	var evaluations atomic.Int64
	objective := de.evaluateAll(problem, population, &evaluations)

	bestIdx := 0
	for i := 1; i < popSize; i++ {
		if objective[i] < objective[bestIdx] {
			bestIdx = i
		}
	}
	bestObjective := objective[bestIdx]
	bestParams := append([]float64(nil), population[bestIdx]...)

	generation := 0
	stopped := false
	for int(evaluations.Load()) < de.config.TerminationEvaluations {
		if de.config.Stop != nil && de.config.Stop.Load() {
			stopped = true
			break
		}

		de.reportProgress(generation, bestObjective, objective, int(evaluations.Load()), start)

		// Generate all trials for this generation
		trials := make([][]float64, popSize)
		for i := 0; i < popSize; i++ {
			r1, r2, r3 := selectDistinctIndices(i, popSize, rng)

			// Mutation: trial = x_r1 + F * (x_r2 - x_r3)
			trial := make([]float64, nParams)
			for j := 0; j < nParams; j++ {
				trial[j] = population[r1][j] + de.config.F*(population[r2][j]-population[r3][j])
			}

			// Binomial crossover; j_rand forces at least one trial gene
			jRand := rng.Intn(nParams)
			for j := 0; j < nParams; j++ {
				if j != jRand && rng.Float64() >= de.config.CR {
					trial[j] = population[i][j]
				}
			}

			// Clip to [0,1]
			for j := 0; j < nParams; j++ {
				trial[j] = math.Min(math.Max(trial[j], 0), 1)
			}

			trials[i] = trial
		}

		trialObjectives := de.evaluateAll(problem, trials, &evaluations)

		// Greedy selection on index-matched slots
		for i := 0; i < popSize; i++ {
			if trialObjectives[i] < objective[i] {
				population[i] = trials[i]
				objective[i] = trialObjectives[i]

				if trialObjectives[i] < bestObjective {
					bestObjective = trialObjectives[i]
					bestParams = append([]float64(nil), population[i]...)
				}
			}
		}

		generation++
	}

	de.reportProgress(generation, bestObjective, objective, int(evaluations.Load()), start)

	message := "optimisation completed successfully"
	if stopped {
		message = "stopped"
	}
	return Result{
		BestParams:    bestParams,
		BestObjective: bestObjective,
		NEvaluations:  int(evaluations.Load()),
		Success:       !stopped,
		Message:       message,
		Elapsed:       time.Since(start),
		AlgorithmData: map[string]any{"generations": generation},
	}
}

func (de *DifferentialEvolution) reportProgress(generation int, best float64,
	objectives []float64, evaluations int, start time.Time) {
	if de.config.Progress == nil {
		return
	}
	de.config.Progress(&Progress{
		NEvaluations:         evaluations,
		BestObjective:        best,
		PopulationObjectives: append([]float64(nil), objectives...),
		Elapsed:              time.Since(start),
		AlgorithmData:        map[string]float64{"generation": float64(generation)},
	})
}

// evaluateAll evaluates every candidate, in parallel when configured.
// Objectives land in index-matched slots; a failed candidate scores
// +Inf so selection discards it, and NaN objectives are mapped to +Inf
// so comparisons stay a total order.
func (de *DifferentialEvolution) evaluateAll(problem Optimisable,
	candidates [][]float64, evaluations *atomic.Int64) []float64 {
	if de.config.NThreads > 1 {
		return evaluateParallel(problem, candidates, de.config.NThreads, evaluations)
	}
	objectives := make([]float64, len(candidates))
	for i, candidate := range candidates {
		objectives[i] = evaluateCandidate(problem, candidate, i, evaluations)
	}
	return objectives
}

// evaluateParallel scatters candidates over a worker pool. Each worker
// owns one preallocated clone of the problem, so no two goroutines ever
// touch the same model.
func evaluateParallel(problem Optimisable, candidates [][]float64,
	nThreads int, evaluations *atomic.Int64) []float64 {

	if nThreads > len(candidates) {
		nThreads = len(candidates)
	}
	clones := CloneMulti(problem, nThreads)

	objectives := make([]float64, len(candidates))
	tasks := make(chan int, len(candidates))
	for i := range candidates {
		tasks <- i
	}
	close(tasks)

	var g errgroup.Group
	for w := 0; w < nThreads; w++ {
		clone := clones[w]
		g.Go(func() error {
			for i := range tasks {
				objectives[i] = evaluateCandidate(clone, candidates[i], i, evaluations)
			}
			return nil
		})
	}
	// Workers never return errors; failures are encoded as +Inf slots.
	_ = g.Wait()

	return objectives
}

// evaluateCandidate runs set-params + evaluate, mapping any failure to
// +Inf with a single warning for the offending individual.
func evaluateCandidate(problem Optimisable, candidate []float64,
	index int, evaluations *atomic.Int64) float64 {

	if err := problem.SetParams(candidate); err != nil {
		logger.Warn("failed to set params for individual", "index", index, "error", err)
		return math.Inf(1)
	}
	value, err := problem.Evaluate()
	if err != nil {
		logger.Warn("evaluation failed for individual", "index", index, "error", err)
		return math.Inf(1)
	}
	evaluations.Add(1)
	if math.IsNaN(value) {
		return math.Inf(1)
	}
	return value
}

// selectDistinctIndices picks three random indices distinct from each
// other and from target.
func selectDistinctIndices(target, popSize int, rng *rand.Rand) (int, int, int) {
	r1 := rng.Intn(popSize)
	for r1 == target {
		r1 = rng.Intn(popSize)
	}
	r2 := rng.Intn(popSize)
	for r2 == target || r2 == r1 {
		r2 = rng.Intn(popSize)
	}
	r3 := rng.Intn(popSize)
	for r3 == target || r3 == r1 || r3 == r2 {
		r3 = rng.Intn(popSize)
	}
	return r1, r2, r3
}
