package optim

import (
	"math"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"
)

// SceUaConfig configures the SCE-UA optimiser (Shuffled Complex
// Evolution, Duan et al. 1992, 1994).
type SceUaConfig struct {
	// Complexes is the number of sub-populations.
	Complexes int

	// TerminationEvaluations stops the run after approximately this many
	// objective evaluations.
	TerminationEvaluations int

	// Seed seeds the RNG; 0 draws a seed from the clock.
	Seed int64

	// NThreads is the number of parallel evaluation workers used for the
	// initial population; complex evolution itself is sequential per
	// complex.
	NThreads int

	// Progress, when set, is called after every shuffle.
	Progress ProgressFunc

	// Stop is checked between shuffles; when set the run returns the
	// best-so-far with Success=false and Message="stopped".
	Stop *atomic.Bool
}

// DefaultSceUaConfig returns the conventional defaults.
func DefaultSceUaConfig() SceUaConfig {
	return SceUaConfig{
		Complexes:              5,
		TerminationEvaluations: 10000,
		NThreads:               1,
	}
}

// individual pairs a normalised parameter vector with its objective.
type individual struct {
	params    []float64
	objective float64
}

// SceUa is the Shuffled Complex Evolution optimiser.
type SceUa struct {
	config SceUaConfig
}

// NewSceUa creates an SCE-UA optimiser with the given config.
func NewSceUa(config SceUaConfig) *SceUa {
	return &SceUa{config: config}
}

// Name returns "SCE-UA".
func (s *SceUa) Name() string {
	return "SCE-UA"
}

// Optimize runs the algorithm on the problem.
//
// Population sizing follows Duan et al. (1994): m = 2n+1 points per
// complex, s = complexes*m total, p = n+1 parents per simplex, and m
// breeding iterations per complex per shuffle.
func (s *SceUa) Optimize(problem Optimisable) Result {
	start := time.Now()
	nParams := problem.NParams()

	m := 2*nParams + 1
	total := s.config.Complexes * m
	p := nParams + 1
	breedingIterations := m

	seed := s.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	// Latin Hypercube init, then parallel evaluation of the population.
	population := s.latinHypercube(total, nParams, rng)
	var evaluations atomic.Int64
	candidates := make([][]float64, total)
	for i := range population {
		candidates[i] = population[i].params
	}
	var objectives []float64
	if s.config.NThreads > 1 {
		objectives = evaluateParallel(problem, candidates, s.config.NThreads, &evaluations)
	} else {
		objectives = make([]float64, total)
		for i, c := range candidates {
			objectives[i] = evaluateCandidate(problem, c, i, &evaluations)
		}
	}
	for i := range population {
		population[i].objective = objectives[i]
	}

	sortByObjective(population)
	bestParams := append([]float64(nil), population[0].params...)
	bestObjective := population[0].objective

	s.reportProgress(0, bestObjective, population, int(evaluations.Load()), start)

	complexes := partitionIntoComplexes(population, s.config.Complexes)

	shuffle := 0
	stopped := false
	for int(evaluations.Load()) < s.config.TerminationEvaluations {
		if s.config.Stop != nil && s.config.Stop.Load() {
			stopped = true
			break
		}
		shuffle++

		// Competitive complex evolution. Each complex derives its own
		// sub-seed from the master RNG so the shuffle sequence stays
		// reproducible regardless of evolution internals.
		for c := range complexes {
			localRng := rand.New(rand.NewSource(rng.Int63()))
			s.evolveOneComplex(complexes[c], problem, breedingIterations, p, nParams, localRng, &evaluations)
		}

		// Recombine, sort, re-partition (shuffle).
		population = combineComplexes(complexes)
		sortByObjective(population)

		if population[0].objective < bestObjective {
			bestObjective = population[0].objective
			bestParams = append([]float64(nil), population[0].params...)
		}

		s.reportProgress(shuffle, bestObjective, population, int(evaluations.Load()), start)

		complexes = partitionIntoComplexes(population, s.config.Complexes)
	}

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
		AlgorithmData: map[string]any{"shuffles": shuffle},
	}
}

func (s *SceUa) reportProgress(shuffle int, best float64, population []individual,
	evaluations int, start time.Time) {
	if s.config.Progress == nil {
		return
	}
	objectives := make([]float64, len(population))
	for i, ind := range population {
		objectives[i] = ind.objective
	}
	s.config.Progress(&Progress{
		NEvaluations:         evaluations,
		BestObjective:        best,
		PopulationObjectives: objectives,
		Elapsed:              time.Since(start),
		AlgorithmData: map[string]float64{
			"shuffle":   float64(shuffle),
			"complexes": float64(s.config.Complexes),
		},
	})
}

// latinHypercube samples n individuals with good marginal coverage: for
// each dimension a random permutation of bins, one uniform draw inside
// each assigned bin.
func (s *SceUa) latinHypercube(nSamples, nParams int, rng *rand.Rand) []individual {
	population := make([]individual, nSamples)
	for i := range population {
		population[i] = individual{
			params:    make([]float64, nParams),
			objective: math.Inf(1),
		}
	}

	binWidth := 1.0 / float64(nSamples)
	for param := 0; param < nParams; param++ {
		bins := rng.Perm(nSamples)
		for ind, bin := range bins {
			population[ind].params[param] = (float64(bin) + rng.Float64()) * binWidth
		}
	}

	return population
}

// partitionIntoComplexes deals a sorted population round-robin into the
// complexes, so each receives an even spread of fitness ranks.
func partitionIntoComplexes(population []individual, nComplexes int) [][]individual {
	complexes := make([][]individual, nComplexes)
	for i, ind := range population {
		c := i % nComplexes
		complexes[c] = append(complexes[c], ind)
	}
	return complexes
}

func combineComplexes(complexes [][]individual) []individual {
	var population []individual
	for _, c := range complexes {
		population = append(population, c...)
	}
	return population
}

func sortByObjective(population []individual) {
	sort.SliceStable(population, func(i, j int) bool {
		return lessObjective(population[i].objective, population[j].objective)
	})
}

// lessObjective orders objectives treating NaN as +Inf so the sort is a
// weak total order even when evaluations misbehave.
func lessObjective(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

// evolveOneComplex runs the CCE loop of Duan et al. (1994) on one
// complex: weighted parent selection, reflection through the centroid,
// contraction, and a random fallback.
func (s *SceUa) evolveOneComplex(cx []individual, problem Optimisable,
	breedingIterations, p, nParams int, rng *rand.Rand, evaluations *atomic.Int64) {

	const elitism = 1.0 // trapezoidal weighting exponent

	for iter := 0; iter < breedingIterations; iter++ {
		parentIndices := selectParentsWeighted(len(cx), p, elitism, rng)

		parents := make([]individual, len(parentIndices))
		for i, idx := range parentIndices {
			parents[i] = cx[idx]
		}

		// Order parents best first; keep the complex indices aligned.
		order := make([]int, len(parents))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return lessObjective(parents[order[a]].objective, parents[order[b]].objective)
		})

		worstPos := order[len(order)-1]
		worst := parents[worstPos]

		// Centroid of all parents except the worst.
		centroid := make([]float64, nParams)
		for _, pos := range order[:len(order)-1] {
			for j, v := range parents[pos].params {
				centroid[j] += v
			}
		}
		for j := range centroid {
			centroid[j] /= float64(len(order) - 1)
		}

		// Reflection: proposal = centroid + (centroid - worst).
		proposal := reflect(worst.params, centroid, -1)
		if !inUnitBounds(proposal) {
			proposal = randomPoint(nParams, rng)
		}

		proposalObjective := evaluateCandidate(problem.CloneForParallel(), proposal, iter, evaluations)

		// If still worse than the worst parent, try contraction, then a
		// fresh random point.
		if proposalObjective > worst.objective {
			contracted := reflect(worst.params, centroid, 0.5)
			if inUnitBounds(contracted) {
				contractedObjective := evaluateCandidate(problem.CloneForParallel(), contracted, iter, evaluations)
				if lessObjective(contractedObjective, proposalObjective) {
					proposal = contracted
					proposalObjective = contractedObjective
				}
			}

			if proposalObjective > worst.objective {
				proposal = randomPoint(nParams, rng)
				proposalObjective = evaluateCandidate(problem.CloneForParallel(), proposal, iter, evaluations)
			}
		}

		// Replace the worst parent in the complex.
		cx[parentIndices[worstPos]] = individual{
			params:    proposal,
			objective: proposalObjective,
		}
	}
}

// selectParentsWeighted draws nParents distinct members using the
// trapezoidal rank weighting w_i = rank^elitism (best rank heaviest).
func selectParentsWeighted(nMembers, nParents int, elitism float64, rng *rand.Rand) []int {
	parents := make([]int, 0, nParents)
	available := make([]int, nMembers)
	weights := make([]float64, nMembers)
	for i := 0; i < nMembers; i++ {
		available[i] = i
		weights[i] = math.Pow(float64(nMembers-i), elitism)
	}

	for len(parents) < nParents {
		totalWeight := 0.0
		for _, w := range weights {
			totalWeight += w
		}

		r := rng.Float64() * totalWeight
		chosen := 0
		for r > weights[chosen] && chosen < len(weights)-1 {
			r -= weights[chosen]
			chosen++
		}

		parents = append(parents, available[chosen])
		available = append(available[:chosen], available[chosen+1:]...)
		weights = append(weights[:chosen], weights[chosen+1:]...)
	}

	return parents
}

// reflect maps a point through a mirror: original*factor + mirror*(1-factor).
// factor -1 is the standard reflection, 0.5 the contraction.
func reflect(original, mirror []float64, factor float64) []float64 {
	result := make([]float64, len(original))
	for i := range original {
		result[i] = original[i]*factor + mirror[i]*(1-factor)
	}
	return result
}

func inUnitBounds(params []float64) bool {
	for _, p := range params {
		if p < 0 || p > 1 {
			return false
		}
	}
	return true
}

func randomPoint(nParams int, rng *rand.Rand) []float64 {
	point := make([]float64, nParams)
	for i := range point {
		point[i] = rng.Float64()
	}
	return point
}
