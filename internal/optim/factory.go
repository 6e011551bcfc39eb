package optim

import (
	"sync/atomic"

	"kalix/pkg/apperror"
)

// Algorithm identifies an optimisation algorithm.
type Algorithm string

const (
	AlgorithmDE    Algorithm = "de"
	AlgorithmSCEUA Algorithm = "sceua"
	AlgorithmCMAES Algorithm = "cmaes" // reserved, not implemented
)

// OptimisationConfig is the algorithm-agnostic run configuration.
type OptimisationConfig struct {
	Algorithm              Algorithm
	TerminationEvaluations int
	Seed                   int64
	NThreads               int

	// DE parameters
	PopulationSize int
	F              float64
	CR             float64

	// SCE-UA parameters
	Complexes int

	Progress ProgressFunc
	Stop     *atomic.Bool
}

// DefaultOptimisationConfig returns a DE configuration with the
// conventional defaults.
func DefaultOptimisationConfig() OptimisationConfig {
	de := DefaultDEConfig()
	sce := DefaultSceUaConfig()
	return OptimisationConfig{
		Algorithm:              AlgorithmDE,
		TerminationEvaluations: de.TerminationEvaluations,
		NThreads:               1,
		PopulationSize:         de.PopulationSize,
		F:                      de.F,
		CR:                     de.CR,
		Complexes:              sce.Complexes,
	}
}

// CreateOptimizer builds the optimiser selected by the configuration.
func CreateOptimizer(cfg OptimisationConfig) (Optimizer, error) {
	switch cfg.Algorithm {
	case AlgorithmDE, "":
		return NewDifferentialEvolution(DEConfig{
			PopulationSize:         cfg.PopulationSize,
			TerminationEvaluations: cfg.TerminationEvaluations,
			F:                      cfg.F,
			CR:                     cfg.CR,
			Seed:                   cfg.Seed,
			NThreads:               cfg.NThreads,
			Progress:               cfg.Progress,
			Stop:                   cfg.Stop,
		}), nil
	case AlgorithmSCEUA:
		return NewSceUa(SceUaConfig{
			Complexes:              cfg.Complexes,
			TerminationEvaluations: cfg.TerminationEvaluations,
			Seed:                   cfg.Seed,
			NThreads:               cfg.NThreads,
			Progress:               cfg.Progress,
			Stop:                   cfg.Stop,
		}), nil
	default:
		return nil, apperror.Newf(apperror.CodeUnimplemented,
			"algorithm '%s' is not implemented; supported: de, sceua", cfg.Algorithm)
	}
}
