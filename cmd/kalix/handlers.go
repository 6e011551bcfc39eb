package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"kalix/internal/optim"
	"kalix/internal/session"
	"kalix/pkg/config"
	"kalix/pkg/metrics"
)

// simulationRequest is the payload of the run_simulation command.
type simulationRequest struct {
	Model modelSpec `json:"model"`
}

// simulationResult is the result payload of run_simulation.
type simulationResult struct {
	Steps               int                  `json:"steps"`
	MassBalanceResidual float64              `json:"mass_balance_residual"`
	MassBalanceReport   string               `json:"mass_balance_report"`
	Series              map[string][]float64 `json:"series"`
}

func handleRunSimulation(cfg *config.Config, params json.RawMessage) (*simulationResult, error) {
	var req simulationRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed run_simulation parameters: %w", err)
	}

	m, err := buildModel(req.Model)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	runErr := m.Run()
	steps := m.Config.NSteps()
	residual := m.MassBalanceResidual()
	metrics.Get().RecordSimulation(runErr == nil, steps, time.Since(started), residual)
	metrics.Get().RecordModelSize("simulate", len(m.Nodes()))
	if runErr != nil {
		return nil, runErr
	}

	if err := m.VerifyMassBalance(cfg.Simulation.MassBalanceTolerance); err != nil {
		return nil, err
	}

	series := make(map[string][]float64, len(req.Model.Outputs))
	for _, name := range req.Model.Outputs {
		if idx, ok := m.Cache.LookupSeries(name); ok {
			series[name] = m.Cache.SeriesValues(idx)
		}
	}

	return &simulationResult{
		Steps:               steps,
		MassBalanceResidual: residual,
		MassBalanceReport:   m.GenerateMassBalanceReport(),
		Series:              series,
	}, nil
}

// optimisationRequest is the payload of the run_optimisation command.
type optimisationRequest struct {
	Model           modelSpec       `json:"model"`
	Parameters      []parameterSpec `json:"parameters"`
	Objective       string          `json:"objective"`
	ObservedSeries  string          `json:"observed_series"`
	SimulatedSeries string          `json:"simulated_series"`

	Algorithm              string `json:"algorithm,omitempty"`
	TerminationEvaluations int    `json:"termination_evaluations,omitempty"`
	Seed                   int64  `json:"random_seed,omitempty"`
	Threads                int    `json:"threads,omitempty"`
	PopulationSize         int    `json:"population_size,omitempty"`
	F                      float64 `json:"f,omitempty"`
	CR                     float64 `json:"cr,omitempty"`
	Complexes              int    `json:"complexes,omitempty"`
}

type parameterSpec struct {
	Target    string  `json:"target"`
	Low       float64 `json:"low"`
	High      float64 `json:"high"`
	Transform string  `json:"transform,omitempty"`
}

// optimisationResult is the result payload of run_optimisation.
type optimisationResult struct {
	BestObjective float64            `json:"best_objective"`
	BestParams    map[string]float64 `json:"best_params"`
	NEvaluations  int                `json:"n_evaluations"`
	Success       bool               `json:"success"`
	Message       string             `json:"message"`
}

func handleRunOptimisation(cfg *config.Config, cmdCtx *session.CommandContext,
	params json.RawMessage) (*optimisationResult, error) {

	var req optimisationRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("malformed run_optimisation parameters: %w", err)
	}

	m, err := buildModel(req.Model)
	if err != nil {
		return nil, err
	}

	objective, err := optim.ObjectiveFromName(req.Objective)
	if err != nil {
		return nil, err
	}

	var mapping optim.ParameterMappingConfig
	for _, p := range req.Parameters {
		transform, err := optim.TransformFromName(p.Transform)
		if err != nil {
			return nil, err
		}
		mapping.Add(optim.ParameterMapping{
			TargetPath: p.Target,
			Low:        p.Low,
			High:       p.High,
			Transform:  transform,
		})
	}

	observedIdx, ok := m.Cache.LookupSeries(req.ObservedSeries)
	if !ok {
		return nil, fmt.Errorf("observed series '%s' is not loaded", req.ObservedSeries)
	}
	observedValues := m.Cache.SeriesValues(observedIdx)
	observedTimes := make([]uint64, len(observedValues))
	for i := range observedTimes {
		observedTimes[i] = m.Config.StartTimestamp + uint64(i)*m.Config.StepSize
	}

	problem, err := optim.NewProblem(m, mapping, objective,
		req.SimulatedSeries, observedTimes, observedValues)
	if err != nil {
		return nil, err
	}

	optCfg := optim.DefaultOptimisationConfig()
	optCfg.Stop = cmdCtx.Stop
	optCfg.NThreads = cfg.Simulation.Threads
	if optCfg.NThreads <= 0 {
		optCfg.NThreads = runtime.NumCPU()
	}
	if req.Algorithm != "" {
		optCfg.Algorithm = optim.Algorithm(req.Algorithm)
	}
	if req.TerminationEvaluations > 0 {
		optCfg.TerminationEvaluations = req.TerminationEvaluations
	}
	if req.Seed != 0 {
		optCfg.Seed = req.Seed
	}
	if req.Threads > 0 {
		optCfg.NThreads = req.Threads
	}
	if req.PopulationSize > 0 {
		optCfg.PopulationSize = req.PopulationSize
	}
	if req.F > 0 {
		optCfg.F = req.F
	}
	if req.CR > 0 {
		optCfg.CR = req.CR
	}
	if req.Complexes > 0 {
		optCfg.Complexes = req.Complexes
	}

	reportEvery := cfg.Simulation.ReportFrequency
	if reportEvery <= 0 {
		reportEvery = 10
	}
	generations := 0
	optCfg.Progress = func(p *optim.Progress) {
		generations++
		if generations%reportEvery != 0 {
			return
		}
		percent := 100 * float64(p.NEvaluations) / float64(optCfg.TerminationEvaluations)
		cmdCtx.Progress(session.ProgressInfo{
			PercentComplete: percent,
			CurrentStep:     fmt.Sprintf("best objective %.6g after %d evaluations", p.BestObjective, p.NEvaluations),
		})
	}

	optimizer, err := optim.CreateOptimizer(optCfg)
	if err != nil {
		return nil, err
	}

	result := optimizer.Optimize(problem)
	metrics.Get().RecordOptimisation(optimizer.Name(), result.Success,
		result.NEvaluations, result.BestObjective)

	best := make(map[string]float64, mapping.Len())
	for i, pm := range mapping.Mappings {
		best[pm.TargetPath] = pm.ToPhysical(result.BestParams[i])
	}

	out := &optimisationResult{
		BestObjective: result.BestObjective,
		BestParams:    best,
		NEvaluations:  result.NEvaluations,
		Success:       result.Success,
		Message:       result.Message,
	}
	if !result.Success && result.Message == "stopped" {
		return out, session.ErrStopped
	}
	return out, nil
}
