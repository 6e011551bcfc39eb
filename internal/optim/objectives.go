package optim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// ObjectiveFunction identifies a goodness-of-fit statistic. Every
// objective is expressed so that LOWER IS BETTER: efficiency metrics
// (NSE, KGE) are negated, percent bias is taken as absolute value.
type ObjectiveFunction int

const (
	// NashSutcliffe is -NSE: range -1..inf, -1 is a perfect fit.
	NashSutcliffe ObjectiveFunction = iota
	// NashSutcliffeLog is -NSE on log-transformed values (+0.01 offset),
	// which weights low flows more heavily.
	NashSutcliffeLog
	// RMSE is the root mean square error.
	RMSE
	// MAE is the mean absolute error.
	MAE
	// KlingGupta is -KGE: range -1..inf, -1 is a perfect fit.
	KlingGupta
	// PercentBias is |PBIAS|.
	PercentBias
)

// ObjectiveFromName resolves an objective by its configuration name.
func ObjectiveFromName(name string) (ObjectiveFunction, error) {
	switch name {
	case "nse":
		return NashSutcliffe, nil
	case "nse-log", "nse_log":
		return NashSutcliffeLog, nil
	case "rmse":
		return RMSE, nil
	case "mae":
		return MAE, nil
	case "kge":
		return KlingGupta, nil
	case "pbias":
		return PercentBias, nil
	default:
		return 0, fmt.Errorf("unknown objective function '%s'", name)
	}
}

// Name returns the reporting name of the objective.
func (o ObjectiveFunction) Name() string {
	switch o {
	case NashSutcliffe:
		return "NSE"
	case NashSutcliffeLog:
		return "NSE-Log"
	case RMSE:
		return "RMSE"
	case MAE:
		return "MAE"
	case KlingGupta:
		return "KGE"
	case PercentBias:
		return "PBIAS"
	default:
		return "?"
	}
}

// Calculate computes the objective for observed vs simulated values.
// It rejects length mismatches, empty inputs, and zero variance in the
// observed data where the statistic requires it.
func (o ObjectiveFunction) Calculate(observed, simulated []float64) (float64, error) {
	if len(observed) != len(simulated) {
		return 0, fmt.Errorf("observed and simulated must have same length (%d vs %d)",
			len(observed), len(simulated))
	}
	if len(observed) == 0 {
		return 0, fmt.Errorf("cannot calculate objective for empty data")
	}

	switch o {
	case NashSutcliffe:
		nse, err := nashSutcliffe(observed, simulated)
		return -nse, err
	case NashSutcliffeLog:
		nse, err := nashSutcliffeLog(observed, simulated)
		return -nse, err
	case RMSE:
		return rmse(observed, simulated), nil
	case MAE:
		return mae(observed, simulated), nil
	case KlingGupta:
		kge, err := klingGupta(observed, simulated)
		return -kge, err
	case PercentBias:
		return math.Abs(percentBias(observed, simulated)), nil
	default:
		return 0, fmt.Errorf("unknown objective function %d", o)
	}
}

// nashSutcliffe is NSE = 1 - sum((obs-sim)^2) / sum((obs-mean)^2).
func nashSutcliffe(observed, simulated []float64) (float64, error) {
	obsMean := stat.Mean(observed, nil)

	ssRes := 0.0
	ssTot := 0.0
	for i, o := range observed {
		d := o - simulated[i]
		ssRes += d * d
		m := o - obsMean
		ssTot += m * m
	}

	if ssTot == 0 {
		return 0, fmt.Errorf("observed data has zero variance (constant values)")
	}

	return 1 - ssRes/ssTot, nil
}

// nashSutcliffeLog is NSE on ln(x+0.01) transformed values.
func nashSutcliffeLog(observed, simulated []float64) (float64, error) {
	const epsilon = 0.01

	logObs := make([]float64, len(observed))
	logSim := make([]float64, len(simulated))
	for i := range observed {
		logObs[i] = math.Log(observed[i] + epsilon)
		logSim[i] = math.Log(simulated[i] + epsilon)
	}

	return nashSutcliffe(logObs, logSim)
}

func rmse(observed, simulated []float64) float64 {
	mse := 0.0
	for i, o := range observed {
		d := o - simulated[i]
		mse += d * d
	}
	return math.Sqrt(mse / float64(len(observed)))
}

func mae(observed, simulated []float64) float64 {
	sum := 0.0
	for i, o := range observed {
		sum += math.Abs(o - simulated[i])
	}
	return sum / float64(len(observed))
}

// klingGupta is KGE = 1 - sqrt((r-1)^2 + (alpha-1)^2 + (beta-1)^2) with
// r the correlation, alpha the stddev ratio and beta the mean ratio.
func klingGupta(observed, simulated []float64) (float64, error) {
	obsMean := stat.Mean(observed, nil)
	simMean := stat.Mean(simulated, nil)
	obsStd := math.Sqrt(stat.PopVariance(observed, nil))
	simStd := math.Sqrt(stat.PopVariance(simulated, nil))

	if obsStd == 0 {
		return 0, fmt.Errorf("observed data has zero variance")
	}

	r := 0.0
	if simStd > 0 {
		cov := 0.0
		for i := range observed {
			cov += (observed[i] - obsMean) * (simulated[i] - simMean)
		}
		cov /= float64(len(observed))
		r = cov / (obsStd * simStd)
	}
	alpha := simStd / obsStd
	beta := simMean / obsMean

	kge := 1 - math.Sqrt((r-1)*(r-1)+(alpha-1)*(alpha-1)+(beta-1)*(beta-1))
	return kge, nil
}

// percentBias is 100 * sum(sim-obs) / sum(obs); positive means
// overestimation.
func percentBias(observed, simulated []float64) float64 {
	sumObs := 0.0
	sumDiff := 0.0
	for i, o := range observed {
		sumObs += o
		sumDiff += simulated[i] - o
	}
	if sumObs == 0 {
		return 0
	}
	return 100 * sumDiff / sumObs
}
