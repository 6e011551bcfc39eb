package expr

import (
	"math"
	"strings"
)

// linearCombinationInfo is the result of matching an AST against the
// pattern c_1*v_1 + c_2*v_2 + ... where every v_i is a data reference
// and every c_i is either an explicit literal or the implicit 1.0 of a
// bare variable.
type linearCombinationInfo struct {
	coefficients []float64
	variables    []string
}

// detectLinearCombination matches an AST against the linear-combination
// pattern. A lone bare variable is not a combination (it compiles to a
// direct reference); a lone explicit multiplication like "1.2 * data.x"
// is, so its weight stays adjustable.
func detectLinearCombination(node Node) (linearCombinationInfo, bool) {
	var terms []struct {
		coef float64
		name string
	}

	var extractTerm func(Node) bool
	extractTerm = func(n Node) bool {
		switch t := n.(type) {
		case *BinaryOp:
			if t.Op != OpMultiply {
				return false
			}
			// Either constant * variable or variable * constant.
			if c, ok := t.Left.(*Constant); ok {
				if v, ok := t.Right.(*Variable); ok && isDataName(v.Name) {
					terms = append(terms, struct {
						coef float64
						name string
					}{c.Value, v.Name})
					return true
				}
			}
			if v, ok := t.Left.(*Variable); ok && isDataName(v.Name) {
				if c, ok := t.Right.(*Constant); ok {
					terms = append(terms, struct {
						coef float64
						name string
					}{c.Value, v.Name})
					return true
				}
			}
			return false
		case *Variable:
			if isDataName(t.Name) {
				terms = append(terms, struct {
					coef float64
					name string
				}{1.0, t.Name})
				return true
			}
			return false
		default:
			return false
		}
	}

	var extractSum func(Node) bool
	extractSum = func(n Node) bool {
		if b, ok := n.(*BinaryOp); ok && b.Op == OpAdd {
			return extractSum(b.Left) && extractTerm(b.Right)
		}
		return extractTerm(n)
	}

	if !extractSum(node) {
		return linearCombinationInfo{}, false
	}

	if len(terms) == 1 {
		// A single bare variable is a direct reference, not a combination.
		if b, ok := node.(*BinaryOp); !ok || b.Op != OpMultiply {
			return linearCombinationInfo{}, false
		}
	}
	if len(terms) == 0 {
		return linearCombinationInfo{}, false
	}

	info := linearCombinationInfo{
		coefficients: make([]float64, len(terms)),
		variables:    make([]string, len(terms)),
	}
	for i, t := range terms {
		info.coefficients[i] = t.coef
		info.variables[i] = t.name
	}
	return info, true
}

func isDataName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "data.") || strings.HasPrefix(lower, "data_")
}

// Logit maps [0,1] to the real line, clamping near the boundaries to
// avoid infinities.
func Logit(u float64) float64 {
	clamped := math.Min(math.Max(u, 1e-10), 1-1e-10)
	return math.Log(clamped / (1 - clamped))
}

// ComputeSymmetricWeights derives coefficients from the normalised
// distribution parameters under the symmetric parameterisation
// a_i = bias * softmax(w)_i where w_0 = 0 for the reference station and
// w_i = logit(u_{i-1}) for the rest. At u = 0.5 everywhere the weights
// are equal and sum to bias, so the optimiser searches the simplex in an
// unconstrained space.
func ComputeSymmetricWeights(uParams []float64, n int, bias float64) []float64 {
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []float64{bias}
	}

	w := make([]float64, 0, n)
	w = append(w, 0)
	for _, u := range uParams {
		w = append(w, Logit(u))
	}

	maxW := math.Inf(-1)
	for _, v := range w {
		maxW = math.Max(maxW, v)
	}
	expW := make([]float64, len(w))
	sumExp := 0.0
	for i, v := range w {
		expW[i] = math.Exp(v - maxW)
		sumExp += expW[i]
	}

	weights := make([]float64, len(w))
	for i := range expW {
		weights[i] = bias * expW[i] / sumExp
	}
	return weights
}
