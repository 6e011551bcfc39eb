package expr

import (
	"fmt"
	"strconv"
	"strings"

	"kalix/internal/data"
)

// InputKind discriminates the DynamicInput variants.
type InputKind int

const (
	// InputNone means no input was specified; the value is 0.0.
	InputNone InputKind = iota
	// InputConstant is a value fixed at initialisation.
	InputConstant
	// InputDirectReference reads one data series with a single lookup.
	InputDirectReference
	// InputDirectConstantReference reads one constant with a single lookup.
	InputDirectConstantReference
	// InputLinearCombination is a weighted sum of data series under the
	// symmetric rainfall-weight parameterisation.
	InputLinearCombination
	// InputFunction is a compiled expression.
	InputFunction
)

// Parameter names of the rainfall-weight surface.
const (
	RainfallBiasParam  = "rf_bias"
	RainfallDistPrefix = "rf_d"
)

// DynamicInput is a lazily evaluated value source attached to a node
// property. Parsing, variable interning and compilation all happen once
// at configuration time; per-timestep evaluation is at most an index
// lookup plus arithmetic.
type DynamicInput struct {
	kind       InputKind
	value      float64
	idx        int
	expression string
	compiled   *CompiledNode

	// Linear-combination state.
	dataIndices  []int
	coefficients []float64
	bias         float64
	uParams      []float64
}

// NewDynamicInput parses an expression string, interns its variables
// against the cache and compiles it to the cheapest applicable variant.
// An empty string produces the None variant.
func NewDynamicInput(expression string, cache *data.Cache, critical bool) (DynamicInput, error) {
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return DynamicInput{}, nil
	}

	parsed, err := ParseFunction(trimmed)
	if err != nil {
		return DynamicInput{}, fmt.Errorf("failed to parse expression '%s': %w", trimmed, err)
	}

	in := intern(parsed, cache, critical)

	// A variable-free expression is evaluated once.
	if len(in.dataIdx) == 0 && len(in.constantIdx) == 0 {
		value, err := parsed.Evaluate(NewVarContext(nil))
		if err != nil {
			return DynamicInput{}, fmt.Errorf("failed to evaluate constant expression '%s': %w", trimmed, err)
		}
		return DynamicInput{kind: InputConstant, value: value, expression: trimmed}, nil
	}

	// A single bare variable collapses to a direct reference.
	if name, ok := parsed.SingleVariable(); ok {
		if idx, ok := in.constantIdx[name]; ok {
			return DynamicInput{kind: InputDirectConstantReference, idx: idx, expression: trimmed}, nil
		}
		idx := in.dataIdx[name]
		return DynamicInput{kind: InputDirectReference, idx: idx, expression: trimmed}, nil
	}

	// Weighted sums of data references become linear combinations so
	// the optimiser can search their weights.
	if info, ok := detectLinearCombination(parsed.AST()); ok {
		di := DynamicInput{
			kind:         InputLinearCombination,
			expression:   trimmed,
			dataIndices:  make([]int, len(info.variables)),
			coefficients: append([]float64(nil), info.coefficients...),
		}
		for i, name := range info.variables {
			di.dataIndices[i] = in.dataIdx[strings.ToLower(name)]
		}
		for _, c := range info.coefficients {
			di.bias += c
		}
		if k := len(info.variables); k > 1 {
			di.uParams = make([]float64, k-1)
			for i := range di.uParams {
				di.uParams[i] = 0.5 // equal-weight point
			}
		}
		return di, nil
	}

	compiled, err := compile(parsed.AST(), in)
	if err != nil {
		return DynamicInput{}, fmt.Errorf("failed to compile expression '%s': %w", trimmed, err)
	}
	return DynamicInput{kind: InputFunction, expression: trimmed, compiled: compiled}, nil
}

// MustDynamicInput is NewDynamicInput that panics on error; intended for
// tests and fixed internal expressions.
func MustDynamicInput(expression string, cache *data.Cache, critical bool) DynamicInput {
	di, err := NewDynamicInput(expression, cache, critical)
	if err != nil {
		panic(err)
	}
	return di
}

// Kind returns the variant of the input.
func (d *DynamicInput) Kind() InputKind {
	return d.kind
}

// IsNone reports whether no input was specified.
func (d *DynamicInput) IsNone() bool {
	return d.kind == InputNone
}

// Expression returns the original expression text.
func (d *DynamicInput) Expression() string {
	return d.expression
}

// Value returns the current value of the input. Mathematical domain
// errors surface as NaN or infinities per IEEE-754 and never interrupt
// the simulation.
func (d *DynamicInput) Value(cache *data.Cache) float64 {
	switch d.kind {
	case InputNone:
		return 0
	case InputConstant:
		return d.value
	case InputDirectReference:
		return cache.CurrentValue(d.idx)
	case InputDirectConstantReference:
		return cache.Constants.Value(d.idx)
	case InputLinearCombination:
		sum := 0.0
		for i, idx := range d.dataIndices {
			sum += d.coefficients[i] * cache.CurrentValue(idx)
		}
		return sum
	case InputFunction:
		return d.compiled.Eval(cache)
	default:
		return 0
	}
}

// Coefficients returns the current weights of a linear combination.
func (d *DynamicInput) Coefficients() []float64 {
	return d.coefficients
}

// Bias returns the total weight of a linear combination.
func (d *DynamicInput) Bias() float64 {
	return d.bias
}

// updateWeights recomputes the coefficients from bias and uParams.
func (d *DynamicInput) updateWeights() {
	d.coefficients = ComputeSymmetricWeights(d.uParams, len(d.dataIndices), d.bias)
}

// IsRainfallParam reports whether the name addresses the rainfall-weight
// parameter surface.
func IsRainfallParam(name string) bool {
	return name == RainfallBiasParam || strings.HasPrefix(name, RainfallDistPrefix)
}

// TrySetRainfallParam sets rf_bias or rf_d{i} on a linear combination
// and recomputes the weights. It returns (false, nil) when the name is
// not a rainfall parameter, and an error when the input is not a linear
// combination or the index or value is out of range.
func (d *DynamicInput) TrySetRainfallParam(name string, value float64, nodeName string) (bool, error) {
	if name == RainfallBiasParam {
		if d.kind != InputLinearCombination {
			return false, fmt.Errorf("node '%s': rainfall input is not a linear combination", nodeName)
		}
		d.bias = value
		d.updateWeights()
		return true, nil
	}

	if strings.HasPrefix(name, RainfallDistPrefix) {
		if d.kind != InputLinearCombination {
			return false, fmt.Errorf("node '%s': rainfall input is not a linear combination", nodeName)
		}
		idx, err := d.rainfallDistIndex(name, nodeName)
		if err != nil {
			return false, err
		}
		if value < 0 || value > 1 {
			return false, fmt.Errorf("rainfall distribution parameter must be in [0, 1], got %v", value)
		}
		d.uParams[idx] = value
		d.updateWeights()
		return true, nil
	}

	return false, nil
}

// TryGetRainfallParam reads rf_bias or rf_d{i} from a linear
// combination. It returns (0, false, nil) when the name is not a
// rainfall parameter.
func (d *DynamicInput) TryGetRainfallParam(name string, nodeName string) (float64, bool, error) {
	if name == RainfallBiasParam {
		if d.kind != InputLinearCombination {
			return 0, false, fmt.Errorf("node '%s': rainfall input is not a linear combination", nodeName)
		}
		return d.bias, true, nil
	}

	if strings.HasPrefix(name, RainfallDistPrefix) {
		if d.kind != InputLinearCombination {
			return 0, false, fmt.Errorf("node '%s': rainfall input is not a linear combination", nodeName)
		}
		idx, err := d.rainfallDistIndex(name, nodeName)
		if err != nil {
			return 0, false, err
		}
		return d.uParams[idx], true, nil
	}

	return 0, false, nil
}

func (d *DynamicInput) rainfallDistIndex(name, nodeName string) (int, error) {
	idxStr := name[len(RainfallDistPrefix):]
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return 0, fmt.Errorf("node '%s': invalid rainfall distribution index: %s", nodeName, idxStr)
	}
	n := len(d.dataIndices)
	if n <= 1 {
		return 0, fmt.Errorf("node '%s': no distribution parameters for single station", nodeName)
	}
	if idx < 0 || idx >= n-1 {
		return 0, fmt.Errorf("node '%s': rainfall distribution index %d out of range (max: %d)",
			nodeName, idx, n-2)
	}
	return idx, nil
}

// ListRainfallParams returns the rainfall-weight parameter names exposed
// by a linear combination, empty for any other variant.
func (d *DynamicInput) ListRainfallParams() []string {
	if d.kind != InputLinearCombination {
		return nil
	}
	params := []string{RainfallBiasParam}
	for i := 0; i < len(d.dataIndices)-1; i++ {
		params = append(params, fmt.Sprintf("%s%d", RainfallDistPrefix, i))
	}
	return params
}

// Clone returns a deep copy of the input. The compiled tree is immutable
// and safely shared; the linear-combination state is copied.
func (d *DynamicInput) Clone() DynamicInput {
	clone := *d
	clone.dataIndices = append([]int(nil), d.dataIndices...)
	clone.coefficients = append([]float64(nil), d.coefficients...)
	clone.uParams = append([]float64(nil), d.uParams...)
	return clone
}
