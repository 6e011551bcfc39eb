package optim

import (
	"fmt"
	"math"
)

// Transform names the optional nonlinearity applied when a gene maps to
// its physical value.
type Transform int

const (
	// TransformNone maps linearly between the bounds.
	TransformNone Transform = iota
	// TransformLog interpolates in log space; bounds must be positive.
	TransformLog
	// TransformLogit interpolates in logit space; bounds must lie in (0,1).
	TransformLogit
)

// TransformFromName resolves a transform by its configuration name.
func TransformFromName(name string) (Transform, error) {
	switch name {
	case "", "none", "linear":
		return TransformNone, nil
	case "log":
		return TransformLog, nil
	case "logit":
		return TransformLogit, nil
	default:
		return 0, fmt.Errorf("unknown transform '%s'", name)
	}
}

// ParameterMapping maps one gene to a model parameter: a target path
// like "node.subcatchment.sacramento.lztwm", physical bounds, and an
// optional transform.
type ParameterMapping struct {
	TargetPath string
	Low        float64
	High       float64
	Transform  Transform
}

// ToPhysical maps a normalised gene u in [0,1] to its physical value.
func (p ParameterMapping) ToPhysical(u float64) float64 {
	u = math.Min(math.Max(u, 0), 1)
	switch p.Transform {
	case TransformLog:
		lo := math.Log(p.Low)
		hi := math.Log(p.High)
		return math.Exp(lo + u*(hi-lo))
	case TransformLogit:
		lo := logit(p.Low)
		hi := logit(p.High)
		return sigmoid(lo + u*(hi-lo))
	default:
		return p.Low + u*(p.High-p.Low)
	}
}

// FromPhysical maps a physical value back to its normalised gene.
func (p ParameterMapping) FromPhysical(value float64) float64 {
	var u float64
	switch p.Transform {
	case TransformLog:
		lo := math.Log(p.Low)
		hi := math.Log(p.High)
		u = (math.Log(value) - lo) / (hi - lo)
	case TransformLogit:
		lo := logit(p.Low)
		hi := logit(p.High)
		u = (logit(value) - lo) / (hi - lo)
	default:
		u = (value - p.Low) / (p.High - p.Low)
	}
	return math.Min(math.Max(u, 0), 1)
}

// Validate checks the bounds against the transform.
func (p ParameterMapping) Validate() error {
	if p.TargetPath == "" {
		return fmt.Errorf("parameter mapping has empty target path")
	}
	if !(p.Low < p.High) {
		return fmt.Errorf("parameter '%s': bounds must satisfy low < high (%v, %v)",
			p.TargetPath, p.Low, p.High)
	}
	switch p.Transform {
	case TransformLog:
		if p.Low <= 0 {
			return fmt.Errorf("parameter '%s': log transform needs positive bounds", p.TargetPath)
		}
	case TransformLogit:
		if p.Low <= 0 || p.High >= 1 {
			return fmt.Errorf("parameter '%s': logit transform needs bounds in (0,1)", p.TargetPath)
		}
	}
	return nil
}

// ParameterMappingConfig is the ordered gene-to-parameter mapping of a
// calibration problem.
type ParameterMappingConfig struct {
	Mappings []ParameterMapping
}

// Add appends a mapping.
func (c *ParameterMappingConfig) Add(m ParameterMapping) {
	c.Mappings = append(c.Mappings, m)
}

// Len returns the number of genes.
func (c *ParameterMappingConfig) Len() int {
	return len(c.Mappings)
}

// Validate checks every mapping.
func (c *ParameterMappingConfig) Validate() error {
	for _, m := range c.Mappings {
		if err := m.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func logit(u float64) float64 {
	return math.Log(u / (1 - u))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
