package hydrology

import (
	"fmt"
	"math"
)

// Gr4j is the GR4J daily rainfall-runoff model (Perrin et al. 2003):
// a production store, a routing store and two unit hydrographs derived
// from the time base x4.
type Gr4j struct {
	// Parameters
	X1 float64 // production store capacity [mm]
	X2 float64 // groundwater exchange coefficient [mm]
	X3 float64 // routing store capacity [mm]
	X4 float64 // unit hydrograph time base [days]

	// Stores
	production float64
	routing    float64

	// Unit hydrograph ordinates and convolution states
	uh1Ordinates []float64
	uh2Ordinates []float64
	uh1State     []float64
	uh2State     []float64

	runoff float64
}

// NewGr4j creates a model with commonly used default parameters.
func NewGr4j() *Gr4j {
	g := &Gr4j{X1: 350, X2: 0, X3: 90, X4: 1.7}
	g.rebuildUnitHydrographs()
	g.InitialiseStateEmpty()
	return g
}

// SetParams sets all four parameters and rebuilds the unit hydrographs.
func (g *Gr4j) SetParams(x1, x2, x3, x4 float64) {
	g.X1 = x1
	g.X2 = x2
	g.X3 = x3
	g.X4 = x4
	g.rebuildUnitHydrographs()
}

// SetParamsVec sets the parameters from the canonical [x1 x2 x3 x4] order.
func (g *Gr4j) SetParamsVec(p []float64) error {
	if len(p) != 4 {
		return fmt.Errorf("gr4j expects 4 parameters, got %d", len(p))
	}
	g.SetParams(p[0], p[1], p[2], p[3])
	return nil
}

// ParamsVec returns the parameters in the canonical order.
func (g *Gr4j) ParamsVec() []float64 {
	return []float64{g.X1, g.X2, g.X3, g.X4}
}

// sCurve1 is the cumulative proportion of UH1 at integer time t.
func (g *Gr4j) sCurve1(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= g.X4 {
		return 1
	}
	return math.Pow(t/g.X4, 2.5)
}

// sCurve2 is the cumulative proportion of UH2 at integer time t.
func (g *Gr4j) sCurve2(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t < g.X4:
		return 0.5 * math.Pow(t/g.X4, 2.5)
	case t < 2*g.X4:
		return 1 - 0.5*math.Pow(2-t/g.X4, 2.5)
	default:
		return 1
	}
}

func (g *Gr4j) rebuildUnitHydrographs() {
	n1 := int(math.Ceil(g.X4))
	n2 := int(math.Ceil(2 * g.X4))

	g.uh1Ordinates = make([]float64, n1)
	for i := range g.uh1Ordinates {
		g.uh1Ordinates[i] = g.sCurve1(float64(i+1)) - g.sCurve1(float64(i))
	}
	g.uh2Ordinates = make([]float64, n2)
	for i := range g.uh2Ordinates {
		g.uh2Ordinates[i] = g.sCurve2(float64(i+1)) - g.sCurve2(float64(i))
	}
	g.uh1State = make([]float64, n1)
	g.uh2State = make([]float64, n2)
}

// InitialiseStateEmpty empties the stores and convolution states.
func (g *Gr4j) InitialiseStateEmpty() {
	g.production = 0
	g.routing = 0
	for i := range g.uh1State {
		g.uh1State[i] = 0
	}
	for i := range g.uh2State {
		g.uh2State[i] = 0
	}
	g.runoff = 0
}

// Storage returns the total water held in the model stores.
func (g *Gr4j) Storage() float64 {
	stored := g.production + g.routing
	for _, v := range g.uh1State {
		stored += v
	}
	for _, v := range g.uh2State {
		stored += v
	}
	return stored
}

// RunStep advances the model one step given rainfall and potential
// evapotranspiration (both mm) and returns the total runoff.
func (g *Gr4j) RunStep(precip, pet float64) float64 {
	var pn, en float64
	if precip >= pet {
		pn = precip - pet
	} else {
		en = pet - precip
	}

	// Production store
	var ps float64
	if pn > 0 {
		tw := math.Tanh(pn / g.X1)
		sr := g.production / g.X1
		ps = g.X1 * (1 - sr*sr) * tw / (1 + sr*tw)
	}
	var es float64
	if en > 0 {
		tw := math.Tanh(en / g.X1)
		sr := g.production / g.X1
		es = g.production * (2 - sr) * tw / (1 + (1-sr)*tw)
	}
	g.production += ps - es

	// Percolation
	sr := g.production / (2.25 * g.X1)
	perc := g.production * (1 - math.Pow(1+sr*sr*sr*sr, -0.25))
	g.production -= perc

	pr := perc + pn - ps

	// Split 90/10 between the two routing branches
	q9 := g.convolve(g.uh1Ordinates, g.uh1State, 0.9*pr)
	q1 := g.convolve(g.uh2Ordinates, g.uh2State, 0.1*pr)

	// Groundwater exchange
	rr := g.routing / g.X3
	exchange := g.X2 * rr * rr * rr * math.Sqrt(rr)

	// Routing store
	g.routing = math.Max(0, g.routing+q9+exchange)
	rr = g.routing / g.X3
	qr := g.routing * (1 - math.Pow(1+rr*rr*rr*rr, -0.25))
	g.routing -= qr

	// Direct branch
	qd := math.Max(0, q1+exchange)

	g.runoff = qr + qd
	return g.runoff
}

func (g *Gr4j) convolve(ordinates, state []float64, input float64) float64 {
	for i := range ordinates {
		state[i] += input * ordinates[i]
	}
	out := state[0]
	for i := 0; i < len(state)-1; i++ {
		state[i] = state[i+1]
	}
	state[len(state)-1] = 0
	return out
}

// Clone returns a deep copy of the model.
func (g *Gr4j) Clone() *Gr4j {
	clone := *g
	clone.uh1Ordinates = append([]float64(nil), g.uh1Ordinates...)
	clone.uh2Ordinates = append([]float64(nil), g.uh2Ordinates...)
	clone.uh1State = append([]float64(nil), g.uh1State...)
	clone.uh2State = append([]float64(nil), g.uh2State...)
	return &clone
}
