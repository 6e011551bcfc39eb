// Package hydrology implements the rainfall-runoff kernels.
package hydrology

import (
	"fmt"
	"math"

	"kalix/internal/numerics"
)

// Rain-intensity thresholds of the percolation sub-loop (mm).
const (
	pdn20 = 5.08
	pdnor = 25.4
)

// Sacramento is the Sacramento soil-moisture-accounting model with unit
// hydrograph routing. State advances explicitly one step per call.
type Sacramento struct {
	// Step outputs
	runoff    float64
	rainfall  float64 // rainfall [mm]
	pet       float64 // evaporative demand [mm]
	baseflow  float64
	quickflow float64

	// Unit hydrograph
	unitHydrograph *numerics.UHPrealloc32
	laguh          float64 // use SetLagUH to modify; rebuilds the kernel

	// Parameters
	Adimp float64
	Lzfpm float64
	Lzfsm float64
	Lzpk  float64
	Lzsk  float64
	Lztwm float64
	Pctim float64
	Pfree float64
	Rexp  float64
	Rserv float64
	Sarva float64
	Side  float64
	Ssout float64
	Uzfwm float64
	Uzk   float64
	Uztwm float64
	Zperc float64

	// Internal state
	adimc       float64
	alzfpc      float64
	alzfpm      float64
	alzfsc      float64
	alzfsm      float64
	channelflow float64
	evapuzfw    float64
	flobf       float64
	floin       float64
	flosf       float64
	flwbf       float64
	flwsf       float64
	lzfpc       float64
	lzfsc       float64
	lztwc       float64
	pbase       float64
	perc        float64
	uzfwc       float64
	uztwc       float64
}

// NewSacramento creates a model with default parameters and empty stores.
func NewSacramento() *Sacramento {
	s := &Sacramento{}
	s.setParamsDefault()
	s.InitialiseStateEmpty()
	return s
}

func (s *Sacramento) setParamsDefault() {
	s.SetParams(
		0.01, 40.0, 23.0, 0.009,
		0.043, 130.0, 0.01, 0.063,
		1.0, 0.01, 0.0, 0.0, 40.0,
		0.245, 50.0, 40.0, 0.1)
}

// SetParams sets every parameter at once. rserv is fixed at 0.3.
func (s *Sacramento) SetParams(adimp, lzfpm, lzfsm, lzpk,
	lzsk, lztwm, pctim, pfree,
	rexp, sarva, side, ssout,
	uzfwm, uzk, uztwm, zperc float64) {
	s.Adimp = adimp
	s.Lzfpm = lzfpm
	s.Lzfsm = lzfsm
	s.Lzpk = lzpk
	s.Lzsk = lzsk
	s.Lztwm = lztwm
	s.Pctim = pctim
	s.Pfree = pfree
	s.Rserv = 0.3
	s.Rexp = rexp
	s.Sarva = sarva
	s.Side = side
	s.Ssout = ssout
	s.Uzfwm = uzfwm
	s.Uzk = uzk
	s.Uztwm = uztwm
	s.Zperc = zperc
	s.rebuildUnitHydrograph()
}

// SetParamsVec sets the parameters from the canonical 17-element order.
func (s *Sacramento) SetParamsVec(p []float64) error {
	if len(p) != 17 {
		return fmt.Errorf("sacramento expects 17 parameters, got %d", len(p))
	}
	s.SetParams(p[0], p[1], p[2], p[3], p[4], p[5], p[6], p[7],
		p[8], p[9], p[10], p[11], p[12], p[13], p[14], p[15])
	s.SetLagUH(p[16])
	return nil
}

// ParamsVec returns the parameters in the canonical 17-element order.
func (s *Sacramento) ParamsVec() []float64 {
	return []float64{
		s.Adimp, s.Lzfpm, s.Lzfsm, s.Lzpk, s.Lzsk, s.Lztwm, s.Pctim,
		s.Pfree, s.Rexp, s.Sarva, s.Side, s.Ssout, s.Uzfwm, s.Uzk,
		s.Uztwm, s.Zperc, s.laguh,
	}
}

// rebuildUnitHydrograph derives the two-ordinate kernel from laguh. A
// fractional lag splits the unit pulse between adjacent ordinates so the
// kernel always sums to one.
func (s *Sacramento) rebuildUnitHydrograph() {
	highPos := int(math.Ceil(s.laguh))
	s.unitHydrograph = numerics.NewUHPrealloc32(highPos + 1)

	lowVal := math.Ceil(s.laguh) - s.laguh
	highVal := 1 - lowVal
	s.unitHydrograph.SetKernel(highPos, highVal)
	if lowVal > 0 {
		s.unitHydrograph.SetKernel(highPos-1, lowVal)
	}
}

// SetLagUH sets the unit hydrograph lag and atomically rebuilds the
// kernel so lag and ordinates never disagree.
func (s *Sacramento) SetLagUH(value float64) {
	s.laguh = value
	s.rebuildUnitHydrograph()
}

// LagUH returns the unit hydrograph lag.
func (s *Sacramento) LagUH() float64 {
	return s.laguh
}

// KernelSum returns the sum of the unit hydrograph ordinates.
func (s *Sacramento) KernelSum() float64 {
	return s.unitHydrograph.KernelSum()
}

// Baseflow returns the baseflow component of the last step.
func (s *Sacramento) Baseflow() float64 {
	return s.baseflow
}

// Quickflow returns the quickflow component of the last step.
func (s *Sacramento) Quickflow() float64 {
	return s.quickflow
}

// Storage returns the total water held in the model stores.
func (s *Sacramento) Storage() float64 {
	return s.uztwc + s.uzfwc + s.lztwc + s.lzfpc + s.lzfsc
}

// InitialiseStateEmpty resets the model to empty stores and updates the
// dependent internal state. This is the only reset entry point.
func (s *Sacramento) InitialiseStateEmpty() {
	s.rainfall = 0
	s.pet = 0
	s.uzfwc = 0
	s.uztwc = 0
	s.lzfpc = 0
	s.lzfsc = 0
	s.lztwc = 0
	s.flobf = 0
	s.flosf = 0
	s.floin = 0
	s.flwbf = 0
	s.flwsf = 0
	s.evapuzfw = 0

	s.unitHydrograph.ResetStateToEmpty()

	s.alzfsm = s.Lzfsm * (1 + s.Side)
	s.alzfpm = s.Lzfpm * (1 + s.Side)
	s.alzfsc = s.lzfsc * (1 + s.Side)
	s.alzfpc = s.lzfpc * (1 + s.Side)
	s.pbase = s.alzfsm*s.Lzsk + s.alzfpm*s.Lzpk
	s.adimc = s.uztwc + s.lztwc
}

// RunStep advances the model one step given rainfall and potential
// evapotranspiration (both mm) and returns the total runoff.
func (s *Sacramento) RunStep(pliq, evapt float64) float64 {
	s.rainfall = pliq
	s.pet = evapt

	// Evaporation from upper zone tension water
	evapuztw := 0.0
	if s.Uztwm > 0 {
		evapuztw = evapt * s.uztwc / s.Uztwm
	}

	// Evaporation from upper zone free water
	if s.uztwc < evapuztw {
		evapuztw = s.uztwc
		s.uztwc = 0
		s.evapuzfw = math.Min(evapt-s.evapuzfw, s.uzfwc)
		s.uzfwc -= s.evapuzfw
	} else {
		s.uztwc -= evapuztw
		s.evapuzfw = 0
	}

	// If the free-water ratio exceeds the tension ratio, transfer free
	// water into tension water until the ratios are equal.
	ratiouztw := 1.0
	if s.Uztwm > 0 {
		ratiouztw = s.uztwc / s.Uztwm
	}
	ratiouzfw := 1.0
	if s.Uzfwm > 0 {
		ratiouzfw = s.uzfwc / s.Uzfwm
	}
	if ratiouzfw > ratiouztw {
		ratiouztw = (s.uztwc + s.uzfwc) / (s.Uztwm + s.Uzfwm)
		s.uztwc = s.Uztwm * ratiouztw
		s.uzfwc = s.Uzfwm * ratiouztw
	}

	// Evaporation from adimp and lower zone tension water
	e3 := 0.0
	e5 := 0.0
	if s.Uztwm+s.Lztwm > 0 {
		e3 = math.Min(s.lztwc, (evapt-evapuztw-s.evapuzfw)*s.lztwc/(s.Uztwm+s.Lztwm))
		e5 = math.Min(s.adimc, evapuztw+(evapt-evapuztw-s.evapuzfw)*
			(s.adimc-evapuztw-s.uztwc)/(s.Uztwm+s.Lztwm))
	}

	// Transpiration from lower zone tension water
	s.lztwc -= e3

	// Adjust impervious area store
	s.adimc -= e5
	s.evapuzfw = s.evapuzfw * (1 - s.Adimp - s.Pctim)

	// Resupply lower zone tension from lower zone free water if more
	// water is available there.
	ratiolztw := 1.0
	if s.Lztwm > 0 {
		ratiolztw = s.lztwc / s.Lztwm
	}

	reservedLowerZone := s.Rserv * (s.Lzfpm + s.Lzfsm)
	ratiolzfw := 1.0
	if s.alzfpm+s.alzfsm-reservedLowerZone+s.Lztwm > 0 {
		ratiolzfw = (s.alzfpc + s.alzfsc - reservedLowerZone + s.lztwc) /
			(s.alzfpm + s.alzfsm - reservedLowerZone + s.Lztwm)
	}

	if ratiolztw < ratiolzfw {
		transferred := (ratiolzfw - ratiolztw) * s.Lztwm
		s.lztwc += transferred
		s.alzfsc -= transferred
		if s.alzfsc < 0 {
			s.alzfpc += s.alzfsc
			s.alzfsc = 0
		}
	}

	// Runoff from the impervious or water covered area
	roimp := pliq * s.Pctim

	// Reduce the rain by the upper zone tension water deficiency
	pav := pliq + s.uztwc - s.Uztwm
	if pav < 0 {
		s.adimc += pliq
		s.uztwc += pliq
		pav = 0
	} else {
		s.adimc += s.Uztwm - s.uztwc
		s.uztwc = s.Uztwm
	}

	adj := 1.0
	itime := 1
	if pav <= pdn20 {
		itime = 2
	} else {
		if pav < pdnor {
			adj = 0.5 * math.Sqrt(pav/pdnor)
		} else {
			adj = 1 - 0.5*pdnor/pav
		}
	}

	// Reporting components accumulated over the sub-increments.
	s.flobf = 0
	s.flosf = 0
	s.floin = 0

	hpl := s.alzfpm / (s.alzfpm + s.alzfsm)
	for ; itime <= 2; itime++ {
		ninc := 1 + int(math.Floor((s.uzfwc*adj+pav)*0.2))
		dinc := 1 / float64(ninc)
		pinc := pav * dinc
		dinc = dinc * adj

		var duz, dlzp, dlzs float64
		if ninc == 1 && adj >= 1 {
			duz = s.Uzk
			dlzp = s.Lzpk
			dlzs = s.Lzsk
		} else {
			if s.Uzk < 1 {
				duz = 1 - math.Pow(1-s.Uzk, dinc)
			} else {
				duz = 1
			}
			if s.Lzpk < 1 {
				dlzp = 1 - math.Pow(1-s.Lzpk, dinc)
			} else {
				dlzp = 1
			}
			if s.Lzsk < 1 {
				dlzs = 1 - math.Pow(1-s.Lzsk, dinc)
			} else {
				dlzs = 1
			}
		}

		// Drainage and percolation
		for inc := 1; inc <= ninc; inc++ {
			ratio := (s.adimc - s.uztwc) / s.Lztwm
			addro := pinc * ratio * ratio

			// Baseflow from the lower zone primary
			if s.alzfpc > 0 {
				bf := s.alzfpc * dlzp
				s.alzfpc -= bf
				s.flobf += bf
			} else {
				s.alzfpc = 0
			}

			// Baseflow from the lower zone supplemental
			if s.alzfsc > 0 {
				bf := s.alzfsc * dlzs
				s.alzfsc -= bf
				s.flobf += bf
			} else {
				s.alzfsc = 0
			}

			// Adjust the upper zone for percolation and interflow
			if s.uzfwc > 0 {
				// Percolation from upper zone free water, limited to
				// available water and lower zone airspace
				lzair := s.Lztwm - s.lztwc + s.alzfsm - s.alzfsc + s.alzfpm - s.alzfpc
				if lzair > 0 {
					s.perc = (s.pbase * dinc * s.uzfwc) / s.Uzfwm
					s.perc = math.Min(s.uzfwc, s.perc*(1+s.Zperc*
						math.Pow(1-(s.alzfpc+s.alzfsc+s.lztwc)/
							(s.alzfpm+s.alzfsm+s.Lztwm), s.Rexp)))
					s.perc = math.Min(s.perc, lzair)
					s.uzfwc -= s.perc
				} else {
					s.perc = 0
				}

				// Interflow
				transferred := duz * s.uzfwc
				s.floin += transferred
				s.uzfwc -= transferred

				// Distribute water to lower zone tension and free stores
				perctw := math.Min(s.perc*(1-s.Pfree), s.Lztwm-s.lztwc)
				percfw := s.perc - perctw

				// Shift excess free-water percolation into the tension store
				lzair = s.alzfsm - s.alzfsc + s.alzfpm - s.alzfpc
				if percfw > lzair {
					perctw = perctw + percfw - lzair
					percfw = lzair
				}
				s.lztwc += perctw

				// Distribute between supplemental and primary free water
				if percfw > 0 {
					ratlp := 1 - s.alzfpc/s.alzfpm
					ratls := 1 - s.alzfsc/s.alzfsm
					percs := math.Min(s.alzfsm-s.alzfsc,
						percfw*(1-hpl*(2*ratlp)/(ratlp+ratls)))
					s.alzfsc += percs

					// Spill from supplemental to primary
					if s.alzfsc > s.alzfsm {
						percs += s.alzfsm - s.alzfsc
						s.alzfsc = s.alzfsm
					}
					s.alzfpc += percfw - percs

					// Spill from primary to supplemental
					if s.alzfpc > s.alzfpm {
						s.alzfsc += s.alzfpc - s.alzfpm
						s.alzfpc = s.alzfpm
					}
				}
			}

			// Fill upper zone free water with tension water spill
			if pinc > 0 {
				pav = pinc
				if pav-s.Uzfwm+s.uzfwc <= 0 {
					s.uzfwc += pav
				} else {
					pav += s.uzfwc - s.Uzfwm
					s.uzfwc = s.Uzfwm
					s.flosf += pav
					addro = addro + pav*(1-addro/pinc)
				}
			}
			s.adimc += pinc - addro
			roimp += addro * s.Adimp
		}
		adj = 1 - adj
		pav = 0
	}

	// Scale the non-impervious runoff components
	pervious := 1 - s.Pctim - s.Adimp
	s.flosf = s.flosf * pervious
	s.floin = s.floin * pervious
	s.flobf = s.flobf * pervious

	// Take side out of the lower zone primary and supplemental stores
	sideScale := 1 / (1 + s.Side)
	s.lzfsc = s.alzfsc * sideScale
	s.lzfpc = s.alzfpc * sideScale

	// Route surface components through the unit hydrograph
	s.flwsf = s.unitHydrograph.RunStep(s.floin + s.flosf + roimp)

	// Baseflow loss
	s.flwbf = s.flobf / (1 + s.Side)
	if s.flwbf < 0 {
		s.flwbf = 0
	}

	// BFI prior to losses; the ratio is preserved in the final runoff
	// and baseflow components.
	ratioBaseflow := 0.0
	totalBeforeChannelLosses := s.flwbf + s.flwsf
	if totalBeforeChannelLosses > 0 {
		ratioBaseflow = s.flwbf / totalBeforeChannelLosses
	}

	// Channel losses to subsurface discharge, then channel evaporation
	s.channelflow = math.Max(0, s.flwbf+s.flwsf-s.Ssout)
	evapChannelWater := math.Min(s.channelflow, evapt*s.Sarva)

	s.runoff = s.channelflow - evapChannelWater
	s.baseflow = s.runoff * ratioBaseflow
	s.quickflow = s.runoff - s.baseflow

	return s.runoff
}

// Clone returns a deep copy of the model.
func (s *Sacramento) Clone() *Sacramento {
	clone := *s
	clone.unitHydrograph = s.unitHydrograph.Clone()
	return &clone
}
