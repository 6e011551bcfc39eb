// Package data implements the columnar store that feeds the simulation.
//
// The cache holds named f64 time series addressed by a stable integer
// index assigned at registration, plus a sub-store of scalar constants
// (the `c.*` namespace). Node kernels and compiled expressions read and
// write through indices only, so the per-timestep hot path performs no
// string or map operations.
package data

import (
	"strings"
	"time"
)

// Cache is the indexed columnar store of time series and constants.
// It also owns the simulation clock: current step, timestamp and step size.
type Cache struct {
	names    []string
	series   [][]float64
	critical []bool
	nameIdx  map[string]int

	Constants *ConstantsCache

	step           int
	stepSize       uint64 // seconds
	startTimestamp uint64 // wrapped representation
	timestamp      uint64 // wrapped representation, start of current step
}

// NewCache creates an empty cache with a one-day step starting at the
// unix epoch. The clock is normally overridden by SetSimulationPeriod.
func NewCache() *Cache {
	return &Cache{
		nameIdx:        make(map[string]int),
		Constants:      NewConstantsCache(),
		stepSize:       86400,
		startTimestamp: WrapToU64(0),
		timestamp:      WrapToU64(0),
	}
}

// GetOrAddSeries registers a series name (case-folded) if needed and
// returns its index. Once handed out, an index is stable for the life of
// the cache. The critical flag marks the series as required for
// simulation; it is sticky across calls.
func (c *Cache) GetOrAddSeries(name string, critical bool) int {
	key := strings.ToLower(name)
	if idx, ok := c.nameIdx[key]; ok {
		if critical {
			c.critical[idx] = true
		}
		return idx
	}
	c.names = append(c.names, key)
	c.series = append(c.series, nil)
	c.critical = append(c.critical, critical)
	idx := len(c.names) - 1
	c.nameIdx[key] = idx
	return idx
}

// LookupSeries returns the index of an existing series. Recorders use
// this: a result channel is only recorded when an external consumer has
// already registered interest in its name.
func (c *Cache) LookupSeries(name string) (int, bool) {
	idx, ok := c.nameIdx[strings.ToLower(name)]
	return idx, ok
}

// SetSeries replaces the values of a series, registering it if needed.
func (c *Cache) SetSeries(name string, values []float64, critical bool) int {
	idx := c.GetOrAddSeries(name, critical)
	c.series[idx] = append([]float64(nil), values...)
	return idx
}

// SeriesName returns the registered name of a series.
func (c *Cache) SeriesName(idx int) string {
	return c.names[idx]
}

// SeriesValues returns the stored values of a series.
func (c *Cache) SeriesValues(idx int) []float64 {
	return c.series[idx]
}

// IsCritical reports whether a series is required for simulation.
func (c *Cache) IsCritical(idx int) bool {
	return c.critical[idx]
}

// Len returns the number of registered series.
func (c *Cache) Len() int {
	return len(c.names)
}

// CurrentValue returns the value of a series at the current step.
func (c *Cache) CurrentValue(idx int) float64 {
	return c.series[idx][c.step]
}

// ValueAtOffset returns the value of a series `offset` steps before the
// current one, or def when the offset reaches before the start.
func (c *Cache) ValueAtOffset(idx, offset int, def float64) float64 {
	if offset > c.step {
		return def
	}
	return c.series[idx][c.step-offset]
}

// AddValueAtIndex appends a value for the current step. Recorders call
// this exactly once per step, so series grow in lock-step with the clock.
func (c *Cache) AddValueAtIndex(idx int, value float64) {
	c.series[idx] = append(c.series[idx], value)
}

// Step returns the current step index.
func (c *Cache) Step() int {
	return c.step
}

// StepSize returns the step size in seconds.
func (c *Cache) StepSize() uint64 {
	return c.stepSize
}

// Timestamp returns the wrapped timestamp at the start of the current step.
func (c *Cache) Timestamp() uint64 {
	return c.timestamp
}

// SetSimulationPeriod positions the clock at the given wrapped start
// timestamp with the given step size, and rewinds the step counter.
func (c *Cache) SetSimulationPeriod(start uint64, stepSize uint64) {
	c.startTimestamp = start
	c.timestamp = start
	c.stepSize = stepSize
	c.step = 0
}

// ResetClock rewinds to the start of the simulation period, keeping all
// registered series and their input values but truncating nothing.
func (c *Cache) ResetClock() {
	c.timestamp = c.startTimestamp
	c.step = 0
}

// TruncateResults drops recorded values beyond the given length for every
// series that is not critical input data. Used between optimiser
// evaluations so recorders can append afresh.
func (c *Cache) TruncateResults(length int) {
	for i := range c.series {
		if !c.critical[i] && len(c.series[i]) > length {
			c.series[i] = c.series[i][:length]
		}
	}
}

// AdvanceStep moves the clock to the next step.
func (c *Cache) AdvanceStep() {
	c.step++
	c.timestamp += c.stepSize
}

func (c *Cache) currentTime() time.Time {
	return time.Unix(WrapToI64(c.timestamp), 0).UTC()
}

// TimestampDay returns the day-of-month at the current step.
func (c *Cache) TimestampDay() int {
	return c.currentTime().Day()
}

// TimestampMonth returns the month (1..12) at the current step.
func (c *Cache) TimestampMonth() int {
	return int(c.currentTime().Month())
}

// TimestampSeconds returns the seconds since midnight at the current step.
func (c *Cache) TimestampSeconds() int {
	t := c.currentTime()
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// AssertAllConstantsHaveAssignedValues verifies the constants sub-store.
func (c *Cache) AssertAllConstantsHaveAssignedValues() error {
	return c.Constants.AssertAllAssigned()
}

// Clone returns a deep, independent copy of the cache. Optimisers clone
// the model (and with it the cache) once per worker so parallel
// evaluations never share state.
func (c *Cache) Clone() *Cache {
	clone := &Cache{
		names:          append([]string(nil), c.names...),
		series:         make([][]float64, len(c.series)),
		critical:       append([]bool(nil), c.critical...),
		nameIdx:        make(map[string]int, len(c.nameIdx)),
		Constants:      c.Constants.Clone(),
		step:           c.step,
		stepSize:       c.stepSize,
		startTimestamp: c.startTimestamp,
		timestamp:      c.timestamp,
	}
	for i, s := range c.series {
		clone.series[i] = append([]float64(nil), s...)
	}
	for k, v := range c.nameIdx {
		clone.nameIdx[k] = v
	}
	return clone
}

// MakeResultName builds the canonical output channel name for a node
// parameter, e.g. ("dam1", "dsflow") -> "node.dam1.dsflow".
func MakeResultName(nodeName, parameter string) string {
	return "node." + strings.ToLower(nodeName) + "." + parameter
}
