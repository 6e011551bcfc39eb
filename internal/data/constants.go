package data

import "fmt"

// ConstantsCache stores named scalar constants (the `c.*` namespace).
//
// Names, assignment flags and values live in parallel slices so consumers
// can hold a stable index and read values with a single slice lookup.
type ConstantsCache struct {
	names      []string
	isAssigned []bool
	values     []float64
	nameIdx    map[string]int
}

// NewConstantsCache creates an empty constants cache.
func NewConstantsCache() *ConstantsCache {
	return &ConstantsCache{
		nameIdx: make(map[string]int),
	}
}

func (c *ConstantsCache) push(name string, assigned bool, value float64) int {
	c.names = append(c.names, name)
	c.isAssigned = append(c.isAssigned, assigned)
	c.values = append(c.values, value)
	idx := len(c.names) - 1
	c.nameIdx[name] = idx
	return idx
}

// AddIfNeeded registers a constant name if it does not already exist and
// returns its index. Consumers use this to obtain a stable index for
// quick access later; the value may be assigned afterwards.
func (c *ConstantsCache) AddIfNeeded(name string) int {
	if idx, ok := c.nameIdx[name]; ok {
		return idx
	}
	return c.push(name, false, 0)
}

// Value returns the value at the given index. It does not check that the
// constant has been assigned; call AssertAllAssigned before a run.
func (c *ConstantsCache) Value(idx int) float64 {
	return c.values[idx]
}

// SetValue assigns a value to a constant and returns its index, adding
// the constant if it does not already exist.
func (c *ConstantsCache) SetValue(name string, value float64) int {
	idx := c.AddIfNeeded(name)
	c.values[idx] = value
	c.isAssigned[idx] = true
	return idx
}

// Len returns the number of constants.
func (c *ConstantsCache) Len() int {
	return len(c.names)
}

// AssertAllAssigned checks that every referenced constant has been given
// a value. Use this before a model run.
func (c *ConstantsCache) AssertAllAssigned() error {
	for i := range c.names {
		if !c.isAssigned[i] {
			return fmt.Errorf("constant '%s' has not been assigned a value", c.names[i])
		}
	}
	return nil
}

// Clone returns a deep copy of the cache.
func (c *ConstantsCache) Clone() *ConstantsCache {
	clone := &ConstantsCache{
		names:      append([]string(nil), c.names...),
		isAssigned: append([]bool(nil), c.isAssigned...),
		values:     append([]float64(nil), c.values...),
		nameIdx:    make(map[string]int, len(c.nameIdx)),
	}
	for k, v := range c.nameIdx {
		clone.nameIdx[k] = v
	}
	return clone
}
