package numerics

import (
	"fmt"
	"math"
)

// uhCapacity bounds the kernel length of the preallocated unit hydrograph.
const uhCapacity = 32

// UHPrealloc32 is a preallocated unit-hydrograph convolution buffer with
// a maximum capacity of 32 ordinates. Shorter kernels use a prefix of
// the arrays and behave exactly like a dynamically sized hydrograph.
type UHPrealloc32 struct {
	kernel  [uhCapacity]float64
	storage [uhCapacity]float64
	length  int
}

// NewUHPrealloc32 creates a unit hydrograph with the given kernel
// length. The kernel defaults to a unit impulse at ordinate zero.
func NewUHPrealloc32(length int) *UHPrealloc32 {
	if length > uhCapacity {
		panic(fmt.Sprintf("unit hydrograph length must not be greater than %d", uhCapacity))
	}
	uh := &UHPrealloc32{length: length}
	uh.kernel[0] = 1
	return uh
}

// SetKernel sets one kernel ordinate.
func (u *UHPrealloc32) SetKernel(i int, value float64) {
	if i >= u.length {
		panic("tried to set kernel past specified length")
	}
	u.kernel[i] = value
}

// Len returns the kernel length.
func (u *UHPrealloc32) Len() int {
	return u.length
}

// Reset empties the storages and checks the kernel sums to 1.
func (u *UHPrealloc32) Reset() {
	u.ResetStateToEmpty()
	if math.Abs(u.KernelSum()-1) > 1e-6 {
		panic("kernel sum must be equal to 1")
	}
}

// ResetStateToEmpty empties the storages without touching the kernel.
func (u *UHPrealloc32) ResetStateToEmpty() {
	for i := 0; i < u.length; i++ {
		u.storage[i] = 0
	}
}

// KernelSum returns the sum of the kernel ordinates.
func (u *UHPrealloc32) KernelSum() float64 {
	sum := 0.0
	for i := 0; i < u.length; i++ {
		sum += u.kernel[i]
	}
	return sum
}

// RunStep fans the input through the kernel into storage, pops the value
// due this step and shifts the storage left by one.
func (u *UHPrealloc32) RunStep(input float64) float64 {
	for i := 0; i < u.length; i++ {
		u.storage[i] += input * u.kernel[i]
	}
	out := u.storage[0]
	for i := 0; i < u.length-1; i++ {
		u.storage[i] = u.storage[i+1]
	}
	u.storage[u.length-1] = 0
	return out
}

// Clone returns a deep copy of the hydrograph.
func (u *UHPrealloc32) Clone() *UHPrealloc32 {
	clone := *u
	return &clone
}
