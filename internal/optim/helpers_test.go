package optim

import "math/rand"

func newTestRng(seed int64) *rand.Rand {
	return rand.New(rand.NewSource(seed))
}
