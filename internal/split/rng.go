package split

import (
	"math/rand/v2"
	"strconv"

	"github.com/recoeval/reco-eval/internal/pkg/hash"
)

// RNG is an explicit seeded random source passed by value into every
// split operation. Each use builds a fresh generator from (seed, stream),
// so results never depend on call order or shared state.
type RNG struct {
	seed   uint64
	stream uint64
}

// NewRNG returns the root source for seed.
func NewRNG(seed int64) RNG {
	return RNG{seed: uint64(seed)}
}

// Seed returns the seed the source was created with.
func (r RNG) Seed() int64 {
	return int64(r.seed)
}

// Derive returns an independent source named by name. The same parent and
// name always derive the same source.
func (r RNG) Derive(name string) RNG {
	return RNG{
		seed:   r.seed,
		stream: hash.Uint64(strconv.FormatUint(r.stream, 16) + "/" + name),
	}
}

// Perm returns a pseudo-random permutation of [0, n).
func (r RNG) Perm(n int) []int {
	return r.rand().Perm(n)
}

func (r RNG) rand() *rand.Rand {
	return rand.New(rand.NewPCG(r.seed, r.stream))
}
