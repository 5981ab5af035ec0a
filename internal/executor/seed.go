package executor

import (
	"hash/fnv"
	"math/rand"
)

// seedSource provides deterministic, per-endpoint random sequences for
// `collect(min,max,name)` draws: a run-wide seed combined with a
// stable per-endpoint hash reproduces the same draw sequence across
// runs with the same seed, without a global shared generator
// serializing every endpoint.
type seedSource struct {
	runSeed int64
}

func newSeedSource(runSeed int64) *seedSource {
	return &seedSource{runSeed: runSeed}
}

func (s *seedSource) forEndpoint(name string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(name))
	seed := int64(h.Sum64()) ^ s.runSeed
	return rand.New(rand.NewSource(seed))
}
