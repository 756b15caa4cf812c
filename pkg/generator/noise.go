package generator

import (
	"math/rand/v2"

	"github.com/zeebo/xxh3"
)

// noiseSource hands out one pseudo-random stream per entity. Streams are
// derived from (run seed, entity id), so values for one entity never depend
// on how many other entities exist or in which order they are generated.
// That keeps output byte-identical even if entity generation is ever
// parallelized.
type noiseSource struct {
	seed uint64
}

func newNoiseSource(seed int64) *noiseSource {
	return &noiseSource{seed: uint64(seed)}
}

// entityStream returns the deterministic stream for entityID. Within one
// entity, the synthesizer advances the stream in a fixed (timestamp, metric)
// order.
func (n *noiseSource) entityStream(entityID string) *rand.Rand {
	return rand.New(rand.NewPCG(n.seed, xxh3.HashString(entityID)))
}
