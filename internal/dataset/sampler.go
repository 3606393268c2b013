package dataset

import (
	"math/rand"
)

// sampler hands out sample indices without replacement. Once the remaining
// rows cannot fill a request the permutation is reshuffled and the cursor
// restarts, so a split never runs dry.
type sampler struct {
	rng     *rand.Rand
	indices []int
	row     int
	epoch   int
}

func newSampler(size int, seed int64) *sampler {
	s := &sampler{
		rng:     rand.New(rand.NewSource(seed)),
		indices: make([]int, size),
	}
	for i := range s.indices {
		s.indices[i] = i
	}
	s.reset()
	return s
}

func (s *sampler) reset() {
	s.row = 0
	s.rng.Shuffle(len(s.indices), func(i, j int) {
		s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
	})
}

// next returns n indices. The caller guarantees 0 < n <= len(indices).
func (s *sampler) next(n int) []int {
	if s.row+n >= len(s.indices) {
		s.reset()
		s.epoch++
	}
	out := s.indices[s.row : s.row+n]
	s.row += n
	return out
}
