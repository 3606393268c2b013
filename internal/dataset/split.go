package dataset

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Split is one immutable partition of the dataset (train, validation or
// test) with its own sampling cursor.
type Split struct {
	Name string

	pixels  int
	images  []float64
	labels  []int
	sampler *sampler
}

// NewSplit builds a split from flat images scaled to [0, 1] and integer
// labels. The image slice must hold len(labels)*Height*Width*Channels values.
func NewSplit(name string, images []float64, labels []int, seed int64) (*Split, error) {
	pixels := Height * Width * Channels
	if len(labels) == 0 {
		return nil, errors.Errorf("split %s: no samples", name)
	}
	if len(images) != len(labels)*pixels {
		return nil, errors.Errorf("split %s: %d image values for %d labels", name, len(images), len(labels))
	}
	for i, l := range labels {
		if l < 0 || l >= NumClasses {
			return nil, errors.Errorf("split %s: label %d at %d out of range", name, l, i)
		}
	}
	return &Split{
		Name:    name,
		pixels:  pixels,
		images:  images,
		labels:  labels,
		sampler: newSampler(len(labels), seed),
	}, nil
}

// Size returns the number of samples in the split.
func (s *Split) Size() int {
	return len(s.labels)
}

// Epoch reports how many times the split has been reshuffled after running
// out of unread samples.
func (s *Split) Epoch() int {
	return s.sampler.epoch
}

// GetBatch returns n samples drawn without replacement from the current
// permutation.
func (s *Split) GetBatch(n int) (Batch, error) {
	if n <= 0 {
		return Batch{}, errors.Errorf("split %s: batch size must be > 0 (got %d)", s.Name, n)
	}
	if n > len(s.labels) {
		return Batch{}, errors.Errorf("split %s: batch size %d exceeds %d samples", s.Name, n, len(s.labels))
	}
	idx := s.sampler.next(n)
	return s.gather(idx), nil
}

// Slice returns samples [start, start+n) in storage order without touching
// the sampling cursor.
func (s *Split) Slice(start, n int) (Batch, error) {
	if start < 0 || n <= 0 || start+n > len(s.labels) {
		return Batch{}, errors.Errorf("split %s: slice [%d, %d) out of range", s.Name, start, start+n)
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = start + i
	}
	return s.gather(idx), nil
}

func (s *Split) gather(idx []int) Batch {
	images := make([]float64, len(idx)*s.pixels)
	classes := make([]int, len(idx))
	for i, j := range idx {
		copy(images[i*s.pixels:(i+1)*s.pixels], s.images[j*s.pixels:(j+1)*s.pixels])
		classes[i] = s.labels[j]
	}
	return Batch{
		Images:  tensor.New(tensor.WithShape(len(idx), Height, Width, Channels), tensor.WithBacking(images)),
		Labels:  OneHot(classes, NumClasses),
		Classes: classes,
	}
}

// Splits groups the three independent partitions.
type Splits struct {
	Train *Split
	Valid *Split
	Test  *Split
}
