package dataset

import (
	"gorgonia.org/tensor"
)

// Image geometry and class count of the digit dataset.
const (
	Height     = 28
	Width      = 28
	Channels   = 1
	NumClasses = 10
)

// Batch is a fixed-size group of samples drawn from a Split.
type Batch struct {
	// Images is shaped (n, height, width, channels) with values in [0, 1].
	Images *tensor.Dense
	// Labels is shaped (n, classes), one-hot.
	Labels *tensor.Dense
	// Classes holds the integer label of every sample. Labels and Classes are
	// nil for unlabelled batches.
	Classes []int
}

// Len returns the number of samples in the batch.
func (b Batch) Len() int {
	if b.Images == nil || len(b.Images.Shape()) == 0 {
		return 0
	}
	return b.Images.Shape()[0]
}

// ImageData exposes the flat image backing slice.
func (b Batch) ImageData() []float64 {
	return b.Images.Data().([]float64)
}

// LabelData exposes the flat one-hot backing slice.
func (b Batch) LabelData() []float64 {
	return b.Labels.Data().([]float64)
}

// OneHot encodes labels as rows of a (len(labels), classes) matrix.
func OneHot(labels []int, classes int) *tensor.Dense {
	backing := make([]float64, len(labels)*classes)
	for i, l := range labels {
		backing[i*classes+l] = 1
	}
	return tensor.New(tensor.WithShape(len(labels), classes), tensor.WithBacking(backing))
}
