package model

import (
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"digitcnn/internal/dataset"
)

// ErrShape reports feeds that do not match the model input or output shape.
var ErrShape = errors.New("model: shape mismatch")

// Param is a learnable tensor together with its gradient.
type Param struct {
	Name  string
	Value *tensor.Dense
	Grad  *tensor.Dense
	// Decay marks tensors that carry the L2 weight penalty. Biases do not.
	Decay bool
}

// NewParam allocates a zeroed parameter of the given shape.
func NewParam(name string, decay bool, shape ...int) *Param {
	return &Param{
		Name:  name,
		Value: tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...)),
		Grad:  tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(shape...)),
		Decay: decay,
	}
}

// Data returns the flat value backing slice.
func (p *Param) Data() []float64 {
	return p.Value.Data().([]float64)
}

// GradData returns the flat gradient backing slice.
func (p *Param) GradData() []float64 {
	return p.Grad.Data().([]float64)
}

// Shape returns the parameter dimensions.
func (p *Param) Shape() []int {
	return []int(p.Value.Shape().Clone())
}

// Feeds are validated model inputs. Dropout masks are drawn up front so that
// evaluating a model is a pure function of its feeds.
type Feeds struct {
	N       int
	Images  []float64
	Labels  []float64
	Classes []int
	Keep    float64
	// Masks holds one hidden-layer mask per sample, already scaled by 1/Keep.
	// Nil when Keep is 1.
	Masks [][]float64
}

// Evaluation summarises a forward pass over one or more batches.
type Evaluation struct {
	Loss         float64
	CrossEntropy float64
	Penalty      float64
	Correct      int
	Samples      int
}

// Accuracy returns the fraction of correctly classified samples.
func (e Evaluation) Accuracy() float64 {
	if e.Samples == 0 {
		return 0
	}
	return float64(e.Correct) / float64(e.Samples)
}

// Merge folds o into e, weighting the mean losses by sample count.
func (e Evaluation) Merge(o Evaluation) Evaluation {
	total := e.Samples + o.Samples
	if total == 0 {
		return e
	}
	wa := float64(e.Samples) / float64(total)
	wb := float64(o.Samples) / float64(total)
	return Evaluation{
		Loss:         e.Loss*wa + o.Loss*wb,
		CrossEntropy: e.CrossEntropy*wa + o.CrossEntropy*wb,
		Penalty:      e.Penalty*wa + o.Penalty*wb,
		Correct:      e.Correct + o.Correct,
		Samples:      total,
	}
}

// Model is the capability set the training runtime drives.
type Model interface {
	// FetchFeeds validates a batch and draws dropout masks for keep < 1.
	FetchFeeds(b dataset.Batch, keep float64, rng *rand.Rand) (Feeds, error)
	// Inference returns class probabilities shaped (n, classes).
	Inference(f Feeds) (*tensor.Dense, error)
	// Loss evaluates the regularised loss. With withGrad set, the gradient
	// of that loss replaces the contents of every Param.Grad.
	Loss(f Feeds, withGrad bool) (Evaluation, error)
	// Params lists the learnable tensors in a stable order.
	Params() []*Param
}

// Checksum hashes the bits of every parameter value.
func Checksum(params []*Param) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range params {
		h.Write([]byte(p.Name))
		for _, v := range p.Data() {
			bits := math.Float64bits(v)
			for i := range buf {
				buf[i] = byte(bits >> (8 * i))
			}
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}
