package model

import (
	"math"
	"math/rand"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"digitcnn/internal/dataset"
)

// Config sizes the digit classifier.
type Config struct {
	Conv1Filters int
	Conv1Kernel  int
	Conv2Filters int
	Conv2Kernel  int
	Hidden       int
	WeightDecay  float64
	// Workers is the number of goroutines a batch is split across.
	Workers int
	Seed    int64
}

// DefaultConfig returns the reference architecture.
func DefaultConfig() Config {
	return Config{
		Conv1Filters: 32,
		Conv1Kernel:  5,
		Conv2Filters: 64,
		Conv2Kernel:  3,
		Hidden:       256,
		WeightDecay:  0.0001,
		Workers:      1,
		Seed:         42,
	}
}

func (c Config) validate() error {
	for name, v := range map[string]int{
		"conv1 filters": c.Conv1Filters,
		"conv2 filters": c.Conv2Filters,
		"hidden":        c.Hidden,
	} {
		if v <= 0 {
			return errors.Errorf("model: %s must be > 0 (got %d)", name, v)
		}
	}
	for name, k := range map[string]int{"conv1 kernel": c.Conv1Kernel, "conv2 kernel": c.Conv2Kernel} {
		if k <= 0 || k%2 == 0 {
			return errors.Errorf("model: %s must be odd and > 0 (got %d)", name, k)
		}
	}
	if c.WeightDecay < 0 {
		return errors.Errorf("model: weight decay must be >= 0 (got %g)", c.WeightDecay)
	}
	return nil
}

const (
	h0 = dataset.Height
	w0 = dataset.Width
	c0 = dataset.Channels
	h1 = h0 / 2
	w1 = w0 / 2
	h2 = h1 / 2
	w2 = w1 / 2
)

const (
	pConv1W = iota
	pConv1B
	pConv2W
	pConv2B
	pFC1W
	pFC1B
	pFC2W
	pFC2B
	numParams
)

// DigitCNN is Conv-ReLU-Pool, Conv-ReLU-Pool, FC-ReLU-Dropout, FC-Softmax
// trained with cross-entropy and an L2 penalty. It is not safe for
// concurrent use.
type DigitCNN struct {
	cfg    Config
	params []*Param
	spaces []*workspace
}

var _ Model = (*DigitCNN)(nil)

// New allocates a DigitCNN with He-normal weights and zero biases.
func New(cfg Config) (*DigitCNN, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	f1, f2, k1, k2 := cfg.Conv1Filters, cfg.Conv2Filters, cfg.Conv1Kernel, cfg.Conv2Kernel
	flat := h2 * w2 * f2

	params := make([]*Param, numParams)
	params[pConv1W] = NewParam("conv1/weights", true, k1, k1, c0, f1)
	params[pConv1B] = NewParam("conv1/biases", false, f1)
	params[pConv2W] = NewParam("conv2/weights", true, k2, k2, f1, f2)
	params[pConv2B] = NewParam("conv2/biases", false, f2)
	params[pFC1W] = NewParam("fc1/weights", true, flat, cfg.Hidden)
	params[pFC1B] = NewParam("fc1/biases", false, cfg.Hidden)
	params[pFC2W] = NewParam("fc2/weights", true, cfg.Hidden, dataset.NumClasses)
	params[pFC2B] = NewParam("fc2/biases", false, dataset.NumClasses)

	rng := rand.New(rand.NewSource(cfg.Seed))
	heNormal(rng, params[pConv1W].Data(), k1*k1*c0)
	heNormal(rng, params[pConv2W].Data(), k2*k2*f1)
	heNormal(rng, params[pFC1W].Data(), flat)
	heNormal(rng, params[pFC2W].Data(), cfg.Hidden)

	return &DigitCNN{cfg: cfg, params: params}, nil
}

func heNormal(rng *rand.Rand, w []float64, fanIn int) {
	std := math.Sqrt(2 / float64(fanIn))
	for i := range w {
		w[i] = rng.NormFloat64() * std
	}
}

// Config returns the configuration the model was built with.
func (m *DigitCNN) Config() Config {
	return m.cfg
}

// Params implements Model.
func (m *DigitCNN) Params() []*Param {
	return m.params
}

// FetchFeeds implements Model.
func (m *DigitCNN) FetchFeeds(b dataset.Batch, keep float64, rng *rand.Rand) (Feeds, error) {
	if b.Images == nil {
		return Feeds{}, errors.Wrap(ErrShape, "batch has no images")
	}
	n := b.Len()
	if n == 0 {
		return Feeds{}, errors.Wrap(ErrShape, "empty batch")
	}
	if !shapeIs(b.Images.Shape(), n, h0, w0, c0) {
		return Feeds{}, errors.Wrapf(ErrShape, "images %v, want (%d, %d, %d, %d)", b.Images.Shape(), n, h0, w0, c0)
	}
	f := Feeds{N: n, Images: b.ImageData(), Classes: b.Classes, Keep: keep}
	if b.Labels != nil {
		if !shapeIs(b.Labels.Shape(), n, dataset.NumClasses) {
			return Feeds{}, errors.Wrapf(ErrShape, "labels %v, want (%d, %d)", b.Labels.Shape(), n, dataset.NumClasses)
		}
		f.Labels = b.LabelData()
	}

	if keep <= 0 || keep > 1 {
		return Feeds{}, errors.Errorf("model: dropout keep must be in (0, 1] (got %g)", keep)
	}
	if keep == 1 {
		return f, nil
	}
	if rng == nil {
		return Feeds{}, errors.New("model: dropout requires a random source")
	}
	f.Masks = make([][]float64, n)
	scale := 1 / keep
	for s := range f.Masks {
		mask := make([]float64, m.cfg.Hidden)
		for i := range mask {
			if rng.Float64() < keep {
				mask[i] = scale
			}
		}
		f.Masks[s] = mask
	}
	return f, nil
}

func shapeIs(s tensor.Shape, dims ...int) bool {
	if len(s) != len(dims) {
		return false
	}
	for i, d := range dims {
		if s[i] != d {
			return false
		}
	}
	return true
}

// Inference implements Model.
func (m *DigitCNN) Inference(f Feeds) (*tensor.Dense, error) {
	probs := make([]float64, f.N*dataset.NumClasses)
	if _, err := m.run(f, false, probs); err != nil {
		return nil, err
	}
	return tensor.New(tensor.WithShape(f.N, dataset.NumClasses), tensor.WithBacking(probs)), nil
}

// Loss implements Model.
func (m *DigitCNN) Loss(f Feeds, withGrad bool) (Evaluation, error) {
	if f.Labels == nil {
		return Evaluation{}, errors.Wrap(ErrShape, "loss requires labels")
	}
	return m.run(f, withGrad, nil)
}

// Penalty returns weight_decay * sum(w^2) / 2 over decayed parameters.
func (m *DigitCNN) Penalty() float64 {
	sum := 0.0
	for _, p := range m.params {
		if !p.Decay {
			continue
		}
		for _, v := range p.Data() {
			sum += v * v
		}
	}
	return m.cfg.WeightDecay * sum / 2
}

type workerResult struct {
	ce      float64
	correct int
}

// run evaluates every sample of f. Samples are dealt round-robin to workers
// and per-worker gradients are reduced in worker order, so the result does
// not depend on scheduling.
func (m *DigitCNN) run(f Feeds, withGrad bool, probsOut []float64) (Evaluation, error) {
	pixels := h0 * w0 * c0
	if f.N <= 0 || len(f.Images) != f.N*pixels {
		return Evaluation{}, errors.Wrapf(ErrShape, "feeds hold %d values for %d samples", len(f.Images), f.N)
	}
	if f.Labels != nil && len(f.Labels) != f.N*dataset.NumClasses {
		return Evaluation{}, errors.Wrapf(ErrShape, "feeds hold %d label values for %d samples", len(f.Labels), f.N)
	}
	if f.Masks != nil && len(f.Masks) != f.N {
		return Evaluation{}, errors.Wrapf(ErrShape, "feeds hold %d dropout masks for %d samples", len(f.Masks), f.N)
	}

	workers := m.cfg.Workers
	if workers > f.N {
		workers = f.N
	}
	spaces := m.workspaces(workers)
	results := make([]workerResult, workers)
	scale := 1 / float64(f.N)

	var wg sync.WaitGroup
	for wi := 0; wi < workers; wi++ {
		wg.Add(1)
		go func(wi int) {
			defer wg.Done()
			ws := spaces[wi]
			if withGrad {
				ws.zeroGrads()
			}
			res := &results[wi]
			for s := wi; s < f.N; s += workers {
				image := f.Images[s*pixels : (s+1)*pixels]
				var mask []float64
				if f.Masks != nil {
					mask = f.Masks[s]
				}
				m.forward(ws, image, mask)
				if probsOut != nil {
					copy(probsOut[s*dataset.NumClasses:(s+1)*dataset.NumClasses], ws.probs)
				}
				if f.Labels == nil {
					continue
				}
				label := f.Labels[s*dataset.NumClasses : (s+1)*dataset.NumClasses]
				res.ce += crossEntropy(ws.probs, label)
				if argmax(ws.probs) == argmax(label) {
					res.correct++
				}
				if withGrad {
					m.backward(ws, image, label, mask, scale)
				}
			}
		}(wi)
	}
	wg.Wait()

	ev := Evaluation{Samples: f.N}
	for _, r := range results {
		ev.CrossEntropy += r.ce
		ev.Correct += r.correct
	}
	ev.CrossEntropy *= scale
	ev.Penalty = m.Penalty()
	ev.Loss = ev.CrossEntropy + ev.Penalty

	if withGrad {
		for pi, p := range m.params {
			g := p.GradData()
			clear(g)
			for wi := 0; wi < workers; wi++ {
				for i, v := range spaces[wi].grads[pi] {
					g[i] += v
				}
			}
			if p.Decay && m.cfg.WeightDecay > 0 {
				for i, v := range p.Data() {
					g[i] += m.cfg.WeightDecay * v
				}
			}
		}
	}
	return ev, nil
}

func crossEntropy(probs, onehot []float64) float64 {
	ce := 0.0
	for i, t := range onehot {
		if t != 0 {
			ce -= t * math.Log(math.Max(probs[i], 1e-12))
		}
	}
	return ce
}

// workspace holds per-goroutine activations and gradient accumulators.
type workspace struct {
	conv1, pool1   []float64
	arg1           []int
	conv2, pool2   []float64
	arg2           []int
	hidden, drop   []float64
	logits, probs  []float64
	dLogits, dDrop []float64
	dHidden, dFlat []float64
	dConv2, dPool1 []float64
	dConv1         []float64
	grads          [][]float64
}

func (m *DigitCNN) workspaces(n int) []*workspace {
	for len(m.spaces) < n {
		m.spaces = append(m.spaces, m.newWorkspace())
	}
	return m.spaces[:n]
}

func (m *DigitCNN) newWorkspace() *workspace {
	f1, f2, hid, nc := m.cfg.Conv1Filters, m.cfg.Conv2Filters, m.cfg.Hidden, dataset.NumClasses
	ws := &workspace{
		conv1:   make([]float64, h0*w0*f1),
		pool1:   make([]float64, h1*w1*f1),
		arg1:    make([]int, h1*w1*f1),
		conv2:   make([]float64, h1*w1*f2),
		pool2:   make([]float64, h2*w2*f2),
		arg2:    make([]int, h2*w2*f2),
		hidden:  make([]float64, hid),
		drop:    make([]float64, hid),
		logits:  make([]float64, nc),
		probs:   make([]float64, nc),
		dLogits: make([]float64, nc),
		dDrop:   make([]float64, hid),
		dHidden: make([]float64, hid),
		dFlat:   make([]float64, h2*w2*f2),
		dConv2:  make([]float64, h1*w1*f2),
		dPool1:  make([]float64, h1*w1*f1),
		dConv1:  make([]float64, h0*w0*f1),
		grads:   make([][]float64, len(m.params)),
	}
	for i, p := range m.params {
		ws.grads[i] = make([]float64, len(p.Data()))
	}
	return ws
}

func (ws *workspace) zeroGrads() {
	for _, g := range ws.grads {
		clear(g)
	}
}

func (m *DigitCNN) forward(ws *workspace, image, mask []float64) {
	p := m.params
	f1, f2 := m.cfg.Conv1Filters, m.cfg.Conv2Filters

	conv2dForward(image, h0, w0, c0, p[pConv1W].Data(), m.cfg.Conv1Kernel, f1, p[pConv1B].Data(), ws.conv1)
	reluForward(ws.conv1)
	maxPoolForward(ws.conv1, h0, w0, f1, ws.pool1, ws.arg1)

	conv2dForward(ws.pool1, h1, w1, f1, p[pConv2W].Data(), m.cfg.Conv2Kernel, f2, p[pConv2B].Data(), ws.conv2)
	reluForward(ws.conv2)
	maxPoolForward(ws.conv2, h1, w1, f2, ws.pool2, ws.arg2)

	denseForward(ws.pool2, p[pFC1W].Data(), p[pFC1B].Data(), ws.hidden)
	reluForward(ws.hidden)
	copy(ws.drop, ws.hidden)
	if mask != nil {
		for i, k := range mask {
			ws.drop[i] *= k
		}
	}

	denseForward(ws.drop, p[pFC2W].Data(), p[pFC2B].Data(), ws.logits)
	softmax(ws.logits, ws.probs)
}

// backward accumulates scale * d(cross-entropy)/d(param) for the sample
// last run through forward on ws.
func (m *DigitCNN) backward(ws *workspace, image, label, mask []float64, scale float64) {
	p := m.params
	g := ws.grads
	f1, f2 := m.cfg.Conv1Filters, m.cfg.Conv2Filters

	for i := range ws.dLogits {
		ws.dLogits[i] = (ws.probs[i] - label[i]) * scale
	}
	denseBackward(ws.drop, p[pFC2W].Data(), ws.dLogits, ws.dDrop, g[pFC2W], g[pFC2B])

	copy(ws.dHidden, ws.dDrop)
	if mask != nil {
		for i, k := range mask {
			ws.dHidden[i] *= k
		}
	}
	reluBackward(ws.hidden, ws.dHidden)
	denseBackward(ws.pool2, p[pFC1W].Data(), ws.dHidden, ws.dFlat, g[pFC1W], g[pFC1B])

	maxPoolBackward(ws.dFlat, ws.arg2, ws.dConv2)
	reluBackward(ws.conv2, ws.dConv2)
	conv2dBackward(ws.pool1, h1, w1, f1, p[pConv2W].Data(), m.cfg.Conv2Kernel, f2, ws.dConv2, ws.dPool1, g[pConv2W], g[pConv2B])

	maxPoolBackward(ws.dPool1, ws.arg1, ws.dConv1)
	reluBackward(ws.conv1, ws.dConv1)
	conv2dBackward(image, h0, w0, c0, p[pConv1W].Data(), m.cfg.Conv1Kernel, f1, ws.dConv1, nil, g[pConv1W], g[pConv1B])
}
