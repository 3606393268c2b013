package trainer

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"

	"digitcnn/internal/checkpoint"
	"digitcnn/internal/dataset"
	"digitcnn/internal/model"
	"digitcnn/internal/optim"
)

// ErrClosed is returned by every Runtime call after Close.
var ErrClosed = errors.New("trainer: runtime is closed")

// State is the lifecycle position of a Runtime.
type State int

const (
	StateBuilt State = iota
	StateTraining
	StateValidating
	StateTrained
	StateTested
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateTraining:
		return "training"
	case StateValidating:
		return "validating"
	case StateTrained:
		return "trained"
	case StateTested:
		return "tested"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// BatchSource supplies batches of n samples.
type BatchSource interface {
	GetBatch(n int) (dataset.Batch, error)
}

// Options configures Build.
type Options struct {
	Model        model.Config
	LearningRate float64
	// BatchSize is used by Test and as the Train default.
	BatchSize int
	// TrainDir enables checkpointing when non-empty.
	TrainDir  string
	MaxToKeep int
	// Resume restores the newest checkpoint in TrainDir, if one exists.
	Resume bool
	Seed   int64
}

// Runtime owns the model parameters and drives training, evaluation and
// prediction. It is not safe for concurrent use.
type Runtime struct {
	runID     uuid.UUID
	batchSize int
	model     model.Model
	opt       optim.Optimizer
	store     *checkpoint.Store
	rng       *rand.Rand
	state     State
	step      int
}

// Build allocates the model and optimizer and, when asked, restores the
// latest checkpoint.
func Build(opts Options) (*Runtime, error) {
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("trainer: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	mdl, err := model.New(opts.Model)
	if err != nil {
		return nil, err
	}
	opt, err := optim.NewSGD(opts.LearningRate)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		runID:     uuid.New(),
		batchSize: opts.BatchSize,
		model:     mdl,
		opt:       opt,
		rng:       rand.New(rand.NewSource(opts.Seed)),
		state:     StateBuilt,
	}

	if opts.TrainDir != "" {
		r.store, err = checkpoint.NewStore(opts.TrainDir, opts.MaxToKeep)
		if err != nil {
			return nil, err
		}
	}
	if opts.Resume {
		if err := r.restore(); err != nil {
			return nil, err
		}
	}

	klog.Infof("runtime built run_id=%s params=%d batch_size=%d lr=%g", r.runID, countValues(mdl.Params()), r.batchSize, opts.LearningRate)
	return r, nil
}

func (r *Runtime) restore() error {
	if r.store == nil {
		return errors.New("trainer: resume requires a train directory")
	}
	path, ok, err := r.store.Latest()
	if err != nil {
		return err
	}
	if !ok {
		klog.Infof("resume dir=%s no checkpoint found, starting fresh", r.store.Dir())
		return nil
	}
	snap, err := r.store.Load(path)
	if err != nil {
		return err
	}
	if err := snap.Restore(r.model.Params()); err != nil {
		return errors.Wrapf(err, "restore %s", path)
	}
	r.step = snap.Step
	klog.Infof("resumed path=%s step=%d from_run=%s", path, snap.Step, snap.RunID)
	return nil
}

func countValues(params []*model.Param) int {
	n := 0
	for _, p := range params {
		n += len(p.Data())
	}
	return n
}

// RunID identifies this runtime in logs and checkpoints.
func (r *Runtime) RunID() uuid.UUID {
	return r.runID
}

// State returns the lifecycle state.
func (r *Runtime) State() State {
	return r.state
}

// Step returns the global step, including steps restored from a checkpoint.
func (r *Runtime) Step() int {
	return r.step
}

// Params exposes the model parameters. Callers must treat them as read-only.
func (r *Runtime) Params() []*model.Param {
	if r.model == nil {
		return nil
	}
	return r.model.Params()
}

// Test evaluates n batches with dropout disabled and returns the aggregate.
// Parameters are not modified.
func (r *Runtime) Test(n int, feeds BatchSource) (model.Evaluation, error) {
	if r.state == StateClosed {
		return model.Evaluation{}, ErrClosed
	}
	if n <= 0 {
		return model.Evaluation{}, errors.Errorf("trainer: test batches must be > 0 (got %d)", n)
	}
	ev, err := r.evaluate(feeds, n, r.batchSize)
	if err != nil {
		return model.Evaluation{}, errors.Wrap(err, "test")
	}
	r.state = StateTested
	klog.Infof("test step=%d batches=%d samples=%d loss=%.4f accuracy=%.4f", r.step, n, ev.Samples, ev.Loss, ev.Accuracy())
	return ev, nil
}

func (r *Runtime) evaluate(feeds BatchSource, batches, batchSize int) (model.Evaluation, error) {
	if feeds == nil {
		return model.Evaluation{}, errors.New("trainer: no batch source")
	}
	var total model.Evaluation
	for i := 0; i < batches; i++ {
		batch, err := feeds.GetBatch(batchSize)
		if err != nil {
			return model.Evaluation{}, err
		}
		f, err := r.model.FetchFeeds(batch, 1, nil)
		if err != nil {
			return model.Evaluation{}, err
		}
		ev, err := r.model.Loss(f, false)
		if err != nil {
			return model.Evaluation{}, err
		}
		total = total.Merge(ev)
	}
	return total, nil
}

// Predict returns the most likely class and the class probabilities for
// every sample of b. Dropout is disabled, so the result is deterministic.
func (r *Runtime) Predict(b dataset.Batch) ([]int, *tensor.Dense, error) {
	if r.state == StateClosed {
		return nil, nil, ErrClosed
	}
	f, err := r.model.FetchFeeds(b, 1, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "predict")
	}
	probs, err := r.model.Inference(f)
	if err != nil {
		return nil, nil, errors.Wrap(err, "predict")
	}
	data := probs.Data().([]float64)
	classes := make([]int, f.N)
	for s := range classes {
		row := data[s*dataset.NumClasses : (s+1)*dataset.NumClasses]
		best := 0
		for k, v := range row {
			if v > row[best] {
				best = k
			}
		}
		classes[s] = best
	}
	return classes, probs, nil
}

// Close releases the model. Further calls return ErrClosed; closing twice is
// a no-op.
func (r *Runtime) Close() error {
	if r.state == StateClosed {
		return nil
	}
	r.state = StateClosed
	r.model = nil
	r.opt = nil
	r.store = nil
	klog.V(1).Infof("runtime closed run_id=%s step=%d", r.runID, r.step)
	return nil
}
