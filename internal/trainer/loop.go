package trainer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"digitcnn/internal/checkpoint"
	"digitcnn/internal/metrics"
	"digitcnn/internal/model"
)

// TrainOptions captures the knobs required by the training loop.
type TrainOptions struct {
	// BatchSize defaults to the runtime batch size.
	BatchSize int
	Steps     int
	Train     BatchSource
	// Valid is optional; without it no validation runs.
	Valid             BatchSource
	ValidateEvery     int
	ValidationBatches int
	OnValidate        func(step int, ev model.Evaluation)
	Checkpoint        bool
	CheckpointEvery   int
	// DropoutKeep defaults to 1 (no dropout).
	DropoutKeep float64
	LogEvery    int
}

// Train runs opts.Steps optimizer updates. Validation and checkpoint
// cadences count global steps. The final step is always checkpointed when
// checkpointing is on.
func (r *Runtime) Train(ctx context.Context, opts TrainOptions) error {
	if r.state == StateClosed {
		return ErrClosed
	}
	if opts.Steps < 0 {
		return errors.Errorf("trainer: steps must be >= 0 (got %d)", opts.Steps)
	}
	if opts.Train == nil {
		return errors.New("trainer: no training batch source")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = r.batchSize
	}
	if opts.DropoutKeep == 0 {
		opts.DropoutKeep = 1
	}
	if opts.ValidateEvery <= 0 {
		opts.ValidateEvery = 100
	}
	if opts.ValidationBatches <= 0 {
		opts.ValidationBatches = 1
	}
	if opts.CheckpointEvery <= 0 {
		opts.CheckpointEvery = 500
	}
	if opts.LogEvery <= 0 {
		opts.LogEvery = 50
	}
	if opts.Checkpoint && r.store == nil {
		return errors.New("trainer: checkpointing requires a train directory")
	}

	r.state = StateTraining
	defer func() {
		if r.state != StateClosed {
			r.state = StateTrained
		}
	}()

	params := r.model.Params()
	var window metrics.Window

	for i := 1; i <= opts.Steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		startData := time.Now()
		batch, err := opts.Train.GetBatch(opts.BatchSize)
		if err != nil {
			return errors.Wrapf(err, "step %d: fetch batch", r.step+1)
		}
		feeds, err := r.model.FetchFeeds(batch, opts.DropoutKeep, r.rng)
		if err != nil {
			return errors.Wrapf(err, "step %d", r.step+1)
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		ev, err := r.model.Loss(feeds, true)
		if err != nil {
			return errors.Wrapf(err, "step %d", r.step+1)
		}
		r.opt.Step(params)
		computeTime := time.Since(startCompute)

		r.step++
		window.Record(opts.BatchSize, dataTime, computeTime, ev.Loss, ev.Correct)

		if r.step%opts.LogEvery == 0 {
			snap := window.Snapshot()
			klog.Infof("step=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f train_acc=%.3f",
				r.step,
				snap.ImagesPerSec,
				snap.AvgDataMS,
				snap.AvgComputeMS,
				snap.LastLoss,
				snap.Accuracy,
			)
		}

		if opts.Valid != nil && r.step%opts.ValidateEvery == 0 {
			if err := r.validate(opts); err != nil {
				return err
			}
		}

		if opts.Checkpoint && (r.step%opts.CheckpointEvery == 0 || i == opts.Steps) {
			if err := r.save(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Runtime) validate(opts TrainOptions) error {
	r.state = StateValidating
	ev, err := r.evaluate(opts.Valid, opts.ValidationBatches, opts.BatchSize)
	r.state = StateTraining
	if err != nil {
		return errors.Wrapf(err, "step %d: validate", r.step)
	}
	klog.Infof("validate step=%d samples=%d loss=%.4f accuracy=%.4f", r.step, ev.Samples, ev.Loss, ev.Accuracy())
	if opts.OnValidate != nil {
		opts.OnValidate(r.step, ev)
	}
	return nil
}

func (r *Runtime) save() error {
	path, err := r.store.Save(checkpoint.FromParams(r.runID, r.step, r.model.Params()))
	if err != nil {
		return err
	}
	klog.Infof("checkpoint step=%d path=%s", r.step, path)
	return nil
}
