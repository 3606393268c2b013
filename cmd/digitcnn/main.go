// Command digitcnn trains the digit CNN on MNIST IDX files, reports
// validation and test accuracy, and prints predictions.
//
//	digitcnn -config configs/mnist.yaml
//	digitcnn -data ~/MNIST_data -steps 2000 -predict digit.png -invert
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/klauspost/cpuid/v2"
	"k8s.io/klog/v2"

	"digitcnn/internal/config"
	"digitcnn/internal/dataset"
	"digitcnn/internal/model"
	"digitcnn/internal/trainer"
)

func main() {
	quietMust()
	klog.InitFlags(nil)
	cfgPath := flag.String("config", "", "Path to YAML config (defaults apply when empty)")
	dataDir := flag.String("data", "", "Override dataset directory")
	trainDir := flag.String("train-dir", "", "Override checkpoint directory")
	steps := flag.Int("steps", 0, "Number of training steps (0 keeps the config value; set steps: 0 in the config to skip training)")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	lr := flag.Float64("lr", 0, "Initial learning rate")
	keep := flag.Float64("dropout-keep", 0, "Dropout keep probability")
	workers := flag.Int("workers", 0, "Goroutines per batch")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N steps")
	resume := flag.Bool("resume", false, "Restore the latest checkpoint before training")
	predict := flag.String("predict", "", "Comma separated PNG/JPEG files to classify after training")
	invert := flag.Bool("invert", false, "Invert -predict images (dark ink on light paper)")

	flag.Parse()
	defer klog.Flush()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			klog.Exitf("failed to load config: %v", err)
		}
	}

	cfg.ApplyOverrides(config.Overrides{
		DataDir:     *dataDir,
		TrainDir:    *trainDir,
		Steps:       *steps,
		BatchSize:   *batchSize,
		InitialLR:   *lr,
		DropoutKeep: *keep,
		Workers:     *workers,
		Seed:        *seed,
		LogEvery:    *logEvery,
		Resume:      *resume,
	})

	if err := cfg.Validate(); err != nil {
		klog.Exitf("invalid config: %v", err)
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers()
	}
	klog.Infof("cpu=%q physical_cores=%d avx2=%v workers=%d",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.Supports(cpuid.AVX2), cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := exceptions.TryCatch[error](func() { run(ctx, cfg, splitList(*predict), *invert) })
	if err != nil {
		klog.Errorf("run failed: %+v", err)
		klog.Flush()
		os.Exit(1)
	}
}

// quietMust makes must.M panic without logging, so failures are reported
// once, by klog, after TryCatch.
func quietMust() {
	must.M = func(err error) {
		if err != nil {
			panic(err)
		}
	}
}

// defaultWorkers prefers physical cores; cpuid reports 0 when it cannot tell.
func defaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func run(ctx context.Context, cfg *config.Config, predictPaths []string, invert bool) {
	splits := must.M1(dataset.Load(cfg.DataDir, dataset.Options{
		ValidationSize: cfg.ValidationSize,
		Seed:           cfg.Seed,
	}))

	mcfg := model.DefaultConfig()
	mcfg.WeightDecay = cfg.WeightDecay
	mcfg.Workers = cfg.Workers
	mcfg.Seed = cfg.Seed

	opts := trainer.Options{
		Model:        mcfg,
		LearningRate: cfg.InitialLR,
		BatchSize:    cfg.BatchSize,
		MaxToKeep:    cfg.MaxToKeep,
		Resume:       cfg.Resume,
		Seed:         cfg.Seed,
	}
	if cfg.Checkpoint || cfg.Resume {
		opts.TrainDir = cfg.TrainDir
	}
	rt := must.M1(trainer.Build(opts))
	defer rt.Close()

	trainOpts := trainer.TrainOptions{
		BatchSize:         cfg.BatchSize,
		Steps:             cfg.Steps,
		Train:             splits.Train,
		ValidateEvery:     cfg.ValidateEvery,
		ValidationBatches: cfg.ValidationBatches,
		OnValidate: func(step int, ev model.Evaluation) {
			fmt.Printf("step %d: validation accuracy %.2f%% loss %.4f\n", step, 100*ev.Accuracy(), ev.Loss)
		},
		Checkpoint:      cfg.Checkpoint,
		CheckpointEvery: cfg.CheckpointEvery,
		DropoutKeep:     cfg.DropoutKeep,
		LogEvery:        cfg.LogEvery,
	}
	// A nil *Split must not become a non-nil interface.
	if splits.Valid != nil {
		trainOpts.Valid = splits.Valid
	}
	must.M(rt.Train(ctx, trainOpts))

	ev := must.M1(rt.Test(cfg.TestBatches, splits.Test))
	fmt.Printf("test accuracy %.2f%% loss %.4f over %d samples\n", 100*ev.Accuracy(), ev.Loss, ev.Samples)

	sample := must.M1(splits.Test.GetBatch(cfg.BatchSize))
	predicted, _ := must.M2(rt.Predict(sample))
	fmt.Printf("predicted %v\nactual    %v\n", predicted, sample.Classes)

	if len(predictPaths) > 0 {
		samples := make([][]float64, len(predictPaths))
		for i, p := range predictPaths {
			raw := must.M1(os.ReadFile(p))
			samples[i] = must.M1(dataset.DecodeImage(raw, invert))
		}
		batch := must.M1(dataset.UnlabelledBatch(samples))
		classes, probs := must.M2(rt.Predict(batch))
		data := probs.Data().([]float64)
		for i, p := range predictPaths {
			fmt.Printf("%s: %d (p=%.3f)\n", p, classes[i], data[i*dataset.NumClasses+classes[i]])
		}
	}
}
