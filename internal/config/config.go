package config

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DataDir           string  `yaml:"data_dir"`
	TrainDir          string  `yaml:"train_dir"`
	Steps             int     `yaml:"steps"`
	BatchSize         int     `yaml:"batch_size"`
	WeightDecay       float64 `yaml:"weight_decay"`
	InitialLR         float64 `yaml:"initial_lr"`
	DropoutKeep       float64 `yaml:"dropout_keep"`
	ValidationSize    int     `yaml:"validation_size"`
	ValidateEvery     int     `yaml:"validate_every"`
	ValidationBatches int     `yaml:"validation_batches"`
	TestBatches       int     `yaml:"test_batches"`
	Checkpoint        bool    `yaml:"checkpoint"`
	CheckpointEvery   int     `yaml:"checkpoint_every"`
	MaxToKeep         int     `yaml:"max_to_keep"`
	Resume            bool    `yaml:"resume"`
	Workers           int     `yaml:"workers"`
	Seed              int64   `yaml:"seed"`
	LogEvery          int     `yaml:"log_every"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir     string
	TrainDir    string
	Steps       int
	BatchSize   int
	InitialLR   float64
	DropoutKeep float64
	Workers     int
	Seed        int64
	LogEvery    int
	Resume      bool
}

// Default returns the notebook constants.
func Default() *Config {
	return &Config{
		DataDir:           "MNIST_data",
		TrainDir:          "train",
		Steps:             1000,
		BatchSize:         32,
		WeightDecay:       0.0001,
		InitialLR:         0.001,
		DropoutKeep:       0.5,
		ValidationSize:    5000,
		ValidateEvery:     100,
		ValidationBatches: 10,
		TestBatches:       100,
		Checkpoint:        true,
		CheckpointEvery:   500,
		MaxToKeep:         5,
		Seed:              42,
		LogEvery:          50,
	}
}

// Load reads a Config from YAML on top of Default and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML into a Config seeded with defaults. Unknown keys are
// rejected.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		// An empty document decodes to io.EOF; keep the defaults.
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.TrainDir != "" {
		c.TrainDir = o.TrainDir
	}
	if o.Steps > 0 {
		c.Steps = o.Steps
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.InitialLR > 0 {
		c.InitialLR = o.InitialLR
	}
	if o.DropoutKeep > 0 {
		c.DropoutKeep = o.DropoutKeep
	}
	if o.Workers > 0 {
		c.Workers = o.Workers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Resume {
		c.Resume = true
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.Checkpoint && c.TrainDir == "" {
		return errors.New("train_dir must be set when checkpoint is enabled")
	}
	if c.Steps < 0 {
		return errors.Errorf("steps must be >= 0 (got %d)", c.Steps)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.InitialLR <= 0 {
		return errors.Errorf("initial_lr must be > 0 (got %g)", c.InitialLR)
	}
	if c.WeightDecay < 0 {
		return errors.Errorf("weight_decay must be >= 0 (got %g)", c.WeightDecay)
	}
	if c.DropoutKeep <= 0 || c.DropoutKeep > 1 {
		return errors.Errorf("dropout_keep must be in (0, 1] (got %g)", c.DropoutKeep)
	}
	if c.ValidationSize < 0 {
		return errors.Errorf("validation_size must be >= 0 (got %d)", c.ValidationSize)
	}
	if c.Workers < 0 {
		return errors.Errorf("workers must be >= 0 (got %d)", c.Workers)
	}
	if c.ValidateEvery <= 0 {
		c.ValidateEvery = 100
	}
	if c.ValidationBatches <= 0 {
		c.ValidationBatches = 10
	}
	if c.TestBatches <= 0 {
		c.TestBatches = 100
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 500
	}
	if c.MaxToKeep <= 0 {
		c.MaxToKeep = 5
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	return nil
}
