package benchmark

import (
	"github.com/pkg/errors"
)

// Config of one benchmark run.
type Config struct {
	// BatchSize is the number of samples per batch. The last batch may be shorter.
	BatchSize int

	// SkipBatchNum is the number of warm-up batches, excluded from the latency and throughput statistics.
	SkipBatchNum int

	// InferModel is the model directory, see package model.
	InferModel string

	// InferData is the dataset file, see package dataset.
	InferData string

	// BatchNum is the maximum number of batches to process. 0 or less means the whole dataset.
	BatchNum int

	// WithAccuracyLayer indicates the model computes top-1 and top-5 accuracies itself:
	// it is fed the labels as well, and the accuracies are read from its outputs.
	WithAccuracyLayer bool
}

// DefaultConfig returns the configuration with the default values. Paths are left empty.
func DefaultConfig() *Config {
	return &Config{BatchSize: 1}
}

// Validate the configuration. It is called by Run before any I/O.
func (c *Config) Validate() error {
	if c.InferModel == "" {
		return errors.New("the model path cannot be empty, please set InferModel (--infer_model)")
	}
	if c.InferData == "" {
		return errors.New("the dataset path cannot be empty, please set InferData (--infer_data)")
	}
	if c.BatchSize < 1 {
		return errors.Errorf("invalid batch size %d, it must be >= 1", c.BatchSize)
	}
	if c.SkipBatchNum < 0 {
		return errors.Errorf("invalid number of warm-up batches %d, it must be >= 0", c.SkipBatchNum)
	}
	return nil
}
