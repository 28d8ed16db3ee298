package benchmark

import (
	"time"

	"github.com/janpfeifer/fusebench/internal/model"
	"gonum.org/v1/gonum/stat"
)

// BatchStats are the statistics of one batch.
type BatchStats struct {
	Samples int

	// Warmup batches are excluded from the latency and throughput averages.
	Warmup bool

	Acc1, Acc5 float64

	// LatencyMs is the time of the executor call for the whole batch, in milliseconds.
	LatencyMs float64

	// FPS is the throughput in samples per second.
	FPS float64
}

// Report of a benchmark run.
type Report struct {
	Config Config
	Layout model.Layout

	// Rewritten is the number of depthwise convolutions replaced.
	Rewritten int

	// Batches holds the statistics of every batch, including the warm-up ones.
	Batches []BatchStats

	// Samples processed after the warm-up.
	Samples int

	// TotalTime since the end of the warm-up.
	TotalTime time.Duration

	// LatencyAvg is the mean latency per sample in milliseconds, over the measured batches.
	LatencyAvg float64

	// FPSAvg is the mean throughput over the measured batches.
	FPSAvg float64

	// Acc1Avg and Acc5Avg are the mean accuracies over all batches.
	Acc1Avg, Acc5Avg float64
}

// mean of values, or 0 if empty.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// summarize computes the averages from the batch statistics. Warm-up batches are the first
// SkipBatchNum ones.
func (r *Report) summarize() {
	var latencies, fpses, accs1, accs5 []float64
	for ii, batch := range r.Batches {
		accs1 = append(accs1, batch.Acc1)
		accs5 = append(accs5, batch.Acc5)
		if ii < r.Config.SkipBatchNum {
			continue
		}
		latencies = append(latencies, batch.LatencyMs)
		fpses = append(fpses, batch.FPS)
	}
	r.LatencyAvg = mean(latencies) / float64(r.Config.BatchSize)
	r.FPSAvg = mean(fpses)
	r.Acc1Avg = mean(accs1)
	r.Acc5Avg = mean(accs5)
}

// MeasuredBatches returns the number of batches after the warm-up.
func (r *Report) MeasuredBatches() int {
	return max(0, len(r.Batches)-r.Config.SkipBatchNum)
}
