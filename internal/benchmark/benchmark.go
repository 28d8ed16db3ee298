// Package benchmark implements the inference driver: it loads a model, replaces its depthwise convolutions
// with standard convolutions, runs it over a dataset in batches and reports accuracy, latency and throughput.
package benchmark

import (
	"context"
	"time"

	"github.com/janpfeifer/fusebench/internal/accuracy"
	"github.com/janpfeifer/fusebench/internal/dataset"
	"github.com/janpfeifer/fusebench/internal/irgraph"
	"github.com/janpfeifer/fusebench/internal/model"
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/janpfeifer/fusebench/internal/rewrite"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Executor runs inference on batches of images.
type Executor interface {
	// Classify returns the scores of each image of the batch, shaped [batch_size][num_classes].
	Classify(batch *dataset.ImageBatch) ([][]float32, error)

	// ClassifyWithAccuracy runs a program with accuracy operators, fed with the images and the labels,
	// and returns the top-1 and top-5 accuracies it computes.
	ClassifyWithAccuracy(batch *dataset.ImageBatch) (acc1, acc5 float64, err error)
}

// ExecutorFactory creates the Executor for the (rewritten) program.
type ExecutorFactory func(prog *program.Program) (Executor, error)

// FuseDepthwise returns a copy of prog with every depthwise convolution replaced by a standard convolution,
// and the number of operators replaced.
func FuseDepthwise(prog *program.Program) (*program.Program, int, error) {
	g, err := irgraph.New(prog)
	if err != nil {
		return nil, 0, err
	}
	count, err := rewrite.DepthwiseToConv(g)
	if err != nil {
		return nil, 0, err
	}
	fused, err := g.ToProgram()
	if err != nil {
		return nil, 0, errors.WithMessage(err, "converting rewritten graph back to program")
	}
	return fused, count, nil
}

// runner holds the state of one run.
type runner struct {
	cfg    *Config
	phase  Phase
	report *Report
}

func (r *runner) setPhase(phase Phase) {
	if phase == r.phase {
		return
	}
	klog.V(1).Infof("Benchmark phase %s -> %s", r.phase, phase)
	r.phase = phase
}

// Run the benchmark configured by cfg. newExecutor is called once, with the rewritten program.
//
// The context is checked between batches: if it is cancelled, Run returns ctx.Err().
func Run(ctx context.Context, cfg *Config, newExecutor ExecutorFactory) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &runner{cfg: cfg, phase: PhaseInit, report: &Report{Config: *cfg}}
	klog.Infof("Inference model: %s", cfg.InferModel)
	klog.Infof("Dataset: %s", cfg.InferData)
	klog.Infof("Batch size: %d", cfg.BatchSize)
	klog.Infof("Batch number: %d", cfg.BatchNum)

	prog, layout, err := model.Load(cfg.InferModel)
	if err != nil {
		return nil, err
	}
	r.report.Layout = layout
	r.setPhase(PhaseModelLoaded)

	prog, r.report.Rewritten, err = FuseDepthwise(prog)
	if err != nil {
		return nil, errors.WithMessagef(err, "rewriting model %q", cfg.InferModel)
	}
	klog.V(1).Infof("Replaced %d depthwise convolutions", r.report.Rewritten)
	r.setPhase(PhaseGraphRewritten)

	executor, err := newExecutor(prog)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating executor for model %q", cfg.InferModel)
	}
	klog.Info("--- Inference prediction start ---")
	if err = r.loop(ctx, executor); err != nil {
		return nil, err
	}
	r.report.summarize()
	r.setPhase(PhaseReported)
	klog.Infof("Total inference run time: %.2f s", r.report.TotalTime.Seconds())
	klog.Infof("Inference: avg top1 accuracy: %.4f, avg top5 accuracy: %.4f", r.report.Acc1Avg, r.report.Acc5Avg)
	klog.Infof("Inference: avg fps: %.2f, avg latency: %.4f ms", r.report.FPSAvg, r.report.LatencyAvg)
	r.setPhase(PhaseDone)
	return r.report, nil
}

// loop runs the executor over the batches of the dataset, recording the statistics of each batch.
func (r *runner) loop(ctx context.Context, executor Executor) error {
	cfg := r.cfg
	reader := dataset.NewReader(cfg.InferData)
	klog.V(1).Infof("Reading samples from %q", reader.Path())
	var iters, samples int
	start := time.Now()
	for batch, err := range dataset.Batches(reader.Samples(), cfg.BatchSize) {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}
		if iters == cfg.SkipBatchNum {
			samples = 0
			start = time.Now()
		}
		if iters < cfg.SkipBatchNum {
			r.setPhase(PhaseWarmup)
		} else {
			r.setPhase(PhaseMeasured)
		}
		stats, err := r.runBatch(executor, batch)
		if err != nil {
			return errors.WithMessagef(err, "batch %d", iters+1)
		}
		samples += stats.Samples
		iters++
		stats.Warmup = iters <= cfg.SkipBatchNum
		r.report.Batches = append(r.report.Batches, stats)
		var appx string
		if stats.Warmup {
			appx = " (warm-up)"
		}
		klog.Infof("batch %d%s, acc1: %.4f, acc5: %.4f, latency: %.4f ms, fps: %.2f",
			iters, appx, stats.Acc1, stats.Acc5, stats.LatencyMs/float64(cfg.BatchSize), stats.FPS)
		if cfg.BatchNum > 0 && iters >= cfg.BatchNum {
			break
		}
	}
	r.report.Samples = samples
	r.report.TotalTime = time.Since(start)
	return nil
}

// runBatch times the single executor call on batch and computes its accuracies.
func (r *runner) runBatch(executor Executor, samples []*dataset.Sample) (stats BatchStats, err error) {
	batch, err := dataset.Stack(samples)
	if err != nil {
		return
	}
	stats.Samples = batch.Size()
	var elapsed time.Duration
	if r.cfg.WithAccuracyLayer {
		start := time.Now()
		stats.Acc1, stats.Acc5, err = executor.ClassifyWithAccuracy(batch)
		elapsed = time.Since(start)
		if err != nil {
			return
		}
	} else {
		start := time.Now()
		var scores [][]float32
		scores, err = executor.Classify(batch)
		elapsed = time.Since(start)
		if err != nil {
			return
		}
		stats.Acc1, stats.Acc5, err = accuracy.Batch(scores, batch.Labels)
		if err != nil {
			return
		}
	}
	// Clock resolution may yield a zero duration for very fast executors.
	elapsed = max(elapsed, time.Nanosecond)
	stats.LatencyMs = float64(elapsed) / float64(time.Millisecond)
	stats.FPS = float64(stats.Samples) / stats.LatencyMs * 1000
	return
}
