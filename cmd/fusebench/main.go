// fusebench measures the accuracy and performance of an image classification model after replacing its
// depthwise convolutions by standard convolutions.
//
// Example:
//
//	$ go run ./cmd/fusebench --infer_model=/tmp/mobilenet --infer_data=/tmp/data.bin --batch_size=50 \
//	    --skip_batch_num=1 --batch_num=10
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/janpfeifer/fusebench/internal/benchmark"
	"github.com/janpfeifer/fusebench/internal/engine"
	"github.com/janpfeifer/fusebench/internal/parameters"
	"github.com/janpfeifer/fusebench/internal/profilers"
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/janpfeifer/fusebench/internal/ui/report"
	"github.com/janpfeifer/fusebench/internal/ui/spinning"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Flags
var (
	flagBatchSize    = flag.Int("batch_size", 1, "Batch size.")
	flagSkipBatchNum = flag.Int("skip_batch_num", 0,
		"Number of the first minibatches to skip in performance statistics.")
	flagInferModel = flag.String("infer_model", "", "A path to an inference model directory.")
	flagInferData  = flag.String("infer_data", "", "Data file.")
	flagBatchNum   = flag.Int("batch_num", 0,
		"Number of batches to process. 0 or less means whole dataset.")
	flagWithAccuracyLayer = flag.Bool("with_accuracy_layer", false,
		"The model is with accuracy layers: it is fed the labels and outputs the top-1 and top-5 accuracies.")
	flagEngine = flag.String("engine", "",
		"Engine configuration string, comma separated list of options, e.g.: \"donate=false\".")
)

// Globals
var (
	// globalCtx is cancelled when the program is interrupted (Ctrl+C).
	globalCtx = context.Background()
)

func newConfig() *benchmark.Config {
	cfg := benchmark.DefaultConfig()
	cfg.BatchSize = *flagBatchSize
	cfg.SkipBatchNum = *flagSkipBatchNum
	cfg.InferModel = *flagInferModel
	cfg.InferData = *flagInferData
	cfg.BatchNum = *flagBatchNum
	cfg.WithAccuracyLayer = *flagWithAccuracyLayer
	return cfg
}

// newExecutor creates the GoMLX engine for the rewritten program.
func newExecutor(prog *program.Program) (benchmark.Executor, error) {
	s := spinning.New(globalCtx, "Creating GoMLX engine")
	e, err := engine.New(prog, parameters.NewFromConfigString(*flagEngine))
	klog.V(1).Infof("Engine created in %s", s.Done())
	if err != nil {
		return nil, err
	}
	return e, nil
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	// Capture Control+C
	var globalCancel func()
	globalCtx, globalCancel = context.WithCancel(context.Background())
	spinning.SafeInterrupt(globalCancel, 5*time.Second)
	defer globalCancel()

	profilers.Setup(globalCtx)
	defer profilers.OnQuit()

	cfg := newConfig()
	if err := cfg.Validate(); err != nil {
		klog.Exitf("%v", err)
	}
	r, err := benchmark.Run(globalCtx, cfg, newExecutor)
	if err = runError(globalCtx, err); err != nil {
		klog.Exitf("%+v", err)
	}
	report.Print(os.Stdout, r)
}

// runError returns the error the benchmark exits with. An interrupted run is always an error.
func runError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if err == nil {
			err = ctxErr
		}
		return errors.WithMessage(err, "benchmark interrupted")
	}
	return err
}
