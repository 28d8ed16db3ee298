// fuse replaces the depthwise convolutions of a model by standard convolutions, and saves the rewritten model.
//
// Example:
//
//	$ go run ./cmd/fuse --infer_model=/tmp/mobilenet --output=/tmp/mobilenet_fused --layout=separate
package main

import (
	"flag"

	"github.com/janpfeifer/fusebench/internal/benchmark"
	"github.com/janpfeifer/fusebench/internal/model"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagInferModel = flag.String("infer_model", "", "A path to an inference model directory.")
	flagOutput     = flag.String("output", "", "Directory where to save the rewritten model.")
	flagLayout     = flag.String("layout", "", "Layout of the output model: combined or separate. "+
		"Defaults to the layout of the input model.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagInferModel == "" || *flagOutput == "" {
		klog.Exitf("Please set both --infer_model and --output")
	}

	prog, layout := must.M2(model.Load(*flagInferModel))
	if *flagLayout != "" {
		layout = must.M1(model.LayoutString(*flagLayout))
	}
	fused, count := must.M2(benchmark.FuseDepthwise(prog))
	must.M(model.Save(*flagOutput, fused, layout))
	klog.Infof("Replaced %d depthwise convolutions, saved to %q (layout %s)", count, *flagOutput, layout)
}
