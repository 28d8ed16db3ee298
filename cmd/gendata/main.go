// gendata writes a random dataset and a small random MobileNet-like model, to exercise fusebench without
// real data.
//
// Example:
//
//	$ go run ./cmd/gendata --data=/tmp/data.bin --num_samples=100 --model=/tmp/mobilenet \
//	    --model_config="classes=10,blocks=3"
package main

import (
	"flag"
	"strconv"

	"github.com/janpfeifer/fusebench/internal/model"
	"github.com/janpfeifer/fusebench/internal/parameters"
	"github.com/janpfeifer/fusebench/internal/synthetic"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagData       = flag.String("data", "", "Path of the dataset file to write. If empty no dataset is written.")
	flagNumSamples = flag.Int64("num_samples", 100, "Number of samples in the dataset.")
	flagClasses    = flag.Int("classes", 10, "Number of classes of the labels in the dataset, and of the model.")
	flagSeed       = flag.Int64("seed", 0, "Random seed for the dataset and the model weights.")
	flagModel      = flag.String("model", "", "Directory where to save the model. If empty no model is written.")
	flagModelCfg   = flag.String("model_config", "",
		"Configuration of the model, comma separated, e.g. \"channels=16,blocks=3,with_accuracy\". "+
			"The number of classes and seed are taken from --classes and --seed.")
	flagLayout = flag.String("layout", model.LayoutCombined.String(), "Layout of the model directory: combined or separate.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagData == "" && *flagModel == "" {
		klog.Exitf("Nothing to do, please set --data and/or --model")
	}

	if *flagData != "" {
		must.M(synthetic.Dataset(*flagData, *flagNumSamples, *flagClasses, *flagSeed))
		klog.Infof("Dataset with %d samples written to %q", *flagNumSamples, *flagData)
	}

	if *flagModel != "" {
		layout := must.M1(model.LayoutString(*flagLayout))
		params := parameters.NewFromConfigString(*flagModelCfg)
		params["classes"] = strconv.Itoa(*flagClasses)
		if _, found := params["seed"]; !found {
			params["seed"] = strconv.FormatInt(*flagSeed, 10)
		}
		prog := must.M1(synthetic.MobileNetLike(params))
		must.M(model.Save(*flagModel, prog, layout))
		klog.Infof("Model with %d operators written to %q (layout %s)", len(prog.Ops), *flagModel, layout)
	}
}
