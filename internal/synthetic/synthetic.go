// Package synthetic generates random datasets and small MobileNet-like models, so the benchmark can
// be run (and tested) without a real model.
package synthetic

import (
	"fmt"
	"math/rand/v2"
	"runtime"

	"github.com/chewxy/math32"
	"github.com/janpfeifer/fusebench/internal/dataset"
	"github.com/janpfeifer/fusebench/internal/parameters"
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Names of the feeds and fetches of the generated models.
const (
	ImageFeed   = "image"
	LabelFeed   = "label"
	ScoresFetch = "scores"
	Acc1Fetch   = "acc1"
	Acc5Fetch   = "acc5"
)

// newRand returns a deterministic random generator for the given seed and stream.
func newRand(seed int64, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), stream))
}

// Dataset writes n random samples, with labels in [0, numClasses), to a new dataset file at path.
// Records are generated in parallel, each with its own random stream, so the contents only depend on seed.
func Dataset(path string, n int64, numClasses int, seed int64) error {
	if numClasses < 1 {
		return errors.Errorf("numClasses must be >= 1, got %d", numClasses)
	}
	w, err := dataset.Create(path, n)
	if err != nil {
		return err
	}
	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for idx := range n {
		g.Go(func() error {
			rng := newRand(seed, uint64(idx))
			sample := &dataset.Sample{
				Image: make([]float32, dataset.ImageSize),
				Label: rng.Int64N(int64(numClasses)),
			}
			for ii := range sample.Image {
				sample.Image[ii] = 2*rng.Float32() - 1
			}
			return w.Set(idx, sample)
		})
	}
	err = g.Wait()
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	klog.V(1).Infof("Wrote %d random samples (%d classes) to %q", n, numClasses, path)
	return nil
}

// builder keeps the state while building a model.
type builder struct {
	p      *program.Program
	rng    *rand.Rand
	varIdx int
}

// tmp declares a new temporary variable.
func (b *builder) tmp(prefix string) string {
	b.varIdx++
	name := fmt.Sprintf("%s_%d.tmp", prefix, b.varIdx)
	b.p.AddVar(name)
	return name
}

// param declares a persistable variable initialized from a normal distribution with the given standard deviation
// (or constant 1 if stddev is negative, or 0 if stddev is 0).
func (b *builder) param(name string, stddev float32, dims ...int) string {
	t := program.NewTensor(dims...)
	for ii := range t.Data {
		switch {
		case stddev < 0:
			t.Data[ii] = 1
		case stddev > 0:
			t.Data[ii] = float32(b.rng.NormFloat64()) * stddev
		}
	}
	b.p.AddParam(name, t)
	return name
}

// heStdDev is the standard deviation for He initialization of a kernel with fanIn inputs.
func heStdDev(fanIn int) float32 {
	return math32.Sqrt(2 / float32(fanIn))
}

// conv adds a convolution (depthwise if groups == inChannels > 1) with a 3x3 (or 1x1) kernel.
func (b *builder) conv(name, x string, inChannels, outChannels, kernel, stride, groups int) string {
	opType := program.OpConv2D
	if groups > 1 && groups == inChannels {
		opType = program.OpDepthwiseConv2D
	}
	filter := b.param(name+"_weights", heStdDev(inChannels/groups*kernel*kernel),
		outChannels, inChannels/groups, kernel, kernel)
	out := b.tmp(name)
	pad := kernel / 2
	b.p.AddOp(opType,
		map[string]string{"Input": x, "Filter": filter},
		map[string]string{"Output": out},
		program.Attrs{
			"strides":           []int{stride, stride},
			"paddings":          []int{pad, pad},
			"dilations":         []int{1, 1},
			"groups":            groups,
			"data_format":       "NCHW",
			"padding_algorithm": "EXPLICIT",
			"use_mkldnn":        false,
			"use_cudnn":         true,
			"fuse_relu":         false,
		})
	return out
}

// batchNorm adds a batch normalization with random statistics, followed by the given activation.
func (b *builder) batchNorm(name, x string, channels int, activation string) string {
	mean := b.param(name+"_bn_mean", 0.1, channels)
	variance := b.param(name+"_bn_variance", -1, channels)
	for ii, v := range b.p.Params[variance].Data {
		b.p.Params[variance].Data[ii] = v + 0.1*b.rng.Float32()
	}
	scale := b.param(name+"_bn_scale", -1, channels)
	bias := b.param(name+"_bn_offset", 0, channels)
	y := b.tmp(name + "_bn")
	b.p.AddOp(program.OpBatchNorm,
		map[string]string{"X": x, "Scale": scale, "Bias": bias, "Mean": mean, "Variance": variance},
		map[string]string{"Y": y},
		program.Attrs{"epsilon": 1e-5, "data_layout": "NCHW", "is_test": true})
	out := b.tmp(name + "_" + activation)
	attrs := program.Attrs{}
	if activation == program.OpRelu6 {
		attrs["threshold"] = 6.0
	}
	b.p.AddOp(activation, map[string]string{"X": y}, map[string]string{"Out": out}, attrs)
	return out
}

// MobileNetLike builds a small MobileNet-like classifier on [batch, 3, 224, 224] images: a strided
// convolution, followed by blocks of depthwise and pointwise convolutions, global average pooling,
// a fully connected layer and softmax.
//
// Parameters:
//
//   - "classes": number of classes. Default 10.
//   - "channels": channels of the first convolution, doubled by each block. Default 8.
//   - "blocks": number of depthwise separable blocks. Default 2.
//   - "with_accuracy": add the label feed and the top-1 and top-5 accuracy fetches. Default false.
//   - "seed": random seed for the weights. Default 0.
func MobileNetLike(params parameters.Params) (*program.Program, error) {
	classes, err := parameters.PopParamOr(params, "classes", 10)
	if err != nil {
		return nil, err
	}
	channels, err := parameters.PopParamOr(params, "channels", 8)
	if err != nil {
		return nil, err
	}
	blocks, err := parameters.PopParamOr(params, "blocks", 2)
	if err != nil {
		return nil, err
	}
	withAccuracy, err := parameters.PopParamOr(params, "with_accuracy", false)
	if err != nil {
		return nil, err
	}
	seed, err := parameters.PopParamOr(params, "seed", int64(0))
	if err != nil {
		return nil, err
	}
	if err = parameters.CheckAllUsed(params, "synthetic model"); err != nil {
		return nil, err
	}
	if classes < 1 || channels < 1 || blocks < 0 {
		return nil, errors.Errorf("invalid synthetic model parameters classes=%d, channels=%d, blocks=%d",
			classes, channels, blocks)
	}

	b := &builder{p: program.New(), rng: newRand(seed, 0)}
	b.p.AddVar(ImageFeed, -1, dataset.Channels, dataset.Height, dataset.Width)
	b.p.Feeds = []string{ImageFeed}

	x := b.conv("conv1", ImageFeed, dataset.Channels, channels, 3, 2, 1)
	x = b.batchNorm("conv1", x, channels, program.OpRelu)
	for block := range blocks {
		name := fmt.Sprintf("conv%d", block+2)
		x = b.conv(name+"_dw", x, channels, channels, 3, 2, channels)
		x = b.batchNorm(name+"_dw", x, channels, program.OpRelu6)
		x = b.conv(name+"_sep", x, channels, 2*channels, 1, 1, 1)
		channels *= 2
		x = b.batchNorm(name+"_sep", x, channels, program.OpRelu)
	}

	pooled := b.tmp("pool")
	b.p.AddOp(program.OpPool2D, map[string]string{"X": x}, map[string]string{"Out": pooled},
		program.Attrs{"pooling_type": "avg", "ksize": []int{1, 1}, "global_pooling": true,
			"strides": []int{1, 1}, "paddings": []int{0, 0}, "exclusive": true, "data_format": "NCHW"})
	flat := b.tmp("flatten")
	b.p.AddOp(program.OpFlatten, map[string]string{"X": pooled}, map[string]string{"Out": flat},
		program.Attrs{"axis": 1})
	fcWeights := b.param("fc_weights", heStdDev(channels), channels, classes)
	logits := b.tmp("fc")
	b.p.AddOp(program.OpMul, map[string]string{"X": flat, "Y": fcWeights}, map[string]string{"Out": logits},
		program.Attrs{"x_num_col_dims": 1, "y_num_col_dims": 1})
	fcBias := b.param("fc_offset", 0.01, classes)
	biased := b.tmp("fc_add")
	b.p.AddOp(program.OpElementwiseAdd, map[string]string{"X": logits, "Y": fcBias},
		map[string]string{"Out": biased}, program.Attrs{"axis": 1})
	b.p.AddVar(ScoresFetch, -1, classes)
	b.p.AddOp(program.OpSoftmax, map[string]string{"X": biased}, map[string]string{"Out": ScoresFetch},
		program.Attrs{"axis": -1})
	b.p.Fetches = []string{ScoresFetch}

	if withAccuracy {
		b.p.AddVar(LabelFeed, -1, 1)
		b.p.Feeds = append(b.p.Feeds, LabelFeed)
		for ii, name := range []string{Acc1Fetch, Acc5Fetch} {
			k := []int{1, 5}[ii]
			b.p.AddVar(name)
			b.p.AddOp(program.OpAccuracy,
				map[string]string{"Out": ScoresFetch, "Label": LabelFeed},
				map[string]string{"Accuracy": name},
				program.Attrs{"k": k})
			b.p.Fetches = append(b.p.Fetches, name)
		}
	}
	if err = b.p.Validate(); err != nil {
		return nil, errors.WithMessage(err, "generated invalid synthetic model")
	}
	klog.V(1).Infof("Generated synthetic model with %d ops (%d depthwise), %d parameters, %d classes",
		len(b.p.Ops), b.p.CountOps(program.OpDepthwiseConv2D), len(b.p.Params), classes)
	return b.p, nil
}
