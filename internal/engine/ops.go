package engine

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/janpfeifer/must"
)

// opBuilder builds the graph for one operator. Errors are reported with panics, caught by the executor.
type opBuilder func(op *program.Op, in func(slot string) *Node) map[string]*Node

var opBuilders = map[string]opBuilder{
	program.OpConv2D:          conv2D,
	program.OpDepthwiseConv2D: conv2D,
	program.OpBatchNorm:       batchNorm,
	program.OpRelu: func(_ *program.Op, in func(string) *Node) map[string]*Node {
		return map[string]*Node{"Out": activations.Relu(in("X"))}
	},
	program.OpRelu6: func(op *program.Op, in func(string) *Node) map[string]*Node {
		threshold := must.M1(op.Attrs.Float("threshold", 6))
		return map[string]*Node{"Out": MinScalar(activations.Relu(in("X")), threshold)}
	},
	program.OpElementwiseAdd: elementwiseAdd,
	program.OpPool2D:         pool2D,
	program.OpFlatten:        flatten,
	program.OpMul:            mul,
	program.OpSoftmax: func(op *program.Op, in func(string) *Node) map[string]*Node {
		axis := must.M1(op.Attrs.Int("axis", -1))
		return map[string]*Node{"Out": Softmax(in("X"), axis)}
	},
	program.OpAccuracy: accuracyOp,
}

// buildOp builds op and stores its outputs in values. Parameters are read from the context
// variables (created on first use) in ctx.
func buildOp(ctx *context.Context, p *program.Program, op *program.Op, values map[string]*Node) {
	var g *Graph
	for _, node := range values {
		g = node.Graph()
		break
	}
	in := func(slot string) *Node {
		name := op.Input(slot)
		if name == "" {
			exceptions.Panicf("operator %s has no input %q", op.Type, slot)
		}
		if node, found := values[name]; found {
			return node
		}
		t, found := p.Params[name]
		if !found {
			exceptions.Panicf("operator %s input %q=%q has no value", op.Type, slot, name)
		}
		node := ctx.VariableWithValue(variableName(name), tensors.FromFlatDataAndDimensions(t.Data, t.Dims...)).
			ValueGraph(g)
		values[name] = node
		return node
	}
	outputs := opBuilders[op.Type](op, in)
	for slot, node := range outputs {
		name := op.Output(slot)
		if name == "" {
			exceptions.Panicf("operator %s has no output %q", op.Type, slot)
		}
		values[name] = node
	}
}

// paddingPairs converts paddings given as [h, w] or [top, bottom, left, right] to per-dimension pairs.
func paddingPairs(paddings []int) [][2]int {
	switch len(paddings) {
	case 2:
		return [][2]int{{paddings[0], paddings[0]}, {paddings[1], paddings[1]}}
	case 4:
		return [][2]int{{paddings[0], paddings[1]}, {paddings[2], paddings[3]}}
	}
	exceptions.Panicf("paddings must have 2 or 4 values, got %v", paddings)
	return nil
}

func checkNCHW(op *program.Op, attr string) {
	format := must.M1(op.Attrs.String(attr, "NCHW"))
	if format != "NCHW" && format != "AnyLayout" {
		exceptions.Panicf("operator %s: only NCHW layout supported, got %s=%q", op.Type, attr, format)
	}
}

// conv2D implements both conv2d and depthwise_conv2d: the latter is a grouped convolution
// with groups equal to the number of input channels.
//
// Filter is shaped [outputChannels, inputChannels/groups, kernelHeight, kernelWidth], and is transposed to the
// channels-first kernel layout Convolve takes: [inputChannels/groups, kernelHeight, kernelWidth, outputChannels].
func conv2D(op *program.Op, in func(string) *Node) map[string]*Node {
	checkNCHW(op, "data_format")
	x, filter := in("Input"), in("Filter")
	if x.Rank() != 4 || filter.Rank() != 4 {
		exceptions.Panicf("operator %s requires rank-4 input and filter, got %s and %s",
			op.Type, x.Shape(), filter.Shape())
	}
	strides := must.M1(op.Attrs.Ints("strides", 1, 1))
	dilations := must.M1(op.Attrs.Ints("dilations", 1, 1))
	groups := must.M1(op.Attrs.Int("groups", 1))
	kernel := TransposeAllDims(filter, 1, 2, 3, 0)
	conv := Convolve(x, kernel).ChannelsAxis(images.ChannelsFirst).StridePerDim(strides...).DilationPerDim(dilations...)
	switch must.M1(op.Attrs.String("padding_algorithm", "EXPLICIT")) {
	case "SAME":
		conv = conv.PadSame()
	case "VALID":
		conv = conv.NoPadding()
	default:
		conv = conv.PaddingPerDim(paddingPairs(must.M1(op.Attrs.Ints("paddings", 0, 0))))
	}
	if groups > 1 {
		conv = conv.FeatureGroupCount(groups)
	}
	output := conv.Done()
	if must.M1(op.Attrs.Bool("fuse_relu", false)) {
		output = activations.Relu(output)
	}
	return map[string]*Node{"Output": output}
}

// perChannel reshapes a [channels] vector so it broadcasts over the channels axis (1) of x.
func perChannel(x, v *Node) *Node {
	dims := make([]int, x.Rank())
	for ii := range dims {
		dims[ii] = 1
	}
	dims[1] = v.Shape().Size()
	return BroadcastToDims(Reshape(v, dims...), x.Shape().Dimensions...)
}

// batchNorm in inference mode, using the stored mean and variance.
func batchNorm(op *program.Op, in func(string) *Node) map[string]*Node {
	checkNCHW(op, "data_layout")
	x := in("X")
	if x.Rank() < 2 {
		exceptions.Panicf("batch_norm requires input rank >= 2, got %s", x.Shape())
	}
	epsilon := must.M1(op.Attrs.Float("epsilon", 1e-5))
	invStd := Rsqrt(AddScalar(perChannel(x, in("Variance")), epsilon))
	y := Mul(Sub(x, perChannel(x, in("Mean"))), invStd)
	y = Add(Mul(y, perChannel(x, in("Scale"))), perChannel(x, in("Bias")))
	return map[string]*Node{"Y": y}
}

// elementwiseAdd broadcasts Y into X, aligning Y's axes starting at "axis" (-1 aligns the trailing axes).
func elementwiseAdd(op *program.Op, in func(string) *Node) map[string]*Node {
	x, y := in("X"), in("Y")
	if y.Rank() < x.Rank() {
		axis := must.M1(op.Attrs.Int("axis", -1))
		if axis < 0 {
			axis = x.Rank() - y.Rank()
		}
		if axis+y.Rank() > x.Rank() {
			exceptions.Panicf("elementwise_add: cannot align %s into %s at axis %d", y.Shape(), x.Shape(), axis)
		}
		dims := make([]int, x.Rank())
		for ii := range dims {
			dims[ii] = 1
		}
		copy(dims[axis:], y.Shape().Dimensions)
		y = BroadcastToDims(Reshape(y, dims...), x.Shape().Dimensions...)
	}
	return map[string]*Node{"Out": Add(x, y)}
}

func pool2D(op *program.Op, in func(string) *Node) map[string]*Node {
	checkNCHW(op, "data_format")
	x := in("X")
	if x.Rank() != 4 {
		exceptions.Panicf("pool2d requires rank-4 input, got %s", x.Shape())
	}
	poolingType := must.M1(op.Attrs.String("pooling_type", "max"))
	if poolingType != "max" && poolingType != "avg" {
		exceptions.Panicf("pool2d: unknown pooling_type %q", poolingType)
	}
	var output *Node
	if must.M1(op.Attrs.Bool("global_pooling", false)) {
		if poolingType == "max" {
			output = ReduceMax(x, 2, 3)
		} else {
			output = ReduceMean(x, 2, 3)
		}
		output = Reshape(output, x.Shape().Dim(0), x.Shape().Dim(1), 1, 1)
	} else {
		var pool *PoolBuilder
		if poolingType == "max" {
			pool = MaxPool(x)
		} else {
			pool = MeanPool(x)
		}
		output = pool.ChannelsAxis(images.ChannelsFirst).
			WindowPerAxis(must.M1(op.Attrs.Ints("ksize"))...).
			StridePerAxis(must.M1(op.Attrs.Ints("strides", 1, 1))...).
			PaddingPerDim(paddingPairs(must.M1(op.Attrs.Ints("paddings", 0, 0)))).
			Done()
	}
	return map[string]*Node{"Out": output}
}

// product of the dimensions.
func product(dims []int) int {
	p := 1
	for _, d := range dims {
		p *= d
	}
	return p
}

func flatten(op *program.Op, in func(string) *Node) map[string]*Node {
	x := in("X")
	axis := must.M1(op.Attrs.Int("axis", 1))
	dims := x.Shape().Dimensions
	if axis < 0 || axis > len(dims) {
		exceptions.Panicf("flatten: axis %d out of range for %s", axis, x.Shape())
	}
	return map[string]*Node{"Out": Reshape(x, product(dims[:axis]), product(dims[axis:]))}
}

// mul flattens X and Y into matrices, according to x_num_col_dims and y_num_col_dims, and multiplies them.
func mul(op *program.Op, in func(string) *Node) map[string]*Node {
	x, y := in("X"), in("Y")
	xCols := must.M1(op.Attrs.Int("x_num_col_dims", 1))
	yCols := must.M1(op.Attrs.Int("y_num_col_dims", 1))
	xDims, yDims := x.Shape().Dimensions, y.Shape().Dimensions
	if xCols < 1 || xCols >= len(xDims) || yCols < 1 || yCols >= len(yDims) {
		exceptions.Panicf("mul: invalid x_num_col_dims=%d / y_num_col_dims=%d for shapes %s and %s",
			xCols, yCols, x.Shape(), y.Shape())
	}
	x = Reshape(x, product(xDims[:xCols]), product(xDims[xCols:]))
	y = Reshape(y, product(yDims[:yCols]), product(yDims[yCols:]))
	return map[string]*Node{"Out": Dot(x, y)}
}

// accuracyOp is the fraction of examples whose label is among the top-k scores: an example is a hit
// if fewer than k classes score strictly higher than its label's class.
func accuracyOp(op *program.Op, in func(string) *Node) map[string]*Node {
	scores, labels := in("Out"), in("Label")
	k := must.M1(op.Attrs.Int("k", 1))
	if scores.Rank() != 2 {
		exceptions.Panicf("accuracy requires scores shaped [batch_size, num_classes], got %s", scores.Shape())
	}
	g := scores.Graph()
	batchSize, numClasses := scores.Shape().Dim(0), scores.Shape().Dim(1)
	labels = BroadcastToDims(Reshape(ConvertDType(labels, dtypes.Int64), batchSize, 1), batchSize, numClasses)
	isLabel := Equal(Iota(g, shapes.Make(dtypes.Int64, batchSize, numClasses), 1), labels)
	labelScores := ReduceSum(Where(isLabel, scores, ZerosLike(scores)), 1)
	labelScores = BroadcastToDims(Reshape(labelScores, batchSize, 1), batchSize, numClasses)
	numHigher := ReduceSum(ConvertDType(GreaterThan(scores, labelScores), dtypes.Float32), 1)
	hits := ConvertDType(LessThan(numHigher, Scalar(g, dtypes.Float32, float64(k))), dtypes.Float32)
	return map[string]*Node{"Accuracy": ReduceAllMean(hits)}
}
