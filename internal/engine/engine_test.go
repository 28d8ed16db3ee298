package engine

import (
	"slices"
	"strings"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/fusebench/internal/accuracy"
	"github.com/janpfeifer/fusebench/internal/dataset"
	"github.com/janpfeifer/fusebench/internal/generics"
	"github.com/janpfeifer/fusebench/internal/irgraph"
	"github.com/janpfeifer/fusebench/internal/parameters"
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/janpfeifer/fusebench/internal/rewrite"
	"github.com/janpfeifer/fusebench/internal/synthetic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/gomlx/gomlx/backends/default"
)

// constantImages creates a batch where channel c of image i is filled with values[i][c].
func constantImages(values [][3]float32, labels []int64) *dataset.ImageBatch {
	batch := &dataset.ImageBatch{
		Images: make([]float32, len(values)*dataset.ImageSize),
		Labels: labels,
	}
	planeSize := dataset.Height * dataset.Width
	for ii, channels := range values {
		image := batch.Images[ii*dataset.ImageSize : (ii+1)*dataset.ImageSize]
		for c, v := range channels {
			for jj := range planeSize {
				image[c*planeSize+jj] = v
			}
		}
	}
	return batch
}

// skipIfUnsupported skips the test if the backend doesn't implement some operation, e.g. the pure Go
// backend has no convolutions.
func skipIfUnsupported(t *testing.T, err error) {
	if err != nil && strings.Contains(err.Error(), "not implemented") {
		t.Skipf("Backend %q doesn't support the operation: %v", backend().Name(), err)
	}
}

// poolingClassifier scores 3 classes with the average of each channel.
func poolingClassifier() *program.Program {
	p := program.New()
	p.AddVar("image", -1, 3, 224, 224)
	p.AddVar("label", -1, 1)
	for _, name := range []string{"pooled", "scores", "acc1", "acc5"} {
		p.AddVar(name)
	}
	p.AddOp(program.OpPool2D, map[string]string{"X": "image"}, map[string]string{"Out": "pooled"},
		program.Attrs{"pooling_type": "avg", "global_pooling": true})
	p.AddOp(program.OpFlatten, map[string]string{"X": "pooled"}, map[string]string{"Out": "scores"},
		program.Attrs{"axis": 1})
	p.AddOp(program.OpAccuracy, map[string]string{"Out": "scores", "Label": "label"},
		map[string]string{"Accuracy": "acc1"}, program.Attrs{"k": 1})
	p.AddOp(program.OpAccuracy, map[string]string{"Out": "scores", "Label": "label"},
		map[string]string{"Accuracy": "acc5"}, program.Attrs{"k": 2})
	p.Feeds = []string{"image", "label"}
	p.Fetches = []string{"scores", "acc1", "acc5"}
	return p
}

func TestAccuracyOp(t *testing.T) {
	e, err := New(poolingClassifier(), parameters.NewFromConfigString("donate=false"))
	require.NoError(t, err)
	require.True(t, e.HasAccuracy())

	batch := constantImages([][3]float32{{0.1, 0.7, 0.2}, {0.5, 0.3, 0.2}, {0.2, 0.3, 0.5}, {0.6, 0.3, 0.1}},
		[]int64{1, 1, 0, 2})
	scores, err := e.Classify(batch)
	skipIfUnsupported(t, err)
	require.NoError(t, err)
	require.Len(t, scores, 4)
	assert.InDeltaSlice(t, []float32{0.1, 0.7, 0.2}, scores[0], 1e-3)

	acc1, acc2, err := e.ClassifyWithAccuracy(batch)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, acc1, 1e-6)
	assert.InDelta(t, 0.5, acc2, 1e-6)

	// Top-1 agrees with the accuracy calculator.
	want1, _, err := accuracy.Batch(scores, batch.Labels)
	require.NoError(t, err)
	assert.InDelta(t, want1, acc1, 1e-6)
}

func TestUnsupported(t *testing.T) {
	p := poolingClassifier()
	p.Feeds = p.Feeds[:1]
	p.Fetches = p.Fetches[:1]
	e, err := New(p, nil)
	require.NoError(t, err)
	assert.False(t, e.HasAccuracy())
	_, _, err = e.ClassifyWithAccuracy(constantImages([][3]float32{{1, 2, 3}}, []int64{0}))
	require.Error(t, err)

	_, err = New(poolingClassifier(), parameters.NewFromConfigString("unknown_option"))
	require.Error(t, err)

	p = poolingClassifier()
	p.Fetches = []string{"acc1"}
	p.Feeds = []string{"image"}
	_, err = New(p, nil)
	require.Error(t, err, "acc1 requires the label feed")
}

func TestDepthwiseRewriteEquivalence(t *testing.T) {
	prog, err := synthetic.MobileNetLike(parameters.NewFromConfigString("classes=5,channels=4,blocks=2,seed=3"))
	require.NoError(t, err)
	g, err := irgraph.New(prog)
	require.NoError(t, err)
	count, err := rewrite.DepthwiseToConv(g)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	fused, err := g.ToProgram()
	require.NoError(t, err)
	require.Zero(t, fused.CountOps(program.OpDepthwiseConv2D))

	batch := constantImages([][3]float32{{0.1, -0.3, 0.5}, {0.9, 0.2, -0.4}}, []int64{0, 4})
	for ii := range batch.Images {
		batch.Images[ii] += float32(ii%17) * 0.01
	}
	var results [][][]float32
	for _, p := range []*program.Program{prog, fused} {
		e, err := New(p, parameters.NewFromConfigString("donate=false"))
		require.NoError(t, err)
		scores, err := e.Classify(batch)
		skipIfUnsupported(t, err)
		require.NoError(t, err)
		require.Len(t, scores, 2)
		for _, row := range scores {
			require.Len(t, row, 5)
			var sum float32
			for _, v := range row {
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-4)
		}
		results = append(results, scores)
	}
	for ii := range results[0] {
		assert.InDeltaSlice(t, results[0][ii], results[1][ii], 1e-4)
	}
}

// runOp executes a single operator: inputs are bound to the slots in order, and the output in outSlot is
// returned as flat data with its dimensions.
func runOp(op *program.Op, slots []string, outSlot string, inputs ...*tensors.Tensor) (
	output []float32, dims []int, err error) {
	exec := graph.NewExec(backend(), func(nodes []*graph.Node) *graph.Node {
		return opBuilders[op.Type](op, func(slot string) *graph.Node {
			return nodes[slices.Index(slots, slot)]
		})[outSlot]
	})
	err = exceptions.TryCatch[error](func() {
		outputs := exec.Call(generics.SliceMap(inputs, func(t *tensors.Tensor) any { return t })...)
		dims = outputs[0].Shape().Dimensions
		output = tensors.CopyFlatData[float32](outputs[0])
	})
	return
}

func TestConv2D(t *testing.T) {
	// Channel 0 is 1...9, channel 1 is the identity matrix.
	x := []float32{
		1, 2, 3, 4, 5, 6, 7, 8, 9,
		1, 0, 0, 0, 1, 0, 0, 0, 1,
	}
	testCases := []struct {
		name       string
		channels   int
		attrs      program.Attrs
		filter     []float32
		filterDims []int
		wantDims   []int
		want       []float32
	}{
		{
			// Output 0 picks the top-left of channel 0, output 1 adds the top-right of channel 0 to twice the
			// bottom-right of channel 1.
			name:     "dense",
			channels: 2,
			attrs:    program.Attrs{},
			filter: []float32{
				1, 0, 0, 0,
				0, 0, 0, 0,
				0, 1, 0, 0,
				0, 0, 0, 2,
			},
			filterDims: []int{2, 2, 2, 2},
			wantDims:   []int{1, 2, 2, 2},
			want:       []float32{1, 2, 4, 5, 4, 3, 5, 8},
		},
		{
			name:       "depthwise",
			channels:   2,
			attrs:      program.Attrs{"groups": 2},
			filter:     []float32{1, 0, 0, 1, 0, 0, 1, 1},
			filterDims: []int{2, 1, 2, 2},
			wantDims:   []int{1, 2, 2, 2},
			want:       []float32{6, 8, 12, 14, 1, 1, 0, 1},
		},
		{
			// Sums of the 3x3 neighbourhoods of the corners of channel 0.
			name:       "padded and strided",
			channels:   1,
			attrs:      program.Attrs{"paddings": []int{1, 1}, "strides": []int{2, 2}},
			filter:     []float32{1, 1, 1, 1, 1, 1, 1, 1, 1},
			filterDims: []int{1, 1, 3, 3},
			wantDims:   []int{1, 1, 2, 2},
			want:       []float32{12, 16, 24, 28},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			op := &program.Op{Type: program.OpConv2D, Attrs: tc.attrs}
			output, dims, err := runOp(op, []string{"Input", "Filter"}, "Output",
				tensors.FromFlatDataAndDimensions(x[:9*tc.channels], 1, tc.channels, 3, 3),
				tensors.FromFlatDataAndDimensions(tc.filter, tc.filterDims...))
			skipIfUnsupported(t, err)
			require.NoError(t, err)
			assert.Equal(t, tc.wantDims, dims)
			assert.InDeltaSlice(t, tc.want, output, 1e-5)
		})
	}
}

func TestPool2D(t *testing.T) {
	// One 4x4 channel with values 1...16.
	x := make([]float32, 16)
	for ii := range x {
		x[ii] = float32(ii + 1)
	}
	input := tensors.FromFlatDataAndDimensions(x, 1, 1, 4, 4)
	for _, tc := range []struct {
		poolingType string
		want        []float32
	}{
		{"max", []float32{6, 8, 14, 16}},
		{"avg", []float32{3.5, 5.5, 11.5, 13.5}},
	} {
		t.Run(tc.poolingType, func(t *testing.T) {
			op := &program.Op{Type: program.OpPool2D, Attrs: program.Attrs{
				"pooling_type": tc.poolingType, "ksize": []int{2, 2}, "strides": []int{2, 2}}}
			output, dims, err := runOp(op, []string{"X"}, "Out", input)
			skipIfUnsupported(t, err)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 1, 2, 2}, dims)
			assert.InDeltaSlice(t, tc.want, output, 1e-5)
		})
	}
}
