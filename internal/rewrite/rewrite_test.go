package rewrite_test

import (
	"testing"

	"github.com/janpfeifer/fusebench/internal/irgraph"
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/janpfeifer/fusebench/internal/rewrite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func convAttrs(groups int) program.Attrs {
	return program.Attrs{
		"strides":     []int{1, 1},
		"paddings":    []int{1, 1},
		"dilations":   []int{1, 1},
		"groups":      groups,
		"data_format": "NCHW",
		"use_mkldnn":  false,
	}
}

// depthwiseProgram builds A, B -> depthwise_conv2d -> C -> relu -> D.
func depthwiseProgram() *program.Program {
	p := program.New()
	p.AddVar("A", -1, 4, 8, 8)
	p.AddParam("B", program.NewTensor(4, 1, 3, 3))
	p.AddVar("C", -1, 4, 8, 8)
	p.AddVar("D", -1, 4, 8, 8)
	p.AddOp(program.OpDepthwiseConv2D,
		map[string]string{"Input": "A", "Filter": "B"},
		map[string]string{"Output": "C"}, convAttrs(4))
	p.AddOp(program.OpRelu, map[string]string{"X": "C"}, map[string]string{"Out": "D"}, nil)
	p.Feeds = []string{"A"}
	p.Fetches = []string{"D"}
	return p
}

func TestDepthwiseToConv(t *testing.T) {
	p := depthwiseProgram()
	g, err := irgraph.New(p)
	require.NoError(t, err)
	count, err := rewrite.DepthwiseToConv(g)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := g.ToProgram()
	require.NoError(t, err)
	assert.Equal(t, 0, got.CountOps(program.OpDepthwiseConv2D))
	assert.Equal(t, 1, got.CountOps(program.OpConv2D))
	require.Len(t, got.Ops, 2)
	conv := got.Ops[0]
	assert.Equal(t, program.OpConv2D, conv.Type)
	assert.Equal(t, "A", conv.Input("Input"))
	assert.Equal(t, "B", conv.Input("Filter"))
	assert.Equal(t, "C", conv.Output("Output"))
	assert.Equal(t, p.Ops[0].Attrs, conv.Attrs)
	assert.Equal(t, program.OpRelu, got.Ops[1].Type)

	// Variables are kept, and the parameter value carried over.
	assert.Len(t, got.Vars, 4)
	assert.Same(t, p.Params["B"], got.Params["B"])
	require.NoError(t, got.Validate())

	// Graph node links.
	var convNode *irgraph.OpNode
	for _, node := range g.OpNodes() {
		if node.Kind() == program.OpConv2D {
			convNode = node
		}
	}
	require.NotNil(t, convNode)
	require.Len(t, convNode.Outputs(), 1)
	assert.Equal(t, []*irgraph.OpNode{convNode}, convNode.Outputs()[0].Producers())

	// Running again is a no-op.
	count, err = rewrite.DepthwiseToConv(g)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNoDepthwise(t *testing.T) {
	p := depthwiseProgram()
	p.Ops[0].Type = program.OpConv2D
	g, err := irgraph.New(p)
	require.NoError(t, err)
	count, err := rewrite.DepthwiseToConv(g)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	got, err := g.ToProgram()
	require.NoError(t, err)
	assert.Equal(t, p.Ops, got.Ops)
}

func TestMissingSlot(t *testing.T) {
	p := depthwiseProgram()
	// A second depthwise conv, without a filter.
	p.AddVar("E", -1, 4, 8, 8)
	p.AddOp(program.OpDepthwiseConv2D,
		map[string]string{"Input": "D"},
		map[string]string{"Output": "E"}, convAttrs(4))
	g, err := irgraph.New(p)
	require.NoError(t, err)
	_, err = rewrite.DepthwiseToConv(g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rewrite.ErrSlotNotFound), "unexpected error %+v", err)

	// Graph left untouched: the first depthwise conv was not replaced.
	got, err := g.ToProgram()
	require.NoError(t, err)
	assert.Equal(t, 2, got.CountOps(program.OpDepthwiseConv2D))
	assert.Equal(t, 0, got.CountOps(program.OpConv2D))
}

func TestIncompatibleAttrs(t *testing.T) {
	p := depthwiseProgram()
	p.Ops[0].Attrs["channel_multiplier"] = 2
	g, err := irgraph.New(p)
	require.NoError(t, err)
	_, err = rewrite.DepthwiseToConv(g)
	require.Error(t, err)
	assert.True(t, errors.Is(err, rewrite.ErrIncompatibleAttrs), "unexpected error %+v", err)
	assert.Len(t, g.Operators(), 2)
}
