package irgraph

import (
	"testing"

	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/janpfeifer/fusebench/internal/rewrite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain builds image -> relu -> a -> softmax -> b, with the ops given out of order.
func chain() *program.Program {
	p := program.New()
	p.AddVar("image", -1, 4)
	p.AddVar("a", -1, 4)
	p.AddVar("b", -1, 4)
	p.AddOp(program.OpSoftmax, map[string]string{"X": "a"}, map[string]string{"Out": "b"}, program.Attrs{"axis": -1})
	p.AddOp(program.OpRelu, map[string]string{"X": "image"}, map[string]string{"Out": "a"}, nil)
	p.Feeds = []string{"image"}
	p.Fetches = []string{"b"}
	return p
}

func TestNewAndToProgram(t *testing.T) {
	p := chain()
	g, err := New(p)
	require.NoError(t, err)
	require.Len(t, g.OpNodes(), 2)
	require.Len(t, g.VarNodes(), 3)

	relu := g.OpNodes()[1]
	assert.Equal(t, program.OpRelu, relu.Kind())
	require.Len(t, relu.Inputs(), 1)
	assert.Equal(t, "image", relu.Inputs()[0].Name())
	assert.Equal(t, []*OpNode{relu}, relu.Outputs()[0].Producers())
	assert.Len(t, relu.Outputs()[0].Consumers(), 1)

	// ToProgram orders the ops topologically.
	p2, err := g.ToProgram()
	require.NoError(t, err)
	require.Len(t, p2.Ops, 2)
	assert.Equal(t, program.OpRelu, p2.Ops[0].Type)
	assert.Equal(t, program.OpSoftmax, p2.Ops[1].Type)
	assert.Equal(t, p.Feeds, p2.Feeds)
	assert.Equal(t, p.Fetches, p2.Fetches)
	require.NoError(t, p2.Validate())

	// Original program is not changed.
	assert.Equal(t, program.OpSoftmax, p.Ops[0].Type)
}

func TestResolve(t *testing.T) {
	g, err := New(chain())
	require.NoError(t, err)
	softmax := g.OpNodes()[0]
	v, err := g.ResolveInput(softmax, "X")
	require.NoError(t, err)
	assert.Equal(t, "a", v.Name())
	v, err = g.ResolveOutput(softmax, "Out")
	require.NoError(t, err)
	assert.Equal(t, "b", v.Name())

	_, err = g.ResolveInput(softmax, "Filter")
	require.Error(t, err)
	_, err = g.ResolveOutput(softmax, "Output")
	require.Error(t, err)
}

func TestCreateAndRemove(t *testing.T) {
	g, err := New(chain())
	require.NoError(t, err)
	relu := g.OpNodes()[1]
	in, err := g.ResolveInput(relu, "X")
	require.NoError(t, err)
	out, err := g.ResolveOutput(relu, "Out")
	require.NoError(t, err)

	newOp, err := g.CreateOperator(program.OpRelu6, program.Attrs{"threshold": 6.0},
		map[string]rewrite.Variable{"X": in}, map[string]rewrite.Variable{"Out": out})
	require.NoError(t, err)
	require.NoError(t, g.RemoveOperator(relu))
	assert.Len(t, g.OpNodes(), 2)

	a := out.(*VarNode)
	assert.Len(t, a.Producers(), 1)
	assert.Equal(t, newOp, a.Producers()[0])
	assert.Len(t, in.(*VarNode).Consumers(), 1)

	p, err := g.ToProgram()
	require.NoError(t, err)
	assert.Equal(t, program.OpRelu6, p.Ops[0].Type)
	assert.Equal(t, 6.0, p.Ops[0].Attrs["threshold"])

	// Removing twice fails.
	require.Error(t, g.RemoveOperator(relu))
	// Unknown kind.
	_, err = g.CreateOperator("transmogrify", nil, nil, nil)
	require.Error(t, err)
}

func TestCycle(t *testing.T) {
	p := program.New()
	p.AddVar("a")
	p.AddVar("b")
	p.AddOp(program.OpRelu, map[string]string{"X": "a"}, map[string]string{"Out": "b"}, nil)
	p.AddOp(program.OpRelu, map[string]string{"X": "b"}, map[string]string{"Out": "a"}, nil)
	g, err := New(p)
	require.NoError(t, err)
	_, err = g.ToProgram()
	require.True(t, errors.Is(err, ErrCycle))
}

func TestInvalidProgram(t *testing.T) {
	p := chain()
	p.Fetches = []string{"missing"}
	_, err := New(p)
	require.Error(t, err)
}
