// Package engine executes inference programs with GoMLX.
//
// The program is translated operator by operator into a GoMLX graph, with the parameters
// stored as variables of a context.Context. The graph is compiled (and cached by GoMLX)
// for each different batch size.
package engine

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/janpfeifer/fusebench/internal/dataset"
	"github.com/janpfeifer/fusebench/internal/generics"
	"github.com/janpfeifer/fusebench/internal/parameters"
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// backend is a singleton, the same for all engines.
	backend = sync.OnceValue(func() backends.Backend { return backends.New() })
)

// ParamsScope is the context scope holding the program parameters as variables.
const ParamsScope = "params"

// Engine runs one program. It is not safe for concurrent use.
type Engine struct {
	prog *program.Program
	ctx  *context.Context

	// donate input buffers to the computation, saving a copy.
	donate bool

	// classifyExec feeds the images only and fetches the scores.
	classifyExec *context.Exec

	// accuracyExec feeds images and labels, and fetches scores, top-1 and top-5 accuracies.
	accuracyExec *context.Exec
}

// New creates an engine for the program.
//
// Supported config parameters:
//
//   - "donate": donate the input buffers to the computation. Default true.
func New(prog *program.Program, config parameters.Params) (*Engine, error) {
	if err := prog.Validate(); err != nil {
		return nil, errors.WithMessage(err, "engine")
	}
	if len(prog.Feeds) < 1 || len(prog.Fetches) < 1 {
		return nil, errors.Errorf("program must have at least one feed and one fetch, got %d and %d",
			len(prog.Feeds), len(prog.Fetches))
	}
	e := &Engine{
		prog: prog,
		ctx:  context.New().Checked(false),
	}
	var err error
	e.donate, err = parameters.PopParamOr(config, "donate", true)
	if err != nil {
		return nil, err
	}
	if err = parameters.CheckAllUsed(config, "engine"); err != nil {
		return nil, err
	}
	for _, op := range prog.Ops {
		if _, found := opBuilders[op.Type]; !found {
			return nil, errors.Errorf("operator type %q not supported by the engine", op.Type)
		}
	}
	e.classifyExec, err = e.newExec(prog.Feeds[:1], prog.Fetches[:1])
	if err != nil {
		return nil, err
	}
	if len(prog.Feeds) >= 2 && len(prog.Fetches) >= 3 {
		e.accuracyExec, err = e.newExec(prog.Feeds[:2], prog.Fetches[:3])
		if err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("Created %s", e)
	return e, nil
}

// String implements fmt.Stringer.
func (e *Engine) String() string {
	return fmt.Sprintf("GoMLX engine[%s, %d ops, feeds=%q, fetches=%q]",
		backend().Name(), len(e.prog.Ops), e.prog.Feeds, e.prog.Fetches)
}

// HasAccuracy returns whether the program computes accuracies: it has a second feed for the labels
// and fetches top-1 and top-5 accuracies after the scores.
func (e *Engine) HasAccuracy() bool {
	return e.accuracyExec != nil
}

// newExec creates the executor for the given feeds and fetches, using only the operators needed.
func (e *Engine) newExec(feeds, fetches []string) (*context.Exec, error) {
	ops, err := neededOps(e.prog, feeds, fetches)
	if err != nil {
		return nil, err
	}
	var exec *context.Exec
	err = exceptions.TryCatch[error](func() {
		exec = context.NewExec(backend(), e.ctx, func(ctx *context.Context, inputs []*graph.Node) []*graph.Node {
			values := make(map[string]*graph.Node, len(e.prog.Vars))
			for ii, name := range feeds {
				values[name] = inputs[ii]
			}
			paramsCtx := ctx.In(ParamsScope)
			for _, op := range ops {
				buildOp(paramsCtx, e.prog, op, values)
			}
			return generics.SliceMap(fetches, func(name string) *graph.Node { return values[name] })
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GoMLX executor")
	}
	return exec, nil
}

// neededOps returns the operators, in program order, needed to compute fetches from feeds.
func neededOps(p *program.Program, feeds, fetches []string) ([]*program.Op, error) {
	available := generics.SetWith(feeds...)
	for _, name := range p.PersistableNames() {
		available.Insert(name)
	}
	producers := make(map[string]*program.Op)
	for _, op := range p.Ops {
		for _, names := range op.Outputs {
			for _, name := range names {
				producers[name] = op
			}
		}
	}
	needed := generics.MakeSet[*program.Op]()
	pending := append([]string(nil), fetches...)
	visited := generics.MakeSet[string]()
	for len(pending) > 0 {
		name := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if visited.Has(name) || available.Has(name) {
			continue
		}
		visited.Insert(name)
		op, found := producers[name]
		if !found {
			return nil, errors.Errorf("variable %q is not fed nor produced by any operator (feeds=%q)", name, feeds)
		}
		needed.Insert(op)
		for _, names := range op.Inputs {
			pending = append(pending, names...)
		}
	}
	var ops []*program.Op
	for _, op := range p.Ops {
		if needed.Has(op) {
			ops = append(ops, op)
		}
	}
	return ops, nil
}

// call executes exec with the given input tensors, converting panics to errors.
func (e *Engine) call(exec *context.Exec, inputs ...*tensors.Tensor) (outputs []*tensors.Tensor, err error) {
	args := generics.SliceMap(inputs, func(t *tensors.Tensor) any {
		if e.donate {
			return graph.DonateTensorBuffer(t, backend())
		}
		return t
	})
	err = exceptions.TryCatch[error](func() {
		outputs = exec.Call(args...)
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to execute program")
	}
	return outputs, nil
}

func imagesTensor(batch *dataset.ImageBatch) *tensors.Tensor {
	return tensors.FromFlatDataAndDimensions(batch.Images, batch.Dims()...)
}

// Classify runs the program on the batch of images and returns the scores of each image: the first fetch,
// reshaped to [batch_size, num_classes].
func (e *Engine) Classify(batch *dataset.ImageBatch) ([][]float32, error) {
	outputs, err := e.call(e.classifyExec, imagesTensor(batch))
	if err != nil {
		return nil, err
	}
	return rows(outputs[0], batch.Size())
}

// ClassifyWithAccuracy runs the program on the batch of images and labels, and returns the top-1 and top-5
// accuracies computed by the program itself (second and third fetches).
func (e *Engine) ClassifyWithAccuracy(batch *dataset.ImageBatch) (acc1, acc5 float64, err error) {
	if e.accuracyExec == nil {
		return 0, 0, errors.Errorf("program has no accuracy operators: it needs 2 feeds (images, labels) and "+
			"3 fetches (scores, top-1, top-5), got feeds=%q and fetches=%q", e.prog.Feeds, e.prog.Fetches)
	}
	labels := tensors.FromFlatDataAndDimensions(batch.Labels, batch.Size(), 1)
	outputs, err := e.call(e.accuracyExec, imagesTensor(batch), labels)
	if err != nil {
		return 0, 0, err
	}
	acc1, err = scalar(outputs[1])
	if err == nil {
		acc5, err = scalar(outputs[2])
	}
	return
}

// rows splits the flat data of t into batchSize rows.
func rows(t *tensors.Tensor, batchSize int) (scores [][]float32, err error) {
	if t.Shape().Rank() == 0 || t.Shape().Dim(0) != batchSize {
		return nil, errors.Errorf("scores shaped %s, expected batch size %d as the leading dimension",
			t.Shape(), batchSize)
	}
	err = exceptions.TryCatch[error](func() {
		tensors.MutableFlatData(t, func(flat []float32) {
			rowSize := len(flat) / batchSize
			scores = make([][]float32, batchSize)
			for ii := range scores {
				scores[ii] = append([]float32(nil), flat[ii*rowSize:(ii+1)*rowSize]...)
			}
		})
	})
	return scores, errors.Wrapf(err, "reading scores shaped %s", t.Shape())
}

func scalar(t *tensors.Tensor) (value float64, err error) {
	err = exceptions.TryCatch[error](func() {
		value = float64(tensors.ToScalar[float32](t))
	})
	return value, errors.Wrapf(err, "reading accuracy shaped %s", t.Shape())
}

// variableName converts a program variable name to a valid context variable name.
func variableName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}
