// Package rewrite replaces every depthwise convolution of an inference graph by a standard
// convolution with the same bindings and attributes.
//
// The graph is accessed only through the Graph interface, so the pass works on any
// graph representation with an adapter (see package irgraph).
package rewrite

import (
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Operator is an operator node of a Graph.
type Operator interface {
	// Kind of the operator, e.g. "conv2d".
	Kind() string

	// Name identifies the operator in messages.
	Name() string

	// Attrs returns the attributes of the operator. It must not be modified.
	Attrs() program.Attrs
}

// Variable is a variable (tensor) node of a Graph.
type Variable interface {
	Name() string
}

// Graph is a mutable computation graph of operators and variables.
type Graph interface {
	// Operators lists all operator nodes.
	Operators() []Operator

	// ResolveInput returns the variable bound to the named input slot of op.
	// It returns an error wrapping ErrSlotNotFound if there is none.
	ResolveInput(op Operator, slot string) (Variable, error)

	// ResolveOutput returns the variable bound to the named output slot of op.
	// It returns an error wrapping ErrSlotNotFound if there is none.
	ResolveOutput(op Operator, slot string) (Variable, error)

	// CreateOperator adds an operator of the given kind, bound to the given variables, and
	// links the edges input variables -> new operator -> output variables.
	CreateOperator(kind string, attrs program.Attrs, inputs, outputs map[string]Variable) (Operator, error)

	// RemoveOperator removes op and its edges. Variables are kept.
	RemoveOperator(op Operator) error
}

var (
	// ErrSlotNotFound is returned when a matched operator doesn't have one of the slots the rule binds.
	ErrSlotNotFound = errors.New("operator slot not found")

	// ErrIncompatibleAttrs is returned when the attributes of a matched operator are not accepted
	// by the replacement kind.
	ErrIncompatibleAttrs = program.ErrIncompatibleAttrs
)

// Rule replaces every operator of kind From by an operator of kind To, with the same
// attributes and with the listed slots bound to the same variables.
type Rule struct {
	From, To        string
	Inputs, Outputs []string
}

// DepthwiseToConvRule converts depthwise convolutions to standard convolutions. The "groups"
// attribute keeps the convolution depthwise, so the result is numerically equivalent.
var DepthwiseToConvRule = Rule{
	From:    program.OpDepthwiseConv2D,
	To:      program.OpConv2D,
	Inputs:  []string{"Input", "Filter"},
	Outputs: []string{"Output"},
}

// DepthwiseToConv applies DepthwiseToConvRule to g, and returns the number of operators replaced.
func DepthwiseToConv(g Graph) (int, error) {
	return Apply(g, DepthwiseToConvRule)
}

// match is an operator selected for replacement, with its resolved bindings.
type match struct {
	op              Operator
	inputs, outputs map[string]Variable
}

// Apply rule to every matching operator of g, and returns the number of operators replaced.
//
// All matches are resolved and checked before the graph is changed: if any matched operator
// misses a slot or has attributes the replacement doesn't accept, an error is returned and
// g is left untouched.
func Apply(g Graph, rule Rule) (int, error) {
	var matches []*match
	for _, op := range g.Operators() {
		if op.Kind() != rule.From {
			continue
		}
		m := &match{
			op:      op,
			inputs:  make(map[string]Variable, len(rule.Inputs)),
			outputs: make(map[string]Variable, len(rule.Outputs)),
		}
		for _, slot := range rule.Inputs {
			v, err := g.ResolveInput(op, slot)
			if err != nil {
				return 0, errors.WithMessagef(err, "rewriting %s %q", rule.From, op.Name())
			}
			m.inputs[slot] = v
		}
		for _, slot := range rule.Outputs {
			v, err := g.ResolveOutput(op, slot)
			if err != nil {
				return 0, errors.WithMessagef(err, "rewriting %s %q", rule.From, op.Name())
			}
			m.outputs[slot] = v
		}
		if err := program.CheckAttrs(rule.To, op.Attrs()); err != nil {
			return 0, errors.WithMessagef(err, "rewriting %s %q", rule.From, op.Name())
		}
		matches = append(matches, m)
	}

	for _, m := range matches {
		newOp, err := g.CreateOperator(rule.To, m.op.Attrs().Clone(), m.inputs, m.outputs)
		if err != nil {
			return 0, errors.WithMessagef(err, "creating %s to replace %q", rule.To, m.op.Name())
		}
		if err = g.RemoveOperator(m.op); err != nil {
			return 0, errors.WithMessagef(err, "removing %s %q", rule.From, m.op.Name())
		}
		klog.V(2).Infof("Replaced %s %q by %s %q", rule.From, m.op.Name(), rule.To, newOp.Name())
	}
	return len(matches), nil
}
