// Package irgraph builds a mutable graph of operator and variable nodes from a program,
// and converts it back.
//
// Graph implements rewrite.Graph.
package irgraph

import (
	"fmt"
	"slices"

	"github.com/janpfeifer/fusebench/internal/generics"
	"github.com/janpfeifer/fusebench/internal/program"
	"github.com/janpfeifer/fusebench/internal/rewrite"
	"github.com/pkg/errors"
)

// OpNode is an operator node. Its inputs are the variables it reads, its outputs the variables it writes.
type OpNode struct {
	id              int
	op              *program.Op
	inputs, outputs []*VarNode
}

// VarNode is a variable node. Its producers are the operators writing it, its consumers the operators reading it.
type VarNode struct {
	id                   int
	v                    *program.Var
	producers, consumers []*OpNode
}

var (
	_ rewrite.Operator = (*OpNode)(nil)
	_ rewrite.Variable = (*VarNode)(nil)
	_ rewrite.Graph    = (*Graph)(nil)
)

// Kind implements rewrite.Operator.
func (n *OpNode) Kind() string { return n.op.Type }

// Name implements rewrite.Operator: the kind followed by the node id.
func (n *OpNode) Name() string { return fmt.Sprintf("%s#%d", n.op.Type, n.id) }

// Attrs implements rewrite.Operator.
func (n *OpNode) Attrs() program.Attrs { return n.op.Attrs }

// Op returns the program operator description.
func (n *OpNode) Op() *program.Op { return n.op }

// Inputs returns the variable nodes read by the operator.
func (n *OpNode) Inputs() []*VarNode { return n.inputs }

// Outputs returns the variable nodes written by the operator.
func (n *OpNode) Outputs() []*VarNode { return n.outputs }

// Name implements rewrite.Variable.
func (n *VarNode) Name() string { return n.v.Name }

// Var returns the program variable description.
func (n *VarNode) Var() *program.Var { return n.v }

// Producers returns the operators writing the variable.
func (n *VarNode) Producers() []*OpNode { return n.producers }

// Consumers returns the operators reading the variable.
func (n *VarNode) Consumers() []*OpNode { return n.consumers }

// Graph of a program.
type Graph struct {
	base   *program.Program
	ops    []*OpNode
	vars   []*VarNode
	byName map[string]*VarNode
	nextID int
}

// New builds the graph of the program. The program itself is not modified by changes to the graph.
func New(p *program.Program) (*Graph, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid program")
	}
	p = p.Clone()
	g := &Graph{base: p, byName: make(map[string]*VarNode, len(p.Vars))}
	for _, v := range p.Vars {
		node := &VarNode{id: g.newID(), v: v}
		g.vars = append(g.vars, node)
		g.byName[v.Name] = node
	}
	for _, op := range p.Ops {
		g.addOp(op)
	}
	return g, nil
}

func (g *Graph) newID() int {
	id := g.nextID
	g.nextID++
	return id
}

// addOp creates the node for op and links it to its variables, in sorted slot order.
func (g *Graph) addOp(op *program.Op) *OpNode {
	node := &OpNode{id: g.newID(), op: op}
	for slot := range generics.SortedKeys(op.Inputs) {
		for _, name := range op.Inputs[slot] {
			v := g.byName[name]
			node.inputs = append(node.inputs, v)
			v.consumers = append(v.consumers, node)
		}
	}
	for slot := range generics.SortedKeys(op.Outputs) {
		for _, name := range op.Outputs[slot] {
			v := g.byName[name]
			node.outputs = append(node.outputs, v)
			v.producers = append(v.producers, node)
		}
	}
	g.ops = append(g.ops, node)
	return node
}

// OpNodes returns all operator nodes, in creation order.
func (g *Graph) OpNodes() []*OpNode { return slices.Clone(g.ops) }

// VarNodes returns all variable nodes, in creation order.
func (g *Graph) VarNodes() []*VarNode { return slices.Clone(g.vars) }

// Operators implements rewrite.Graph.
func (g *Graph) Operators() []rewrite.Operator {
	return generics.SliceMap(g.ops, func(n *OpNode) rewrite.Operator { return n })
}

func (g *Graph) opNode(op rewrite.Operator) (*OpNode, error) {
	node, ok := op.(*OpNode)
	if !ok || !slices.Contains(g.ops, node) {
		return nil, errors.Errorf("operator %s is not part of this graph", op.Name())
	}
	return node, nil
}

func findByName(nodes []*VarNode, name string) *VarNode {
	for _, node := range nodes {
		if node.v.Name == name {
			return node
		}
	}
	return nil
}

// ResolveInput implements rewrite.Graph: the variable is looked up among the operator's inputs.
func (g *Graph) ResolveInput(op rewrite.Operator, slot string) (rewrite.Variable, error) {
	node, err := g.opNode(op)
	if err != nil {
		return nil, err
	}
	name := node.op.Input(slot)
	if name == "" {
		return nil, errors.Wrapf(rewrite.ErrSlotNotFound, "%s has no input %q", node.Name(), slot)
	}
	v := findByName(node.inputs, name)
	if v == nil {
		return nil, errors.Wrapf(rewrite.ErrSlotNotFound, "%s input %q: variable %q not linked",
			node.Name(), slot, name)
	}
	return v, nil
}

// ResolveOutput implements rewrite.Graph: the variable is looked up among all variables of the graph.
func (g *Graph) ResolveOutput(op rewrite.Operator, slot string) (rewrite.Variable, error) {
	node, err := g.opNode(op)
	if err != nil {
		return nil, err
	}
	name := node.op.Output(slot)
	if name == "" {
		return nil, errors.Wrapf(rewrite.ErrSlotNotFound, "%s has no output %q", node.Name(), slot)
	}
	v := findByName(g.vars, name)
	if v == nil {
		return nil, errors.Wrapf(rewrite.ErrSlotNotFound, "%s output %q: variable %q not in graph",
			node.Name(), slot, name)
	}
	return v, nil
}

func (g *Graph) varNodes(bindings map[string]rewrite.Variable) (map[string]string, error) {
	names := make(map[string]string, len(bindings))
	for slot, v := range bindings {
		node, ok := v.(*VarNode)
		if !ok || g.byName[node.v.Name] != node {
			return nil, errors.Errorf("variable %s bound to slot %q is not part of this graph", v.Name(), slot)
		}
		names[slot] = node.v.Name
	}
	return names, nil
}

// CreateOperator implements rewrite.Graph.
func (g *Graph) CreateOperator(kind string, attrs program.Attrs,
	inputs, outputs map[string]rewrite.Variable) (rewrite.Operator, error) {
	if _, found := program.Schemas[kind]; !found {
		return nil, errors.Errorf("unknown operator kind %q", kind)
	}
	inputNames, err := g.varNodes(inputs)
	if err != nil {
		return nil, err
	}
	outputNames, err := g.varNodes(outputs)
	if err != nil {
		return nil, err
	}
	op := &program.Op{
		Type:    kind,
		Inputs:  make(map[string][]string, len(inputNames)),
		Outputs: make(map[string][]string, len(outputNames)),
		Attrs:   attrs,
	}
	for slot, name := range inputNames {
		op.Inputs[slot] = []string{name}
	}
	for slot, name := range outputNames {
		op.Outputs[slot] = []string{name}
	}
	return g.addOp(op), nil
}

// RemoveOperator implements rewrite.Graph.
func (g *Graph) RemoveOperator(op rewrite.Operator) error {
	node, err := g.opNode(op)
	if err != nil {
		return err
	}
	for _, v := range node.inputs {
		v.consumers = slices.DeleteFunc(v.consumers, func(n *OpNode) bool { return n == node })
	}
	for _, v := range node.outputs {
		v.producers = slices.DeleteFunc(v.producers, func(n *OpNode) bool { return n == node })
	}
	g.ops = slices.DeleteFunc(g.ops, func(n *OpNode) bool { return n == node })
	node.inputs, node.outputs = nil, nil
	return nil
}

// ErrCycle is returned by ToProgram if the operators can't be ordered.
var ErrCycle = errors.New("graph has a cycle")

// ToProgram returns a program with the graph's operators in topological order: an operator
// comes after the producers of all its inputs. Ties are broken by node creation order.
func (g *Graph) ToProgram() (*program.Program, error) {
	pending := make(map[*OpNode]int, len(g.ops))
	for _, node := range g.ops {
		deps := generics.MakeSet[*OpNode]()
		for _, v := range node.inputs {
			for _, producer := range v.producers {
				if producer != node {
					deps.Insert(producer)
				}
			}
		}
		pending[node] = len(deps)
	}

	p := &program.Program{
		Feeds:   slices.Clone(g.base.Feeds),
		Fetches: slices.Clone(g.base.Fetches),
		Params:  make(map[string]*program.Tensor, len(g.base.Params)),
	}
	for _, node := range g.vars {
		v := *node.v
		v.Shape = slices.Clone(node.v.Shape)
		p.Vars = append(p.Vars, &v)
		if t, found := g.base.Params[v.Name]; found {
			p.Params[v.Name] = t
		}
	}

	done := generics.MakeSet[*OpNode](len(g.ops))
	for len(done) < len(g.ops) {
		var ready *OpNode
		for _, node := range g.ops { // g.ops is in creation order.
			if !done.Has(node) && pending[node] == 0 {
				ready = node
				break
			}
		}
		if ready == nil {
			return nil, errors.Wrapf(ErrCycle, "%d operators could not be ordered", len(g.ops)-len(done))
		}
		done.Insert(ready)
		p.Ops = append(p.Ops, &program.Op{
			Type:    ready.op.Type,
			Inputs:  cloneSlots(ready.op.Inputs),
			Outputs: cloneSlots(ready.op.Outputs),
			Attrs:   ready.op.Attrs.Clone(),
		})
		// Release the consumers of the outputs, once per distinct consumer.
		released := generics.MakeSet[*OpNode]()
		for _, v := range ready.outputs {
			for _, consumer := range v.consumers {
				if consumer != ready && !released.Has(consumer) {
					released.Insert(consumer)
					pending[consumer]--
				}
			}
		}
	}
	return p, nil
}

func cloneSlots(slots map[string][]string) map[string][]string {
	c := make(map[string][]string, len(slots))
	for slot, names := range slots {
		c[slot] = slices.Clone(names)
	}
	return c
}
