// Package program describes an inference program: its variables, the operators connecting them,
// the parameter values of the persistable variables, and which variables are fed and fetched.
//
// A Program is a plain description, the execution is done by the engine package and graph
// mutations by the irgraph package.
package program

import (
	"encoding/json"
	"io"
	"maps"
	"slices"

	"github.com/janpfeifer/fusebench/internal/generics"
	"github.com/pkg/errors"
)

// Var describes a variable (a tensor) of the program.
// Shape may use -1 for the batch dimension.
type Var struct {
	Name        string `json:"name"`
	Shape       []int  `json:"shape,omitempty"`
	Persistable bool   `json:"persistable,omitempty"`
}

// Op describes one operator: its kind (Type), the variables bound to each of its named
// input and output slots, and its attributes.
type Op struct {
	Type    string              `json:"type"`
	Inputs  map[string][]string `json:"inputs"`
	Outputs map[string][]string `json:"outputs"`
	Attrs   Attrs               `json:"attrs,omitempty"`
}

// Input returns the variable bound to the input slot, or "" if the slot is not bound.
func (op *Op) Input(slot string) string {
	return first(op.Inputs[slot])
}

// Output returns the variable bound to the output slot, or "" if the slot is not bound.
func (op *Op) Output(slot string) string {
	return first(op.Outputs[slot])
}

func first(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Program is an inference program.
type Program struct {
	Vars []*Var `json:"vars"`
	Ops  []*Op  `json:"ops"`

	// Feeds are the names of the input variables, in the order they are given.
	Feeds []string `json:"feeds"`

	// Fetches are the names of the output variables, in the order they are returned.
	Fetches []string `json:"fetches"`

	// Params holds the values of the persistable variables. They are not part of the
	// JSON description, see WriteParams and ReadParams.
	Params map[string]*Tensor `json:"-"`
}

// New returns an empty program.
func New() *Program {
	return &Program{Params: make(map[string]*Tensor)}
}

// Var returns the variable with the given name, or nil.
func (p *Program) Var(name string) *Var {
	for _, v := range p.Vars {
		if v.Name == name {
			return v
		}
	}
	return nil
}

// AddVar appends a variable to the program and returns it.
func (p *Program) AddVar(name string, shape ...int) *Var {
	v := &Var{Name: name, Shape: shape}
	p.Vars = append(p.Vars, v)
	return v
}

// AddParam appends a persistable variable with the given value.
func (p *Program) AddParam(name string, value *Tensor) *Var {
	v := p.AddVar(name, value.Dims...)
	v.Persistable = true
	if p.Params == nil {
		p.Params = make(map[string]*Tensor)
	}
	p.Params[name] = value
	return v
}

// AddOp appends an operator to the program and returns it.
func (p *Program) AddOp(opType string, inputs, outputs map[string]string, attrs Attrs) *Op {
	op := &Op{
		Type:    opType,
		Inputs:  make(map[string][]string, len(inputs)),
		Outputs: make(map[string][]string, len(outputs)),
		Attrs:   attrs.Clone(),
	}
	for slot, name := range inputs {
		op.Inputs[slot] = []string{name}
	}
	for slot, name := range outputs {
		op.Outputs[slot] = []string{name}
	}
	p.Ops = append(p.Ops, op)
	return op
}

// PersistableNames returns the sorted names of the persistable variables.
func (p *Program) PersistableNames() []string {
	var names []string
	for _, v := range p.Vars {
		if v.Persistable {
			names = append(names, v.Name)
		}
	}
	slices.Sort(names)
	return names
}

// CountOps returns the number of operators of the given type.
func (p *Program) CountOps(opType string) int {
	var count int
	for _, op := range p.Ops {
		if op.Type == opType {
			count++
		}
	}
	return count
}

// Validate checks that every name used by operators, feeds and fetches is a declared variable,
// that every operator type is known, and that every persistable variable has a value matching its dimensions.
func (p *Program) Validate() error {
	declared := generics.MakeSet[string](len(p.Vars))
	for _, v := range p.Vars {
		if declared.Has(v.Name) {
			return errors.Errorf("variable %q declared more than once", v.Name)
		}
		declared.Insert(v.Name)
		if !v.Persistable {
			continue
		}
		t := p.Params[v.Name]
		if t == nil {
			return errors.Errorf("persistable variable %q has no value", v.Name)
		}
		if Size(t.Dims) != len(t.Data) {
			return errors.Errorf("persistable variable %q with dims %v has %d values", v.Name, t.Dims, len(t.Data))
		}
	}
	for opIdx, op := range p.Ops {
		if _, found := Schemas[op.Type]; !found {
			return errors.Errorf("op #%d has unknown type %q", opIdx, op.Type)
		}
		for _, slots := range []map[string][]string{op.Inputs, op.Outputs} {
			for slot := range generics.SortedKeys(slots) {
				for _, name := range slots[slot] {
					if !declared.Has(name) {
						return errors.Errorf("op #%d (%s) slot %q uses undeclared variable %q",
							opIdx, op.Type, slot, name)
					}
				}
			}
		}
	}
	for _, name := range slices.Concat(p.Feeds, p.Fetches) {
		if !declared.Has(name) {
			return errors.Errorf("feed/fetch variable %q is not declared", name)
		}
	}
	return nil
}

// Clone returns a deep copy of the program description. Parameter tensors are shared,
// since they are never mutated.
func (p *Program) Clone() *Program {
	c := &Program{
		Feeds:   slices.Clone(p.Feeds),
		Fetches: slices.Clone(p.Fetches),
		Params:  maps.Clone(p.Params),
	}
	for _, v := range p.Vars {
		vc := *v
		vc.Shape = slices.Clone(v.Shape)
		c.Vars = append(c.Vars, &vc)
	}
	for _, op := range p.Ops {
		c.Ops = append(c.Ops, &Op{
			Type:    op.Type,
			Inputs:  cloneSlots(op.Inputs),
			Outputs: cloneSlots(op.Outputs),
			Attrs:   op.Attrs.Clone(),
		})
	}
	if c.Params == nil {
		c.Params = make(map[string]*Tensor)
	}
	return c
}

func cloneSlots(slots map[string][]string) map[string][]string {
	c := make(map[string][]string, len(slots))
	for slot, names := range slots {
		c[slot] = slices.Clone(names)
	}
	return c
}

// WriteJSON writes the program description (without parameter values) as JSON.
func (p *Program) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(p), "failed to encode program")
}

// ReadJSON reads a program description written by WriteJSON. Params is left empty.
func ReadJSON(r io.Reader) (*Program, error) {
	p := New()
	if err := json.NewDecoder(r).Decode(p); err != nil {
		return nil, errors.Wrap(err, "failed to decode program")
	}
	for _, op := range p.Ops {
		if op.Inputs == nil {
			op.Inputs = make(map[string][]string)
		}
		if op.Outputs == nil {
			op.Outputs = make(map[string][]string)
		}
		op.Attrs = op.Attrs.normalize()
	}
	return p, nil
}
