package program

import (
	"github.com/janpfeifer/fusebench/internal/generics"
	"github.com/pkg/errors"
)

// Operator types.
const (
	OpConv2D          = "conv2d"
	OpDepthwiseConv2D = "depthwise_conv2d"
	OpBatchNorm       = "batch_norm"
	OpRelu            = "relu"
	OpRelu6           = "relu6"
	OpElementwiseAdd  = "elementwise_add"
	OpPool2D          = "pool2d"
	OpFlatten         = "flatten"
	OpMul             = "mul"
	OpSoftmax         = "softmax"
	OpAccuracy        = "accuracy"
)

// Schema declares the slots and attributes an operator type accepts.
type Schema struct {
	Inputs, Outputs []string
	Attrs           generics.Set[string]
}

var convAttrs = generics.SetWith(
	"strides", "paddings", "dilations", "groups", "data_format", "padding_algorithm",
	"use_mkldnn", "use_cudnn", "fuse_relu")

// Schemas of the operator types known to the engine.
var Schemas = map[string]*Schema{
	OpConv2D:          {Inputs: []string{"Input", "Filter"}, Outputs: []string{"Output"}, Attrs: convAttrs},
	OpDepthwiseConv2D: {Inputs: []string{"Input", "Filter"}, Outputs: []string{"Output"}, Attrs: convAttrs},
	OpBatchNorm: {
		Inputs:  []string{"X", "Scale", "Bias", "Mean", "Variance"},
		Outputs: []string{"Y"},
		Attrs:   generics.SetWith("epsilon", "data_layout", "is_test"),
	},
	OpRelu:           {Inputs: []string{"X"}, Outputs: []string{"Out"}, Attrs: generics.MakeSet[string]()},
	OpRelu6:          {Inputs: []string{"X"}, Outputs: []string{"Out"}, Attrs: generics.SetWith("threshold")},
	OpElementwiseAdd: {Inputs: []string{"X", "Y"}, Outputs: []string{"Out"}, Attrs: generics.SetWith("axis")},
	OpPool2D: {
		Inputs:  []string{"X"},
		Outputs: []string{"Out"},
		Attrs: generics.SetWith("pooling_type", "ksize", "strides", "paddings", "global_pooling",
			"exclusive", "data_format"),
	},
	OpFlatten: {Inputs: []string{"X"}, Outputs: []string{"Out"}, Attrs: generics.SetWith("axis")},
	OpMul: {
		Inputs:  []string{"X", "Y"},
		Outputs: []string{"Out"},
		Attrs:   generics.SetWith("x_num_col_dims", "y_num_col_dims"),
	},
	OpSoftmax:  {Inputs: []string{"X"}, Outputs: []string{"Out"}, Attrs: generics.SetWith("axis")},
	OpAccuracy: {Inputs: []string{"Out", "Label"}, Outputs: []string{"Accuracy"}, Attrs: generics.SetWith("k")},
}

// ErrIncompatibleAttrs is returned by CheckAttrs when an attribute is not accepted by the operator type.
var ErrIncompatibleAttrs = errors.New("incompatible operator attributes")

// CheckAttrs verifies that every attribute in attrs is declared by the schema of opType.
func CheckAttrs(opType string, attrs Attrs) error {
	schema, found := Schemas[opType]
	if !found {
		return errors.Errorf("unknown operator type %q", opType)
	}
	for _, name := range attrs.Names() {
		if !schema.Attrs.Has(name) {
			return errors.Wrapf(ErrIncompatibleAttrs, "attribute %q not accepted by %q", name, opType)
		}
	}
	return nil
}
