// Package trace implements graph capture: a tensor.Backend that executes
// every operation on the CPU backend while recording the equivalent ONNX
// node stream.
//
// Capture is single-use: build the modules, register their parameters,
// declare the inputs, run one forward pass with placeholder data, declare
// the outputs, then Finalize. Real values flow through the whole pass, so
// every captured shape is concrete and the placeholder contract (pixel
// intensities in [0, 1]) is honored end to end.
package trace

import (
	"fmt"

	"github.com/kiln-ml/kiln/internal/onnx"
	"github.com/kiln-ml/kiln/internal/tensor"
)

// Tracer records ONNX nodes while delegating computation to an inner
// backend. It implements tensor.Backend.
type Tracer struct {
	inner tensor.Backend

	names    map[*tensor.RawTensor]string
	initSet  map[*tensor.RawTensor]bool
	counters map[string]int

	nodes        []onnx.NodeProto
	initializers []onnx.TensorProto
	inputs       []onnx.ValueInfoProto
	outputs      []onnx.ValueInfoProto
}

// New creates a Tracer recording on top of inner (normally the CPU backend).
func New(inner tensor.Backend) *Tracer {
	return &Tracer{
		inner:    inner,
		names:    make(map[*tensor.RawTensor]string),
		initSet:  make(map[*tensor.RawTensor]bool),
		counters: make(map[string]int),
	}
}

// Name returns the backend name.
func (t *Tracer) Name() string {
	return "Trace(" + t.inner.Name() + ")"
}

// Device returns the inner backend's device.
func (t *Tracer) Device() tensor.Device {
	return t.inner.Device()
}

// RegisterParameter names a module weight so it becomes a graph initializer
// instead of an anonymous constant. Must be called before the forward pass.
func (t *Tracer) RegisterParameter(name string, w *tensor.RawTensor) {
	if t.initSet[w] {
		return
	}
	t.names[w] = name
	t.initSet[w] = true
	t.initializers = append(t.initializers, tensorProto(name, w))
}

// Input declares a graph input. dynamicAxes maps axis index to the symbolic
// dimension name ("batch_size", "sequence").
func (t *Tracer) Input(name string, v *tensor.RawTensor, dynamicAxes map[int]string) {
	t.names[v] = name
	t.inputs = append(t.inputs, valueInfo(name, v, dynamicAxes))
}

// Output declares a graph output, renaming the internal value it refers to.
func (t *Tracer) Output(name string, v *tensor.RawTensor, dynamicAxes map[int]string) error {
	internal, ok := t.names[v]
	if !ok {
		return fmt.Errorf("output %q: tensor was not produced by this trace", name)
	}
	if internal != name {
		t.rename(internal, name)
		t.names[v] = name
	}
	t.outputs = append(t.outputs, valueInfo(name, v, dynamicAxes))
	return nil
}

// Finalize assembles the captured graph into a ModelProto.
func (t *Tracer) Finalize(graphName string, opset int64) (*onnx.ModelProto, error) {
	if len(t.inputs) == 0 {
		return nil, fmt.Errorf("trace %q has no declared inputs", graphName)
	}
	if len(t.outputs) == 0 {
		return nil, fmt.Errorf("trace %q has no declared outputs", graphName)
	}
	return &onnx.ModelProto{
		IRVersion:   8,
		OpsetImport: []onnx.OperatorSetID{{Version: opset}},
		Graph: &onnx.GraphProto{
			Name:         graphName,
			Nodes:        t.nodes,
			Inputs:       t.inputs,
			Outputs:      t.outputs,
			Initializers: t.initializers,
		},
	}, nil
}

// rename rewrites a value name across recorded nodes.
func (t *Tracer) rename(from, to string) {
	for i := range t.nodes {
		node := &t.nodes[i]
		for j, in := range node.Inputs {
			if in == from {
				node.Inputs[j] = to
			}
		}
		for j, out := range node.Outputs {
			if out == from {
				node.Outputs[j] = to
			}
		}
	}
}

// valueName returns the recorded name for v, registering v as a constant
// initializer when it has none (masks, shape vectors, scalars).
func (t *Tracer) valueName(v *tensor.RawTensor) string {
	if name, ok := t.names[v]; ok {
		return name
	}
	name := t.fresh("Constant")
	t.names[v] = name
	t.initSet[v] = true
	t.initializers = append(t.initializers, tensorProto(name, v))
	return name
}

// fresh generates a unique value name for an op type.
func (t *Tracer) fresh(opType string) string {
	n := t.counters[opType]
	t.counters[opType]++
	return fmt.Sprintf("%s_%d", opType, n)
}

// record appends a node and names its single output.
func (t *Tracer) record(opType string, inputs []*tensor.RawTensor, output *tensor.RawTensor,
	extraInputs []string, attrs ...onnx.AttributeProto) *tensor.RawTensor {
	nodeName := t.fresh(opType)
	outName := nodeName + "_out"
	t.names[output] = outName

	inNames := make([]string, 0, len(inputs)+len(extraInputs))
	for _, in := range inputs {
		inNames = append(inNames, t.valueName(in))
	}
	inNames = append(inNames, extraInputs...)

	t.nodes = append(t.nodes, onnx.NodeProto{
		Name:       nodeName,
		OpType:     opType,
		Inputs:     inNames,
		Outputs:    []string{outName},
		Attributes: attrs,
	})
	return output
}

// constant registers an ad-hoc tensor as an initializer and returns its name.
func (t *Tracer) constant(v *tensor.RawTensor) string {
	return t.valueName(v)
}

// tensorProto converts a RawTensor into a TensorProto with raw data.
func tensorProto(name string, v *tensor.RawTensor) onnx.TensorProto {
	tp := onnx.TensorProto{
		Name: name,
		Dims: v.Shape().ToInt64(),
	}
	switch v.DType() {
	case tensor.Float32:
		tp.DataType = onnx.TensorProtoFloat
	case tensor.Int64:
		tp.DataType = onnx.TensorProtoInt64
	case tensor.Uint8:
		tp.DataType = onnx.TensorProtoUint8
	default:
		panic(fmt.Sprintf("trace: unsupported initializer dtype %s", v.DType()))
	}
	tp.RawData = append([]byte(nil), v.Bytes()...)
	return tp
}

// valueInfo builds the typed shape description for an input/output.
func valueInfo(name string, v *tensor.RawTensor, dynamicAxes map[int]string) onnx.ValueInfoProto {
	elem := int32(onnx.TensorProtoFloat)
	if v.DType() == tensor.Int64 {
		elem = onnx.TensorProtoInt64
	}

	shape := v.Shape()
	dims := make([]onnx.DimensionProto, len(shape))
	for i, d := range shape {
		if param, ok := dynamicAxes[i]; ok {
			dims[i] = onnx.DimensionProto{DimParam: param}
		} else {
			dims[i] = onnx.DimensionProto{DimValue: int64(d)}
		}
	}

	return onnx.ValueInfoProto{
		Name: name,
		Type: &onnx.TypeProto{TensorType: &onnx.TensorTypeProto{
			ElemType: elem,
			Shape:    &onnx.TensorShapeProto{Dims: dims},
		}},
	}
}
