package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiln-ml/kiln/internal/backend/cpu"
	"github.com/kiln-ml/kiln/internal/nn"
	"github.com/kiln-ml/kiln/internal/onnx"
	"github.com/kiln-ml/kiln/internal/tensor"
)

func TestLinearCapture(t *testing.T) {
	tr := New(cpu.New())

	lin := nn.NewLinear(4, 3, true, tr)
	for _, p := range lin.Parameters() {
		tr.RegisterParameter("fc."+p.Name(), p.Tensor())
	}

	x := tensor.Rand(tensor.Shape{2, 4})
	tr.Input("input", x, map[int]string{0: "batch_size"})

	y := lin.Forward(x)
	require.NoError(t, tr.Output("output", y, map[int]string{0: "batch_size"}))

	model, err := tr.Finalize("linear", 13)
	require.NoError(t, err)

	g := model.Graph
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "MatMul", g.Nodes[0].OpType)
	assert.Equal(t, "Add", g.Nodes[1].OpType)

	// The MatMul consumes the declared input and the registered weight.
	assert.Equal(t, []string{"input", "fc.weight"}, g.Nodes[0].Inputs)
	// The Add produces the declared (renamed) output.
	assert.Equal(t, []string{"output"}, g.Nodes[1].Outputs)

	require.Len(t, g.Initializers, 2)
	names := []string{g.Initializers[0].Name, g.Initializers[1].Name}
	assert.ElementsMatch(t, []string{"fc.weight", "fc.bias"}, names)

	require.Len(t, g.Inputs, 1)
	dims := g.Inputs[0].Type.TensorType.Shape.Dims
	require.Len(t, dims, 2)
	assert.Equal(t, "batch_size", dims[0].DimParam)
	assert.Equal(t, int64(4), dims[1].DimValue)
}

func TestCapturedValuesMatchInner(t *testing.T) {
	inner := cpu.New()
	tr := New(inner)

	a := tensor.Rand(tensor.Shape{2, 3})
	b := tensor.Rand(tensor.Shape{2, 3})
	tr.Input("a", a, nil)
	tr.Input("b", b, nil)

	got := tr.Mul(tr.Add(a, b), b)
	want := inner.Mul(inner.Add(a, b), b)
	assert.Equal(t, want.AsFloat32(), got.AsFloat32())
}

func TestResizeNodeInputs(t *testing.T) {
	tr := New(cpu.New())

	x := tensor.Rand(tensor.Shape{1, 2, 4, 4})
	tr.Input("x", x, nil)
	y := tr.Upsample2D(x, 2)
	require.NoError(t, tr.Output("y", y, nil))

	require.Len(t, tr.nodes, 1)
	node := tr.nodes[0]
	assert.Equal(t, "Resize", node.OpType)
	// (X, roi, scales): roi stays empty so scales keeps its position.
	require.Len(t, node.Inputs, 3)
	assert.Equal(t, "x", node.Inputs[0])
	assert.Equal(t, "", node.Inputs[1])

	require.Len(t, tr.initializers, 1)
	scales := tr.initializers[0]
	assert.Equal(t, node.Inputs[2], scales.Name)
	assert.Equal(t, []int64{4}, scales.Dims)
}

func TestReshapeAndConvAttributes(t *testing.T) {
	tr := New(cpu.New())

	x := tensor.Rand(tensor.Shape{1, 3, 8, 8})
	k := tensor.Rand(tensor.Shape{4, 3, 3, 3})
	tr.Input("x", x, nil)
	tr.RegisterParameter("conv.weight", k)

	y := tr.Conv2D(x, k, 2, 1)
	y = tr.Reshape(y, tensor.Shape{1, 4 * 4 * 4})
	require.NoError(t, tr.Output("y", y, nil))

	require.Len(t, tr.nodes, 2)
	conv := tr.nodes[0]
	assert.Equal(t, "Conv", conv.OpType)
	attrs := attrMap(conv.Attributes)
	assert.Equal(t, []int64{3, 3}, attrs["kernel_shape"].Ints)
	assert.Equal(t, []int64{2, 2}, attrs["strides"].Ints)
	assert.Equal(t, []int64{1, 1, 1, 1}, attrs["pads"].Ints)

	reshape := tr.nodes[1]
	assert.Equal(t, "Reshape", reshape.OpType)
	require.Len(t, reshape.Inputs, 2)
	// Shape vector is registered as an int64 initializer.
	var shapeInit *onnx.TensorProto
	for i := range tr.initializers {
		if tr.initializers[i].Name == reshape.Inputs[1] {
			shapeInit = &tr.initializers[i]
		}
	}
	require.NotNil(t, shapeInit)
	assert.Equal(t, int32(onnx.TensorProtoInt64), shapeInit.DataType)
}

func TestOutputOfForeignTensorFails(t *testing.T) {
	tr := New(cpu.New())
	x := tensor.Rand(tensor.Shape{2, 2})
	tr.Input("x", x, nil)

	stranger := tensor.Rand(tensor.Shape{2, 2})
	err := tr.Output("y", stranger, nil)
	require.Error(t, err)
}

func TestFinalizeRoundTrip(t *testing.T) {
	tr := New(cpu.New())

	x := tensor.Rand(tensor.Shape{1, 4})
	tr.Input("x", x, map[int]string{0: "batch_size"})
	y := tr.Softmax(tr.MulScalar(x, 2), -1)
	require.NoError(t, tr.Output("probs", y, map[int]string{0: "batch_size"}))

	model, err := tr.Finalize("demo", 13)
	require.NoError(t, err)
	assert.Equal(t, int64(8), model.IRVersion)
	require.Len(t, model.OpsetImport, 1)
	assert.Equal(t, int64(13), model.OpsetImport[0].Version)

	data, err := onnx.Encode(model)
	require.NoError(t, err)
	back, err := onnx.Parse(data)
	require.NoError(t, err)

	require.Len(t, back.Graph.Nodes, 2)
	assert.Equal(t, "Softmax", back.Graph.Nodes[1].OpType)
	attrs := attrMap(back.Graph.Nodes[1].Attributes)
	assert.Equal(t, int64(1), attrs["axis"].I)
}

func TestReduceMeanAttributes(t *testing.T) {
	tr := New(cpu.New())

	x := tensor.Rand(tensor.Shape{2, 5, 3})
	tr.Input("x", x, nil)
	y := tr.MeanDim(x, 1, false)
	require.NoError(t, tr.Output("y", y, nil))

	require.Len(t, tr.nodes, 1)
	attrs := attrMap(tr.nodes[0].Attributes)
	assert.Equal(t, "ReduceMean", tr.nodes[0].OpType)
	assert.Equal(t, []int64{1}, attrs["axes"].Ints)
	assert.Equal(t, int64(0), attrs["keepdims"].I)
	assert.Equal(t, tensor.Shape{2, 3}, y.Shape())
}

func attrMap(attrs []onnx.AttributeProto) map[string]onnx.AttributeProto {
	m := make(map[string]onnx.AttributeProto, len(attrs))
	for _, a := range attrs {
		m[a.Name] = a
	}
	return m
}
