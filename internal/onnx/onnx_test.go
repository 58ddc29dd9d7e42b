package onnx

import (
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float32LE(vs ...float32) []byte {
	out := make([]byte, 0, len(vs)*4)
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func buildTestModel() *ModelProto {
	return &ModelProto{
		IRVersion:       8,
		ProducerName:    "kiln",
		ProducerVersion: "0.1.0",
		OpsetImport:     []OperatorSetID{{Version: 13}},
		MetadataProps:   []StringStringEntry{{Key: "conversion_id", Value: "test"}},
		Graph: &GraphProto{
			Name: "matmul_bias",
			Nodes: []NodeProto{
				{
					Name:    "MatMul_0",
					OpType:  "MatMul",
					Inputs:  []string{"input", "weight"},
					Outputs: []string{"mm_0"},
				},
				{
					Name:    "Add_1",
					OpType:  "Add",
					Inputs:  []string{"mm_0", "bias"},
					Outputs: []string{"output"},
					Attributes: []AttributeProto{
						IntAttr("axis", 1),
						IntsAttr("pads", 0, 1, 0, 1),
						FloatAttr("alpha", 0.5),
						StringAttr("mode", "nearest"),
					},
				},
			},
			Inputs: []ValueInfoProto{{
				Name: "input",
				Type: &TypeProto{TensorType: &TensorTypeProto{
					ElemType: TensorProtoFloat,
					Shape: &TensorShapeProto{Dims: []DimensionProto{
						{DimParam: "batch_size"},
						{DimValue: 4},
					}},
				}},
			}},
			Outputs: []ValueInfoProto{{
				Name: "output",
				Type: &TypeProto{TensorType: &TensorTypeProto{
					ElemType: TensorProtoFloat,
					Shape: &TensorShapeProto{Dims: []DimensionProto{
						{DimParam: "batch_size"},
						{DimValue: 2},
					}},
				}},
			}},
			Initializers: []TensorProto{
				{
					Name:     "weight",
					DataType: TensorProtoFloat,
					Dims:     []int64{4, 2},
					RawData:  float32LE(1, 2, 3, 4, 5, 6, 7, 8),
				},
				{
					Name:     "bias",
					DataType: TensorProtoFloat,
					Dims:     []int64{2},
					RawData:  float32LE(0.1, -0.2),
				},
			},
		},
	}
}

func TestEncodeParseRoundTrip(t *testing.T) {
	model := buildTestModel()

	data, err := Encode(model)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	parsed, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, int64(8), parsed.IRVersion)
	assert.Equal(t, "kiln", parsed.ProducerName)
	require.Len(t, parsed.OpsetImport, 1)
	assert.Equal(t, int64(13), parsed.OpsetImport[0].Version)
	require.Len(t, parsed.MetadataProps, 1)
	assert.Equal(t, "conversion_id", parsed.MetadataProps[0].Key)

	g := parsed.Graph
	require.NotNil(t, g)
	assert.Equal(t, "matmul_bias", g.Name)
	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "MatMul", g.Nodes[0].OpType)
	assert.Equal(t, []string{"input", "weight"}, g.Nodes[0].Inputs)
	assert.Equal(t, []string{"output"}, g.Nodes[1].Outputs)

	require.Len(t, g.Initializers, 2)
	assert.Equal(t, []int64{4, 2}, g.Initializers[0].Dims)
	assert.Equal(t, float32LE(1, 2, 3, 4, 5, 6, 7, 8), g.Initializers[0].RawData)
}

func TestRoundTripDynamicAxes(t *testing.T) {
	data, err := Encode(buildTestModel())
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	in := parsed.Graph.Inputs[0]
	require.NotNil(t, in.Type)
	require.NotNil(t, in.Type.TensorType)
	dims := in.Type.TensorType.Shape.Dims
	require.Len(t, dims, 2)
	assert.Equal(t, "batch_size", dims[0].DimParam)
	assert.Equal(t, int64(4), dims[1].DimValue)
}

func TestRoundTripAttributes(t *testing.T) {
	data, err := Encode(buildTestModel())
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)

	attrs := parsed.Graph.Nodes[1].Attributes
	require.Len(t, attrs, 4)

	byName := map[string]AttributeProto{}
	for _, a := range attrs {
		byName[a.Name] = a
	}

	assert.Equal(t, int64(1), byName["axis"].I)
	assert.Equal(t, []int64{0, 1, 0, 1}, byName["pads"].Ints)
	assert.Equal(t, float32(0.5), byName["alpha"].F)
	assert.Equal(t, "nearest", string(byName["mode"].S))
}

func TestWriteAndParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")

	require.NoError(t, WriteFile(path, buildTestModel()))

	parsed, err := ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "matmul_bias", parsed.Graph.Name)
}

func TestEncodeRejectsNilGraph(t *testing.T) {
	_, err := Encode(&ModelProto{IRVersion: 8})
	assert.Error(t, err)

	_, err = Encode(nil)
	assert.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
