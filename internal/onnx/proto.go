// Package onnx implements the subset of the ONNX protobuf format the
// exporter produces and verifies: hand-written message structs, a wire
// encoder, and a wire decoder for post-export verification.
package onnx

// ModelProto represents an ONNX model.
type ModelProto struct {
	IRVersion       int64               // IR version (8 for current exports)
	OpsetImport     []OperatorSetID     // Opset version(s)
	ProducerName    string              // Producing tool name
	ProducerVersion string              // Producing tool version
	Domain          string              // Model domain
	ModelVersion    int64               // Model version number
	DocString       string              // Model description
	Graph           *GraphProto         // Computation graph
	MetadataProps   []StringStringEntry // Key-value metadata
}

// GraphProto represents the computation graph.
type GraphProto struct {
	Name         string           // Graph name
	Nodes        []NodeProto      // Operation nodes, topologically ordered
	Inputs       []ValueInfoProto // Graph inputs
	Outputs      []ValueInfoProto // Graph outputs
	Initializers []TensorProto    // Weight tensors
	DocString    string           // Graph description
}

// NodeProto represents a single operation.
type NodeProto struct {
	Name       string           // Node name
	OpType     string           // Operation type (e.g. "Conv", "MatMul")
	Inputs     []string         // Input tensor names ("" for absent optional inputs)
	Outputs    []string         // Output tensor names
	Attributes []AttributeProto // Operation attributes
	Domain     string           // Custom domain (empty for default)
}

// TensorProto represents a tensor (weights/initializers).
type TensorProto struct {
	Name      string    // Tensor name
	DataType  int32     // Element data type
	Dims      []int64   // Tensor shape
	RawData   []byte    // Raw little-endian binary data
	FloatData []float32 // Float32 data (legacy field)
	Int64Data []int64   // Int64 data (legacy field)
}

// ValueInfoProto describes an input/output tensor specification.
type ValueInfoProto struct {
	Name string
	Type *TypeProto
}

// TypeProto describes a value type.
type TypeProto struct {
	TensorType *TensorTypeProto
}

// TensorTypeProto describes tensor shape and element type.
type TensorTypeProto struct {
	ElemType int32
	Shape    *TensorShapeProto
}

// TensorShapeProto describes tensor dimensions.
type TensorShapeProto struct {
	Dims []DimensionProto
}

// DimensionProto describes a single dimension: either a static value or a
// named dynamic axis (e.g. "batch_size", "sequence").
type DimensionProto struct {
	DimValue int64
	DimParam string
}

// AttributeProto represents a node attribute.
type AttributeProto struct {
	Name    string
	Type    int32
	F       float32
	I       int64
	S       []byte
	Floats  []float32
	Ints    []int64
	Strings [][]byte
}

// OperatorSetID identifies an opset version.
type OperatorSetID struct {
	Domain  string
	Version int64
}

// StringStringEntry represents key-value metadata.
type StringStringEntry struct {
	Key   string
	Value string
}

// ONNX data types (TensorProto.DataType).
const (
	TensorProtoUndefined = 0
	TensorProtoFloat     = 1 // float32
	TensorProtoUint8     = 2
	TensorProtoInt8      = 3
	TensorProtoInt32     = 6
	TensorProtoInt64     = 7
	TensorProtoBool      = 9
	TensorProtoDouble    = 11
)

// ONNX attribute types (AttributeProto.Type).
const (
	AttributeProtoUndefined = 0
	AttributeProtoFloat     = 1
	AttributeProtoInt       = 2
	AttributeProtoString    = 3
	AttributeProtoFloats    = 6
	AttributeProtoInts      = 7
	AttributeProtoStrings   = 8
)

// FloatAttr builds a FLOAT attribute.
func FloatAttr(name string, v float32) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoFloat, F: v}
}

// IntAttr builds an INT attribute.
func IntAttr(name string, v int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInt, I: v}
}

// StringAttr builds a STRING attribute.
func StringAttr(name, v string) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoString, S: []byte(v)}
}

// IntsAttr builds an INTS attribute.
func IntsAttr(name string, vs ...int64) AttributeProto {
	return AttributeProto{Name: name, Type: AttributeProtoInts, Ints: vs}
}
