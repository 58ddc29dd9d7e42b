package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Encode serializes a ModelProto into protobuf wire format.
func Encode(m *ModelProto) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("nil model")
	}
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph")
	}
	e := &encoder{}
	e.writeModelProto(m)
	return e.buf, nil
}

// WriteFile serializes a ModelProto and writes it to path.
func WriteFile(path string, m *ModelProto) error {
	data, err := Encode(m)
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // exported graphs are world-readable artifacts
		return fmt.Errorf("write model file: %w", err)
	}
	return nil
}

// encoder implements a minimal protobuf wire format encoder.
type encoder struct {
	buf []byte
}

func (e *encoder) writeVarint(v uint64) {
	e.buf = binary.AppendUvarint(e.buf, v)
}

func (e *encoder) writeTag(fieldNum int, wireType int) {
	e.writeVarint(uint64(fieldNum)<<3 | uint64(wireType)) //nolint:gosec // field numbers are small constants
}

// writeBytesField writes a length-delimited field.
func (e *encoder) writeBytesField(fieldNum int, data []byte) {
	e.writeTag(fieldNum, wireBytes)
	e.writeVarint(uint64(len(data)))
	e.buf = append(e.buf, data...)
}

func (e *encoder) writeStringField(fieldNum int, s string) {
	if s == "" {
		return
	}
	e.writeBytesField(fieldNum, []byte(s))
}

func (e *encoder) writeVarintField(fieldNum int, v int64) {
	if v == 0 {
		return
	}
	e.writeTag(fieldNum, wireVarint)
	e.writeVarint(uint64(v)) //nolint:gosec // two's-complement varint per protobuf spec
}

func (e *encoder) writeFloatField(fieldNum int, v float32) {
	e.writeTag(fieldNum, wire32Bit)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, math.Float32bits(v))
}

// writeMessage writes a nested message produced by fn as a bytes field.
func (e *encoder) writeMessage(fieldNum int, fn func(*encoder)) {
	sub := &encoder{}
	fn(sub)
	e.writeBytesField(fieldNum, sub.buf)
}

func (e *encoder) writePackedInt64(fieldNum int, vs []int64) {
	if len(vs) == 0 {
		return
	}
	sub := &encoder{}
	for _, v := range vs {
		sub.writeVarint(uint64(v)) //nolint:gosec // two's-complement varint per protobuf spec
	}
	e.writeBytesField(fieldNum, sub.buf)
}

func (e *encoder) writePackedFloat32(fieldNum int, vs []float32) {
	if len(vs) == 0 {
		return
	}
	sub := &encoder{}
	for _, v := range vs {
		sub.buf = binary.LittleEndian.AppendUint32(sub.buf, math.Float32bits(v))
	}
	e.writeBytesField(fieldNum, sub.buf)
}

func (e *encoder) writeModelProto(m *ModelProto) {
	e.writeVarintField(1, m.IRVersion)
	e.writeStringField(2, m.ProducerName)
	e.writeStringField(3, m.ProducerVersion)
	e.writeStringField(4, m.Domain)
	e.writeVarintField(5, m.ModelVersion)
	e.writeStringField(6, m.DocString)
	if m.Graph != nil {
		e.writeMessage(7, func(sub *encoder) { sub.writeGraphProto(m.Graph) })
	}
	for i := range m.OpsetImport {
		op := m.OpsetImport[i]
		e.writeMessage(8, func(sub *encoder) {
			sub.writeStringField(1, op.Domain)
			sub.writeVarintField(2, op.Version)
		})
	}
	for i := range m.MetadataProps {
		entry := m.MetadataProps[i]
		e.writeMessage(14, func(sub *encoder) {
			sub.writeStringField(1, entry.Key)
			sub.writeStringField(2, entry.Value)
		})
	}
}

func (e *encoder) writeGraphProto(g *GraphProto) {
	for i := range g.Nodes {
		node := &g.Nodes[i]
		e.writeMessage(1, func(sub *encoder) { sub.writeNodeProto(node) })
	}
	e.writeStringField(2, g.Name)
	for i := range g.Initializers {
		init := &g.Initializers[i]
		e.writeMessage(5, func(sub *encoder) { sub.writeTensorProto(init) })
	}
	e.writeStringField(10, g.DocString)
	for i := range g.Inputs {
		vi := &g.Inputs[i]
		e.writeMessage(11, func(sub *encoder) { sub.writeValueInfoProto(vi) })
	}
	for i := range g.Outputs {
		vi := &g.Outputs[i]
		e.writeMessage(12, func(sub *encoder) { sub.writeValueInfoProto(vi) })
	}
}

func (e *encoder) writeNodeProto(n *NodeProto) {
	for _, in := range n.Inputs {
		// Optional inputs are encoded as empty strings to keep positions.
		e.writeBytesField(1, []byte(in))
	}
	for _, out := range n.Outputs {
		e.writeBytesField(2, []byte(out))
	}
	e.writeStringField(3, n.Name)
	e.writeStringField(4, n.OpType)
	for i := range n.Attributes {
		attr := &n.Attributes[i]
		e.writeMessage(5, func(sub *encoder) { sub.writeAttributeProto(attr) })
	}
	e.writeStringField(7, n.Domain)
}

func (e *encoder) writeTensorProto(t *TensorProto) {
	e.writePackedInt64(1, t.Dims)
	e.writeVarintField(2, int64(t.DataType))
	e.writePackedFloat32(4, t.FloatData)
	e.writePackedInt64(7, t.Int64Data)
	e.writeStringField(8, t.Name)
	if len(t.RawData) > 0 {
		e.writeBytesField(9, t.RawData)
	}
}

func (e *encoder) writeValueInfoProto(vi *ValueInfoProto) {
	e.writeStringField(1, vi.Name)
	if vi.Type == nil || vi.Type.TensorType == nil {
		return
	}
	tt := vi.Type.TensorType
	e.writeMessage(2, func(typeEnc *encoder) {
		typeEnc.writeMessage(1, func(ttEnc *encoder) {
			ttEnc.writeVarintField(1, int64(tt.ElemType))
			if tt.Shape != nil {
				ttEnc.writeMessage(2, func(shapeEnc *encoder) {
					for _, dim := range tt.Shape.Dims {
						shapeEnc.writeMessage(1, func(dimEnc *encoder) {
							if dim.DimParam != "" {
								dimEnc.writeStringField(2, dim.DimParam)
							} else {
								dimEnc.writeVarintField(1, dim.DimValue)
							}
						})
					}
				})
			}
		})
	})
}

func (e *encoder) writeAttributeProto(a *AttributeProto) {
	e.writeStringField(1, a.Name)
	switch a.Type {
	case AttributeProtoFloat:
		e.writeFloatField(2, a.F)
	case AttributeProtoInt:
		e.writeVarintField(3, a.I)
	case AttributeProtoString:
		e.writeBytesField(4, a.S)
	case AttributeProtoFloats:
		e.writePackedFloat32(7, a.Floats)
	case AttributeProtoInts:
		e.writePackedInt64(8, a.Ints)
	case AttributeProtoStrings:
		for _, s := range a.Strings {
			e.writeBytesField(9, s)
		}
	}
	e.writeVarintField(20, int64(a.Type))
}
