package onnx

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
)

// Protobuf wire types.
const (
	wireVarint = 0
	wire64Bit  = 1
	wireBytes  = 2
	wire32Bit  = 5
)

// ParseFile parses an ONNX model from a file.
func ParseFile(path string) (*ModelProto, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading back a file this tool just wrote
	if err != nil {
		return nil, fmt.Errorf("read model file: %w", err)
	}
	return Parse(data)
}

// Parse parses an ONNX model from bytes.
func Parse(data []byte) (*ModelProto, error) {
	m := &ModelProto{}
	if err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			return p.varintInto(&m.IRVersion)
		case 2:
			return p.stringInto(&m.ProducerName)
		case 3:
			return p.stringInto(&m.ProducerVersion)
		case 4:
			return p.stringInto(&m.Domain)
		case 5:
			return p.varintInto(&m.ModelVersion)
		case 6:
			return p.stringInto(&m.DocString)
		case 7:
			data, err := p.bytes()
			if err != nil {
				return err
			}
			g, err := parseGraph(data)
			if err != nil {
				return err
			}
			m.Graph = g
			return nil
		case 8:
			data, err := p.bytes()
			if err != nil {
				return err
			}
			opset, err := parseOperatorSetID(data)
			if err != nil {
				return err
			}
			m.OpsetImport = append(m.OpsetImport, opset)
			return nil
		case 14:
			data, err := p.bytes()
			if err != nil {
				return err
			}
			entry, err := parseStringStringEntry(data)
			if err != nil {
				return err
			}
			m.MetadataProps = append(m.MetadataProps, entry)
			return nil
		default:
			return p.skip()
		}
	}); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	return m, nil
}

func parseGraph(data []byte) (*GraphProto, error) {
	g := &GraphProto{}
	err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			return p.messageInto(func(data []byte) error {
				node, err := parseNode(data)
				if err != nil {
					return err
				}
				g.Nodes = append(g.Nodes, node)
				return nil
			})
		case 2:
			return p.stringInto(&g.Name)
		case 5:
			return p.messageInto(func(data []byte) error {
				t, err := parseTensor(data)
				if err != nil {
					return err
				}
				g.Initializers = append(g.Initializers, t)
				return nil
			})
		case 10:
			return p.stringInto(&g.DocString)
		case 11:
			return p.messageInto(func(data []byte) error {
				vi, err := parseValueInfo(data)
				if err != nil {
					return err
				}
				g.Inputs = append(g.Inputs, vi)
				return nil
			})
		case 12:
			return p.messageInto(func(data []byte) error {
				vi, err := parseValueInfo(data)
				if err != nil {
					return err
				}
				g.Outputs = append(g.Outputs, vi)
				return nil
			})
		default:
			return p.skip()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return g, nil
}

func parseNode(data []byte) (NodeProto, error) {
	n := NodeProto{}
	err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			s, err := p.bytes()
			n.Inputs = append(n.Inputs, string(s))
			return err
		case 2:
			s, err := p.bytes()
			n.Outputs = append(n.Outputs, string(s))
			return err
		case 3:
			return p.stringInto(&n.Name)
		case 4:
			return p.stringInto(&n.OpType)
		case 5:
			return p.messageInto(func(data []byte) error {
				attr, err := parseAttribute(data)
				if err != nil {
					return err
				}
				n.Attributes = append(n.Attributes, attr)
				return nil
			})
		case 7:
			return p.stringInto(&n.Domain)
		default:
			return p.skip()
		}
	})
	return n, err
}

func parseTensor(data []byte) (TensorProto, error) {
	t := TensorProto{}
	err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			return p.packedInt64Into(&t.Dims)
		case 2:
			var v int64
			if err := p.varintInto(&v); err != nil {
				return err
			}
			t.DataType = int32(v)
			return nil
		case 4:
			return p.packedFloat32Into(&t.FloatData)
		case 7:
			return p.packedInt64Into(&t.Int64Data)
		case 8:
			return p.stringInto(&t.Name)
		case 9:
			raw, err := p.bytes()
			if err != nil {
				return err
			}
			t.RawData = append([]byte(nil), raw...)
			return nil
		default:
			return p.skip()
		}
	})
	return t, err
}

func parseValueInfo(data []byte) (ValueInfoProto, error) {
	vi := ValueInfoProto{}
	err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			return p.stringInto(&vi.Name)
		case 2:
			return p.messageInto(func(data []byte) error {
				return walkFields(data, func(field int, p *parser) error {
					if field != 1 {
						return p.skip()
					}
					return p.messageInto(func(data []byte) error {
						tt, err := parseTensorType(data)
						if err != nil {
							return err
						}
						vi.Type = &TypeProto{TensorType: tt}
						return nil
					})
				})
			})
		default:
			return p.skip()
		}
	})
	return vi, err
}

func parseTensorType(data []byte) (*TensorTypeProto, error) {
	tt := &TensorTypeProto{}
	err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			var v int64
			if err := p.varintInto(&v); err != nil {
				return err
			}
			tt.ElemType = int32(v)
			return nil
		case 2:
			return p.messageInto(func(data []byte) error {
				shape := &TensorShapeProto{}
				if err := walkFields(data, func(field int, p *parser) error {
					if field != 1 {
						return p.skip()
					}
					return p.messageInto(func(data []byte) error {
						dim := DimensionProto{}
						if err := walkFields(data, func(field int, p *parser) error {
							switch field {
							case 1:
								return p.varintInto(&dim.DimValue)
							case 2:
								return p.stringInto(&dim.DimParam)
							default:
								return p.skip()
							}
						}); err != nil {
							return err
						}
						shape.Dims = append(shape.Dims, dim)
						return nil
					})
				}); err != nil {
					return err
				}
				tt.Shape = shape
				return nil
			})
		default:
			return p.skip()
		}
	})
	return tt, err
}

func parseAttribute(data []byte) (AttributeProto, error) {
	a := AttributeProto{}
	err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			return p.stringInto(&a.Name)
		case 2:
			return p.float32Into(&a.F)
		case 3:
			return p.varintInto(&a.I)
		case 4:
			s, err := p.bytes()
			a.S = append([]byte(nil), s...)
			return err
		case 7:
			return p.packedFloat32Into(&a.Floats)
		case 8:
			return p.packedInt64Into(&a.Ints)
		case 9:
			s, err := p.bytes()
			a.Strings = append(a.Strings, append([]byte(nil), s...))
			return err
		case 20:
			var v int64
			if err := p.varintInto(&v); err != nil {
				return err
			}
			a.Type = int32(v)
			return nil
		default:
			return p.skip()
		}
	})
	return a, err
}

func parseOperatorSetID(data []byte) (OperatorSetID, error) {
	op := OperatorSetID{}
	err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			return p.stringInto(&op.Domain)
		case 2:
			return p.varintInto(&op.Version)
		default:
			return p.skip()
		}
	})
	return op, err
}

func parseStringStringEntry(data []byte) (StringStringEntry, error) {
	entry := StringStringEntry{}
	err := walkFields(data, func(field int, p *parser) error {
		switch field {
		case 1:
			return p.stringInto(&entry.Key)
		case 2:
			return p.stringInto(&entry.Value)
		default:
			return p.skip()
		}
	})
	return entry, err
}

// parser holds decode state for one message's bytes.
type parser struct {
	data     []byte
	pos      int
	wireType int
}

// walkFields iterates a message's fields, invoking fn for each tag.
func walkFields(data []byte, fn func(field int, p *parser) error) error {
	p := &parser{data: data}
	for p.pos < len(p.data) {
		tag, err := p.varint()
		if err != nil {
			return err
		}
		p.wireType = int(tag & 0x7)
		field := int(tag >> 3)
		if err := fn(field, p); err != nil {
			return fmt.Errorf("field %d: %w", field, err)
		}
	}
	return nil
}

func (p *parser) varint() (uint64, error) {
	v, n := binary.Uvarint(p.data[p.pos:])
	if n <= 0 {
		return 0, fmt.Errorf("malformed varint at offset %d", p.pos)
	}
	p.pos += n
	return v, nil
}

func (p *parser) bytes() ([]byte, error) {
	if p.wireType != wireBytes {
		return nil, fmt.Errorf("expected length-delimited field, got wire type %d", p.wireType)
	}
	length, err := p.varint()
	if err != nil {
		return nil, err
	}
	end := p.pos + int(length) //nolint:gosec // bounds checked below
	if end > len(p.data) || end < p.pos {
		return nil, fmt.Errorf("field length %d exceeds buffer", length)
	}
	data := p.data[p.pos:end]
	p.pos = end
	return data, nil
}

func (p *parser) skip() error {
	switch p.wireType {
	case wireVarint:
		_, err := p.varint()
		return err
	case wire64Bit:
		p.pos += 8
	case wireBytes:
		_, err := p.bytes()
		return err
	case wire32Bit:
		p.pos += 4
	default:
		return fmt.Errorf("unsupported wire type %d", p.wireType)
	}
	if p.pos > len(p.data) {
		return fmt.Errorf("truncated field")
	}
	return nil
}

func (p *parser) varintInto(dst *int64) error {
	v, err := p.varint()
	if err != nil {
		return err
	}
	*dst = int64(v) //nolint:gosec // two's-complement varint per protobuf spec
	return nil
}

func (p *parser) stringInto(dst *string) error {
	data, err := p.bytes()
	if err != nil {
		return err
	}
	*dst = string(data)
	return nil
}

func (p *parser) float32Into(dst *float32) error {
	if p.wireType != wire32Bit {
		return fmt.Errorf("expected 32-bit field, got wire type %d", p.wireType)
	}
	if p.pos+4 > len(p.data) {
		return fmt.Errorf("truncated float field")
	}
	*dst = math.Float32frombits(binary.LittleEndian.Uint32(p.data[p.pos:]))
	p.pos += 4
	return nil
}

func (p *parser) messageInto(fn func(data []byte) error) error {
	data, err := p.bytes()
	if err != nil {
		return err
	}
	return fn(data)
}

func (p *parser) packedInt64Into(dst *[]int64) error {
	if p.wireType == wireVarint {
		var v int64
		if err := p.varintInto(&v); err != nil {
			return err
		}
		*dst = append(*dst, v)
		return nil
	}
	data, err := p.bytes()
	if err != nil {
		return err
	}
	sub := &parser{data: data}
	for sub.pos < len(sub.data) {
		var v int64
		if err := sub.varintInto(&v); err != nil {
			return err
		}
		*dst = append(*dst, v)
	}
	return nil
}

func (p *parser) packedFloat32Into(dst *[]float32) error {
	if p.wireType == wire32Bit {
		var v float32
		if err := p.float32Into(&v); err != nil {
			return err
		}
		*dst = append(*dst, v)
		return nil
	}
	data, err := p.bytes()
	if err != nil {
		return err
	}
	for i := 0; i+4 <= len(data); i += 4 {
		*dst = append(*dst, math.Float32frombits(binary.LittleEndian.Uint32(data[i:])))
	}
	return nil
}
