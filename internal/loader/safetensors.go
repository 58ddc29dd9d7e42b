// Package loader reads model checkpoints in SafeTensors format and maps
// their weights onto module parameters.
package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/kiln-ml/kiln/internal/tensor"
)

// SafeTensors format:
// [8 bytes: header_size (uint64 LE)]
// [header_size bytes: JSON header]
// [tensor data: raw bytes]

// maxHeaderSize bounds the JSON header so a corrupt length prefix cannot
// trigger a huge allocation.
const maxHeaderSize = 100 * 1024 * 1024

// SafeTensorsDType represents supported SafeTensors data types.
type SafeTensorsDType string

// Supported SafeTensors dtypes.
const (
	SafeTensorsF16  SafeTensorsDType = "F16"
	SafeTensorsF32  SafeTensorsDType = "F32"
	SafeTensorsF64  SafeTensorsDType = "F64"
	SafeTensorsBF16 SafeTensorsDType = "BF16"
	SafeTensorsI32  SafeTensorsDType = "I32"
	SafeTensorsI64  SafeTensorsDType = "I64"
	SafeTensorsU8   SafeTensorsDType = "U8"
)

// SafeTensorInfo describes one tensor entry in the header.
type SafeTensorInfo struct {
	DType       SafeTensorsDType `json:"dtype"`
	Shape       []int            `json:"shape"`
	DataOffsets [2]int64         `json:"data_offsets"` // [start, end), relative to data section
}

// safeTensorsHeader is the JSON header: tensor entries plus an optional
// __metadata__ block.
type safeTensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]SafeTensorInfo
}

func (h *safeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]SafeTensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info SafeTensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// SafeTensorsReader reads tensors from a SafeTensors checkpoint file.
type SafeTensorsReader struct {
	file       *os.File
	header     safeTensorsHeader
	dataOffset int64 // offset where the tensor data section starts
	dataSize   int64 // size of the data section
}

// NewSafeTensorsReader opens a SafeTensors file and parses its header.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	//nolint:gosec // G304: checkpoint paths come from the resolved snapshot directory
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}

	var headerSize uint64
	if err := binary.Read(file, binary.LittleEndian, &headerSize); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > maxHeaderSize {
		_ = file.Close()
		return nil, fmt.Errorf("invalid header size: %d (too large)", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header safeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	dataOffset := int64(8 + headerSize) //nolint:gosec // G115: header size bounded above

	return &SafeTensorsReader{
		file:       file,
		header:     header,
		dataOffset: dataOffset,
		dataSize:   stat.Size() - dataOffset,
	}, nil
}

// Close closes the underlying file.
func (r *SafeTensorsReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// Metadata returns the __metadata__ map from the header.
func (r *SafeTensorsReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns the names of all tensors in the file.
func (r *SafeTensorsReader) TensorNames() []string {
	names := make([]string, 0, len(r.header.Tensors))
	for name := range r.header.Tensors {
		names = append(names, name)
	}
	return names
}

// TensorInfo returns the header entry for a tensor.
func (r *SafeTensorsReader) TensorInfo(name string) (*SafeTensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("tensor %s not found", name)
	}
	return &info, nil
}

// readTensorData reads the raw bytes of a tensor after validating its
// offsets against the data section.
func (r *SafeTensorsReader) readTensorData(name string, info *SafeTensorInfo) ([]byte, error) {
	start, end := info.DataOffsets[0], info.DataOffsets[1]
	if start < 0 || end < start || end > r.dataSize {
		return nil, fmt.Errorf("invalid data offsets for tensor %s: [%d, %d]", name, start, end)
	}

	if _, err := r.file.Seek(r.dataOffset+start, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek to tensor data: %w", err)
	}
	data := make([]byte, end-start)
	if _, err := io.ReadFull(r.file, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	return data, nil
}

// LoadTensor loads one tensor by name. Half-precision entries (F16, BF16)
// are widened to float32 so all module parameters stay in one dtype.
func (r *SafeTensorsReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", name, err)
	}

	data, err := r.readTensorData(name, info)
	if err != nil {
		return nil, err
	}

	var dtype tensor.DataType
	switch info.DType {
	case SafeTensorsF32:
		dtype = tensor.Float32
	case SafeTensorsF64:
		dtype = tensor.Float64
	case SafeTensorsI32:
		dtype = tensor.Int32
	case SafeTensorsI64:
		dtype = tensor.Int64
	case SafeTensorsU8:
		dtype = tensor.Uint8
	case SafeTensorsF16:
		return halfToFloat32(name, shape, data, f16ToFloat32)
	case SafeTensorsBF16:
		return halfToFloat32(name, shape, data, bf16ToFloat32)
	default:
		return nil, fmt.Errorf("unsupported dtype for tensor %s: %s", name, info.DType)
	}

	if want := shape.NumElements() * dtype.Size(); len(data) != want {
		return nil, fmt.Errorf("tensor %s: data size %d does not match shape (want %d)", name, len(data), want)
	}

	raw, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor %s: %w", name, err)
	}
	copy(raw.Bytes(), data)
	return raw, nil
}

// LoadAll loads every tensor in the file.
func (r *SafeTensorsReader) LoadAll() (map[string]*tensor.RawTensor, error) {
	out := make(map[string]*tensor.RawTensor, len(r.header.Tensors))
	for name := range r.header.Tensors {
		t, err := r.LoadTensor(name)
		if err != nil {
			return nil, err
		}
		out[name] = t
	}
	return out, nil
}

func halfToFloat32(name string, shape tensor.Shape, data []byte, conv func(uint16) float32) (*tensor.RawTensor, error) {
	if want := shape.NumElements() * 2; len(data) != want {
		return nil, fmt.Errorf("tensor %s: data size %d does not match shape (want %d)", name, len(data), want)
	}
	raw, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor %s: %w", name, err)
	}
	dst := raw.AsFloat32()
	for i := range dst {
		dst[i] = conv(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return raw, nil
}

// f16ToFloat32 widens an IEEE 754 half-precision value.
func f16ToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff

	var bits uint32
	switch {
	case exp == 0 && mant == 0:
		bits = sign << 31
	case exp == 0:
		// Subnormal: normalize by shifting the mantissa up.
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		bits = sign<<31 | e<<23 | (mant&0x3ff)<<13
	case exp == 0x1f:
		bits = sign<<31 | 0xff<<23 | mant<<13
	default:
		bits = sign<<31 | (exp-15+127)<<23 | mant<<13
	}
	return math.Float32frombits(bits)
}

// bf16ToFloat32 widens a bfloat16 value (truncated float32).
func bf16ToFloat32(h uint16) float32 {
	return math.Float32frombits(uint32(h) << 16)
}
