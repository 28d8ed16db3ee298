package program

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// tensorVersion is written in front of every serialized tensor.
const tensorVersion = uint32(0)

// maxRank accepted when decoding a tensor.
const maxRank = 8

// maxElements accepted when decoding a tensor.
const maxElements = math.MaxInt32

// Tensor is the value of a persistable variable: float32 values in row-major order.
type Tensor struct {
	Dims []int
	Data []float32
}

// NewTensor returns a zero tensor with the given dimensions.
func NewTensor(dims ...int) *Tensor {
	return &Tensor{Dims: dims, Data: make([]float32, Size(dims))}
}

// Size returns the number of elements for the given dimensions.
func Size(dims []int) int {
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	return size
}

// WriteTensor serializes t: version (uint32), rank (uint32), dims (int64 each) and
// the float32 values, all little-endian.
func WriteTensor(w io.Writer, t *Tensor) error {
	if Size(t.Dims) != len(t.Data) {
		return errors.Errorf("tensor with dims %v has %d values", t.Dims, len(t.Data))
	}
	header := make([]byte, 8+8*len(t.Dims))
	binary.LittleEndian.PutUint32(header[0:], tensorVersion)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(t.Dims)))
	for ii, dim := range t.Dims {
		binary.LittleEndian.PutUint64(header[8+8*ii:], uint64(dim))
	}
	if _, err := w.Write(header); err != nil {
		return errors.Wrap(err, "failed to write tensor header")
	}
	data := make([]byte, 4*len(t.Data))
	for ii, v := range t.Data {
		binary.LittleEndian.PutUint32(data[4*ii:], math.Float32bits(v))
	}
	_, err := w.Write(data)
	return errors.Wrap(err, "failed to write tensor data")
}

// ReadTensor reads a tensor written by WriteTensor.
func ReadTensor(r io.Reader) (*Tensor, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, errors.Wrap(err, "failed to read tensor header")
	}
	if version := binary.LittleEndian.Uint32(header[0:]); version != tensorVersion {
		return nil, errors.Errorf("unsupported tensor version %d", version)
	}
	rank := binary.LittleEndian.Uint32(header[4:])
	if rank > maxRank {
		return nil, errors.Errorf("invalid tensor rank %d", rank)
	}
	dimsBuf := make([]byte, 8*rank)
	if _, err := io.ReadFull(r, dimsBuf); err != nil {
		return nil, errors.Wrap(err, "failed to read tensor dimensions")
	}
	t := &Tensor{Dims: make([]int, rank)}
	size := int64(1)
	for ii := range t.Dims {
		dim := int64(binary.LittleEndian.Uint64(dimsBuf[8*ii:]))
		if dim < 0 {
			return nil, errors.Errorf("invalid tensor dimension %d", dim)
		}
		t.Dims[ii] = int(dim)
		if dim > 0 && size > maxElements/dim {
			return nil, errors.Errorf("tensor dimensions %v exceed %d elements", t.Dims[:ii+1], maxElements)
		}
		size *= dim
	}
	// The buffer grows as data arrives, so a corrupt header can't trigger a huge allocation.
	data, err := io.ReadAll(io.LimitReader(r, 4*size))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tensor data for dims %v", t.Dims)
	}
	if int64(len(data)) != 4*size {
		return nil, errors.Wrapf(io.ErrUnexpectedEOF, "failed to read tensor data for dims %v: got %d of %d bytes",
			t.Dims, len(data), 4*size)
	}
	t.Data = make([]float32, size)
	for ii := range t.Data {
		t.Data[ii] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*ii:]))
	}
	return t, nil
}

// WriteParams writes the values of all persistable variables, in sorted name order, back to back.
func (p *Program) WriteParams(w io.Writer) error {
	for _, name := range p.PersistableNames() {
		t := p.Params[name]
		if t == nil {
			return errors.Errorf("persistable variable %q has no value", name)
		}
		if err := WriteTensor(w, t); err != nil {
			return errors.WithMessagef(err, "parameter %q", name)
		}
	}
	return nil
}

// ReadParams reads the values of all persistable variables written by WriteParams.
func (p *Program) ReadParams(r io.Reader) error {
	if p.Params == nil {
		p.Params = make(map[string]*Tensor)
	}
	for _, name := range p.PersistableNames() {
		t, err := ReadTensor(r)
		if err != nil {
			return errors.WithMessagef(err, "parameter %q", name)
		}
		p.Params[name] = t
	}
	return nil
}
