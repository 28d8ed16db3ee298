// Package dataset reads and writes the benchmark's binary image classification dataset.
//
// The file layout is:
//
//   - int64 N: number of records.
//   - N images of 3x224x224 float32 values each (channels first), back to back.
//   - N int64 labels, back to back.
//
// All values are in host byte order, there is no version tag nor checksum.
package dataset

import (
	"encoding/binary"
	"io"
	"iter"
	"math"
	"os"

	"github.com/pkg/errors"
)

// Image dimensions.
const (
	Channels = 3
	Height   = 224
	Width    = 224

	// ImageSize is the number of float32 values per image.
	ImageSize = Channels * Height * Width

	// ImageBytes is the size of one image block in the file.
	ImageBytes = ImageSize * 4

	// LabelBytes is the size of one label block in the file.
	LabelBytes = 8

	// HeaderBytes is the size of the record count header.
	HeaderBytes = 8
)

// ByteOrder used by the file format: the host one.
var ByteOrder = binary.NativeEndian

// Sample is one image, shaped [Channels, Height, Width] and flattened, and its class label.
type Sample struct {
	Image []float32
	Label int64
}

// ImagesOffset returns the file offset of the image of record idx.
func ImagesOffset(idx int64) int64 {
	return HeaderBytes + idx*ImageBytes
}

// LabelsOffset returns the file offset of the label of record idx, in a file with n records.
func LabelsOffset(n, idx int64) int64 {
	return HeaderBytes + n*ImageBytes + idx*LabelBytes
}

// FileSize is the expected size of a dataset file with n records.
func FileSize(n int64) int64 {
	return LabelsOffset(n, n)
}

// Reader of a dataset file. It only holds the path: every call to Samples reopens the file.
type Reader struct {
	path string
}

// NewReader returns a Reader for the dataset file at path. The file is not opened until used.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Path of the dataset file.
func (r *Reader) Path() string { return r.path }

// Count reads the number of records from the header.
func (r *Reader) Count() (int64, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open dataset %q", r.path)
	}
	defer func() { _ = f.Close() }()
	return readCount(f, r.path)
}

func readCount(f io.Reader, path string) (int64, error) {
	var n int64
	if err := binary.Read(f, ByteOrder, &n); err != nil {
		return 0, errors.Wrapf(err, "failed to read record count of dataset %q", path)
	}
	if n < 0 {
		return 0, errors.Errorf("dataset %q has an invalid negative record count %d", path, n)
	}
	return n, nil
}

// Samples returns an iterator over the samples of the file, in file order.
//
// Each iteration reopens the file, so the sequence can be restarted. Reading errors
// (including a truncated file) are yielded once, with a nil sample, and end the sequence.
func (r *Reader) Samples() iter.Seq2[*Sample, error] {
	return func(yield func(*Sample, error) bool) {
		f, err := os.Open(r.path)
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to open dataset %q", r.path))
			return
		}
		defer func() { _ = f.Close() }()

		n, err := readCount(f, r.path)
		if err != nil {
			yield(nil, err)
			return
		}
		imageBuf := make([]byte, ImageBytes)
		var labelBuf [LabelBytes]byte
		for idx := range n {
			if _, err := f.ReadAt(imageBuf, ImagesOffset(idx)); err != nil {
				yield(nil, errors.Wrapf(err, "failed to read image #%d of %d from dataset %q", idx, n, r.path))
				return
			}
			if _, err := f.ReadAt(labelBuf[:], LabelsOffset(n, idx)); err != nil {
				yield(nil, errors.Wrapf(err, "failed to read label #%d of %d from dataset %q", idx, n, r.path))
				return
			}
			sample := &Sample{
				Image: decodeImage(imageBuf),
				Label: int64(ByteOrder.Uint64(labelBuf[:])),
			}
			if !yield(sample, nil) {
				return
			}
		}
	}
}

func decodeImage(buf []byte) []float32 {
	image := make([]float32, ImageSize)
	for ii := range image {
		image[ii] = math.Float32frombits(ByteOrder.Uint32(buf[ii*4:]))
	}
	return image
}

func encodeImage(image []float32, buf []byte) {
	for ii, v := range image {
		ByteOrder.PutUint32(buf[ii*4:], math.Float32bits(v))
	}
}
