package dataset

import (
	"os"

	"github.com/pkg/errors"
)

// Writer creates a dataset file with a fixed number of records, which can be
// filled in any order, and concurrently, with Set.
type Writer struct {
	f *os.File
	n int64
}

// Create the dataset file at path for n records. The header is written immediately and the
// file is sized to its final length.
func Create(path string, n int64) (*Writer, error) {
	if n < 0 {
		return nil, errors.Errorf("invalid negative number of records %d", n)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create dataset %q", path)
	}
	w := &Writer{f: f, n: n}
	var header [HeaderBytes]byte
	ByteOrder.PutUint64(header[:], uint64(n))
	if _, err = f.WriteAt(header[:], 0); err == nil {
		err = f.Truncate(FileSize(n))
	}
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to initialize dataset %q", path)
	}
	return w, nil
}

// Set writes record idx. It is safe to call concurrently for different records.
func (w *Writer) Set(idx int64, sample *Sample) error {
	if idx < 0 || idx >= w.n {
		return errors.Errorf("record index %d out of range, dataset has %d records", idx, w.n)
	}
	if len(sample.Image) != ImageSize {
		return errors.Errorf("record #%d has %d image values, wanted %d", idx, len(sample.Image), ImageSize)
	}
	buf := make([]byte, ImageBytes)
	encodeImage(sample.Image, buf)
	if _, err := w.f.WriteAt(buf, ImagesOffset(idx)); err != nil {
		return errors.Wrapf(err, "failed to write image #%d to %q", idx, w.f.Name())
	}
	var label [LabelBytes]byte
	ByteOrder.PutUint64(label[:], uint64(sample.Label))
	if _, err := w.f.WriteAt(label[:], LabelsOffset(w.n, idx)); err != nil {
		return errors.Wrapf(err, "failed to write label #%d to %q", idx, w.f.Name())
	}
	return nil
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return errors.Wrapf(err, "failed to sync %q", w.f.Name())
	}
	return errors.Wrapf(w.f.Close(), "failed to close %q", w.f.Name())
}

// Write all samples to a new dataset file at path, sequentially.
func Write(path string, samples []*Sample) error {
	w, err := Create(path, int64(len(samples)))
	if err != nil {
		return err
	}
	for idx, sample := range samples {
		if err = w.Set(int64(idx), sample); err != nil {
			_ = w.Close()
			return err
		}
	}
	return w.Close()
}
