package dataset

import (
	"iter"

	"github.com/pkg/errors"
)

// Batches groups the samples of seq into batches of batchSize samples. The last batch may be shorter.
// A batchSize < 1 is taken as 1.
//
// An error from seq is yielded (with a nil batch) and ends the sequence: samples already
// collected into a partial batch are dropped.
func Batches(seq iter.Seq2[*Sample, error], batchSize int) iter.Seq2[[]*Sample, error] {
	if batchSize < 1 {
		batchSize = 1
	}
	return func(yield func([]*Sample, error) bool) {
		batch := make([]*Sample, 0, batchSize)
		for sample, err := range seq {
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, sample)
			if len(batch) == batchSize {
				if !yield(batch, nil) {
					return
				}
				batch = make([]*Sample, 0, batchSize)
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// ImageBatch is a batch of samples stacked for execution.
type ImageBatch struct {
	// Images is shaped [Size(), Channels, Height, Width], flattened.
	Images []float32

	// Labels has one label per image.
	Labels []int64
}

// Size returns the number of examples in the batch.
func (b *ImageBatch) Size() int { return len(b.Labels) }

// Dims returns the dimensions of Images.
func (b *ImageBatch) Dims() []int {
	return []int{b.Size(), Channels, Height, Width}
}

// Stack the batch of samples into an ImageBatch.
func Stack(batch []*Sample) (*ImageBatch, error) {
	ib := &ImageBatch{
		Images: make([]float32, len(batch)*ImageSize),
		Labels: make([]int64, len(batch)),
	}
	for ii, sample := range batch {
		if len(sample.Image) != ImageSize {
			return nil, errors.Errorf("sample #%d of batch has %d values, wanted %d (%dx%dx%d)",
				ii, len(sample.Image), ImageSize, Channels, Height, Width)
		}
		copy(ib.Images[ii*ImageSize:], sample.Image)
		ib.Labels[ii] = sample.Label
	}
	return ib, nil
}
