package dataset

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeSample creates an image where every value encodes the record, channel and position.
func makeSample(idx int, label int64) *Sample {
	image := make([]float32, ImageSize)
	for ii := range image {
		image[ii] = float32(idx) + float32(ii%1000)/1000
	}
	return &Sample{Image: image, Label: label}
}

func collect(t *testing.T, r *Reader) []*Sample {
	var samples []*Sample
	for sample, err := range r.Samples() {
		require.NoError(t, err)
		samples = append(samples, sample)
	}
	return samples
}

func TestReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	want := []*Sample{makeSample(0, 7), makeSample(1, 0), makeSample(2, 999)}
	require.NoError(t, Write(path, want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FileSize(3), info.Size())
	assert.Equal(t, int64(8+3*ImageBytes+3*8), info.Size())

	r := NewReader(path)
	assert.Equal(t, path, r.Path())
	n, err := r.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got := collect(t, r)
	require.Len(t, got, 3)
	for ii := range want {
		assert.Equal(t, want[ii].Label, got[ii].Label)
		assert.True(t, slices.Equal(want[ii].Image, got[ii].Image), "image #%d differs", ii)
	}

	// Restartable: a second pass yields the same.
	got2 := collect(t, r)
	require.Len(t, got2, 3)
	assert.Equal(t, got[2].Label, got2[2].Label)
}

func TestByteLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, Write(path, []*Sample{makeSample(0, 3), makeSample(1, -1)}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ByteOrder.Uint64(raw[0:8]))
	// Labels are after both images.
	assert.Equal(t, uint64(3), ByteOrder.Uint64(raw[LabelsOffset(2, 0):]))
	assert.Equal(t, int64(-1), int64(ByteOrder.Uint64(raw[LabelsOffset(2, 1):])))
}

func TestEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, Write(path, nil))
	assert.Empty(t, collect(t, NewReader(path)))
}

func TestTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, Write(path, []*Sample{makeSample(0, 1), makeSample(1, 2)}))
	// Cut the file in the middle of the labels segment.
	require.NoError(t, os.Truncate(path, FileSize(2)-4))

	var count int
	var lastErr error
	for sample, err := range NewReader(path).Samples() {
		if err != nil {
			lastErr = err
			assert.Nil(t, sample)
			continue
		}
		count++
	}
	assert.Equal(t, 1, count)
	require.Error(t, lastErr)
	assert.True(t, errors.Is(lastErr, io.EOF), "unexpected error %v", lastErr)

	// Header only partially present.
	require.NoError(t, os.Truncate(path, 3))
	_, err := NewReader(path).Count()
	require.Error(t, err)

	// Missing file.
	_, err = NewReader(filepath.Join(t.TempDir(), "missing.bin")).Count()
	require.Error(t, err)
}

func TestBatches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	var samples []*Sample
	for ii := range 5 {
		samples = append(samples, makeSample(ii, int64(ii)))
	}
	require.NoError(t, Write(path, samples))

	var sizes []int
	var labels []int64
	for batch, err := range Batches(NewReader(path).Samples(), 2) {
		require.NoError(t, err)
		sizes = append(sizes, len(batch))
		ib, err := Stack(batch)
		require.NoError(t, err)
		assert.Equal(t, []int{len(batch), Channels, Height, Width}, ib.Dims())
		labels = append(labels, ib.Labels...)
		assert.Equal(t, batch[0].Image[5], ib.Images[5])
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, labels)

	// Early stop.
	var first int
	for range Batches(NewReader(path).Samples(), 0) {
		first++
		break
	}
	assert.Equal(t, 1, first)
}

func TestStackInvalid(t *testing.T) {
	_, err := Stack([]*Sample{{Image: make([]float32, 10)}})
	require.Error(t, err)
}
