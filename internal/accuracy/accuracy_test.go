package accuracy

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch(t *testing.T) {
	// Fewer classes than TopK: top-5 covers everything.
	acc1, acc5, err := Batch([][]float32{{0.1, 0.9, 0.2}}, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc1)
	assert.Equal(t, 1.0, acc5)

	scores := [][]float32{
		{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}, // Class 0 is the lowest: out of the top-5.
		{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}, // Class 2 is 5th.
		{0.7, 0.2, 0.3, 0.4, 0.5, 0.6, 0.1}, // Class 0 is top-1.
		{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}, // Class 1 is 6th.
	}
	acc1, acc5, err = Batch(scores, []int64{0, 2, 0, 1})
	require.NoError(t, err)
	assert.Equal(t, 0.25, acc1)
	assert.Equal(t, 0.5, acc5)

	// Single row, label not among the 5 highest.
	acc1, acc5, err = Batch(scores[:1], []int64{0})
	require.NoError(t, err)
	assert.Equal(t, 0.0, acc1)
	assert.Equal(t, 0.0, acc5)
}

func TestTies(t *testing.T) {
	// All equal: the stable ascending order is 0..6, so the top-1 is the last index,
	// and the top-5 are indices 2 to 6.
	equal := []float32{1, 1, 1, 1, 1, 1, 1}
	hit1, hit5 := Hits(equal, 6)
	assert.True(t, hit1)
	assert.True(t, hit5)
	hit1, hit5 = Hits(equal, 0)
	assert.False(t, hit1)
	assert.False(t, hit5)
	hit1, hit5 = Hits(equal, 2)
	assert.False(t, hit1)
	assert.True(t, hit5)
}

func TestErrors(t *testing.T) {
	_, _, err := Batch(nil, nil)
	require.True(t, errors.Is(err, ErrEmptyBatch))
	_, _, err = Batch([][]float32{{1, 2}}, []int64{0, 1})
	require.Error(t, err)
	_, _, err = Batch([][]float32{{}}, []int64{0})
	require.Error(t, err)
}
