// Package accuracy calculates top-1 and top-5 classification accuracy of a batch of predictions.
package accuracy

import (
	"github.com/janpfeifer/fusebench/internal/generics"
	"github.com/pkg/errors"
)

// TopK is the larger of the two accuracies reported.
const TopK = 5

// ErrEmptyBatch is returned when accuracy is requested for a batch without examples.
var ErrEmptyBatch = errors.New("accuracy of an empty batch is undefined")

// Batch returns the fraction of rows of scores whose label is the highest scored class (acc1),
// and whose label is among the TopK highest scored classes (acc5).
//
// Classes are ranked with a stable ascending sort of the scores: among equal scores the
// higher class index ranks higher.
func Batch(scores [][]float32, labels []int64) (acc1, acc5 float64, err error) {
	if len(scores) == 0 {
		return 0, 0, ErrEmptyBatch
	}
	if len(scores) != len(labels) {
		return 0, 0, errors.Errorf("batch has %d predictions but %d labels", len(scores), len(labels))
	}
	var correct1, correct5 int
	for row, rowScores := range scores {
		if len(rowScores) == 0 {
			return 0, 0, errors.Errorf("prediction #%d has no class scores", row)
		}
		hit1, hit5 := Hits(rowScores, labels[row])
		if hit1 {
			correct1++
		}
		if hit5 {
			correct5++
		}
	}
	total := float64(len(scores))
	return float64(correct1) / total, float64(correct5) / total, nil
}

// Hits returns whether label is the top-1 class of scores, and whether it is among the TopK.
func Hits(scores []float32, label int64) (hit1, hit5 bool) {
	order := generics.SliceOrdering(scores, false)
	top1 := order[len(order)-1]
	hit1 = int64(top1) == label
	top5 := order[max(0, len(order)-TopK):]
	for _, classIdx := range top5 {
		if int64(classIdx) == label {
			hit5 = true
			break
		}
	}
	return
}
