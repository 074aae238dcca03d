// Package emission turns acoustic model output into per-utterance dense
// emission lattices: the open-token column is appended to every frame, and
// each supervision span is cut out of its sequence.
package emission

import (
	"fmt"
	"math"

	"github.com/ieee0824/otcalign/internal/mathutil"
)

// Augment returns a copy of the batch with one extra class per frame: the
// open token score, the log of the mean probability over non-blank classes.
// Every sequence must have the same number of classes V > 1.
func Augment(batch []mathutil.Mat) ([]mathutil.Mat, error) {
	out := make([]mathutil.Mat, len(batch))
	classes := -1
	for b, seq := range batch {
		for t, row := range seq {
			if classes == -1 {
				classes = len(row)
				if classes < 2 {
					return nil, fmt.Errorf("augment: need at least 2 classes, got %d", classes)
				}
			}
			if len(row) != classes {
				return nil, fmt.Errorf("augment: sequence %d frame %d has %d classes, want %d", b, t, len(row), classes)
			}
		}
		aug := mathutil.NewMat(len(seq), classes+1)
		for t, row := range seq {
			AugmentRow(aug[t], row)
		}
		out[b] = aug
	}
	return out, nil
}

// AugmentRow writes row followed by its open-token score into dst, which
// must have len(row)+1 elements.
func AugmentRow(dst, row []float64) {
	v := len(row)
	copy(dst, row)
	dst[v] = mathutil.LogSumExp(row[1:]) - math.Log(float64(v-1))
}
