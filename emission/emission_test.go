package emission

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ieee0824/otcalign/internal/mathutil"
)

func logRow(probs ...float64) []float64 {
	row := make([]float64, len(probs))
	for i, p := range probs {
		row[i] = math.Log(p)
	}
	return row
}

func TestAugmentAppendsMeanNonBlankMass(t *testing.T) {
	batch := []mathutil.Mat{{logRow(0.5, 0.3, 0.2)}}

	aug, err := Augment(batch)
	require.NoError(t, err)
	require.Len(t, aug, 1)
	require.Len(t, aug[0][0], 4)

	assert.Equal(t, batch[0][0], aug[0][0][:3])
	assert.InDelta(t, math.Log(0.25), aug[0][0][3], 1e-12)
}

func TestAugmentDoesNotModifyInput(t *testing.T) {
	batch := []mathutil.Mat{{logRow(0.1, 0.9)}}
	orig := append([]float64(nil), batch[0][0]...)

	_, err := Augment(batch)
	require.NoError(t, err)
	assert.Equal(t, orig, batch[0][0])
}

func TestAugmentRejectsSingleClassAndRaggedRows(t *testing.T) {
	_, err := Augment([]mathutil.Mat{{{0}}})
	assert.Error(t, err)

	_, err = Augment([]mathutil.Mat{{logRow(0.5, 0.5), logRow(0.2, 0.3, 0.5)}})
	assert.Error(t, err)
}

func TestAugmentStableForTinyProbabilities(t *testing.T) {
	row := []float64{0, -900, -901, -902}
	aug, err := Augment([]mathutil.Mat{{row}})
	require.NoError(t, err)

	open := aug[0][0][4]
	require.True(t, mathutil.IsFinite(open))
	want := -900 + math.Log(1+math.Exp(-1)+math.Exp(-2)) - math.Log(3)
	assert.InDelta(t, want, open, 1e-9)
}

func TestProperty_AugmentedColumnIsLogMeanOfNonBlank(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		v := rapid.IntRange(2, 40).Draw(rt, "classes")
		row := make([]float64, v)
		for i := range row {
			row[i] = rapid.Float64Range(-50, 0).Draw(rt, fmt.Sprintf("x_%d", i))
		}

		dst := make([]float64, v+1)
		AugmentRow(dst, row)

		sum := 0.0
		for _, x := range row[1:] {
			sum += math.Exp(x)
		}
		want := math.Log(sum / float64(v-1))
		assert.InDelta(rt, want, dst[v], 1e-9)
	})
}

func TestSubsample(t *testing.T) {
	seg := Subsample(2, 401, 803, 4)
	assert.Equal(t, Segment{SequenceIdx: 2, StartFrame: 100, NumFrames: 200}, seg)

	assert.Equal(t, Segment{StartFrame: 7, NumFrames: 9}, Subsample(0, 7, 9, 0))
}

func makeBatch(frames, classes int) []mathutil.Mat {
	m := mathutil.NewMat(frames, classes)
	for t := range m {
		for c := range m[t] {
			m[t][c] = -float64(t*classes + c)
		}
	}
	return []mathutil.Mat{m}
}

func TestBuildSlicesSpan(t *testing.T) {
	batch := makeBatch(10, 3)
	d, err := Builder{AllowTruncate: 3}.Build(batch, Segment{StartFrame: 2, NumFrames: 5})
	require.NoError(t, err)

	assert.Equal(t, 5, d.NumFrames())
	assert.Equal(t, 3, d.NumClasses())
	assert.Equal(t, batch[0][2][1], d.Score(0, 1))
	assert.Equal(t, batch[0][6][2], d.Score(4, 2))
}

func TestBuildTruncatesWithinTolerance(t *testing.T) {
	batch := makeBatch(10, 3)
	d, err := Builder{AllowTruncate: 3}.Build(batch, Segment{StartFrame: 5, NumFrames: 8})
	require.NoError(t, err)
	assert.Equal(t, 5, d.NumFrames())
}

func TestBuildRejectsOutOfRangeSpans(t *testing.T) {
	batch := makeBatch(10, 3)
	b := Builder{AllowTruncate: 3}

	for name, seg := range map[string]Segment{
		"overrun":        {StartFrame: 5, NumFrames: 9},
		"sequence":       {SequenceIdx: 1, NumFrames: 1},
		"negative start": {StartFrame: -1, NumFrames: 1},
		"start past end": {StartFrame: 11, NumFrames: 0},
	} {
		_, err := b.Build(batch, seg)
		var frErr *FrameRangeError
		assert.True(t, errors.As(err, &frErr), "%s: %v", name, err)
	}
}

func TestBuildRejectsNonFiniteScores(t *testing.T) {
	batch := makeBatch(4, 3)
	batch[0][2][1] = math.NaN()
	batch[0][3][0] = math.Inf(1)
	b := Builder{}

	_, err := b.Build(batch, Segment{StartFrame: 0, NumFrames: 4})
	var frErr *FrameRangeError
	require.True(t, errors.As(err, &frErr))
	assert.Contains(t, frErr.Reason, "frame 2")

	// Spans not covering the bad frames are fine.
	_, err = b.Build(batch, Segment{StartFrame: 0, NumFrames: 2})
	assert.NoError(t, err)
}

func TestDenseLatticeValidate(t *testing.T) {
	m := makeBatch(3, 3)[0]
	assert.NoError(t, NewDenseLattice(m).Validate())
	assert.NoError(t, NewDenseLattice(nil).Validate())

	m[1][2] = math.NaN()
	var frErr *FrameRangeError
	require.True(t, errors.As(NewDenseLattice(m).Validate(), &frErr))
	assert.Equal(t, 3, frErr.Segment.NumFrames)
	assert.Contains(t, frErr.Reason, "frame 1 class 2")
}

func TestBuildEmptySpan(t *testing.T) {
	d, err := Builder{}.Build(makeBatch(4, 3), Segment{StartFrame: 4, NumFrames: 0})
	require.NoError(t, err)
	assert.Equal(t, 0, d.NumFrames())
	assert.Equal(t, 0, d.NumClasses())
}

func TestSaveLoad(t *testing.T) {
	batches := [][]mathutil.Mat{
		{makeBatch(3, 4)[0], makeBatch(2, 4)[0]},
		{makeBatch(5, 4)[0]},
	}
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, batches))

	got, classes, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, classes)
	assert.Equal(t, batches, got)
}

func TestSaveRejectsMixedClassCounts(t *testing.T) {
	batches := [][]mathutil.Mat{{makeBatch(2, 4)[0]}, {makeBatch(2, 3)[0]}}
	assert.Error(t, Save(&bytes.Buffer{}, batches))
}
