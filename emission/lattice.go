package emission

import (
	"fmt"

	"github.com/ieee0824/otcalign/internal/mathutil"
)

// DefaultAllowTruncate is the frame slack absorbed when a span runs past the
// end of its sequence.
const DefaultAllowTruncate = 3

// Segment locates one utterance in the model output, in subsampled frames.
type Segment struct {
	SequenceIdx int
	StartFrame  int
	NumFrames   int
}

// Subsample converts a supervision span given in feature frames into model
// output frames by floor division.
func Subsample(sequenceIdx, startFrame, numFrames, factor int) Segment {
	if factor < 1 {
		factor = 1
	}
	return Segment{
		SequenceIdx: sequenceIdx,
		StartFrame:  startFrame / factor,
		NumFrames:   numFrames / factor,
	}
}

// FrameRangeError reports a span that does not fit its sequence, or frames
// carrying non-finite scores.
type FrameRangeError struct {
	Segment Segment
	Reason  string
}

func (e *FrameRangeError) Error() string {
	return fmt.Sprintf("frame range (seq=%d start=%d frames=%d): %s",
		e.Segment.SequenceIdx, e.Segment.StartFrame, e.Segment.NumFrames, e.Reason)
}

// DenseLattice is the per-frame, per-class score table of one utterance. Rows
// alias the batch tensor and must be treated as read-only.
type DenseLattice struct {
	scores mathutil.Mat
}

// NewDenseLattice wraps an already augmented score table. Scores are not
// checked here; Compose validates them.
func NewDenseLattice(scores mathutil.Mat) *DenseLattice {
	return &DenseLattice{scores: scores}
}

// NumFrames returns the number of frames in the lattice.
func (d *DenseLattice) NumFrames() int {
	return len(d.scores)
}

// NumClasses returns the width of each frame, open token included.
func (d *DenseLattice) NumClasses() int {
	if len(d.scores) == 0 {
		return 0
	}
	return len(d.scores[0])
}

// Score returns the log score of class at frame t.
func (d *DenseLattice) Score(t, class int) float64 {
	return d.scores[t][class]
}

// Builder cuts dense lattices out of an augmented batch.
type Builder struct {
	// AllowTruncate is how many frames a span may overrun its sequence
	// before it is rejected; overruns within it are trimmed.
	AllowTruncate int
}

// Build returns the dense lattice for seg. Spans that start outside the
// sequence, overrun it by more than AllowTruncate frames, or contain NaN/Inf
// scores fail with *FrameRangeError.
func (b Builder) Build(batch []mathutil.Mat, seg Segment) (*DenseLattice, error) {
	if seg.SequenceIdx < 0 || seg.SequenceIdx >= len(batch) {
		return nil, &FrameRangeError{Segment: seg, Reason: fmt.Sprintf("sequence index out of range [0,%d)", len(batch))}
	}
	if seg.StartFrame < 0 || seg.NumFrames < 0 {
		return nil, &FrameRangeError{Segment: seg, Reason: "negative start or length"}
	}

	seq := batch[seg.SequenceIdx]
	total := len(seq)
	if seg.StartFrame > total {
		return nil, &FrameRangeError{Segment: seg, Reason: fmt.Sprintf("start beyond %d available frames", total)}
	}
	end := seg.StartFrame + seg.NumFrames
	if over := end - total; over > 0 {
		if over > b.AllowTruncate {
			return nil, &FrameRangeError{Segment: seg, Reason: fmt.Sprintf("overruns %d available frames by %d (allowed %d)", total, over, b.AllowTruncate)}
		}
		end = total
	}

	d := &DenseLattice{scores: seq[seg.StartFrame:end]}
	if err := d.checkFinite(seg); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate reports a *FrameRangeError if any score is NaN or ±Inf. Lattices
// from Builder.Build are already validated.
func (d *DenseLattice) Validate() error {
	return d.checkFinite(Segment{NumFrames: d.NumFrames()})
}

func (d *DenseLattice) checkFinite(seg Segment) error {
	for t, row := range d.scores {
		for c, x := range row {
			if !mathutil.IsFinite(x) {
				return &FrameRangeError{Segment: seg, Reason: fmt.Sprintf("non-finite score %v at frame %d class %d", x, seg.StartFrame+t, c)}
			}
		}
	}
	return nil
}
