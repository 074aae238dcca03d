package emission

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/ieee0824/otcalign/internal/mathutil"
)

// serializable types for gob encoding
type serializedFile struct {
	NumClasses int
	Batches    []serializedBatch
}

type serializedBatch struct {
	Sequences []serializedSequence
}

type serializedSequence struct {
	NumFrames int
	LogProbs  []float64 // row-major [NumFrames × NumClasses]
}

// Save writes model output batches (each a list of [frames × classes]
// sequences) using gob encoding.
func Save(w io.Writer, batches [][]mathutil.Mat) error {
	sf := serializedFile{NumClasses: -1}
	for bi, batch := range batches {
		var sb serializedBatch
		for si, seq := range batch {
			ss := serializedSequence{NumFrames: len(seq)}
			for t, row := range seq {
				if sf.NumClasses == -1 {
					sf.NumClasses = len(row)
				}
				if len(row) != sf.NumClasses {
					return fmt.Errorf("batch %d sequence %d frame %d: %d classes, want %d", bi, si, t, len(row), sf.NumClasses)
				}
				ss.LogProbs = append(ss.LogProbs, row...)
			}
			sb.Sequences = append(sb.Sequences, ss)
		}
		sf.Batches = append(sf.Batches, sb)
	}
	if sf.NumClasses == -1 {
		sf.NumClasses = 0
	}
	return gob.NewEncoder(w).Encode(sf)
}

// Load reads batches written by Save and returns them with the class count.
func Load(r io.Reader) ([][]mathutil.Mat, int, error) {
	var sf serializedFile
	if err := gob.NewDecoder(r).Decode(&sf); err != nil {
		return nil, 0, err
	}

	batches := make([][]mathutil.Mat, len(sf.Batches))
	for bi, sb := range sf.Batches {
		batch := make([]mathutil.Mat, len(sb.Sequences))
		for si, ss := range sb.Sequences {
			if len(ss.LogProbs) != ss.NumFrames*sf.NumClasses {
				return nil, 0, fmt.Errorf("batch %d sequence %d: %d scores for %d frames × %d classes",
					bi, si, len(ss.LogProbs), ss.NumFrames, sf.NumClasses)
			}
			m := mathutil.NewMat(ss.NumFrames, sf.NumClasses)
			for t := range m {
				copy(m[t], ss.LogProbs[t*sf.NumClasses:(t+1)*sf.NumClasses])
			}
			batch[si] = m
		}
		batches[bi] = batch
	}
	return batches, sf.NumClasses, nil
}

// LoadFile is a convenience wrapper that opens a file path.
func LoadFile(path string) ([][]mathutil.Mat, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return Load(f)
}
