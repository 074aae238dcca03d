package otcalign

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ieee0824/otcalign/emission"
	"github.com/ieee0824/otcalign/internal/mathutil"
)

// ManifestEntry is one line of a supervision manifest.
type ManifestEntry struct {
	BatchIdx  int
	Utterance Utterance
}

// LoadManifest reads a tab-separated supervision manifest:
//
//	cut_id  batch_idx  sequence_idx  start_frame  num_frames  pieces
//
// Frame columns are in feature frames and are divided by subsampling.
// Pieces are space separated and may be empty. Blank lines and lines
// starting with # are skipped.
func LoadManifest(r io.Reader, subsampling int) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	seen := make(map[string]int)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) == 5 {
			fields = append(fields, "")
		}
		if len(fields) != 6 {
			return nil, fmt.Errorf("manifest line %d: want 6 tab-separated fields, got %d", lineNum, len(fields))
		}

		id := norm.NFC.String(strings.TrimSpace(fields[0]))
		if id == "" {
			return nil, fmt.Errorf("manifest line %d: empty cut id", lineNum)
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("manifest line %d: cut %q already defined on line %d", lineNum, id, prev)
		}
		seen[id] = lineNum

		var nums [4]int
		for i, name := range []string{"batch_idx", "sequence_idx", "start_frame", "num_frames"} {
			n, err := strconv.Atoi(strings.TrimSpace(fields[i+1]))
			if err != nil {
				return nil, fmt.Errorf("manifest line %d: %s: %w", lineNum, name, err)
			}
			if n < 0 {
				return nil, fmt.Errorf("manifest line %d: %s must not be negative, got %d", lineNum, name, n)
			}
			nums[i] = n
		}

		pieces := strings.Fields(norm.NFC.String(fields[5]))
		if pieces == nil {
			pieces = []string{}
		}
		entries = append(entries, ManifestEntry{
			BatchIdx: nums[0],
			Utterance: Utterance{
				ID:      id,
				Segment: emission.Subsample(nums[1], nums[2], nums[3], subsampling),
				Pieces:  pieces,
			},
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return entries, nil
}

// LoadManifestFile reads a manifest from a file path.
func LoadManifestFile(path string, subsampling int) ([]ManifestEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f, subsampling)
}

// Batches pairs manifest entries with their emission batches. Every emission
// batch yields one Batch, possibly without utterances; entries keep manifest
// order within a batch.
func Batches(entries []ManifestEntry, emissions [][]mathutil.Mat) ([]*Batch, error) {
	batches := make([]*Batch, len(emissions))
	for i, e := range emissions {
		batches[i] = &Batch{Emissions: e}
	}
	for _, e := range entries {
		if e.BatchIdx >= len(batches) {
			return nil, fmt.Errorf("cut %q refers to batch %d, emissions hold %d", e.Utterance.ID, e.BatchIdx, len(batches))
		}
		b := batches[e.BatchIdx]
		b.Utterances = append(b.Utterances, e.Utterance)
	}
	return batches, nil
}
