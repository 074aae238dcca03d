package otcalign

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ieee0824/otcalign/emission"
	"github.com/ieee0824/otcalign/graph"
	"github.com/ieee0824/otcalign/internal/mathutil"
	"github.com/ieee0824/otcalign/internal/metrics"
	"github.com/ieee0824/otcalign/vocab"
)

const (
	blk = vocab.BlankID
	the = 1
	cat = 2
	sat = 3
	dog = 4
)

const testTokens = "<blk> 0\n▁the 1\n▁cat 2\n▁sat 3\n▁dog 4\n▁big 5\ns 6\n"

func testVocab(t *testing.T) *vocab.Vocabulary {
	t.Helper()
	v, err := vocab.Load(strings.NewReader(testTokens), vocab.DefaultOpenToken)
	require.NoError(t, err)
	return v
}

// peakedSeq returns un-augmented log-probabilities with 0.93 on each frame's
// class and 0.01 elsewhere.
func peakedSeq(frames ...int) mathutil.Mat {
	seq := mathutil.NewMat(len(frames), 7)
	for i, c := range frames {
		for k := range seq[i] {
			seq[i][k] = math.Log(0.01)
		}
		seq[i][c] = math.Log(0.93)
	}
	return seq
}

func pieces(s string) []string {
	return strings.Fields(s)
}

func testBatch() *Batch {
	return &Batch{
		Emissions: []mathutil.Mat{
			peakedSeq(the, blk, dog, blk, sat),
			peakedSeq(the, blk, cat, blk, sat),
		},
		Utterances: []Utterance{
			{ID: "clean", Segment: emission.Segment{SequenceIdx: 1, NumFrames: 5}, Pieces: pieces("▁the ▁cat ▁sat")},
			{ID: "substituted", Segment: emission.Segment{SequenceIdx: 0, NumFrames: 5}, Pieces: pieces("▁the ▁cat ▁sat")},
			{ID: "bad-ref", Segment: emission.Segment{SequenceIdx: 0, NumFrames: 5}, Pieces: pieces("▁the ▁zebra")},
			{ID: "bad-span", Segment: emission.Segment{SequenceIdx: 7, NumFrames: 5}, Pieces: pieces("▁the")},
			{ID: "token-ids", Segment: emission.Segment{SequenceIdx: 1, StartFrame: 2, NumFrames: 3}, Words: [][]int{{cat}, {sat}}},
		},
	}
}

func TestAlignBatch(t *testing.T) {
	a, err := New(testVocab(t), WithWorkers(3))
	require.NoError(t, err)

	results, err := a.AlignBatch(context.Background(), testBatch())
	require.NoError(t, err)
	require.Len(t, results, 5)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"clean", "substituted", "bad-ref", "bad-span", "token-ids"}, ids)

	assert.True(t, results[0].OK())
	assert.Equal(t, "the cat sat", results[0].Text)
	assert.Equal(t, 0, results[0].EditDistance)

	assert.Equal(t, "the * sat", results[1].Text)
	assert.Equal(t, "the cat sat", results[1].Reference)
	assert.Equal(t, 1, results[1].Bypass)
	assert.Equal(t, 1, results[1].EditDistance)

	var refErr *InvalidReferenceError
	require.True(t, errors.As(results[2].Err, &refErr))
	assert.Equal(t, "▁zebra", refErr.Symbol)
	assert.Equal(t, 1, refErr.Position)

	var rangeErr *FrameRangeError
	require.True(t, errors.As(results[3].Err, &rangeErr))

	assert.Equal(t, "cat sat", results[4].Text)
}

func TestAlignBatchNoViablePath(t *testing.T) {
	a, err := New(testVocab(t), WithGraphOptions(graph.Options{}))
	require.NoError(t, err)

	b := &Batch{
		Emissions: []mathutil.Mat{peakedSeq(the, cat)},
		Utterances: []Utterance{
			{ID: "short", Segment: emission.Segment{NumFrames: 2}, Pieces: pieces("▁the ▁cat ▁sat")},
			{ID: "fits", Segment: emission.Segment{NumFrames: 2}, Pieces: pieces("▁the ▁cat")},
		},
	}
	results, err := a.AlignBatch(context.Background(), b)
	require.NoError(t, err)

	var pathErr *NoViablePathError
	require.True(t, errors.As(results[0].Err, &pathErr))
	assert.Empty(t, results[0].Text)
	assert.Equal(t, "the cat", results[1].Text)
}

func TestAlignBatchCancelled(t *testing.T) {
	a, err := New(testVocab(t), WithWorkers(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.AlignBatch(ctx, testBatch())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAlignBatchRejectsClassMismatch(t *testing.T) {
	a, err := New(testVocab(t))
	require.NoError(t, err)

	b := &Batch{Emissions: []mathutil.Mat{mathutil.NewMat(3, 5)}}
	_, err = a.AlignBatch(context.Background(), b)
	assert.Error(t, err)
}

func TestNewRejectsBadOptions(t *testing.T) {
	v := testVocab(t)

	_, err := New(v, WithWorkers(0))
	assert.Error(t, err)
	_, err = New(v, WithAllowTruncate(-1))
	assert.Error(t, err)

	opts := graph.DefaultOptions()
	opts.SelfLoopWeight = math.Inf(1)
	_, err = New(v, WithGraphOptions(opts))
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)
}

func TestAlignDataset(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	collector := metrics.NewCollector("otcalign", zap.NewNop())
	a, err := New(testVocab(t), WithWorkers(2), WithLogger(zap.New(core)), WithMetrics(collector))
	require.NoError(t, err)

	batches := []*Batch{
		testBatch(),
		{Emissions: []mathutil.Mat{mathutil.NewMat(2, 4)}}, // wrong class count
		{
			Emissions:  []mathutil.Mat{peakedSeq(cat, blk, sat)},
			Utterances: []Utterance{{ID: "second", Segment: emission.Segment{NumFrames: 3}, Pieces: pieces("▁cat ▁sat")}},
		},
	}
	report, err := a.AlignDataset(context.Background(), batches)
	require.NoError(t, err)

	assert.Equal(t, 2, report.NumBatches)
	assert.Equal(t, 6, report.NumUtterances)
	require.Len(t, report.Results, 4)
	assert.Equal(t, "second", report.Results[3].ID)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, "bad-ref", report.Failed[0].ID)

	ids := make([]string, 0, len(report.All))
	for _, r := range report.All {
		ids = append(ids, r.ID)
	}
	want := make([]string, 0, 6)
	for _, b := range []*Batch{batches[0], batches[2]} {
		for _, u := range b.Utterances {
			want = append(want, u.ID)
		}
	}
	assert.Equal(t, want, ids)

	require.Error(t, report.Err())
	assert.Len(t, report.Failures.Errors, 3)
	var refErr *InvalidReferenceError
	assert.True(t, errors.As(report.Err(), &refErr))

	progress := logs.FilterMessage("alignment progress").All()
	require.Len(t, progress, 1)
	assert.Equal(t, "0/3", progress[0].ContextMap()["batch"])
	assert.Equal(t, 2, logs.FilterMessage("utterance failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("batch failed").Len())

	// aligned, invalid_reference and frame_range series.
	n, err := testutil.GatherAndCount(collector.Registry(), "otcalign_utterances_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
