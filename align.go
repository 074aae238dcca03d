package otcalign

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ieee0824/otcalign/decoder"
	"github.com/ieee0824/otcalign/emission"
	"github.com/ieee0824/otcalign/internal/mathutil"
	"github.com/ieee0824/otcalign/internal/textutil"
)

// progressEvery is how often AlignDataset logs progress, in batches.
const progressEvery = 100

// Utterance is one supervision to align.
type Utterance struct {
	ID      string
	Segment emission.Segment // span in subsampled frames

	// Pieces is the reference as sentencepiece pieces, grouped into words at
	// the boundary marker. When nil, Words is used as is.
	Pieces []string
	Words  [][]int
}

// Batch is a set of utterances sharing one emission tensor.
type Batch struct {
	// Emissions holds per-sequence log-probabilities, frames x classes,
	// without the open-token column.
	Emissions  []mathutil.Mat
	Utterances []Utterance
}

// Result is the outcome of one utterance. Err is set when the utterance
// failed; the other fields except ID and Reference are then zero.
type Result struct {
	ID           string
	Text         string
	Reference    string
	Words        []decoder.Word
	LogScore     float64
	NumFrames    int
	Bypass       int
	SelfLoop     int
	EditDistance int // word edit distance between Reference and Text
	Err          error
}

// OK reports whether the utterance was aligned.
func (r *Result) OK() bool {
	return r.Err == nil
}

// Status names the outcome: aligned, invalid_reference, frame_range,
// no_viable_path or error.
func (r *Result) Status() string {
	return status(r.Err)
}

// AlignBatch aligns every utterance of b on up to the configured number of
// workers. Results keep the input order. Utterance failures are reported in
// Result.Err; the returned error is reserved for batch-level problems and
// cancellation, which is checked between utterances.
func (a *Aligner) AlignBatch(ctx context.Context, b *Batch) ([]Result, error) {
	aug, err := emission.Augment(b.Emissions)
	if err != nil {
		return nil, err
	}
	if classes := numClasses(b.Emissions); classes > 0 && classes != a.vocab.NumClasses() {
		return nil, fmt.Errorf("emissions have %d classes, vocabulary has %d", classes, a.vocab.NumClasses())
	}

	results := make([]Result, len(b.Utterances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range b.Utterances {
		i := i
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = a.align(aug, &b.Utterances[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func numClasses(batch []mathutil.Mat) int {
	for _, seq := range batch {
		if len(seq) > 0 {
			return len(seq[0])
		}
	}
	return 0
}

func (a *Aligner) align(aug []mathutil.Mat, u *Utterance) Result {
	start := time.Now()
	res, peak := a.alignUtterance(aug, u)
	if a.metrics != nil {
		a.metrics.RecordUtterance(status(res.Err), res.NumFrames, res.Bypass, res.SelfLoop, peak, time.Since(start))
	}
	if res.Err != nil {
		a.logger.Warn("utterance failed",
			zap.String("utterance", u.ID),
			zap.String("status", status(res.Err)),
			zap.Error(res.Err))
	}
	return res
}

func (a *Aligner) alignUtterance(aug []mathutil.Mat, u *Utterance) (Result, int) {
	res := Result{ID: u.ID}

	words := u.Words
	if u.Pieces != nil {
		var err error
		if words, err = a.vocab.Words(u.Pieces); err != nil {
			res.Err = err
			return res, 0
		}
	}
	res.Reference = a.vocab.Text(words)

	g, err := a.compiler.CompileDecoding(words)
	if err != nil {
		res.Err = err
		return res, 0
	}
	d, err := a.builder.Build(aug, u.Segment)
	if err != nil {
		res.Err = err
		return res, 0
	}
	l, err := decoder.Compose(g, d, a.decCfg)
	if err != nil {
		res.Err = err
		return res, 0
	}
	p, err := decoder.BestPath(l)
	if err != nil {
		res.Err = err
		return res, 0
	}

	out := decoder.Render(p, a.vocab, a.placeholder)
	res.Text = out.Text
	res.Words = out.Words
	res.LogScore = out.LogScore
	res.NumFrames = out.NumFrames
	res.Bypass = out.Bypass
	res.SelfLoop = out.SelfLoop
	res.EditDistance = textutil.WordEditDistance(res.Reference, res.Text)

	peak := 0
	for t := 0; t <= l.NumFrames(); t++ {
		peak = max(peak, l.FrontierSize(t))
	}
	return res, peak
}

// DatasetReport summarizes AlignDataset.
type DatasetReport struct {
	All           []Result // every utterance of the processed batches, in input order
	Results       []Result // aligned utterances, in input order
	Failed        []Result // failed utterances, in input order
	NumBatches    int
	NumUtterances int
	Failures      *multierror.Error // one entry per failed utterance or batch
}

// Err returns the accumulated failures, or nil.
func (r *DatasetReport) Err() error {
	return r.Failures.ErrorOrNil()
}

// AlignDataset aligns batches in order. A batch that cannot be processed at
// all is recorded as a failure and skipped; cancellation stops the loop and
// returns the partial report with ctx's error.
func (a *Aligner) AlignDataset(ctx context.Context, batches []*Batch) (*DatasetReport, error) {
	report := &DatasetReport{}
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		results, err := a.AlignBatch(ctx, b)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			a.logger.Error("batch failed", zap.Int("batch", i), zap.Error(err))
			report.Failures = multierror.Append(report.Failures, fmt.Errorf("batch %d: %w", i, err))
			continue
		}

		report.All = append(report.All, results...)
		for _, r := range results {
			if r.Err != nil {
				report.Failed = append(report.Failed, r)
				report.Failures = multierror.Append(report.Failures, fmt.Errorf("%s: %w", r.ID, r.Err))
				continue
			}
			report.Results = append(report.Results, r)
		}
		report.NumBatches++
		report.NumUtterances += len(b.Utterances)
		if a.metrics != nil {
			a.metrics.RecordBatch()
		}

		if i%progressEvery == 0 {
			a.logger.Info("alignment progress",
				zap.String("batch", fmt.Sprintf("%d/%d", i, len(batches))),
				zap.Int("cuts_processed", report.NumUtterances))
		}
	}
	return report, nil
}
