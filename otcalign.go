// Package otcalign aligns imperfect reference transcripts to acoustic model
// output. Each reference is compiled into an error-tolerant graph whose open
// token can stand in for audio the reference gets wrong, the graph is
// composed with the utterance's emission scores under a beam, and the best
// path is rendered as text with a placeholder where the open token was used.
package otcalign

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ieee0824/otcalign/decoder"
	"github.com/ieee0824/otcalign/emission"
	"github.com/ieee0824/otcalign/graph"
	"github.com/ieee0824/otcalign/internal/metrics"
	"github.com/ieee0824/otcalign/vocab"
)

// Utterance-local failures. They are reported per Result and never abort a batch.
type (
	InvalidReferenceError = vocab.InvalidReferenceError
	FrameRangeError       = emission.FrameRangeError
	NoViablePathError     = decoder.NoViablePathError
)

// Aligner runs OTC alignment for one vocabulary. It is safe for concurrent use.
type Aligner struct {
	vocab       *vocab.Vocabulary
	compiler    *graph.Compiler
	graphOpts   graph.Options
	decCfg      decoder.Config
	builder     emission.Builder
	placeholder string
	workers     int
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithGraphOptions sets which error arcs are compiled and their weights.
func WithGraphOptions(opts graph.Options) Option {
	return func(a *Aligner) {
		a.graphOpts = opts
	}
}

// WithDecoderConfig sets custom beam search parameters.
func WithDecoderConfig(cfg decoder.Config) Option {
	return func(a *Aligner) {
		a.decCfg = cfg
	}
}

// WithPlaceholder sets the text written for open-token arcs.
func WithPlaceholder(s string) Option {
	return func(a *Aligner) {
		a.placeholder = s
	}
}

// WithAllowTruncate sets how many frames a span may overrun its sequence.
func WithAllowTruncate(frames int) Option {
	return func(a *Aligner) {
		a.builder.AllowTruncate = frames
	}
}

// WithWorkers bounds the number of utterances aligned concurrently.
func WithWorkers(n int) Option {
	return func(a *Aligner) {
		a.workers = n
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aligner) {
		a.logger = l
	}
}

// WithMetrics records utterance outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Aligner) {
		a.metrics = c
	}
}

// New creates an Aligner for v.
func New(v *vocab.Vocabulary, opts ...Option) (*Aligner, error) {
	if v == nil {
		return nil, errors.New("otcalign: nil vocabulary")
	}
	a := &Aligner{
		vocab:       v,
		graphOpts:   graph.DefaultOptions(),
		decCfg:      decoder.DefaultConfig(),
		builder:     emission.Builder{AllowTruncate: emission.DefaultAllowTruncate},
		placeholder: decoder.DefaultPlaceholder,
		workers:     1,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.decCfg.Validate(); err != nil {
		return nil, fmt.Errorf("decoder config: %w", err)
	}
	if a.workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", a.workers)
	}
	if a.builder.AllowTruncate < 0 {
		return nil, fmt.Errorf("allow truncate must not be negative, got %d", a.builder.AllowTruncate)
	}

	var err error
	a.compiler, err = graph.NewCompiler(v, a.graphOpts)
	if err != nil {
		return nil, fmt.Errorf("graph options: %w", err)
	}
	return a, nil
}

// Vocabulary returns the vocabulary the aligner was built for.
func (a *Aligner) Vocabulary() *vocab.Vocabulary {
	return a.vocab
}

// status classifies an utterance error for metrics.
func status(err error) string {
	var (
		refErr   *InvalidReferenceError
		rangeErr *FrameRangeError
		pathErr  *NoViablePathError
	)
	switch {
	case err == nil:
		return metrics.StatusAligned
	case errors.As(err, &refErr):
		return metrics.StatusInvalidRef
	case errors.As(err, &rangeErr):
		return metrics.StatusFrameRange
	case errors.As(err, &pathErr):
		return metrics.StatusNoViablePath
	}
	return metrics.StatusOtherFailure
}
