package graph

import (
	"fmt"

	"github.com/ieee0824/otcalign/internal/mathutil"
	"github.com/ieee0824/otcalign/vocab"
)

// Options controls which error-tolerance arcs the compiler adds. Weights are
// log-domain scores added to a path, so penalties are negative.
type Options struct {
	AllowBypass    bool    // add open-token arcs spanning each reference word
	AllowSelfLoop  bool    // add open-token self-loops on word boundaries
	BypassWeight   float64 // weight of bypass arcs
	SelfLoopWeight float64 // weight of self-loop arcs
	RegularWeight  float64 // weight of regular arcs (insertion cost)
}

// DefaultOptions returns the settings used by the alignment recipe.
func DefaultOptions() Options {
	return Options{
		AllowBypass:   true,
		AllowSelfLoop: true,
	}
}

// Validate rejects non-finite weights, which would poison max-merging.
func (o Options) Validate() error {
	weights := []struct {
		name string
		w    float64
	}{
		{"bypass weight", o.BypassWeight},
		{"self-loop weight", o.SelfLoopWeight},
		{"regular weight", o.RegularWeight},
	}
	for _, w := range weights {
		if !mathutil.IsFinite(w.w) {
			return fmt.Errorf("%s must be finite, got %v", w.name, w.w)
		}
	}
	return nil
}

// Compiler builds alignment graphs for one vocabulary. It holds no mutable
// state and may be shared between goroutines.
type Compiler struct {
	vocab *vocab.Vocabulary
	opts  Options
}

// NewCompiler returns a compiler for v.
func NewCompiler(v *vocab.Vocabulary, opts Options) (*Compiler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Compiler{vocab: v, opts: opts}, nil
}

// Options returns the compiler settings.
func (c *Compiler) Options() Options {
	return c.opts
}

// Compile builds the transcript acceptor for a word-structured reference.
// For n tokens it has states 0..n in a chain, state n accepting. Each token
// gets a regular arc; each word gets a bypass arc from its first to its last
// state; every word boundary gets an open self-loop. Empty words are skipped.
// Tokens outside the vocabulary fail with *vocab.InvalidReferenceError.
func (c *Compiler) Compile(words [][]int) (*Fsa, error) {
	open := int32(c.vocab.OpenID())
	b := &fsaBuilder{}
	cur := b.addState()

	pos := 0
	for _, word := range words {
		if len(word) == 0 {
			continue
		}
		start := cur
		if c.opts.AllowSelfLoop {
			b.addArc(Arc{Src: cur, Dst: cur, Label: open, Token: open, Weight: c.opts.SelfLoopWeight, Kind: SelfLoop})
		}
		for _, tok := range word {
			if !c.vocab.IsReferenceToken(tok) {
				return nil, &vocab.InvalidReferenceError{Position: pos, ID: tok}
			}
			next := b.addState()
			b.addArc(Arc{Src: cur, Dst: next, Label: int32(tok), Token: int32(tok), Weight: c.opts.RegularWeight, Kind: Regular})
			cur = next
			pos++
		}
		if c.opts.AllowBypass {
			b.addArc(Arc{Src: start, Dst: cur, Label: open, Token: open, Weight: c.opts.BypassWeight, Kind: Bypass})
		}
	}
	if c.opts.AllowSelfLoop {
		b.addArc(Arc{Src: cur, Dst: cur, Label: open, Token: open, Weight: c.opts.SelfLoopWeight, Kind: SelfLoop})
	}
	b.setFinal(cur)
	return b.build(), nil
}

// CompileTokens compiles a flat token sequence, treating every token as a
// word of its own.
func (c *Compiler) CompileTokens(tokens []int) (*Fsa, error) {
	return c.Compile(vocab.TokenWords(tokens))
}

// CompileDecoding compiles the reference and expands it with the CTC
// topology, producing the graph the composer searches.
func (c *Compiler) CompileDecoding(words [][]int) (*Fsa, error) {
	g, err := c.Compile(words)
	if err != nil {
		return nil, err
	}
	return ExpandCTC(g), nil
}
