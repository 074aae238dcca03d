package decoder

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ieee0824/otcalign/emission"
	"github.com/ieee0824/otcalign/graph"
)

// Config holds beam search parameters.
type Config struct {
	BeamWidth float64 // log-domain beam width
	MaxActive int     // maximum number of states kept after each frame
	MinActive int     // states kept after each frame even outside the beam
}

// DefaultConfig returns the parameters used by the alignment recipe.
func DefaultConfig() Config {
	return Config{
		BeamWidth: 8.0,
		MaxActive: 10000,
		MinActive: 30,
	}
}

// Validate checks that the bounds are usable together.
func (c Config) Validate() error {
	if math.IsNaN(c.BeamWidth) || c.BeamWidth <= 0 {
		return fmt.Errorf("beam width must be positive, got %v", c.BeamWidth)
	}
	if c.MaxActive < 1 {
		return fmt.Errorf("max active states must be at least 1, got %d", c.MaxActive)
	}
	if c.MinActive < 0 || c.MinActive > c.MaxActive {
		return fmt.Errorf("min active states must be in [0, %d], got %d", c.MaxActive, c.MinActive)
	}
	return nil
}

// NoViablePathError reports that no accepting state survived the last frame.
// Rerunning with a wider beam or cheaper error arcs may succeed.
type NoViablePathError struct {
	NumFrames int // frames composed
	Survivors int // states alive after the last frame, none of them accepting
}

func (e *NoViablePathError) Error() string {
	return fmt.Sprintf("no viable path after %d frames (%d surviving states, none final)", e.NumFrames, e.Survivors)
}

// node is a state of the composed lattice: a graph state reached after a
// given number of frames, with the best incoming arc.
type node struct {
	state   int32
	prev    int32 // arena index of the predecessor node, -1 at the start
	arc     int32 // graph arc taken from prev, -1 at the start
	errArcs int32 // open-token arcs on the best path so far
	score   float64
}

// better orders competing hypotheses: higher score first, then the one that
// leans on fewer open-token arcs.
func (n *node) better(o *node) bool {
	if n.score != o.score {
		return n.score > o.score
	}
	return n.errArcs < o.errArcs
}

// Lattice is the pruned product of a decoding graph and a dense emission
// lattice. Nodes of all frames share one arena; layer t holds the nodes alive
// after t frames.
type Lattice struct {
	graph      *graph.Fsa
	nodes      []node
	layers     []int32 // layers[t]..layers[t+1] index the nodes of layer t
	candidates []int   // distinct successor states per frame, before pruning
}

// NumFrames returns the number of frames composed.
func (l *Lattice) NumFrames() int {
	return len(l.layers) - 2
}

// Graph returns the decoding graph the lattice was composed from.
func (l *Lattice) Graph() *graph.Fsa {
	return l.graph
}

// FrontierSize returns how many states survived after t frames, 0 <= t <= NumFrames.
func (l *Lattice) FrontierSize(t int) int {
	return int(l.layers[t+1] - l.layers[t])
}

// CandidateCount returns how many distinct states frame t (0-based) reached
// before pruning.
func (l *Lattice) CandidateCount(t int) int {
	return l.candidates[t]
}

// NumNodes returns the total number of retained lattice states.
func (l *Lattice) NumNodes() int {
	return len(l.nodes)
}

// Compose runs frame-synchronous max-plus composition of g with d. Every arc
// of g consumes one frame and scores its weight plus the emission of its
// label. Candidates reaching the same graph state are merged by max; each
// frame is then pruned to the beam, capped at MaxActive and refilled up to
// MinActive. NaN or infinite scores fail with *emission.FrameRangeError. If
// no accepting state survives the last frame the error is a
// *NoViablePathError.
func Compose(g *graph.Fsa, d *emission.DenseLattice, cfg Config) (*Lattice, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	T := d.NumFrames()
	if T > 0 {
		for _, a := range g.Arcs() {
			if int(a.Label) >= d.NumClasses() {
				return nil, fmt.Errorf("graph label %d outside %d emission classes", a.Label, d.NumClasses())
			}
		}
	}

	l := &Lattice{
		graph:      g,
		nodes:      make([]node, 1, 1+T*16),
		layers:     make([]int32, 2, T+2),
		candidates: make([]int, 0, T),
	}
	l.nodes[0] = node{state: 0, prev: -1, arc: -1}
	l.layers[1] = 1

	// Per-state slot into cand, valid only when stamp matches the frame.
	slot := make([]int32, g.NumStates())
	stamp := make([]int32, g.NumStates())
	cand := make([]node, 0, 256)
	arcs := g.Arcs()

	for t := 0; t < T; t++ {
		gen := int32(t + 1)
		cand = cand[:0]

		lo, hi := l.layers[t], l.layers[t+1]
		for ni := lo; ni < hi; ni++ {
			n := &l.nodes[ni]
			alo, ahi := g.OutRange(int(n.state))
			for ai := alo; ai < ahi; ai++ {
				a := &arcs[ai]
				c := node{
					state:   a.Dst,
					prev:    ni,
					arc:     int32(ai),
					errArcs: n.errArcs,
					score:   n.score + a.Weight + d.Score(t, int(a.Label)),
				}
				if a.Kind.IsOpen() {
					c.errArcs++
				}

				if stamp[a.Dst] != gen {
					stamp[a.Dst] = gen
					slot[a.Dst] = int32(len(cand))
					cand = append(cand, c)
					continue
				}
				if c.better(&cand[slot[a.Dst]]) {
					cand[slot[a.Dst]] = c
				}
			}
		}

		l.candidates = append(l.candidates, len(cand))
		kept := pruneNodes(cand, cfg)
		l.nodes = append(l.nodes, kept...)
		l.layers = append(l.layers, int32(len(l.nodes)))
	}

	if _, ok := l.bestFinal(); !ok {
		return nil, &NoViablePathError{NumFrames: T, Survivors: l.FrontierSize(T)}
	}
	return l, nil
}

// pruneNodes keeps the candidates within BeamWidth of the best one, no more
// than MaxActive and no fewer than min(MinActive, len(cand)). It reorders
// cand in place and returns the kept prefix.
func pruneNodes(cand []node, cfg Config) []node {
	if len(cand) == 0 {
		return cand
	}

	// Find best score
	best := cand[0].score
	for i := 1; i < len(cand); i++ {
		if cand[i].score > best {
			best = cand[i].score
		}
	}

	threshold := best - cfg.BeamWidth
	inBeam := 0
	for i := range cand {
		if cand[i].score >= threshold {
			inBeam++
		}
	}

	floor := cfg.MinActive
	if floor > len(cand) {
		floor = len(cand)
	}

	// Beam pruning: stable in-place compaction
	if inBeam >= floor && inBeam <= cfg.MaxActive {
		kept := cand[:0]
		for _, c := range cand {
			if c.score >= threshold {
				kept = append(kept, c)
			}
		}
		return kept
	}

	// Max/min active pruning
	sort.Slice(cand, func(i, j int) bool {
		if cand[i].score != cand[j].score || cand[i].errArcs != cand[j].errArcs {
			return cand[i].better(&cand[j])
		}
		return cand[i].state < cand[j].state
	})
	keep := inBeam
	if keep < floor {
		keep = floor
	}
	if keep > cfg.MaxActive {
		keep = cfg.MaxActive
	}
	return cand[:keep]
}

// bestFinal returns the arena index of the best accepting node after the
// last frame. Ties beyond score and open-arc count go to the lower state.
func (l *Lattice) bestFinal() (int32, bool) {
	T := l.NumFrames()
	best := int32(-1)
	for ni := l.layers[T]; ni < l.layers[T+1]; ni++ {
		n := &l.nodes[ni]
		if !l.graph.IsFinal(int(n.state)) {
			continue
		}
		if best < 0 {
			best = ni
			continue
		}
		b := &l.nodes[best]
		if n.better(b) || (!b.better(n) && n.state < b.state) {
			best = ni
		}
	}
	return best, best >= 0
}

// IsNoViablePath reports whether err is a *NoViablePathError.
func IsNoViablePath(err error) bool {
	var e *NoViablePathError
	return errors.As(err, &e)
}
