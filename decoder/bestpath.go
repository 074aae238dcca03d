package decoder

import (
	"github.com/ieee0824/otcalign/emission"
	"github.com/ieee0824/otcalign/graph"
)

// PathArc is one step of a best path: the graph arc taken at a frame and the
// score it added (arc weight plus emission).
type PathArc struct {
	graph.Arc
	Frame int
	Score float64
}

// Path is the highest-scoring accepting path through a lattice, one arc per frame.
type Path struct {
	Arcs     []PathArc
	Score    float64
	Bypass   int // bypass arcs taken
	SelfLoop int // open self-loop arcs taken
}

// OpenArcs returns the number of open-token arcs on the path.
func (p *Path) OpenArcs() int {
	return p.Bypass + p.SelfLoop
}

// BestPath backtracks the best accepting node of l. Competing final states
// are ranked by score, then by fewer open-token arcs, then by lower state id.
func BestPath(l *Lattice) (*Path, error) {
	best, ok := l.bestFinal()
	if !ok {
		T := l.NumFrames()
		return nil, &NoViablePathError{NumFrames: T, Survivors: l.FrontierSize(T)}
	}

	T := l.NumFrames()
	p := &Path{
		Arcs:  make([]PathArc, T),
		Score: l.nodes[best].score,
	}
	for t, ni := T-1, best; t >= 0; t-- {
		n := &l.nodes[ni]
		prev := &l.nodes[n.prev]
		a := l.graph.Arc(int(n.arc))
		p.Arcs[t] = PathArc{Arc: a, Frame: t, Score: n.score - prev.score}
		switch a.Kind {
		case graph.Bypass:
			p.Bypass++
		case graph.SelfLoop:
			p.SelfLoop++
		}
		ni = n.prev
	}
	return p, nil
}

// Decode composes g with d and returns the best path.
func Decode(g *graph.Fsa, d *emission.DenseLattice, cfg Config) (*Path, error) {
	l, err := Compose(g, d, cfg)
	if err != nil {
		return nil, err
	}
	return BestPath(l)
}
