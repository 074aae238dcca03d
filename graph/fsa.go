// Package graph compiles reference transcripts into error-tolerant
// alignment graphs and expands them with a CTC topology for decoding.
//
// Graphs are arenas: arcs live in one flat slice sorted by source state and
// states are integer handles into an offset table. State 0 is the start state.
package graph

import "sort"

// ArcKind tells how an arc relates to the reference transcript.
type ArcKind uint8

const (
	// Regular consumes the next reference token.
	Regular ArcKind = iota
	// Bypass replaces a whole reference word with the open token.
	Bypass
	// SelfLoop absorbs audio that the reference does not mention.
	SelfLoop
	// Blank consumes a CTC blank frame.
	Blank
	// Repeat consumes a frame that repeats the previous label.
	Repeat
)

func (k ArcKind) String() string {
	switch k {
	case Regular:
		return "regular"
	case Bypass:
		return "bypass"
	case SelfLoop:
		return "self-loop"
	case Blank:
		return "blank"
	case Repeat:
		return "repeat"
	}
	return "unknown"
}

// IsOpen reports whether the arc is one of the error-tolerance arcs that
// emit the open token.
func (k ArcKind) IsOpen() bool {
	return k == Bypass || k == SelfLoop
}

// Arc is a weighted transition. Label is the emission class consumed by the
// arc; Token is the symbol it contributes to the output, zero for blank and
// repeat arcs.
type Arc struct {
	Src    int32
	Dst    int32
	Label  int32
	Token  int32
	Weight float64
	Kind   ArcKind
}

// Fsa is a weighted acceptor stored as an arc arena.
type Fsa struct {
	arcs    []Arc
	offsets []int32 // offsets[s]..offsets[s+1] index the arcs leaving s
	final   []bool
}

// NumStates returns the number of states.
func (f *Fsa) NumStates() int {
	return len(f.final)
}

// NumArcs returns the number of arcs.
func (f *Fsa) NumArcs() int {
	return len(f.arcs)
}

// Arcs returns all arcs ordered by source state. The slice must not be modified.
func (f *Fsa) Arcs() []Arc {
	return f.arcs
}

// Arc returns the arc with index i.
func (f *Fsa) Arc(i int) Arc {
	return f.arcs[i]
}

// OutRange returns the half-open arc index range of the arcs leaving s.
func (f *Fsa) OutRange(s int) (int, int) {
	return int(f.offsets[s]), int(f.offsets[s+1])
}

// OutArcs returns the arcs leaving s.
func (f *Fsa) OutArcs(s int) []Arc {
	lo, hi := f.OutRange(s)
	return f.arcs[lo:hi]
}

// IsFinal reports whether s is an accepting state.
func (f *Fsa) IsFinal(s int) bool {
	return f.final[s]
}

// FinalStates returns the accepting states in increasing order.
func (f *Fsa) FinalStates() []int {
	var out []int
	for s, ok := range f.final {
		if ok {
			out = append(out, s)
		}
	}
	return out
}

type fsaBuilder struct {
	arcs  []Arc
	final []bool
}

func (b *fsaBuilder) addState() int32 {
	b.final = append(b.final, false)
	return int32(len(b.final) - 1)
}

func (b *fsaBuilder) addArc(a Arc) {
	b.arcs = append(b.arcs, a)
}

func (b *fsaBuilder) setFinal(s int32) {
	b.final[s] = true
}

func (b *fsaBuilder) build() *Fsa {
	sort.SliceStable(b.arcs, func(i, j int) bool {
		return b.arcs[i].Src < b.arcs[j].Src
	})
	offsets := make([]int32, len(b.final)+1)
	for _, a := range b.arcs {
		offsets[a.Src+1]++
	}
	for s := 1; s < len(offsets); s++ {
		offsets[s] += offsets[s-1]
	}
	return &Fsa{arcs: b.arcs, offsets: offsets, final: b.final}
}
