package graph

import "github.com/ieee0824/otcalign/vocab"

// ctcKey identifies a decoding-graph state: the transcript state reached and
// the last label emitted, blank after a blank frame or at the start.
type ctcKey struct {
	state int32
	last  int32
}

// ExpandCTC composes a transcript acceptor with the standard CTC topology.
// Every state can absorb blank frames, a label may repeat over consecutive
// frames without emitting a new token, and two identical tokens in a row
// need a blank between them. Each arc of the result consumes one frame.
// States are numbered in breadth-first order from the start, so equal inputs
// give identical graphs.
func ExpandCTC(g *Fsa) *Fsa {
	b := &fsaBuilder{}
	ids := make(map[ctcKey]int32)
	var queue []ctcKey

	get := func(k ctcKey) int32 {
		if id, ok := ids[k]; ok {
			return id
		}
		id := b.addState()
		ids[k] = id
		queue = append(queue, k)
		return id
	}

	get(ctcKey{state: 0, last: vocab.BlankID})
	for qi := 0; qi < len(queue); qi++ {
		k := queue[qi]
		src := ids[k]

		dst := get(ctcKey{state: k.state, last: vocab.BlankID})
		b.addArc(Arc{Src: src, Dst: dst, Label: vocab.BlankID, Token: vocab.BlankID, Kind: Blank})
		if k.last != vocab.BlankID {
			b.addArc(Arc{Src: src, Dst: src, Label: k.last, Token: vocab.BlankID, Kind: Repeat})
		}

		for _, a := range g.OutArcs(int(k.state)) {
			if a.Label == k.last {
				continue
			}
			dst := get(ctcKey{state: a.Dst, last: a.Label})
			b.addArc(Arc{Src: src, Dst: dst, Label: a.Label, Token: a.Token, Weight: a.Weight, Kind: a.Kind})
		}

		if g.IsFinal(int(k.state)) {
			b.setFinal(src)
		}
	}
	return b.build()
}
