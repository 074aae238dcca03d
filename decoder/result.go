package decoder

import (
	"strings"

	"github.com/ieee0824/otcalign/graph"
	"github.com/ieee0824/otcalign/vocab"
)

// DefaultPlaceholder is written in place of open-token arcs.
const DefaultPlaceholder = "*"

// Result holds the alignment output of one utterance.
type Result struct {
	Text      string  // aligned text, open-token spans rendered as the placeholder
	Words     []Word  // word-level details
	LogScore  float64 // total path score
	NumFrames int
	Bypass    int
	SelfLoop  int
}

// Word holds per-word timing and score information.
type Word struct {
	Text       string
	StartFrame int
	EndFrame   int
	LogScore   float64
	Open       bool // produced by an open-token arc
}

// Render turns a best path into text. Token pieces are concatenated with the
// word boundary marker turned into a space. Each run of open-token arcs
// becomes a separate placeholder word. Blank frames produce nothing and
// repeat frames extend the word that owns the repeated label.
func Render(p *Path, v *vocab.Vocabulary, placeholder string) *Result {
	res := &Result{
		LogScore:  p.Score,
		NumFrames: len(p.Arcs),
		Bypass:    p.Bypass,
		SelfLoop:  p.SelfLoop,
	}

	cur := -1
	for _, pa := range p.Arcs {
		switch {
		case pa.Kind == graph.Repeat:
			if cur >= 0 {
				res.Words[cur].EndFrame = pa.Frame
				res.Words[cur].LogScore += pa.Score
			}
		case pa.Kind == graph.Blank:
		case pa.Kind.IsOpen():
			res.Words = append(res.Words, Word{
				Text:       placeholder,
				StartFrame: pa.Frame,
				EndFrame:   pa.Frame,
				LogScore:   pa.Score,
				Open:       true,
			})
			cur = len(res.Words) - 1
		default:
			sym, _ := v.Token(int(pa.Token))
			if cur < 0 || res.Words[cur].Open || strings.HasPrefix(sym, vocab.WordBoundary) {
				res.Words = append(res.Words, Word{
					Text:       strings.TrimPrefix(sym, vocab.WordBoundary),
					StartFrame: pa.Frame,
					EndFrame:   pa.Frame,
					LogScore:   pa.Score,
				})
				cur = len(res.Words) - 1
				continue
			}
			w := &res.Words[cur]
			w.Text += sym
			w.EndFrame = pa.Frame
			w.LogScore += pa.Score
		}
	}

	texts := make([]string, 0, len(res.Words))
	for _, w := range res.Words {
		if w.Text != "" {
			texts = append(texts, w.Text)
		}
	}
	res.Text = strings.Join(texts, " ")
	return res
}
