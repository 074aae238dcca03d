package vocab

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// InvalidReferenceError reports a reference token that cannot be aligned:
// unknown to the vocabulary, blank, or the open token itself.
type InvalidReferenceError struct {
	Position int    // index of the offending piece or token
	Symbol   string // symbol as given, empty when the input was an id
	ID       int    // id as given, -1 when the symbol is unknown
}

func (e *InvalidReferenceError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("invalid reference token %q at position %d", e.Symbol, e.Position)
	}
	return fmt.Sprintf("invalid reference token id %d at position %d", e.ID, e.Position)
}

// Words converts sentencepiece pieces into a word-structured reference. A
// piece beginning with the word boundary marker starts a new word; the first
// piece always does.
func (v *Vocabulary) Words(pieces []string) ([][]int, error) {
	var words [][]int
	for i, p := range pieces {
		id, ok := v.ID(p)
		if !ok || !v.IsReferenceToken(id) {
			if !ok {
				id = -1
			}
			return nil, &InvalidReferenceError{Position: i, Symbol: p, ID: id}
		}
		if len(words) == 0 || strings.HasPrefix(norm.NFC.String(p), WordBoundary) {
			words = append(words, []int{id})
			continue
		}
		last := len(words) - 1
		words[last] = append(words[last], id)
	}
	return words, nil
}

// TokenWords wraps every token of a flat reference in its own word.
func TokenWords(tokens []int) [][]int {
	words := make([][]int, len(tokens))
	for i, t := range tokens {
		words[i] = []int{t}
	}
	return words
}

// Text renders a word-structured reference the way aligned output is
// rendered: pieces of a word concatenated, boundary markers dropped, words
// separated by single spaces. Unknown ids render as nothing.
func (v *Vocabulary) Text(words [][]int) string {
	var sb strings.Builder
	for _, word := range words {
		var w strings.Builder
		for _, id := range word {
			sym, _ := v.Token(id)
			w.WriteString(strings.ReplaceAll(sym, WordBoundary, ""))
		}
		if w.Len() == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w.String())
	}
	return sb.String()
}
