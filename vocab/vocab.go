// Package vocab holds the token table shared by graph compilation and text
// rendering: blank at id 0, the acoustic classes, and the synthetic open
// token appended at the end.
package vocab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// BlankID is the CTC blank class.
const BlankID = 0

// WordBoundary marks the first piece of a word in sentencepiece output.
const WordBoundary = "▁"

// DefaultOpenToken is the symbol of the open token used by the icefall recipes.
const DefaultOpenToken = "▁<star>"

// Vocabulary maps token ids to symbols and back. It is read-only after
// construction and safe for concurrent use.
type Vocabulary struct {
	symbols []string
	ids     map[string]int
	openID  int
}

// New builds a vocabulary from symbols indexed by id. If openToken is present
// it must be the last symbol; otherwise it is appended.
func New(symbols []string, openToken string) (*Vocabulary, error) {
	if len(symbols) < 2 {
		return nil, fmt.Errorf("vocabulary needs blank and at least one token, got %d symbols", len(symbols))
	}
	openToken = norm.NFC.String(strings.TrimSpace(openToken))
	if openToken == "" {
		return nil, fmt.Errorf("open token must not be empty")
	}

	v := &Vocabulary{
		symbols: make([]string, 0, len(symbols)+1),
		ids:     make(map[string]int, len(symbols)+1),
		openID:  -1,
	}
	for id, s := range symbols {
		s = norm.NFC.String(s)
		if s == "" {
			return nil, fmt.Errorf("token id %d has no symbol", id)
		}
		if prev, dup := v.ids[s]; dup {
			return nil, fmt.Errorf("symbol %q has ids %d and %d", s, prev, id)
		}
		v.ids[s] = id
		v.symbols = append(v.symbols, s)
		if s == openToken {
			v.openID = id
		}
	}

	switch {
	case v.openID == -1:
		v.openID = len(v.symbols)
		v.ids[openToken] = v.openID
		v.symbols = append(v.symbols, openToken)
	case v.openID != len(v.symbols)-1:
		return nil, fmt.Errorf("open token %q has id %d, want the last id %d", openToken, v.openID, len(v.symbols)-1)
	case v.openID == BlankID+1:
		return nil, fmt.Errorf("vocabulary has no tokens besides blank and %q", openToken)
	}
	return v, nil
}

// Load reads an icefall tokens.txt table: one "<symbol> <id>" pair per line.
// Ids must cover 0..N-1 without gaps.
func Load(r io.Reader, openToken string) (*Vocabulary, error) {
	byID := make(map[int]string)
	maxID := -1
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected \"<symbol> <id>\", got %d fields", lineNum, len(fields))
		}
		id, err := strconv.Atoi(fields[1])
		if err != nil || id < 0 {
			return nil, fmt.Errorf("line %d: invalid token id %q", lineNum, fields[1])
		}
		if prev, dup := byID[id]; dup {
			return nil, fmt.Errorf("line %d: id %d already used by %q", lineNum, id, prev)
		}
		byID[id] = fields[0]
		if id > maxID {
			maxID = id
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	symbols := make([]string, maxID+1)
	for id := range symbols {
		s, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("token table has no entry for id %d", id)
		}
		symbols[id] = s
	}
	return New(symbols, openToken)
}

// LoadFile is a convenience wrapper that opens a file path.
func LoadFile(path, openToken string) (*Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, openToken)
}

// Size returns the number of ids including the open token (V+1).
func (v *Vocabulary) Size() int {
	return len(v.symbols)
}

// NumClasses returns the number of acoustic model classes V, blank included
// and the open token excluded.
func (v *Vocabulary) NumClasses() int {
	return v.openID
}

// OpenID returns the id of the open token.
func (v *Vocabulary) OpenID() int {
	return v.openID
}

// OpenToken returns the open token symbol.
func (v *Vocabulary) OpenToken() string {
	return v.symbols[v.openID]
}

// Token returns the symbol for id.
func (v *Vocabulary) Token(id int) (string, bool) {
	if id < 0 || id >= len(v.symbols) {
		return "", false
	}
	return v.symbols[id], true
}

// ID returns the id of symbol.
func (v *Vocabulary) ID(symbol string) (int, bool) {
	id, ok := v.ids[norm.NFC.String(symbol)]
	return id, ok
}

// IsReferenceToken reports whether id may appear in a reference transcript:
// any acoustic class other than blank.
func (v *Vocabulary) IsReferenceToken(id int) bool {
	return id > BlankID && id < v.openID
}
