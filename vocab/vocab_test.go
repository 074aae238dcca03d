package vocab

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tinyTokens = `<blk> 0
▁the 1
▁cat 2
▁sat 3
s 4
`

func TestLoadAppendsOpenToken(t *testing.T) {
	v, err := Load(strings.NewReader(tinyTokens), DefaultOpenToken)
	require.NoError(t, err)

	assert.Equal(t, 5, v.NumClasses())
	assert.Equal(t, 6, v.Size())
	assert.Equal(t, 5, v.OpenID())
	assert.Equal(t, DefaultOpenToken, v.OpenToken())

	id, ok := v.ID("▁cat")
	require.True(t, ok)
	assert.Equal(t, 2, id)

	sym, ok := v.Token(3)
	require.True(t, ok)
	assert.Equal(t, "▁sat", sym)

	_, ok = v.Token(6)
	assert.False(t, ok)
}

func TestLoadKeepsOpenTokenAtLastID(t *testing.T) {
	v, err := Load(strings.NewReader(tinyTokens+"▁<star> 5\n"), DefaultOpenToken)
	require.NoError(t, err)
	assert.Equal(t, 5, v.OpenID())
	assert.Equal(t, 6, v.Size())
}

func TestLoadRejectsOpenTokenInTheMiddle(t *testing.T) {
	table := "<blk> 0\n▁<star> 1\n▁a 2\n"
	_, err := Load(strings.NewReader(table), DefaultOpenToken)
	require.Error(t, err)
}

func TestLoadRejectsGapsAndDuplicates(t *testing.T) {
	_, err := Load(strings.NewReader("<blk> 0\n▁a 2\n"), DefaultOpenToken)
	assert.Error(t, err, "gap at id 1")

	_, err = Load(strings.NewReader("<blk> 0\n▁a 1\n▁b 1\n"), DefaultOpenToken)
	assert.Error(t, err, "duplicate id")

	_, err = Load(strings.NewReader("<blk> 0\n▁a 1\n▁a 2\n"), DefaultOpenToken)
	assert.Error(t, err, "duplicate symbol")

	_, err = Load(strings.NewReader("<blk> 0 extra\n"), DefaultOpenToken)
	assert.Error(t, err, "malformed line")
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	v, err := Load(strings.NewReader("# table\n\n<blk> 0\n▁a 1\n"), DefaultOpenToken)
	require.NoError(t, err)
	assert.Equal(t, 2, v.NumClasses())
}

func TestIsReferenceToken(t *testing.T) {
	v, err := Load(strings.NewReader(tinyTokens), DefaultOpenToken)
	require.NoError(t, err)

	assert.False(t, v.IsReferenceToken(BlankID))
	assert.True(t, v.IsReferenceToken(1))
	assert.True(t, v.IsReferenceToken(4))
	assert.False(t, v.IsReferenceToken(v.OpenID()))
	assert.False(t, v.IsReferenceToken(-1))
}

func TestWordsGroupsPiecesAtBoundary(t *testing.T) {
	v, err := Load(strings.NewReader(tinyTokens), DefaultOpenToken)
	require.NoError(t, err)

	words, err := v.Words([]string{"▁the", "▁cat", "s", "▁sat"})
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1}, {2, 4}, {3}}, words)
}

func TestWordsEmpty(t *testing.T) {
	v, err := Load(strings.NewReader(tinyTokens), DefaultOpenToken)
	require.NoError(t, err)

	words, err := v.Words(nil)
	require.NoError(t, err)
	assert.Empty(t, words)
}

func TestWordsRejectsUnknownAndReservedPieces(t *testing.T) {
	v, err := Load(strings.NewReader(tinyTokens), DefaultOpenToken)
	require.NoError(t, err)

	for _, pieces := range [][]string{
		{"▁the", "▁dog"},
		{"▁the", "<blk>"},
		{DefaultOpenToken},
	} {
		_, err := v.Words(pieces)
		var refErr *InvalidReferenceError
		require.True(t, errors.As(err, &refErr), "pieces %v: %v", pieces, err)
		assert.Equal(t, pieces[len(pieces)-1], refErr.Symbol)
		assert.Equal(t, len(pieces)-1, refErr.Position)
	}
}

func TestTokenWords(t *testing.T) {
	assert.Equal(t, [][]int{{3}, {1}, {2}}, TokenWords([]int{3, 1, 2}))
	assert.Empty(t, TokenWords(nil))
}

func TestText(t *testing.T) {
	v, err := Load(strings.NewReader(tinyTokens), DefaultOpenToken)
	require.NoError(t, err)

	words, err := v.Words([]string{"▁the", "▁cat", "s", "▁sat"})
	require.NoError(t, err)
	assert.Equal(t, "the cats sat", v.Text(words))
	assert.Equal(t, "", v.Text(nil))
}
