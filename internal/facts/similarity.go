package facts

import (
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

type wordSet map[string]struct{}

// newWordSet tokenizes text into its set of lowercase words. Punctuation
// tokens are discarded.
func newWordSet(text string) wordSet {
	set := make(wordSet)
	for _, tok := range tokenize(text) {
		w := strings.ToLower(tok)
		if strings.IndexFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithSegmentation(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return strings.Fields(text)
	}
	tokens := doc.Tokens()
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

// Jaccard is |a ∩ b| / |a ∪ b| over the two texts' word sets.
func Jaccard(a, b string) float64 {
	return jaccard(newWordSet(a), newWordSet(b))
}

func jaccard(a, b wordSet) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
