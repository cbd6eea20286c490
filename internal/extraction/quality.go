package extraction

import (
	"strings"
	"unicode/utf8"
)

var paywallPhrases = []string{
	"subscribe to continue",
	"subscribe to read",
	"subscription required",
	"subscribers only",
	"sign in to continue reading",
	"log in to continue reading",
	"create a free account to continue",
	"already a subscriber",
	"become a member to read",
	"to continue reading",
}

var errorPhrases = []string{
	"page not found",
	"404 not found",
	"error 404",
	"access denied",
	"403 forbidden",
	"internal server error",
	"something went wrong",
	"page does not exist",
	"page you requested could not be found",
	"no longer available",
	"enable javascript",
}

// QualitySignals are the raw observations the quality score is computed
// from. HTMLLength is zero for non-HTML documents, which disables the
// content ratio check.
type QualitySignals struct {
	Body        string
	WordCount   int
	ScriptCount int
	HTMLLength  int
}

// ScoreQuality starts at 1.0 and subtracts for every weakness found. The
// penalties are independent, so a very short page pays both word count
// penalties. The result never drops below zero.
func ScoreQuality(s QualitySignals) float64 {
	score := 1.0
	lower := strings.ToLower(s.Body)

	if s.WordCount < 100 {
		score -= 0.3
	}
	if s.WordCount < 300 {
		score -= 0.1
	}
	if s.ScriptCount > 20 {
		score -= 0.2
	}
	if containsAny(lower, paywallPhrases) {
		score -= 0.3
	}
	if s.HTMLLength > 0 && float64(len(s.Body))/float64(s.HTMLLength) < 0.1 {
		score -= 0.2
	}
	if s.WordCount < 500 && containsAny(lower, errorPhrases) {
		score -= 0.5
	}

	if score < 0 {
		return 0
	}
	return score
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

const excerptLength = 300

// Excerpt returns the first 300 characters of body. A longer body is cut at
// the last sentence end beyond 70% of that length, or failing that at the
// last word boundary with an ellipsis.
func Excerpt(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) <= excerptLength {
		return body
	}

	runes := []rune(body)
	head := string(runes[:excerptLength])
	minCut := len(string(runes[:excerptLength*7/10]))

	for i := len(head) - 1; i >= minCut; i-- {
		switch head[i] {
		case '.', '!', '?':
			if i == len(head)-1 || head[i+1] == ' ' {
				return head[:i+1]
			}
		}
	}

	if i := strings.LastIndexByte(head, ' '); i > 0 {
		return strings.TrimRight(head[:i], " ,;:") + "..."
	}
	return head + "..."
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
