// Package matcher scores free-text guesses against a round's title and artist.
package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	TitlePoints  = 20
	ArtistPoints = 10

	minTokenOverlap = 0.6
	minSimilarity   = 0.65
)

// Target is the answer a guess is compared against.
type Target struct {
	Title  string
	Artist string
}

// Award records which bonuses a player already earned in the current round.
type Award struct {
	Title  bool `json:"title"`
	Artist bool `json:"artist"`
}

func (a Award) Any() bool {
	return a.Title || a.Artist
}

// Result is the outcome of scoring one guess. Awarded holds only the
// bonuses granted by this guess.
type Result struct {
	Points  int
	Awarded Award
}

// Score awards each bonus at most once per round: a bonus already set in
// already is never granted again.
func Score(answer string, target Target, already Award) Result {
	var result Result
	if !already.Title && Matches(answer, target.Title) {
		result.Points += TitlePoints
		result.Awarded.Title = true
	}
	if !already.Artist && Matches(answer, target.Artist) {
		result.Points += ArtistPoints
		result.Awarded.Artist = true
	}
	return result
}

func Matches(answer, target string) bool {
	a := Normalize(answer)
	t := Normalize(target)
	if a == "" || t == "" {
		return false
	}
	if strings.Contains(a, t) || strings.Contains(t, a) {
		return true
	}
	if tokenOverlap(a, t) >= minTokenOverlap {
		return true
	}
	return similarity(a, t) >= minSimilarity
}

// Normalize lowercases, strips diacritics, turns punctuation into spaces
// and collapses runs of whitespace.
func Normalize(value string) string {
	if value == "" {
		return ""
	}
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(stripMarks, value)
	if err != nil {
		stripped = value
	}
	var b strings.Builder
	b.Grow(len(stripped))
	for _, r := range strings.ToLower(stripped) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteRune(' ')
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenOverlap is the fraction of target tokens present in the answer.
func tokenOverlap(answer, target string) float64 {
	targetTokens := strings.Fields(target)
	if len(targetTokens) == 0 {
		return 0
	}
	answerTokens := make(map[string]struct{})
	for _, token := range strings.Fields(answer) {
		answerTokens[token] = struct{}{}
	}
	hits := 0
	for _, token := range targetTokens {
		if _, ok := answerTokens[token]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(targetTokens))
}

func similarity(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
