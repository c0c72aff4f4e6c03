// Package match normalizes free-form guess text and decides whether a
// guess identifies a (title, artist) pair. It is pure and side-effect
// free: every exported function is deterministic given its inputs.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var foldCaser = cases.Fold()

// noiseRe matches filler tokens that appear in uploaded track titles but
// never in a guess worth crediting. Word-bounded so "ft" inside a word
// ("fifty") survives.
var noiseRe = regexp.MustCompile(`(?i)\b(official video|lyrics?|audio|remaster(?:ed)?|hd|hq|mv|feat\.?|ft\.?|prod\.?|produced by)\b`)

// Answer is the canonical (title, artist) pair a round is scored against.
type Answer struct {
	Title  string
	Artist string
}

// DetailedResult reports per-field correctness for buzzer/host verification.
type DetailedResult struct {
	ArtistCorrect bool
	TitleCorrect  bool
}

// Normalize reduces s to a canonical comparable form: bracketed asides and
// noise tokens stripped, folded to lowercase, punctuation collapsed to
// whitespace, and runs of whitespace collapsed to single spaces.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	// NFC first so composed and decomposed accents produce identical
	// code points, which the bigram similarity below depends on.
	s = norm.NFC.String(s)
	s = stripBalanced(s)
	s = stripNoise(s)
	s = foldCaser.String(s)
	s = stripNonLetterNumber(s)
	s = collapseWhitespace(s)

	return s
}

// stripBalanced replaces every balanced (...), [...], {...} span with a
// single space, in one left-to-right pass (non-greedy: the first closer
// after an opener ends the span).
func stripBalanced(s string) string {
	openers := map[rune]rune{'(': ')', '[': ']', '{': '}'}

	var b strings.Builder
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		if closer, ok := openers[r]; ok {
			j := i + 1
			for j < len(runes) && runes[j] != closer {
				j++
			}
			if j < len(runes) {
				b.WriteRune(' ')
				i = j + 1
				continue
			}
		}
		b.WriteRune(r)
		i++
	}
	return b.String()
}

func stripNoise(s string) string {
	return noiseRe.ReplaceAllString(s, " ")
}

func stripNonLetterNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// tokens splits a normalized string into tokens longer than 2 code points.
func tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.Fields(s) {
		if len([]rune(f)) > 2 {
			set[f] = struct{}{}
		}
	}
	return set
}

func tokenOverlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	overlap := 0
	for t := range a {
		if _, ok := b[t]; ok {
			overlap++
		}
	}
	ratioA := float64(overlap) / float64(len(a))
	ratioB := float64(overlap) / float64(len(b))
	if ratioA > ratioB {
		return ratioA
	}
	return ratioB
}

// bigrams returns the multiset of code-point bigrams of s, for Dice
// coefficient similarity.
func bigrams(s string) map[string]int {
	runes := []rune(s)
	out := make(map[string]int)
	if len(runes) < 2 {
		if len(runes) == 1 {
			out[string(runes)]++
		}
		return out
	}
	for i := 0; i < len(runes)-1; i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}

// diceCoefficient computes bigram-overlap similarity in [0,1].
func diceCoefficient(a, b string) float64 {
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 && len(bb) == 0 {
		if a == b {
			return 1
		}
		return 0
	}

	var total int
	for _, n := range ba {
		total += n
	}
	for _, n := range bb {
		total += n
	}
	if total == 0 {
		return 0
	}

	var shared int
	for g, n := range ba {
		if m, ok := bb[g]; ok {
			if n < m {
				shared += n
			} else {
				shared += m
			}
		}
	}

	return 2 * float64(shared) / float64(total)
}

func substringEitherWay(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Match implements the unified text-mode match: a normalized guess is
// checked against a normalized target title and artist independently,
// accepting any of substring containment, token overlap, or Dice
// similarity.
func Match(guess string, answer Answer) bool {
	ng := Normalize(guess)
	if ng == "" {
		return false
	}

	nTitle := Normalize(answer.Title)
	nArtist := Normalize(answer.Artist)

	if matchesTarget(ng, nTitle, 0.7, 0.65) || matchesTarget(ng, nArtist, 0.7, 0.65) {
		return true
	}
	return false
}

func matchesTarget(normGuess, normTarget string, overlapThreshold, diceThreshold float64) bool {
	if normTarget == "" {
		return false
	}
	if substringEitherWay(normGuess, normTarget) {
		return true
	}
	gTokens, tTokens := tokens(normGuess), tokens(normTarget)
	if len(gTokens) > 0 && len(tTokens) > 0 && tokenOverlapRatio(gTokens, tTokens) >= overlapThreshold {
		return true
	}
	if diceCoefficient(normGuess, normTarget) >= diceThreshold {
		return true
	}
	return false
}

// strippedTitle removes the target artist's normalized form from the
// target title's normalized form, when the title textually contains it.
func strippedTitle(normTitle, normArtist string) (string, bool) {
	if normArtist == "" || !strings.Contains(normTitle, normArtist) {
		return "", false
	}
	stripped := strings.Replace(normTitle, normArtist, "", 1)
	return collapseWhitespace(stripped), true
}

func matchesSide(normGuess, normTarget string) bool {
	if normGuess == "" || normTarget == "" {
		return false
	}
	if normGuess == normTarget {
		return true
	}
	if substringEitherWay(normGuess, normTarget) {
		return true
	}
	gTokens, tTokens := tokens(normGuess), tokens(normTarget)
	if len(gTokens) > 0 && len(tTokens) > 0 && tokenOverlapRatio(gTokens, tTokens) >= 0.7 {
		return true
	}
	if diceCoefficient(normGuess, normTarget) >= 0.7 {
		return true
	}
	return false
}

// MatchDetailed implements the detailed match used by buzzer-mode host
// verification: artist and title are scored independently against their
// respective targets, with the title side additionally accepting the
// artist-stripped form of the target title.
func MatchDetailed(guessArtist, guessTitle string, target Answer) DetailedResult {
	normGuessArtist := Normalize(guessArtist)
	normGuessTitle := Normalize(guessTitle)
	normTargetArtist := Normalize(target.Artist)
	normTargetTitle := Normalize(target.Title)

	result := DetailedResult{
		ArtistCorrect: matchesSide(normGuessArtist, normTargetArtist),
		TitleCorrect:  matchesSide(normGuessTitle, normTargetTitle),
	}

	if !result.TitleCorrect {
		if stripped, ok := strippedTitle(normTargetTitle, normTargetArtist); ok {
			result.TitleCorrect = matchesSide(normGuessTitle, stripped)
		}
	}

	return result
}
