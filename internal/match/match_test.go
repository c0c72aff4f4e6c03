package match

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeIdempotent(t *testing.T) {
	cases := []string{
		"(prod. Rumak) Deszcz na betonie",
		"DESZCZ na BETONIE!!",
		"  Taco   Hemingway ",
		"",
		"Björk - Jóga [Official Video]",
	}
	for _, c := range cases {
		once := Normalize(c)
		twice := Normalize(once)
		require.Equal(t, once, twice, "normalize not idempotent for %q", c)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	require.Equal(t, "", Normalize(""))
}

func TestNormalizeStripsBracketsAndNoise(t *testing.T) {
	got := Normalize("(prod. Rumak) Deszcz na betonie [Official Video]")
	require.Equal(t, "deszcz na betonie", got)
}

func TestMatchSelfReferential(t *testing.T) {
	answer := Answer{Title: "Jóga", Artist: "Björk"}
	require.True(t, Match(answer.Title, answer))
	require.True(t, Match(answer.Artist, answer))
}

func TestMatchRobustness(t *testing.T) {
	answer := Answer{Title: "Deszcz na betonie", Artist: "Taco Hemingway"}
	require.True(t, Match("Deszcz na betonie!", answer))
	require.True(t, Match("(prod. Rumak) Deszcz na betonie", answer))
}

func TestMatchCaseAndPunctuationInsensitive(t *testing.T) {
	answer := Answer{Title: "Deszcz na betonie", Artist: "Taco Hemingway"}
	require.True(t, Match("DESZCZ-NA-BETONIE!!!", answer))
	require.True(t, Match("deszcz,na,betonie", answer))
}

func TestMatchEmptyGuess(t *testing.T) {
	answer := Answer{Title: "Deszcz na betonie", Artist: "Taco Hemingway"}
	require.False(t, Match("   ", answer))
	require.False(t, Match("!!!", answer))
}

func TestMatchTokenOverlap(t *testing.T) {
	answer := Answer{Title: "Bohemian Rhapsody Live Aid Version", Artist: "Queen"}
	require.True(t, Match("version live aid rhapsody bohemian", answer))
}

func TestMatchDice(t *testing.T) {
	answer := Answer{Title: "Smells Like Teen Spirit", Artist: "Nirvana"}
	require.True(t, Match("smellz lyke teen spirit", answer))
}

func TestMatchDetailedBothCorrect(t *testing.T) {
	target := Answer{Title: "Deszcz na betonie", Artist: "Taco Hemingway"}
	got := MatchDetailed("Taco Hemingway", "Deszcz na betonie", target)
	require.True(t, got.ArtistCorrect)
	require.True(t, got.TitleCorrect)
}

func TestMatchDetailedTitleOnly(t *testing.T) {
	target := Answer{Title: "Deszcz na betonie", Artist: "Taco Hemingway"}
	got := MatchDetailed("", "deszcz na betonie", target)
	require.False(t, got.ArtistCorrect)
	require.True(t, got.TitleCorrect)
}

func TestMatchDetailedStrippedTitle(t *testing.T) {
	target := Answer{Title: "Taco Hemingway Deszcz na betonie", Artist: "Taco Hemingway"}
	got := MatchDetailed("Taco Hemingway", "Deszcz na betonii", target)
	require.True(t, got.ArtistCorrect)
	require.True(t, got.TitleCorrect)
}

func TestMatchDetailedNoneCorrect(t *testing.T) {
	target := Answer{Title: "Deszcz na betonie", Artist: "Taco Hemingway"}
	got := MatchDetailed("Kendrick Lamar", "HUMBLE", target)
	require.False(t, got.ArtistCorrect)
	require.False(t, got.TitleCorrect)
}

func TestDiceCoefficientSymmetry(t *testing.T) {
	require.Equal(t, diceCoefficient("abc", "abd"), diceCoefficient("abd", "abc"))
}
