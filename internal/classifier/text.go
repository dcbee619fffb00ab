package classifier

import (
	"regexp"
	"strings"
)

// tokens are runs of two or more word characters
var tokenPattern = regexp.MustCompile(`[a-z0-9_]{2,}`)

var wordPattern = regexp.MustCompile(`[a-zA-Z]+`)

// englishStopWords is the common English function-word list used when
// stop-word removal is enabled.
var englishStopWords = toSet(`a about above across after afterwards again against all almost alone along
already also although always am among amongst an and another any anyhow anyone anything anyway
anywhere are around as at be became because become becomes becoming been before beforehand behind
being below beside besides between beyond both but by can cannot could did do does doing done down
due during each eg either else elsewhere enough etc even ever every everyone everything everywhere
except few for former formerly from further had has have having he hence her here hereafter hereby
herein hereupon hers herself him himself his how however i ie if in indeed into is it its itself
just keep last latter latterly least less ltd made many may me meanwhile might mine more moreover
most mostly much must my myself namely neither never nevertheless next no nobody none noone nor not
nothing now nowhere of off often on once one only onto or other others otherwise our ours ourselves
out over own per perhaps please put rather re same see seem seemed seeming seems several she should
since so some somehow someone something sometime sometimes somewhere still such than that the their
them themselves then thence there thereafter thereby therefore therein thereupon these they this
those though through throughout thru thus to together too toward towards under until up upon us
very via was we well were what whatever when whence whenever where whereafter whereas whereby
wherein whereupon wherever whether which while whither who whoever whole whom whose why will with
within without would yet you your yours yourself yourselves`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// IsStopWord reports whether token is an English stop word.
func IsStopWord(token string) bool {
	_, ok := englishStopWords[strings.ToLower(token)]
	return ok
}

// Tokenize lowercases text and splits it into word tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// ContentTokens returns the tokens left after stop-word removal.
func ContentTokens(text string) []string {
	var out []string
	for _, tok := range Tokenize(text) {
		if !IsStopWord(tok) {
			out = append(out, tok)
		}
	}
	return out
}

// Words returns the alphabetic words of text in their original case.
func Words(text string) []string {
	return wordPattern.FindAllString(text, -1)
}
