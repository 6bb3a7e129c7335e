package breed

import (
	"regexp"
	"strings"
)

// Resolution records which parsing rule produced a key.
type Resolution string

const (
	ResolvedJSON    Resolution = "json"
	ResolvedKey     Resolution = "key"
	ResolvedSynonym Resolution = "synonym"
	ResolvedRefusal Resolution = "refusal"
	ResolvedDefault Resolution = "default"

	// Set by the classifier when no response could be parsed at all.
	ResolvedAPIError     Resolution = "api_error"
	ResolvedInvalidImage Resolution = "invalid_image"
)

var (
	jsonBreedPattern = regexp.MustCompile(`\{[^}]*"breed"\s*:\s*"([^"]+)"[^}]*\}`)
	keyPatterns      = compileKeyPatterns()
	synonymPatterns  = compileSynonymPatterns()
	refusalMarkers   = []string{"sorry", "can't help", "can’t help"}
)

type wordPattern struct {
	key string
	re  *regexp.Regexp
}

func compileKeyPatterns() []wordPattern {
	var out []wordPattern
	for _, b := range taxonomy {
		out = append(out, wordPattern{key: b.Key, re: wholeWord(b.Key)})
		if spaced := strings.ReplaceAll(b.Key, "_", " "); spaced != b.Key {
			out = append(out, wordPattern{key: b.Key, re: wholeWord(spaced)})
		}
	}
	return out
}

func compileSynonymPatterns() []wordPattern {
	out := make([]wordPattern, 0, len(synonyms))
	for _, s := range synonyms {
		out = append(out, wordPattern{key: s.key, re: wholeWord(s.phrase)})
	}
	return out
}

func wholeWord(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
}

// Parse maps a model response onto a canonical key. A refusal yields an
// empty key so the caller can choose one at random.
func Parse(response string) (string, Resolution) {
	text := strings.ToLower(response)

	if m := jsonBreedPattern.FindStringSubmatch(text); m != nil {
		if key, found := Canonical(m[1]); found {
			return key, ResolvedJSON
		}
	}
	for _, p := range keyPatterns {
		if p.re.MatchString(text) {
			return p.key, ResolvedKey
		}
	}
	for _, p := range synonymPatterns {
		if p.re.MatchString(text) {
			return p.key, ResolvedSynonym
		}
	}
	for _, marker := range refusalMarkers {
		if strings.Contains(text, marker) {
			return "", ResolvedRefusal
		}
	}
	return Default, ResolvedDefault
}
