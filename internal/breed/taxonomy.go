// Package breed holds the fixed dog-breed taxonomy and the classifier that
// maps a portrait onto it.
package breed

import "strings"

// Default is returned whenever classification cannot settle on a breed.
const Default = "golden_retriever"

const (
	FeaturePointedEars  = "pointed_ears"
	FeatureFloppyEars   = "floppy_ears"
	FeatureStrikingEyes = "striking_eyes"
	FeatureWrinkled     = "wrinkled"
	FeatureCurlyHair    = "curly_hair"
	FeatureThickCoat    = "thick_coat"
	FeatureLongHair     = "long_hair"
	FeatureShortHair    = "short_hair"
)

type Breed struct {
	Key         string
	Features    []string
	Description string
}

var taxonomy = []Breed{
	{Key: "golden_retriever", Features: []string{"friendly", "blonde", FeatureLongHair, "medium_size", "kind_eyes"}, Description: "friendly and gentle Golden Retriever"},
	{Key: "labrador", Features: []string{"friendly", FeatureShortHair, "medium_size", "athletic"}, Description: "friendly and energetic Labrador"},
	{Key: "german_shepherd", Features: []string{"serious", FeaturePointedEars, "medium_hair", "intelligent"}, Description: "intelligent and loyal German Shepherd"},
	{Key: "poodle", Features: []string{FeatureCurlyHair, "elegant", "small_medium", "refined"}, Description: "elegant and refined Poodle"},
	{Key: "bulldog", Features: []string{"strong", FeatureShortHair, "sturdy", FeatureWrinkled}, Description: "strong and sturdy Bulldog"},
	{Key: "beagle", Features: []string{"friendly", FeatureFloppyEars, "medium_size", "curious"}, Description: "friendly and curious Beagle"},
	{Key: "husky", Features: []string{FeatureStrikingEyes, FeatureThickCoat, "medium_large", "wolf_like"}, Description: "striking and wolf-like Siberian Husky"},
	{Key: "dachshund", Features: []string{"long_body", "short_legs", "small_medium", "determined"}, Description: "determined and distinctive Dachshund"},
}

var byKey = func() map[string]Breed {
	m := make(map[string]Breed, len(taxonomy))
	for _, b := range taxonomy {
		m[b.Key] = b
	}
	return m
}()

// synonyms is ordered; the first phrase found in a response wins.
var synonyms = []struct {
	phrase string
	key    string
}{
	{"golden retriever", "golden_retriever"},
	{"goldenretriever", "golden_retriever"},
	{"labrador retriever", "labrador"},
	{"labradorretriever", "labrador"},
	{"german shepherd", "german_shepherd"},
	{"germanshepherd", "german_shepherd"},
	{"alsatian", "german_shepherd"},
	{"english bulldog", "bulldog"},
	{"englishbulldog", "bulldog"},
	{"siberian husky", "husky"},
	{"siberianhusky", "husky"},
	{"wiener dog", "dachshund"},
	{"wienerdog", "dachshund"},
	{"sausage dog", "dachshund"},
	{"sausagedog", "dachshund"},
}

// Keys lists the canonical keys in taxonomy order.
func Keys() []string {
	keys := make([]string, len(taxonomy))
	for i, b := range taxonomy {
		keys[i] = b.Key
	}
	return keys
}

func Lookup(key string) (Breed, bool) {
	b, ok := byKey[key]
	return b, ok
}

// MustLookup returns the breed for key, or the default breed.
func MustLookup(key string) Breed {
	if b, ok := byKey[key]; ok {
		return b
	}
	return byKey[Default]
}

// Canonical resolves a key or synonym phrase to a canonical key.
func Canonical(value string) (string, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	if _, ok := byKey[value]; ok {
		return value, true
	}
	if _, ok := byKey[strings.ReplaceAll(value, " ", "_")]; ok {
		return strings.ReplaceAll(value, " ", "_"), true
	}
	for _, s := range synonyms {
		if s.phrase == value {
			return s.key, true
		}
	}
	return "", false
}

func (b Breed) Has(feature string) bool {
	for _, f := range b.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// DisplayName turns golden_retriever into Golden Retriever.
func (b Breed) DisplayName() string {
	words := strings.Split(b.Key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

// EarShape is "pointed", "floppy" or empty.
func (b Breed) EarShape() string {
	switch {
	case b.Has(FeaturePointedEars):
		return "pointed"
	case b.Has(FeatureFloppyEars):
		return "floppy"
	default:
		return ""
	}
}

// Traits describes the visible features worth carrying into prompts.
func (b Breed) Traits() []string {
	var traits []string
	for _, t := range []struct{ feature, text string }{
		{FeaturePointedEars, "pointed ears"},
		{FeatureFloppyEars, "floppy ears"},
		{FeatureStrikingEyes, "striking eyes"},
		{FeatureWrinkled, "wrinkled facial features"},
		{FeatureCurlyHair, "curly texture"},
		{FeatureThickCoat, "thicker coat texture"},
		{FeatureLongHair, "longer hair texture"},
		{FeatureShortHair, "shorter, smoother texture"},
	} {
		if b.Has(t.feature) {
			traits = append(traits, t.text)
		}
	}
	return traits
}

// Fur returns a short coat description, or empty for breeds without a
// distinctive coat.
func (b Breed) Fur() string {
	switch {
	case b.Has(FeatureLongHair):
		return "long, shaggy fur"
	case b.Has(FeatureCurlyHair):
		return "curly, shaggy fur"
	case b.Has(FeatureThickCoat):
		return "thick, shaggy fur"
	default:
		return ""
	}
}
