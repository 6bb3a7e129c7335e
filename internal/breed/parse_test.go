package breed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		response string
		key      string
		how      Resolution
	}{
		{"strict json", `{"breed": "husky"}`, "husky", ResolvedJSON},
		{"json with prose", "Sure! {\"breed\" : \"Poodle\"} is my pick.", "poodle", ResolvedJSON},
		{"json synonym", `{"breed": "alsatian"}`, "german_shepherd", ResolvedJSON},
		{"json spaced key", `{"breed": "golden retriever"}`, "golden_retriever", ResolvedJSON},
		{"standalone phrase", "I would go with a Siberian Husky look.", "husky", ResolvedKey},
		{"spaced key", "A German Shepherd style fits best.", "german_shepherd", ResolvedKey},
		{"synonym only", "Definitely a wiener dog vibe.", "dachshund", ResolvedSynonym},
		{"partial word is not a match", "The beagles are cute.", Default, ResolvedDefault},
		{"refusal", "Sorry, I can't help with that", "", ResolvedRefusal},
		{"gibberish", "qwzx plorp", Default, ResolvedDefault},
		{"unknown json value falls through", `{"breed": "corgi"} or maybe a bulldog`, "bulldog", ResolvedKey},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			key, how := Parse(tc.response)
			assert.Equal(t, tc.key, key)
			assert.Equal(t, tc.how, how)
		})
	}
}

func TestCanonical(t *testing.T) {
	key, ok := Canonical(" Sausage Dog ")
	assert.True(t, ok)
	assert.Equal(t, "dachshund", key)

	_, ok = Canonical("corgi")
	assert.False(t, ok)
}

func TestBreedPresentation(t *testing.T) {
	shepherd := MustLookup("german_shepherd")
	assert.Equal(t, "German Shepherd", shepherd.DisplayName())
	assert.Equal(t, "pointed", shepherd.EarShape())
	assert.Equal(t, []string{"pointed ears"}, shepherd.Traits())

	beagle := MustLookup("beagle")
	assert.Equal(t, "floppy", beagle.EarShape())
	assert.Empty(t, beagle.Fur())

	husky := MustLookup("husky")
	assert.Equal(t, "thick, shaggy fur", husky.Fur())
	assert.Equal(t, []string{"striking eyes", "thicker coat texture"}, husky.Traits())

	assert.Equal(t, Default, MustLookup("corgi").Key)
	assert.Len(t, Keys(), 8)
}

func TestClassificationPromptListsEveryKey(t *testing.T) {
	prompt := ClassificationPrompt()
	assert.NotEmpty(t, prompt.System)
	for _, key := range Keys() {
		assert.Contains(t, prompt.User, key)
	}
	assert.Contains(t, prompt.User, "Golden Retriever")
}
