package pipeline

import (
	"fmt"
	"strings"

	"github.com/dunamismax/pawtrait/internal/breed"
)

// earsPrompt asks for ears outside the face; the safe-radius mask keeps the
// face itself out of reach.
func earsPrompt(b breed.Breed) string {
	ears := b.DisplayName()
	if shape := b.EarShape(); shape != "" {
		ears = shape + " " + ears
	}
	return fmt.Sprintf(
		"Add two large, realistic %s dog ears, one on each side of the top of the head, placed symmetrically "+
			"outside the face. The ears must look like real fur-covered dog ears, not human ears. "+
			"Do NOT change the face: eyes, nose, mouth and skin must stay exactly as they are. "+
			"Keep the background exactly as it is. Do not add a separate dog, dog head or dog face to the picture; "+
			"only add the two ears to this person.",
		ears,
	)
}

func snoutPrompt(b breed.Breed) string {
	return fmt.Sprintf(
		"Give the face a %s dog snout and nose. Only change the nose and snout area inside the face. "+
			"Keep the eyes, the facial structure and everything outside the face exactly as they are, "+
			"and keep the background unchanged. The dog ears added earlier must stay visible and unchanged.",
		b.DisplayName(),
	)
}

// headEnhancePrompt refines the existing ears and snout without touching the body.
func headEnhancePrompt(b breed.Breed) string {
	return fmt.Sprintf(
		"Refine this human-dog hybrid portrait. Improve the fur texture, detail and realism of the %s dog ears and snout "+
			"on the head%s while keeping the same structure, composition and layout. Keep the background exactly the same.",
		b.DisplayName(),
		traitClause(b),
	)
}

// bodyFurPrompt refines the head and also covers the torso in fur.
func bodyFurPrompt(b breed.Breed) string {
	fur := "soft, fluffy dog fur"
	if f := b.Fur(); f != "" {
		fur = f
	}
	return fmt.Sprintf(
		"Refine this human-dog hybrid portrait. Improve the fur texture, detail and realism of the %s dog ears and snout "+
			"on the head%s. Also cover the shoulders, torso and body in %s in %s colouring, keeping the clothing shape visible "+
			"underneath. Keep the same structure and composition, and keep the background exactly the same.",
		b.DisplayName(),
		traitClause(b),
		fur,
		b.DisplayName(),
	)
}

func traitClause(b breed.Breed) string {
	traits := b.Traits()
	if len(traits) == 0 {
		return ""
	}
	return ", emphasising " + strings.Join(traits, ", ")
}
