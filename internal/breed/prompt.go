package breed

import (
	"fmt"
	"strings"
)

// Prompt is the text sent alongside the portrait to the vision model.
type Prompt struct {
	System string
	User   string
}

const systemPrompt = "You help a playful photo app pick an artistic dog-themed filter for a portrait, " +
	"the same way a user might pick a lens or a colour filter. Choose the filter style whose look " +
	"(palette, texture, overall aesthetic) suits the photo best. This is a creative styling choice, " +
	"not a judgement about the person."

// ClassificationPrompt enumerates the taxonomy and asks for a strict JSON answer.
func ClassificationPrompt() Prompt {
	names := make([]string, 0, len(taxonomy))
	for _, b := range taxonomy {
		names = append(names, b.DisplayName())
	}
	keys := Keys()

	user := fmt.Sprintf(
		"Pick the dog breed filter style that would give this headshot the most appealing artistic look.\n\n"+
			"Available filter styles: %s\n\n"+
			"Reply with ONLY a JSON object shaped exactly like {\"breed\": \"labrador\"}.\n"+
			"The value must be one of these keys: %s. Use lowercase with underscores (for example \"golden_retriever\").",
		strings.Join(names, ", "),
		strings.Join(keys, ", "),
	)
	return Prompt{System: systemPrompt, User: user}
}
