package pipeline

import (
	"fmt"

	"github.com/dunamismax/pawtrait/internal/breed"
	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/dunamismax/pawtrait/internal/mask"
)

// Models names the edit models behind each pipeline.
type Models struct {
	// Legacy backs stages 1 and 2 of dalle_gpt.
	Legacy string
	// Current backs every gpt_only stage and every final stage.
	Current string
}

// StagePlan is one fully resolved stage of a job.
type StagePlan struct {
	Number int
	Action string
	Slot   domain.Slot
	Shape  mask.Shape
	Model  string
	Prompt string
}

// BuildPlan resolves the three stages for a pipeline and breed.
func BuildPlan(kind domain.PipelineKind, b breed.Breed, models Models) ([]StagePlan, error) {
	var early string
	switch kind {
	case domain.PipelineDalleGPT:
		early = models.Legacy
	case domain.PipelineGPTOnly:
		early = models.Current
	default:
		return nil, fmt.Errorf("unknown pipeline %q", kind)
	}

	final := StagePlan{
		Number: 3,
		Action: "finalizing with " + models.Current,
		Slot:   domain.SlotFinal,
		Model:  models.Current,
	}
	if kind == domain.PipelineDalleGPT {
		final.Shape = mask.ShapeFullHead
		final.Prompt = headEnhancePrompt(b)
	} else {
		final.Shape = mask.ShapeHeadAndBody
		final.Prompt = bodyFurPrompt(b)
	}

	return []StagePlan{
		{Number: 1, Action: "adding ears", Slot: domain.SlotStage1, Shape: mask.ShapeSafeRadius, Model: early, Prompt: earsPrompt(b)},
		{Number: 2, Action: "adding snout", Slot: domain.SlotStage2, Shape: mask.ShapeFace, Model: early, Prompt: snoutPrompt(b)},
		final,
	}, nil
}
