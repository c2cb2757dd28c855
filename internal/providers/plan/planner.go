// Package plan talks to the narrative planning capability: free-text
// concept in, ordered storyboard out.
package plan

import "context"

// Request asks for a storyboard structure. HasImages tells the planner
// whether visual instructions should frame existing uploads or
// describe images to generate from scratch.
type Request struct {
	Concept    string
	SceneCount int
	HasImages  bool
	Locale     string
}

// ScenePlan is one ordered storyboard entry.
type ScenePlan struct {
	VisualInstruction string `json:"visual_description"`
	VoiceOver         string `json:"vo_text"`
	ShotType          string `json:"shot_type"`
}

// Planner produces an ordered scene plan for a concept.
type Planner interface {
	Plan(ctx context.Context, req Request) ([]ScenePlan, error)
}
