package domain

// JobKind enumerates the generation capabilities a job can invoke.
type JobKind string

const (
	JobPlan   JobKind = "plan"
	JobSpeech JobKind = "speech"
	JobImage  JobKind = "image"
	JobVideo  JobKind = "video"
)

// JobPolicy prices one job kind and decides its compensation behavior.
// RefundOnFailure is deliberately a data bit rather than a kind switch:
// today only video jobs are charged on submission and refunded on
// confirmed failure, while the cheap kinds are charge-and-forget.
type JobPolicy struct {
	Cost            int64
	RefundOnFailure bool
}

// PolicyTable maps job kinds to their pricing policies.
type PolicyTable map[JobKind]JobPolicy

// DefaultPolicies returns the pricing observed in production: planning
// is free, speech costs 1, images 5, video 25 with compensation.
func DefaultPolicies() PolicyTable {
	return PolicyTable{
		JobPlan:   {Cost: 0},
		JobSpeech: {Cost: 1},
		JobImage:  {Cost: 5},
		JobVideo:  {Cost: 25, RefundOnFailure: true},
	}
}

// JobRequest describes one unit of work for the executor. Immutable
// once submitted.
type JobRequest struct {
	ID              string
	Kind            JobKind
	Cost            int64
	RefundOnFailure bool
	Payload         any
}

// Capability payloads. The executor dispatches on the concrete type.

type PlanPayload struct {
	Concept    string
	SceneCount int
	HasScenes  bool
	Locale     string
}

type SpeechPayload struct {
	Text   string
	Locale string
}

type ImagePayload struct {
	Instruction string
	References  []string
	AspectRatio string
}

type VideoPayload struct {
	ImageRef    string
	Motion      string
	AspectRatio string
}

// ScenePlan is one entry of the planner's ordered storyboard output.
type ScenePlan struct {
	VisualInstruction string
	VoiceOver         string
	ShotType          string
}

// JobOutcome is the single result every JobRequest receives: either an
// artifact (plans for the plan kind) or a taxonomy error, never both.
type JobOutcome struct {
	JobID    string
	Kind     JobKind
	Artifact *Artifact
	Plans    []ScenePlan
	Err      error
}

// Failed reports whether the outcome is the failure variant.
func (o JobOutcome) Failed() bool {
	return o.Err != nil
}
