package domain

// WorkState mirrors per-concern generation progress for display. The
// scheduler never reads these; they exist so the presentation layer
// can reflect what the event stream already said.
type WorkState string

const (
	WorkIdle       WorkState = ""
	WorkGenerating WorkState = "generating"
	WorkReady      WorkState = "ready"
	WorkFailed     WorkState = "failed"
)

// Scene is one ordered unit of a production run. It owns at most one
// each of image, audio, and video artifact, independently present.
type Scene struct {
	ID                string    `json:"id"`
	Position          int       `json:"position"`
	VisualInstruction string    `json:"visual_instruction"`
	VoiceOver         string    `json:"voice_over,omitempty"`
	SourceImage       string    `json:"source_image,omitempty"`
	DurationSeconds   int       `json:"duration_seconds"`
	Audio             *Artifact `json:"audio,omitempty"`
	Image             *Artifact `json:"image,omitempty"`
	Video             *Artifact `json:"video,omitempty"`
	AudioState        WorkState `json:"audio_state,omitempty"`
	ImageState        WorkState `json:"image_state,omitempty"`
	VideoState        WorkState `json:"video_state,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
}

// ImageRef returns the image the video stage should animate: a
// generated artifact wins over the user-supplied source.
func (s *Scene) ImageRef() string {
	if s.Image != nil && s.Image.Ref() != "" {
		return s.Image.Ref()
	}
	return s.SourceImage
}

// Clone returns a shallow-artifact copy safe to hand to readers while
// the pipeline keeps mutating the original.
func (s *Scene) Clone() *Scene {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
