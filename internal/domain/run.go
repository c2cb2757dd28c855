package domain

import "time"

// RunStatus enumerates production-run lifecycle states.
type RunStatus string

const (
	RunPlanning   RunStatus = "planning"
	RunGenerating RunStatus = "generating"
	RunReady      RunStatus = "ready"
	RunFailed     RunStatus = "failed"
)

// Run is one production run: an ordered scene list plus the inputs the
// plan was derived from. Order is playback order and survives every
// stage.
type Run struct {
	ID          string    `json:"id"`
	Concept     string    `json:"concept,omitempty"`
	AspectRatio string    `json:"aspect_ratio"`
	Locale      string    `json:"locale,omitempty"`
	BrandStyle  string    `json:"brand_style,omitempty"`
	SceneCount  int       `json:"scene_count,omitempty"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	Scenes      []*Scene  `json:"scenes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SceneTarget returns how many scenes the plan should produce:
// existing scenes win, then the requested count, then the default.
func (r *Run) SceneTarget(fallback int) int {
	if len(r.Scenes) > 0 {
		return len(r.Scenes)
	}
	if r.SceneCount > 0 {
		return r.SceneCount
	}
	return fallback
}

// Scene returns the scene with the given id, or nil.
func (r *Run) Scene(id string) *Scene {
	for _, s := range r.Scenes {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Clone returns a copy whose scene slice is independent of the
// original, for read-side snapshots.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Scenes = make([]*Scene, len(r.Scenes))
	for i, s := range r.Scenes {
		c.Scenes[i] = s.Clone()
	}
	return &c
}
