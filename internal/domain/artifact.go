package domain

// Artifact is a handle to one piece of generated media. URL points at
// provider- or locally-hosted content; Data carries inline bytes when
// the provider returned them directly. Seconds is the measured length
// of audio artifacts and zero otherwise.
type Artifact struct {
	URL     string  `json:"url,omitempty"`
	Format  string  `json:"format,omitempty"`
	Data    []byte  `json:"-"`
	Seconds float64 `json:"seconds,omitempty"`
}

// Ref returns the most portable reference to the artifact.
func (a *Artifact) Ref() string {
	if a == nil {
		return ""
	}
	return a.URL
}
