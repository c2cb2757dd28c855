// Package speech talks to the text-to-speech capability and normalizes
// its raw PCM output into playable WAV audio with a measured duration.
package speech

import "context"

// Request carries the voice-over text plus the locale that selects
// pronunciation.
type Request struct {
	Text   string
	Locale string
}

// Asset is one synthesized voice-over clip. Seconds is measured from
// the sample count, not estimated.
type Asset struct {
	Data    []byte
	Format  string
	Seconds float64
}

// Synthesizer converts text into an audio asset.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (*Asset, error)
}
