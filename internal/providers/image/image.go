// Package image talks to the image synthesis capability.
package image

import "context"

// Request describes one image to generate. References are data URIs or
// raw base64 of the source images the composition should include, in
// tag order.
type Request struct {
	Instruction string
	References  []string
	AspectRatio string
}

// Asset is one generated image.
type Asset struct {
	Data   []byte
	Format string
	URL    string
}

// Generator produces a single image per request. Batch fan-out happens
// above this interface, never inside it.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Asset, error)
}
