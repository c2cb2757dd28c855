package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	geminiDefaultTimeout = 60 * time.Second
	geminiDefaultModel   = "gemini-2.5-flash-image"
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

var dataURIPrefix = regexp.MustCompile(`^data:image/(png|jpeg|jpg|webp);base64,`)

// GeminiOptions configures the Gemini image client.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// GeminiGenerator renders images through the Gemini image model,
// passing reference images as inline parts ahead of the instruction.
type GeminiGenerator struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

type imageRequest struct {
	Contents         []imageContent   `json:"contents"`
	GenerationConfig *imageGenConfig  `json:"generationConfig,omitempty"`
}

type imageContent struct {
	Parts []imagePart `json:"parts"`
}

type imagePart struct {
	Text       string           `json:"text,omitempty"`
	InlineData *imageInlineData `json:"inlineData,omitempty"`
}

type imageInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type imageGenConfig struct {
	ImageConfig *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type imageResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *imageInlineData `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func NewGeminiGenerator(opts GeminiOptions) (*GeminiGenerator, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = geminiDefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = geminiDefaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiGenerator{
		apiKey:  opts.APIKey,
		model:   model,
		baseURL: baseURL,
		client:  client,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Asset, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, errors.New("image: empty instruction")
	}
	parts := make([]imagePart, 0, len(req.References)+1)
	for _, ref := range req.References {
		data := cleanBase64(ref)
		if data == "" {
			continue
		}
		parts = append(parts, imagePart{InlineData: &imageInlineData{
			MimeType: "image/jpeg",
			Data:     data,
		}})
	}
	parts = append(parts, imagePart{Text: req.Instruction})

	payload := imageRequest{
		Contents: []imageContent{{Parts: parts}},
	}
	if req.AspectRatio != "" {
		payload.GenerationConfig = &imageGenConfig{
			ImageConfig: &imageConfig{AspectRatio: req.AspectRatio},
		}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("image: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("image: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("image: call generator: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image: generator status %d", resp.StatusCode)
	}

	var decoded imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("image: decode response: %w", err)
	}
	for _, cand := range decoded.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("image: decode payload: %w", err)
			}
			format := part.InlineData.MimeType
			if format == "" {
				format = "image/png"
			}
			return &Asset{Data: data, Format: format}, nil
		}
	}
	return nil, errors.New("image: no image generated")
}

// cleanBase64 strips a data-URI prefix if present so the payload is
// plain base64 either way.
func cleanBase64(ref string) string {
	return strings.TrimSpace(dataURIPrefix.ReplaceAllString(ref, ""))
}

var _ Generator = (*GeminiGenerator)(nil)
