package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	geminiDefaultTimeout = 15 * time.Second
	geminiDefaultModel   = "gemini-2.5-flash"
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// GeminiOptions configures the Gemini-backed planner.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Planner
}

// GeminiPlanner structures storyboards with a Gemini JSON-mode call.
// When the call fails and a fallback planner is configured the request
// is retried against it, so a planner outage degrades to deterministic
// output instead of a hard failure.
type GeminiPlanner struct {
	apiKey   string
	model    string
	baseURL  string
	client   *http.Client
	fallback Planner
}

type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	CandidateCount   int     `json:"candidateCount,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiPlanner(opts GeminiOptions) (*GeminiPlanner, error) {
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
	return &GeminiPlanner{
		apiKey:   opts.APIKey,
		model:    model,
		baseURL:  baseURL,
		client:   client,
		fallback: opts.Fallback,
	}, nil
}

func (g *GeminiPlanner) Plan(ctx context.Context, req Request) ([]ScenePlan, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildPlanPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature:      0.5,
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.useFallback(ctx, req, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return g.useFallback(ctx, req, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.useFallback(ctx, req, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return g.useFallback(ctx, req, fmt.Errorf("gemini status %d", resp.StatusCode))
	}

	var decoded geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return g.useFallback(ctx, req, err)
	}
	text := firstText(decoded)
	if text == "" {
		return g.useFallback(ctx, req, errors.New("empty planner response"))
	}

	var plans []ScenePlan
	if err := json.Unmarshal([]byte(text), &plans); err != nil {
		return g.useFallback(ctx, req, fmt.Errorf("parse storyboard: %w", err))
	}
	if len(plans) == 0 {
		return g.useFallback(ctx, req, errors.New("planner returned no scenes"))
	}
	if req.SceneCount > 0 && len(plans) > req.SceneCount {
		plans = plans[:req.SceneCount]
	}
	return plans, nil
}

func (g *GeminiPlanner) useFallback(ctx context.Context, req Request, cause error) ([]ScenePlan, error) {
	if g.fallback == nil {
		return nil, fmt.Errorf("plan: %w", cause)
	}
	return g.fallback.Plan(ctx, req)
}

func (g *GeminiPlanner) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
}

func buildPlanPrompt(req Request) string {
	voLang := "English"
	if strings.HasPrefix(strings.ToLower(req.Locale), "id") {
		voLang = "Bahasa Indonesia"
	}
	framing := "describe a new image to generate"
	if req.HasImages {
		framing = "describe how the uploaded image should be framed"
	}
	var b strings.Builder
	b.WriteString("You are a professional video director. Structure a video storyboard.\n")
	fmt.Fprintf(&b, "Concept: %s\n", req.Concept)
	fmt.Fprintf(&b, "Scene count: %d\n", req.SceneCount)
	fmt.Fprintf(&b, "For each scene %s.\n", framing)
	b.WriteString("Output a JSON array, one object per scene:\n")
	b.WriteString(`  visual_description: visual prompt for generation (English, photorealistic, describe motion, max 40 words)` + "\n")
	fmt.Fprintf(&b, "  vo_text: voice over script (%s, max 20 words)\n", voLang)
	b.WriteString("  shot_type: camera angle (e.g. Close Up, Wide Shot)\n")
	b.WriteString("Keep texts concise to ensure valid JSON output.")
	return b.String()
}

func firstText(resp geminiResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if strings.TrimSpace(part.Text) != "" {
				return part.Text
			}
		}
	}
	return ""
}

var _ Planner = (*GeminiPlanner)(nil)
