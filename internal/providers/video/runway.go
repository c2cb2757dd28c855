package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	runwayDefaultTimeout = 30 * time.Second
	runwayDefaultBaseURL = "https://api.runwayml.com"
	runwayDefaultModel   = "gen4_turbo"
	runwayAPIVersion     = "2024-11-06"
	runwayClipSeconds    = 5
)

// RunwayOptions configures the Runway image-to-video client.
type RunwayOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Version    string
	HTTPClient *http.Client
}

// Runway drives Runway's image_to_video endpoint.
type Runway struct {
	apiKey  string
	baseURL string
	model   string
	version string
	client  *http.Client
}

type runwayPromptImage struct {
	URI      string `json:"uri"`
	Position string `json:"position"`
}

type runwaySubmitRequest struct {
	Model       string              `json:"model"`
	PromptImage []runwayPromptImage `json:"promptImage"`
	PromptText  string              `json:"promptText"`
	Ratio       string              `json:"ratio"`
	Duration    int                 `json:"duration"`
}

type runwaySubmitResponse struct {
	ID string `json:"id"`
}

type runwayTaskResponse struct {
	Status string   `json:"status"`
	Output []string `json:"output"`
}

func NewRunway(opts RunwayOptions) (*Runway, error) {
	if opts.APIKey == "" {
		return nil, errors.New("runway api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = runwayDefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = runwayDefaultModel
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = runwayAPIVersion
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: runwayDefaultTimeout}
	}
	return &Runway{
		apiKey:  opts.APIKey,
		baseURL: baseURL,
		model:   model,
		version: version,
		client:  client,
	}, nil
}

func (r *Runway) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.ImageRef) == "" {
		return "", errors.New("video: source image required")
	}
	payload := runwaySubmitRequest{
		Model: r.model,
		PromptImage: []runwayPromptImage{
			{URI: req.ImageRef, Position: "first"},
		},
		PromptText: req.Motion,
		Ratio:      frameRatio(req.AspectRatio),
		Duration:   runwayClipSeconds,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", fmt.Errorf("video: encode submit: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/image_to_video", &buf)
	if err != nil {
		return "", fmt.Errorf("video: build submit: %w", err)
	}
	r.setHeaders(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("video: submit: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("video: submit status %d", resp.StatusCode)
	}

	var decoded runwaySubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("video: decode submit: %w", err)
	}
	if decoded.ID == "" {
		return "", errors.New("video: submit returned no task id")
	}
	return decoded.ID, nil
}

func (r *Runway) Status(ctx context.Context, taskID string) (Status, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/tasks/"+taskID, nil)
	if err != nil {
		return Status{}, fmt.Errorf("video: build status: %w", err)
	}
	r.setHeaders(httpReq)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Status{}, fmt.Errorf("video: poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Status{}, fmt.Errorf("video: poll status %d", resp.StatusCode)
	}

	var decoded runwayTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Status{}, fmt.Errorf("video: decode poll: %w", err)
	}
	st := Status{State: decoded.Status}
	if st.State == StateSucceeded && len(decoded.Output) > 0 {
		st.ArtifactURL = decoded.Output[0]
	}
	return st, nil
}

func (r *Runway) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Runway-Version", r.version)
}

// frameRatio maps studio aspect ratios onto the provider's fixed frame
// sizes. Unknown ratios fall back to landscape.
func frameRatio(aspect string) string {
	switch aspect {
	case "9:16", "3:4":
		return "768:1280"
	case "1:1":
		return "1024:1024"
	default:
		return "1280:768"
	}
}

var _ Client = (*Runway)(nil)
