package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// Gemini TTS emits 24 kHz mono 16-bit PCM.
	ttsSampleRate = 24000

	geminiDefaultTimeout = 30 * time.Second
	geminiDefaultModel   = "gemini-2.5-flash-preview-tts"
	geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultVoice   = "Kore"
)

// GeminiOptions configures the Gemini TTS client.
type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	Voice      string
	HTTPClient *http.Client
}

// GeminiTTS synthesizes voice-overs through the Gemini speech model.
type GeminiTTS struct {
	apiKey  string
	model   string
	baseURL string
	voice   string
	client  *http.Client
}

type ttsRequest struct {
	Contents         []ttsContent         `json:"contents"`
	GenerationConfig *ttsGenerationConfig `json:"generationConfig,omitempty"`
}

type ttsContent struct {
	Parts []ttsPart `json:"parts"`
}

type ttsPart struct {
	Text string `json:"text,omitempty"`
}

type ttsGenerationConfig struct {
	ResponseModalities []string         `json:"responseModalities,omitempty"`
	SpeechConfig       *ttsSpeechConfig `json:"speechConfig,omitempty"`
}

type ttsSpeechConfig struct {
	VoiceConfig ttsVoiceConfig `json:"voiceConfig"`
}

type ttsVoiceConfig struct {
	PrebuiltVoiceConfig ttsPrebuiltVoice `json:"prebuiltVoiceConfig"`
}

type ttsPrebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type ttsResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func NewGeminiTTS(opts GeminiOptions) (*GeminiTTS, error) {
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
	voice := strings.TrimSpace(opts.Voice)
	if voice == "" {
		voice = geminiDefaultVoice
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiTTS{
		apiKey:  opts.APIKey,
		model:   model,
		baseURL: baseURL,
		voice:   voice,
		client:  client,
	}, nil
}

func (g *GeminiTTS) Synthesize(ctx context.Context, req Request) (*Asset, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("speech: empty text")
	}
	payload := ttsRequest{
		Contents: []ttsContent{{Parts: []ttsPart{{Text: req.Text}}}},
		GenerationConfig: &ttsGenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &ttsSpeechConfig{
				VoiceConfig: ttsVoiceConfig{
					PrebuiltVoiceConfig: ttsPrebuiltVoice{VoiceName: g.voice},
				},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("speech: encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech: call tts: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech: tts status %d", resp.StatusCode)
	}

	var decoded ttsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("speech: decode response: %w", err)
	}
	b64 := firstAudio(decoded)
	if b64 == "" {
		return nil, errors.New("speech: no audio in response")
	}
	pcm, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("speech: decode audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("speech: empty audio payload")
	}
	return &Asset{
		Data:    wrapPCM(pcm, ttsSampleRate),
		Format:  "audio/wav",
		Seconds: pcmSeconds(pcm, ttsSampleRate),
	}, nil
}

func firstAudio(resp ttsResponse) string {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				return part.InlineData.Data
			}
		}
	}
	return ""
}

var _ Synthesizer = (*GeminiTTS)(nil)
