// Package gemini calls the Gemini generateContent REST API for transcription
// and grounded fact-checking.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/reelcheck/internal/common"
	"github.com/jo-hoe/reelcheck/internal/config"
	"github.com/jo-hoe/reelcheck/internal/providers"
	"github.com/jo-hoe/reelcheck/internal/report"
)

var (
	_ providers.Transcriber = (*Client)(nil)
	_ providers.FactChecker = (*Client)(nil)
)

const (
	headerContentType = "Content-Type"
	headerAPIKey      = "x-goog-api-key"

	apiVersion        = "v1beta"
	errorSnippetLimit = 400

	// inline audio above this size is rejected by the API
	maxInlineAudio = 20 << 20

	transcribeInstruction = "Please transcribe the following audio file accurately. Provide only the transcription without any additional commentary."
)

var audioMimeTypes = map[string]string{
	".mp3":  "audio/mp3",
	".m4a":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
}

// ErrNoAPIKey is returned when neither the request nor the configuration supplies a key.
var ErrNoAPIKey = errors.New("no Gemini API key configured")

// Client calls the Gemini REST API.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	transcribeModel string
	factCheckModel  string
	grounding       bool
	temperature     float32
}

func New(cfg config.GeminiSettings) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		transcribeModel: cfg.TranscribeModel,
		factCheckModel:  cfg.FactCheckModel,
		grounding:       cfg.Grounding,
		temperature:     cfg.Temperature,
	}
}

// Strategy registers Gemini with both capabilities.
func (c *Client) Strategy() providers.Strategy {
	return providers.Strategy{Name: providers.Gemini, Transcriber: c, FactChecker: c}
}

func (c *Client) key(creds providers.Credentials) (string, error) {
	if k := strings.TrimSpace(creds.APIKey); k != "" {
		return k, nil
	}
	if k := strings.TrimSpace(c.apiKey); k != "" {
		return k, nil
	}
	return "", ErrNoAPIKey
}

// Transcribe sends the audio inline and returns the model's transcription.
func (c *Client) Transcribe(ctx context.Context, audioPath string, creds providers.Credentials) (string, error) {
	key, err := c.key(creds)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(audioPath) // #nosec G304 - path produced by the downloader inside the job workspace
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("audio is empty")
	}
	if len(data) > maxInlineAudio {
		return "", fmt.Errorf("audio is %d bytes, above the %d byte inline limit", len(data), maxInlineAudio)
	}
	req := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: transcribeInstruction},
				{InlineData: &inlineData{MimeType: audioMimeType(audioPath), Data: base64.StdEncoding.EncodeToString(data)}},
			},
		}},
	}
	resp, err := c.generate(ctx, c.transcribeModel, key, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.text())
	if text == "" {
		return "", errors.New("gemini: empty transcription")
	}
	return text, nil
}

// FactCheck asks the model for a JSON report, optionally grounded with Google Search.
func (c *Client) FactCheck(ctx context.Context, in providers.FactCheckRequest, creds providers.Credentials) (*report.Report, json.RawMessage, error) {
	key, err := c.key(creds)
	if err != nil {
		return nil, nil, err
	}
	prompt := report.SystemPrompt + "\n\n" +
		report.BuildUserPrompt(in.Transcript, in.URL, in.OutputLanguage) +
		"\n\nPlease respond with a valid JSON object matching this schema:\n" + report.Schema

	gen := &generationConfig{Temperature: c.temperature}
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: gen,
	}
	if c.grounding {
		// the API refuses a JSON response mime type together with search tools
		req.Tools = []tool{{GoogleSearch: &struct{}{}}}
	} else {
		gen.ResponseMimeType = common.ContentTypeJSON
	}

	resp, err := c.generate(ctx, c.factCheckModel, key, req)
	if err != nil {
		return nil, nil, err
	}
	output := resp.text()
	if strings.TrimSpace(output) == "" {
		return nil, nil, errors.New("gemini: empty model output")
	}
	rep, err := report.Decode(output)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini: %w", err)
	}

	art := rawArtifact{Model: c.factCheckModel, OutputText: output, UsageMetadata: resp.UsageMetadata}
	if len(resp.Candidates) > 0 {
		art.FinishReason = resp.Candidates[0].FinishReason
		art.GroundingMetadata = resp.Candidates[0].GroundingMetadata
	}
	raw, err := json.Marshal(art)
	if err != nil {
		return nil, nil, fmt.Errorf("encode raw response: %w", err)
	}
	return rep, raw, nil
}

func (c *Client) generate(ctx context.Context, model, key string, body generateRequest) (*generateResponse, error) {
	u, err := url.JoinPath(c.baseURL, apiVersion, "models", model+":generateContent")
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, common.ContentTypeJSON)
	req.Header.Set(headerAPIKey, key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("gemini: http do: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("gemini API error: status %d: %s", resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}
	var out generateResponse
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, fmt.Errorf("gemini: parse response: %w", err)
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini: prompt blocked: %s", out.PromptFeedback.BlockReason)
	}
	return &out, nil
}

func audioMimeType(p string) string {
	if mt, ok := audioMimeTypes[strings.ToLower(filepath.Ext(p))]; ok {
		return mt
	}
	return "audio/mpeg"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// generateContent request/response types

type generateRequest struct {
	Contents         []content         `json:"contents"`
	Tools            []tool            `json:"tools,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type generationConfig struct {
	Temperature      float32 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates     []candidate     `json:"candidates"`
	UsageMetadata  *usageMetadata  `json:"usageMetadata,omitempty"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

type candidate struct {
	Content           content         `json:"content"`
	FinishReason      string          `json:"finishReason"`
	GroundingMetadata json.RawMessage `json:"groundingMetadata,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"prompt_token_count"`
	CandidatesTokenCount int `json:"candidates_token_count"`
	TotalTokenCount      int `json:"total_token_count"`
}

// UnmarshalJSON reads the API's camelCase names; the artifact keeps snake_case.
func (u *usageMetadata) UnmarshalJSON(b []byte) error {
	var in struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*u = usageMetadata(in)
	return nil
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

// text concatenates the text parts of the first candidate.
func (r *generateResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

type rawArtifact struct {
	Model             string          `json:"model"`
	OutputText        string          `json:"output_text"`
	FinishReason      string          `json:"finish_reason,omitempty"`
	UsageMetadata     *usageMetadata  `json:"usage_metadata,omitempty"`
	GroundingMetadata json.RawMessage `json:"grounding_metadata,omitempty"`
}
