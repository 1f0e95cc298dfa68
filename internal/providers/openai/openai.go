// Package openai talks to OpenAI-compatible APIs (OpenAI itself and DeepSeek)
// for audio transcription and fact-checking.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
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
	// Headers
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"

	// Auth
	authSchemeBearer = "Bearer"

	// Endpoints, relative to a base URL that already carries the API version
	endpointChatCompletions = "chat/completions"
	endpointTranscriptions  = "audio/transcriptions"

	errorSnippetLimit = 400
)

// Role represents the sender role for a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrNoAPIKey is returned when neither the request nor the configuration supplies a key.
var ErrNoAPIKey = errors.New("no API key configured")

// Client calls an OpenAI-compatible API.
type Client struct {
	name            providers.Name
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	model           string
	transcribeModel string
	temperature     *float32
	maxTokens       *int
}

// New creates a client for the named provider. An empty TranscribeModel leaves
// the client without transcription capability (see Strategy).
func New(name providers.Name, cfg config.OpenAISettings) *Client {
	return &Client{
		name:            name,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		model:           cfg.Model,
		transcribeModel: cfg.TranscribeModel,
		temperature:     optionalFloat32(cfg.Temperature),
		maxTokens:       optionalInt(cfg.MaxTokens),
	}
}

// Strategy registers the client, tagging transcription capability by configuration.
func (c *Client) Strategy() providers.Strategy {
	s := providers.Strategy{Name: c.name, FactChecker: c}
	if c.transcribeModel != "" {
		s.Transcriber = c
	}
	return s
}

func (c *Client) key(creds providers.Credentials) (string, error) {
	if k := strings.TrimSpace(creds.APIKey); k != "" {
		return k, nil
	}
	if k := strings.TrimSpace(c.apiKey); k != "" {
		return k, nil
	}
	return "", fmt.Errorf("%s: %w", c.name, ErrNoAPIKey)
}

// Transcribe uploads the audio file to the transcription endpoint and returns plain text.
func (c *Client) Transcribe(ctx context.Context, audioPath string, creds providers.Credentials) (string, error) {
	if c.transcribeModel == "" {
		return "", fmt.Errorf("%s does not support transcription", c.name)
	}
	key, err := c.key(creds)
	if err != nil {
		return "", err
	}
	f, err := os.Open(audioPath) // #nosec G304 - path produced by the downloader inside the job workspace
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer func() { _ = f.Close() }()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("model", c.transcribeModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "text"); err != nil {
		return "", fmt.Errorf("write format field: %w", err)
	}
	part, err := mw.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	respBytes, err := c.post(ctx, endpointTranscriptions, key, mw.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(string(respBytes))
	// Some compatible servers ignore response_format=text and answer with {"text": ...}.
	if strings.HasPrefix(text, "{") {
		var tr struct {
			Text string `json:"text"`
		}
		if json.Unmarshal(respBytes, &tr) == nil {
			text = strings.TrimSpace(tr.Text)
		}
	}
	if text == "" {
		return "", fmt.Errorf("%s: empty transcription", c.name)
	}
	return text, nil
}

// FactCheck asks the chat model for a JSON report and validates it. The raw
// completion response is returned as the artifact.
func (c *Client) FactCheck(ctx context.Context, in providers.FactCheckRequest, creds providers.Credentials) (*report.Report, json.RawMessage, error) {
	key, err := c.key(creds)
	if err != nil {
		return nil, nil, err
	}
	reqBody := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: RoleSystem, Content: report.SystemPromptWithSchema()},
			{Role: RoleUser, Content: report.BuildUserPrompt(in.Transcript, in.URL, in.OutputLanguage)},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		ResponseFmt: &responseFormat{Type: "json_object"},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	respBytes, err := c.post(ctx, endpointChatCompletions, key, common.ContentTypeJSON, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, nil, err
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return nil, nil, fmt.Errorf("%s: parse response: %w", c.name, err)
	}
	if len(comp.Choices) == 0 || strings.TrimSpace(comp.Choices[0].Message.Content) == "" {
		return nil, nil, fmt.Errorf("%s: empty model output", c.name)
	}
	rep, err := report.Decode(comp.Choices[0].Message.Content)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", c.name, err)
	}
	return rep, json.RawMessage(respBytes), nil
}

func (c *Client) post(ctx context.Context, endpoint, key, contentType string, body io.Reader) ([]byte, error) {
	u, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set(headerContentType, contentType)
	req.Header.Set(headerAuthorization, authSchemeBearer+" "+key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s: http do: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s API error: status %d: %s", c.name, resp.StatusCode, truncate(string(respBytes), errorSnippetLimit))
	}
	return respBytes, nil
}

func optionalFloat32(v float32) *float32 {
	if v == 0 {
		return nil
	}
	return &v
}

func optionalInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OpenAI-compatible Chat Completions request/response types

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []chatMessage   `json:"messages"`
	Temperature *float32        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	ResponseFmt *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *chatCompletionUsage   `json:"usage,omitempty"`
}

type chatCompletionChoice struct {
	Index        int         `json:"index"`
	Message      responseMsg `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type responseMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
