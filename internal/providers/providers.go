package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jo-hoe/reelcheck/internal/report"
)

// Name identifies an upstream provider strategy.
type Name string

const (
	Gemini   Name = "gemini"
	OpenAI   Name = "openai"
	DeepSeek Name = "deepseek"
	Mock     Name = "mock"
)

// ParseName validates a provider name (case-insensitive).
func ParseName(s string) (Name, error) {
	switch n := Name(strings.ToLower(strings.TrimSpace(s))); n {
	case Gemini, OpenAI, DeepSeek, Mock:
		return n, nil
	default:
		return "", fmt.Errorf("unknown provider %q", s)
	}
}

// Credentials are per-request provider credentials. An empty APIKey means the
// provider's configured default key is used.
type Credentials struct {
	APIKey string
}

// Downloader fetches the audio track of a video URL into destDir.
type Downloader interface {
	// Download returns the local path of the audio file. Failures are reported as *DownloadError.
	Download(ctx context.Context, url, destDir string) (string, error)
}

// Transcriber turns a local audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, creds Credentials) (string, error)
}

// FactCheckRequest carries the inputs of a fact-check.
type FactCheckRequest struct {
	Transcript     string
	URL            string
	OutputLanguage string
}

// FactChecker produces a validated report plus the raw provider response.
type FactChecker interface {
	FactCheck(ctx context.Context, req FactCheckRequest, creds Credentials) (*report.Report, json.RawMessage, error)
}

// DownloadError marks failures to fetch the source media.
type DownloadError struct {
	Err error
}

func (e *DownloadError) Error() string {
	if e == nil || e.Err == nil {
		return "download error"
	}
	return e.Err.Error()
}

func (e *DownloadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
