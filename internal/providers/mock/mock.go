// Package mock provides offline stand-ins for the downloader, transcriber and
// fact-checker, used by development configs and tests.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jo-hoe/reelcheck/internal/config"
	"github.com/jo-hoe/reelcheck/internal/providers"
	"github.com/jo-hoe/reelcheck/internal/report"
)

var (
	_ providers.Downloader  = (*Client)(nil)
	_ providers.Transcriber = (*Client)(nil)
	_ providers.FactChecker = (*Client)(nil)
)

// Client answers every call after a fixed delay.
type Client struct {
	delay      time.Duration
	transcript string
	now        func() time.Time
}

func New(cfg config.MockSettings) *Client {
	return &Client{
		delay:      cfg.Delay,
		transcript: cfg.Transcript,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Strategy registers the mock with both capabilities.
func (c *Client) Strategy() providers.Strategy {
	return providers.Strategy{Name: providers.Mock, Transcriber: c, FactChecker: c}
}

func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Download writes a placeholder audio file into destDir.
func (c *Client) Download(ctx context.Context, url, destDir string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", &providers.DownloadError{Err: err}
	}
	p := filepath.Join(destDir, "audio.mp3")
	if err := os.WriteFile(p, []byte("mock audio for "+url), 0o600); err != nil {
		return "", &providers.DownloadError{Err: fmt.Errorf("write placeholder audio: %w", err)}
	}
	return p, nil
}

func (c *Client) Transcribe(ctx context.Context, audioPath string, _ providers.Credentials) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	if _, err := os.Stat(audioPath); err != nil {
		return "", fmt.Errorf("audio not found: %w", err)
	}
	return c.transcript, nil
}

// FactCheck returns a fixed, valid report that echoes the request.
func (c *Client) FactCheck(ctx context.Context, in providers.FactCheckRequest, _ providers.Credentials) (*report.Report, json.RawMessage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, nil, err
	}
	lang := report.NormalizeLanguage(in.OutputLanguage)
	limitations := "Generated by the mock provider; no sources were consulted."
	rep := &report.Report{
		GeneratedAt:    c.now(),
		OverallScore:   50,
		OverallVerdict: report.VerdictUnverifiable,
		Summary:        fmt.Sprintf("Mock fact-check of %d transcript characters (%s).", len(in.Transcript), report.LanguageName(lang)),
		SourcesUsed:    []report.Source{},
		WhatsRight:     []string{},
		WhatsWrong:     []string{},
		MissingContext: []string{},
		Claims: []report.ClaimCheck{{
			Claim:       in.Transcript,
			Verdict:     report.ClaimUnverifiable,
			Confidence:  0,
			Explanation: "The mock provider does not verify claims.",
			Sources:     []report.Source{},
		}},
		Danger:      []report.DangerItem{},
		Limitations: &limitations,
	}
	if in.Transcript == "" {
		rep.Claims = []report.ClaimCheck{}
	}
	if err := rep.Validate(); err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(map[string]any{
		"model":  "mock",
		"url":    in.URL,
		"report": rep,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("encode raw response: %w", err)
	}
	return rep, raw, nil
}
