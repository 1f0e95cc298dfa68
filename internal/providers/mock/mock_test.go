package mock

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/reelcheck/internal/config"
	"github.com/jo-hoe/reelcheck/internal/providers"
)

func TestMock_FullPipeline(t *testing.T) {
	c := New(config.MockSettings{Transcript: "The earth is round."})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	audio, err := c.Download(ctx, "https://example.com/v", t.TempDir())
	if err != nil {
		t.Fatalf("Download error: %v", err)
	}
	if _, err := os.Stat(audio); err != nil {
		t.Fatalf("placeholder audio missing: %v", err)
	}

	text, err := c.Transcribe(ctx, audio, providers.Credentials{})
	if err != nil || text != "The earth is round." {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}

	rep, raw, err := c.FactCheck(ctx, providers.FactCheckRequest{Transcript: text, URL: "https://example.com/v", OutputLanguage: "en"}, providers.Credentials{})
	if err != nil {
		t.Fatalf("FactCheck error: %v", err)
	}
	if !strings.Contains(rep.Summary, "English") {
		t.Fatalf("summary should name the output language, got %q", rep.Summary)
	}
	if len(rep.Claims) != 1 || rep.Claims[0].Claim != text {
		t.Fatalf("unexpected claims: %+v", rep.Claims)
	}
	if !strings.Contains(string(raw), `"model":"mock"`) {
		t.Fatalf("raw artifact missing model: %s", raw)
	}
}

func TestMock_RespectsContextCancel(t *testing.T) {
	c := New(config.MockSettings{Delay: 200 * time.Millisecond, Transcript: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	if _, err := c.Transcribe(ctx, "whatever.mp3", providers.Credentials{}); err == nil {
		t.Fatalf("expected context cancellation error")
	}
	_, err := c.Download(ctx, "https://example.com/v", t.TempDir())
	var de *providers.DownloadError
	if !errors.As(err, &de) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected DownloadError wrapping context.Canceled, got %v", err)
	}
}

func TestMock_Strategy(t *testing.T) {
	s := New(config.MockSettings{}).Strategy()
	if s.Name != providers.Mock || !s.CanTranscribe() || s.FactChecker == nil {
		t.Fatalf("unexpected strategy: %+v", s)
	}
}
