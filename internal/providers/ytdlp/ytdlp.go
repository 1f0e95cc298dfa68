// Package ytdlp downloads the audio track of a video URL with the yt-dlp binary.
package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/reelcheck/internal/config"
	"github.com/jo-hoe/reelcheck/internal/providers"
)

var _ providers.Downloader = (*Downloader)(nil)

const (
	outputBase   = "audio"
	stderrLimit  = 600
	partSuffix   = ".part"
	ytdlpTempExt = ".ytdl"
)

// commandResult is the captured output of one process run.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 - binary path comes from configuration
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// Downloader runs yt-dlp to extract audio into a job's media directory.
type Downloader struct {
	binaryPath  string
	cookiesFile string
	audioFormat string
	timeout     time.Duration
	runner      commandRunner
}

func New(cfg config.YtDlpSettings) *Downloader {
	return newWithRunner(cfg, execRunner{})
}

func newWithRunner(cfg config.YtDlpSettings, r commandRunner) *Downloader {
	return &Downloader{
		binaryPath:  cfg.BinaryPath,
		cookiesFile: cfg.CookiesFile,
		audioFormat: cfg.AudioFormat,
		timeout:     cfg.Timeout,
		runner:      r,
	}
}

// Download extracts the audio of url into destDir and returns the file path.
// Every failure is reported as *providers.DownloadError.
func (d *Downloader) Download(ctx context.Context, url, destDir string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", &providers.DownloadError{Err: errors.New("empty url")}
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	res, err := d.runner.Run(ctx, d.binaryPath, d.args(url, destDir)...)
	if err != nil {
		if ctx.Err() != nil {
			return "", &providers.DownloadError{Err: fmt.Errorf("yt-dlp: %w", ctx.Err())}
		}
		return "", &providers.DownloadError{Err: fmt.Errorf("yt-dlp exited with code %d: %s", res.ExitCode, lastLines(res.Stderr, stderrLimit))}
	}

	p, err := findOutput(destDir)
	if err != nil {
		return "", &providers.DownloadError{Err: err}
	}
	return p, nil
}

func (d *Downloader) args(url, destDir string) []string {
	args := []string{
		"-x",
		"--audio-format", d.audioFormat,
		"--no-playlist",
		"--no-progress",
		"-o", filepath.Join(destDir, outputBase+".%(ext)s"),
	}
	if d.cookiesFile != "" {
		args = append(args, "--cookies", d.cookiesFile)
	}
	return append(args, "--", url)
}

// findOutput locates the extracted audio file, ignoring partial downloads.
func findOutput(destDir string) (string, error) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", fmt.Errorf("read media dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, outputBase+".") {
			continue
		}
		if strings.HasSuffix(name, partSuffix) || strings.HasSuffix(name, ytdlpTempExt) {
			continue
		}
		return filepath.Join(destDir, name), nil
	}
	return "", errors.New("yt-dlp produced no audio file")
}

// lastLines keeps the tail of yt-dlp's stderr, where the actual error is printed.
func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
