package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jo-hoe/reelcheck/internal/common"
)

// Workspace hands out per-job scratch directories on local disk for
// downloaded media. Media always lives on the filesystem, whichever
// Documents backend holds the records.
type Workspace struct {
	baseDir string
}

// NewWorkspace creates a workspace that stores media below baseDir/jobs/<id>/media.
func NewWorkspace(baseDir string) *Workspace {
	return &Workspace{baseDir: baseDir}
}

// MediaDir creates the media directory for jobID and returns its path together
// with a cleanup function that removes it. The caller decides whether to call cleanup.
func (w *Workspace) MediaDir(jobID string) (string, func() error, error) {
	if strings.TrimSpace(jobID) == "" || !filepath.IsLocal(jobID) || strings.ContainsAny(jobID, `/\`) {
		return "", nil, fmt.Errorf("invalid job id %q", jobID)
	}
	dir := filepath.Join(w.baseDir, common.JobsDirName, jobID, common.MediaDirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", nil, fmt.Errorf("ensure media dir: %w", err)
	}
	cleanup := func() error {
		return os.RemoveAll(dir)
	}
	return dir, cleanup, nil
}
