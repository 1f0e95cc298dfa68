package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/reelcheck/internal/common"
	"github.com/jo-hoe/reelcheck/internal/providers"
	"github.com/jo-hoe/reelcheck/internal/report"
)

// Status represents the lifecycle stage of a fact-check job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusDownloading  Status = "downloading"
	StatusTranscribing Status = "transcribing"
	StatusFactChecking Status = "fact_checking"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

var statusRank = map[Status]int{
	StatusQueued:       0,
	StatusDownloading:  1,
	StatusTranscribing: 2,
	StatusFactChecking: 3,
	StatusCompleted:    4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusFailed
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether a pipeline run is between queued and a terminal state.
func (s Status) InFlight() bool {
	return s == StatusDownloading || s == StatusTranscribing || s == StatusFactChecking
}

// canTransition allows staying in place, moving forward, or failing from any non-terminal state.
func canTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || from == to {
		return true
	}
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

// Job describes a single fact-check request and its lifecycle.
type Job struct {
	ID             string         `json:"id"`
	URL            string         `json:"url"`             // original input URL, used for display and download
	OutputLanguage string         `json:"output_language"` // normalized language code
	Provider       providers.Name `json:"provider"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Progress       int            `json:"progress"`
	Error          *string        `json:"error,omitempty"`
	Transcript     *string        `json:"transcript,omitempty"`
	Report         *report.Report `json:"report,omitempty"`
}

// validate checks a job loaded from durable storage.
func (j *Job) validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("missing id")
	}
	if j.URL == "" {
		return errors.New("missing url")
	}
	if !j.Status.Valid() {
		return fmt.Errorf("invalid status %q", j.Status)
	}
	if j.Progress < 0 || j.Progress > common.ProgressDone {
		return fmt.Errorf("progress %d out of range", j.Progress)
	}
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() {
		return errors.New("missing timestamps")
	}
	if j.Report != nil {
		if err := j.Report.Validate(); err != nil {
			return fmt.Errorf("report: %w", err)
		}
	}
	return nil
}

// Patch enumerates the fields the pipeline may change on a job. Nil fields are left untouched.
type Patch struct {
	Status     *Status
	Progress   *int
	Error      *string
	ClearError bool
	Transcript *string
	Report     *report.Report
}

// Stage moves a job to status with the given progress checkpoint.
func Stage(status Status, progress int) Patch {
	return Patch{Status: &status, Progress: &progress}
}

// Failed moves a job to the failed state with msg as its error.
func Failed(msg string) Patch {
	p := Stage(StatusFailed, common.ProgressDone)
	p.Error = &msg
	return p
}

// apply returns a copy of j with the patch merged in.
func (p Patch) apply(j Job) Job {
	if p.Status != nil {
		j.Status = *p.Status
	}
	if p.Progress != nil {
		j.Progress = *p.Progress
	}
	if p.ClearError {
		j.Error = nil
	}
	if p.Error != nil {
		msg := *p.Error
		j.Error = &msg
	}
	if p.Transcript != nil {
		t := *p.Transcript
		j.Transcript = &t
	}
	if p.Report != nil {
		j.Report = p.Report
	}
	return j
}

// HistoryItem is the projection of a job shown in the history listing.
type HistoryItem struct {
	ID             string                 `json:"id"`
	URL            string                 `json:"url"`
	OutputLanguage string                 `json:"output_language"`
	Provider       providers.Name         `json:"provider,omitempty"`
	Status         Status                 `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	OverallScore   *int                   `json:"overall_score,omitempty"`
	OverallVerdict *report.OverallVerdict `json:"overall_verdict,omitempty"`
	Summary        *string                `json:"summary,omitempty"`
}

func historyItem(j Job) HistoryItem {
	item := HistoryItem{
		ID:             j.ID,
		URL:            j.URL,
		OutputLanguage: j.OutputLanguage,
		Provider:       j.Provider,
		Status:         j.Status,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if r := j.Report; r != nil {
		score, verdict, summary := r.OverallScore, r.OverallVerdict, r.Summary
		item.OverallScore = &score
		item.OverallVerdict = &verdict
		item.Summary = &summary
	}
	return item
}
