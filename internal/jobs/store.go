package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jo-hoe/reelcheck/internal/common"
	"github.com/jo-hoe/reelcheck/internal/providers"
	"github.com/jo-hoe/reelcheck/internal/report"
	"github.com/jo-hoe/reelcheck/internal/storage"
	"github.com/jo-hoe/reelcheck/internal/urlnorm"
	"github.com/jo-hoe/reelcheck/internal/util"
)

var (
	// ErrNotFound is returned when a job exists neither in memory nor in durable storage.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when updating a completed or failed job.
	ErrTerminal = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned for backward status moves or progress regressions.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// CreateRequest describes a fact-check request as seen by FindOrCreate.
type CreateRequest struct {
	URL            string
	OutputLanguage string
	Provider       providers.Name
	Force          bool
}

// Store owns the in-memory job table, the cache index and the set of active runs.
// All three are guarded by one mutex that is never held across provider calls.
type Store struct {
	log  *slog.Logger
	docs storage.Documents

	mu      sync.Mutex
	jobs    map[string]Job
	index   map[string]string // cache key -> job id
	running map[string]struct{}

	now   func() time.Time
	newID func() string
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides job id allocation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// NewStore creates a store on top of docs and loads the cache index.
// A corrupt index is logged and replaced by an empty one.
func NewStore(log *slog.Logger, docs storage.Documents, opts ...Option) (*Store, error) {
	s := &Store{
		log:     log,
		docs:    docs,
		jobs:    make(map[string]Job),
		index:   make(map[string]string),
		running: make(map[string]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   util.NewID,
	}
	for _, o := range opts {
		o(s)
	}
	data, err := docs.Read(storage.IndexPath())
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load cache index: %w", err)
	default:
		if err := json.Unmarshal(data, &s.index); err != nil {
			s.log.Warn("cache index unreadable, starting empty", "err", err)
			s.index = nil
		}
		if s.index == nil {
			s.index = make(map[string]string)
		}
	}
	return s, nil
}

// CacheKey builds the dedup key from the normalized URL, language and provider.
func CacheKey(url, outputLanguage string, provider providers.Name) string {
	return urlnorm.Normalize(url) + "||" + report.NormalizeLanguage(outputLanguage) + "||" + string(provider)
}

// FindOrCreate returns the cached job for the request shape unless force is set
// or the cached job failed; otherwise it persists a fresh queued job and points
// the cache index at it. The bool result reports a cache hit.
func (s *Store) FindOrCreate(req CreateRequest) (Job, bool, error) {
	lang := report.NormalizeLanguage(req.OutputLanguage)
	key := CacheKey(req.URL, lang, req.Provider)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !req.Force {
		if id, ok := s.index[key]; ok {
			if j, err := s.getLocked(id); err == nil && j.Status != StatusFailed {
				return j, true, nil
			}
		}
	}

	now := s.now()
	job := Job{
		ID:             s.newID(),
		URL:            strings.TrimSpace(req.URL),
		OutputLanguage: lang,
		Provider:       req.Provider,
		Status:         StatusQueued,
		CreatedAt:      now,
		UpdatedAt:      now,
		Progress:       0,
	}
	if _, err := storage.WriteJSON(s.docs, storage.JobPath(job.ID), job); err != nil {
		return Job{}, false, fmt.Errorf("persist job: %w", err)
	}
	s.jobs[job.ID] = job

	prev, hadPrev := s.index[key]
	s.index[key] = job.ID
	if _, err := storage.WriteJSON(s.docs, storage.IndexPath(), s.index); err != nil {
		if hadPrev {
			s.index[key] = prev
		} else {
			delete(s.index, key)
		}
		return Job{}, false, fmt.Errorf("persist cache index: %w", err)
	}
	s.log.Info("job created", "job_id", job.ID, "provider", job.Provider, "force", req.Force)
	return job, false, nil
}

// Get returns the job from memory, falling back to durable storage.
func (s *Store) Get(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id string) (Job, error) {
	if j, ok := s.jobs[id]; ok {
		return j, nil
	}
	j, err := s.load(id)
	if err != nil {
		return Job{}, err
	}
	s.jobs[id] = j
	return j, nil
}

// load reads and validates a persisted job. Unreadable documents count as absent.
func (s *Store) load(id string) (Job, error) {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return Job{}, ErrNotFound
	}
	var j Job
	found, err := storage.ReadJSON(s.docs, storage.JobPath(id), &j)
	if !found {
		if err != nil {
			s.log.Warn("job document unreadable", "job_id", id, "err", err)
		}
		return Job{}, ErrNotFound
	}
	if err == nil {
		err = j.validate()
	}
	if err == nil && j.ID != id {
		err = fmt.Errorf("id mismatch: %q", j.ID)
	}
	if err != nil {
		s.log.Warn("job document invalid", "job_id", id, "err", err)
		return Job{}, ErrNotFound
	}
	return j, nil
}

// Update merges p into the job, stamps updated_at and persists the full record.
func (s *Store) Update(id string, p Patch) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.getLocked(id)
	if err != nil {
		return Job{}, err
	}
	if cur.Status.IsTerminal() {
		return Job{}, fmt.Errorf("update %s: %w", id, ErrTerminal)
	}
	next := p.apply(cur)
	if !canTransition(cur.Status, next.Status) {
		return Job{}, fmt.Errorf("update %s: %s -> %s: %w", id, cur.Status, next.Status, ErrInvalidTransition)
	}
	if next.Progress < cur.Progress || next.Progress > common.ProgressDone {
		return Job{}, fmt.Errorf("update %s: progress %d -> %d: %w", id, cur.Progress, next.Progress, ErrInvalidTransition)
	}
	next.UpdatedAt = s.now()
	if _, err := storage.WriteJSON(s.docs, storage.JobPath(id), next); err != nil {
		return Job{}, fmt.Errorf("persist job: %w", err)
	}
	s.jobs[id] = next
	return next, nil
}

// ListHistory returns the persisted jobs, most recently updated first.
// Zero selects the default limit, anything else is clamped to [1, 200].
// Documents that fail to load are skipped.
func (s *Store) ListHistory(limit int) ([]HistoryItem, error) {
	switch {
	case limit == 0:
		limit = common.DefaultHistoryLimit
	case limit < 1:
		limit = 1
	case limit > common.MaxHistoryLimit:
		limit = common.MaxHistoryLimit
	}
	jobs, err := s.persisted()
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].UpdatedAt.Equal(jobs[j].UpdatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].UpdatedAt.After(jobs[j].UpdatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	items := make([]HistoryItem, 0, len(jobs))
	for _, j := range jobs {
		items = append(items, historyItem(j))
	}
	return items, nil
}

// persisted loads every valid job document from durable storage.
func (s *Store) persisted() ([]Job, error) {
	ids, err := s.docs.List(storage.JobsDir())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.load(id)
		if err != nil {
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

// BeginRun marks id as having an active pipeline run. It returns false if a run is already active.
func (s *Store) BeginRun(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

// EndRun releases the run slot taken by BeginRun.
func (s *Store) EndRun(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

// IsRunning reports whether id has an active pipeline run.
func (s *Store) IsRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

// RecoverInterrupted fails jobs that a previous process left mid-pipeline, so
// they stop shadowing their cache key. It returns the number of jobs recovered.
func (s *Store) RecoverInterrupted() (int, error) {
	jobs, err := s.persisted()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, j := range jobs {
		if !j.Status.InFlight() || s.IsRunning(j.ID) {
			continue
		}
		if _, err := s.Update(j.ID, Failed("interrupted: service restarted during "+string(j.Status))); err != nil {
			s.log.Warn("recover interrupted job failed", "job_id", j.ID, "err", err)
			continue
		}
		s.log.Info("interrupted job marked failed", "job_id", j.ID, "status", j.Status)
		n++
	}
	return n, nil
}

// Close releases the underlying document storage.
func (s *Store) Close() error {
	return s.docs.Close()
}
