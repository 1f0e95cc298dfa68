package jobs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/reelcheck/internal/common"
	"github.com/jo-hoe/reelcheck/internal/providers"
	"github.com/jo-hoe/reelcheck/internal/report"
	"github.com/jo-hoe/reelcheck/internal/storage"
)

// fakeClock hands out strictly increasing timestamps.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	docs, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewStore(discardLogger(), docs, WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func sampleReport() *report.Report {
	return &report.Report{
		GeneratedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		OverallScore:   82,
		OverallVerdict: report.VerdictMostlyAccurate,
		Summary:        "Mostly right.",
	}
}

func runToCompletion(t *testing.T, s *Store, id string) Job {
	t.Helper()
	_, err := s.Update(id, Stage(StatusDownloading, common.ProgressDownloading))
	require.NoError(t, err)
	_, err = s.Update(id, Stage(StatusTranscribing, common.ProgressTranscribing))
	require.NoError(t, err)
	p := Stage(StatusFactChecking, common.ProgressFactChecking)
	transcript := "hello"
	p.Transcript = &transcript
	_, err = s.Update(id, p)
	require.NoError(t, err)
	done := Stage(StatusCompleted, common.ProgressDone)
	done.Report = sampleReport()
	j, err := s.Update(id, done)
	require.NoError(t, err)
	return j
}

func TestCacheKey_NormalizesURLAndLanguage(t *testing.T) {
	a := CacheKey("https://Example.com/video/?utm_source=x&id=7#top", " EN ", providers.Gemini)
	b := CacheKey("https://example.com/video?id=7", "en", providers.Gemini)
	assert.Equal(t, a, b)
	assert.Equal(t, "https://example.com/video?id=7||ar||gemini", CacheKey("https://example.com/video?id=7", "", providers.Gemini))
	assert.NotEqual(t, a, CacheKey("https://example.com/video?id=7", "en", providers.OpenAI))
}

func TestFindOrCreate_CachesNonFailedJobs(t *testing.T) {
	s, _ := newTestStore(t)

	first, cached, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/video?utm_source=x&id=7#top", OutputLanguage: "EN", Provider: providers.Gemini})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, StatusQueued, first.Status)
	assert.Equal(t, 0, first.Progress)
	assert.Equal(t, "en", first.OutputLanguage)
	assert.Equal(t, "https://example.com/video?utm_source=x&id=7#top", first.URL, "original URL is kept for display")

	second, cached, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/video?id=7", OutputLanguage: "en", Provider: providers.Gemini})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first.ID, second.ID)

	runToCompletion(t, s, first.ID)
	third, cached, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/video?id=7", OutputLanguage: "en", Provider: providers.Gemini})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, StatusCompleted, third.Status)
}

func TestFindOrCreate_ForceAllocatesNewJob(t *testing.T) {
	s, _ := newTestStore(t)
	req := CreateRequest{URL: "https://example.com/v", Provider: providers.OpenAI}
	first, _, err := s.FindOrCreate(req)
	require.NoError(t, err)

	req.Force = true
	forced, cached, err := s.FindOrCreate(req)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.NotEqual(t, first.ID, forced.ID)

	// the index now points at the forced job
	req.Force = false
	again, cached, err := s.FindOrCreate(req)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, forced.ID, again.ID)

	// the old job is untouched
	old, err := s.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, old.Status)
}

func TestFindOrCreate_FailedJobIsRecreated(t *testing.T) {
	s, _ := newTestStore(t)
	req := CreateRequest{URL: "https://example.com/v", Provider: providers.Gemini}
	first, _, err := s.FindOrCreate(req)
	require.NoError(t, err)
	_, err = s.Update(first.ID, Failed("boom"))
	require.NoError(t, err)

	next, cached, err := s.FindOrCreate(req)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestGet_LoadsFromDurableStorage(t *testing.T) {
	s, dir := newTestStore(t)
	created, _, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/v", Provider: providers.Mock})
	require.NoError(t, err)
	runToCompletion(t, s, created.ID)

	// a second store over the same directory sees the job and the index
	docs, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	s2, err := NewStore(discardLogger(), docs)
	require.NoError(t, err)

	got, err := s2.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, 82, got.Report.OverallScore)
	require.NotNil(t, got.Transcript)
	assert.Equal(t, "hello", *got.Transcript)

	hit, cached, err := s2.FindOrCreate(CreateRequest{URL: "https://example.com/v/", Provider: providers.Mock})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, created.ID, hit.ID)

	_, err = s2.Get("does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s2.Get("../escape")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_CorruptDocumentIsNotFound(t *testing.T) {
	s, dir := newTestStore(t)
	bad := filepath.Join(dir, common.JobsDirName, "deadbeef")
	require.NoError(t, os.MkdirAll(bad, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(bad, common.JobFileName), []byte("{not json"), 0o600))

	_, err := s.Get("deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_TerminalJobsAreFrozen(t *testing.T) {
	s, _ := newTestStore(t)
	j, _, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/a", Provider: providers.Gemini})
	require.NoError(t, err)
	runToCompletion(t, s, j.ID)

	_, err = s.Update(j.ID, Failed("late failure"))
	assert.ErrorIs(t, err, ErrTerminal)
	_, err = s.Update(j.ID, Stage(StatusDownloading, common.ProgressDownloading))
	assert.ErrorIs(t, err, ErrTerminal)

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Nil(t, got.Error)

	f, _, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/b", Provider: providers.Gemini})
	require.NoError(t, err)
	_, err = s.Update(f.ID, Failed("boom"))
	require.NoError(t, err)
	_, err = s.Update(f.ID, Stage(StatusCompleted, common.ProgressDone))
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestUpdate_RejectsBackwardMoves(t *testing.T) {
	s, _ := newTestStore(t)
	j, _, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/a", Provider: providers.Gemini})
	require.NoError(t, err)
	_, err = s.Update(j.ID, Stage(StatusTranscribing, common.ProgressTranscribing))
	require.NoError(t, err)

	_, err = s.Update(j.ID, Stage(StatusDownloading, common.ProgressDownloading))
	assert.ErrorIs(t, err, ErrInvalidTransition)

	regress := common.ProgressDownloading
	_, err = s.Update(j.ID, Patch{Progress: &regress})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTranscribing, got.Status)
	assert.Equal(t, common.ProgressTranscribing, got.Progress)
}

func TestUpdate_StampsUpdatedAtAndClearsError(t *testing.T) {
	s, _ := newTestStore(t)
	j, _, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/a", Provider: providers.Gemini})
	require.NoError(t, err)

	msg := "transient"
	_, err = s.Update(j.ID, Patch{Error: &msg})
	require.NoError(t, err)

	p := Stage(StatusDownloading, common.ProgressDownloading)
	p.ClearError = true
	got, err := s.Update(j.ID, p)
	require.NoError(t, err)
	assert.Nil(t, got.Error)
	assert.True(t, got.UpdatedAt.After(j.UpdatedAt))
	assert.Equal(t, j.CreatedAt, got.CreatedAt)

	_, err = s.Update("missing", p)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListHistory_SortsClampsAndSkipsCorrupt(t *testing.T) {
	s, dir := newTestStore(t)
	var ids []string
	for i := 0; i < 5; i++ {
		j, _, err := s.FindOrCreate(CreateRequest{URL: fmt.Sprintf("https://example.com/%d", i), Provider: providers.Gemini})
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}
	// touch the first job last so it becomes the most recent
	runToCompletion(t, s, ids[0])

	bad := filepath.Join(dir, common.JobsDirName, "corrupt")
	require.NoError(t, os.MkdirAll(bad, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(bad, common.JobFileName), []byte(`{"id":`), 0o600))

	items, err := s.ListHistory(0)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, ids[0], items[0].ID)
	require.NotNil(t, items[0].OverallScore)
	assert.Equal(t, 82, *items[0].OverallScore)
	require.NotNil(t, items[0].Summary)
	assert.Equal(t, "Mostly right.", *items[0].Summary)
	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].UpdatedAt.After(items[i-1].UpdatedAt), "history must be sorted by updated_at desc")
	}
	assert.Nil(t, items[1].OverallScore)

	items, err = s.ListHistory(2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, err = s.ListHistory(0)
	require.NoError(t, err)
	assert.Len(t, items, 5)

	items, err = s.ListHistory(-3)
	require.NoError(t, err)
	require.Len(t, items, 1, "negative limits clamp to one item")
	assert.Equal(t, "Mostly right.", *items[0].Summary)
}

func TestListHistory_ClampsToMaximum(t *testing.T) {
	s, _ := newTestStore(t)
	for i := 0; i < common.MaxHistoryLimit+5; i++ {
		_, _, err := s.FindOrCreate(CreateRequest{URL: fmt.Sprintf("https://example.com/%d", i), Provider: providers.Mock})
		require.NoError(t, err)
	}
	items, err := s.ListHistory(500)
	require.NoError(t, err)
	assert.Len(t, items, common.MaxHistoryLimit)
}

func TestListHistory_EmptyStore(t *testing.T) {
	s, _ := newTestStore(t)
	items, err := s.ListHistory(10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestBeginRun_SingleFlight(t *testing.T) {
	s, _ := newTestStore(t)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.BeginRun("job") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.True(t, s.IsRunning("job"))

	s.EndRun("job")
	assert.False(t, s.IsRunning("job"))
	assert.True(t, s.BeginRun("job"))
}

func TestRecoverInterrupted_FailsStaleInFlightJobs(t *testing.T) {
	s, dir := newTestStore(t)
	stale, _, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/stale", Provider: providers.Gemini})
	require.NoError(t, err)
	_, err = s.Update(stale.ID, Stage(StatusTranscribing, common.ProgressTranscribing))
	require.NoError(t, err)
	queued, _, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/queued", Provider: providers.Gemini})
	require.NoError(t, err)

	// simulate a restart
	docs, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	s2, err := NewStore(discardLogger(), docs)
	require.NoError(t, err)

	n, err := s2.RecoverInterrupted()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s2.Get(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, common.ProgressDone, got.Progress)
	require.NotNil(t, got.Error)
	assert.Equal(t, "interrupted: service restarted during transcribing", *got.Error)

	q, err := s2.Get(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, q.Status)

	// the failed job no longer shadows its cache key
	next, cached, err := s2.FindOrCreate(CreateRequest{URL: "https://example.com/stale", Provider: providers.Gemini})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.NotEqual(t, stale.ID, next.ID)
}

func TestNewStore_CorruptIndexStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, common.IndexFileName), []byte("[oops"), 0o600))
	docs, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	s, err := NewStore(discardLogger(), docs)
	require.NoError(t, err)

	_, cached, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/v", Provider: providers.Gemini})
	require.NoError(t, err)
	assert.False(t, cached)
}

type failingDocs struct {
	storage.Documents
	failWrites bool
}

func (f *failingDocs) Write(p string, data []byte) error {
	if f.failWrites {
		return errors.New("disk full")
	}
	return f.Documents.Write(p, data)
}

func TestFindOrCreate_PersistFailure(t *testing.T) {
	base, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	docs := &failingDocs{Documents: base, failWrites: true}
	s, err := NewStore(discardLogger(), docs)
	require.NoError(t, err)

	_, _, err = s.FindOrCreate(CreateRequest{URL: "https://example.com/v", Provider: providers.Gemini})
	require.Error(t, err)

	docs.failWrites = false
	_, cached, err := s.FindOrCreate(CreateRequest{URL: "https://example.com/v", Provider: providers.Gemini})
	require.NoError(t, err)
	assert.False(t, cached)
}
