package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jo-hoe/reelcheck/internal/common"
	"github.com/jo-hoe/reelcheck/internal/jobs"
	"github.com/jo-hoe/reelcheck/internal/observability"
	"github.com/jo-hoe/reelcheck/internal/providers"
	"github.com/jo-hoe/reelcheck/internal/storage"
)

// Runner implements jobs.Processor: it drives one job from queued to a terminal state.
type Runner struct {
	Log        *slog.Logger
	Store      *jobs.Store
	Docs       storage.Documents
	Media      *storage.Workspace
	Downloader providers.Downloader
	Providers  *providers.Registry
	Telemetry  *observability.Telemetry
	KeepMedia  bool
}

// Ensure Runner implements jobs.Processor
var _ jobs.Processor = (*Runner)(nil)

func New(log *slog.Logger, store *jobs.Store, docs storage.Documents, media *storage.Workspace,
	dl providers.Downloader, reg *providers.Registry, tel *observability.Telemetry, keepMedia bool) *Runner {
	if tel == nil {
		tel = observability.NewNoop()
	}
	return &Runner{
		Log:        log,
		Store:      store,
		Docs:       docs,
		Media:      media,
		Downloader: dl,
		Providers:  reg,
		Telemetry:  tel,
		KeepMedia:  keepMedia,
	}
}

// Process runs the pipeline for item.JobID. It is a no-op when a run for the
// job is already active or the job has left the queued state, so redundant
// triggers are safe. A cancelled context leaves the job untouched in the queued state.
func (r *Runner) Process(ctx context.Context, item jobs.WorkItem) (err error) {
	id := item.JobID
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.Store.BeginRun(id) {
		r.Log.Debug("run already active, skipping", "job_id", id)
		return nil
	}
	defer r.Store.EndRun(id)

	job, err := r.Store.Get(id)
	if err != nil {
		return fmt.Errorf("load job %s: %w", id, err)
	}
	if job.Status != jobs.StatusQueued {
		r.Log.Debug("job not queued, skipping", "job_id", id, "status", job.Status)
		return nil
	}

	log := r.Log.With("job_id", id, "provider", job.Provider)
	provider := string(job.Provider)
	ctx, span := r.Telemetry.StartRun(ctx, id, provider)
	defer span.End()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
			log.Error("pipeline panicked", "panic", rec)
			observability.RecordError(span, err)
			r.fail(log, id, err.Error())
			r.Telemetry.RecordOutcome(ctx, provider, observability.OutcomeFailed)
		}
	}()

	mediaDir, cleanup, err := r.Media.MediaDir(id)
	if err != nil {
		r.fail(log, id, err.Error())
		r.Telemetry.RecordOutcome(ctx, provider, observability.OutcomeFailed)
		return err
	}
	if !r.KeepMedia {
		defer func() {
			if cerr := cleanup(); cerr != nil {
				log.Warn("media cleanup failed", "err", cerr)
			}
		}()
	}

	outcome, err := r.run(ctx, log, job, item.Credentials, mediaDir)
	observability.RecordError(span, err)
	r.Telemetry.RecordOutcome(ctx, provider, outcome)
	return err
}

// run executes the stage sequence. Failures are recorded on the job before returning.
func (r *Runner) run(ctx context.Context, log *slog.Logger, job jobs.Job, creds providers.Credentials, mediaDir string) (string, error) {
	id := job.ID

	start := jobs.Stage(jobs.StatusDownloading, common.ProgressDownloading)
	start.ClearError = true
	if _, err := r.Store.Update(id, start); err != nil {
		return r.failed(log, id, fmt.Errorf("mark downloading: %w", err))
	}

	stageCtx, st := r.Telemetry.StartStage(ctx, "download", string(job.Provider))
	audioPath, err := r.Downloader.Download(stageCtx, job.URL, mediaDir)
	st.End(stageCtx, err)
	if err != nil {
		var de *providers.DownloadError
		if errors.As(err, &de) {
			msg := common.DownloadFailedPrefix + de.Error()
			log.Warn("download failed", "err", err)
			r.fail(log, id, msg)
			return observability.OutcomeDownloadFailed, errors.New(msg)
		}
		return r.failed(log, id, err)
	}

	if _, err := r.Store.Update(id, jobs.Stage(jobs.StatusTranscribing, common.ProgressTranscribing)); err != nil {
		return r.failed(log, id, fmt.Errorf("mark transcribing: %w", err))
	}
	transcript, err := r.transcribe(ctx, log, job.Provider, creds, audioPath)
	if err != nil {
		return r.failed(log, id, err)
	}
	if err := r.Docs.Write(storage.TranscriptPath(id), []byte(transcript)); err != nil {
		return r.failed(log, id, fmt.Errorf("persist transcript: %w", err))
	}

	checking := jobs.Stage(jobs.StatusFactChecking, common.ProgressFactChecking)
	checking.Transcript = &transcript
	if _, err := r.Store.Update(id, checking); err != nil {
		return r.failed(log, id, fmt.Errorf("mark fact_checking: %w", err))
	}

	strategy, ok := r.Providers.Get(job.Provider)
	if !ok || strategy.FactChecker == nil {
		return r.failed(log, id, fmt.Errorf("provider %q is not configured", job.Provider))
	}
	stageCtx, st = r.Telemetry.StartStage(ctx, "fact_check", string(job.Provider))
	rep, raw, err := strategy.FactChecker.FactCheck(stageCtx, providers.FactCheckRequest{
		Transcript:     transcript,
		URL:            job.URL,
		OutputLanguage: job.OutputLanguage,
	}, creds)
	st.End(stageCtx, err)
	if err != nil {
		return r.failed(log, id, err)
	}
	if len(raw) > 0 {
		if err := r.Docs.Write(storage.RawResponsePath(id), raw); err != nil {
			return r.failed(log, id, fmt.Errorf("persist raw response: %w", err))
		}
	}
	if _, err := storage.WriteJSON(r.Docs, storage.ReportPath(id), rep); err != nil {
		return r.failed(log, id, fmt.Errorf("persist report: %w", err))
	}

	done := jobs.Stage(jobs.StatusCompleted, common.ProgressDone)
	done.Report = rep
	if _, err := r.Store.Update(id, done); err != nil {
		return r.failed(log, id, fmt.Errorf("mark completed: %w", err))
	}
	log.Info("job completed", "overall_score", rep.OverallScore, "overall_verdict", rep.OverallVerdict)
	return observability.OutcomeCompleted, nil
}

// transcribe walks the transcription chain for provider and returns the first
// successful transcript. If every candidate fails the errors are joined.
func (r *Runner) transcribe(ctx context.Context, log *slog.Logger, provider providers.Name, creds providers.Credentials, audioPath string) (string, error) {
	chain := r.Providers.TranscriptionChain(provider, creds)
	if len(chain) == 0 {
		return "", fmt.Errorf("no transcription provider available for %s", provider)
	}
	var errs []error
	for _, c := range chain {
		if c.Provider != provider {
			log.Info("transcribing with fallback provider", "fallback", c.Provider)
		}
		stageCtx, st := r.Telemetry.StartStage(ctx, "transcribe", string(c.Provider))
		text, err := c.Transcriber.Transcribe(stageCtx, audioPath, c.Credentials)
		st.End(stageCtx, err)
		if err == nil {
			return text, nil
		}
		log.Warn("transcription failed", "transcriber", c.Provider, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", c.Provider, err))
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 1 {
		return "", fmt.Errorf("transcription failed: %w", errs[0])
	}
	return "", fmt.Errorf("all transcription providers failed: %w", errors.Join(errs...))
}

func (r *Runner) failed(log *slog.Logger, id string, err error) (string, error) {
	log.Error("job failed", "err", err)
	r.fail(log, id, err.Error())
	return observability.OutcomeFailed, err
}

// fail records msg on the job. A job that already reached a terminal state is left untouched.
func (r *Runner) fail(log *slog.Logger, id, msg string) {
	if _, err := r.Store.Update(id, jobs.Failed(msg)); err != nil && !errors.Is(err, jobs.ErrTerminal) {
		log.Error("could not record job failure", "err", err)
	}
}
