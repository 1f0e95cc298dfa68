package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jo-hoe/reelcheck/internal/common"
	"github.com/jo-hoe/reelcheck/internal/config"
	"github.com/jo-hoe/reelcheck/internal/jobs"
	"github.com/jo-hoe/reelcheck/internal/observability"
	"github.com/jo-hoe/reelcheck/internal/providers"
)

// Enqueuer hands work to the pipeline workers. *jobs.Queue implements it.
type Enqueuer interface {
	Enqueue(item jobs.WorkItem) error
}

type Service struct {
	Log       *slog.Logger
	Cfg       *config.Config
	Store     *jobs.Store
	Queue     Enqueuer
	Providers *providers.Registry
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc(http.MethodGet+" "+common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc(http.MethodPost+" "+common.PathAnalyze, svc.withCommon(svc.handleAnalyze))
	mux.HandleFunc(http.MethodGet+" "+common.PathJobs+"/{id}", svc.withCommon(svc.handleGetJob))
	mux.HandleFunc(http.MethodGet+" "+common.PathHistory, svc.withCommon(svc.handleHistory))

	var handler http.Handler = recoveryMiddleware(mux, svc.Log)
	if svc.Cfg.Server.ServerTiming {
		handler = observability.ServerTimingMiddleware(handler)
	}

	s := &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      loggingMiddleware(handler, svc.Log),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
	return s
}

func (svc *Service) withCommon(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Enforce max body size
		max := safeInt64(svc.Cfg.Server.MaxBodySize)
		if max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	}
}

type analyzeRequest struct {
	URL            string `json:"url"`
	OutputLanguage string `json:"output_language"`
	Force          bool   `json:"force"`
	Provider       string `json:"provider"`
	APIKey         string `json:"api_key"`
}

type analyzeResponse struct {
	JobID     string      `json:"job_id"`
	Cached    bool        `json:"cached"`
	Status    jobs.Status `json:"status"`
	StatusURL string      `json:"status_url"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

var keyHints = map[providers.Name]string{
	providers.Gemini:   "Get free key: https://aistudio.google.com/app/apikey",
	providers.OpenAI:   "Get key: https://platform.openai.com/api-keys",
	providers.DeepSeek: "Get key: https://platform.deepseek.com/api_keys",
}

func (svc *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	rawURL := strings.TrimSpace(req.URL)
	if err := validateVideoURL(rawURL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	providerName := req.Provider
	if strings.TrimSpace(providerName) == "" {
		providerName = svc.Cfg.Providers.Default
	}
	provider, err := providers.ParseName(providerName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := svc.Providers.Get(provider); !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("provider %q is not enabled", provider))
		return
	}

	creds, ok := svc.resolveCredentials(provider, req.APIKey)
	if !ok {
		msg := fmt.Sprintf("%s API key is required.", titleCase(string(provider)))
		if hint := keyHints[provider]; hint != "" {
			msg += " " + hint
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	timing := observability.StartServerTiming(r.Context(), "store")
	job, cached, err := svc.Store.FindOrCreate(jobs.CreateRequest{
		URL:            rawURL,
		OutputLanguage: req.OutputLanguage,
		Provider:       provider,
		Force:          req.Force,
	})
	timing.Stop()
	if err != nil {
		svc.Log.Error("find or create job", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	svc.Log.Info("analyze request", "job_id", job.ID, "cached", cached, "status", job.Status, "provider", provider)

	resp := analyzeResponse{
		JobID:     job.ID,
		Cached:    cached,
		Status:    job.Status,
		StatusURL: path.Join(common.PathJobs, job.ID),
	}
	if job.Status.IsTerminal() {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// Runs already active or past queued are skipped by the processor, so re-triggering is safe.
	if err := svc.Queue.Enqueue(jobs.WorkItem{JobID: job.ID, Provider: job.Provider, Credentials: creds}); err != nil {
		svc.Log.Warn("enqueue failed", "job_id", job.ID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "queue full, try later")
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// resolveCredentials prefers the key sent with the request and falls back to
// the server key. The mock provider needs none.
func (svc *Service) resolveCredentials(provider providers.Name, requestKey string) (providers.Credentials, bool) {
	if provider == providers.Mock {
		return providers.Credentials{}, true
	}
	if key := strings.TrimSpace(requestKey); key != "" {
		return providers.Credentials{APIKey: key}, true
	}
	if strings.TrimSpace(svc.Cfg.Providers.DefaultAPIKey(string(provider))) != "" {
		// an empty request key makes the client use its configured key
		return providers.Credentials{}, true
	}
	return providers.Credentials{}, false
}

func (svc *Service) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	timing := observability.StartServerTiming(r.Context(), "store")
	job, err := svc.Store.Get(id)
	timing.Stop()
	if errors.Is(err, jobs.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		svc.Log.Error("get job", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	body, err := json.Marshal(job)
	if err != nil {
		svc.Log.Error("encode job", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	tag := weakETag(body)
	w.Header().Set(common.HeaderETag, tag)
	w.Header().Set("Cache-Control", "no-cache")
	if etagMatches(r.Header.Get(common.HeaderIfNoneMatch), tag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(append(body, '\n'))
}

func (svc *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	timing := observability.StartServerTiming(r.Context(), "store")
	items, err := svc.Store.ListHistory(limit)
	timing.Stop()
	if err != nil {
		svc.Log.Error("list history", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []jobs.HistoryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func validateVideoURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Host == "" {
		return errors.New("url must be an absolute http(s) URL")
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return nil
	default:
		return errors.New("url must be an absolute http(s) URL")
	}
}

// weakETag hashes the encoded representation of a resource.
func weakETag(body []byte) string {
	return fmt.Sprintf(`W/"%016x"`, xxhash.Sum64(body))
}

// etagMatches applies the weak comparison of If-None-Match against tag.
func etagMatches(header, tag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	want := strings.TrimPrefix(tag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == want {
			return true
		}
	}
	return false
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	// Fallback to a discard logger if none provided to avoid nil deref in tests or minimal setups.
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &writeWrap{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(ww, r)
		log.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.code,
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr)
	})
}

type writeWrap struct {
	http.ResponseWriter
	code int
}

func (w *writeWrap) WriteHeader(statusCode int) {
	w.code = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func recoveryMiddleware(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if log != nil {
					log.Error("handler panicked", "panic", rec, "path", r.URL.Path)
				}
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
