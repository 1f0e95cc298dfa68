package common

// Shared constants to enforce DRY and avoid magic strings/numbers.

// HTTP headers and content types
const (
	HeaderETag        = "ETag"
	HeaderIfNoneMatch = "If-None-Match"
	ContentTypeJSON   = "application/json"
)

// API paths
const (
	PathHealthz = "/healthz"
	PathAnalyze = "/api/analyze"
	PathJobs    = "/api/jobs"
	PathHistory = "/api/history"
)

// Defaults and limits
const (
	DefaultQueueCapacity  = 128
	DefaultWorkerCount    = 4
	SQLiteBusyTimeoutMS   = 5000
	DefaultOutputLanguage = "ar"
	DefaultHistoryLimit   = 50
	MaxHistoryLimit       = 200
)

// Pipeline progress checkpoints
const (
	ProgressDownloading  = 10
	ProgressTranscribing = 40
	ProgressFactChecking = 70
	ProgressDone         = 100
)

// DownloadFailedPrefix marks job errors caused by fetching the source media.
const DownloadFailedPrefix = "Download failed: "

// Durable layout names
const (
	JobsDirName         = "jobs"
	MediaDirName        = "media"
	IndexFileName       = "url_index.json"
	JobFileName         = "job.json"
	TranscriptFileName  = "transcript.txt"
	ReportFileName      = "report.json"
	RawResponseFileName = "raw_response.json"
	DatabaseFileName    = "reelcheck.db"
)

// Storage backends
const (
	BackendFilesystem = "filesystem"
	BackendSQLite     = "sqlite"
)

// External executables
const (
	YtDlpExecutable = "yt-dlp"
)
