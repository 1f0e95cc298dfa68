package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/reelcheck/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Downloader DownloaderConfig `yaml:"downloader"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxBodySize   ByteSize      `yaml:"maxBodySize"`
	WorkerCount   int           `yaml:"workerCount"`
	QueueCapacity int           `yaml:"queueCapacity"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for workers before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
	ServerTiming  bool          `yaml:"serverTiming"`  // emit Server-Timing response headers
}

// StorageConfig selects where job records live.
type StorageConfig struct {
	Backend      string `yaml:"backend"`      // filesystem|sqlite
	DataDir      string `yaml:"dataDir"`      // records (filesystem backend) and downloaded media
	DatabasePath string `yaml:"databasePath"` // optional, overrides default dataDir/reelcheck.db
	KeepMedia    bool   `yaml:"keepMedia"`    // keep downloaded audio after a run
}

// DownloaderConfig selects the media downloader.
type DownloaderConfig struct {
	Type  string        `yaml:"type"` // ytdlp|mock
	YtDlp YtDlpSettings `yaml:"ytdlp"`
}

// YtDlpSettings config for the yt-dlp downloader.
type YtDlpSettings struct {
	BinaryPath  string        `yaml:"binaryPath"`
	CookiesFile string        `yaml:"cookiesFile"` // optional Netscape cookies file
	AudioFormat string        `yaml:"audioFormat"` // e.g. mp3
	Timeout     time.Duration `yaml:"timeout"`
}

// ProvidersConfig configures every upstream strategy.
type ProvidersConfig struct {
	Default               string         `yaml:"default"`               // provider used when a request names none
	TranscriptionFallback []string       `yaml:"transcriptionFallback"` // tried in order for providers without transcription
	Gemini                GeminiSettings `yaml:"gemini"`
	OpenAI                OpenAISettings `yaml:"openai"`
	DeepSeek              OpenAISettings `yaml:"deepseek"`
	Mock                  MockSettings   `yaml:"mock"`
}

// GeminiSettings config for the Gemini REST API.
type GeminiSettings struct {
	BaseURL         string        `yaml:"baseUrl"`
	APIKey          string        `yaml:"apiKey"`
	TranscribeModel string        `yaml:"transcribeModel"`
	FactCheckModel  string        `yaml:"factCheckModel"`
	Grounding       bool          `yaml:"grounding"` // enable google_search grounding for fact-checks
	Temperature     float32       `yaml:"temperature"`
	Timeout         time.Duration `yaml:"timeout"`
}

// OpenAISettings config for OpenAI-compatible APIs (OpenAI, DeepSeek).
type OpenAISettings struct {
	BaseURL         string        `yaml:"baseUrl"`         // e.g. https://api.openai.com/v1
	APIKey          string        `yaml:"apiKey"`          // optional per deployment; requests may supply their own
	Model           string        `yaml:"model"`           // chat model used for fact-checking
	TranscribeModel string        `yaml:"transcribeModel"` // empty disables transcription
	Temperature     float32       `yaml:"temperature"`
	MaxTokens       int           `yaml:"maxTokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// MockSettings config for the mock provider and downloader.
type MockSettings struct {
	Delay      time.Duration `yaml:"delay"`
	Transcript string        `yaml:"transcript"`
}

// ObservabilityConfig controls the OpenTelemetry SDK installed by main.
type ObservabilityConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Exporter       string        `yaml:"exporter"` // stdout|stderr
	ServiceName    string        `yaml:"serviceName"`
	MetricInterval time.Duration `yaml:"metricInterval"` // how often metrics are exported
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var REELCHECK_CONFIG, then default to "config.yaml".
// A missing default file is not an error: defaults and environment variables are used instead.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		if env := os.Getenv("REELCHECK_CONFIG"); env != "" {
			path = env
			explicit = true
		} else {
			path = "config.yaml"
		}
	}
	var cfg Config
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvKeys(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure dataDir: %w", err)
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, common.DatabaseFileName)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = ByteSize(64 * 1024) // 64 KiB default
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = common.DefaultWorkerCount
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = common.DefaultQueueCapacity
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Storage defaults
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = common.BackendFilesystem
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}

	// Downloader defaults
	if cfg.Downloader.Type == "" {
		cfg.Downloader.Type = "ytdlp"
	}
	if cfg.Downloader.YtDlp.BinaryPath == "" {
		cfg.Downloader.YtDlp.BinaryPath = common.YtDlpExecutable
	}
	if cfg.Downloader.YtDlp.AudioFormat == "" {
		cfg.Downloader.YtDlp.AudioFormat = "mp3"
	}
	if cfg.Downloader.YtDlp.Timeout == 0 {
		cfg.Downloader.YtDlp.Timeout = 5 * time.Minute
	}

	// Provider defaults
	p := &cfg.Providers
	if p.Default == "" {
		p.Default = "gemini"
	}
	if len(p.TranscriptionFallback) == 0 {
		p.TranscriptionFallback = []string{"gemini", "openai"}
	}
	if strings.TrimSpace(p.Gemini.BaseURL) == "" {
		p.Gemini.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if p.Gemini.TranscribeModel == "" {
		p.Gemini.TranscribeModel = "gemini-2.0-flash"
	}
	if p.Gemini.FactCheckModel == "" {
		p.Gemini.FactCheckModel = "gemini-2.0-flash"
	}
	if p.Gemini.Temperature == 0 {
		p.Gemini.Temperature = 0.1
	}
	if p.Gemini.Timeout == 0 {
		p.Gemini.Timeout = 3 * time.Minute
	}
	if strings.TrimSpace(p.OpenAI.BaseURL) == "" {
		p.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if p.OpenAI.Model == "" {
		p.OpenAI.Model = "gpt-4o"
	}
	if p.OpenAI.TranscribeModel == "" {
		p.OpenAI.TranscribeModel = "whisper-1"
	}
	if strings.TrimSpace(p.DeepSeek.BaseURL) == "" {
		p.DeepSeek.BaseURL = "https://api.deepseek.com/v1"
	}
	if p.DeepSeek.Model == "" {
		p.DeepSeek.Model = "deepseek-chat"
	}
	// DeepSeek has no audio endpoint; requests fall back to the transcription chain.
	p.DeepSeek.TranscribeModel = ""
	for _, s := range []*OpenAISettings{&p.OpenAI, &p.DeepSeek} {
		if s.Temperature == 0 {
			s.Temperature = 0.1
		}
		if s.Timeout == 0 {
			s.Timeout = 3 * time.Minute
		}
	}
	if p.Mock.Transcript == "" {
		p.Mock.Transcript = "This is a mock transcript."
	}

	// Observability defaults
	o := &cfg.Observability
	o.Exporter = strings.ToLower(strings.TrimSpace(o.Exporter))
	if o.Exporter == "" {
		o.Exporter = "stdout"
	}
	if o.ServiceName == "" {
		o.ServiceName = "reelcheck"
	}
	if o.MetricInterval == 0 {
		o.MetricInterval = time.Minute
	}
}

// applyEnvKeys fills provider API keys left empty in the file from the conventional env vars.
func applyEnvKeys(cfg *Config) {
	keys := []struct {
		dst *string
		env string
	}{
		{&cfg.Providers.Gemini.APIKey, "GEMINI_API_KEY"},
		{&cfg.Providers.OpenAI.APIKey, "OPENAI_API_KEY"},
		{&cfg.Providers.DeepSeek.APIKey, "DEEPSEEK_API_KEY"},
	}
	for _, k := range keys {
		if strings.TrimSpace(*k.dst) == "" {
			*k.dst = os.Getenv(k.env)
		}
	}
}

var knownProviders = map[string]bool{"gemini": true, "openai": true, "deepseek": true, "mock": true}

func validate(cfg *Config) error {
	switch cfg.Storage.Backend {
	case common.BackendFilesystem, common.BackendSQLite:
	default:
		return fmt.Errorf("storage.backend %q must be %q or %q", cfg.Storage.Backend, common.BackendFilesystem, common.BackendSQLite)
	}
	switch cfg.Downloader.Type {
	case "ytdlp", "mock":
	default:
		return fmt.Errorf("downloader.type %q must be ytdlp or mock", cfg.Downloader.Type)
	}
	def := strings.ToLower(strings.TrimSpace(cfg.Providers.Default))
	if !knownProviders[def] {
		return fmt.Errorf("providers.default %q is not a known provider", cfg.Providers.Default)
	}
	cfg.Providers.Default = def
	for i, name := range cfg.Providers.TranscriptionFallback {
		n := strings.ToLower(strings.TrimSpace(name))
		if !knownProviders[n] {
			return fmt.Errorf("providers.transcriptionFallback[%d] %q is not a known provider", i, name)
		}
		if n == "deepseek" {
			return fmt.Errorf("providers.transcriptionFallback[%d]: deepseek cannot transcribe audio", i)
		}
		cfg.Providers.TranscriptionFallback[i] = n
	}
	switch cfg.Observability.Exporter {
	case "stdout", "stderr":
	default:
		return fmt.Errorf("observability.exporter %q must be stdout or stderr", cfg.Observability.Exporter)
	}
	if cfg.Observability.MetricInterval < 0 {
		return errors.New("observability.metricInterval must not be negative")
	}
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.logLevel %q must be debug, info, warn or error", cfg.Server.LogLevel)
	}
	return nil
}

// DefaultAPIKey returns the server-side key configured for a provider.
func (p ProvidersConfig) DefaultAPIKey(provider string) string {
	switch strings.ToLower(provider) {
	case "gemini":
		return p.Gemini.APIKey
	case "openai":
		return p.OpenAI.APIKey
	case "deepseek":
		return p.DeepSeek.APIKey
	default:
		return ""
	}
}
