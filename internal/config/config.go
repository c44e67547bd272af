// Package config provides the configuration schema, loader, and provider registry
// for the Sinfonia lyric-sync server.
package config

import "time"

// LogLevel controls log verbosity for the Sinfonia server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// StoreBackend selects where analysis results are cached.
type StoreBackend string

const (
	// StoreMemory keeps results in a bounded in-process LRU.
	StoreMemory StoreBackend = "memory"

	// StorePostgres keeps results in PostgreSQL.
	StorePostgres StoreBackend = "postgres"

	// StoreNone disables caching.
	StoreNone StoreBackend = "none"
)

// IsValid reports whether b is a recognised store backend.
func (b StoreBackend) IsValid() bool {
	switch b {
	case StoreMemory, StorePostgres, StoreNone:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8000"
	DefaultFrameRate         = 60
	DefaultUserScrollHoldoff = 1500 * time.Millisecond
	DefaultMaxUploadBytes    = 20 << 20
	DefaultAnalysisTimeout   = 5 * time.Minute
	DefaultTargetLanguage    = "English"
	DefaultCacheEntries      = 256
	DefaultShutdownTimeout   = 10 * time.Second
)

// DefaultCORSOrigins are the local development origins allowed when
// server.cors_origins is not set.
var DefaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// Config is the root configuration structure for Sinfonia.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Providers ProvidersConfig `yaml:"providers"`
	Store     StoreConfig     `yaml:"store"`
	Media     MediaConfig     `yaml:"media"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// CORSOrigins lists the browser origins allowed to call the API.
	// "*" allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds paths to TLS certificate and key files.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PlaybackConfig tunes the sync engine of every session.
type PlaybackConfig struct {
	// FrameRate is how many times per second a playing transport is sampled.
	FrameRate int `yaml:"frame_rate"`

	// UserScrollHoldoff is how long a panel the listener scrolled by hand is
	// left alone. A negative value disables the holdoff.
	UserScrollHoldoff time.Duration `yaml:"user_scroll_holdoff"`
}

// AnalysisConfig tunes the transcription and interpretation pipeline.
type AnalysisConfig struct {
	// MaxUploadBytes is the largest accepted audio upload.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Timeout bounds a single analysis request.
	Timeout time.Duration `yaml:"timeout"`

	// DefaultTargetLanguage is used when a request names no target language.
	DefaultTargetLanguage string `yaml:"default_target_language"`

	// SourceLanguage is an optional transcription language hint.
	SourceLanguage string `yaml:"source_language"`

	// Temperature for the LLM. Zero keeps the pipeline default.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps each LLM response. Zero keeps the pipeline default.
	MaxTokens int `yaml:"max_tokens"`
}

// ProvidersConfig selects the speech-to-text and language-model backends.
// Fallback entries are tried in order when the primary fails.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	LLM          ProviderEntry   `yaml:"llm"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block for any pluggable provider.
type ProviderEntry struct {
	// Name selects the registered factory (e.g., "whisper", "openai", "gemini").
	Name string `yaml:"name"`

	// APIKey is the authentication credential. Values of the form ${VAR}
	// are expanded from the environment at load time.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model (e.g., "gemini-2.0-flash", "large-v3").
	Model string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// IsZero reports whether no provider is configured.
func (e ProviderEntry) IsZero() bool { return e.Name == "" }

// StoreConfig selects the analysis result cache.
type StoreConfig struct {
	Backend StoreBackend `yaml:"backend"`

	// PostgresDSN is required for the postgres backend.
	PostgresDSN string `yaml:"postgres_dsn"`

	// MaxEntries bounds the memory backend.
	MaxEntries int `yaml:"max_entries"`

	// MaxIdle prunes postgres entries not read for this long. Zero keeps
	// entries forever.
	MaxIdle time.Duration `yaml:"max_idle"`
}

// MediaConfig controls where uploaded audio is kept while a session lives.
type MediaConfig struct {
	// Dir is the upload directory. Empty means a fresh temporary directory
	// removed on shutdown.
	Dir string `yaml:"dir"`
}

// ApplyDefaults fills unset fields of cfg with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.CORSOrigins == nil {
		cfg.Server.CORSOrigins = append([]string(nil), DefaultCORSOrigins...)
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Playback.FrameRate == 0 {
		cfg.Playback.FrameRate = DefaultFrameRate
	}
	if cfg.Playback.UserScrollHoldoff == 0 {
		cfg.Playback.UserScrollHoldoff = DefaultUserScrollHoldoff
	}
	if cfg.Analysis.MaxUploadBytes == 0 {
		cfg.Analysis.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Analysis.Timeout == 0 {
		cfg.Analysis.Timeout = DefaultAnalysisTimeout
	}
	if cfg.Analysis.DefaultTargetLanguage == "" {
		cfg.Analysis.DefaultTargetLanguage = DefaultTargetLanguage
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreMemory
	}
	if cfg.Store.MaxEntries == 0 {
		cfg.Store.MaxEntries = DefaultCacheEntries
	}
}
