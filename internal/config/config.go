package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgallion1/apiingest/internal/chunker"
	"github.com/dgallion1/apiingest/internal/convert"
	"github.com/dgallion1/apiingest/internal/fetch"
	"github.com/dgallion1/apiingest/internal/loader"
	"github.com/dgallion1/apiingest/internal/logging"
	"github.com/dgallion1/apiingest/internal/markdown"
	"github.com/dgallion1/apiingest/internal/resolver"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Storage
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Worker pool
	WorkerCount        int
	MaxQueueSize       int
	MaxConcurrentStore int

	// Upload limits
	MaxUploadBytes int64

	// Conversion
	MaxRefDepth       int
	MaxRefNodes       int
	MaxFragmentTokens int
	DescriptionLimit  int
	ConvertTimeout    time.Duration

	// External references
	AllowRemoteRefs bool
	RefBaseDir      string
	FetchTimeout    time.Duration

	// Job state
	JobTTL time.Duration

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("APIINGEST_API_KEY"),

		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),

		WorkerCount:        envInt("WORKER_COUNT", 4),
		MaxQueueSize:       envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentStore: envInt("MAX_CONCURRENT_STORE", 4),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 10485760), // 10MB

		MaxRefDepth:       envInt("MAX_REF_DEPTH", resolver.DefaultMaxDepth),
		MaxRefNodes:       envInt("MAX_REF_NODES", resolver.DefaultMaxNodes),
		MaxFragmentTokens: envInt("MAX_FRAGMENT_TOKENS", chunker.DefaultMaxFragmentTokens),
		DescriptionLimit:  envInt("DESCRIPTION_LIMIT", 0),
		ConvertTimeout:    envDuration("CONVERT_TIMEOUT", 30*time.Second),

		AllowRemoteRefs: envBool("ALLOW_REMOTE_REFS", false),
		RefBaseDir:      os.Getenv("REF_BASE_DIR"),
		FetchTimeout:    envDuration("FETCH_TIMEOUT", 10*time.Second),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogFile:       os.Getenv("LOG_FILE"),
		LogMaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: envInt("LOG_MAX_BACKUPS", 3),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentStore <= 0 {
		cfg.MaxConcurrentStore = 4
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10485760
	}
	if cfg.MaxRefDepth <= 0 {
		cfg.MaxRefDepth = resolver.DefaultMaxDepth
	}
	if cfg.MaxRefNodes <= 0 {
		cfg.MaxRefNodes = resolver.DefaultMaxNodes
	}
	if cfg.MaxFragmentTokens <= 0 {
		cfg.MaxFragmentTokens = chunker.DefaultMaxFragmentTokens
	}
	if cfg.DescriptionLimit < 0 {
		cfg.DescriptionLimit = 0
	}
	if cfg.ConvertTimeout <= 0 {
		cfg.ConvertTimeout = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("APIINGEST_API_KEY is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RefBaseDir != "" {
		info, err := os.Stat(c.RefBaseDir)
		if err != nil {
			return fmt.Errorf("REF_BASE_DIR: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("REF_BASE_DIR %s is not a directory", c.RefBaseDir)
		}
	}
	return nil
}

// Fetcher returns the external reference policy: file references below
// RefBaseDir and, when allowed, http(s) references. Nil when both are off.
func (c Config) Fetcher() resolver.Fetcher {
	var chain fetch.Chain
	if c.RefBaseDir != "" {
		chain.Local = &fetch.FileFetcher{Root: c.RefBaseDir, MaxBytes: c.MaxUploadBytes}
	}
	if c.AllowRemoteRefs {
		chain.Remote = fetch.NewHTTPFetcher(c.FetchTimeout, c.MaxUploadBytes)
	}
	if !chain.Enabled() {
		return nil
	}
	return chain
}

// ConvertOptions returns conversion settings for one upload.
func (c Config) ConvertOptions(format loader.Format, location string) convert.Options {
	return convert.Options{
		Format:   format,
		Location: location,
		Fetcher:  c.Fetcher(),
		MaxDepth: c.MaxRefDepth,
		MaxNodes: c.MaxRefNodes,
	}
}

// ProjectOptions returns the projection settings.
func (c Config) ProjectOptions() convert.ProjectOptions {
	md := markdown.Options{DescriptionLimit: c.DescriptionLimit}
	return convert.ProjectOptions{
		Markdown: md,
		Chunks:   chunker.Config{MaxFragmentTokens: c.MaxFragmentTokens, Markdown: md},
	}
}

// LoggingOptions returns the log level and file settings.
func (c Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSizeMB:  c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
