// Package config reads the engine configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitrise-io/go-chunkupload/upload/chunkuploader"
	"github.com/bitrise-io/go-chunkupload/upload/coordinator"
	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
)

// Sink kinds.
const (
	SinkMemory = "memory"
	SinkRTDB   = "rtdb"
	SinkS3     = "s3"
)

// State backends.
const (
	StateFile   = "file"
	StateSQLite = "sqlite"
)

const (
	maxRetriesKey   = "GALLERY_UPLOAD_MAX_RETRIES"
	chunkTimeoutKey = "GALLERY_UPLOAD_CHUNK_TIMEOUT_SECONDS"
	backoffMinKey   = "GALLERY_UPLOAD_BACKOFF_MIN_MS"
	backoffMaxKey   = "GALLERY_UPLOAD_BACKOFF_MAX_MS"

	defaultMaxRetries      = 2
	defaultChunkTimeout    = 30
	defaultConcurrency     = 4
	defaultBackoffMinMS    = 500
	defaultBackoffMaxMS    = 10000
	defaultS3Prefix        = "uploads"
	maxChunkSize           = 16 * 1024 * 1024
	defaultStateDirName    = "gallery-upload"
	defaultFileStateName   = "pending.json"
	defaultSQLiteStateName = "state.db"
)

// Config ...
type Config struct {
	ChunkSize           int    `env:"GALLERY_UPLOAD_CHUNK_SIZE"`
	MaxRetries          int    `env:"GALLERY_UPLOAD_MAX_RETRIES"`
	ChunkTimeoutSeconds int    `env:"GALLERY_UPLOAD_CHUNK_TIMEOUT_SECONDS"`
	Concurrency         int    `env:"GALLERY_UPLOAD_CONCURRENCY"`
	BackoffMinMS        int    `env:"GALLERY_UPLOAD_BACKOFF_MIN_MS"`
	BackoffMaxMS        int    `env:"GALLERY_UPLOAD_BACKOFF_MAX_MS"`
	Sink                string `env:"GALLERY_UPLOAD_SINK"`
	Compress            bool   `env:"GALLERY_UPLOAD_COMPRESS"`

	RTDBURL     string          `env:"GALLERY_UPLOAD_RTDB_URL"`
	RTDBAuth    stepconf.Secret `env:"GALLERY_UPLOAD_RTDB_AUTH"`
	HTTPRetries int             `env:"GALLERY_UPLOAD_HTTP_RETRIES"`

	S3Bucket           string          `env:"GALLERY_UPLOAD_S3_BUCKET"`
	S3Region           string          `env:"GALLERY_UPLOAD_S3_REGION"`
	S3Endpoint         string          `env:"GALLERY_UPLOAD_S3_ENDPOINT"`
	S3Prefix           string          `env:"GALLERY_UPLOAD_S3_PREFIX"`
	AWSAccessKeyID     string          `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey stepconf.Secret `env:"AWS_SECRET_ACCESS_KEY"`

	StateBackend string `env:"GALLERY_UPLOAD_STATE_BACKEND"`
	StatePath    string `env:"GALLERY_UPLOAD_STATE_PATH"`
	MediaRoot    string `env:"GALLERY_UPLOAD_MEDIA_ROOT"`
	MetricsAddr  string `env:"GALLERY_UPLOAD_METRICS_ADDR"`
	Analytics    bool   `env:"GALLERY_UPLOAD_ANALYTICS"`
	Verbose      bool   `env:"GALLERY_UPLOAD_VERBOSE"`
}

// Load parses the environment and fills in defaults. Call Validate after applying overrides.
func Load(repository env.Repository) (Config, error) {
	var cfg Config
	if err := stepconf.NewInputParser(repository).Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse configuration: %w", err)
	}

	// Zero is meaningful for these (no retries, no chunk timeout, no backoff), so
	// only a missing variable means default.
	for _, d := range []struct {
		key   string
		value *int
		def   int
	}{
		{maxRetriesKey, &cfg.MaxRetries, defaultMaxRetries},
		{chunkTimeoutKey, &cfg.ChunkTimeoutSeconds, defaultChunkTimeout},
		{backoffMinKey, &cfg.BackoffMinMS, defaultBackoffMinMS},
		{backoffMaxKey, &cfg.BackoffMaxMS, defaultBackoffMaxMS},
	} {
		if !isSet(repository, d.key) {
			*d.value = d.def
		}
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

func isSet(repository env.Repository, key string) bool {
	return strings.TrimSpace(repository.Get(key)) != ""
}

// ApplyDefaults replaces the zero values that aren't valid settings with their defaults.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize == 0 {
		c.ChunkSize = chunkuploader.DefaultChunkSize
	}
	if c.Concurrency == 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.Sink == "" {
		c.Sink = SinkMemory
	}
	if c.S3Prefix == "" {
		c.S3Prefix = defaultS3Prefix
	}
	if c.StateBackend == "" {
		c.StateBackend = StateFile
	}
	if c.StatePath == "" {
		c.StatePath = DefaultStatePath(c.StateBackend)
	}
	if c.MediaRoot == "" {
		c.MediaRoot = "."
	}
}

// Validate ...
func (c Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 || c.ChunkSize > maxChunkSize {
		errs = append(errs, fmt.Errorf("chunk size must be between 1 and %d bytes, got %d", maxChunkSize, c.ChunkSize))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries))
	}
	if c.ChunkTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("chunk timeout must not be negative, got %d", c.ChunkTimeoutSeconds))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.BackoffMinMS < 0 || c.BackoffMaxMS < c.BackoffMinMS {
		errs = append(errs, fmt.Errorf("invalid backoff range: %dms..%dms", c.BackoffMinMS, c.BackoffMaxMS))
	}
	if c.HTTPRetries < 0 {
		errs = append(errs, fmt.Errorf("http retries must not be negative, got %d", c.HTTPRetries))
	}

	switch c.Sink {
	case SinkMemory:
	case SinkRTDB:
		if c.RTDBURL == "" {
			errs = append(errs, errors.New("GALLERY_UPLOAD_RTDB_URL is required for the rtdb sink"))
		}
	case SinkS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("GALLERY_UPLOAD_S3_BUCKET is required for the s3 sink"))
		}
		if c.S3Region == "" {
			errs = append(errs, errors.New("GALLERY_UPLOAD_S3_REGION is required for the s3 sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q (valid: %s, %s, %s)", c.Sink, SinkMemory, SinkRTDB, SinkS3))
	}

	switch c.StateBackend {
	case StateFile, StateSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown state backend %q (valid: %s, %s)", c.StateBackend, StateFile, StateSQLite))
	}

	return errors.Join(errs...)
}

// ChunkTimeout ...
func (c Config) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutSeconds) * time.Second
}

// UploaderConfig ...
func (c Config) UploaderConfig() chunkuploader.Config {
	cfg := chunkuploader.DefaultConfig()
	cfg.ChunkSize = c.ChunkSize
	cfg.ChunkTimeout = c.ChunkTimeout()
	return cfg
}

// CoordinatorConfig ...
func (c Config) CoordinatorConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig()
	cfg.MaxRetries = c.MaxRetries
	cfg.BackoffMin = time.Duration(c.BackoffMinMS) * time.Millisecond
	cfg.BackoffMax = time.Duration(c.BackoffMaxMS) * time.Millisecond
	cfg.Concurrency = c.Concurrency
	return cfg
}

// DefaultStatePath is the per-user location of the state file of backend.
func DefaultStatePath(backend string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := defaultFileStateName
	if backend == StateSQLite {
		name = defaultSQLiteStateName
	}
	return filepath.Join(dir, defaultStateDirName, name)
}
