package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapRepository map[string]string

func (r mapRepository) List() []string {
	var envs []string
	for k, v := range r {
		envs = append(envs, k+"="+v)
	}
	return envs
}

func (r mapRepository) Unset(key string) error {
	delete(r, key)
	return nil
}

func (r mapRepository) Get(key string) string {
	return r[key]
}

func (r mapRepository) Set(key, value string) error {
	r[key] = value
	return nil
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(mapRepository{})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 128*1024, cfg.ChunkSize)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.ChunkTimeout())
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, SinkMemory, cfg.Sink)
	assert.Equal(t, StateFile, cfg.StateBackend)
	assert.Equal(t, "uploads", cfg.S3Prefix)
	assert.NotEmpty(t, cfg.StatePath)
	assert.False(t, cfg.Compress)

	coordinatorConfig := cfg.CoordinatorConfig()
	assert.Equal(t, 500*time.Millisecond, coordinatorConfig.BackoffMin)
	assert.Equal(t, 10*time.Second, coordinatorConfig.BackoffMax)
	assert.Equal(t, 2, coordinatorConfig.MaxRetries)

	uploaderConfig := cfg.UploaderConfig()
	assert.Equal(t, 128*1024, uploaderConfig.ChunkSize)
	assert.Equal(t, 30*time.Second, uploaderConfig.ChunkTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load(mapRepository{
		"GALLERY_UPLOAD_CHUNK_SIZE":           "4096",
		"GALLERY_UPLOAD_MAX_RETRIES":          "0",
		"GALLERY_UPLOAD_CHUNK_TIMEOUT_SECONDS": "5",
		"GALLERY_UPLOAD_CONCURRENCY":          "1",
		"GALLERY_UPLOAD_SINK":                 "rtdb",
		"GALLERY_UPLOAD_RTDB_URL":             "https://example.firebaseio.com",
		"GALLERY_UPLOAD_RTDB_AUTH":            "token",
		"GALLERY_UPLOAD_COMPRESS":             "true",
		"GALLERY_UPLOAD_STATE_BACKEND":        "sqlite",
		"GALLERY_UPLOAD_STATE_PATH":           "/tmp/state.db",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4096, cfg.ChunkSize)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.ChunkTimeout())
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, SinkRTDB, cfg.Sink)
	assert.Equal(t, "token", string(cfg.RTDBAuth))
	assert.True(t, cfg.Compress)
	assert.Equal(t, StateSQLite, cfg.StateBackend)
	assert.Equal(t, "/tmp/state.db", cfg.StatePath)
}

func TestLoad_ExplicitZeroIsKept(t *testing.T) {
	cfg, err := Load(mapRepository{
		"GALLERY_UPLOAD_CHUNK_TIMEOUT_SECONDS": "0",
		"GALLERY_UPLOAD_BACKOFF_MIN_MS":        "0",
		"GALLERY_UPLOAD_BACKOFF_MAX_MS":        "0",
	})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Duration(0), cfg.ChunkTimeout())
	assert.Equal(t, time.Duration(0), cfg.UploaderConfig().ChunkTimeout)

	coordinatorConfig := cfg.CoordinatorConfig()
	assert.Equal(t, time.Duration(0), coordinatorConfig.BackoffMin)
	assert.Equal(t, time.Duration(0), coordinatorConfig.BackoffMax)
	assert.Equal(t, 2, coordinatorConfig.MaxRetries)
}

func TestLoad_InvalidNumber(t *testing.T) {
	_, err := Load(mapRepository{"GALLERY_UPLOAD_CHUNK_SIZE": "big"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "negative retries",
			modify:  func(c *Config) { c.MaxRetries = -1 },
			wantErr: "max retries must not be negative",
		},
		{
			name:    "oversized chunk",
			modify:  func(c *Config) { c.ChunkSize = 32 * 1024 * 1024 },
			wantErr: "chunk size must be between",
		},
		{
			name:    "inverted backoff",
			modify:  func(c *Config) { c.BackoffMinMS, c.BackoffMaxMS = 2000, 1000 },
			wantErr: "invalid backoff range",
		},
		{
			name:    "unknown sink",
			modify:  func(c *Config) { c.Sink = "ftp" },
			wantErr: `unknown sink "ftp"`,
		},
		{
			name:    "rtdb without url",
			modify:  func(c *Config) { c.Sink = SinkRTDB },
			wantErr: "GALLERY_UPLOAD_RTDB_URL is required",
		},
		{
			name:    "s3 without bucket",
			modify:  func(c *Config) { c.Sink, c.S3Region = SinkS3, "eu-west-1" },
			wantErr: "GALLERY_UPLOAD_S3_BUCKET is required",
		},
		{
			name:    "unknown state backend",
			modify:  func(c *Config) { c.StateBackend = "redis" },
			wantErr: `unknown state backend "redis"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(mapRepository{})
			require.NoError(t, err)
			tt.modify(&cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultStatePath(t *testing.T) {
	assert.Contains(t, DefaultStatePath(StateFile), "pending.json")
	assert.Contains(t, DefaultStatePath(StateSQLite), "state.db")
}
