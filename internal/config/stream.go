package config

import (
	"os"
	"strconv"
	"strings"
)

// StreamConfig holds the runtime-tunable knobs for the streaming reader,
// writer, worker pool, and retry drivers, sourced from the unprefixed
// environment variables spec.md §6 lists directly (READER_BLOCK_SIZE, and
// so on), distinct from the OBJECTFS_-prefixed variables Configuration's
// own LoadFromEnv recognizes for the rest of the application.
type StreamConfig struct {
	ReaderBlockSize      int64
	ReaderMaxBufferSize  int64
	WriterBlockSize      int64
	WriterMaxBufferSize  int64
	WriterBlockAutoscale bool
	WriterAtomic         bool
	MaxWorkers           int
	S3MaxRetryTimes      int
	HTTPMaxRetryTimes    int
	S3ClientCacheMode    string
}

// DefaultStreamConfig returns the spec.md §6 defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReaderBlockSize:      8 * 1024 * 1024,
		ReaderMaxBufferSize:  128 * 1024 * 1024,
		WriterBlockSize:      8 * 1024 * 1024,
		WriterMaxBufferSize:  128 * 1024 * 1024,
		WriterBlockAutoscale: false,
		WriterAtomic:         false,
		MaxWorkers:           8,
		S3MaxRetryTimes:      10,
		HTTPMaxRetryTimes:    10,
		S3ClientCacheMode:    "thread_local",
	}
}

// LoadStreamConfigFromEnv starts from DefaultStreamConfig and overrides it
// with any of spec.md §6's environment variables that are set.
func LoadStreamConfigFromEnv() (StreamConfig, error) {
	cfg := DefaultStreamConfig()

	for _, f := range []struct {
		env string
		set func(int64) error
	}{
		{"READER_BLOCK_SIZE", func(v int64) error { cfg.ReaderBlockSize = v; return nil }},
		{"READER_MAX_BUFFER_SIZE", func(v int64) error { cfg.ReaderMaxBufferSize = v; return nil }},
		{"WRITER_BLOCK_SIZE", func(v int64) error { cfg.WriterBlockSize = v; return nil }},
		{"WRITER_MAX_BUFFER_SIZE", func(v int64) error { cfg.WriterMaxBufferSize = v; return nil }},
	} {
		if val := os.Getenv(f.env); val != "" {
			n, err := ParseQuantity(val)
			if err != nil {
				return StreamConfig{}, err
			}
			if err := f.set(n); err != nil {
				return StreamConfig{}, err
			}
		}
	}

	if val := os.Getenv("WRITER_BLOCK_AUTOSCALE"); val != "" {
		cfg.WriterBlockAutoscale = strings.EqualFold(val, "true") || val == "1"
	}
	if val := os.Getenv("WRITER_ATOMIC"); val != "" {
		cfg.WriterAtomic = strings.EqualFold(val, "true") || val == "1"
	}
	if val := os.Getenv("MAX_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.MaxWorkers = n
		}
	}
	if val := os.Getenv("S3_MAX_RETRY_TIMES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.S3MaxRetryTimes = n
		}
	}
	if val := os.Getenv("HTTP_MAX_RETRY_TIMES"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.HTTPMaxRetryTimes = n
		}
	}
	if val := os.Getenv("S3_CLIENT_CACHE_MODE"); val != "" {
		cfg.S3ClientCacheMode = val
	}

	return cfg, nil
}

// Credentials is a resolved access key / secret key / endpoint triple for
// one named profile (or the unnamed default profile).
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
}

// ResolveCredentials reads AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, and
// OSS_ENDPOINT from the environment. When profile is non-empty it reads the
// "<PROFILE>__<NAME>" uppercase variants instead (e.g. "BACKUP__OSS_ENDPOINT"
// for profile "backup"), matching s3+PROFILE:// path syntax and the
// profile-scoped environment lookup megfile's S3 client construction uses.
func ResolveCredentials(profile string) Credentials {
	return Credentials{
		AccessKeyID:     profileEnv(profile, "AWS_ACCESS_KEY_ID"),
		SecretAccessKey: profileEnv(profile, "AWS_SECRET_ACCESS_KEY"),
		Endpoint:        profileEnv(profile, "OSS_ENDPOINT"),
	}
}

func profileEnv(profile, name string) string {
	if profile == "" {
		return os.Getenv(name)
	}
	return os.Getenv(strings.ToUpper(profile) + "__" + name)
}
