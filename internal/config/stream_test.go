package config

import (
	"os"
	"testing"
)

func TestDefaultStreamConfig_MatchesSpecDefaults(t *testing.T) {
	cfg := DefaultStreamConfig()
	if cfg.ReaderBlockSize != 8*1024*1024 {
		t.Errorf("ReaderBlockSize = %d, want 8MiB", cfg.ReaderBlockSize)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d, want 8", cfg.MaxWorkers)
	}
	if cfg.S3MaxRetryTimes != 10 || cfg.HTTPMaxRetryTimes != 10 {
		t.Errorf("retry defaults = %d/%d, want 10/10", cfg.S3MaxRetryTimes, cfg.HTTPMaxRetryTimes)
	}
	if cfg.S3ClientCacheMode != "thread_local" {
		t.Errorf("S3ClientCacheMode = %q, want thread_local", cfg.S3ClientCacheMode)
	}
}

func TestLoadStreamConfigFromEnv_OverridesDefaults(t *testing.T) {
	for k, v := range map[string]string{
		"READER_BLOCK_SIZE":       "16Mi",
		"WRITER_BLOCK_AUTOSCALE":  "true",
		"WRITER_ATOMIC":           "true",
		"MAX_WORKERS":             "32",
		"S3_MAX_RETRY_TIMES":      "5",
		"S3_CLIENT_CACHE_MODE":    "global",
	} {
		t.Setenv(k, v)
	}

	cfg, err := LoadStreamConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadStreamConfigFromEnv error: %v", err)
	}
	if cfg.ReaderBlockSize != 16*1024*1024 {
		t.Errorf("ReaderBlockSize = %d, want 16MiB", cfg.ReaderBlockSize)
	}
	if !cfg.WriterBlockAutoscale {
		t.Error("expected WriterBlockAutoscale to be true")
	}
	if !cfg.WriterAtomic {
		t.Error("expected WriterAtomic to be true")
	}
	if cfg.MaxWorkers != 32 {
		t.Errorf("MaxWorkers = %d, want 32", cfg.MaxWorkers)
	}
	if cfg.S3MaxRetryTimes != 5 {
		t.Errorf("S3MaxRetryTimes = %d, want 5", cfg.S3MaxRetryTimes)
	}
	if cfg.S3ClientCacheMode != "global" {
		t.Errorf("S3ClientCacheMode = %q, want global", cfg.S3ClientCacheMode)
	}
	// untouched fields keep their defaults
	if cfg.WriterBlockSize != 8*1024*1024 {
		t.Errorf("WriterBlockSize = %d, want default 8MiB", cfg.WriterBlockSize)
	}
}

func TestLoadStreamConfigFromEnv_InvalidQuantityFails(t *testing.T) {
	t.Setenv("READER_BLOCK_SIZE", "not-a-size")
	if _, err := LoadStreamConfigFromEnv(); err == nil {
		t.Error("expected error for invalid READER_BLOCK_SIZE")
	}
}

func TestResolveCredentials_DefaultAndProfileScoped(t *testing.T) {
	os.Unsetenv("AWS_ACCESS_KEY_ID")
	os.Unsetenv("AWS_SECRET_ACCESS_KEY")
	os.Unsetenv("OSS_ENDPOINT")
	t.Setenv("AWS_ACCESS_KEY_ID", "default-key")
	t.Setenv("BACKUP__AWS_ACCESS_KEY_ID", "backup-key")
	t.Setenv("BACKUP__OSS_ENDPOINT", "https://backup.example.com")

	def := ResolveCredentials("")
	if def.AccessKeyID != "default-key" {
		t.Errorf("default AccessKeyID = %q, want default-key", def.AccessKeyID)
	}

	backup := ResolveCredentials("backup")
	if backup.AccessKeyID != "backup-key" {
		t.Errorf("backup AccessKeyID = %q, want backup-key", backup.AccessKeyID)
	}
	if backup.Endpoint != "https://backup.example.com" {
		t.Errorf("backup Endpoint = %q, want https://backup.example.com", backup.Endpoint)
	}
}
