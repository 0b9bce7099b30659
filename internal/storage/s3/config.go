package s3

import (
	"time"

	streamcfg "github.com/go-megfile/megfile/internal/config"
)

// Config represents S3 backend configuration
type Config struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	ForcePathStyle  bool   `yaml:"force_path_style"`

	// Profile selects a named credential/endpoint profile, resolved from
	// <PROFILE>__AWS_ACCESS_KEY_ID-style environment variables when
	// AccessKeyID/SecretAccessKey/Endpoint above are left blank. Empty
	// means the unprefixed AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY/
	// OSS_ENDPOINT variables.
	Profile string `yaml:"profile"`

	// Performance settings
	MaxRetries     int           `yaml:"max_retries"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PoolSize       int           `yaml:"pool_size"`

	// Advanced settings
	UseAccelerate bool `yaml:"use_accelerate"`
	UseDualStack  bool `yaml:"use_dual_stack"`
	DisableSSL    bool `yaml:"disable_ssl"`

	// CargoShip optimization settings
	EnableCargoShipOptimization bool    `yaml:"enable_cargoship_optimization"`
	TargetThroughput            float64 `yaml:"target_throughput"`  // MB/s
	OptimizationLevel           string  `yaml:"optimization_level"` // "standard", "aggressive"

	// Multipart settings passed to the CargoShip transporter by NewClientManager
	MultipartThreshold   int64 `yaml:"multipart_threshold"`
	MultipartChunkSize   int64 `yaml:"multipart_chunk_size"`
	MultipartConcurrency int   `yaml:"multipart_concurrency"`
}

// resolveConfigCredentials fills in AccessKeyID/SecretAccessKey/Endpoint
// from profile-scoped environment variables (see internal/config.
// ResolveCredentials) for whichever of the three the caller left blank,
// returning a copy so the caller's *Config is never mutated.
func resolveConfigCredentials(cfg *Config) *Config {
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" && cfg.Endpoint != "" {
		return cfg
	}

	resolved := *cfg
	creds := streamcfg.ResolveCredentials(cfg.Profile)
	if resolved.AccessKeyID == "" {
		resolved.AccessKeyID = creds.AccessKeyID
	}
	if resolved.SecretAccessKey == "" {
		resolved.SecretAccessKey = creds.SecretAccessKey
	}
	if resolved.Endpoint == "" {
		resolved.Endpoint = creds.Endpoint
	}
	return &resolved
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		MaxRetries:                  3,
		ConnectTimeout:              10 * time.Second,
		RequestTimeout:              30 * time.Second,
		PoolSize:                    8,
		EnableCargoShipOptimization: true,
		TargetThroughput:            800.0, // 800 MB/s target for ObjectFS
		OptimizationLevel:           "standard",
		MultipartThreshold:          32 * 1024 * 1024,
		MultipartChunkSize:          16 * 1024 * 1024,
		MultipartConcurrency:        8,
	}
}
