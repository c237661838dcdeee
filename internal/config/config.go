package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings of the release server process.
type Config struct {
	// ListenAddress is the HTTP listen address, e.g. ":8080".
	ListenAddress string `yaml:"listen_addr"`
	// GRPCListenAddress is the optional gRPC health listen address. Empty disables it.
	GRPCListenAddress string `yaml:"grpc_listen_addr"`
	// BaseURL is the public origin used to derive artifact URLs.
	BaseURL string `yaml:"base_url"`
	// APIKey is the raw bootstrap API key. A rotated key stored on the server wins over it.
	APIKey string `yaml:"api_key"`
	// PublicKey is the base64 Ed25519 verification key. A key stored on the server wins over it.
	PublicKey string `yaml:"public_key"`
	// AuditIPSalt is mixed into client addresses before they are hashed for the audit log.
	AuditIPSalt string `yaml:"audit_ip_salt"`
	// TrustedProxies lists reverse proxies (IPs or CIDRs) allowed to set client address headers.
	// Empty means the TCP peer address is always used.
	TrustedProxies []string `yaml:"trusted_proxies"`
	// Storage selects and configures the blob backend.
	Storage StorageConfig `yaml:"storage"`
	// RateLimit configures the request limiter.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	// Log configures the global logger.
	Log LogConfig `yaml:"log"`
	// Timeout bounds how long a client may take to send the request headers.
	Timeout time.Duration `yaml:"timeout"`
	// WriteTimeout bounds a whole HTTP exchange including the body. Zero means unlimited,
	// so large uploads and downloads are not cut off.
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// IdleTimeout bounds how long a keep-alive connection waits for the next request.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// ShutdownTimeout bounds the graceful shutdown of listeners.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects one of the storage backends.
type StorageConfig struct {
	// Backend is one of "local", "bucket" or "s3".
	Backend string `yaml:"backend"`
	// DataDir is the base directory of the local backend.
	DataDir string `yaml:"data_dir"`
	// BucketURL is a gocloud.dev bucket URL such as "s3://bucket?region=eu-west-1" or "mem://".
	BucketURL string `yaml:"bucket_url"`
	// S3 holds the settings of the S3-compatible backend.
	S3 S3Config `yaml:"s3"`
}

// S3Config describes an S3-compatible endpoint.
type S3Config struct {
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	// Endpoint is an optional URL of a non-AWS implementation (MinIO, R2, ...).
	Endpoint string `yaml:"endpoint"`
}

// RateLimitConfig configures where rate-limit windows are kept.
type RateLimitConfig struct {
	// RedisURL switches the limiter to a shared Redis store when set.
	RedisURL string `yaml:"redis_url"`
	// SweepInterval is how often expired in-memory windows are removed.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	// DefaultConfigFilename is the default filename for server settings.
	DefaultConfigFilename = "release-server.yaml"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 30 * time.Second

	// DefaultIdleTimeout bounds idle keep-alive connections.
	DefaultIdleTimeout = 2 * time.Minute

	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second

	// DefaultSweepInterval is how often expired rate-limit windows are dropped.
	DefaultSweepInterval = time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// DefaultPort is the HTTP port used when nothing else is configured.
	DefaultPort = "8080"

	// DefaultBaseURL is the public origin used when nothing else is configured.
	DefaultBaseURL = "http://localhost:8080"

	// DefaultDataDir is the base directory of the local storage backend.
	DefaultDataDir = "./data"

	// DefaultRegion is the S3 region used when none is configured.
	DefaultRegion = "us-east-1"

	// DefaultBucket is the S3 bucket used when none is configured.
	DefaultBucket = "releases"

	// BackendLocal stores blobs on the local filesystem.
	BackendLocal = "local"
	// BackendBucket stores blobs through a gocloud.dev bucket URL.
	BackendBucket = "bucket"
	// BackendS3 stores blobs through the S3 API.
	BackendS3 = "s3"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errListenAddressRequired is returned when no listen address is configured.
	errListenAddressRequired = errors.New("listen address must be provided")
	// errUnknownBackend is returned for unsupported storage backends.
	errUnknownBackend = errors.New("unknown storage backend")
	// errDataDirRequired is returned when the local backend has no directory.
	errDataDirRequired = errors.New("data directory must be provided")
	// errBucketURLRequired is returned when the bucket backend has no URL.
	errBucketURLRequired = errors.New("bucket url must be provided")
	// errS3BucketRequired is returned when the s3 backend has no bucket.
	errS3BucketRequired = errors.New("s3 bucket must be provided")
	// errUnknownLogFormat is returned for unsupported log encoders.
	errUnknownLogFormat = errors.New("unknown log format")
	// errBadTrustedProxy is returned for trusted proxies that are neither an IP nor a CIDR.
	errBadTrustedProxy = errors.New("trusted proxy must be an IP or CIDR")
)

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Default returns the settings used when neither a file nor the environment say otherwise.
func Default() *Config {
	return &Config{
		ListenAddress: ":" + DefaultPort,
		BaseURL:       DefaultBaseURL,
		Storage: StorageConfig{
			Backend: BackendLocal,
			DataDir: DefaultDataDir,
			S3: S3Config{
				Region: DefaultRegion,
				Bucket: DefaultBucket,
			},
		},
		RateLimit: RateLimitConfig{
			SweepInterval: DefaultSweepInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Timeout:         DefaultTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Load reads settings from the process environment and the provided YAML path.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv builds settings from defaults, then the YAML file, then the environment.
// A missing file at the default location is not an error so the server can run on
// environment variables alone.
func LoadWithEnv(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}

	if err = Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv overrides settings with the deployment environment variables.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	setString(lookup, "STORAGE_BACKEND", &cfg.Storage.Backend)
	setString(lookup, "DATA_DIR", &cfg.Storage.DataDir)
	setString(lookup, "BUCKET_URL", &cfg.Storage.BucketURL)
	setString(lookup, "AWS_ACCESS_KEY_ID", &cfg.Storage.S3.AccessKeyID)
	setString(lookup, "AWS_SECRET_ACCESS_KEY", &cfg.Storage.S3.SecretAccessKey)
	setString(lookup, "AWS_REGION", &cfg.Storage.S3.Region)
	setString(lookup, "S3_BUCKET", &cfg.Storage.S3.Bucket)
	setString(lookup, "S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	setString(lookup, "API_KEY", &cfg.APIKey)
	setString(lookup, "ED25519_PUBLIC_KEY", &cfg.PublicKey)
	setString(lookup, "BASE_URL", &cfg.BaseURL)
	setString(lookup, "AUDIT_IP_SALT", &cfg.AuditIPSalt)
	setString(lookup, "RATE_LIMIT_REDIS_URL", &cfg.RateLimit.RedisURL)
	setString(lookup, "LOG_LEVEL", &cfg.Log.Level)
	setString(lookup, "LOG_FORMAT", &cfg.Log.Format)

	if proxies, ok := lookupNonEmpty(lookup, "TRUSTED_PROXIES"); ok {
		cfg.TrustedProxies = splitList(proxies)
	}

	if port, ok := lookupNonEmpty(lookup, "PORT"); ok {
		cfg.ListenAddress = portToAddress(port)
	}

	if port, ok := lookupNonEmpty(lookup, "GRPC_PORT"); ok {
		cfg.GRPCListenAddress = portToAddress(port)
	}
}

// Validate checks the provided settings for required fields and formatting.
// Zero durations are replaced with defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.ListenAddress == "" {
		return errListenAddressRequired
	}

	if _, _, err := net.SplitHostPort(settings.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}

	if settings.GRPCListenAddress != "" {
		if _, _, err := net.SplitHostPort(settings.GRPCListenAddress); err != nil {
			return fmt.Errorf("invalid grpc listen address: %w", err)
		}
	}

	if settings.BaseURL == "" {
		settings.BaseURL = DefaultBaseURL
	}

	if _, err := url.ParseRequestURI(settings.BaseURL); err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}

	settings.BaseURL = strings.TrimRight(settings.BaseURL, "/")

	if err := validateStorage(&settings.Storage); err != nil {
		return err
	}

	for _, proxy := range settings.TrustedProxies {
		if !isIPOrCIDR(proxy) {
			return fmt.Errorf("%w: %q", errBadTrustedProxy, proxy)
		}
	}

	switch strings.ToLower(settings.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("%w: %s", errUnknownLogFormat, settings.Log.Format)
	}

	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}

	if settings.WriteTimeout < 0 {
		settings.WriteTimeout = 0
	}

	if settings.IdleTimeout <= 0 {
		settings.IdleTimeout = DefaultIdleTimeout
	}

	if settings.ShutdownTimeout <= 0 {
		settings.ShutdownTimeout = DefaultShutdownTimeout
	}

	if settings.RateLimit.SweepInterval <= 0 {
		settings.RateLimit.SweepInterval = DefaultSweepInterval
	}

	return nil
}

func validateStorage(storage *StorageConfig) error {
	storage.Backend = strings.ToLower(strings.TrimSpace(storage.Backend))
	if storage.Backend == "" {
		storage.Backend = BackendLocal
	}

	switch storage.Backend {
	case BackendLocal:
		if storage.DataDir == "" {
			return errDataDirRequired
		}
	case BackendBucket:
		if storage.BucketURL == "" {
			return errBucketURLRequired
		}
	case BackendS3:
		if storage.S3.Bucket == "" {
			return errS3BucketRequired
		}

		if storage.S3.Region == "" {
			storage.S3.Region = DefaultRegion
		}

		if storage.S3.Endpoint != "" {
			if _, err := url.ParseRequestURI(storage.S3.Endpoint); err != nil {
				return fmt.Errorf("invalid s3 endpoint: %w", err)
			}
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownBackend, storage.Backend)
	}

	return nil
}

// Redacted returns a copy safe to print: secrets are masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.APIKey = mask(out.APIKey)
	out.AuditIPSalt = mask(out.AuditIPSalt)
	out.Storage.S3.SecretAccessKey = mask(out.Storage.S3.SecretAccessKey)
	out.RateLimit.RedisURL = maskURLCredentials(out.RateLimit.RedisURL)

	return &out
}

// maskURLCredentials hides the userinfo of a connection URL. Unparsable values are masked whole.
func maskURLCredentials(value string) string {
	if value == "" {
		return ""
	}

	parsed, err := url.Parse(value)
	if err != nil {
		return mask(value)
	}

	if parsed.User == nil {
		return value
	}

	// A bare userinfo such as redis://token@host carries the secret as the username.
	if _, hasPassword := parsed.User.Password(); !hasPassword {
		parsed.User = url.User("xxxxx")
	}

	return parsed.Redacted()
}

func mask(value string) string {
	if value == "" {
		return ""
	}

	return "***"
}

func setString(lookup LookupFunc, key string, target *string) {
	if value, ok := lookupNonEmpty(lookup, key); ok {
		*target = value
	}
}

func lookupNonEmpty(lookup LookupFunc, key string) (string, bool) {
	value, ok := lookup(key)
	if !ok {
		return "", false
	}

	value = strings.TrimSpace(value)

	return value, value != ""
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))

	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

func isIPOrCIDR(value string) bool {
	if net.ParseIP(value) != nil {
		return true
	}

	_, _, err := net.ParseCIDR(value)

	return err == nil
}

// portToAddress accepts either a bare port or a full host:port.
func portToAddress(port string) string {
	if _, err := strconv.Atoi(port); err == nil {
		return ":" + port
	}

	return port
}
