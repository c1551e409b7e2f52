// Package config loads and validates the cache engine's configuration.
// It follows the teacher's layered-override pattern: code defaults, an
// optional YAML file, then the environment variables enumerated in
// spec.md §6, validated last with go-playground/validator. Load is a pure
// function — it does not mutate package-level state — so parallel test
// instances can each build their own Config.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	cacheerrors "github.com/63klabs/cache-data-proxy/internal/errors"
)

// Config is the complete, validated configuration for the cache engine,
// the HTTP engine, and their ambient (logging/observability) concerns.
type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=development staging production"`

	Server  Server  `yaml:"server" validate:"required"`
	KVStore KVStore `yaml:"kv_store" validate:"required"`
	Blob    Blob    `yaml:"blob" validate:"required"`
	Crypto  Crypto  `yaml:"crypto" validate:"required"`
	Cache   Cache   `yaml:"cache" validate:"required"`
	Retry   Retry   `yaml:"retry" validate:"required"`
	Logging Logging `yaml:"logging" validate:"required"`
	AWS     AWS     `yaml:"aws" validate:"required"`

	LoadedFrom []string `yaml:"-"`
}

// Server holds the local/dev HTTP server's settings.
type Server struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"required,min=1,max=65535"`
}

// KVStore configures the DynamoDB-backed primary record store.
type KVStore struct {
	TableName string `yaml:"table_name" validate:"required,min=3"`
}

// Blob configures the Supabase Storage-backed oversize-payload store.
type Blob struct {
	Bucket    string `yaml:"bucket" validate:"required,min=3"`
	KeyPrefix string `yaml:"key_prefix"`
	ProjectURL string `yaml:"project_url" validate:"required,url"`
	// ServiceKey authenticates against the Storage API. Never sourced from
	// an environment variable name enumerated in spec.md §6 (no env var
	// carries secret key material by policy); it is read directly from
	// SUPABASE_SERVICE_ROLE_KEY, mirroring the teacher's own convention
	// for that exact variable.
	ServiceKey string `yaml:"-" validate:"required"`
}

// Crypto configures symmetric encryption for "private" cache entries.
type Crypto struct {
	Algorithm string `yaml:"algorithm" validate:"required,oneof=AES-256-CBC"`
	// KeySource selects how secureDataKey is resolved: "raw", "hex", or
	// "lazy" (see internal/crypto.KeyMaterial).
	KeySource string `yaml:"key_source" validate:"required,oneof=raw hex lazy"`
	// KeyHex is used verbatim when KeySource == "hex".
	KeyHex string `yaml:"-"`
	// KeyEnvVar names the environment variable a "lazy" key resolver reads.
	KeyEnvVar string `yaml:"key_env_var"`
}

// Cache holds the CacheData/Cache policy engine's tunables.
type Cache struct {
	IDHashAlgorithm         string `yaml:"id_hash_algorithm" validate:"required,oneof=sha256 sha512"`
	MaxKVCacheSizeKB        float64 `yaml:"max_kv_cache_size_kb" validate:"required,gt=0"`
	PurgeExpiredAfterHours  int    `yaml:"purge_expired_after_hours" validate:"required,gt=0"`
	TimeZoneForInterval     string `yaml:"time_zone_for_interval" validate:"required"`
	UseInMemoryCache        bool   `yaml:"use_in_memory_cache"`
	InMemCacheMaxEntries    int    `yaml:"in_mem_cache_max_entries" validate:"required_if=UseInMemoryCache true"`
	InMemCacheMaxBytes      int64  `yaml:"in_mem_cache_max_bytes"`
	// FingerprintSalt is mixed into every KeyHasher digest, namespacing
	// caches per deployment (spec.md §9 open question). Defaults to
	// AWS_LAMBDA_FUNCTION_NAME when unset.
	FingerprintSalt string `yaml:"fingerprint_salt"`
}

// Retry holds RetryEngine/circuit-breaker tunables.
type Retry struct {
	Enabled    bool `yaml:"enabled"`
	MaxRetries int  `yaml:"max_retries" validate:"min=0,max=10"`
	RetryOn    RetryOn `yaml:"retry_on"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker"`
}

// RetryOn enumerates which failure classes are retryable.
type RetryOn struct {
	NetworkError  bool `yaml:"network_error"`
	EmptyResponse bool `yaml:"empty_response"`
	ParseError    bool `yaml:"parse_error"`
	ServerError   bool `yaml:"server_error"`
	ClientError   bool `yaml:"client_error"`
}

// CircuitBreaker configures the gobreaker wrapper in front of RetryEngine.
type CircuitBreaker struct {
	Enabled          bool    `yaml:"enabled"`
	FailureThreshold float64 `yaml:"failure_threshold" validate:"min=0,max=1"`
	MinRequests      uint32  `yaml:"min_requests"`
}

// Logging configures zap.
type Logging struct {
	Level string `yaml:"level" validate:"required,oneof=debug info warn error"`
}

// AWS holds region/profile settings shared by every AWS SDK client.
type AWS struct {
	Region   string `yaml:"region" validate:"required"`
	Endpoint string `yaml:"endpoint"` // for LocalStack-style local development
}

// Defaults returns a Config populated with spec.md §3's documented
// defaults, before any file or environment overlay is applied.
func Defaults() *Config {
	return &Config{
		Environment: "development",
		Server:      Server{Host: "0.0.0.0", Port: 8080},
		KVStore:     KVStore{TableName: "cache-data"},
		Blob:        Blob{Bucket: "cache-data", KeyPrefix: "cache/"},
		Crypto:      Crypto{Algorithm: "AES-256-CBC", KeySource: "lazy", KeyEnvVar: "CACHE_DATA_SECURE_DATA_KEY"},
		Cache: Cache{
			IDHashAlgorithm:        "sha256",
			MaxKVCacheSizeKB:       350,
			PurgeExpiredAfterHours: 24,
			TimeZoneForInterval:    "UTC",
			UseInMemoryCache:       true,
			InMemCacheMaxEntries:   1000,
			InMemCacheMaxBytes:     64 << 20,
		},
		Retry: Retry{
			Enabled:    true,
			MaxRetries: 2,
			RetryOn: RetryOn{
				NetworkError:  true,
				EmptyResponse: true,
				ParseError:    false,
				ServerError:   true,
				ClientError:   false,
			},
			CircuitBreaker: CircuitBreaker{Enabled: true, FailureThreshold: 0.6, MinRequests: 3},
		},
		Logging: Logging{Level: "info"},
		AWS:     AWS{Region: "us-east-1"},
	}
}

// Load builds a Config from defaults, an optional YAML file at yamlPath
// (ignored if empty or missing), then the environment variables listed in
// spec.md §6, and validates the result. A validation failure is the one
// class of error the core allows to propagate (CodeInitMisconfig).
func Load(yamlPath string) (*Config, error) {
	cfg := Defaults()
	sources := []string{"defaults"}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, cacheerrors.Wrap(cacheerrors.CodeInitMisconfig, "config.Load", "parse yaml config", err)
			}
			sources = append(sources, yamlPath)
		} else if !os.IsNotExist(err) {
			return nil, cacheerrors.Wrap(cacheerrors.CodeInitMisconfig, "config.Load", "read yaml config", err)
		}
	}

	applyEnv(cfg)
	sources = append(sources, "environment")
	cfg.LoadedFrom = sources

	if cfg.Blob.ServiceKey == "" {
		cfg.Blob.ServiceKey = os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	}
	if cfg.Crypto.KeySource == "hex" && cfg.Crypto.KeyHex == "" {
		cfg.Crypto.KeyHex = os.Getenv("CACHE_DATA_SECURE_DATA_KEY")
	}
	if cfg.Cache.FingerprintSalt == "" {
		cfg.Cache.FingerprintSalt = os.Getenv("AWS_LAMBDA_FUNCTION_NAME")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeInitMisconfig, "config.Load", "validate config", err)
	}

	return cfg, nil
}

// envString / envInt / envFloat / envBool overlay a single field from the
// named environment variable when present, matching spec.md §6's table.
func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(dst *bool, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

// applyEnv overlays every environment variable enumerated in spec.md §6.
func applyEnv(cfg *Config) {
	envString(&cfg.KVStore.TableName, "CACHE_DATA_DYNAMO_DB_TABLE")
	envString(&cfg.Blob.Bucket, "CACHE_DATA_S3_BUCKET")
	envString(&cfg.Crypto.Algorithm, "CACHE_DATA_SECURE_DATA_ALGORITHM")
	envString(&cfg.Cache.IDHashAlgorithm, "CACHE_DATA_ID_HASH_ALGORITHM")
	envFloat(&cfg.Cache.MaxKVCacheSizeKB, "CACHE_DATA_DYNAMO_DB_MAX_CACHE_SIZE_KB")
	envInt(&cfg.Cache.PurgeExpiredAfterHours, "CACHE_DATA_PURGE_EXPIRED_CACHE_ENTRIES_AFTER_X_HRS")
	envString(&cfg.Cache.TimeZoneForInterval, "CACHE_DATA_TIME_ZONE_FOR_INTERVAL")
	envBool(&cfg.Cache.UseInMemoryCache, "CACHE_USE_IN_MEMORY")
	envString(&cfg.AWS.Region, "AWS_REGION")
}
