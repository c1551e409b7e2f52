// Package bootstrap wires every leaf component (storage clients, crypto,
// the cache engine, the HTTP/retry/pagination stack, and the optional
// observability shim) into the single CacheableAccess coordinator that
// cmd/api and cmd/lambda both serve. It is the Go-native stand-in for
// the teacher's dependency-injection container (backend/infrastructure/di):
// one struct built once per process, passed down instead of relying on
// package-level state (spec.md §9 "Global init state").
package bootstrap

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	storage_go "github.com/supabase-community/storage-go"
	"go.uber.org/zap"

	"github.com/63klabs/cache-data-proxy/internal/blobstore"
	"github.com/63klabs/cache-data-proxy/internal/cacheaccess"
	"github.com/63klabs/cache-data-proxy/internal/cachedata"
	"github.com/63klabs/cache-data-proxy/internal/config"
	cryptoengine "github.com/63klabs/cache-data-proxy/internal/crypto"
	cacheerrors "github.com/63klabs/cache-data-proxy/internal/errors"
	"github.com/63klabs/cache-data-proxy/internal/httpengine"
	"github.com/63klabs/cache-data-proxy/internal/keyhash"
	"github.com/63klabs/cache-data-proxy/internal/kvstore"
	"github.com/63klabs/cache-data-proxy/internal/logging"
	"github.com/63klabs/cache-data-proxy/internal/memcache"
	"github.com/63klabs/cache-data-proxy/internal/observability"
	"github.com/63klabs/cache-data-proxy/internal/paginator"
	"github.com/63klabs/cache-data-proxy/internal/retryengine"
)

// Container holds every component CacheableAccess is assembled from,
// built once at process start and never reassigned afterward (spec.md
// §5 "Process-wide state ... all set during init, immutable afterward").
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Coordinator *cacheaccess.Coordinator
	// MemCache is the same instance wired into Coordinator, exposed
	// separately so the debug endpoint can read its Info() without the
	// coordinator having to grow an accessor for it.
	MemCache *memcache.Cache
	HTTP     *retryengine.Engine
	// PaginatorTemplate carries the field-name/batch-size conventions a
	// handler uses to build a per-request paginator.Engine with that
	// request's Limit filled in (Limit varies per call, so a single
	// process-wide Engine can't hold it — spec.md §4.10).
	PaginatorTemplate paginator.Config
	Tracer            *observability.Tracer
	Metrics           *observability.MetricsPublisher
	Audit             *observability.AuditPublisher
}

// New loads configuration, constructs every AWS/Supabase client, and
// wires the full cache engine + HTTP stack into one Container. Any
// returned error is an init misconfiguration (spec.md §7): callers must
// not start serving traffic.
func New(ctx context.Context, yamlPath string) (*Container, error) {
	cfg, err := config.Load(yamlPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(logging.Config{Environment: cfg.Environment, Level: cfg.Logging.Level})
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeInitMisconfig, "bootstrap.New", "build logger", err)
	}

	awsOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWS.Region)}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeInitMisconfig, "bootstrap.New", "load AWS config", err)
	}

	dynamoOptFns := []func(*dynamodb.Options){}
	cloudwatchOptFns := []func(*cloudwatch.Options){}
	eventbridgeOptFns := []func(*eventbridge.Options){}
	if cfg.AWS.Endpoint != "" {
		dynamoOptFns = append(dynamoOptFns, func(o *dynamodb.Options) { o.BaseEndpoint = &cfg.AWS.Endpoint })
		cloudwatchOptFns = append(cloudwatchOptFns, func(o *cloudwatch.Options) { o.BaseEndpoint = &cfg.AWS.Endpoint })
		eventbridgeOptFns = append(eventbridgeOptFns, func(o *eventbridge.Options) { o.BaseEndpoint = &cfg.AWS.Endpoint })
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg, dynamoOptFns...)
	cloudwatchClient := cloudwatch.NewFromConfig(awsCfg, cloudwatchOptFns...)
	eventbridgeClient := eventbridge.NewFromConfig(awsCfg, eventbridgeOptFns...)

	kv := kvstore.New(dynamoClient, cfg.KVStore.TableName, logger)

	storageClient := storage_go.NewClient(cfg.Blob.ProjectURL, cfg.Blob.ServiceKey, nil)
	blob := blobstore.New(storageClient, cfg.Blob.Bucket, cfg.Blob.KeyPrefix, logger)

	key, err := keyMaterial(cfg.Crypto)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeInitMisconfig, "bootstrap.New", "resolve crypto key material", err)
	}
	cipher := cryptoengine.New(key)

	engine, err := cachedata.New(kv, blob, cipher, cachedata.Params{
		MaxKVCacheSizeKB:       cfg.Cache.MaxKVCacheSizeKB,
		PurgeWindowSeconds:     int64(cfg.Cache.PurgeExpiredAfterHours) * 3600,
		TimeZoneForInterval:    cfg.Cache.TimeZoneForInterval,
		DefaultExpirationOnErr: 3600,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := keyhash.New(cfg.Cache.IDHashAlgorithm, cfg.Cache.FingerprintSalt)
	if err != nil {
		return nil, cacheerrors.Wrap(cacheerrors.CodeInitMisconfig, "bootstrap.New", "build key hasher", err)
	}

	var mem *memcache.Cache
	if cfg.Cache.UseInMemoryCache {
		mem = memcache.New(cfg.Cache.InMemCacheMaxEntries, cfg.Cache.InMemCacheMaxBytes, logger)
	}

	httpEngine := httpengine.New(logger)
	retry := retryengine.New(httpEngine, retryengine.Config{
		Enabled:    cfg.Retry.Enabled,
		MaxRetries: cfg.Retry.MaxRetries,
		RetryOn: retryengine.RetryOn{
			NetworkError:  cfg.Retry.RetryOn.NetworkError,
			EmptyResponse: cfg.Retry.RetryOn.EmptyResponse,
			ParseError:    cfg.Retry.RetryOn.ParseError,
			ServerError:   cfg.Retry.RetryOn.ServerError,
			ClientError:   cfg.Retry.RetryOn.ClientError,
		},
		CircuitBreakerEnabled:          cfg.Retry.CircuitBreaker.Enabled,
		CircuitBreakerFailureThreshold: cfg.Retry.CircuitBreaker.FailureThreshold,
		CircuitBreakerMinRequests:      cfg.Retry.CircuitBreaker.MinRequests,
	}, logger)

	paginatorTemplate := paginator.Config{
		TotalCountKey:  "total",
		ItemsKey:       "items",
		ReturnCountKey: "returnCount",
		OffsetParamKey: "offset",
		BatchSize:      5,
	}

	coordinator := cacheaccess.New(hasher, engine, mem, logger)

	tracer := observability.NewTracer(logger)
	metrics := observability.NewMetricsPublisher(cloudwatchClient, "CacheDataProxy", logger)
	audit := observability.NewAuditPublisher(eventbridgeClient, "cache-data-proxy", "", logger)

	return &Container{
		Config:            cfg,
		Logger:            logger,
		Coordinator:       coordinator,
		MemCache:          mem,
		HTTP:              retry,
		PaginatorTemplate: paginatorTemplate,
		Tracer:            tracer,
		Metrics:           metrics,
		Audit:             audit,
	}, nil
}

// keyMaterial builds the crypto.KeyMaterial described by cfg, matching
// the three key_source modes internal/config and spec.md §9 document.
func keyMaterial(cfg config.Crypto) (cryptoengine.KeyMaterial, error) {
	switch cfg.KeySource {
	case "hex":
		if cfg.KeyHex == "" {
			return nil, fmt.Errorf("crypto key_source=hex requires a key")
		}
		return cryptoengine.HexString(cfg.KeyHex), nil
	case "lazy":
		envVar := cfg.KeyEnvVar
		return &cryptoengine.Lazy{Resolve: func(ctx context.Context) ([]byte, error) {
			return resolveLazyKey(envVar)
		}}, nil
	case "raw":
		return nil, fmt.Errorf("crypto key_source=raw requires caller-supplied bytes; wire a RawBytes value directly")
	default:
		return nil, fmt.Errorf("unknown crypto key_source %q", cfg.KeySource)
	}
}

// resolveLazyKey reads a 64-character hex key from the named environment
// variable, matching the teacher's convention of secret material never
// traveling through the enumerated config env vars (spec.md §6: "no env
// var carries secret key material by policy").
func resolveLazyKey(envVar string) ([]byte, error) {
	if envVar == "" {
		return nil, fmt.Errorf("crypto key_source=lazy requires key_env_var to be set")
	}
	raw, ok := os.LookupEnv(envVar)
	if !ok || raw == "" {
		return nil, fmt.Errorf("crypto key_source=lazy: %s is not set", envVar)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("crypto key_source=lazy: decode %s: %w", envVar, err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto key_source=lazy: %s must decode to 32 bytes, got %d", envVar, len(b))
	}
	return b, nil
}
