// Package observability provides the library's optional distributed-trace,
// metrics, and audit-event shims (spec.md §2 "Observability shim"). Every
// call here is best-effort: a failure to reach X-Ray, CloudWatch, or
// EventBridge is logged and swallowed, never propagated to the caller,
// since none of these concerns are load-bearing for a cache hit or miss.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-xray-sdk-go/strategy/ctxmissing"
	"github.com/aws/aws-xray-sdk-go/xray"
	"go.uber.org/zap"
)

// configureXRayOnce installs a log-and-continue context-missing strategy
// so StartSubsegment never panics when no X-Ray daemon is reachable —
// tracing is an optional shim, not a load-bearing dependency (spec.md §2).
var configureXRayOnce sync.Once

func configureXRay() {
	configureXRayOnce.Do(func() {
		strategy, err := ctxmissing.NewDefaultLogErrorStrategy()
		if err == nil {
			_ = xray.Configure(xray.Config{ContextMissingStrategy: strategy})
		}
	})
}

// Tracer wraps X-Ray subsegment capture for the library's suspension
// points (KVStore, BlobStore, HTTPEngine, Crypto resolution — spec.md
// §5). When no X-Ray daemon is reachable, xray.Capture still runs fn;
// it only fails to emit a trace, which the X-Ray SDK's log-error
// context-missing strategy logs; Tracer itself adds nothing.
type Tracer struct {
	logger *zap.Logger
}

// NewTracer builds a Tracer.
func NewTracer(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	configureXRay()
	return &Tracer{logger: logger}
}

// StartSubsegment runs fn within an X-Ray subsegment named name. Errors
// returned by fn propagate to the caller; tracing failures do not.
func (t *Tracer) StartSubsegment(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return xray.Capture(ctx, name, fn)
}

// MetricsAPI narrows *cloudwatch.Client to the one call MetricsPublisher
// needs, so tests can supply a hand-written fake instead of a live AWS
// connection.
type MetricsAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsPublisher emits cache hit/miss/tier counters to CloudWatch.
type MetricsPublisher struct {
	client    MetricsAPI
	namespace string
	logger    *zap.Logger
}

// NewMetricsPublisher builds a MetricsPublisher.
func NewMetricsPublisher(client MetricsAPI, namespace string, logger *zap.Logger) *MetricsPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsPublisher{client: client, namespace: namespace, logger: logger}
}

// PublishCount emits a single Count-unit datapoint under metricName with
// the given dimensions, e.g. {"tier": "memory"} for a cache hit. Failures
// are logged at warn and otherwise ignored.
func (p *MetricsPublisher) PublishCount(ctx context.Context, metricName string, value float64, dims map[string]string) {
	if p.client == nil {
		return
	}
	now := time.Now()
	dimensions := make([]cwtypes.Dimension, 0, len(dims))
	for k, v := range dims {
		k, v := k, v
		dimensions = append(dimensions, cwtypes.Dimension{Name: &k, Value: &v})
	}

	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: &p.namespace,
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: &metricName,
				Value:      &value,
				Unit:       cwtypes.StandardUnitCount,
				Timestamp:  &now,
				Dimensions: dimensions,
			},
		},
	})
	if err != nil {
		p.logger.Warn("observability: failed to publish metric", zap.String("metric", metricName), zap.Error(err))
	}
}

// AuditAPI narrows *eventbridge.Client to PutEvents.
type AuditAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// AuditPublisher emits cache lifecycle events (e.g. tier promotion,
// stale-fallback) onto an EventBridge bus for downstream consumers.
type AuditPublisher struct {
	client AuditAPI
	source string
	bus    string
	logger *zap.Logger
}

// NewAuditPublisher builds an AuditPublisher. bus may be "" to use the
// account's default event bus.
func NewAuditPublisher(client AuditAPI, source, bus string, logger *zap.Logger) *AuditPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditPublisher{client: client, source: source, bus: bus, logger: logger}
}

// Publish emits one event of detailType with the given JSON-encodable
// detail string. Failures are logged at warn and otherwise ignored.
func (p *AuditPublisher) Publish(ctx context.Context, detailType, detail string) {
	if p.client == nil {
		return
	}
	entry := ebtypes.PutEventsRequestEntry{
		Source:     &p.source,
		DetailType: &detailType,
		Detail:     &detail,
	}
	if p.bus != "" {
		entry.EventBusName = &p.bus
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: []ebtypes.PutEventsRequestEntry{entry}})
	if err != nil {
		p.logger.Warn("observability: failed to publish audit event", zap.String("detailType", detailType), zap.Error(err))
		return
	}
	if out.FailedEntryCount > 0 {
		p.logger.Warn("observability: audit event rejected by EventBridge", zap.String("detailType", detailType))
	}
}
