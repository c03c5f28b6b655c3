package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	ratingsSubmitted   metric.Int64Counter
	ratingsRejected    metric.Int64Counter
	scoreRecalculated  metric.Int64Counter
	violationsRecorded metric.Int64Counter
	disputeEvents      metric.Int64Counter
	ledgerEntries      metric.Int64Counter
	rateLimitAllowed   metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "karma"
	}
	meter := provider.Meter(name)

	counters := map[string]*metric.Int64Counter{}
	m := &Metrics{}
	counters["karma_ratings_submitted_total"] = &m.ratingsSubmitted
	counters["karma_ratings_rejected_total"] = &m.ratingsRejected
	counters["karma_score_recalculations_total"] = &m.scoreRecalculated
	counters["karma_violations_total"] = &m.violationsRecorded
	counters["karma_dispute_events_total"] = &m.disputeEvents
	counters["karma_ledger_entries_total"] = &m.ledgerEntries
	counters["karma_rate_limit_allowed_total"] = &m.rateLimitAllowed
	counters["karma_rate_limit_denied_total"] = &m.rateLimitDenied

	for instrument, target := range counters {
		counter, err := meter.Int64Counter(instrument)
		if err != nil {
			return nil, err
		}
		*target = counter
	}

	return m, nil
}

// RecordRatingSubmitted counts accepted ratings by score band.
func (m *Metrics) RecordRatingSubmitted(ctx context.Context, score int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("band", scoreBand(score)))
	m.ratingsSubmitted.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRatingRejected counts rejected submissions by error code.
func (m *Metrics) RecordRatingRejected(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.ratingsRejected.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordScoreRecalculated counts score recalculations by trigger.
func (m *Metrics) RecordScoreRecalculated(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("trigger", strings.TrimSpace(trigger)))
	m.scoreRecalculated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordViolation counts recorded violations by kind and source.
func (m *Metrics) RecordViolation(ctx context.Context, kind, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.violationsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDisputeEvent counts dispute lifecycle events (created, confirmed, overturned, partial, rejected).
func (m *Metrics) RecordDisputeEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(event)))
	m.disputeEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, action string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("action", strings.TrimSpace(action)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, action, backend string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("action", strings.TrimSpace(action)),
		attribute.String("backend", strings.TrimSpace(backend)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func scoreBand(score int) string {
	switch {
	case score >= 8:
		return "high"
	case score >= 4:
		return "mid"
	default:
		return "low"
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"action":      {},
	"backend":     {},
	"band":        {},
	"event_type":  {},
	"kind":        {},
	"reason":      {},
	"route":       {},
	"source":      {},
	"source_type": {},
	"status_code": {},
	"trigger":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
