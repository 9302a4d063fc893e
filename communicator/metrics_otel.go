package communicator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter                metric.Meter
	collectivesCompleted metric.Int64Counter
	collectivesFailed    metric.Int64Counter
	requestsPosted       metric.Int64Counter
	requestsCompleted    metric.Int64Counter
	waitTimeouts         metric.Int64Counter
	streamAborts         metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter
// measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/gpucomm/comms-go/communicator"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	collectivesCompleted, err := meter.Int64Counter("comms.collectives.completed")
	if err != nil {
		return nil, err
	}
	collectivesFailed, err := meter.Int64Counter("comms.collectives.failed")
	if err != nil {
		return nil, err
	}
	requestsPosted, err := meter.Int64Counter("comms.requests.posted")
	if err != nil {
		return nil, err
	}
	requestsCompleted, err := meter.Int64Counter("comms.requests.completed")
	if err != nil {
		return nil, err
	}
	waitTimeouts, err := meter.Int64Counter("comms.wait.timeouts")
	if err != nil {
		return nil, err
	}
	streamAborts, err := meter.Int64Counter("comms.stream.aborts")
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		meter:                meter,
		collectivesCompleted: collectivesCompleted,
		collectivesFailed:    collectivesFailed,
		requestsPosted:       requestsPosted,
		requestsCompleted:    requestsCompleted,
		waitTimeouts:         waitTimeouts,
		streamAborts:         streamAborts,
	}, nil
}

// CollectiveCompleted records a collective call accepted by the transport.
func (o *OTelMetrics) CollectiveCompleted(attrs map[string]string) {
	o.collectivesCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelOperation)...))
}

// CollectiveFailed records a collective call rejected by the transport.
func (o *OTelMetrics) CollectiveFailed(_ error, attrs map[string]string) {
	o.collectivesFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelOperation)...))
}

// RequestPosted records an issued point-to-point request.
func (o *OTelMetrics) RequestPosted(attrs map[string]string) {
	o.requestsPosted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelKind)...))
}

// RequestCompleted records a point-to-point request observed complete.
func (o *OTelMetrics) RequestCompleted(attrs map[string]string) {
	o.requestsCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelKind)...))
}

// WaitTimedOut records a WaitAll stall-threshold failure.
func (o *OTelMetrics) WaitTimedOut(attrs map[string]string) {
	o.waitTimeouts.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

// StreamAborted records an abort of the collective engine after an
// asynchronous fault.
func (o *OTelMetrics) StreamAborted(attrs map[string]string) {
	o.streamAborts.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs)...))
}

func otelAttrs(attrs map[string]string, extra ...string) []attribute.KeyValue {
	kvs := []attribute.KeyValue{
		attribute.String(labelRank, attrs[labelRank]),
		attribute.String(labelSize, attrs[labelSize]),
	}
	for _, key := range extra {
		if v := attrs[key]; v != "" {
			kvs = append(kvs, attribute.String(key, v))
		}
	}
	return kvs
}
