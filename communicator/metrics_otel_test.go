package communicator

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetricsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewOTelMetrics(OTelMetricsOptions{MeterProvider: provider})
	if err != nil {
		t.Fatalf("NewOTelMetrics: %v", err)
	}

	collAttrs := map[string]string{
		labelRank:      "2",
		labelSize:      "8",
		labelOperation: "broadcast",
	}
	metrics.CollectiveCompleted(collAttrs)
	metrics.CollectiveFailed(errors.New("boom"), collAttrs)

	reqAttrs := map[string]string{
		labelRank: "2",
		labelSize: "8",
		labelKind: "receive",
	}
	metrics.RequestPosted(reqAttrs)
	metrics.RequestCompleted(reqAttrs)

	base := map[string]string{labelRank: "2", labelSize: "8"}
	metrics.WaitTimedOut(base)
	metrics.StreamAborted(base)

	ctx := context.Background()
	if err := provider.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	cases := map[string]float64{
		"comms.collectives.completed": 1,
		"comms.collectives.failed":    1,
		"comms.requests.posted":       1,
		"comms.requests.completed":    1,
		"comms.wait.timeouts":         1,
		"comms.stream.aborts":         1,
	}

	for name, want := range cases {
		if got := otelCounterValue(rm, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}

	if err := provider.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func otelCounterValue(rm metricdata.ResourceMetrics, name string) float64 {
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			if metric.Name != name {
				continue
			}
			switch data := metric.Data.(type) {
			case metricdata.Sum[int64]:
				var sum float64
				for _, dp := range data.DataPoints {
					sum += float64(dp.Value)
				}
				return sum
			}
		}
	}
	return 0
}
