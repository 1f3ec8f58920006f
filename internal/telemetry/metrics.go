package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	requestCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	populateCounter metric.Int64Counter
	upstreamCounter metric.Int64Counter
	latencyHist     metric.Float64Histogram
)

// initInstruments creates the counters once after the meter provider is set.
// With the noop provider every call below is free.
func initInstruments() {
	meter := otel.Meter(instrumentationScope)
	requestCounter, _ = meter.Int64Counter("rpc.requests",
		metric.WithDescription("RPC requests received, by operation"))
	errorCounter, _ = meter.Int64Counter("rpc.errors",
		metric.WithDescription("RPC requests that returned an error, by operation"))
	cacheHits, _ = meter.Int64Counter("cache.hits",
		metric.WithDescription("Record list reads served from the cache"))
	cacheMisses, _ = meter.Int64Counter("cache.misses",
		metric.WithDescription("Record list reads that required a populate"))
	populateCounter, _ = meter.Int64Counter("cache.populates",
		metric.WithDescription("Full-table populate operations"))
	upstreamCounter, _ = meter.Int64Counter("upstream.fetches",
		metric.WithDescription("Upstream API calls"))
	latencyHist, _ = meter.Float64Histogram("rpc.latency",
		metric.WithDescription("Request latency in milliseconds"),
		metric.WithUnit("ms"))
}

func opAttr(operation string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("operation", operation))
}

// RecordRequest counts one request and its latency.
func RecordRequest(ctx context.Context, operation string, latency time.Duration, failed bool) {
	if requestCounter == nil {
		return
	}
	requestCounter.Add(ctx, 1, opAttr(operation))
	latencyHist.Record(ctx, float64(latency)/float64(time.Millisecond), opAttr(operation))
	if failed {
		errorCounter.Add(ctx, 1, opAttr(operation))
	}
}

// RecordCacheHit counts a list read served from cache.
func RecordCacheHit(ctx context.Context, tableID string) {
	if cacheHits == nil {
		return
	}
	cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("table", tableID)))
}

// RecordCacheMiss counts a list read that fell through to upstream.
func RecordCacheMiss(ctx context.Context, tableID string) {
	if cacheMisses == nil {
		return
	}
	cacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("table", tableID)))
}

// RecordPopulate counts a full-table populate.
func RecordPopulate(ctx context.Context, tableID string) {
	if populateCounter == nil {
		return
	}
	populateCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("table", tableID)))
}

// RecordUpstreamFetch counts one upstream API call.
func RecordUpstreamFetch(ctx context.Context, what string) {
	if upstreamCounter == nil {
		return
	}
	upstreamCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("what", what)))
}
