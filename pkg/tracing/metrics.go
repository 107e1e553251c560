package tracing

import (
	"context"
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	// QueryLatencyMs is the store round trip of one analytics query
	QueryLatencyMs = stats.Float64("insights/query_latency", "Analytics query latency", stats.UnitMilliseconds)
	// CacheLookups counts analytics result cache lookups
	CacheLookups = stats.Int64("insights/cache_lookups", "Analytics result cache lookups", stats.UnitDimensionless)

	KeyStore  = tag.MustNewKey("store")
	KeyStatus = tag.MustNewKey("status")
	KeyResult = tag.MustNewKey("result")
)

// AnalyticsViews aggregate the analytics measures
var AnalyticsViews = []*view.View{
	{
		Name:        "insights/query_latency",
		Description: "Distribution of analytics query latency",
		Measure:     QueryLatencyMs,
		TagKeys:     []tag.Key{KeyStore, KeyStatus},
		Aggregation: view.Distribution(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	},
	{
		Name:        "insights/query_count",
		Description: "Number of analytics queries",
		Measure:     QueryLatencyMs,
		TagKeys:     []tag.Key{KeyStore, KeyStatus},
		Aggregation: view.Count(),
	},
	{
		Name:        "insights/cache_lookups",
		Description: "Analytics cache lookups by result",
		Measure:     CacheLookups,
		TagKeys:     []tag.Key{KeyResult},
		Aggregation: view.Count(),
	},
}

// RecordQuery records the latency and outcome of a store query
func RecordQuery(ctx context.Context, store string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	_ = stats.RecordWithTags(ctx,
		[]tag.Mutator{tag.Upsert(KeyStore, store), tag.Upsert(KeyStatus, status)},
		QueryLatencyMs.M(float64(elapsed)/float64(time.Millisecond)),
	)
}

// RecordCacheLookup records a hit or miss of the result cache
func RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(KeyResult, result)}, CacheLookups.M(1))
}
