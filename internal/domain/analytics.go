package domain

//go:generate mockgen -destination mocks/mock_analytics.go -package mocks github.com/Notifuse/insights/internal/domain QueryExecutor,AnalyticsService

import (
	"context"
	"fmt"
	"time"

	"github.com/Notifuse/insights/pkg/analytics"
	"github.com/Notifuse/insights/pkg/filter"
)

// QueryExecutor runs a compiled query against one store and returns its rows as column maps.
// Driver values are passed through; []byte is converted to string.
type QueryExecutor interface {
	Query(ctx context.Context, query string, args []interface{}) ([]map[string]interface{}, error)
}

// MetricDefinition describes an aggregate that can be charted over time or distributed
// per key. Expressions hold the SQL aggregate for each store.
type MetricDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Unit        string                 `json:"unit,omitempty"`
	Expressions map[filter.Kind]string `json:"-"`
}

// Expression returns the aggregate of the metric for a store
func (m MetricDefinition) Expression(kind filter.Kind) (string, error) {
	expr, ok := m.Expressions[kind]
	if !ok {
		return "", fmt.Errorf("%w: metric %s has no %s expression", filter.ErrNotImplemented, m.Name, kind)
	}
	return expr, nil
}

// PredefinedMetrics is the catalogue of metrics exposed by the analytics endpoints
var PredefinedMetrics = map[string]MetricDefinition{
	"requests": {
		Name:        "requests",
		Description: "Number of requests",
		Expressions: map[filter.Kind]string{
			filter.KindPostgres:   "count(request.id)",
			filter.KindClickHouse: "count(request_response_rmt.request_id)",
		},
	},
	"errors": {
		Name:        "errors",
		Description: "Number of responses with a status of 400 or above",
		Expressions: map[filter.Kind]string{
			filter.KindPostgres:   "count(response.id) FILTER (WHERE response.status >= 400)",
			filter.KindClickHouse: "countIf(request_response_rmt.status >= 400)",
		},
	},
	"cost": {
		Name:        "cost",
		Description: "Total cost",
		Unit:        "usd",
		Expressions: map[filter.Kind]string{
			filter.KindPostgres:   "coalesce(sum(response.cost), 0)",
			filter.KindClickHouse: "sum(request_response_rmt.cost)",
		},
	},
	"latency": {
		Name:        "latency",
		Description: "Average response latency",
		Unit:        "ms",
		Expressions: map[filter.Kind]string{
			filter.KindPostgres:   "coalesce(avg(response.delay_ms), 0)",
			filter.KindClickHouse: "avg(request_response_rmt.latency)",
		},
	},
	"prompt_tokens": {
		Name:        "prompt_tokens",
		Description: "Total prompt tokens",
		Expressions: map[filter.Kind]string{
			filter.KindPostgres:   "coalesce(sum(response.prompt_tokens), 0)",
			filter.KindClickHouse: "sum(request_response_rmt.prompt_tokens)",
		},
	},
	"completion_tokens": {
		Name:        "completion_tokens",
		Description: "Total completion tokens",
		Expressions: map[filter.Kind]string{
			filter.KindPostgres:   "coalesce(sum(response.completion_tokens), 0)",
			filter.KindClickHouse: "sum(request_response_rmt.completion_tokens)",
		},
	},
	"users": {
		Name:        "users",
		Description: "Distinct users",
		Expressions: map[filter.Kind]string{
			filter.KindPostgres:   "count(DISTINCT request.user_id)",
			filter.KindClickHouse: "uniqExact(request_response_rmt.user_id)",
		},
	},
}

// RequestsOverTimeMetrics are the series returned by RequestsOverTime
var RequestsOverTimeMetrics = []string{"requests", "cost", "latency"}

// GroupableDimensions are the request columns an over-time query may be split by
var GroupableDimensions = map[string]bool{
	"model":        true,
	"provider":     true,
	"user_id":      true,
	"country_code": true,
	"path":         true,
	"prompt_id":    true,
}

// DistributionKeys are the request columns a distribution aggregates per
var DistributionKeys = map[string]bool{
	"user_id":    true,
	"session_id": true,
	"model":      true,
}

// MaxGroupBy bounds the number of dimensions of one over-time query
const MaxGroupBy = 3

// OverTimeParams describes a time-bucketed query
type OverTimeParams struct {
	Start                 time.Time   `json:"start"`
	End                   time.Time   `json:"end"`
	Granularity           string      `json:"granularity"`
	TimezoneOffsetMinutes int         `json:"timezone_offset_minutes"`
	Metrics               []string    `json:"metrics"`
	GroupBy               []string    `json:"group_by,omitempty"`
	Filter                filter.Node `json:"-"`
	Having                filter.Node `json:"-"`
}

// Spec returns the bucket spec of the params
func (p OverTimeParams) Spec() analytics.TimeBucketSpec {
	return analytics.TimeBucketSpec{
		Start:                 p.Start,
		End:                   p.End,
		Granularity:           analytics.Granularity(p.Granularity),
		TimezoneOffsetMinutes: p.TimezoneOffsetMinutes,
	}
}

// Validate checks the params that do not depend on a store
func (p OverTimeParams) Validate() error {
	if err := p.Spec().Validate(); err != nil {
		return err
	}
	if len(p.Metrics) == 0 {
		return NewValidationError("at least one metric is required")
	}
	seen := make(map[string]bool, len(p.Metrics))
	for _, name := range p.Metrics {
		if _, ok := PredefinedMetrics[name]; !ok {
			return NewValidationError(fmt.Sprintf("unknown metric: %s", name))
		}
		if seen[name] {
			return NewValidationError(fmt.Sprintf("duplicate metric: %s", name))
		}
		seen[name] = true
	}
	if len(p.GroupBy) > MaxGroupBy {
		return NewValidationError(fmt.Sprintf("at most %d group_by dimensions are allowed", MaxGroupBy))
	}
	for _, dim := range p.GroupBy {
		if !GroupableDimensions[dim] {
			return NewValidationError(fmt.Sprintf("unsupported group_by dimension: %s", dim))
		}
		if seen[dim] {
			return NewValidationError(fmt.Sprintf("group_by dimension %s collides with a metric or dimension", dim))
		}
		seen[dim] = true
	}
	return nil
}

// OverTimeResult is a gap-free series of buckets
type OverTimeResult struct {
	Granularity string                `json:"granularity"`
	Metrics     []string              `json:"metrics"`
	GroupBy     []string              `json:"group_by,omitempty"`
	Buckets     []analytics.BucketRow `json:"buckets"`
}

// DistributionParams describes a histogram of a per-key aggregate
type DistributionParams struct {
	Start            time.Time   `json:"start"`
	End              time.Time   `json:"end"`
	Metric           string      `json:"metric"`
	Key              string      `json:"key"`
	PercentileSize   float64     `json:"percentile_size"`
	UseInterquartile bool        `json:"use_interquartile"`
	Filter           filter.Node `json:"-"`
}

// DefaultPercentileSize trims the top 5% of keys when the caller sets no size
const DefaultPercentileSize = 0.95

// WithDefaults fills the optional params
func (p DistributionParams) WithDefaults() DistributionParams {
	if p.Metric == "" {
		p.Metric = "latency"
	}
	if p.Key == "" {
		p.Key = "user_id"
	}
	if p.PercentileSize == 0 {
		p.PercentileSize = DefaultPercentileSize
	}
	return p
}

// Validate checks the params that do not depend on a store
func (p DistributionParams) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || !p.Start.Before(p.End) {
		return &analytics.FieldError{Field: "start", Err: analytics.ErrInvalidTimeRange}
	}
	if _, ok := PredefinedMetrics[p.Metric]; !ok {
		return NewValidationError(fmt.Sprintf("unknown metric: %s", p.Metric))
	}
	if !DistributionKeys[p.Key] {
		return NewValidationError(fmt.Sprintf("unsupported distribution key: %s", p.Key))
	}
	return nil
}

// DistributionResult is a histogram of a metric aggregated per key
type DistributionResult struct {
	Metric  string                      `json:"metric"`
	Key     string                      `json:"key"`
	Buckets []analytics.HistogramBucket `json:"buckets"`
}

// AnalyticsService answers tenant-scoped analytical queries
type AnalyticsService interface {
	// RequestsOverTime returns request count, cost and latency per bucket
	RequestsOverTime(ctx context.Context, tenantID string, params OverTimeParams) (*OverTimeResult, error)

	// MetricOverTime returns the requested metrics per bucket
	MetricOverTime(ctx context.Context, tenantID string, params OverTimeParams) (*OverTimeResult, error)

	// LatencyDistribution returns a histogram of a metric aggregated per key. The metric
	// defaults to latency.
	LatencyDistribution(ctx context.Context, tenantID string, params DistributionParams) (*DistributionResult, error)

	// GetMetrics returns the metric catalogue
	GetMetrics(ctx context.Context) map[string]MetricDefinition
}
