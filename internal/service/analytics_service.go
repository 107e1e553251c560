package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/Notifuse/insights/internal/domain"
	"github.com/Notifuse/insights/pkg/analytics"
	"github.com/Notifuse/insights/pkg/cache"
	"github.com/Notifuse/insights/pkg/filter"
	"github.com/Notifuse/insights/pkg/logger"
	"github.com/Notifuse/insights/pkg/tracing"
)

const analyticsServiceName = "AnalyticsService"

// AnalyticsServiceConfig tunes result caching and store concurrency
type AnalyticsServiceConfig struct {
	// CacheTTL is how long a result is served from cache. Zero disables caching.
	CacheTTL time.Duration
	// MaxConcurrentQueries bounds the queries in flight against the store. Zero means
	// unbounded.
	MaxConcurrentQueries int64
}

// AnalyticsService compiles tenant-scoped analytical queries for one store and runs them
// through its executor
type AnalyticsService struct {
	executor domain.QueryExecutor
	dialect  *filter.Dialect
	cache    cache.Cache
	cacheTTL time.Duration
	inflight singleflight.Group
	slots    *semaphore.Weighted
	logger   logger.Logger
}

// NewAnalyticsService creates a new analytics service. cache may be nil.
func NewAnalyticsService(
	executor domain.QueryExecutor,
	dialect *filter.Dialect,
	cache cache.Cache,
	cfg AnalyticsServiceConfig,
	logger logger.Logger,
) *AnalyticsService {
	s := &AnalyticsService{
		executor: executor,
		dialect:  dialect,
		cache:    cache,
		cacheTTL: cfg.CacheTTL,
		logger:   logger,
	}
	if cfg.MaxConcurrentQueries > 0 {
		s.slots = semaphore.NewWeighted(cfg.MaxConcurrentQueries)
	}
	return s
}

// Ensure AnalyticsService implements the interface
var _ domain.AnalyticsService = (*AnalyticsService)(nil)

// RequestsOverTime returns request count, cost and latency per bucket
func (s *AnalyticsService) RequestsOverTime(ctx context.Context, tenantID string, params domain.OverTimeParams) (*domain.OverTimeResult, error) {
	params.Metrics = append([]string(nil), domain.RequestsOverTimeMetrics...)
	return s.overTime(ctx, "RequestsOverTime", tenantID, params)
}

// MetricOverTime returns the requested metrics per bucket
func (s *AnalyticsService) MetricOverTime(ctx context.Context, tenantID string, params domain.OverTimeParams) (*domain.OverTimeResult, error) {
	return s.overTime(ctx, "MetricOverTime", tenantID, params)
}

func (s *AnalyticsService) overTime(ctx context.Context, method, tenantID string, params domain.OverTimeParams) (result *domain.OverTimeResult, err error) {
	ctx, span := tracing.StartServiceSpan(ctx, analyticsServiceName, method)
	defer func() { tracing.EndSpan(span, err) }()
	tracing.AddAttribute(ctx, "tenant_id", tenantID)
	tracing.AddAttribute(ctx, "granularity", params.Granularity)

	log := s.logger.WithField("tenant_id", tenantID).WithField("method", method)

	if err := params.Validate(); err != nil {
		log.WithField("error", err.Error()).Warn("Invalid over time request")
		return nil, err
	}

	key, err := s.cacheKey(method, tenantID, params, params.Filter, params.Having)
	if err != nil {
		log.WithField("error", err.Error()).Error("Failed to build cache key")
		return nil, err
	}

	v, err := s.memoize(ctx, key, func(ctx context.Context) (interface{}, error) {
		return s.runOverTime(ctx, tenantID, params)
	})
	if err != nil {
		log.WithField("error", err.Error()).Error("Failed to query over time")
		return nil, fmt.Errorf("failed to query %s: %w", method, err)
	}
	return v.(*domain.OverTimeResult), nil
}

func (s *AnalyticsService) runOverTime(ctx context.Context, tenantID string, params domain.OverTimeParams) (*domain.OverTimeResult, error) {
	aggregates := make([]analytics.Selection, 0, len(params.Metrics))
	for _, name := range params.Metrics {
		expr, err := domain.PredefinedMetrics[name].Expression(s.dialect.Kind())
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, analytics.Selection{Expr: expr, Alias: name})
	}

	groupBy := make([]analytics.Selection, 0, len(params.GroupBy))
	for _, dim := range params.GroupBy {
		col, err := s.dialect.ResolveColumn(filter.TableRequest, dim)
		if err != nil {
			return nil, fmt.Errorf("group by %s: %w", dim, err)
		}
		groupBy = append(groupBy, analytics.Selection{Expr: col.Expr, Alias: dim})
	}

	spec := params.Spec()
	query, err := analytics.BuildOverTime(analytics.OverTimeRequest{
		Spec:       spec,
		TenantID:   tenantID,
		Filter:     params.Filter,
		TimeTable:  filter.TableRequest,
		TimeColumn: "created_at",
		Aggregates: aggregates,
		GroupBy:    groupBy,
		Having:     params.Having,
	}, s.dialect, filter.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}

	buckets, err := analytics.NormalizeBuckets(rows, spec, groupBy, aggregates)
	if err != nil {
		return nil, err
	}

	return &domain.OverTimeResult{
		Granularity: params.Granularity,
		Metrics:     params.Metrics,
		GroupBy:     params.GroupBy,
		Buckets:     analytics.FillGaps(buckets, spec, groupBy, aggregates),
	}, nil
}

// LatencyDistribution returns a histogram of a metric aggregated per key
func (s *AnalyticsService) LatencyDistribution(ctx context.Context, tenantID string, params domain.DistributionParams) (result *domain.DistributionResult, err error) {
	ctx, span := tracing.StartServiceSpan(ctx, analyticsServiceName, "LatencyDistribution")
	defer func() { tracing.EndSpan(span, err) }()
	tracing.AddAttribute(ctx, "tenant_id", tenantID)

	log := s.logger.WithField("tenant_id", tenantID).WithField("method", "LatencyDistribution")

	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		log.WithField("error", err.Error()).Warn("Invalid distribution request")
		return nil, err
	}

	key, err := s.cacheKey("LatencyDistribution", tenantID, params, params.Filter, nil)
	if err != nil {
		log.WithField("error", err.Error()).Error("Failed to build cache key")
		return nil, err
	}

	v, err := s.memoize(ctx, key, func(ctx context.Context) (interface{}, error) {
		return s.runDistribution(ctx, tenantID, params)
	})
	if err != nil {
		log.WithField("error", err.Error()).Error("Failed to query distribution")
		return nil, fmt.Errorf("failed to query distribution: %w", err)
	}
	return v.(*domain.DistributionResult), nil
}

func (s *AnalyticsService) runDistribution(ctx context.Context, tenantID string, params domain.DistributionParams) (*domain.DistributionResult, error) {
	expr, err := domain.PredefinedMetrics[params.Metric].Expression(s.dialect.Kind())
	if err != nil {
		return nil, err
	}

	keyColumn, err := s.dialect.ResolveColumn(filter.TableRequest, params.Key)
	if err != nil {
		return nil, fmt.Errorf("distribution key %s: %w", params.Key, err)
	}

	userFilter := params.Filter
	if userFilter == nil {
		userFilter = filter.All()
	}
	where := filter.And(
		filter.And(
			filter.NewLeaf(filter.TableRequest, "created_at", filter.OpGte, params.Start.UTC()),
			filter.NewLeaf(filter.TableRequest, "created_at", filter.OpLt, params.End.UTC()),
		),
		userFilter,
	)

	compiled, err := filter.CompileWhere(where, tenantID, s.dialect, filter.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}

	query, err := analytics.BuildHistogram(analytics.HistogramRequest{
		Table:            filter.TableRequest,
		Keys:             []string{keyColumn.Expr},
		Aggregate:        expr,
		Filter:           compiled,
		PercentileSize:   params.PercentileSize,
		UseInterquartile: params.UseInterquartile,
	}, s.dialect)
	if err != nil {
		return nil, err
	}

	rows, err := s.query(ctx, query)
	if err != nil {
		return nil, err
	}

	buckets, err := analytics.ParseHistogram(rows)
	if err != nil {
		return nil, err
	}

	return &domain.DistributionResult{
		Metric:  params.Metric,
		Key:     params.Key,
		Buckets: buckets,
	}, nil
}

// GetMetrics returns the metric catalogue
func (s *AnalyticsService) GetMetrics(ctx context.Context) map[string]domain.MetricDefinition {
	metrics := make(map[string]domain.MetricDefinition, len(domain.PredefinedMetrics))
	for name, metric := range domain.PredefinedMetrics {
		if _, err := metric.Expression(s.dialect.Kind()); err != nil {
			continue
		}
		metrics[name] = metric
	}
	return metrics
}

// query runs a compiled statement once a store slot is free
func (s *AnalyticsService) query(ctx context.Context, query analytics.CompiledQuery) ([]map[string]interface{}, error) {
	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.slots.Release(1)
	}

	start := time.Now()
	rows, err := s.executor.Query(ctx, query.SQL, query.Args)
	tracing.RecordQuery(ctx, string(s.dialect.Kind()), time.Since(start), err)
	return rows, err
}

// memoize serves key from cache, or computes it once for all concurrent callers and caches
// the result
func (s *AnalyticsService) memoize(ctx context.Context, key string, compute func(context.Context) (interface{}, error)) (interface{}, error) {
	if s.cache != nil && s.cacheTTL > 0 {
		if v, found := s.cache.Get(key); found {
			tracing.RecordCacheLookup(ctx, true)
			return v, nil
		}
		tracing.RecordCacheLookup(ctx, false)
	}

	v, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if s.cache != nil && s.cacheTTL > 0 {
			s.cache.Set(key, v, s.cacheTTL)
		}
		return v, nil
	})
	return v, err
}

// cacheKey identifies a query by method, tenant, dialect, params and the canonical JSON of
// its filters
func (s *AnalyticsService) cacheKey(method, tenantID string, params interface{}, where, having filter.Node) (string, error) {
	whereJSON, err := encodeFilter(where)
	if err != nil {
		return "", err
	}
	havingJSON, err := encodeFilter(having)
	if err != nil {
		return "", err
	}
	return cache.KeyFor(method, tenantID, s.dialect.Kind(), params, whereJSON, havingJSON)
}

func encodeFilter(n filter.Node) (string, error) {
	if n == nil {
		n = filter.All()
	}
	b, err := filter.Encode(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
