package analytics

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/asaskevich/govalidator"

	"github.com/Notifuse/insights/pkg/filter"
)

// aliasPattern restricts result column names to plain unquoted identifiers
const aliasPattern = `^[A-Za-z_][A-Za-z0-9_]*$`

// OverTimeRequest describes a bucketed aggregation. Aggregates and GroupBy are trusted
// expressions defined in code; Filter and Having come from the caller.
type OverTimeRequest struct {
	Spec     TimeBucketSpec
	TenantID string
	Filter   filter.Node

	// TimeTable/TimeColumn name the logical timestamp column the series is bucketed on
	TimeTable  filter.Table
	TimeColumn string

	Aggregates []Selection
	GroupBy    []Selection

	// Having is compiled against the HAVING resolvers, after the WHERE arguments
	Having filter.Node
}

// BuildOverTime builds
//
//	SELECT <bucket> AS bucket, <group>, <aggregates> FROM <table>
//	WHERE (<tenant AND time range AND filter>) GROUP BY <group>, <bucket>
//	[HAVING (<having>)] ORDER BY <group>, <bucket> ASC [WITH FILL ...]
//
// The fill clause is only emitted for ClickHouse; its bounds are bound after every filter
// argument. Groups lead the sort so every series is contiguous, which needs a ClickHouse
// server that fills per sorting prefix (use_with_fill_by_sorting_prefix, the default
// since 23.x).
func BuildOverTime(req OverTimeRequest, d *filter.Dialect, opts ...filter.CompileOption) (CompiledQuery, error) {
	if err := req.Spec.Validate(); err != nil {
		return CompiledQuery{}, err
	}
	if err := validateSelections(req.Aggregates, req.GroupBy); err != nil {
		return CompiledQuery{}, err
	}

	timeColumn, err := d.ResolveColumn(req.TimeTable, req.TimeColumn)
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("time column: %w", err)
	}
	if timeColumn.Family != filter.FamilyTimestamp {
		return CompiledQuery{}, fmt.Errorf("time column %s.%s is not a timestamp", req.TimeTable, req.TimeColumn)
	}

	source, err := d.Source(req.TimeTable)
	if err != nil {
		return CompiledQuery{}, err
	}

	userFilter := req.Filter
	if userFilter == nil {
		userFilter = filter.All()
	}
	timeRange := filter.And(
		filter.NewLeaf(req.TimeTable, req.TimeColumn, filter.OpGte, req.Spec.Start.UTC()),
		filter.NewLeaf(req.TimeTable, req.TimeColumn, filter.OpLt, req.Spec.End.UTC()),
	)

	where, err := filter.CompileWhere(filter.And(timeRange, userFilter), req.TenantID, d, opts...)
	if err != nil {
		return CompiledQuery{}, err
	}

	bucketExpr, err := req.Spec.TruncateExpr(timeColumn.Expr, d.Kind())
	if err != nil {
		return CompiledQuery{}, err
	}

	groupBy := make([]string, 0, len(req.GroupBy)+1)
	orderBy := make([]string, 0, len(req.GroupBy)+1)
	for _, g := range req.GroupBy {
		groupBy = append(groupBy, g.Expr)
		orderBy = append(orderBy, g.Expr)
	}
	groupBy = append(groupBy, bucketExpr)
	orderBy = append(orderBy, bucketExpr+" ASC")

	query := squirrel.Select().
		PlaceholderFormat(squirrel.Question).
		Column(fmt.Sprintf("%s AS %s", bucketExpr, BucketColumn))
	for _, g := range req.GroupBy {
		query = query.Column(fmt.Sprintf("%s AS %s", g.Expr, g.Alias))
	}
	for _, a := range req.Aggregates {
		query = query.Column(fmt.Sprintf("%s AS %s", a.Expr, a.Alias))
	}

	query = query.
		From(source).
		Where("("+where.SQL+")", where.Args...).
		GroupBy(groupBy...)

	args := where.Args
	if req.Having != nil && !filter.IsAll(req.Having) {
		havingOpts := append([]filter.CompileOption{}, opts...)
		having, err := filter.CompileHaving(req.Having, d, append(havingOpts, filter.WithArgs(where.Args))...)
		if err != nil {
			return CompiledQuery{}, err
		}
		query = query.Having("("+having.SQL+")", having.Args[len(where.Args):]...)
		args = having.Args
	}

	query = query.OrderBy(orderBy...)

	if d.Kind() == filter.KindClickHouse {
		from, to := req.Spec.FillBounds()
		fill := fmt.Sprintf("WITH FILL FROM toDateTime(%s) TO toDateTime(%s) STEP INTERVAL 1 %s",
			d.Placeholder(len(args), from),
			d.Placeholder(len(args)+1, to),
			req.Spec.Granularity,
		)
		query = query.Suffix(fill, from, to)
	}

	sql, boundArgs, err := query.ToSql()
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("failed to build over time query: %w", err)
	}

	return CompiledQuery{SQL: sql, Args: boundArgs}, nil
}

func validateSelections(aggregates, groupBy []Selection) error {
	if len(aggregates) == 0 {
		return &FieldError{Field: "aggregates", Err: ErrMissingAggregate}
	}

	seen := map[string]bool{BucketColumn: true}
	for _, set := range [][]Selection{groupBy, aggregates} {
		for _, s := range set {
			if s.Expr == "" || !govalidator.Matches(s.Alias, aliasPattern) || seen[s.Alias] {
				return &FieldError{Field: "aggregates", Err: fmt.Errorf("%w: %q", ErrInvalidAlias, s.Alias)}
			}
			seen[s.Alias] = true
		}
	}
	return nil
}
