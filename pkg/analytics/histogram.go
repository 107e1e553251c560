package analytics

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"

	"github.com/Notifuse/insights/pkg/filter"
)

// HistogramBins is the number of bins a distribution is split into
const HistogramBins = 10

// HistogramRequest describes a distribution of a per-group aggregate, e.g. the average
// latency per user. Keys and Aggregate are trusted expressions defined in code.
type HistogramRequest struct {
	Table     filter.Table
	Keys      []string
	Aggregate string
	Filter    filter.CompiledFilter

	// PercentileSize is the upper percentile groups are kept below, in [0.5, 1).
	// With UseInterquartile the band [1-PercentileSize, PercentileSize] is kept instead.
	PercentileSize   float64
	UseInterquartile bool
}

// BuildHistogram builds the distribution query:
//
//	aggregated_data: one value per key group
//	percentile_bounds: the lower and upper bound of the kept band
//	filtered_data: values within the band
//	final select: HistogramBins bins of filtered_data
//
// The filter must come from filter.CompileWhere.
func BuildHistogram(req HistogramRequest, d *filter.Dialect) (CompiledQuery, error) {
	if !req.Filter.TenantScoped() {
		return CompiledQuery{}, ErrUnscopedFilter
	}
	if req.PercentileSize < 0.5 || req.PercentileSize >= 1 {
		return CompiledQuery{}, &FieldError{Field: "percentile_size", Err: ErrInvalidPercentile}
	}
	if req.Aggregate == "" {
		return CompiledQuery{}, &FieldError{Field: "aggregate", Err: ErrMissingAggregate}
	}
	if len(req.Keys) == 0 {
		return CompiledQuery{}, &FieldError{Field: "keys", Err: fmt.Errorf("at least one key is required")}
	}

	source, err := d.Source(req.Table)
	if err != nil {
		return CompiledQuery{}, err
	}

	aggregated, args, err := squirrel.Select(req.Keys...).
		PlaceholderFormat(squirrel.Question).
		Column(fmt.Sprintf("%s AS value", req.Aggregate)).
		From(source).
		Where("("+req.Filter.SQL+")", req.Filter.Args...).
		GroupBy(req.Keys...).
		ToSql()
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("failed to build aggregated_data: %w", err)
	}

	switch d.Kind() {
	case filter.KindPostgres:
		return postgresHistogram(aggregated, args, req)
	case filter.KindClickHouse:
		return clickhouseHistogram(aggregated, args, req)
	default:
		return CompiledQuery{}, fmt.Errorf("%w: histogram for dialect %s", filter.ErrNotImplemented, d.Kind())
	}
}

// percentiles are rendered as literals: both stores require constant percentile arguments
func formatPercentile(p float64) string {
	return strconv.FormatFloat(math.Round(p*1e6)/1e6, 'f', -1, 64)
}

func postgresHistogram(aggregated string, args []interface{}, req HistogramRequest) (CompiledQuery, error) {
	upper := fmt.Sprintf("percentile_cont(%s) WITHIN GROUP (ORDER BY value)", formatPercentile(req.PercentileSize))
	lower := "min(value)"
	if req.UseInterquartile {
		lower = fmt.Sprintf("percentile_cont(%s) WITHIN GROUP (ORDER BY value)", formatPercentile(1-req.PercentileSize))
	}

	ctes := []string{
		"aggregated_data AS (" + aggregated + ")",
		fmt.Sprintf("percentile_bounds AS (SELECT %s AS lower_bound, %s AS upper_bound FROM aggregated_data)", lower, upper),
		"filtered_data AS (SELECT value FROM aggregated_data, percentile_bounds " +
			"WHERE value >= lower_bound AND value <= upper_bound)",
		"value_bounds AS (SELECT min(value) AS min_value, max(value) AS max_value FROM filtered_data)",
		fmt.Sprintf("binned AS (SELECT CASE WHEN max_value = min_value THEN 1 "+
			"ELSE least(width_bucket(value, min_value, max_value, %d), %d) END AS bin, min_value, max_value "+
			"FROM filtered_data, value_bounds)", HistogramBins, HistogramBins),
	}

	width := fmt.Sprintf("(max_value - min_value) / %d.0", HistogramBins)
	sql, boundArgs, err := squirrel.Select().
		PlaceholderFormat(squirrel.Question).
		Prefix("WITH "+strings.Join(ctes, ", "), args...).
		Column("bin").
		Column(fmt.Sprintf("min_value + (bin - 1) * %s AS range_start", width)).
		Column(fmt.Sprintf("CASE WHEN max_value = min_value THEN max_value ELSE min_value + bin * %s END AS range_end", width)).
		Column("count(*) AS value").
		From("binned").
		GroupBy("bin", "min_value", "max_value").
		OrderBy("bin ASC").
		ToSql()
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("failed to build histogram query: %w", err)
	}

	return CompiledQuery{SQL: sql, Args: boundArgs}, nil
}

func clickhouseHistogram(aggregated string, args []interface{}, req HistogramRequest) (CompiledQuery, error) {
	upper := fmt.Sprintf("quantile(%s)(value)", formatPercentile(req.PercentileSize))
	lower := "min(value)"
	if req.UseInterquartile {
		lower = fmt.Sprintf("quantile(%s)(value)", formatPercentile(1-req.PercentileSize))
	}

	ctes := []string{
		"aggregated_data AS (" + aggregated + ")",
		fmt.Sprintf("percentile_bounds AS (SELECT %s AS lower_bound, %s AS upper_bound FROM aggregated_data)", lower, upper),
		"filtered_data AS (SELECT value FROM aggregated_data CROSS JOIN percentile_bounds " +
			"WHERE value >= lower_bound AND value <= upper_bound)",
	}

	sql, boundArgs, err := squirrel.Select().
		PlaceholderFormat(squirrel.Question).
		Prefix("WITH "+strings.Join(ctes, ", "), args...).
		Column("tupleElement(bin, 1) AS range_start").
		Column("tupleElement(bin, 2) AS range_end").
		Column("tupleElement(bin, 3) AS value").
		From(fmt.Sprintf("(SELECT arrayJoin(histogram(%d)(value)) AS bin FROM filtered_data)", HistogramBins)).
		OrderBy("range_start ASC").
		ToSql()
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("failed to build histogram query: %w", err)
	}

	return CompiledQuery{SQL: sql, Args: boundArgs}, nil
}

// ParseHistogram converts executor rows into bins. No rows is an empty distribution.
func ParseHistogram(rows []map[string]interface{}) ([]HistogramBucket, error) {
	buckets := make([]HistogramBucket, 0, len(rows))

	for i, row := range rows {
		start, err := toFloat(row["range_start"])
		if err != nil {
			return nil, fmt.Errorf("row %d range_start: %w", i, err)
		}
		end, err := toFloat(row["range_end"])
		if err != nil {
			return nil, fmt.Errorf("row %d range_end: %w", i, err)
		}
		value, err := toFloat(row["value"])
		if err != nil {
			return nil, fmt.Errorf("row %d value: %w", i, err)
		}

		buckets = append(buckets, HistogramBucket{RangeStart: start, RangeEnd: end, Value: value})
	}

	return buckets, nil
}
