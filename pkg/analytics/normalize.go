package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// BucketColumn is the result column holding the bucket of an over-time query
const BucketColumn = "bucket"

// NormalizeBuckets converts executor rows into bucket rows. The bucket returned by the
// store is a wall clock time in the caller's zone; it is reinterpreted as UTC-naive and
// the offset is added back, which yields the instant the bucket starts at.
func NormalizeBuckets(rows []map[string]interface{}, spec TimeBucketSpec, groupBy, aggregates []Selection) ([]BucketRow, error) {
	out := make([]BucketRow, 0, len(rows))

	for i, row := range rows {
		raw, err := toTime(row[BucketColumn])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}

		bucket := BucketRow{
			Bucket: spec.FromLocal(raw),
			Values: make(map[string]float64, len(aggregates)),
		}

		if len(groupBy) > 0 {
			bucket.Groups = make(map[string]interface{}, len(groupBy))
			for _, g := range groupBy {
				bucket.Groups[g.Alias] = groupValue(row[g.Alias])
			}
		}

		for _, a := range aggregates {
			v, err := toFloat(row[a.Alias])
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", i, a.Alias, err)
			}
			bucket.Values[a.Alias] = v
		}

		out = append(out, bucket)
	}

	return out, nil
}

// FillGaps returns a contiguous series: every bucket of spec, for every group present in
// rows, with zero values where rows has no entry. Groups keep the order they first appear
// in; buckets are ascending within a group.
func FillGaps(rows []BucketRow, spec TimeBucketSpec, groupBy, aggregates []Selection) []BucketRow {
	buckets := spec.Buckets()

	type series struct {
		groups map[string]interface{}
		rows   map[time.Time]BucketRow
	}

	var order []string
	bySeries := make(map[string]*series)

	for _, row := range rows {
		key := groupKey(row.Groups, groupBy)
		s, ok := bySeries[key]
		if !ok {
			s = &series{groups: row.Groups, rows: make(map[time.Time]BucketRow)}
			bySeries[key] = s
			order = append(order, key)
		}
		s.rows[row.Bucket.UTC()] = row
	}

	// no data and no grouping: still a full, zero valued series
	if len(order) == 0 && len(groupBy) == 0 {
		order = append(order, "")
		bySeries[""] = &series{rows: map[time.Time]BucketRow{}}
	}

	out := make([]BucketRow, 0, len(order)*len(buckets))
	for _, key := range order {
		s := bySeries[key]
		seen := make(map[time.Time]bool, len(buckets))

		for _, b := range buckets {
			b = b.UTC()
			seen[b] = true
			if row, ok := s.rows[b]; ok {
				out = append(out, row)
				continue
			}
			out = append(out, BucketRow{
				Bucket: b,
				Groups: s.groups,
				Values: zeroValues(aggregates),
			})
		}

		// rows outside the requested range are kept, after the series
		var extra []BucketRow
		for t, row := range s.rows {
			if !seen[t] {
				extra = append(extra, row)
			}
		}
		sort.Slice(extra, func(i, j int) bool { return extra[i].Bucket.Before(extra[j].Bucket) })
		out = append(out, extra...)
	}

	return out
}

func zeroValues(aggregates []Selection) map[string]float64 {
	values := make(map[string]float64, len(aggregates))
	for _, a := range aggregates {
		values[a.Alias] = 0
	}
	return values
}

func groupKey(groups map[string]interface{}, groupBy []Selection) string {
	if len(groupBy) == 0 {
		return ""
	}
	parts := make([]string, 0, len(groupBy))
	for _, g := range groupBy {
		parts = append(parts, fmt.Sprintf("%v", groups[g.Alias]))
	}
	return strings.Join(parts, "\x1f")
}
