package analytics

import (
	"errors"
	"fmt"
	"time"

	"github.com/Notifuse/insights/pkg/filter"
)

// Granularity is the width of a time bucket
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
	GranularityMonth  Granularity = "month"
	GranularityYear   Granularity = "year"
)

// MaxTimezoneOffsetMinutes bounds |TimezoneOffsetMinutes|
const MaxTimezoneOffsetMinutes = 1440

// MaxBuckets bounds the length of a series
const MaxBuckets = 10000

var ErrTooManyBuckets = errors.New("time range produces too many buckets for the granularity")

// clickhouseTruncate wraps a shifted column in the ClickHouse rounding function of each
// granularity. Date results are converted back to DateTime so every bucket has one type.
var clickhouseTruncate = map[Granularity]string{
	GranularityMinute: "toStartOfMinute(%s)",
	GranularityHour:   "toStartOfHour(%s)",
	GranularityDay:    "toStartOfDay(%s)",
	GranularityWeek:   "toDateTime(toMonday(%s))",
	GranularityMonth:  "toDateTime(toStartOfMonth(%s))",
	GranularityYear:   "toDateTime(toStartOfYear(%s))",
}

// approxWidth is a lower bound of the bucket width, used to cap series length
var approxWidth = map[Granularity]time.Duration{
	GranularityMinute: time.Minute,
	GranularityHour:   time.Hour,
	GranularityDay:    24 * time.Hour,
	GranularityWeek:   7 * 24 * time.Hour,
	GranularityMonth:  28 * 24 * time.Hour,
	GranularityYear:   365 * 24 * time.Hour,
}

// IsValid reports whether g is a supported granularity
func (g Granularity) IsValid() bool {
	_, ok := clickhouseTruncate[g]
	return ok
}

// Truncate rounds a wall clock time (UTC-naive) down to the start of its bucket.
// Weeks start on Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularityMinute:
		return t.Truncate(time.Minute)
	case GranularityHour:
		return t.Truncate(time.Hour)
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		sinceMonday := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -sinceMonday)
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case GranularityYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Next returns the start of the bucket following the one starting at t
func (g Granularity) Next(t time.Time) time.Time {
	switch g {
	case GranularityMinute:
		return t.Add(time.Minute)
	case GranularityHour:
		return t.Add(time.Hour)
	case GranularityDay:
		return t.AddDate(0, 0, 1)
	case GranularityWeek:
		return t.AddDate(0, 0, 7)
	case GranularityMonth:
		return t.AddDate(0, 1, 0)
	case GranularityYear:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// TimeBucketSpec describes a bucketed series. TimezoneOffsetMinutes is the number of
// minutes to add to the caller's wall clock to get UTC (the JavaScript getTimezoneOffset
// convention): the wall clock is UTC - offset, so 120 is UTC-02:00 and -330 is UTC+05:30.
type TimeBucketSpec struct {
	Start                 time.Time   `json:"start"`
	End                   time.Time   `json:"end"`
	Granularity           Granularity `json:"granularity"`
	TimezoneOffsetMinutes int         `json:"timezone_offset_minutes"`
}

// Validate checks the range, the granularity and the offset. Each failure is a *FieldError
// naming the offending field.
func (s TimeBucketSpec) Validate() error {
	if s.Start.IsZero() || s.End.IsZero() || !s.Start.Before(s.End) {
		return &FieldError{Field: "start", Err: ErrInvalidTimeRange}
	}
	if !s.Granularity.IsValid() {
		return &FieldError{Field: "granularity", Err: fmt.Errorf("%w: %q", ErrUnsupportedGranularity, s.Granularity)}
	}
	if s.TimezoneOffsetMinutes > MaxTimezoneOffsetMinutes || s.TimezoneOffsetMinutes < -MaxTimezoneOffsetMinutes {
		return &FieldError{Field: "timezone_offset_minutes", Err: ErrInvalidTimezoneOffset}
	}
	if s.End.Sub(s.Start)/approxWidth[s.Granularity] > MaxBuckets {
		return &FieldError{Field: "granularity", Err: ErrTooManyBuckets}
	}
	return nil
}

func (s TimeBucketSpec) offset() time.Duration {
	return time.Duration(s.TimezoneOffsetMinutes) * time.Minute
}

// ToLocal converts an instant to the caller's wall clock, as a UTC-naive time
func (s TimeBucketSpec) ToLocal(t time.Time) time.Time {
	return t.UTC().Add(-s.offset())
}

// FromLocal converts a UTC-naive wall clock time back to the instant it denotes
func (s TimeBucketSpec) FromLocal(t time.Time) time.Time {
	return naiveUTC(t).Add(s.offset())
}

// FillBounds returns the wall clock start of the first bucket and the exclusive end of the
// last bucket that intersect [Start, End).
func (s TimeBucketSpec) FillBounds() (time.Time, time.Time) {
	from := s.Granularity.Truncate(s.ToLocal(s.Start))
	to := s.Granularity.Next(s.Granularity.Truncate(s.ToLocal(s.End.Add(-time.Nanosecond))))
	return from, to
}

// Buckets returns the start instant of every bucket of the series, in order
func (s TimeBucketSpec) Buckets() []time.Time {
	from, to := s.FillBounds()

	var buckets []time.Time
	for b := from; b.Before(to); b = s.Granularity.Next(b) {
		buckets = append(buckets, s.FromLocal(b))
	}
	return buckets
}

// TruncateExpr renders the bucket expression of column for a dialect. The column is shifted
// into the caller's wall clock before truncation: minus the offset when it is positive or
// zero, plus its absolute value when negative.
func (s TimeBucketSpec) TruncateExpr(column string, kind filter.Kind) (string, error) {
	if !s.Granularity.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedGranularity, s.Granularity)
	}

	sign, minutes := "-", s.TimezoneOffsetMinutes
	if minutes < 0 {
		sign, minutes = "+", -minutes
	}

	switch kind {
	case filter.KindPostgres:
		shifted := fmt.Sprintf("%s %s INTERVAL '%d minute'", column, sign, minutes)
		return fmt.Sprintf("date_trunc('%s', %s)", s.Granularity, shifted), nil
	case filter.KindClickHouse:
		shifted := fmt.Sprintf("%s %s INTERVAL %d minute", column, sign, minutes)
		return fmt.Sprintf(clickhouseTruncate[s.Granularity], shifted), nil
	default:
		return "", fmt.Errorf("%w: bucketing for dialect %s", filter.ErrNotImplemented, kind)
	}
}

func naiveUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
