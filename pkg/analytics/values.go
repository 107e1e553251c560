package analytics

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are the text forms drivers return timestamps in
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// toTime converts a driver value to a time. Strings are read as UTC unless they carry
// an offset.
func toTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("%w: nil", ErrInvalidBucket)
		}
		return *t, nil
	case []byte:
		return parseTime(string(t))
	case string:
		return parseTime(t)
	default:
		return time.Time{}, fmt.Errorf("%w: %T", ErrInvalidBucket, v)
	}
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidBucket, s)
}

// toFloat converts a numeric driver value. NULL aggregates (sum over no rows) read as 0.
func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case *float64:
		if n == nil {
			return 0, nil
		}
		return *n, nil
	case []byte:
		// lib/pq returns numeric columns as text
		return strconv.ParseFloat(string(n), 64)
	case string:
		return strconv.ParseFloat(n, 64)
	case fmt.Stringer:
		// decimal types
		return strconv.ParseFloat(n.String(), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to a number", v)
	}
}

// groupValue converts driver text to string so group keys compare equal across drivers
func groupValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
